// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package decrypt

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKID = "9eb4050de44b4802932e27d75083e266"
const testKey = "166634c675823c235a4a9446fad52e4d"

// stubBinary writes an executable shell script standing in for mp4decrypt.
// The script appends its arguments to argsFile, then runs body.
func stubBinary(t *testing.T, argsFile, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stub requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "mp4decrypt")
	script := "#!/bin/sh\necho \"$@\" >> " + argsFile + "\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestDecryptSuccess(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	// Copy input to output, the happy path of the real binary.
	bin := stubBinary(t, argsFile, `
in=""
out=""
for a in "$@"; do in="$out"; out="$a"; done
cp "$in" "$out"`)

	d := New(bin)
	d.TempDir = dir
	plain, err := d.Decrypt(context.Background(), []byte("cipher-bytes"),
		map[string]string{testKID: testKey})
	require.NoError(t, err)
	assert.Equal(t, []byte("cipher-bytes"), plain)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "--key "+testKID+":"+testKey)
}

func TestDecryptHyphenatedKIDNormalized(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	bin := stubBinary(t, argsFile, `
in=""
out=""
for a in "$@"; do in="$out"; out="$a"; done
cp "$in" "$out"`)

	d := New(bin)
	d.TempDir = dir
	_, err := d.Decrypt(context.Background(), []byte("x"),
		map[string]string{"9EB4050D-E44B-4802-932E-27D75083E266": testKey})
	require.NoError(t, err)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(args), "--key "+testKID+":"+testKey)
}

func TestDecryptEmptyKeyMapPassThrough(t *testing.T) {
	d := New("/nonexistent/mp4decrypt")
	plain, err := d.Decrypt(context.Background(), []byte("already-clear"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("already-clear"), plain)
}

func TestDecryptExitCode(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	bin := stubBinary(t, argsFile, `echo "invalid key" >&2; exit 3`)

	d := New(bin)
	d.TempDir = dir
	_, err := d.Decrypt(context.Background(), []byte("cipher"),
		map[string]string{testKID: testKey})
	var re *RunError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.ExitCode)
	assert.Contains(t, re.Stderr, "invalid key")
}

func TestDecryptEmptyOutput(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	bin := stubBinary(t, argsFile, `exit 0`)

	d := New(bin)
	d.TempDir = dir
	_, err := d.Decrypt(context.Background(), []byte("cipher"),
		map[string]string{testKID: testKey})
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestDecryptTempFilesRemoved(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")

	cases := []struct {
		desc string
		body string
	}{
		{"success", `
in=""
out=""
for a in "$@"; do in="$out"; out="$a"; done
cp "$in" "$out"`},
		{"failure", `exit 1`},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			bin := stubBinary(t, argsFile, c.body)
			d := New(bin)
			d.TempDir = dir
			d.Decrypt(context.Background(), []byte("cipher"),
				map[string]string{testKID: testKey})

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			for _, e := range entries {
				assert.False(t, strings.HasPrefix(e.Name(), "d2h-"),
					"leftover temp file %s", e.Name())
			}
		})
	}
}

func TestDecryptInvalidKey(t *testing.T) {
	d := New("/nonexistent/mp4decrypt")
	cases := []struct {
		desc   string
		keyMap map[string]string
	}{
		{"bad KID", map[string]string{"zz": testKey}},
		{"bad key", map[string]string{testKID: "short"}},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			_, err := d.Decrypt(context.Background(), []byte("x"), c.keyMap)
			assert.Error(t, err)
		})
	}
}
