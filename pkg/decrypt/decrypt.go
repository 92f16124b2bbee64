// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package decrypt removes CENC protection from fMP4 segments by invoking an
// external Bento4-style mp4decrypt binary.
package decrypt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultTimeout bounds one mp4decrypt invocation.
const DefaultTimeout = 30 * time.Second

const stderrExcerptLen = 512

// ErrEmptyOutput means the binary exited successfully but wrote no bytes.
var ErrEmptyOutput = errors.New("decrypt: empty output")

// RunError reports a failed binary invocation.
type RunError struct {
	ExitCode int
	Stderr   string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("decrypt: exit code %d: %s", e.ExitCode, e.Stderr)
}

var hex16Re = regexp.MustCompile(`^[0-9a-fA-F]{32}$`)

// Decryptor runs the external decryption binary with file-based I/O.
//
// Input and output always go through temporary files. Piping via stdin is
// deliberately avoided since several binary versions mishandle it and fail
// with "cannot open input file (-)".
type Decryptor struct {
	// BinPath is the binary to invoke, e.g. "mp4decrypt".
	BinPath string
	// Timeout bounds each invocation. Zero means DefaultTimeout.
	Timeout time.Duration
	// TempDir overrides the directory for temporary files. Empty means the
	// system default.
	TempDir string
}

func New(binPath string) *Decryptor {
	return &Decryptor{BinPath: binPath, Timeout: DefaultTimeout}
}

// Decrypt decrypts cipher with keyMap (KID hex -> key hex, both 32 chars,
// hyphens allowed) and returns the plain bytes. An empty keyMap passes the
// input through unchanged.
func (d *Decryptor) Decrypt(ctx context.Context, cipher []byte, keyMap map[string]string) ([]byte, error) {
	if len(keyMap) == 0 {
		return cipher, nil
	}
	keyArgs, err := keyArguments(keyMap)
	if err != nil {
		return nil, err
	}

	inFile, err := os.CreateTemp(d.TempDir, "d2h-enc-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("decrypt: create input temp file: %w", err)
	}
	inPath := inFile.Name()
	defer removeTemp(inPath)
	if _, err := inFile.Write(cipher); err != nil {
		inFile.Close()
		return nil, fmt.Errorf("decrypt: write input temp file: %w", err)
	}
	if err := inFile.Close(); err != nil {
		return nil, fmt.Errorf("decrypt: close input temp file: %w", err)
	}

	outFile, err := os.CreateTemp(d.TempDir, "d2h-dec-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("decrypt: create output temp file: %w", err)
	}
	outPath := outFile.Name()
	outFile.Close()
	defer removeTemp(outPath)

	timeout := d.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(keyArgs, inPath, outPath)
	cmd := exec.CommandContext(ctx, d.BinPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("decrypt: %s: %w", d.BinPath, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &RunError{
				ExitCode: exitErr.ExitCode(),
				Stderr:   excerpt(stderr.String()),
			}
		}
		return nil, fmt.Errorf("decrypt: run %s: %w", d.BinPath, err)
	}

	plain, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("decrypt: read output temp file: %w", err)
	}
	if len(plain) == 0 {
		return nil, ErrEmptyOutput
	}
	return plain, nil
}

// keyArguments builds the repeated --key kid:key argument list in a
// deterministic order.
func keyArguments(keyMap map[string]string) ([]string, error) {
	kids := make([]string, 0, len(keyMap))
	normalized := make(map[string]string, len(keyMap))
	for kid, key := range keyMap {
		nkid := normalizeHex(kid)
		nkey := normalizeHex(key)
		if nkid == "" {
			return nil, fmt.Errorf("decrypt: invalid KID %q", kid)
		}
		if nkey == "" {
			return nil, fmt.Errorf("decrypt: invalid key for KID %q", kid)
		}
		kids = append(kids, nkid)
		normalized[nkid] = nkey
	}
	sort.Strings(kids)
	args := make([]string, 0, 2*len(kids))
	for _, kid := range kids {
		args = append(args, "--key", kid+":"+normalized[kid])
	}
	return args, nil
}

func normalizeHex(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "-", ""))
	s = strings.TrimPrefix(s, "0x")
	if !hex16Re.MatchString(s) {
		return ""
	}
	return s
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("could not remove temp file", "path", path, "err", err)
	}
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrExcerptLen {
		s = s[:stderrExcerptLen]
	}
	return s
}
