// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubServer mimics the daemon's control plane with one known stream.
func stubServer(t *testing.T) (*httptest.Server, *streamConfig) {
	t.Helper()
	var lastCreate streamConfig
	known := streamInfo{
		ID:     "abc-123",
		Status: "running",
		Label:  "demo",
		MPDURL: "https://cdn.example.com/live.mpd",
		HLSURL: "/hls/abc-123/master.m3u8",
		Video:  &variantInfo{RepID: "v0", Bandwidth: 3000000, Width: 1280, Height: 720},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/streams":
			if err := json.NewDecoder(r.Body).Decode(&lastCreate); err != nil || lastCreate.MPDURL == "" {
				w.WriteHeader(http.StatusBadRequest)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "mpd_url is required"})
				return
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(known)
		case r.Method == http.MethodGet && r.URL.Path == "/streams":
			_ = json.NewEncoder(w).Encode([]streamInfo{known})
		case r.URL.Path == "/streams/"+known.ID:
			if r.Method == http.MethodDelete {
				_ = json.NewEncoder(w).Encode(map[string]string{"id": known.ID, "status": "removed"})
				return
			}
			_ = json.NewEncoder(w).Encode(known)
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "stream not found"})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &lastCreate
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"dash2hls"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestCLIAdd(t *testing.T) {
	srv, lastCreate := stubServer(t)
	code, out, _ := runCLI(t, "add", "--server", srv.URL,
		"--url", "https://cdn.example.com/live.mpd",
		"--key", "166634c675823c235a4a9446fad52e4d",
		"--header", "X-Token: secret",
		"--label", "demo")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "abc-123\trunning\t/hls/abc-123/master.m3u8")
	assert.Equal(t, "https://cdn.example.com/live.mpd", lastCreate.MPDURL)
	assert.Equal(t, "166634c675823c235a4a9446fad52e4d", lastCreate.Key)
	assert.Equal(t, map[string]string{"X-Token": "secret"}, lastCreate.Headers)
}

func TestCLIAddMissingURL(t *testing.T) {
	srv, _ := stubServer(t)
	code, _, errOut := runCLI(t, "add", "--server", srv.URL)
	assert.Equal(t, exitBadInput, code)
	assert.Contains(t, errOut, "--url is required")
}

func TestCLIAddBadKeyMap(t *testing.T) {
	srv, _ := stubServer(t)
	code, _, errOut := runCLI(t, "add", "--server", srv.URL,
		"--url", "https://cdn.example.com/live.mpd",
		"--key-map", "missing-colon")
	assert.Equal(t, exitBadInput, code)
	assert.Contains(t, errOut, "key-map")
}

func TestCLIListAndGet(t *testing.T) {
	srv, _ := stubServer(t)

	code, out, _ := runCLI(t, "list", "--server", srv.URL)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "abc-123\trunning\tdemo\tvideo:v0@3000000 1280x720")

	code, out, _ = runCLI(t, "get", "--server", srv.URL, "abc-123")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "abc-123")

	code, _, errOut := runCLI(t, "get", "--server", srv.URL, "missing-id")
	assert.Equal(t, exitNotFound, code)
	assert.Contains(t, errOut, "not found")
}

func TestCLIRemove(t *testing.T) {
	srv, _ := stubServer(t)

	code, out, _ := runCLI(t, "remove", "--server", srv.URL, "abc-123")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "abc-123\tremoved")

	code, _, _ = runCLI(t, "remove", "--server", srv.URL, "missing-id")
	assert.Equal(t, exitNotFound, code)
}

func TestCLIUnreachable(t *testing.T) {
	// Port from a closed listener, nothing is listening there.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	code, _, errOut := runCLI(t, "list", "--server", url)
	assert.Equal(t, exitUnreachable, code)
	assert.Contains(t, errOut, "cannot reach server")
}

func TestCLIUsageAndVersion(t *testing.T) {
	code, out, _ := runCLI(t, "help")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "Commands:")

	code, out, _ = runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "dash2hls")

	code, _, errOut := runCLI(t, "bogus")
	assert.Equal(t, exitBadInput, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestParsePairs(t *testing.T) {
	m, err := parsePairs([]string{"a:1", "b: 2 "}, "header")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, m)

	m, err = parsePairs(nil, "header")
	require.NoError(t, err)
	assert.Nil(t, m)

	for _, bad := range []string{"nocolon", ":v", "k:"} {
		_, err := parsePairs([]string{bad}, "header")
		assert.Error(t, err, bad)
	}
}
