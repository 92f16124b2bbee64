// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// hlsFileHandlerFunc serves generated HLS files under /hls/{streamID}/*.
// Only files inside the stream's own output directory are reachable.
func (s *Server) hlsFileHandlerFunc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "streamID")
	dir, ok := s.mgr.OutputDir(id)
	if !ok {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}
	rel := chi.URLParam(r, "*")
	rel = path.Clean("/" + rel)
	if rel == "/" {
		rel = "/master.m3u8"
	}
	full := filepath.Join(dir, filepath.FromSlash(rel))
	if !strings.HasPrefix(full, filepath.Clean(dir)+string(filepath.Separator)) {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	switch path.Ext(rel) {
	case ".m3u8":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		// Playlists change continuously during live.
		w.Header().Set("Cache-Control", "no-cache")
	case ".mp4":
		w.Header().Set("Content-Type", "video/mp4")
	case ".m4s":
		w.Header().Set("Content-Type", "video/iso.segment")
	case ".json":
		w.Header().Set("Content-Type", "application/json")
	}
	http.ServeFile(w, r, full)
}
