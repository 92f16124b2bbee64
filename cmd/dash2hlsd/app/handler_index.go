// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"net/http"

	"github.com/streamshift/dash2hls/internal"
)

// indexHandlerFunc serves a short service description at /.
func (s *Server) indexHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]any{
		"service": "dash2hls",
		"version": internal.GetVersion(),
		"streams": s.mgr.Count(),
		"endpoints": []string{
			"POST /streams",
			"GET /streams",
			"GET /streams/{id}",
			"DELETE /streams/{id}",
			"GET /hls/{id}/master.m3u8",
			"GET /healthz",
			"GET /metrics",
			"GET|POST /loglevel",
		},
	}, http.StatusOK)
}
