// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// createStreamHandlerFunc handles POST /streams with a JSON StreamConfig body.
func (s *Server) createStreamHandlerFunc(w http.ResponseWriter, r *http.Request) {
	var cfg StreamConfig
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		s.errorResponse(w, fmt.Sprintf("bad stream config: %s", err), http.StatusBadRequest)
		return
	}
	// The session must outlive this request, so it is bound to the server
	// lifetime and not to the request context.
	info, err := s.mgr.Create(s.bkgCtx, cfg)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	setActiveStreams(s.mgr.Count())
	s.jsonResponse(w, info, http.StatusCreated)
}

// listStreamsHandlerFunc handles GET /streams.
func (s *Server) listStreamsHandlerFunc(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.mgr.List(), http.StatusOK)
}

// getStreamHandlerFunc handles GET /streams/{streamID}.
func (s *Server) getStreamHandlerFunc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "streamID")
	info, ok := s.mgr.Get(id)
	if !ok {
		s.errorResponse(w, fmt.Sprintf("stream %s not found", id), http.StatusNotFound)
		return
	}
	s.jsonResponse(w, info, http.StatusOK)
}

// deleteStreamHandlerFunc handles DELETE /streams/{streamID}. It blocks
// until the session has stopped. Output files are kept.
func (s *Server) deleteStreamHandlerFunc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "streamID")
	if !s.mgr.Remove(id) {
		s.errorResponse(w, fmt.Sprintf("stream %s not found", id), http.StatusNotFound)
		return
	}
	setActiveStreams(s.mgr.Count())
	s.jsonResponse(w, map[string]string{"id": id, "status": "removed"}, http.StatusOK)
}
