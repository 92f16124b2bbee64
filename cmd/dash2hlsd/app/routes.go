// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"

	"github.com/streamshift/dash2hls/pkg/logging"
)

// Routes defines dispatches for all routes.
func (s *Server) Routes(ctx context.Context) error {
	for _, route := range logging.LogRoutes {
		s.Router.MethodFunc(route.Method, route.Path, route.Handler)
	}
	s.Router.MethodFunc("GET", "/healthz", s.healthzHandlerFunc)
	s.Router.MethodFunc("GET", "/", s.indexHandlerFunc)
	s.Router.MethodFunc("POST", "/streams", s.createStreamHandlerFunc)
	s.Router.MethodFunc("GET", "/streams", s.listStreamsHandlerFunc)
	s.Router.MethodFunc("GET", "/streams/{streamID}", s.getStreamHandlerFunc)
	s.Router.MethodFunc("DELETE", "/streams/{streamID}", s.deleteStreamHandlerFunc)
	s.Router.MethodFunc("GET", "/hls/{streamID}/*", s.hlsFileHandlerFunc)
	s.Router.MethodFunc("HEAD", "/hls/{streamID}/*", s.hlsFileHandlerFunc)
	return nil
}
