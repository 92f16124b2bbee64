// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package dash

import "fmt"

// ParseErrKind classifies why an MPD could not be parsed.
type ParseErrKind int

const (
	// ParseErrXML means the document was not well-formed MPD XML.
	ParseErrXML ParseErrKind = iota
	// ParseErrURL means the MPD request URL could not serve as a base URL.
	ParseErrURL
	// ParseErrInvalid means the MPD was structurally valid XML but is
	// missing required content.
	ParseErrInvalid
)

func (k ParseErrKind) String() string {
	switch k {
	case ParseErrXML:
		return "xml"
	case ParseErrURL:
		return "url"
	case ParseErrInvalid:
		return "invalid"
	}
	return "unknown"
}

// ParseError wraps an MPD parsing failure with its classification.
type ParseError struct {
	Kind ParseErrKind
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mpd parse (%s): %s", e.Kind, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
