// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package dash

import (
	"errors"
	"fmt"
)

// ErrNoUsableRepresentation is returned when selection yields neither a
// video nor an audio representation.
var ErrNoUsableRepresentation = errors.New("no usable representation in manifest")

// Select picks at most one video and one audio representation from the
// manifest. With a non-empty representationID only that exact representation
// is selected. Otherwise the highest bandwidth wins per kind, first-seen
// order breaking ties. The result is deterministic for a given manifest.
func Select(mf *Manifest, representationID string) ([]*Representation, error) {
	if representationID != "" {
		for _, r := range mf.Representations {
			if r.ID == representationID {
				return []*Representation{r}, nil
			}
		}
		return nil, fmt.Errorf("representation %q: %w", representationID, ErrNoUsableRepresentation)
	}

	var video, audio *Representation
	for _, r := range mf.Representations {
		switch r.Kind {
		case KindVideo:
			if video == nil || r.Bandwidth > video.Bandwidth {
				video = r
			}
		case KindAudio:
			if audio == nil || r.Bandwidth > audio.Bandwidth {
				audio = r
			}
		}
	}
	var out []*Representation
	if video != nil {
		out = append(out, video)
	}
	if audio != nil {
		out = append(out, audio)
	}
	if len(out) == 0 {
		return nil, ErrNoUsableRepresentation
	}
	return out, nil
}
