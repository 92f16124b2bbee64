// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package decrypt

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Eyevinn/mp4ff/bits"
	"github.com/Eyevinn/mp4ff/mp4"
)

// ErrNoTenc means the init segment carries no tenc box, i.e. the track is
// not CENC protected.
var ErrNoTenc = errors.New("no tenc box in init segment")

// ProbeDefaultKID extracts the default KID from an init segment's tenc box.
// It is the fallback when the MPD carries no cenc:default_KID attribute.
// The returned KID is 32 lowercase hex chars.
func ProbeDefaultKID(initData []byte) (string, error) {
	sr := bits.NewFixedSliceReader(initData)
	f, err := mp4.DecodeFileSR(sr)
	if err != nil {
		return "", fmt.Errorf("decode init segment: %w", err)
	}
	if f.Init == nil || f.Init.Moov == nil {
		return "", fmt.Errorf("init segment has no moov box")
	}
	for _, trak := range f.Init.Moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
			continue
		}
		stsd := trak.Mdia.Minf.Stbl.Stsd
		if stsd == nil {
			continue
		}
		for _, child := range stsd.Children {
			var sinf *mp4.SinfBox
			switch entry := child.(type) {
			case *mp4.VisualSampleEntryBox:
				sinf = entry.Sinf
			case *mp4.AudioSampleEntryBox:
				sinf = entry.Sinf
			}
			if sinf == nil || sinf.Schi == nil || sinf.Schi.Tenc == nil {
				continue
			}
			kid := []byte(sinf.Schi.Tenc.DefaultKID)
			if len(kid) == 16 {
				return hex.EncodeToString(kid), nil
			}
		}
	}
	return "", ErrNoTenc
}
