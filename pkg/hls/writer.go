// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"bytes"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
)

// Writer maintains the on-disk HLS output for one stream:
//
//	<dir>/master.m3u8
//	<dir>/index.m3u8, init.mp4, segment_<N>.m4s      (primary variant)
//	<dir>/audio/index.m3u8, init.mp4, segment_<N>.m4s (audio rendition)
//
// All playlist and segment writes go through temp file + rename, so the
// file server never exposes partial files. Writer is safe for concurrent
// use by the per-variant fetch goroutines.
type Writer struct {
	dir        string
	windowSize int
	vod        bool

	mu       sync.Mutex
	variants map[string]*variantState
}

type variantState struct {
	variant Variant
	dir     string

	initBytes []byte
	segments  []MediaSegment
	discoSeq  int64
	// targetDur never decreases once raised.
	targetDur    int
	lastNumber   int64
	pendingDisco bool
	finalized    bool
}

// NewWriter creates the directory layout and writes the master playlist.
// The first variant is the primary one served at index.m3u8; a variant with
// Audio set and a non-audio primary is placed under audio/. windowSize
// bounds the sliding window; with vod set the window is unbounded and the
// playlists carry EXT-X-PLAYLIST-TYPE:VOD.
func NewWriter(dir string, windowSize int, vod bool, variants []Variant) (*Writer, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("hls: no variants")
	}
	if len(variants) > 2 {
		return nil, fmt.Errorf("hls: at most one video and one audio variant supported")
	}
	w := &Writer{
		dir:        dir,
		windowSize: windowSize,
		vod:        vod,
		variants:   make(map[string]*variantState, len(variants)),
	}
	primary := variants[0]
	var audio *Variant
	for i := range variants {
		v := variants[i]
		vDir := dir
		if i > 0 {
			if !v.Audio {
				return nil, fmt.Errorf("hls: secondary variant %q must be audio", v.Name)
			}
			vDir = filepath.Join(dir, "audio")
			audio = &v
		}
		if err := os.MkdirAll(vDir, 0o755); err != nil {
			return nil, fmt.Errorf("hls: create output dir: %w", err)
		}
		if _, ok := w.variants[v.Name]; ok {
			return nil, fmt.Errorf("hls: duplicate variant name %q", v.Name)
		}
		w.variants[v.Name] = &variantState{variant: v, dir: vDir, lastNumber: -1}
	}
	if err := writeAtomic(filepath.Join(dir, "master.m3u8"), EncodeMaster(&primary, audio)); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteInit writes the variant's init segment. Rewriting identical bytes is
// a no-op. Changed init bytes are written and mark a discontinuity before
// the next appended segment.
func (w *Writer) WriteInit(name string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	vs, err := w.variantState(name)
	if err != nil {
		return err
	}
	if vs.initBytes != nil {
		if bytes.Equal(vs.initBytes, data) {
			return nil
		}
		slog.Debug("init segment changed", "variant", name)
		vs.pendingDisco = true
	}
	if err := writeAtomic(filepath.Join(vs.dir, "init.mp4"), data); err != nil {
		return err
	}
	vs.initBytes = bytes.Clone(data)
	return nil
}

// AppendSegment writes segment number with the given duration, slides the
// window, and rewrites the variant's media playlist. Numbers must be
// strictly increasing; a gap in segment numbers marks a discontinuity.
func (w *Writer) AppendSegment(name string, number int64, durSec float64, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	vs, err := w.variantState(name)
	if err != nil {
		return err
	}
	if vs.finalized {
		return fmt.Errorf("hls: variant %q already finalized", name)
	}
	if number <= vs.lastNumber {
		return fmt.Errorf("hls: segment number %d not after %d for variant %q",
			number, vs.lastNumber, name)
	}

	uri := segmentName(number)
	if err := writeAtomic(filepath.Join(vs.dir, uri), data); err != nil {
		return err
	}

	disco := vs.pendingDisco
	if vs.lastNumber >= 0 && number != vs.lastNumber+1 {
		slog.Debug("segment number gap", "variant", name,
			"last", vs.lastNumber, "next", number)
		disco = true
	}
	vs.pendingDisco = false
	vs.lastNumber = number
	vs.segments = append(vs.segments, MediaSegment{
		URI:           uri,
		Number:        number,
		Duration:      durSec,
		Discontinuity: disco,
	})

	if w.windowSize > 0 && !w.vod {
		for len(vs.segments) > w.windowSize {
			old := vs.segments[0]
			vs.segments = vs.segments[1:]
			if old.Discontinuity {
				vs.discoSeq++
			}
			if err := os.Remove(filepath.Join(vs.dir, old.URI)); err != nil && !os.IsNotExist(err) {
				slog.Warn("could not remove evicted segment", "path", old.URI, "err", err)
			}
		}
	}
	return w.writePlaylist(vs)
}

// MarkDiscontinuity requests a discontinuity tag before the variant's next
// appended segment. The session uses this for timescale changes which are
// not visible in the init bytes or segment numbering.
func (w *Writer) MarkDiscontinuity(name string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	vs, err := w.variantState(name)
	if err != nil {
		return err
	}
	vs.pendingDisco = true
	return nil
}

// Finalize appends EXT-X-ENDLIST to every variant playlist. Further appends
// are rejected.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, vs := range w.variants {
		if vs.finalized {
			continue
		}
		vs.finalized = true
		if err := w.writePlaylist(vs); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) variantState(name string) (*variantState, error) {
	vs, ok := w.variants[name]
	if !ok {
		return nil, fmt.Errorf("hls: unknown variant %q", name)
	}
	return vs, nil
}

func (w *Writer) writePlaylist(vs *variantState) error {
	maxDur := 0.0
	for _, s := range vs.segments {
		if s.Duration > maxDur {
			maxDur = s.Duration
		}
	}
	if t := int(math.Ceil(maxDur)); t > vs.targetDur {
		vs.targetDur = t
	}
	// The media sequence tracks the source segment numbering, so it is the
	// number of the oldest entry still in the window.
	var mediaSeq int64
	if len(vs.segments) > 0 {
		mediaSeq = vs.segments[0].Number
	}
	p := MediaPlaylist{
		TargetDuration:        vs.targetDur,
		MediaSequence:         mediaSeq,
		DiscontinuitySequence: vs.discoSeq,
		InitURI:               "init.mp4",
		Segments:              vs.segments,
		EndList:               vs.finalized,
	}
	if w.vod {
		p.PlaylistType = "VOD"
	}
	return writeAtomic(filepath.Join(vs.dir, "index.m3u8"), p.Encode())
}

func segmentName(number int64) string {
	return fmt.Sprintf("segment_%d.m4s", number)
}

// writeAtomic writes data via a pending temp file followed by an atomic
// replace, so readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("hls: create pending file for %s: %w", path, err)
	}
	defer pf.Cleanup()
	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("hls: write pending file for %s: %w", path, err)
	}
	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("hls: replace %s: %w", path, err)
	}
	return nil
}
