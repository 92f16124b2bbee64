// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package internal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
)

// StreamMetaFileName is written into each stream's output directory so the
// origin of the HLS files can be identified after the fact.
const StreamMetaFileName = "stream.json"

type VariantMeta struct {
	RepID     string `json:"rep_id"`
	Bandwidth uint32 `json:"bandwidth"`
	Codecs    string `json:"codecs,omitempty"`
	Width     uint32 `json:"width,omitempty"`
	Height    uint32 `json:"height,omitempty"`
}

// StreamMeta describes the source of a converted stream.
type StreamMeta struct {
	ID      string       `json:"id"`
	Label   string       `json:"label,omitempty"`
	MPDURL  string       `json:"mpd_url"`
	Live    bool         `json:"live"`
	Video   *VariantMeta `json:"video,omitempty"`
	Audio   *VariantMeta `json:"audio,omitempty"`
	Created time.Time    `json:"created_at"`
	Version string       `json:"version"`
}

// WriteStreamMeta writes meta as JSON into dir, atomically.
func WriteStreamMeta(dir string, meta *StreamMeta) error {
	meta.Version = GetVersion()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stream meta: %w", err)
	}
	path := filepath.Join(dir, StreamMetaFileName)
	pf, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending %s: %w", StreamMetaFileName, err)
	}
	defer pf.Cleanup()
	if _, err := pf.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", StreamMetaFileName, err)
	}
	return pf.CloseAtomicallyReplace()
}

// ReadStreamMeta reads a previously written stream.json.
func ReadStreamMeta(dir string) (*StreamMeta, error) {
	data, err := os.ReadFile(filepath.Join(dir, StreamMetaFileName))
	if err != nil {
		return nil, err
	}
	var meta StreamMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal stream meta: %w", err)
	}
	return &meta, nil
}
