// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"fmt"
	"net/url"
	"time"

	"github.com/streamshift/dash2hls/pkg/dash"
)

// Status is the lifecycle state of a stream session.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

const (
	defaultPollIntervalS  = 4.0
	defaultWindowSize     = 6
	defaultHistorySize    = 128
	defaultMP4DecryptPath = "mp4decrypt"
)

// StreamConfig is the caller-supplied configuration of one conversion.
type StreamConfig struct {
	// MPDURL is the source DASH manifest URL.
	MPDURL string `json:"mpd_url"`
	// Key is a single CENC key (32 hex chars). KID identifies it; when KID
	// is empty it is taken from the MPD or probed from the init segment.
	Key string `json:"key,omitempty"`
	KID string `json:"kid,omitempty"`
	// KeyMap supplies several keys keyed by KID. It wins over Key/KID.
	KeyMap           map[string]string `json:"key_map,omitempty"`
	MP4DecryptPath   string            `json:"mp4decrypt_path,omitempty"`
	RepresentationID string            `json:"representation_id,omitempty"`
	Label            string            `json:"label,omitempty"`
	// PollIntervalS is the live refresh cadence in seconds.
	PollIntervalS float64 `json:"poll_interval,omitempty"`
	// WindowSize is the live sliding window in segments.
	WindowSize int `json:"window_size,omitempty"`
	// HistorySize caps the processed-numbers FIFO per variant.
	HistorySize int               `json:"history_size,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	OutputDir   string            `json:"output_dir,omitempty"`
}

// withDefaults returns c with unset options filled in.
func (c StreamConfig) withDefaults() StreamConfig {
	if c.PollIntervalS <= 0 {
		c.PollIntervalS = defaultPollIntervalS
	}
	if c.WindowSize <= 0 {
		c.WindowSize = defaultWindowSize
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.MP4DecryptPath == "" {
		c.MP4DecryptPath = defaultMP4DecryptPath
	}
	return c
}

func (c StreamConfig) validate() error {
	if c.MPDURL == "" {
		return fmt.Errorf("mpd_url is required")
	}
	if u, err := url.Parse(c.MPDURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("mpd_url must be an absolute http(s) URL")
	}
	if c.Key != "" && dash.NormalizeHex16(c.Key) == "" {
		return fmt.Errorf("key must be 32 hex chars")
	}
	if c.KID != "" && dash.NormalizeHex16(c.KID) == "" {
		return fmt.Errorf("kid must be 32 hex chars")
	}
	if c.KID != "" && c.Key == "" {
		return fmt.Errorf("kid given without key")
	}
	for kid, key := range c.KeyMap {
		if dash.NormalizeHex16(kid) == "" || dash.NormalizeHex16(key) == "" {
			return fmt.Errorf("key_map entry %q is not a KID:key hex pair", kid)
		}
	}
	return nil
}

// VariantInfo is the externally visible description of a selected
// representation.
type VariantInfo struct {
	RepID     string `json:"rep_id"`
	Bandwidth uint32 `json:"bandwidth"`
	Codecs    string `json:"codecs"`
	Width     uint32 `json:"width,omitempty"`
	Height    uint32 `json:"height,omitempty"`
}

// StreamInfo is the control-plane snapshot of one session.
type StreamInfo struct {
	ID        string       `json:"id"`
	Status    Status       `json:"status"`
	Label     string       `json:"label,omitempty"`
	MPDURL    string       `json:"mpd_url"`
	HLSURL    string       `json:"hls_url"`
	Video     *VariantInfo `json:"video,omitempty"`
	Audio     *VariantInfo `json:"audio,omitempty"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
