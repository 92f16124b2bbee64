// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/streamshift/dash2hls/internal"
)

// streamConfig mirrors the daemon's stream configuration body.
type streamConfig struct {
	MPDURL           string            `json:"mpd_url"`
	Key              string            `json:"key,omitempty"`
	KID              string            `json:"kid,omitempty"`
	KeyMap           map[string]string `json:"key_map,omitempty"`
	MP4DecryptPath   string            `json:"mp4decrypt_path,omitempty"`
	RepresentationID string            `json:"representation_id,omitempty"`
	Label            string            `json:"label,omitempty"`
	PollIntervalS    float64           `json:"poll_interval,omitempty"`
	WindowSize       int               `json:"window_size,omitempty"`
	HistorySize      int               `json:"history_size,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	OutputDir        string            `json:"output_dir,omitempty"`
}

type variantInfo struct {
	RepID     string `json:"rep_id"`
	Bandwidth uint32 `json:"bandwidth"`
	Codecs    string `json:"codecs"`
	Width     uint32 `json:"width,omitempty"`
	Height    uint32 `json:"height,omitempty"`
}

type streamInfo struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Label  string       `json:"label,omitempty"`
	MPDURL string       `json:"mpd_url"`
	HLSURL string       `json:"hls_url"`
	Video  *variantInfo `json:"video,omitempty"`
	Audio  *variantInfo `json:"audio,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// client talks to one dash2hlsd instance.
type client struct {
	baseURL string
	hc      *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

func versionLine() string {
	return "dash2hls " + internal.GetVersion()
}

func (c *client) createStream(cfg streamConfig) (*streamInfo, int, error) {
	body, err := json.Marshal(cfg)
	if err != nil {
		return nil, exitBadInput, err
	}
	resp, err := c.hc.Post(c.baseURL+"/streams", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, exitUnreachable, fmt.Errorf("cannot reach server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, exitBadInput, apiError(resp)
	}
	var info streamInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, exitUnreachable, fmt.Errorf("bad server response: %w", err)
	}
	return &info, exitOK, nil
}

func (c *client) listStreams() ([]streamInfo, int, error) {
	resp, err := c.hc.Get(c.baseURL + "/streams")
	if err != nil {
		return nil, exitUnreachable, fmt.Errorf("cannot reach server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, exitUnreachable, apiError(resp)
	}
	var infos []streamInfo
	if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
		return nil, exitUnreachable, fmt.Errorf("bad server response: %w", err)
	}
	return infos, exitOK, nil
}

func (c *client) getStream(id string) (*streamInfo, int, error) {
	resp, err := c.hc.Get(c.baseURL + "/streams/" + id)
	if err != nil {
		return nil, exitUnreachable, fmt.Errorf("cannot reach server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, exitNotFound, fmt.Errorf("stream %s not found", id)
	default:
		return nil, exitUnreachable, apiError(resp)
	}
	var info streamInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, exitUnreachable, fmt.Errorf("bad server response: %w", err)
	}
	return &info, exitOK, nil
}

func (c *client) removeStream(id string) (int, error) {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/streams/"+id, nil)
	if err != nil {
		return exitBadInput, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return exitUnreachable, fmt.Errorf("cannot reach server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return exitOK, nil
	case http.StatusNotFound:
		return exitNotFound, fmt.Errorf("stream %s not found", id)
	default:
		return exitUnreachable, apiError(resp)
	}
}

// apiError extracts the server's JSON error message if there is one.
func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		return fmt.Errorf("server: %s (status %d)", body.Error, resp.StatusCode)
	}
	return fmt.Errorf("server returned status %d", resp.StatusCode)
}
