// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamConfigDefaults(t *testing.T) {
	c := StreamConfig{MPDURL: "https://cdn.example.com/live.mpd"}.withDefaults()
	assert.Equal(t, 4.0, c.PollIntervalS)
	assert.Equal(t, 6, c.WindowSize)
	assert.Equal(t, 128, c.HistorySize)
	assert.Equal(t, "mp4decrypt", c.MP4DecryptPath)

	c = StreamConfig{
		MPDURL:         "https://cdn.example.com/live.mpd",
		PollIntervalS:  2,
		WindowSize:     10,
		HistorySize:    64,
		MP4DecryptPath: "/opt/mp4decrypt",
	}.withDefaults()
	assert.Equal(t, 2.0, c.PollIntervalS)
	assert.Equal(t, 10, c.WindowSize)
	assert.Equal(t, 64, c.HistorySize)
	assert.Equal(t, "/opt/mp4decrypt", c.MP4DecryptPath)
}

func TestStreamConfigValidate(t *testing.T) {
	goodURL := "https://cdn.example.com/live.mpd"
	cases := []struct {
		desc    string
		cfg     StreamConfig
		wantErr string
	}{
		{"minimal", StreamConfig{MPDURL: goodURL}, ""},
		{"missing url", StreamConfig{}, "mpd_url is required"},
		{"relative url", StreamConfig{MPDURL: "live.mpd"}, "absolute http(s)"},
		{"bad scheme", StreamConfig{MPDURL: "ftp://cdn/live.mpd"}, "absolute http(s)"},
		{"key with hyphenated kid", StreamConfig{
			MPDURL: goodURL,
			Key:    "166634c675823c235a4a9446fad52e4d",
			KID:    "9EB4050D-E44B-4802-932E-27D75083E266",
		}, ""},
		{"short key", StreamConfig{MPDURL: goodURL, Key: "abcd"}, "key must be"},
		{"bad kid", StreamConfig{
			MPDURL: goodURL,
			Key:    "166634c675823c235a4a9446fad52e4d",
			KID:    "zz" + "9eb4050de44b4802932e27d75083e2",
		}, "kid must be"},
		{"kid without key", StreamConfig{
			MPDURL: goodURL,
			KID:    "9eb4050de44b4802932e27d75083e266",
		}, "kid given without key"},
		{"good key map", StreamConfig{
			MPDURL: goodURL,
			KeyMap: map[string]string{
				"9eb4050de44b4802932e27d75083e266": "166634c675823c235a4a9446fad52e4d",
			},
		}, ""},
		{"bad key map value", StreamConfig{
			MPDURL: goodURL,
			KeyMap: map[string]string{"9eb4050de44b4802932e27d75083e266": "short"},
		}, "key_map entry"},
	}
	for _, c := range cases {
		t.Run(c.desc, func(t *testing.T) {
			err := c.cfg.validate()
			if c.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, c.wantErr)
			}
		})
	}
}
