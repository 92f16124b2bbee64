// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamMetaRoundtrip(t *testing.T) {
	dir := t.TempDir()
	meta := &StreamMeta{
		ID:      "abc-123",
		Label:   "demo",
		MPDURL:  "https://cdn.example.com/live.mpd",
		Live:    true,
		Video:   &VariantMeta{RepID: "v0", Bandwidth: 3000000, Codecs: "avc1.64001f", Width: 1280, Height: 720},
		Created: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, WriteStreamMeta(dir, meta))

	got, err := ReadStreamMeta(dir)
	require.NoError(t, err)
	assert.Equal(t, meta.ID, got.ID)
	assert.Equal(t, meta.MPDURL, got.MPDURL)
	assert.True(t, got.Live)
	require.NotNil(t, got.Video)
	assert.Equal(t, uint32(3000000), got.Video.Bandwidth)
	assert.Nil(t, got.Audio)
	assert.Equal(t, GetVersion(), got.Version)
	assert.True(t, meta.Created.Equal(got.Created))
}

func TestReadStreamMetaMissing(t *testing.T) {
	_, err := ReadStreamMeta(t.TempDir())
	assert.Error(t, err)
}
