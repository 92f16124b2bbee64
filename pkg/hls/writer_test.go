// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, windowSize int, vod bool) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewWriter(dir, windowSize, vod, []Variant{
		{Name: "video", Bandwidth: 3000000, Codecs: "avc1.64001f", Width: 1280, Height: 720},
		{Name: "audio", Audio: true, Bandwidth: 128000, Codecs: "mp4a.40.2"},
	})
	require.NoError(t, err)
	return w, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNewWriterLayout(t *testing.T) {
	_, dir := newTestWriter(t, 6, false)

	master := readFile(t, filepath.Join(dir, "master.m3u8"))
	assert.Contains(t, master, `AUDIO="aud"`)
	assert.Contains(t, master, `URI="audio/index.m3u8"`)

	info, err := os.Stat(filepath.Join(dir, "audio"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestWriteInitIdempotent(t *testing.T) {
	w, dir := newTestWriter(t, 6, false)

	require.NoError(t, w.WriteInit("video", []byte("init-v1")))
	require.NoError(t, w.WriteInit("video", []byte("init-v1")))
	assert.Equal(t, "init-v1", readFile(t, filepath.Join(dir, "init.mp4")))

	require.NoError(t, w.AppendSegment("video", 1, 2, []byte("s1")))
	idx := readFile(t, filepath.Join(dir, "index.m3u8"))
	assert.NotContains(t, idx, "#EXT-X-DISCONTINUITY\n")
}

func TestInitChangeMarksDiscontinuity(t *testing.T) {
	w, dir := newTestWriter(t, 6, false)

	require.NoError(t, w.WriteInit("video", []byte("init-v1")))
	require.NoError(t, w.AppendSegment("video", 1, 2, []byte("s1")))
	require.NoError(t, w.WriteInit("video", []byte("init-v2")))
	require.NoError(t, w.AppendSegment("video", 2, 2, []byte("s2")))

	assert.Equal(t, "init-v2", readFile(t, filepath.Join(dir, "init.mp4")))
	idx := readFile(t, filepath.Join(dir, "index.m3u8"))
	require.Contains(t, idx, "#EXT-X-DISCONTINUITY\n")
	// The discontinuity precedes segment 2, not segment 1.
	assert.Less(t, strings.Index(idx, "segment_1.m4s"), strings.Index(idx, "#EXT-X-DISCONTINUITY"))
}

func TestNumberGapMarksDiscontinuity(t *testing.T) {
	w, dir := newTestWriter(t, 6, false)

	require.NoError(t, w.AppendSegment("video", 1, 2, []byte("s1")))
	require.NoError(t, w.AppendSegment("video", 5, 2, []byte("s5")))
	idx := readFile(t, filepath.Join(dir, "index.m3u8"))
	assert.Contains(t, idx, "#EXT-X-DISCONTINUITY\n#EXTINF:2.00000,\nsegment_5.m4s\n")
}

func TestAppendRejectsNonIncreasingNumbers(t *testing.T) {
	w, dir := newTestWriter(t, 6, false)

	require.NoError(t, w.AppendSegment("video", 3, 2, []byte("s3")))
	assert.Error(t, w.AppendSegment("video", 3, 2, []byte("s3-again")))
	assert.Error(t, w.AppendSegment("video", 2, 2, []byte("s2")))

	// The rejected appends left playlist and files untouched.
	idx := readFile(t, filepath.Join(dir, "index.m3u8"))
	assert.NotContains(t, idx, "segment_2.m4s")
	assert.Equal(t, "s3", readFile(t, filepath.Join(dir, "segment_3.m4s")))

	require.NoError(t, w.AppendSegment("video", 4, 2, []byte("s4")))
}

func TestSlidingWindowEviction(t *testing.T) {
	w, dir := newTestWriter(t, 3, false)

	for n := int64(1); n <= 5; n++ {
		require.NoError(t, w.AppendSegment("video", n, 2, []byte(fmt.Sprintf("s%d", n))))
	}
	idx := readFile(t, filepath.Join(dir, "index.m3u8"))
	assert.Contains(t, idx, "#EXT-X-MEDIA-SEQUENCE:3\n")
	assert.NotContains(t, idx, "segment_1.m4s")
	assert.NotContains(t, idx, "segment_2.m4s")
	assert.Contains(t, idx, "segment_3.m4s")
	assert.Contains(t, idx, "segment_5.m4s")

	_, err := os.Stat(filepath.Join(dir, "segment_1.m4s"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "segment_3.m4s"))
	assert.NoError(t, err)
}

func TestTargetDurationMonotone(t *testing.T) {
	w, dir := newTestWriter(t, 2, false)

	require.NoError(t, w.AppendSegment("video", 1, 6.5, []byte("s1")))
	idx := readFile(t, filepath.Join(dir, "index.m3u8"))
	assert.Contains(t, idx, "#EXT-X-TARGETDURATION:7\n")

	// The long segment is evicted but the target duration must not shrink.
	require.NoError(t, w.AppendSegment("video", 2, 2, []byte("s2")))
	require.NoError(t, w.AppendSegment("video", 3, 2, []byte("s3")))
	require.NoError(t, w.AppendSegment("video", 4, 2, []byte("s4")))
	idx = readFile(t, filepath.Join(dir, "index.m3u8"))
	assert.NotContains(t, idx, "segment_1.m4s")
	assert.Contains(t, idx, "#EXT-X-TARGETDURATION:7\n")
}

func TestVODKeepsAllSegments(t *testing.T) {
	w, dir := newTestWriter(t, 3, true)

	for n := int64(1); n <= 5; n++ {
		require.NoError(t, w.AppendSegment("video", n, 2, []byte("s")))
	}
	idx := readFile(t, filepath.Join(dir, "index.m3u8"))
	assert.Contains(t, idx, "#EXT-X-PLAYLIST-TYPE:VOD\n")
	assert.Contains(t, idx, "#EXT-X-MEDIA-SEQUENCE:1\n")
	assert.Contains(t, idx, "segment_1.m4s")
	assert.Contains(t, idx, "segment_5.m4s")
}

func TestFinalize(t *testing.T) {
	w, dir := newTestWriter(t, 6, false)

	require.NoError(t, w.AppendSegment("video", 1, 2, []byte("s1")))
	require.NoError(t, w.AppendSegment("audio", 1, 2, []byte("a1")))
	require.NoError(t, w.Finalize())

	assert.Contains(t, readFile(t, filepath.Join(dir, "index.m3u8")), "#EXT-X-ENDLIST\n")
	assert.Contains(t, readFile(t, filepath.Join(dir, "audio", "index.m3u8")), "#EXT-X-ENDLIST\n")

	err := w.AppendSegment("video", 2, 2, []byte("s2"))
	assert.Error(t, err)
}

func TestAudioVariantWritesOwnDir(t *testing.T) {
	w, dir := newTestWriter(t, 6, false)

	require.NoError(t, w.WriteInit("audio", []byte("audio-init")))
	require.NoError(t, w.AppendSegment("audio", 1, 1.92, []byte("a1")))

	assert.Equal(t, "audio-init", readFile(t, filepath.Join(dir, "audio", "init.mp4")))
	idx := readFile(t, filepath.Join(dir, "audio", "index.m3u8"))
	assert.Contains(t, idx, "#EXTINF:1.92000,\nsegment_1.m4s\n")
	// Primary playlist untouched by audio appends.
	_, err := os.Stat(filepath.Join(dir, "index.m3u8"))
	assert.True(t, os.IsNotExist(err))
}

func TestMarkDiscontinuity(t *testing.T) {
	w, dir := newTestWriter(t, 6, false)

	require.NoError(t, w.AppendSegment("video", 1, 2, []byte("s1")))
	require.NoError(t, w.MarkDiscontinuity("video"))
	require.NoError(t, w.AppendSegment("video", 2, 2, []byte("s2")))

	idx := readFile(t, filepath.Join(dir, "index.m3u8"))
	assert.Contains(t, idx, "#EXT-X-DISCONTINUITY\n#EXTINF:2.00000,\nsegment_2.m4s\n")
}

func TestUnknownVariant(t *testing.T) {
	w, _ := newTestWriter(t, 6, false)
	assert.Error(t, w.AppendSegment("subtitles", 1, 2, []byte("x")))
	assert.Error(t, w.WriteInit("subtitles", []byte("x")))
}
