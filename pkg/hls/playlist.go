// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package hls renders HLS playlists and maintains a sliding-window fMP4
// variant directory layout on disk.
package hls

import (
	"fmt"
	"strings"
)

// MediaSegment is one entry of a media playlist window.
type MediaSegment struct {
	URI      string
	Number   int64
	Duration float64
	// Discontinuity marks a timeline break before this segment.
	Discontinuity bool
}

// MediaPlaylist is the renderable state of one variant playlist.
type MediaPlaylist struct {
	TargetDuration        int
	MediaSequence         int64
	DiscontinuitySequence int64
	// PlaylistType is "VOD" for on-demand output, empty for live.
	PlaylistType string
	InitURI      string
	Segments     []MediaSegment
	EndList      bool
}

// Encode renders the playlist in fMP4 media playlist form (protocol version 7).
func (p *MediaPlaylist) Encode() []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.TargetDuration)
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", p.MediaSequence)
	if p.DiscontinuitySequence > 0 {
		fmt.Fprintf(&b, "#EXT-X-DISCONTINUITY-SEQUENCE:%d\n", p.DiscontinuitySequence)
	}
	if p.PlaylistType != "" {
		fmt.Fprintf(&b, "#EXT-X-PLAYLIST-TYPE:%s\n", p.PlaylistType)
	}
	if p.InitURI != "" {
		fmt.Fprintf(&b, "#EXT-X-MAP:URI=%q\n", p.InitURI)
	}
	for _, s := range p.Segments {
		if s.Discontinuity {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		fmt.Fprintf(&b, "#EXTINF:%.5f,\n", s.Duration)
		b.WriteString(s.URI)
		b.WriteByte('\n')
	}
	if p.EndList {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return []byte(b.String())
}

// Variant describes one rendition of the master playlist.
type Variant struct {
	// Name identifies the variant within the writer, e.g. "video" or "audio".
	Name string
	// Audio marks an audio rendition that goes into the audio group.
	Audio     bool
	Bandwidth uint32
	Codecs    string
	Width     uint32
	Height    uint32
}

// EncodeMaster renders the master playlist. primary is the variant served at
// index.m3u8; audio, when non-nil, is announced as an alternate rendition in
// group "aud" at audio/index.m3u8.
func EncodeMaster(primary *Variant, audio *Variant) []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:7\n")

	codecs := primary.Codecs
	bandwidth := primary.Bandwidth
	if audio != nil {
		fmt.Fprintf(&b, "#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"aud\",NAME=\"audio\","+
			"DEFAULT=YES,AUTOSELECT=YES,URI=\"audio/index.m3u8\"\n")
		if audio.Codecs != "" {
			codecs = codecs + "," + audio.Codecs
		}
		bandwidth += audio.Bandwidth
	}

	attrs := []string{fmt.Sprintf("BANDWIDTH=%d", bandwidth)}
	if codecs != "" {
		attrs = append(attrs, fmt.Sprintf("CODECS=%q", codecs))
	}
	if primary.Width > 0 && primary.Height > 0 {
		attrs = append(attrs, fmt.Sprintf("RESOLUTION=%dx%d", primary.Width, primary.Height))
	}
	if audio != nil {
		attrs = append(attrs, `AUDIO="aud"`)
	}
	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:%s\n", strings.Join(attrs, ","))
	b.WriteString("index.m3u8\n")
	return []byte(b.String())
}
