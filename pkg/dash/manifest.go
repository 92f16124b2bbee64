// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

// Package dash parses DASH MPD manifests and enumerates their media segments.
package dash

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	m "github.com/Eyevinn/dash-mpd/mpd"
)

// Kind is the track kind of an adaptation set or representation.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindText  Kind = "text"
)

// Manifest is the parsed view of one MPD needed to drive a conversion.
// It is immutable after Parse. Only the first period is represented.
type Manifest struct {
	// URL is the request URL the MPD was fetched from.
	URL string
	// Dynamic is true for live (type="dynamic") MPDs.
	Dynamic                    bool
	MediaPresentationDuration  time.Duration
	MinimumUpdatePeriod        time.Duration
	TimeShiftBufferDepth       time.Duration
	SuggestedPresentationDelay time.Duration
	AvailabilityStartTime      time.Time
	PeriodID                   string
	PeriodStart                time.Duration
	Representations            []*Representation
}

// Representation is one selectable rendition with its enumerated segments.
type Representation struct {
	ID         string
	Kind       Kind
	Bandwidth  uint32
	Codecs     string
	MimeType   string
	Width      uint32
	Height     uint32
	FrameRate  string
	// DefaultKID is the normalized (32 lowercase hex chars) cenc:default_KID,
	// or empty when the representation is not protected.
	DefaultKID string
	Timescale  uint32
	InitURL    string
	Segments   []SegmentRef
}

// SegmentRef addresses one media segment of a representation.
type SegmentRef struct {
	Number   int64
	Time     uint64
	DurTicks uint64
	URL      string
}

// DurSeconds returns the segment duration in seconds given the representation timescale.
func (s SegmentRef) DurSeconds(timescale uint32) float64 {
	if timescale == 0 {
		timescale = 1
	}
	return float64(s.DurTicks) / float64(timescale)
}

const (
	// fallbackSegmentCount is used for static MPDs without any known total duration.
	fallbackSegmentCount = 200
	// maxTimelineRepeat caps open-ended (r < 0) SegmentTimeline entries for live.
	maxTimelineRepeat = 30
)

// Parse parses MPD XML into a Manifest. mpdURL is the request URL and seeds
// the BaseURL resolution chain. now is the wall-clock reference for the
// live availability window.
func Parse(data []byte, mpdURL string, now time.Time) (*Manifest, error) {
	mpd, err := m.MPDFromBytes(data)
	if err != nil {
		return nil, &ParseError{Kind: ParseErrXML, Err: err}
	}
	base, err := baseDir(mpdURL)
	if err != nil {
		return nil, &ParseError{Kind: ParseErrURL, Err: err}
	}
	base = resolveBaseURLs(base, mpd.BaseURL)

	mf := Manifest{
		URL:     mpdURL,
		Dynamic: mpd.Type != nil && *mpd.Type == "dynamic",
	}
	if mpd.MediaPresentationDuration != nil {
		mf.MediaPresentationDuration = time.Duration(*mpd.MediaPresentationDuration)
	}
	if mpd.MinimumUpdatePeriod != nil {
		mf.MinimumUpdatePeriod = time.Duration(*mpd.MinimumUpdatePeriod)
	}
	if mpd.TimeShiftBufferDepth != nil {
		mf.TimeShiftBufferDepth = time.Duration(*mpd.TimeShiftBufferDepth)
	}
	if mpd.SuggestedPresentationDelay != nil {
		mf.SuggestedPresentationDelay = time.Duration(*mpd.SuggestedPresentationDelay)
	}
	if mpd.AvailabilityStartTime != "" {
		t, err := time.Parse(time.RFC3339, string(mpd.AvailabilityStartTime))
		if err != nil {
			return nil, &ParseError{Kind: ParseErrInvalid,
				Err: fmt.Errorf("availabilityStartTime: %w", err)}
		}
		mf.AvailabilityStartTime = t
	}

	if len(mpd.Periods) == 0 {
		return nil, &ParseError{Kind: ParseErrInvalid, Err: fmt.Errorf("no Period in MPD")}
	}
	if len(mpd.Periods) > 1 {
		slog.Warn("MPD has multiple periods, only the first is used",
			"url", mpdURL, "nrPeriods", len(mpd.Periods))
	}
	p := mpd.Periods[0]
	mf.PeriodID = p.Id
	if p.Start != nil {
		mf.PeriodStart = time.Duration(*p.Start)
	}
	periodDur := mf.MediaPresentationDuration
	if d, err := p.GetDuration(); err == nil && d > 0 {
		periodDur = time.Duration(d)
	}
	periodBase := resolveBaseURLs(base, p.BaseURLs)

	for _, as := range p.AdaptationSets {
		asBase := resolveBaseURLs(periodBase, as.BaseURLs)
		for _, rep := range as.Representations {
			if rep.Id == "" {
				continue
			}
			kind := inferKind(as, rep)
			if kind != KindVideo && kind != KindAudio {
				continue
			}
			st := effectiveSegmentTemplate(p.SegmentTemplate, as.SegmentTemplate, rep.SegmentTemplate)
			if st == nil || st.media == "" {
				slog.Debug("representation without SegmentTemplate media skipped", "rep", rep.Id)
				continue
			}
			repBase := resolveBaseURLs(asBase, rep.BaseURLs)

			r := &Representation{
				ID:         rep.Id,
				Kind:       kind,
				Bandwidth:  rep.Bandwidth,
				Codecs:     rep.GetCodecs(),
				MimeType:   rep.GetMimeType(),
				Width:      rep.Width,
				Height:     rep.Height,
				DefaultKID: defaultKID(as, rep),
				Timescale:  st.timescale,
			}
			vals := templateValues{
				RepresentationID: rep.Id,
				Bandwidth:        int64(rep.Bandwidth),
			}
			if st.initialization != "" {
				initPath := fillTemplate(st.initialization, vals)
				r.InitURL = resolveURL(repBase, initPath)
			}
			r.Segments = enumerateSegments(st, vals, repBase, &mf, periodDur, now)
			if r.InitURL == "" || len(r.Segments) == 0 {
				slog.Debug("representation without init or segments skipped", "rep", rep.Id)
				continue
			}
			mf.Representations = append(mf.Representations, r)
		}
	}
	return &mf, nil
}

// segmentTemplate is the attribute-merged view over the Period, AdaptationSet,
// and Representation SegmentTemplate elements.
type segmentTemplate struct {
	initialization string
	media          string
	timescale      uint32
	duration       uint64
	startNumber    int64
	pto            uint64
	timeline       *m.SegmentTimelineType
}

func effectiveSegmentTemplate(sts ...*m.SegmentTemplateType) *segmentTemplate {
	eff := segmentTemplate{timescale: 1, startNumber: 1}
	found := false
	for _, st := range sts {
		if st == nil {
			continue
		}
		found = true
		if st.Initialization != "" {
			eff.initialization = st.Initialization
		}
		if st.Media != "" {
			eff.media = st.Media
		}
		if st.Timescale != nil && *st.Timescale > 0 {
			eff.timescale = *st.Timescale
		}
		if st.Duration != nil {
			eff.duration = uint64(*st.Duration)
		}
		if st.StartNumber != nil {
			eff.startNumber = int64(*st.StartNumber)
		}
		if st.PresentationTimeOffset != nil {
			eff.pto = *st.PresentationTimeOffset
		}
		if st.SegmentTimeline != nil {
			eff.timeline = st.SegmentTimeline
		}
	}
	if !found {
		return nil
	}
	return &eff
}

// enumerateSegments expands the template into concrete segment references.
// For a SegmentTimeline the entries define the list. Otherwise the count
// comes from the total duration (static) or the wall clock (dynamic).
func enumerateSegments(st *segmentTemplate, vals templateValues, base string,
	mf *Manifest, totalDur time.Duration, now time.Time) []SegmentRef {
	if st.timeline != nil {
		return expandTimeline(st, vals, base, mf.Dynamic)
	}
	if st.duration == 0 {
		return nil
	}
	segDur := time.Duration(st.duration * uint64(time.Second) / uint64(st.timescale))
	if segDur <= 0 {
		return nil
	}

	firstNr := st.startNumber
	var count int64
	if !mf.Dynamic {
		if totalDur > 0 {
			count = int64((totalDur + segDur - 1) / segDur)
		} else {
			count = fallbackSegmentCount
		}
	} else {
		elapsed := now.Sub(mf.AvailabilityStartTime) - mf.PeriodStart
		elapsed -= mf.SuggestedPresentationDelay
		if elapsed <= 0 {
			return nil
		}
		count = int64(elapsed / segDur)
		if tsbd := mf.TimeShiftBufferDepth; tsbd > 0 {
			if backlog := int64(tsbd/segDur) + 1; backlog < count {
				firstNr += count - backlog
				count = backlog
			}
		}
	}

	segs := make([]SegmentRef, 0, count)
	for i := int64(0); i < count; i++ {
		nr := firstNr + i
		t := st.pto + uint64(nr-st.startNumber)*st.duration
		v := vals
		v.Number = nr
		v.Time = int64(t)
		segs = append(segs, SegmentRef{
			Number:   nr,
			Time:     t,
			DurTicks: st.duration,
			URL:      resolveURL(base, fillTemplate(st.media, v)),
		})
	}
	return segs
}

// expandTimeline expands SegmentTimeline (t, d, r) entries. Numbers start at
// startNumber and increase by one per expanded entry. An omitted t continues
// from the previous entry's end.
func expandTimeline(st *segmentTemplate, vals templateValues, base string, dynamic bool) []SegmentRef {
	var segs []SegmentRef
	nr := st.startNumber
	t := st.pto
	for _, s := range st.timeline.S {
		if s == nil || s.D == 0 {
			continue
		}
		if s.T != nil {
			t = *s.T
		}
		repeat := s.R
		if repeat < 0 {
			if dynamic {
				repeat = maxTimelineRepeat
			} else {
				repeat = 0
			}
		}
		for i := 0; i <= repeat; i++ {
			v := vals
			v.Number = nr
			v.Time = int64(t)
			segs = append(segs, SegmentRef{
				Number:   nr,
				Time:     t,
				DurTicks: s.D,
				URL:      resolveURL(base, fillTemplate(st.media, v)),
			})
			nr++
			t += s.D
		}
	}
	return segs
}

var kidCleanRe = regexp.MustCompile(`^[0-9a-f]{32}$`)

// defaultKID returns the normalized cenc:default_KID from ContentProtection
// elements, with Representation taking precedence over AdaptationSet.
func defaultKID(as *m.AdaptationSetType, rep *m.RepresentationType) string {
	for _, cps := range [][]*m.ContentProtectionType{rep.ContentProtections, as.ContentProtections} {
		for _, cp := range cps {
			if cp == nil || cp.DefaultKID == "" {
				continue
			}
			kid := NormalizeHex16(cp.DefaultKID)
			if kid != "" {
				return kid
			}
		}
	}
	return ""
}

// NormalizeHex16 normalizes a 16-byte hex id (KID or key) by removing hyphens
// and an 0x prefix and lowercasing. It returns "" if the result is not
// 32 hex characters.
func NormalizeHex16(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "-", ""))
	s = strings.TrimPrefix(s, "0x")
	if !kidCleanRe.MatchString(s) {
		return ""
	}
	return s
}

// inferKind determines whether the representation carries video or audio.
// Explicit contentType wins, then MIME type, then codec string prefixes.
func inferKind(as *m.AdaptationSetType, rep *m.RepresentationType) Kind {
	switch string(as.ContentType) {
	case "video":
		return KindVideo
	case "audio":
		return KindAudio
	case "text":
		return KindText
	}
	mime := rep.GetMimeType()
	if mime == "" {
		mime = as.MimeType
	}
	switch {
	case strings.HasPrefix(mime, "video/"):
		return KindVideo
	case strings.HasPrefix(mime, "audio/"):
		return KindAudio
	}
	codecs := rep.GetCodecs()
	if codecs == "" {
		codecs = as.Codecs
	}
	return kindFromCodecs(codecs)
}

func kindFromCodecs(codecs string) Kind {
	c := strings.ToLower(codecs)
	switch {
	case strings.HasPrefix(c, "mp4a"), strings.HasPrefix(c, "ac-3"), strings.HasPrefix(c, "ec-3"):
		return KindAudio
	case strings.HasPrefix(c, "avc"), strings.HasPrefix(c, "hev"), strings.HasPrefix(c, "hvc"),
		strings.HasPrefix(c, "vp"), strings.HasPrefix(c, "av01"):
		return KindVideo
	}
	return KindText
}

// baseDir returns the directory part of the MPD URL, ending in "/".
func baseDir(mpdURL string) (string, error) {
	u, err := url.Parse(mpdURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("MPD URL %q is not absolute", mpdURL)
	}
	idx := strings.LastIndex(u.Path, "/")
	if idx < 0 {
		u.Path = "/"
	} else {
		u.Path = u.Path[:idx+1]
	}
	u.RawQuery = ""
	return u.String(), nil
}

// resolveBaseURLs applies the first BaseURL element, if any, onto base.
// An absolute BaseURL resets the chain, a relative one composes.
func resolveBaseURLs(base string, urls []*m.BaseURLType) string {
	if len(urls) == 0 || urls[0] == nil {
		return base
	}
	return resolveURL(base, string(urls[0].Value))
}

// resolveURL resolves ref against base per RFC 3986.
func resolveURL(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return base
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
