// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streamshift/dash2hls/internal"
	"github.com/streamshift/dash2hls/pkg/dash"
	"github.com/streamshift/dash2hls/pkg/decrypt"
	"github.com/streamshift/dash2hls/pkg/download"
	"github.com/streamshift/dash2hls/pkg/hls"
)

// maxConsecutiveFailures is the number of cycles the same segment (or the
// manifest refresh) may fail before the session goes to error.
const maxConsecutiveFailures = 10

// Session drives one DASH to HLS conversion. Its loop runs in a dedicated
// goroutine; the control plane reads snapshots via Info() under the
// session lock.
type Session struct {
	ID        string
	cfg       StreamConfig
	outputDir string

	client *download.Client
	dec    *decrypt.Decryptor
	writer *hls.Writer
	keyMap map[string]string

	cancel context.CancelFunc
	done   chan struct{}

	// variant runtime state, owned by the session goroutine
	variants     []*variantRun
	manifest     *dash.Manifest
	refreshFails int

	mu        sync.Mutex
	status    Status
	errMsg    string
	video     *VariantInfo
	audio     *VariantInfo
	createdAt time.Time
	updatedAt time.Time
}

type variantRun struct {
	name      string
	repID     string
	timescale uint32
	rep       *dash.Representation
	processed *numberHistory
	// lastNumber is the highest segment number emitted, -1 before any.
	lastNumber    int64
	failingNumber int64
	failCount     int
}

func newSession(id string, cfg StreamConfig, outputDir string, fetchTimeout time.Duration) *Session {
	now := time.Now()
	dec := decrypt.New(cfg.MP4DecryptPath)
	return &Session{
		ID:        id,
		cfg:       cfg,
		outputDir: outputDir,
		client:    download.New(fetchTimeout, cfg.Headers),
		dec:       dec,
		done:      make(chan struct{}),
		status:    StatusStarting,
		createdAt: now,
		updatedAt: now,
	}
}

// start launches the session loop. ctx bounds the whole session lifetime.
func (s *Session) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.run(ctx)
}

// stop cancels the session and waits for its goroutine to finish.
func (s *Session) stop() {
	s.mu.Lock()
	if s.status == StatusStarting || s.status == StatusRunning {
		s.status = StatusStopping
		s.updatedAt = time.Now()
	}
	s.mu.Unlock()
	s.cancel()
	<-s.done
}

// Info returns a control-plane snapshot.
func (s *Session) Info() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamInfo{
		ID:        s.ID,
		Status:    s.status,
		Label:     s.cfg.Label,
		MPDURL:    s.cfg.MPDURL,
		HLSURL:    "/hls/" + s.ID + "/master.m3u8",
		Video:     s.video,
		Audio:     s.audio,
		Error:     s.errMsg,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	if err := s.startup(ctx); err != nil {
		if ctx.Err() != nil {
			s.setStatus(StatusStopped)
			return
		}
		s.setError(fmt.Sprintf("startup: %s", err))
		return
	}
	s.setStatus(StatusRunning)
	s.loop(ctx)
}

// startup performs the one-time work: fetch and parse the MPD, select
// representations, resolve keys, create the writer, and write the init
// segments. Any failure here is fatal for the session.
func (s *Session) startup(ctx context.Context) error {
	raw, err := s.client.Fetch(ctx, s.cfg.MPDURL)
	if err != nil {
		return fmt.Errorf("fetch manifest: %w", err)
	}
	mf, err := dash.Parse(raw, s.cfg.MPDURL, time.Now())
	if err != nil {
		return err
	}
	s.manifest = mf

	reps, err := dash.Select(mf, s.cfg.RepresentationID)
	if err != nil {
		return err
	}

	var hlsVariants []hls.Variant
	for _, rep := range reps {
		vr := &variantRun{
			name:       string(rep.Kind),
			repID:      rep.ID,
			timescale:  rep.Timescale,
			rep:        rep,
			processed:  newNumberHistory(s.cfg.HistorySize),
			lastNumber: -1,
		}
		s.variants = append(s.variants, vr)
		hlsVariants = append(hlsVariants, hls.Variant{
			Name:      vr.name,
			Audio:     rep.Kind == dash.KindAudio,
			Bandwidth: rep.Bandwidth,
			Codecs:    rep.Codecs,
			Width:     rep.Width,
			Height:    rep.Height,
		})
		s.publishVariantInfo(rep)
	}

	w, err := hls.NewWriter(s.outputDir, s.cfg.WindowSize, !mf.Dynamic, hlsVariants)
	if err != nil {
		return err
	}
	s.writer = w

	for _, vr := range s.variants {
		initData, err := s.client.Fetch(ctx, vr.rep.InitURL)
		if err != nil {
			return fmt.Errorf("fetch init for %s: %w", vr.name, err)
		}
		if err := s.resolveKeys(vr.rep, initData); err != nil {
			return err
		}
		if len(s.keyMap) > 0 {
			initData, err = s.dec.Decrypt(ctx, initData, s.keyMap)
			if err != nil {
				return fmt.Errorf("decrypt init for %s: %w", vr.name, err)
			}
		}
		if err := s.writer.WriteInit(vr.name, initData); err != nil {
			return err
		}
	}

	if err := s.writeMeta(); err != nil {
		slog.Warn("could not write stream metadata", "stream", s.ID, "err", err)
	}
	return nil
}

// resolveKeys builds the KID to key map once. With an explicit key but no
// KID, the KID comes from the manifest's ContentProtection, or as a last
// resort from the init segment's tenc box.
func (s *Session) resolveKeys(rep *dash.Representation, initData []byte) error {
	if s.keyMap != nil {
		return nil
	}
	if len(s.cfg.KeyMap) > 0 {
		s.keyMap = make(map[string]string, len(s.cfg.KeyMap))
		for kid, key := range s.cfg.KeyMap {
			s.keyMap[dash.NormalizeHex16(kid)] = dash.NormalizeHex16(key)
		}
		return nil
	}
	if s.cfg.Key == "" {
		s.keyMap = map[string]string{}
		return nil
	}
	kid := dash.NormalizeHex16(s.cfg.KID)
	if kid == "" {
		kid = rep.DefaultKID
	}
	if kid == "" {
		probed, err := decrypt.ProbeDefaultKID(initData)
		if err != nil {
			return fmt.Errorf("key given but no KID found in manifest or init segment: %w", err)
		}
		kid = probed
		slog.Info("KID probed from init segment", "stream", s.ID, "kid", kid)
	}
	s.keyMap = map[string]string{kid: dash.NormalizeHex16(s.cfg.Key)}
	return nil
}

func (s *Session) loop(ctx context.Context) {
	pollInterval := time.Duration(s.cfg.PollIntervalS * float64(time.Second))
	if mup := s.manifest.MinimumUpdatePeriod; mup > pollInterval {
		pollInterval = mup
	}
	for {
		if done := s.cycle(ctx); done {
			return
		}
		select {
		case <-ctx.Done():
			s.setStatus(StatusStopped)
			return
		case <-time.After(pollInterval):
		}
	}
}

// cycle runs one refresh iteration and reports whether the session is done.
func (s *Session) cycle(ctx context.Context) bool {
	if s.manifest.Dynamic {
		if fatal := s.refreshManifest(ctx); fatal {
			return true
		}
	}

	var wg sync.WaitGroup
	fatalErrs := make([]error, len(s.variants))
	for i, vr := range s.variants {
		wg.Add(1)
		go func(i int, vr *variantRun) {
			defer wg.Done()
			fatalErrs[i] = s.processVariant(ctx, vr)
		}(i, vr)
	}
	wg.Wait()

	if ctx.Err() != nil {
		s.setStatus(StatusStopped)
		return true
	}
	for _, err := range fatalErrs {
		if err != nil {
			s.setError(err.Error())
			return true
		}
	}

	if !s.manifest.Dynamic && s.allEmitted() {
		s.setStatus(StatusStopping)
		if err := s.writer.Finalize(); err != nil {
			s.setError(fmt.Sprintf("finalize: %s", err))
			return true
		}
		s.setStatus(StatusStopped)
		slog.Info("VOD conversion complete", "stream", s.ID)
		return true
	}
	return false
}

// refreshManifest refetches and reparses a dynamic MPD. Failures keep the
// previous manifest; too many in a row are fatal.
func (s *Session) refreshManifest(ctx context.Context) (fatal bool) {
	raw, err := s.client.Fetch(ctx, s.cfg.MPDURL)
	var mf *dash.Manifest
	if err == nil {
		mf, err = dash.Parse(raw, s.cfg.MPDURL, time.Now())
	}
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		countManifestRefresh("error")
		s.refreshFails++
		slog.Warn("manifest refresh failed", "stream", s.ID,
			"fails", s.refreshFails, "err", err)
		if s.refreshFails > maxConsecutiveFailures {
			s.setError(fmt.Sprintf("manifest refresh failed %d times: %s",
				s.refreshFails, err))
			return true
		}
		return false
	}
	countManifestRefresh("ok")
	s.refreshFails = 0
	s.manifest = mf
	for _, vr := range s.variants {
		rep := findRep(mf, vr.repID)
		if rep == nil {
			slog.Warn("representation vanished from manifest, keeping previous",
				"stream", s.ID, "rep", vr.repID)
			continue
		}
		if rep.InitURL != vr.rep.InitURL {
			slog.Info("init segment URL changed", "stream", s.ID, "rep", vr.repID,
				"old", vr.rep.InitURL, "new", rep.InitURL)
			if err := s.updateInit(ctx, vr, rep); err != nil {
				// Keep the previous representation so segments still match
				// the init on disk; retried on the next refresh.
				slog.Warn("init refresh failed, keeping previous representation",
					"stream", s.ID, "rep", vr.repID, "err", err)
				continue
			}
		}
		if rep.Timescale != vr.timescale {
			slog.Info("timescale changed", "stream", s.ID, "rep", vr.repID,
				"old", vr.timescale, "new", rep.Timescale)
			vr.timescale = rep.Timescale
			if err := s.writer.MarkDiscontinuity(vr.name); err != nil {
				slog.Error("could not mark discontinuity", "err", err)
			}
		}
		vr.rep = rep
	}
	return false
}

// updateInit refetches a variant's init segment after its URL changed in a
// refresh. The writer's byte-compare marks a discontinuity when the content
// actually differs.
func (s *Session) updateInit(ctx context.Context, vr *variantRun, rep *dash.Representation) error {
	initData, err := s.client.Fetch(ctx, rep.InitURL)
	if err != nil {
		return fmt.Errorf("fetch init for %s: %w", vr.name, err)
	}
	if len(s.keyMap) > 0 {
		initData, err = s.dec.Decrypt(ctx, initData, s.keyMap)
		if err != nil {
			return fmt.Errorf("decrypt init for %s: %w", vr.name, err)
		}
	}
	return s.writer.WriteInit(vr.name, initData)
}

// processVariant emits all newly available segments of one variant in
// ascending number order. A missing (404) or failing segment ends the
// cycle for this variant so numbering stays contiguous; the segment is
// retried next cycle. A non-nil return is fatal for the session.
func (s *Session) processVariant(ctx context.Context, vr *variantRun) error {
	for _, seg := range vr.rep.Segments {
		if ctx.Err() != nil {
			return nil
		}
		// Playlist numbers are strictly increasing, so anything at or below
		// the high-water mark is stale even if it fell out of the FIFO.
		if seg.Number <= vr.lastNumber || vr.processed.Contains(seg.Number) {
			continue
		}
		data, err := s.client.Fetch(ctx, seg.URL)
		if errors.Is(err, download.ErrNotFound) {
			slog.Debug("segment not yet available", "stream", s.ID,
				"variant", vr.name, "nr", seg.Number)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return vr.fail(s.ID, seg.Number, err)
		}
		countSegmentDownloaded(vr.name)
		if len(s.keyMap) > 0 {
			data, err = s.dec.Decrypt(ctx, data, s.keyMap)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return vr.fail(s.ID, seg.Number, err)
			}
			countSegmentDecrypted(vr.name)
		}
		if err := s.writer.AppendSegment(vr.name, seg.Number,
			seg.DurSeconds(vr.rep.Timescale), data); err != nil {
			return vr.fail(s.ID, seg.Number, err)
		}
		vr.processed.Add(seg.Number)
		if seg.Number > vr.lastNumber {
			vr.lastNumber = seg.Number
		}
		vr.clearFailure()
		s.touch()
	}
	return nil
}

// fail records a per-segment failure. The same segment failing more than
// maxConsecutiveFailures cycles in a row escalates to a fatal error.
func (vr *variantRun) fail(streamID string, number int64, err error) error {
	countSegmentFailed(vr.name)
	if vr.failingNumber == number {
		vr.failCount++
	} else {
		vr.failingNumber = number
		vr.failCount = 1
	}
	slog.Warn("segment failed", "stream", streamID, "variant", vr.name,
		"nr", number, "fails", vr.failCount, "err", err)
	if vr.failCount > maxConsecutiveFailures {
		return fmt.Errorf("segment %d of %s failed %d consecutive cycles: %w",
			number, vr.name, vr.failCount, err)
	}
	return nil
}

func (vr *variantRun) clearFailure() {
	vr.failingNumber = 0
	vr.failCount = 0
}

// allEmitted reports whether every enumerated segment of every variant has
// been processed.
func (s *Session) allEmitted() bool {
	for _, vr := range s.variants {
		for _, seg := range vr.rep.Segments {
			if !vr.processed.Contains(seg.Number) {
				return false
			}
		}
	}
	return true
}

func findRep(mf *dash.Manifest, id string) *dash.Representation {
	for _, r := range mf.Representations {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *Session) publishVariantInfo(rep *dash.Representation) {
	info := &VariantInfo{
		RepID:     rep.ID,
		Bandwidth: rep.Bandwidth,
		Codecs:    rep.Codecs,
		Width:     rep.Width,
		Height:    rep.Height,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rep.Kind == dash.KindAudio {
		s.audio = info
	} else {
		s.video = info
	}
}

func (s *Session) writeMeta() error {
	s.mu.Lock()
	meta := internal.StreamMeta{
		ID:      s.ID,
		Label:   s.cfg.Label,
		MPDURL:  s.cfg.MPDURL,
		Live:    s.manifest.Dynamic,
		Video:   variantMeta(s.video),
		Audio:   variantMeta(s.audio),
		Created: s.createdAt,
	}
	s.mu.Unlock()
	return internal.WriteStreamMeta(s.outputDir, &meta)
}

func variantMeta(v *VariantInfo) *internal.VariantMeta {
	if v == nil {
		return nil
	}
	return &internal.VariantMeta{
		RepID:     v.RepID,
		Bandwidth: v.Bandwidth,
		Codecs:    v.Codecs,
		Width:     v.Width,
		Height:    v.Height,
	}
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusError || s.status == StatusStopped {
		return
	}
	s.status = st
	s.updatedAt = time.Now()
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.errMsg = msg
	s.updatedAt = time.Now()
	slog.Error("session failed", "stream", s.ID, "err", msg)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
}
