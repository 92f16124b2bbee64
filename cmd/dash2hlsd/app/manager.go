// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StreamManager owns all running sessions keyed by stream id.
type StreamManager struct {
	outRoot        string
	fetchTimeout   time.Duration
	mp4decryptPath string

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStreamManager(outRoot string, fetchTimeout time.Duration, mp4decryptPath string) *StreamManager {
	return &StreamManager{
		outRoot:        outRoot,
		fetchTimeout:   fetchTimeout,
		mp4decryptPath: mp4decryptPath,
		sessions:       make(map[string]*Session),
	}
}

// Create validates cfg, starts a new session, and returns its snapshot.
func (m *StreamManager) Create(ctx context.Context, cfg StreamConfig) (StreamInfo, error) {
	if cfg.MP4DecryptPath == "" {
		cfg.MP4DecryptPath = m.mp4decryptPath
	}
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return StreamInfo{}, fmt.Errorf("invalid stream config: %w", err)
	}

	id := uuid.NewString()
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(m.outRoot, id)
	}
	sess := newSession(id, cfg, outputDir, m.fetchTimeout)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	sess.start(ctx)
	return sess.Info(), nil
}

// Get returns a snapshot of the session with the given id.
func (m *StreamManager) Get(id string) (StreamInfo, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return StreamInfo{}, false
	}
	return sess.Info(), true
}

// OutputDir returns the stream's HLS directory for file serving.
func (m *StreamManager) OutputDir(id string) (string, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return "", false
	}
	return sess.outputDir, true
}

// List returns snapshots of all sessions, ordered by creation time.
func (m *StreamManager) List() []StreamInfo {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	infos := make([]StreamInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Remove stops the session and forgets it. It blocks until the session's
// goroutine has terminated. The output directory is left on disk.
func (m *StreamManager) Remove(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	sess.stop()
	return true
}

// Shutdown stops all sessions, waiting for each.
func (m *StreamManager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, sess := range sessions {
		sess.stop()
	}
}

// Count returns the number of managed sessions.
func (m *StreamManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
