// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

// numberHistory is a bounded FIFO set of segment numbers. Once capacity is
// reached, adding a new number evicts the oldest one. Bounding the set keeps
// memory flat for long-running live sessions.
type numberHistory struct {
	capacity int
	order    []int64
	members  map[int64]struct{}
}

func newNumberHistory(capacity int) *numberHistory {
	if capacity < 1 {
		capacity = 1
	}
	return &numberHistory{
		capacity: capacity,
		members:  make(map[int64]struct{}, capacity),
	}
}

func (h *numberHistory) Add(n int64) {
	if _, ok := h.members[n]; ok {
		return
	}
	if len(h.order) >= h.capacity {
		oldest := h.order[0]
		h.order = h.order[1:]
		delete(h.members, oldest)
	}
	h.order = append(h.order, n)
	h.members[n] = struct{}{}
}

func (h *numberHistory) Contains(n int64) bool {
	_, ok := h.members[n]
	return ok
}

func (h *numberHistory) Len() int {
	return len(h.order)
}
