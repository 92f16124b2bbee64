// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumberHistoryFIFO(t *testing.T) {
	h := newNumberHistory(3)
	for n := int64(1); n <= 3; n++ {
		h.Add(n)
	}
	assert.Equal(t, 3, h.Len())
	assert.True(t, h.Contains(1))

	h.Add(4) // evicts 1
	assert.Equal(t, 3, h.Len())
	assert.False(t, h.Contains(1))
	assert.True(t, h.Contains(2))
	assert.True(t, h.Contains(4))
}

func TestNumberHistoryDuplicateAdd(t *testing.T) {
	h := newNumberHistory(2)
	h.Add(7)
	h.Add(7)
	assert.Equal(t, 1, h.Len())
	h.Add(8)
	h.Add(9)
	assert.False(t, h.Contains(7))
	assert.True(t, h.Contains(8))
	assert.True(t, h.Contains(9))
}
