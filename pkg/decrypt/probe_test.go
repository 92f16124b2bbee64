// Copyright 2024, streamshift. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE.md file.

package decrypt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeDefaultKIDGarbage(t *testing.T) {
	_, err := ProbeDefaultKID([]byte("this is not an mp4 file"))
	assert.Error(t, err)
}
