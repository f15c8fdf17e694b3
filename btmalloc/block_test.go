// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackUnpack(t *testing.T) {
	tests := []struct {
		size  uint32
		alloc bool
		word  uint32
	}{
		{0, true, 1},
		{16, false, 16},
		{16, true, 17},
		{4096, false, 4096},
		{1 << 30, true, 1<<30 | 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.word, pack(tt.size, tt.alloc), "pack(%d, %v)", tt.size, tt.alloc)
		s, a := unpack(tt.word)
		assert.Equal(t, tt.size, s)
		assert.Equal(t, tt.alloc, a)
	}
}

func TestUnpackIgnoresLowBits(t *testing.T) {
	s, a := unpack(24 | 6)
	assert.Equal(t, uint32(24), s)
	assert.False(t, a)
}

func TestAdjustSize(t *testing.T) {
	tests := []struct {
		n, want uint32
	}{
		{1, 16},
		{8, 16},
		{9, 24},
		{16, 24},
		{24, 32},
		{32, 40},
		{56, 64},
		{90, 104},
		{100, 112},
		{4096, 4104},
	}
	for _, tt := range tests {
		got := adjustSize(tt.n)
		assert.Equal(t, tt.want, got, "adjustSize(%d)", tt.n)
		assert.Zero(t, got%DSize)
		assert.GreaterOrEqual(t, got, tt.n+Overhead)
	}
}

func TestBlockNavigation(t *testing.T) {
	m := newTestHeap(t, DefaultConfig())
	a, err := m.Malloc(16)
	assert.NoError(t, err)
	b, err := m.Malloc(40)
	assert.NoError(t, err)

	assert.Equal(t, b, m.nextBlk(a))
	assert.Equal(t, a, m.prevBlk(b))
	assert.Equal(t, prologue, m.prevBlk(a))
	assert.Equal(t, m.get(hdrp(b)), m.get(m.ftrp(b)))
	assert.Equal(t, uint32(b)-WSize, m.ftrp(a)+WSize, "footer of a must precede header of b")
}
