// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReallocInPlaceGrow(t *testing.T) {
	for _, p := range allPolicies {
		t.Run(p.String(), func(t *testing.T) {
			m := newTestHeap(t, policyConfig(p))
			a, err := m.Malloc(16)
			require.NoError(t, err)
			b, err := m.Malloc(16)
			require.NoError(t, err)
			fill(m.Bytes(a), 1)
			m.Free(b)

			a2, err := m.Realloc(a, 24)
			require.NoError(t, err)
			assert.Equal(t, a, a2)
			assert.GreaterOrEqual(t, m.UsableSize(a2), 24)
			checkPattern(t, m.Bytes(a2)[:16], 1)
		})
	}
}

func TestReallocMove(t *testing.T) {
	for _, p := range allPolicies {
		t.Run(p.String(), func(t *testing.T) {
			m := newTestHeap(t, policyConfig(p))
			a, err := m.Malloc(16)
			require.NoError(t, err)
			_, err = m.Malloc(16) // a's neighbour stays allocated
			require.NoError(t, err)
			fill(m.Bytes(a), 7)
			old := append([]byte(nil), m.Bytes(a)...)

			a2, err := m.Realloc(a, 100)
			require.NoError(t, err)
			assert.NotEqual(t, a, a2)
			assert.Equal(t, old, m.Bytes(a2)[:len(old)])
			assert.False(t, m.isAlloc(a), "old block not freed")
			assert.Equal(t, uint64(2), m.MUsage().Blocks)
		})
	}
}

func TestReallocFits(t *testing.T) {
	m := newTestHeap(t, DefaultConfig())
	a, err := m.Malloc(100) // 112 bytes block, 104 usable
	require.NoError(t, err)
	_, err = m.Malloc(8)
	require.NoError(t, err)
	before := takeSnapshot(m)

	for _, n := range []int{1, 50, 100, 104} {
		a2, err := m.Realloc(a, n)
		require.NoError(t, err)
		assert.Equal(t, a, a2, "size %d", n)
	}
	assert.Equal(t, before, takeSnapshot(m), "no-op realloc changed the heap")
}

func TestReallocAbsorbWhole(t *testing.T) {
	m := newTestHeap(t, DefaultConfig())
	a, err := m.Malloc(24) // 32 bytes blocks
	require.NoError(t, err)
	b, err := m.Malloc(24)
	require.NoError(t, err)
	_, err = m.Malloc(24)
	require.NoError(t, err)
	m.Free(b)
	nfree := m.FreeBlocks()

	// 56 bytes needed out of 64: the 8 bytes rest is too small for a block
	a2, err := m.Realloc(a, 48)
	require.NoError(t, err)
	assert.Equal(t, a, a2)
	assert.Equal(t, uint32(64), m.blkSize(a))
	assert.Equal(t, nfree-1, m.FreeBlocks())
}

func TestReallocAbsorbSplit(t *testing.T) {
	m := newTestHeap(t, DefaultConfig())
	a, err := m.Malloc(24)
	require.NoError(t, err)
	b, err := m.Malloc(24)
	require.NoError(t, err)
	_, err = m.Malloc(24)
	require.NoError(t, err)
	m.Free(b)
	nfree := m.FreeBlocks()

	a2, err := m.Realloc(a, 40)
	require.NoError(t, err)
	assert.Equal(t, a, a2)
	assert.Equal(t, uint32(48), m.blkSize(a))
	// the 16 bytes rest goes back in the free list
	assert.Equal(t, nfree, m.FreeBlocks())
	rest := m.nextBlk(a)
	assert.False(t, m.isAlloc(rest))
	assert.Equal(t, uint32(16), m.blkSize(rest))
}

func TestReallocSpecialSizes(t *testing.T) {
	m := newTestHeap(t, DefaultConfig())

	p, err := m.Realloc(Nil, 10)
	require.NoError(t, err)
	require.NotEqual(t, Nil, p)
	assert.GreaterOrEqual(t, m.UsableSize(p), 10)

	before := takeSnapshot(m)
	_, err = m.Realloc(p, -1)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = m.Realloc(p, MaxAlloc+1)
	assert.ErrorIs(t, err, ErrInvalidSize)
	assert.Equal(t, before, takeSnapshot(m))

	p2, err := m.Realloc(p, 0)
	require.NoError(t, err)
	assert.Equal(t, Nil, p2)
	assert.Zero(t, m.MUsage().Blocks, "Realloc(p, 0) must free p")

	p3, err := m.Realloc(Nil, 0)
	require.NoError(t, err)
	assert.Equal(t, Nil, p3)
}

func TestReallocNoMemKeepsBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkSize = 256
	m := newTestHeapSize(t, cfg, 4096)

	a, err := m.Malloc(100)
	require.NoError(t, err)
	fill(m.Bytes(a), 3)

	a2, err := m.Realloc(a, 8000)
	assert.ErrorIs(t, err, ErrNoMem)
	assert.Equal(t, Nil, a2)
	assert.True(t, m.isAlloc(a))
	checkPattern(t, m.Bytes(a), 3)
	assert.NoError(t, m.CheckHeap())
}

func TestReallocFreed(t *testing.T) {
	m := newTestHeap(t, DefaultConfig())
	a, err := m.Malloc(32)
	require.NoError(t, err)
	_, err = m.Malloc(32)
	require.NoError(t, err)
	m.Free(a)
	assert.Panics(t, func() { _, _ = m.Realloc(a, 64) })

	// the lock must have been released by the panic
	_, err = m.Malloc(8)
	assert.NoError(t, err)
}
