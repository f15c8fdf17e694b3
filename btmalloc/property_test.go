// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/intuitivelabs/mallocs/memlib"
)

type liveBlock struct {
	p    Ptr
	size int
	seed byte
}

// TestHeapInvariantsProperty runs random malloc/free/realloc sequences
// and checks the whole heap and all the live payloads after each step.
func TestHeapInvariantsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := Config{
			Policy:      rapid.SampledFrom(allPolicies).Draw(t, "policy"),
			ChunkSize:   uint32(rapid.SampledFrom([]int{16, 64, 4096}).Draw(t, "chunk")),
			RepeatLimit: rapid.IntRange(1, 8).Draw(t, "repeat"),
			Options:     BTChecks,
		}
		if rapid.Bool().Draw(t, "guard") {
			cfg.Options |= BTGrowGuard
		}
		m := &BTMalloc{}
		require.NoError(t, m.Init(memlib.New(1<<22), cfg))

		var live []liveBlock
		seed := byte(0)
		steps := rapid.IntRange(1, 120).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			op := rapid.IntRange(0, 2).Draw(t, "op")
			switch {
			case op == 0 || len(live) == 0:
				n := rapid.IntRange(1, 600).Draw(t, "size")
				p, err := m.Malloc(n)
				require.NoError(t, err)
				require.GreaterOrEqual(t, m.UsableSize(p), n)
				seed++
				fill(m.Bytes(p)[:n], seed)
				live = append(live, liveBlock{p, n, seed})
			case op == 1:
				j := rapid.IntRange(0, len(live)-1).Draw(t, "free")
				m.Free(live[j].p)
				live = append(live[:j], live[j+1:]...)
			default:
				j := rapid.IntRange(0, len(live)-1).Draw(t, "realloc")
				n := rapid.IntRange(1, 800).Draw(t, "newsize")
				b := live[j]
				p, err := m.Realloc(b.p, n)
				require.NoError(t, err)
				keep := b.size
				if n < keep {
					keep = n
				}
				checkPattern(t, m.Bytes(p)[:keep], b.seed)
				seed++
				fill(m.Bytes(p)[:n], seed)
				live[j] = liveBlock{p, n, seed}
			}
			if err := m.CheckHeap(); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			require.Equal(t, m.HeapSize(),
				m.Available()+m.MUsage().RealUsed+initOverhead)
		}
		// no live block was overwritten by another one
		for _, b := range live {
			checkPattern(t, m.Bytes(b.p)[:b.size], b.seed)
		}
		for _, b := range live {
			m.Free(b.p)
		}
		require.NoError(t, m.CheckHeap())
		require.Equal(t, 1, m.FreeBlocks())
	})
}

// TestNoAdjacentFreeProperty checks directly that no free block has a
// free neighbour, whatever the free order.
func TestNoAdjacentFreeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := &BTMalloc{}
		require.NoError(t, m.Init(memlib.New(1<<20), Config{Options: BTChecks}))
		n := rapid.IntRange(1, 40).Draw(t, "n")
		ptrs := make([]Ptr, n)
		for i := range ptrs {
			var err error
			ptrs[i], err = m.Malloc(rapid.IntRange(1, 200).Draw(t, "size"))
			require.NoError(t, err)
		}
		order := rapid.Permutation(ptrs).Draw(t, "order")
		for _, p := range order[:len(order)/2+1] {
			m.Free(p)
			m.freeBlocks(func(bp Ptr) bool {
				if !m.isAlloc(m.nextBlk(bp)) || !m.isAlloc(m.prevBlk(bp)) {
					t.Fatalf("free block 0x%x has a free neighbour", uint32(bp))
				}
				return true
			})
		}
	})
}
