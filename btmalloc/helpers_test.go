// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/intuitivelabs/mallocs/memlib"
)

var allPolicies = []Policy{FirstFit, NextFit, ImplicitFit}

// newTestHeap returns a heap on a 1MB slice region, with all the checks
// turned on.
func newTestHeap(t testing.TB, cfg Config) *BTMalloc {
	t.Helper()
	return newTestHeapSize(t, cfg, 1<<20)
}

func newTestHeapSize(t testing.TB, cfg Config, limit int) *BTMalloc {
	t.Helper()
	m := &BTMalloc{}
	cfg.Options |= BTChecks | BTDebug
	require.NoError(t, m.Init(memlib.New(limit), cfg))
	return m
}

func policyConfig(p Policy) Config {
	cfg := DefaultConfig()
	cfg.Policy = p
	return cfg
}

// snapshot copies the heap memory and bookkeeping.
type snapshot struct {
	mem      []byte
	size     uint32
	used     MUsed
	freeHead Ptr
	freeNo   int
}

func takeSnapshot(m *BTMalloc) snapshot {
	return snapshot{
		mem:      append([]byte(nil), m.mem...),
		size:     m.size,
		used:     m.used,
		freeHead: m.freeHead,
		freeNo:   m.freeNo,
	}
}

// fill writes a pattern derived from seed in b.
func fill(b []byte, seed byte) {
	for i := range b {
		b[i] = seed + byte(i*7)
	}
}

// checkPattern verifies a pattern written with fill.
func checkPattern(t require.TestingT, b []byte, seed byte) {
	for i := range b {
		if b[i] != seed+byte(i*7) {
			require.Failf(t, "payload corrupted",
				"byte %d: got 0x%x, expected 0x%x", i, b[i], seed+byte(i*7))
			return
		}
	}
}

// freeList returns the free list blocks in list order.
func freeList(m *BTMalloc) []Ptr {
	var l []Ptr
	m.freeBlocks(func(bp Ptr) bool {
		l = append(l, bp)
		return true
	})
	return l
}
