// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package trace

import (
	"math/rand"
)

// GenConfig parameters for Generate.
type GenConfig struct {
	IDs         int     // number of block ids, each allocated once
	MinSize     int     // min. request size (>0)
	MaxSize     int     // max. request size
	ReallocRate float64 // probability of a realloc instead of a free
	Seed        int64
}

// DefaultGenConfig returns a small mixed-size workload configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{IDs: 1000, MinSize: 1, MaxSize: 2048, ReallocRate: 0.2}
}

// Generate builds a random trace: every id is allocated once, possibly
// reallocated a few times and freed before the end of the trace.
func Generate(g GenConfig) *Trace {
	if g.MinSize < 1 {
		g.MinSize = 1
	}
	if g.MaxSize < g.MinSize {
		g.MaxSize = g.MinSize
	}
	if g.ReallocRate > 0.9 {
		// every id must get freed eventually
		g.ReallocRate = 0.9
	}
	rng := rand.New(rand.NewSource(g.Seed))
	size := func() int {
		return g.MinSize + rng.Intn(g.MaxSize-g.MinSize+1)
	}
	tr := &Trace{NumIDs: g.IDs, Weight: 1}
	var alive []int
	next := 0
	for next < g.IDs || len(alive) > 0 {
		if next < g.IDs && (len(alive) == 0 || rng.Intn(2) == 0) {
			tr.Ops = append(tr.Ops, Op{Kind: Alloc, ID: next, Size: size()})
			alive = append(alive, next)
			next++
			continue
		}
		i := rng.Intn(len(alive))
		if rng.Float64() < g.ReallocRate {
			tr.Ops = append(tr.Ops, Op{Kind: Realloc, ID: alive[i], Size: size()})
			continue
		}
		tr.Ops = append(tr.Ops, Op{Kind: Free, ID: alive[i]})
		alive[i] = alive[len(alive)-1]
		alive = alive[:len(alive)-1]
	}
	tr.SuggestedHeap = g.IDs * g.MaxSize
	return tr
}
