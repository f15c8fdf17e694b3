// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

import (
	"fmt"
	"strings"
)

// Policy selects the free block search strategy.
type Policy uint8

const (
	// FirstFit scans the free list from its head and returns the first
	// block that is large enough.
	FirstFit Policy = iota
	// NextFit resumes the free list scan where the last successful
	// search stopped, wrapping around to the head.
	NextFit
	// ImplicitFit ignores the free list and walks all the heap blocks
	// in address order (slow, used mostly as a reference).
	ImplicitFit
)

var policyNames = [...]string{
	FirstFit:    "first",
	NextFit:     "next",
	ImplicitFit: "implicit",
}

func (p Policy) String() string {
	if int(p) < len(policyNames) {
		return policyNames[p]
	}
	return fmt.Sprintf("Policy(%d)", uint8(p))
}

// ParsePolicy converts a policy name ("first", "next", "implicit") into
// a Policy.
func ParsePolicy(s string) (Policy, error) {
	for p, n := range policyNames {
		if strings.EqualFold(s, n) || strings.EqualFold(s, n+"-fit") ||
			strings.EqualFold(s, n+"fit") {
			return Policy(p), nil
		}
	}
	return FirstFit, fmt.Errorf("%s: unknown fit policy %q", NAME, s)
}

// fitter is a free block search strategy.
type fitter interface {
	// find returns a free block of at least asize bytes or Nil.
	find(asize uint32) Ptr
	// detached is called when bp leaves the free list; next is the
	// block that followed it in the list.
	detached(bp, next Ptr)
}

func newFitter(m *BTMalloc, p Policy) fitter {
	switch p {
	case NextFit:
		return &nextFit{m: m}
	case ImplicitFit:
		return implicitFit{m: m}
	}
	return firstFit{m: m}
}

type firstFit struct {
	m *BTMalloc
}

func (f firstFit) find(asize uint32) Ptr {
	m := f.m
	for bp := m.freeHead; !m.isAlloc(bp); bp = m.nextFree(bp) {
		if m.blkSize(bp) >= asize {
			return bp
		}
	}
	return Nil
}

func (f firstFit) detached(bp, next Ptr) {}

type nextFit struct {
	m     *BTMalloc
	rover Ptr // resume point, Nil for the list head
}

func (f *nextFit) find(asize uint32) Ptr {
	m := f.m
	start := f.rover
	if start == Nil {
		start = m.freeHead
	}
	for bp := start; !m.isAlloc(bp); bp = m.nextFree(bp) {
		if m.blkSize(bp) >= asize {
			f.rover = bp
			return bp
		}
	}
	// wrap around, stop before the resume point
	for bp := m.freeHead; bp != start && !m.isAlloc(bp); bp = m.nextFree(bp) {
		if m.blkSize(bp) >= asize {
			f.rover = bp
			return bp
		}
	}
	return Nil
}

// detached keeps the rover on a block that is still in the free list.
func (f *nextFit) detached(bp, next Ptr) {
	if f.rover != bp {
		return
	}
	if next == prologue {
		f.rover = Nil
	} else {
		f.rover = next
	}
}

type implicitFit struct {
	m *BTMalloc
}

func (f implicitFit) find(asize uint32) Ptr {
	m := f.m
	for bp := m.nextBlk(prologue); m.blkSize(bp) > 0; bp = m.nextBlk(bp) {
		if !m.isAlloc(bp) && m.blkSize(bp) >= asize {
			return bp
		}
	}
	return Nil
}

func (f implicitFit) detached(bp, next Ptr) {}

// skipSearch implements the repeated size growth guard: after more then
// repeatLimit consecutive requests for the same size the free list is
// not searched any more and the heap is extended directly.
// The counter is reset only by a request for a different size.
func (m *BTMalloc) skipSearch(asize uint32) bool {
	if !m.GrowGuard() {
		return false
	}
	if m.lastSize == asize {
		if m.repeat > m.repeatLimit {
			return true
		}
		m.repeat++
	} else {
		m.repeat = 0
	}
	return false
}

// findFit searches for a free block of at least asize bytes, possibly
// growing the heap. It returns Nil if no block could be found and the
// heap could not be extended.
func (m *BTMalloc) findFit(asize uint32) Ptr {
	if m.skipSearch(asize) {
		if DBGon() {
			DBG("size %d requested more then %d times, extending heap\n",
				asize, m.repeatLimit)
		}
		if bp := m.extendHeap(asize / WSize); bp != Nil {
			return bp
		}
		// cannot grow, try to reuse a free block
	}
	if bp := m.fit.find(asize); bp != Nil {
		m.lastSize = asize
		return bp
	}
	return m.grow(asize)
}
