// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

// Free index: LIFO doubly linked list threaded through the payload of
// free blocks. The list ends on the prologue block, which is always
// allocated, so a scan following next links stops on the first
// allocated block it reaches.

// linkOK checks that the links of bp may be touched (bp is free or is
// the prologue). Only active with BTChecks.
func (m *BTMalloc) linkOK(bp Ptr) {
	if !m.BChecks() || bp == prologue {
		return
	}
	if m.isAlloc(bp) {
		m.dumpStatus()
		PANIC("BUG: free list link access on allocated block 0x%x"+
			" (size %d)\n", uint32(bp), m.blkSize(bp))
	}
}

// prevFree returns the previous free block linked from bp.
func (m *BTMalloc) prevFree(bp Ptr) Ptr {
	m.linkOK(bp)
	return Ptr(m.get(uint32(bp)))
}

// nextFree returns the next free block linked from bp.
func (m *BTMalloc) nextFree(bp Ptr) Ptr {
	m.linkOK(bp)
	return Ptr(m.get(uint32(bp) + WSize))
}

func (m *BTMalloc) setPrevFree(bp, p Ptr) {
	m.linkOK(bp)
	m.put(uint32(bp), uint32(p))
}

func (m *BTMalloc) setNextFree(bp, p Ptr) {
	m.linkOK(bp)
	m.put(uint32(bp)+WSize, uint32(p))
}

// insertFree pushes the free block bp at the head of the free list.
func (m *BTMalloc) insertFree(bp Ptr) {
	m.setNextFree(bp, m.freeHead)
	m.setPrevFree(m.freeHead, bp)
	m.setPrevFree(bp, Nil)
	m.freeHead = bp
	m.freeNo++
}

// detachFree removes the free block bp from the free list.
// It must be called before the tags of bp are changed.
func (m *BTMalloc) detachFree(bp Ptr) {
	prev := m.prevFree(bp)
	next := m.nextFree(bp)
	if prev != Nil {
		m.setNextFree(prev, next)
	} else {
		m.freeHead = next
	}
	m.setPrevFree(next, prev)
	m.freeNo--
	m.fit.detached(bp, next)
}

// freeBlocks calls f for each block in the free list, in list order,
// until f returns false.
func (m *BTMalloc) freeBlocks(f func(bp Ptr) bool) {
	for bp := m.freeHead; !m.isAlloc(bp); bp = m.nextFree(bp) {
		if !f(bp) {
			return
		}
	}
}
