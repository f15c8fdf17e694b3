// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

// maxHeapSize is the largest heap addressable with a Ptr.
const maxHeapSize = uint64(^uint32(0)) &^ uint64(DSize-1)

// extendHeap grows the heap by words words (rounded up to an even number,
// at least MinBlockSize bytes), formats the new space as one free block
// and a new epilogue, and returns the (possibly coalesced) free block.
// It returns Nil if the region cannot grow.
func (m *BTMalloc) extendHeap(words uint32) Ptr {
	if words%2 != 0 {
		words++
	}
	size := words * WSize
	if size < MinBlockSize {
		size = MinBlockSize
	}
	if uint64(m.size)+uint64(size) > maxHeapSize {
		if DBGon() {
			DBG("heap size limit reached (%d + %d)\n", m.size, size)
		}
		return Nil
	}
	start, err := m.region.Extend(int(size))
	if err != nil {
		if DBGon() {
			DBG("extend heap by %d bytes failed: %s\n", size, err)
		}
		return Nil
	}
	if start != int(m.size) {
		PANIC("BUG: region returned 0x%x while the heap ends at 0x%x\n",
			start, m.size)
	}
	m.mem = m.region.Bytes()
	m.size += size

	// the new block header replaces the old epilogue
	bp := Ptr(start)
	m.setTags(bp, size, false)
	m.put(hdrp(m.nextBlk(bp)), pack(0, true))
	return m.coalesce(bp)
}

// grow extends the heap for an asize request, by at least the chunk size.
func (m *BTMalloc) grow(asize uint32) Ptr {
	ext := asize
	if ext < m.chunk {
		ext = m.chunk
	}
	return m.extendHeap(ext / WSize)
}

// coalesce merges the free block bp (not yet in the free list) with its
// free neighbours and inserts the result in the free list.
// It returns the merged block.
func (m *BTMalloc) coalesce(bp Ptr) Ptr {
	_, prevAlloc := unpack(m.get(uint32(bp) - DSize)) // previous footer
	next := m.nextBlk(bp)
	nextAlloc := m.isAlloc(next)
	size := m.blkSize(bp)

	switch {
	case prevAlloc && nextAlloc:
	case prevAlloc && !nextAlloc:
		size += m.blkSize(next)
		m.detachFree(next)
		m.setTags(bp, size, false)
	case !prevAlloc && nextAlloc:
		prev := m.prevBlk(bp)
		size += m.blkSize(prev)
		m.detachFree(prev)
		bp = prev
		m.setTags(bp, size, false)
	default:
		prev := m.prevBlk(bp)
		size += m.blkSize(prev) + m.blkSize(next)
		m.detachFree(prev)
		m.detachFree(next)
		bp = prev
		m.setTags(bp, size, false)
	}
	m.insertFree(bp)
	return bp
}

// split turns the first asize bytes of the csize bytes long block bp
// into an allocated block. If the rest is big enough to be a block, it
// becomes a new free block, otherwise the whole block is allocated.
// bp must not be in the free list.
// It returns the final size of the allocated block.
func (m *BTMalloc) split(bp Ptr, csize, asize uint32) uint32 {
	if csize-asize < MinBlockSize {
		m.setTags(bp, csize, true)
		return csize
	}
	m.setTags(bp, asize, true)
	rest := m.nextBlk(bp)
	m.setTags(rest, csize-asize, false)
	m.coalesce(rest)
	return asize
}

// place allocates asize bytes from the free block bp.
func (m *BTMalloc) place(bp Ptr, asize uint32) {
	csize := m.blkSize(bp)
	m.detachFree(bp)
	m.addUsed(m.split(bp, csize, asize))
}
