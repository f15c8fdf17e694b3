// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

// BlockInfo describes one heap block, as seen by Walk.
type BlockInfo struct {
	Addr     Ptr    // payload start
	Size     uint32 // block size, tags included
	Alloc    bool
	Sentinel bool // prologue or epilogue
}

// Usable returns the payload size of the block.
func (b BlockInfo) Usable() uint32 {
	if b.Size < Overhead {
		return 0
	}
	return b.Size - Overhead
}

// Walk calls f for every block in address order, prologue and epilogue
// included, until f returns false. It does not modify the heap.
// The walk stops early on a block that would end outside the heap.
func (m *BTMalloc) Walk(f func(b BlockInfo) bool) {
	if !m.initialised {
		return
	}
	s, a := unpack(m.get(hdrp(prologue)))
	if !f(BlockInfo{Addr: prologue, Size: s, Alloc: a, Sentinel: true}) {
		return
	}
	for bp := m.nextBlk(prologue); uint32(bp) <= m.size; {
		s, a := unpack(m.get(hdrp(bp)))
		if s == 0 {
			f(BlockInfo{Addr: bp, Size: 0, Alloc: a, Sentinel: true})
			return
		}
		if !f(BlockInfo{Addr: bp, Size: s, Alloc: a}) {
			return
		}
		if uint64(bp)+uint64(s) > uint64(m.size) {
			return
		}
		bp += Ptr(s)
	}
}

// CheckHeap walks the whole heap and the free list and verifies the
// heap invariants:
//   - every block is aligned, at least MinBlockSize long and its header
//     and footer match
//   - no two free blocks are adjacent
//   - the free list contains exactly the free blocks, once each, with
//     consistent back links
//   - the epilogue is the last block (size 0, allocated)
//   - the block sizes add up to the heap size and to the usage stats.
//
// It returns nil or a *HeapError. It does not modify the heap.
func (m *BTMalloc) CheckHeap() error {
	if !m.initialised {
		return ErrNotInit
	}
	if uint64(len(m.mem)) < uint64(m.size) {
		return heapErr(Nil, "region (%d bytes) shorter then heap (%d)",
			len(m.mem), m.size)
	}
	pw := pack(MinBlockSize, true)
	if m.get(hdrp(prologue)) != pw || m.get(m.ftrp(prologue)) != pw {
		return heapErr(prologue, "bad prologue (0x%x/0x%x)",
			m.get(hdrp(prologue)), m.get(m.ftrp(prologue)))
	}

	var total, used, blocks uint64
	free := make(map[Ptr]bool)
	prevFree := false
	bp := m.nextBlk(prologue)
	for {
		if uint32(bp) > m.size {
			return heapErr(bp, "block starts after the heap end (0x%x)", m.size)
		}
		w := m.get(hdrp(bp))
		size, alloc := unpack(w)
		if size == 0 {
			break
		}
		if bp%DSize != 0 {
			return heapErr(bp, "block not aligned to %d", DSize)
		}
		if size < MinBlockSize {
			return heapErr(bp, "block size %d too small", size)
		}
		if uint64(bp)+uint64(size) > uint64(m.size) {
			return heapErr(bp, "block size %d overruns the heap end 0x%x",
				size, m.size)
		}
		if f := m.get(m.ftrp(bp)); f != w {
			return heapErr(bp, "header 0x%x does not match footer 0x%x", w, f)
		}
		if alloc {
			used += uint64(size)
			blocks++
		} else {
			if prevFree {
				return heapErr(bp, "free block adjacent to free block 0x%x",
					uint32(m.prevBlk(bp)))
			}
			free[bp] = true
		}
		prevFree = !alloc
		total += uint64(size)
		bp = m.nextBlk(bp)
	}
	// bp is now the epilogue
	if _, alloc := unpack(m.get(hdrp(bp))); !alloc {
		return heapErr(bp, "epilogue not allocated")
	}
	if uint32(bp) != m.size {
		return heapErr(bp, "epilogue is not at the heap end (0x%x)", m.size)
	}
	if total+initOverhead != uint64(m.size) {
		return heapErr(Nil, "blocks size %d + overhead %d != heap size %d",
			total, initOverhead, m.size)
	}

	// free list, read raw so that no link check can panic
	n := 0
	seen := make(map[Ptr]bool, len(free))
	prev := Nil
	for fp := m.freeHead; fp != prologue; {
		if !free[fp] {
			if seen[fp] {
				return heapErr(fp, "free list loop")
			}
			return heapErr(fp, "free list entry is not a free block")
		}
		free[fp] = false
		seen[fp] = true
		if p := Ptr(m.get(uint32(fp))); p != prev {
			return heapErr(fp, "free list prev link 0x%x, expected 0x%x",
				uint32(p), uint32(prev))
		}
		prev = fp
		fp = Ptr(m.get(uint32(fp) + WSize))
		n++
	}
	if n != len(free) {
		return heapErr(Nil, "%d free blocks not in the free list",
			len(free)-n)
	}
	if n != m.freeNo {
		return heapErr(Nil, "free list has %d blocks, counter says %d",
			n, m.freeNo)
	}
	if used != m.used.RealUsed || blocks != m.used.Blocks {
		return heapErr(Nil, "allocated %d bytes in %d blocks, stats say"+
			" %d bytes in %d blocks",
			used, blocks, m.used.RealUsed, m.used.Blocks)
	}
	return nil
}
