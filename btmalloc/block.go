// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

import (
	"encoding/binary"
)

// block layout:
//
//	 hdrp(bp)        bp                          ftrp(bp)
//	+--------+------------------------------ ... +--------+
//	| size|a | prev link | next link | payload   | size|a |
//	+--------+------------------------------ ... +--------+
//
// the link words exist only while the block is free, otherwise they
// are part of the payload.
const (
	WSize        = 4                  // word size (header, footer, link)
	DSize        = 2 * WSize          // double word, alignment of every block
	Overhead     = 2 * WSize          // header + footer
	MinBlockSize = 2 * DSize          // header + 2 links + footer
	ChunkSize    = 1 << 12            // default heap growth increment
	allocBit     = uint32(1)          // allocated flag, low bit of size word
	sizeMask     = ^uint32(DSize - 1) // size part of a header/footer word
)

// Ptr is a block address: the offset of the first payload byte in the
// heap region.
type Ptr uint32

// Nil is the null block address. Offset 0 is the alignment padding word
// so no payload can ever start there.
const Nil Ptr = 0

// pack builds a header/footer word from a block size and allocation status.
func pack(size uint32, alloc bool) uint32 {
	if alloc {
		return size | allocBit
	}
	return size
}

// unpack splits a header/footer word into size and allocation status.
func unpack(w uint32) (size uint32, alloc bool) {
	return w & sizeMask, w&allocBit != 0
}

// get reads the word at offset off.
func (m *BTMalloc) get(off uint32) uint32 {
	return binary.LittleEndian.Uint32(m.mem[off : off+WSize])
}

// put writes the word v at offset off.
func (m *BTMalloc) put(off uint32, v uint32) {
	binary.LittleEndian.PutUint32(m.mem[off:off+WSize], v)
}

// hdrp returns the header offset of block bp.
func hdrp(bp Ptr) uint32 {
	return uint32(bp) - WSize
}

// ftrp returns the footer offset of block bp (uses the header size).
func (m *BTMalloc) ftrp(bp Ptr) uint32 {
	return uint32(bp) + m.blkSize(bp) - DSize
}

// blkSize returns the size recorded in the header of bp.
func (m *BTMalloc) blkSize(bp Ptr) uint32 {
	s, _ := unpack(m.get(hdrp(bp)))
	return s
}

// isAlloc returns true if the header of bp has the allocated bit set.
func (m *BTMalloc) isAlloc(bp Ptr) bool {
	_, a := unpack(m.get(hdrp(bp)))
	return a
}

// nextBlk returns the block physically following bp.
func (m *BTMalloc) nextBlk(bp Ptr) Ptr {
	return bp + Ptr(m.blkSize(bp))
}

// prevBlk returns the block physically preceding bp, using its footer.
func (m *BTMalloc) prevBlk(bp Ptr) Ptr {
	s, _ := unpack(m.get(uint32(bp) - DSize))
	return bp - Ptr(s)
}

// setTags writes identical header and footer words for bp.
// The header must be written first, ftrp() depends on it.
func (m *BTMalloc) setTags(bp Ptr, size uint32, alloc bool) {
	w := pack(size, alloc)
	m.put(hdrp(bp), w)
	m.put(m.ftrp(bp), w)
}

// adjustSize returns the block size needed for a request of n payload
// bytes: overhead added, rounded up to DSize, at least MinBlockSize.
func adjustSize(n uint32) uint32 {
	if n <= DSize {
		return MinBlockSize
	}
	return DSize * ((n + Overhead + (DSize - 1)) / DSize)
}
