// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package btmalloc provides a boundary tag malloc library working on a
// single contiguous, growable memory region.
//
// Each block carries its size and allocation status in a header and a
// footer word. Free blocks are kept in an explicit LIFO free list
// threaded through their payload and are always coalesced with their
// free neighbours. Blocks are addressed by offsets (Ptr) into the
// region, so the region can be any Region implementation (see memlib).
package btmalloc

import (
	"sync"
)

const NAME = "btmalloc"

// MaxAlloc is the largest supported allocation request.
const MaxAlloc = 1 << 30

// DefaultRepeatLimit is the default number of identical consecutive
// requests after which the grow guard kicks in.
const DefaultRepeatLimit = 60

// prologue is the address of the prologue block. It is also the
// terminator of the free list.
const prologue Ptr = 2 * WSize

// initOverhead is the heap space not belonging to any regular block:
// padding word, prologue block and epilogue header.
const initOverhead = WSize + MinBlockSize + WSize

// Region is the backing memory used by the heap.
// Extend grows the region by n bytes and returns the offset at which the
// new bytes start (the previous region size). Bytes returns the whole
// region; previously returned offsets must stay valid after an Extend.
type Region interface {
	Extend(n int) (int, error)
	Bytes() []byte
}

// MUsed contains the btmalloc memory usage statistics.
type MUsed struct {
	Used        uint64 // usable bytes in allocated blocks
	RealUsed    uint64 // allocated blocks size, Used + tags overhead
	MaxRealUsed uint64
	Blocks      uint64 // number of allocated blocks
}

// Options encodes various configuration flags for BTMalloc.
type Options uint32

const (
	BTDebug          Options = 1 << iota // check the whole heap after each op
	BTChecks                             // check block status on free list ops
	// BTGrowGuard extends the heap directly, without searching, after
	// more then RepeatLimit consecutive requests for the same size.
	// Frees do not reset the counter, so a malloc/free loop on one size
	// keeps growing the heap by one block per request.
	BTGrowGuard
	BTDumpStatsShort // dump status in log, short version
	BTDefaultOptions = BTChecks
)

// Config holds the BTMalloc initialisation parameters.
type Config struct {
	Policy      Policy  // free block search strategy
	Options     Options // flags
	ChunkSize   uint32  // minimum heap growth, 0 for the default
	RepeatLimit int     // grow guard threshold, 0 for the default
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Policy:      FirstFit,
		Options:     BTDefaultOptions,
		ChunkSize:   ChunkSize,
		RepeatLimit: DefaultRepeatLimit,
	}
}

// BTMalloc is the allocator context. It includes the region used,
// all the bookkeeping information and the classical malloc functions
// (as methods).
// The *Unsafe methods are not locked and must not be called concurrently.
type BTMalloc struct {
	options     Options
	policy      Policy
	chunk       uint32 // growth chunk, multiple of DSize
	repeatLimit int
	initialised bool

	region Region
	mem    []byte // region contents
	size   uint32 // heap size (region break)
	used   MUsed  // statistics

	freeHead Ptr // first free block, prologue if the list is empty
	freeNo   int // free blocks count
	fit      fitter

	// grow guard state
	lastSize uint32
	repeat   int

	bigLock sync.Mutex
}

// Debug returns true if heap checking after each operation is turned on.
func (m *BTMalloc) Debug() bool { return m.options&BTDebug != 0 }

// BChecks returns true if block status checking is turned on.
func (m *BTMalloc) BChecks() bool { return m.options&BTChecks != 0 }

// GrowGuard returns true if the repeated size grow guard is turned on.
func (m *BTMalloc) GrowGuard() bool { return m.options&BTGrowGuard != 0 }

// Policy returns the free block search strategy in use.
func (m *BTMalloc) Policy() Policy { return m.policy }

func (m *BTMalloc) lock() {
	m.bigLock.Lock()
}
func (m *BTMalloc) unlock() {
	m.bigLock.Unlock()
}

// addUsed updates the statistics for a newly allocated block of size bytes.
func (m *BTMalloc) addUsed(size uint32) {
	m.used.Used += uint64(size - Overhead)
	m.used.RealUsed += uint64(size)
	m.used.Blocks++
	if m.used.MaxRealUsed < m.used.RealUsed {
		m.used.MaxRealUsed = m.used.RealUsed
	}
}

// subUsed updates the statistics for a released allocated block.
func (m *BTMalloc) subUsed(size uint32) {
	m.used.Used -= uint64(size - Overhead)
	m.used.RealUsed -= uint64(size)
	m.used.Blocks--
}

// MUsage returns current memory usage values.
func (m *BTMalloc) MUsage() MUsed {
	return m.used
}

// HeapSize returns the current heap size (sentinels included).
func (m *BTMalloc) HeapSize() uint64 {
	return uint64(m.size)
}

// Available returns the total size of the free blocks.
// Because of fragmentation, a single allocation of Available() bytes
// might still need to grow the heap.
func (m *BTMalloc) Available() uint64 {
	if !m.initialised {
		return 0
	}
	return uint64(m.size) - initOverhead - m.used.RealUsed
}

// FreeBlocks returns the number of blocks in the free list.
func (m *BTMalloc) FreeBlocks() int {
	return m.freeNo
}

// Init initialises a btmalloc heap on top of the empty region r.
// Any previous state is discarded. It writes the heap sentinels and
// extends the heap once with a minimum sized free block.
func (m *BTMalloc) Init(r Region, cfg Config) error {
	*m = BTMalloc{} // zero, in case of re-init
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = ChunkSize
	}
	if cfg.RepeatLimit <= 0 {
		cfg.RepeatLimit = DefaultRepeatLimit
	}
	m.options = cfg.Options
	m.policy = cfg.Policy
	m.chunk = (cfg.ChunkSize + DSize - 1) &^ (DSize - 1)
	if m.chunk < MinBlockSize {
		m.chunk = MinBlockSize
	}
	m.repeatLimit = cfg.RepeatLimit
	m.region = r
	m.fit = newFitter(m, cfg.Policy)

	start, err := r.Extend(initOverhead)
	if err != nil {
		return wrapErr(ErrRegionTooSmall, err)
	}
	if start != 0 {
		return ErrRegionInUse
	}
	m.mem = r.Bytes()
	m.size = initOverhead

	m.put(0, 0)                                       // padding
	m.put(hdrp(prologue), pack(MinBlockSize, true))   // prologue header
	m.put(uint32(prologue), uint32(Nil))              // prologue prev link
	m.put(uint32(prologue)+WSize, uint32(Nil))        // prologue next link
	m.put(m.ftrp(prologue), pack(MinBlockSize, true)) // prologue footer
	m.put(initOverhead-WSize, pack(0, true))          // epilogue
	m.freeHead = prologue

	if m.extendHeap(MinBlockSize/WSize) == Nil {
		return ErrRegionTooSmall
	}
	m.initialised = true
	if DBGon() {
		DBG("heap initialised: policy %s, chunk %d, options 0x%x\n",
			m.policy, m.chunk, uint32(m.options))
	}
	return nil
}

// Owns returns whether or not p is inside the heap usable range.
// Behaviour is undefined if p was Free()d.
func (m *BTMalloc) Owns(p Ptr) bool {
	return m.initialised && p >= m.nextBlk(prologue) && uint32(p) < m.size
}

// checkPtr panics if p is not a valid allocated block address.
func (m *BTMalloc) checkPtr(p Ptr, op string) {
	if !m.initialised {
		PANIC("BUG: %s called before Init\n", op)
	}
	if !m.Owns(p) || p%DSize != 0 {
		PANIC("BUG: %s called with pointer 0x%x out of heap"+
			" (useable range 0x%x-0x%x)\n",
			op, uint32(p), uint32(m.nextBlk(prologue)), m.size)
	}
	if !m.isAlloc(p) {
		PANIC("BUG: %s: attempt to use already freed pointer 0x%x\n",
			op, uint32(p))
	}
}

// debugCheck verifies the whole heap if BTDebug is set.
func (m *BTMalloc) debugCheck(op string) {
	if !m.Debug() {
		return
	}
	if err := m.CheckHeap(); err != nil {
		m.dumpStatus()
		PANIC("BUG: heap check failed after %s: %s\n", op, err)
	}
}

// payload returns the usable part of the allocated block bp.
func (m *BTMalloc) payload(bp Ptr) []byte {
	end := uint32(bp) + m.blkSize(bp) - Overhead
	return m.mem[bp:end:end]
}

// Bytes returns the usable memory of the allocated block p.
// The returned slice stays valid until p is freed or reallocated.
func (m *BTMalloc) Bytes(p Ptr) []byte {
	m.checkPtr(p, "Bytes")
	return m.payload(p)
}

// UsableSize returns how many bytes can be used in the block p
// (at least the requested size).
func (m *BTMalloc) UsableSize(p Ptr) int {
	m.checkPtr(p, "UsableSize")
	return int(m.blkSize(p) - Overhead)
}

// MallocUnsafe is the unsafe (not locking) Malloc version.
// For more details see Malloc.
func (m *BTMalloc) MallocUnsafe(size int) (Ptr, error) {
	if !m.initialised {
		return Nil, ErrNotInit
	}
	if size == 0 {
		return Nil, ErrZeroSize
	}
	if size < 0 || size > MaxAlloc {
		return Nil, ErrInvalidSize
	}
	asize := adjustSize(uint32(size))
	bp := m.findFit(asize)
	if bp == Nil {
		return Nil, ErrNoMem
	}
	m.place(bp, asize)
	m.debugCheck("malloc")
	return bp, nil
}

// FreeUnsafe releases the memory associated with p
// (p must have been previously allocated with MallocUnsafe).
// This is the unsafe non-locking version  (see also Free).
func (m *BTMalloc) FreeUnsafe(p Ptr) {
	if p == Nil {
		if DBGon() {
			DBG("free(0) called\n")
		}
		return
	}
	m.checkPtr(p, "Free")
	size := m.blkSize(p)
	m.subUsed(size)
	m.setTags(p, size, false)
	m.coalesce(p)
	m.debugCheck("free")
}

// ReallocUnsafe tries to grow a previously malloc allocated
// pointer to a new size.
// This is the unsafe non-locking version. For more details see Realloc.
func (m *BTMalloc) ReallocUnsafe(p Ptr, size int) (Ptr, error) {
	if size < 0 || size > MaxAlloc {
		return Nil, ErrInvalidSize
	}
	if size == 0 {
		// it is actually a free
		m.FreeUnsafe(p)
		return Nil, nil
	}
	if p == Nil {
		// it's a malloc
		return m.MallocUnsafe(size)
	}
	m.checkPtr(p, "Realloc")
	oldSize := m.blkSize(p)
	need := uint32(size) + Overhead
	if need <= oldSize {
		// fits, nothing to do
		return p, nil
	}
	next := m.nextBlk(p)
	if !m.isAlloc(next) && oldSize+m.blkSize(next) >= need {
		// absorb the next free block, no copy needed
		csize := oldSize + m.blkSize(next)
		m.detachFree(next)
		m.subUsed(oldSize)
		m.addUsed(m.split(p, csize, adjustSize(uint32(size))))
		m.debugCheck("realloc")
		return p, nil
	}
	// no joining possible => malloc, copy & free
	np, err := m.MallocUnsafe(size)
	if err != nil {
		// p is left untouched
		return Nil, err
	}
	copy(m.payload(np), m.payload(p))
	m.FreeUnsafe(p)
	return np, nil
}

// Malloc allocates size bytes of memory and returns the address of the
// new block. It fails with ErrZeroSize for 0, ErrInvalidSize for
// negative or too big sizes and ErrNoMem if the heap cannot grow.
func (m *BTMalloc) Malloc(size int) (Ptr, error) {
	m.lock()
	defer m.unlock()
	return m.MallocUnsafe(size)
}

// Free releases the memory associated with p (p must have been previously
// allocated with Malloc). Free(Nil) does nothing.
func (m *BTMalloc) Free(p Ptr) {
	m.lock()
	defer m.unlock()
	m.FreeUnsafe(p)
}

// Realloc grows a previously Malloc allocated block to size bytes.
// It returns either the old value, when the block is already big
// enough or can be extended in-place, or a new value. In the new value
// case, the old contents is copied in the new location and the old
// block is Free()d.
// If not enough memory is available for growing p, it will return
// ErrNoMem, but it will _not_ free the original pointer p.
// Realloc(p, 0) is a Free(p) and Realloc(Nil, size) a Malloc(size).
func (m *BTMalloc) Realloc(p Ptr, size int) (Ptr, error) {
	m.lock()
	defer m.unlock()
	return m.ReallocUnsafe(p, size)
}
