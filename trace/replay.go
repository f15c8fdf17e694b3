// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package trace

import (
	"errors"
	"fmt"
	"time"

	"github.com/intuitivelabs/mallocs/btmalloc"
)

// ReplayOptions controls the checks done during a replay.
type ReplayOptions struct {
	// CheckHeap runs the heap consistency checker after every operation.
	CheckHeap bool
	// NoPayloadCheck disables filling and verifying the block contents.
	NoPayloadCheck bool
}

// Result holds the replay statistics.
type Result struct {
	Ops         int
	Allocs      int
	Frees       int
	Reallocs    int
	PeakPayload uint64 // max. sum of the live requested sizes
	HeapSize    uint64 // heap size at the end of the replay
	Duration    time.Duration
}

// Utilization returns the peak payload divided by the final heap size.
func (r Result) Utilization() float64 {
	if r.HeapSize == 0 {
		return 0
	}
	return float64(r.PeakPayload) / float64(r.HeapSize)
}

// Throughput returns the number of operations per second.
func (r Result) Throughput() float64 {
	if r.Duration <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Duration.Seconds()
}

// ReplayError reports a failed trace operation.
type ReplayError struct {
	Op    int // operation index
	Line  int
	Kind  OpKind
	ID    int
	Cause error
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("%s: op %d (line %d, %s id %d): %v",
		NAME, e.Op, e.Line, e.Kind, e.ID, e.Cause)
}

func (e *ReplayError) Unwrap() error { return e.Cause }

// ErrPayload is the cause of a ReplayError for a block whose contents
// changed while it was allocated.
var ErrPayload = errors.New("payload corrupted")

// ErrOverlap is the cause of a ReplayError for a block that overlaps
// another live block.
var ErrOverlap = errors.New("overlapping blocks")

// ErrBadOp is the cause of a ReplayError for an operation on an id out
// of the trace range or for an allocation of an id still allocated.
var ErrBadOp = errors.New("bad operation")

type live struct {
	p    btmalloc.Ptr
	size int
}

// Replay runs all the operations from tr on the initialised heap m.
// Each allocated block is filled with an id dependent pattern, which is
// verified before the block is freed or reallocated.
// It stops at the first error, returning a *ReplayError.
func Replay(tr *Trace, m *btmalloc.BTMalloc, o ReplayOptions) (Result, error) {
	var res Result
	if tr.NumIDs < 0 || tr.NumIDs > MaxIDs {
		return res, &ReplayError{Op: -1, Cause: fmt.Errorf("%w: %d block ids",
			ErrBadOp, tr.NumIDs)}
	}
	blocks := make([]live, tr.NumIDs)
	var payload uint64

	start := time.Now()
	for i, op := range tr.Ops {
		fail := func(err error) (Result, error) {
			res.Duration = time.Since(start)
			res.HeapSize = m.HeapSize()
			return res, &ReplayError{Op: i, Line: op.Line, Kind: op.Kind,
				ID: op.ID, Cause: err}
		}
		if DBGon() {
			DBG("op %d: %s id %d size %d\n", i, op.Kind, op.ID, op.Size)
		}
		if op.ID < 0 || op.ID >= len(blocks) {
			return fail(fmt.Errorf("%w: id %d out of range (ids: %d)",
				ErrBadOp, op.ID, len(blocks)))
		}
		b := &blocks[op.ID]
		switch op.Kind {
		case Alloc:
			if b.p != btmalloc.Nil {
				return fail(ErrBadOp)
			}
			p, err := m.Malloc(op.Size)
			if err != nil {
				if errors.Is(err, btmalloc.ErrZeroSize) {
					WARN("line %d: zero size allocation ignored\n", op.Line)
					res.Allocs++
					break
				}
				return fail(err)
			}
			if err := checkRange(m, blocks, op.ID, p, op.Size); err != nil {
				return fail(err)
			}
			*b = live{p: p, size: op.Size}
			if !o.NoPayloadCheck {
				fill(m.Bytes(p)[:op.Size], op.ID)
			}
			payload += uint64(op.Size)
			res.Allocs++
		case Free:
			if b.p != btmalloc.Nil && !o.NoPayloadCheck &&
				!verify(m.Bytes(b.p)[:b.size], op.ID) {
				return fail(ErrPayload)
			}
			m.Free(b.p)
			payload -= uint64(b.size)
			*b = live{}
			res.Frees++
		case Realloc:
			if b.p != btmalloc.Nil && !o.NoPayloadCheck &&
				!verify(m.Bytes(b.p)[:b.size], op.ID) {
				return fail(ErrPayload)
			}
			p, err := m.Realloc(b.p, op.Size)
			if err != nil {
				return fail(err)
			}
			payload -= uint64(b.size)
			if p == btmalloc.Nil {
				*b = live{}
				res.Reallocs++
				break
			}
			keep := b.size
			if op.Size < keep {
				keep = op.Size
			}
			if !o.NoPayloadCheck && !verify(m.Bytes(p)[:keep], op.ID) {
				return fail(ErrPayload)
			}
			if err := checkRange(m, blocks, op.ID, p, op.Size); err != nil {
				return fail(err)
			}
			*b = live{p: p, size: op.Size}
			if !o.NoPayloadCheck {
				fill(m.Bytes(p)[:op.Size], op.ID)
			}
			payload += uint64(op.Size)
			res.Reallocs++
		default:
			return fail(fmt.Errorf("unknown operation %q", byte(op.Kind)))
		}
		res.Ops++
		if payload > res.PeakPayload {
			res.PeakPayload = payload
		}
		if o.CheckHeap {
			if err := m.CheckHeap(); err != nil {
				return fail(err)
			}
		}
	}
	res.Duration = time.Since(start)
	res.HeapSize = m.HeapSize()
	return res, nil
}

// checkRange verifies that the new block p of size bytes for id is
// aligned, inside the heap and does not overlap any other live block.
func checkRange(m *btmalloc.BTMalloc, blocks []live, id int,
	p btmalloc.Ptr, size int) error {
	if p%btmalloc.DSize != 0 {
		return fmt.Errorf("block 0x%x not aligned", uint32(p))
	}
	lo, hi := uint64(p), uint64(p)+uint64(size)
	if hi > m.HeapSize() {
		return fmt.Errorf("block 0x%x-0x%x outside the heap (%d)",
			lo, hi, m.HeapSize())
	}
	for i, b := range blocks {
		if i == id || b.p == btmalloc.Nil {
			continue
		}
		blo, bhi := uint64(b.p), uint64(b.p)+uint64(b.size)
		if lo < bhi && blo < hi {
			return fmt.Errorf("%w: id %d [0x%x-0x%x) and id %d [0x%x-0x%x)",
				ErrOverlap, id, lo, hi, i, blo, bhi)
		}
	}
	return nil
}

func fill(b []byte, id int) {
	for i := range b {
		b[i] = byte(id + i)
	}
}

func verify(b []byte, id int) bool {
	for i := range b {
		if b[i] != byte(id+i) {
			return false
		}
	}
	return true
}
