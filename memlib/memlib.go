// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package memlib provides backing memory regions for heap allocators.
//
// A region is a contiguous memory area with a break: Extend moves the
// break up and returns its previous value, like sbrk(2). The memory
// below the break never moves, so offsets handed out stay valid for the
// region lifetime.
package memlib

import (
	"errors"
	"fmt"
)

const NAME = "memlib"

// DefaultMaxHeap is the default maximum region size (20 MB).
const DefaultMaxHeap = 20 << 20

var (
	// ErrNoMem is returned when the break cannot move past the region
	// maximum size.
	ErrNoMem = errors.New(NAME + ": out of memory")

	// ErrClosed is returned when using a closed region.
	ErrClosed = errors.New(NAME + ": region closed")
)

// Mem is a region backed by a Go byte slice allocated at creation time.
type Mem struct {
	buf []byte
	brk int
}

// New returns a Mem region that can grow up to limit bytes.
func New(limit int) *Mem {
	if limit < 0 {
		limit = 0
	}
	return &Mem{buf: make([]byte, limit)}
}

// Extend moves the break n bytes up and returns the old break.
func (m *Mem) Extend(n int) (int, error) {
	if m.buf == nil {
		return 0, ErrClosed
	}
	newBrk, err := checkExtend(m.brk, n, len(m.buf))
	if err != nil {
		return 0, err
	}
	old := m.brk
	m.brk = newBrk
	return old, nil
}

// Bytes returns the memory below the break.
func (m *Mem) Bytes() []byte {
	return m.buf[:m.brk:m.brk]
}

// Size returns the current break.
func (m *Mem) Size() int { return m.brk }

// Max returns the maximum region size.
func (m *Mem) Max() int { return len(m.buf) }

// Reset moves the break back to 0. The memory content is kept.
func (m *Mem) Reset() { m.brk = 0 }

// Close releases the region memory.
func (m *Mem) Close() error {
	m.buf = nil
	m.brk = 0
	return nil
}

// checkExtend returns the break after extending brk by n bytes, or an
// error if it would move past limit.
func checkExtend(brk, n, limit int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("%s: invalid extend size %d", NAME, n)
	}
	if n > limit-brk {
		return 0, fmt.Errorf("%w: extend by %d, break %d, max %d",
			ErrNoMem, n, brk, limit)
	}
	return brk + n, nil
}

// roundUp rounds n up to a multiple of align (a power of 2).
func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
