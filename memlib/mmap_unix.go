// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build unix

package memlib

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mapped is a region backed by an anonymous private memory mapping.
// The whole maximum size is reserved at creation with no access rights;
// pages are made read-write only when the break moves over them.
type Mapped struct {
	data      []byte
	brk       int
	committed int // read-write part of data, multiple of page
	page      int
}

// Map reserves a mapping of limit bytes (rounded up to the page size).
func Map(limit int) (*Mapped, error) {
	page := unix.Getpagesize()
	if limit <= 0 {
		return nil, fmt.Errorf("%s: invalid mapping size %d", NAME, limit)
	}
	limit = roundUp(limit, page)
	data, err := unix.Mmap(-1, 0, limit, unix.PROT_NONE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("%s: mmap %d bytes: %w", NAME, limit, err)
	}
	return &Mapped{data: data, page: page}, nil
}

// Extend moves the break n bytes up and returns the old break.
func (r *Mapped) Extend(n int) (int, error) {
	if r.data == nil {
		return 0, ErrClosed
	}
	newBrk, err := checkExtend(r.brk, n, len(r.data))
	if err != nil {
		return 0, err
	}
	if newBrk > r.committed {
		c := roundUp(newBrk, r.page)
		err := unix.Mprotect(r.data[r.committed:c],
			unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return 0, fmt.Errorf("%s: mprotect 0x%x-0x%x: %w",
				NAME, r.committed, c, err)
		}
		r.committed = c
	}
	old := r.brk
	r.brk = newBrk
	return old, nil
}

// Bytes returns the memory below the break.
func (r *Mapped) Bytes() []byte {
	return r.data[:r.brk:r.brk]
}

// Size returns the current break.
func (r *Mapped) Size() int { return r.brk }

// Max returns the maximum region size.
func (r *Mapped) Max() int { return len(r.data) }

// Committed returns how many bytes are currently accessible.
func (r *Mapped) Committed() int { return r.committed }

// Reset moves the break back to 0. Committed pages stay accessible.
func (r *Mapped) Reset() { r.brk = 0 }

// Close unmaps the region. Calling Close twice is a no-op.
func (r *Mapped) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	r.brk = 0
	r.committed = 0
	if err != nil {
		return fmt.Errorf("%s: munmap: %w", NAME, err)
	}
	return nil
}
