// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btmalloc

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMem is returned when the backing region cannot grow any more.
	ErrNoMem = errors.New(NAME + ": out of memory")

	// ErrZeroSize is returned by Malloc(0).
	ErrZeroSize = errors.New(NAME + ": zero size allocation")

	// ErrInvalidSize is returned for negative or oversized requests.
	ErrInvalidSize = errors.New(NAME + ": invalid size")

	// ErrNotInit is returned when using a BTMalloc before Init().
	ErrNotInit = errors.New(NAME + ": not initialised")

	// ErrRegionTooSmall is returned by Init when the region cannot hold
	// even the initial heap.
	ErrRegionTooSmall = errors.New(NAME + ": region too small")

	// ErrRegionInUse is returned by Init when the region is not empty.
	ErrRegionInUse = errors.New(NAME + ": region not empty")
)

// HeapError describes a heap consistency violation found by CheckHeap.
type HeapError struct {
	Off Ptr    // offending block address (payload start)
	Msg string // what is wrong
}

func (e *HeapError) Error() string {
	return fmt.Sprintf("%s: heap corrupted at 0x%x: %s", NAME, uint32(e.Off), e.Msg)
}

// wrapErr returns base annotated with the cause err.
func wrapErr(base, err error) error {
	return fmt.Errorf("%w: %v", base, err)
}

func heapErr(bp Ptr, f string, a ...interface{}) *HeapError {
	return &HeapError{Off: bp, Msg: fmt.Sprintf(f, a...)}
}
