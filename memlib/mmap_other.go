// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

//go:build !unix

package memlib

// Mapped falls back to a slice backed region when mmap is not available.
type Mapped struct {
	Mem
}

// Map returns a region that can grow up to limit bytes.
func Map(limit int) (*Mapped, error) {
	return &Mapped{Mem: *New(limit)}, nil
}

// Committed returns how many bytes are currently accessible.
func (r *Mapped) Committed() int { return r.brk }
