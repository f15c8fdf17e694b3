// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package memlib

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemExtend(t *testing.T) {
	m := New(64)
	require.Equal(t, 64, m.Max())
	require.Equal(t, 0, m.Size())

	off, err := m.Extend(24)
	require.NoError(t, err)
	assert.Equal(t, 0, off)

	off, err = m.Extend(16)
	require.NoError(t, err)
	assert.Equal(t, 24, off, "Extend must return the old break")
	assert.Equal(t, 40, m.Size())
	assert.Len(t, m.Bytes(), 40)
	assert.Equal(t, 40, cap(m.Bytes()), "Bytes must not expose memory past the break")
}

func TestMemNoMoveOnExtend(t *testing.T) {
	m := New(128)
	_, err := m.Extend(8)
	require.NoError(t, err)
	b := m.Bytes()
	b[0] = 0x5a
	_, err = m.Extend(64)
	require.NoError(t, err)
	assert.Equal(t, byte(0x5a), m.Bytes()[0])
	assert.Same(t, &b[0], &m.Bytes()[0], "region memory moved")
}

func TestMemExhausted(t *testing.T) {
	m := New(32)
	_, err := m.Extend(32)
	require.NoError(t, err)

	_, err = m.Extend(1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMem))
	assert.Equal(t, 32, m.Size(), "failed Extend must not move the break")

	_, err = m.Extend(-1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoMem))
}

func TestMemResetClose(t *testing.T) {
	m := New(32)
	_, err := m.Extend(16)
	require.NoError(t, err)
	m.Reset()
	assert.Equal(t, 0, m.Size())
	off, err := m.Extend(16)
	require.NoError(t, err)
	assert.Equal(t, 0, off)

	require.NoError(t, m.Close())
	_, err = m.Extend(8)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMapExtend(t *testing.T) {
	r, err := Map(1 << 20)
	require.NoError(t, err)
	defer r.Close()

	off, err := r.Extend(100)
	require.NoError(t, err)
	assert.Equal(t, 0, off)
	assert.GreaterOrEqual(t, r.Committed(), 100)

	// the whole extended area must be writable
	b := r.Bytes()
	for i := range b {
		b[i] = byte(i)
	}

	off, err = r.Extend(3 * 4096)
	require.NoError(t, err)
	assert.Equal(t, 100, off)
	b = r.Bytes()
	require.Len(t, b, 100+3*4096)
	b[len(b)-1] = 0xff
	assert.Equal(t, byte(99), b[99])
}

func TestMapExhausted(t *testing.T) {
	r, err := Map(4096)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Extend(r.Max())
	require.NoError(t, err)
	_, err = r.Extend(8)
	assert.ErrorIs(t, err, ErrNoMem)
	assert.Equal(t, r.Max(), r.Size())
}

func TestMapClose(t *testing.T) {
	r, err := Map(4096)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close(), "double Close must be a no-op")
	_, err = r.Extend(8)
	assert.ErrorIs(t, err, ErrClosed)
}
