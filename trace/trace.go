// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package trace reads, writes and replays allocation traces.
//
// A trace is a text file starting with 4 numbers (suggested heap size,
// number of block ids, number of operations and weight), followed by one
// operation per line:
//
//	a <id> <size>   allocate size bytes for block id
//	r <id> <size>   reallocate block id to size bytes
//	f <id>          free block id
//
// Empty lines and lines starting with '#' are ignored.
package trace

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const NAME = "trace"

// Header limits accepted by Parse and Replay.
const (
	MaxIDs = 1 << 24
	MaxOps = 1 << 28
)

// OpKind is the operation type.
type OpKind byte

const (
	Alloc   OpKind = 'a'
	Free    OpKind = 'f'
	Realloc OpKind = 'r'
)

func (k OpKind) String() string {
	switch k {
	case Alloc:
		return "alloc"
	case Free:
		return "free"
	case Realloc:
		return "realloc"
	}
	return fmt.Sprintf("OpKind(%q)", byte(k))
}

// Op is a single trace operation.
type Op struct {
	Kind OpKind
	ID   int
	Size int // unused for Free
	Line int // source line, 0 if unknown
}

// Trace is a parsed allocation trace.
type Trace struct {
	Name          string
	SuggestedHeap int
	NumIDs        int
	Weight        int
	Ops           []Op
}

// ParseError is returned for malformed traces.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: line %d: %s", NAME, e.Line, e.Msg)
}

func parseErr(line int, f string, a ...interface{}) error {
	return &ParseError{Line: line, Msg: fmt.Sprintf(f, a...)}
}

// Load reads and parses the trace file path.
func Load(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", NAME, err)
	}
	defer f.Close()
	tr, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	tr.Name = filepath.Base(path)
	return tr, nil
}

// Parse reads a trace from r.
func Parse(r io.Reader) (*Trace, error) {
	var (
		tr     Trace
		header [4]int
		nh     int
		numOps int
		line   int
	)
	s := bufio.NewScanner(r)
	for s.Scan() {
		line++
		fields := strings.Fields(s.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if nh < len(header) {
			if len(fields) != 1 {
				return nil, parseErr(line, "expected a header number, got %q",
					s.Text())
			}
			v, err := strconv.Atoi(fields[0])
			if err != nil || v < 0 {
				return nil, parseErr(line, "bad header number %q", fields[0])
			}
			header[nh] = v
			nh++
			if nh == len(header) {
				tr.SuggestedHeap, tr.NumIDs, numOps, tr.Weight =
					header[0], header[1], header[2], header[3]
				if tr.NumIDs > MaxIDs {
					return nil, parseErr(line, "too many block ids %d (max %d)",
						tr.NumIDs, MaxIDs)
				}
				if numOps > MaxOps {
					return nil, parseErr(line, "too many operations %d (max %d)",
						numOps, MaxOps)
				}
				tr.Ops = make([]Op, 0, min(numOps, 1<<16))
			}
			continue
		}
		op, err := parseOp(fields, line, tr.NumIDs)
		if err != nil {
			return nil, err
		}
		if len(tr.Ops) == numOps {
			return nil, parseErr(line, "more operations than the %d in the header",
				numOps)
		}
		tr.Ops = append(tr.Ops, op)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("%s: read: %w", NAME, err)
	}
	if nh < len(header) {
		return nil, parseErr(line, "truncated header")
	}
	if len(tr.Ops) != numOps {
		return nil, parseErr(line, "%d operations, header says %d",
			len(tr.Ops), numOps)
	}
	return &tr, nil
}

func parseOp(fields []string, line, numIDs int) (Op, error) {
	op := Op{Line: line}
	if len(fields[0]) != 1 {
		return op, parseErr(line, "unknown operation %q", fields[0])
	}
	op.Kind = OpKind(fields[0][0])
	want := 3
	switch op.Kind {
	case Alloc, Realloc:
	case Free:
		want = 2
	default:
		return op, parseErr(line, "unknown operation %q", fields[0])
	}
	if len(fields) != want {
		return op, parseErr(line, "%s: expected %d fields, got %d",
			op.Kind, want, len(fields))
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil || id < 0 || id >= numIDs {
		return op, parseErr(line, "bad block id %q (ids: %d)", fields[1], numIDs)
	}
	op.ID = id
	if want == 3 {
		size, err := strconv.Atoi(fields[2])
		if err != nil || size < 0 {
			return op, parseErr(line, "bad size %q", fields[2])
		}
		op.Size = size
	}
	return op, nil
}

// Write writes tr in the trace text format.
func Write(w io.Writer, tr *Trace) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n%d\n%d\n%d\n",
		tr.SuggestedHeap, tr.NumIDs, len(tr.Ops), tr.Weight)
	for _, op := range tr.Ops {
		if op.Kind == Free {
			fmt.Fprintf(bw, "%c %d\n", byte(op.Kind), op.ID)
		} else {
			fmt.Fprintf(bw, "%c %d %d\n", byte(op.Kind), op.ID, op.Size)
		}
	}
	return bw.Flush()
}
