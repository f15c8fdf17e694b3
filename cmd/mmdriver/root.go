// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/intuitivelabs/slog"
	"github.com/spf13/cobra"

	"github.com/intuitivelabs/mallocs/btmalloc"
	"github.com/intuitivelabs/mallocs/memlib"
	"github.com/intuitivelabs/mallocs/trace"
)

var (
	// Global flags
	verbose bool
	quiet   bool

	// heap flags
	policyName  string
	chunkSize   uint32
	repeatLimit int
	growGuard   bool
	useMmap     bool
	maxHeap     string
	checkHeap   bool
)

var rootCmd = &cobra.Command{
	Use:   "mmdriver",
	Short: "Replay allocation traces against btmalloc",
	Long: `mmdriver runs allocation traces (malloc/free/realloc sequences)
on a btmalloc heap, verifies every returned block and reports the
space utilization and throughput for each trace.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			btmalloc.Log = slog.New(slog.LDBG, slog.LlocInfoS, slog.LStdErr)
			trace.Log = slog.New(slog.LDBG, slog.LlocInfoS, slog.LStdErr)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	pf.StringVarP(&policyName, "policy", "p", "first",
		"Free block search policy (first, next, implicit)")
	pf.Uint32Var(&chunkSize, "chunk", btmalloc.ChunkSize, "Heap growth increment in bytes")
	pf.IntVar(&repeatLimit, "repeat-limit", btmalloc.DefaultRepeatLimit,
		"Same size requests before growing the heap without searching")
	pf.BoolVar(&growGuard, "guard", false,
		"Grow the heap without searching on repeated identical sizes")
	pf.BoolVar(&useMmap, "mmap", false, "Use an mmap()-ed region instead of a Go slice")
	pf.StringVar(&maxHeap, "max-heap", humanize.IBytes(memlib.DefaultMaxHeap),
		"Maximum heap size (e.g. 20MiB)")
	pf.BoolVar(&checkHeap, "check", false, "Check the heap consistency after every operation")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// printInfo prints an info message if not in quiet mode
func printInfo(w io.Writer, format string, args ...interface{}) {
	if !quiet {
		fmt.Fprintf(w, format, args...)
	}
}

// heapConfig builds the btmalloc config from the global flags.
func heapConfig() (btmalloc.Config, error) {
	cfg := btmalloc.DefaultConfig()
	p, err := btmalloc.ParsePolicy(policyName)
	if err != nil {
		return cfg, err
	}
	cfg.Policy = p
	cfg.ChunkSize = chunkSize
	cfg.RepeatLimit = repeatLimit
	if growGuard {
		cfg.Options |= btmalloc.BTGrowGuard
	}
	return cfg, nil
}

// region is a btmalloc.Region that must be released after use.
type region interface {
	btmalloc.Region
	Close() error
}

// newHeap returns an initialised heap and its backing region.
func newHeap() (*btmalloc.BTMalloc, region, error) {
	cfg, err := heapConfig()
	if err != nil {
		return nil, nil, err
	}
	limit, err := humanize.ParseBytes(maxHeap)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid --max-heap: %w", err)
	}
	if limit > btmalloc.MaxAlloc*2 {
		return nil, nil, fmt.Errorf("--max-heap %s too big", maxHeap)
	}
	var r region
	if useMmap {
		mr, err := memlib.Map(int(limit))
		if err != nil {
			return nil, nil, err
		}
		r = mr
	} else {
		r = memlib.New(int(limit))
	}
	m := &btmalloc.BTMalloc{}
	if err := m.Init(r, cfg); err != nil {
		r.Close()
		return nil, nil, err
	}
	return m, r, nil
}
