// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/intuitivelabs/mallocs/trace"
)

var runNoPayload bool

func init() {
	cmd := newRunCmd()
	cmd.Flags().BoolVar(&runNoPayload, "no-payload-check", false,
		"Do not fill and verify the allocated blocks")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <trace>...",
		Short: "Replay traces and report utilization and throughput",
		Long: `The run command replays each trace on a fresh heap and prints
one table row per trace plus a total.

Example:
  mmdriver run traces/*.rep
  mmdriver run --policy next --check short1.rep
  mmdriver run --mmap --max-heap 64MiB realloc.rep`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraces(cmd, args)
		},
	}
}

// runResult is one replayed trace.
type runResult struct {
	name string
	res  trace.Result
	err  error
}

func replayFile(path string) runResult {
	r := runResult{name: path}
	tr, err := trace.Load(path)
	if err != nil {
		r.err = err
		return r
	}
	r.name = tr.Name
	m, reg, err := newHeap()
	if err != nil {
		r.err = err
		return r
	}
	defer reg.Close()
	r.res, r.err = trace.Replay(tr, m, trace.ReplayOptions{
		CheckHeap:      checkHeap,
		NoPayloadCheck: runNoPayload,
	})
	if r.err == nil && verbose {
		m.DumpStatus()
	}
	return r
}

func runTraces(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	var (
		results []runResult
		failed  int
	)
	for _, path := range args {
		r := replayFile(path)
		if r.err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", r.err)
		}
		results = append(results, r)
	}
	if !quiet {
		printResults(out, results)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d trace(s) failed", failed, len(args))
	}
	return nil
}

func printResults(out io.Writer, results []runResult) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Trace", "Policy", "Valid", "Ops", "Util",
		"Heap", "Secs", "Kops"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	var (
		ops   int
		secs  float64
		util  float64
		valid int
	)
	for _, r := range results {
		if r.err != nil {
			table.Append([]string{r.name, policyName, "no", "-", "-", "-", "-", "-"})
			continue
		}
		valid++
		ops += r.res.Ops
		secs += r.res.Duration.Seconds()
		util += r.res.Utilization()
		table.Append([]string{
			r.name,
			policyName,
			"yes",
			humanize.Comma(int64(r.res.Ops)),
			fmt.Sprintf("%.1f%%", 100*r.res.Utilization()),
			humanize.IBytes(r.res.HeapSize),
			strconv.FormatFloat(r.res.Duration.Seconds(), 'f', 6, 64),
			fmt.Sprintf("%.0f", r.res.Throughput()/1000),
		})
	}
	if valid > 0 {
		kops := 0.0
		if secs > 0 {
			kops = float64(ops) / secs / 1000
		}
		table.SetFooter([]string{"Total", "", strconv.Itoa(valid),
			humanize.Comma(int64(ops)),
			fmt.Sprintf("%.1f%%", 100*util/float64(valid)), "",
			strconv.FormatFloat(secs, 'f', 6, 64),
			fmt.Sprintf("%.0f", kops)})
	}
	table.Render()
}
