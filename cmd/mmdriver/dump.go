// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/intuitivelabs/mallocs/btmalloc"
	"github.com/intuitivelabs/mallocs/trace"
)

var dumpOps int

func init() {
	cmd := newDumpCmd()
	cmd.Flags().IntVarP(&dumpOps, "ops", "n", -1,
		"Replay only the first n operations (-1 for all)")
	rootCmd.AddCommand(cmd)
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <trace>",
		Short: "Replay a trace and print the resulting heap blocks",
		Long: `The dump command replays a trace (or only its first operations)
and prints every heap block in address order, followed by the heap usage.

Example:
  mmdriver dump short1.rep
  mmdriver dump -n 10 --policy implicit short1.rep`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, args[0])
		},
	}
}

func runDump(cmd *cobra.Command, path string) error {
	tr, err := trace.Load(path)
	if err != nil {
		return err
	}
	if dumpOps >= 0 && dumpOps < len(tr.Ops) {
		tr.Ops = tr.Ops[:dumpOps]
	}
	m, reg, err := newHeap()
	if err != nil {
		return err
	}
	defer reg.Close()
	if _, err := trace.Replay(tr, m, trace.ReplayOptions{CheckHeap: checkHeap}); err != nil {
		return err
	}
	if verbose {
		m.DumpStatus()
	}
	out := cmd.OutOrStdout()
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "Address", "Size", "Usable", "Status"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	i := 0
	m.Walk(func(b btmalloc.BlockInfo) bool {
		status := "free"
		switch {
		case b.Sentinel && b.Size == 0:
			status = "epilogue"
		case b.Sentinel:
			status = "prologue"
		case b.Alloc:
			status = "used"
		}
		table.Append([]string{
			fmt.Sprint(i),
			fmt.Sprintf("0x%x", uint32(b.Addr)),
			fmt.Sprint(b.Size),
			fmt.Sprint(b.Usable()),
			status,
		})
		i++
		return true
	})
	table.Render()

	u := m.MUsage()
	printInfo(out, "heap: %s, used: %s in %d blocks (%s with overhead, max %s), free: %s in %d blocks\n",
		humanize.IBytes(m.HeapSize()),
		humanize.IBytes(u.Used), u.Blocks,
		humanize.IBytes(u.RealUsed), humanize.IBytes(u.MaxRealUsed),
		humanize.IBytes(m.Available()), m.FreeBlocks())
	return m.CheckHeap()
}
