// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/intuitivelabs/mallocs/trace"
)

var (
	genCfg = trace.DefaultGenConfig()
	genOut string
)

func init() {
	cmd := newGenCmd()
	f := cmd.Flags()
	f.IntVar(&genCfg.IDs, "ids", genCfg.IDs, "Number of blocks allocated by the trace")
	f.IntVar(&genCfg.MinSize, "min", genCfg.MinSize, "Minimum request size")
	f.IntVar(&genCfg.MaxSize, "max", genCfg.MaxSize, "Maximum request size")
	f.Float64Var(&genCfg.ReallocRate, "realloc", genCfg.ReallocRate,
		"Probability of a realloc instead of a free")
	f.Int64Var(&genCfg.Seed, "seed", 0, "Random seed")
	f.StringVarP(&genOut, "output", "o", "", "Output file (default stdout)")
	rootCmd.AddCommand(cmd)
}

func newGenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen",
		Short: "Generate a random trace",
		Long: `The gen command writes a random trace in which every block is
allocated once, possibly reallocated and then freed.

Example:
  mmdriver gen --ids 5000 --max 4096 --seed 7 -o random.rep`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGen(cmd)
		},
	}
}

func runGen(cmd *cobra.Command) error {
	if genCfg.IDs <= 0 {
		return fmt.Errorf("--ids must be positive")
	}
	tr := trace.Generate(genCfg)
	if genOut == "" {
		return trace.Write(cmd.OutOrStdout(), tr)
	}
	f, err := os.Create(genOut)
	if err != nil {
		return err
	}
	if err := trace.Write(f, tr); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
