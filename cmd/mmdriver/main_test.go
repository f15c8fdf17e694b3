// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTrace = `20000
2
5
1
a 0 100
a 1 200
r 0 400
f 1
f 0
`

func writeTrace(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestRun(t *testing.T) {
	path := writeTrace(t, "small.rep", testTrace)
	out, err := runCmd(t, "run", "--check", "--policy", "next", path)
	require.NoError(t, err)
	assert.Contains(t, out, "small.rep")
	assert.Contains(t, out, "next")
	assert.Contains(t, out, "yes")
}

func TestRunErrors(t *testing.T) {
	bad := writeTrace(t, "bad.rep", "1\n1\n1\n1\nx 0 1\n")
	_, err := runCmd(t, "run", "--policy", "first", bad)
	assert.ErrorContains(t, err, "1 of 1 trace(s) failed")

	good := writeTrace(t, "good.rep", testTrace)
	_, err = runCmd(t, "run", "--policy", "worst", good)
	assert.Error(t, err)
}

func TestDump(t *testing.T) {
	path := writeTrace(t, "small.rep", testTrace)
	out, err := runCmd(t, "dump", "--policy", "first", "-n", "2", path)
	require.NoError(t, err)
	assert.Contains(t, out, "prologue")
	assert.Contains(t, out, "epilogue")
	assert.Contains(t, out, "used")
	assert.Contains(t, out, "in 2 blocks")
}

func TestGen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gen.rep")
	_, err := runCmd(t, "gen", "--ids", "50", "--max", "300", "--seed", "3",
		"-o", path)
	require.NoError(t, err)
	out, err := runCmd(t, "run", "--policy", "first", "--check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "gen.rep")
}
