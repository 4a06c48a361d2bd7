// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmuctl/pmuctl/pmu"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEncodeFlags(t *testing.T) {
	out, err := runCmd(t, "encode",
		"-g", "event=0x2e,umask=0x41,user",
		"-f", "counter=0,user",
		"-o", "0x10001")
	require.NoError(t, err)
	assert.Equal(t, "gp[0] 0x0041412e\nfixed 0x00000002 global 0x1\noffcore[0] 0x0000000000010001\n", out)
}

func TestEncodeDefaults(t *testing.T) {
	out, err := runCmd(t, "encode")
	require.NoError(t, err)
	assert.Equal(t, "fixed 0x00000033 global 0x3\n", out)
}

func TestEncodeConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
events:
  general: ["event=0xc0,kernel"]
  fixed: []
`), 0o644))

	out, err := runCmd(t, "--config", path, "encode")
	require.NoError(t, err)
	assert.Equal(t, "gp[0] 0x004200c0\n", out)
}

func TestEncodeErrors(t *testing.T) {
	_, err := runCmd(t, "encode", "-f", "counter=3")
	assert.ErrorIs(t, err, pmu.ErrInvalidCounter)

	_, err = runCmd(t, "encode", "-g", "umask=1")
	assert.ErrorContains(t, err, "missing event")

	_, err = runCmd(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "encode")
	assert.ErrorContains(t, err, "reading config")
}
