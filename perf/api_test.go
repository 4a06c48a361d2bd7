// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/pmuctl/pmuctl/events"
)

func TestParanoidHint(t *testing.T) {
	old := paranoidPath
	t.Cleanup(func() { paranoidPath = old })

	dir := t.TempDir()
	for _, tc := range []struct {
		val  string
		hint bool
	}{
		{"-1\n", false},
		{"0\n", false},
		{"2\n", true},
		{"garbage", true},
	} {
		paranoidPath = filepath.Join(dir, "paranoid")
		require.NoError(t, os.WriteFile(paranoidPath, []byte(tc.val), 0o644))
		assert.Equal(t, tc.hint, paranoidHint() != "", "paranoid %q", tc.val)
	}

	paranoidPath = filepath.Join(dir, "missing")
	assert.Contains(t, paranoidHint(), paranoidPath)
}

// skipIfNoPerf skips the test if err shows that this machine cannot count
// hardware events.
func skipIfNoPerf(t *testing.T, err error) {
	t.Helper()
	var serr *SyscallError
	if errors.As(err, &serr) {
		switch serr.Errno {
		case unix.EACCES, unix.EPERM, unix.ENOENT, unix.ENODEV, unix.EOPNOTSUPP:
			t.Skipf("perf events unavailable: %v", err)
		}
	}
}

func TestCtlSyscall(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c := NewCtl(nil, zaptest.NewLogger(t))
	_, err := c.Enable(AttrSet{events.EventInstructions, events.EventCPUCycles})
	require.NoError(t, err)

	buf := &testBuffer{tid: unix.Gettid()}
	attached, inert, err := c.AttachTo(buf)
	skipIfNoPerf(t, err)
	require.NoError(t, err)
	require.True(t, attached)
	assert.Nil(t, inert)

	x := 0
	for i := 0; i < 100000; i++ {
		x += i
	}
	_ = x

	sets := c.Disable()
	require.Len(t, sets, 1)
	var cs [2]Count
	require.NoError(t, sets[buf.tid].ReadGroup(cs[:]))
	assert.NotZero(t, cs[0].RawValue, "instructions")

	_, err = sets[buf.tid].Page(0)
	require.NoError(t, err)

	require.NoError(t, sets.Close())
}
