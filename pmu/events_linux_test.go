// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package pmu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEventSelectEvents(t *testing.T) {
	sel, err := Build(&Request{
		General: []GeneralPurposeEvent{
			{EventSelect: 0x2e, UnitMask: 0x41, User: true},
			{EventSelect: 0xa3, UnitMask: 0x14, Kernel: true, InvertCounterMask: true, CounterMask: 0x14},
		},
		Fixed: []FixedEvent{
			{Counter: 2, User: true},
			{Counter: 0},
		},
		Offcore: []OffcoreEvent{0x10001},
	}, nil)
	require.NoError(t, err)

	evs := sel.Events()
	require.Len(t, evs, 5)

	attrs := make([]unix.PerfEventAttr, len(evs))
	for i, ev := range evs {
		require.NoError(t, ev.SetAttrs(&attrs[i]), "event %s", ev)
	}

	// The enable bit and the privilege bits are not part of a raw config.
	assert.Equal(t, uint32(unix.PERF_TYPE_RAW), attrs[0].Type)
	assert.Equal(t, uint64(0x412e), attrs[0].Config)
	assert.Zero(t, attrs[0].Bits&unix.PerfBitExcludeUser)
	assert.NotZero(t, attrs[0].Bits&unix.PerfBitExcludeKernel)

	assert.Equal(t, uint64(0x148014a3), attrs[1].Config)
	assert.NotZero(t, attrs[1].Bits&unix.PerfBitExcludeUser)
	assert.Zero(t, attrs[1].Bits&unix.PerfBitExcludeKernel)

	// Fixed counter 0 with neither flag counts kernel only.
	assert.Equal(t, uint32(unix.PERF_TYPE_HARDWARE), attrs[2].Type)
	assert.Equal(t, uint64(unix.PERF_COUNT_HW_INSTRUCTIONS), attrs[2].Config)
	assert.NotZero(t, attrs[2].Bits&unix.PerfBitExcludeUser)
	assert.Zero(t, attrs[2].Bits&unix.PerfBitExcludeKernel)
	assert.Equal(t, "instructions:k", evs[2].String())

	assert.Equal(t, uint64(unix.PERF_COUNT_HW_REF_CPU_CYCLES), attrs[3].Config)
	assert.Zero(t, attrs[3].Bits&unix.PerfBitExcludeUser)
	assert.NotZero(t, attrs[3].Bits&unix.PerfBitExcludeKernel)

	assert.Equal(t, uint32(unix.PERF_TYPE_RAW), attrs[4].Type)
	assert.Equal(t, uint64(0x01b7), attrs[4].Config)
	assert.Equal(t, uint64(0x10001), attrs[4].Ext1)
}
