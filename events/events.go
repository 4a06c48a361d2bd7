// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

// Package events describes performance events in the form the kernel's
// perf_event_open expects.
package events

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// An Event represents a performance event that perf can count.
type Event interface {
	// String returns the string representation of this event, preferably as the
	// name used by "perf record -e".
	String() string

	// SetAttrs sets the attributes for this event in the [unix.PerfEventAttr]
	// struct.
	SetAttrs(*unix.PerfEventAttr) error
}

type eventBasic struct {
	name   string
	typ    uint32
	config uint64
}

func (e eventBasic) SetAttrs(a *unix.PerfEventAttr) error {
	a.Type = e.typ
	a.Config = e.config
	return nil
}

func (e eventBasic) String() string {
	return e.name
}

var (
	EventCPUCycles       = eventBasic{"cpu-cycles", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES}
	EventInstructions    = eventBasic{"instructions", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS}
	EventCacheReferences = eventBasic{"cache-references", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_REFERENCES}
	EventCacheMisses     = eventBasic{"cache-misses", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_MISSES}
	EventBranches        = eventBasic{"branches", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS}
	EventBranchesMisses  = eventBasic{"branch-misses", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_MISSES}
	EventBusCycles       = eventBasic{"bus-cycles", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BUS_CYCLES}
	EventRefCycles       = eventBasic{"ref-cycles", unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_REF_CPU_CYCLES}
)

// A RawEvent is a model specific event of the core PMU. Config is laid out
// like the low bits of the event select register; Config1 carries the
// auxiliary register value of events that need one, such as the offcore
// response events.
type RawEvent struct {
	Name    string
	Config  uint64
	Config1 uint64

	ExcludeUser   bool
	ExcludeKernel bool
}

// RawEvent implements Event
var _ Event = RawEvent{}

func (e RawEvent) String() string {
	if e.Name != "" {
		return e.Name
	}
	if e.Config1 != 0 {
		return fmt.Sprintf("cpu/config=%#x,config1=%#x/", e.Config, e.Config1)
	}
	return fmt.Sprintf("r%x", e.Config)
}

func (e RawEvent) SetAttrs(a *unix.PerfEventAttr) error {
	a.Type = unix.PERF_TYPE_RAW
	a.Config = e.Config
	a.Ext1 = e.Config1
	setExclude(a, e.ExcludeUser, e.ExcludeKernel)
	return nil
}

func setExclude(a *unix.PerfEventAttr, user, kernel bool) {
	if user {
		a.Bits |= unix.PerfBitExcludeUser
	}
	if kernel {
		a.Bits |= unix.PerfBitExcludeKernel
	}
}

type scopedEvent struct {
	Event
	user, kernel bool
}

// WithScope returns an Event that counts ev only at the requested privilege
// levels. If neither user nor kernel is set, ev is returned unchanged.
func WithScope(ev Event, user, kernel bool) Event {
	if !user && !kernel {
		return ev
	}
	return scopedEvent{ev, user, kernel}
}

func (e scopedEvent) String() string {
	mod := ""
	if e.user {
		mod += "u"
	}
	if e.kernel {
		mod += "k"
	}
	return e.Event.String() + ":" + mod
}

func (e scopedEvent) SetAttrs(a *unix.PerfEventAttr) error {
	if err := e.Event.SetAttrs(a); err != nil {
		return err
	}
	setExclude(a, !e.user, !e.kernel)
	return nil
}
