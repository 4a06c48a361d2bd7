// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pmu validates PMU programming requests and packs them into the
// images of the hardware control registers that select the events.
//
// A [Request] is the programmer friendly model: a list of general purpose
// events, fixed counter events and offcore response values. [Build] turns a
// Request into an [EventSelect], the machine friendly model holding the
// register images in the exact bit layout the hardware expects.
package pmu

import (
	"fmt"
	"strings"
)

// Hardware limits of the targeted core PMU.
const (
	MaxGeneralPurposeEvents = 8
	MaxFixedEvents          = 3
	MaxOffcoreEvents        = 2
)

// A GeneralPurposeEvent programs one general purpose counter.
type GeneralPurposeEvent struct {
	EventSelect uint8
	UnitMask    uint8

	User              bool // Count in ring 3
	Kernel            bool // Count in ring 0
	EdgeDetect        bool
	AnyThread         bool
	InvertCounterMask bool

	CounterMask uint8
}

// String returns e in the syntax accepted by [ParseGeneralPurposeEvent].
func (e GeneralPurposeEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "event=%#x,umask=%#x", e.EventSelect, e.UnitMask)
	flag := func(set bool, name string) {
		if set {
			b.WriteString(",")
			b.WriteString(name)
		}
	}
	flag(e.User, "user")
	flag(e.Kernel, "kernel")
	flag(e.EdgeDetect, "edge")
	flag(e.AnyThread, "any")
	flag(e.InvertCounterMask, "inv")
	if e.CounterMask != 0 {
		fmt.Fprintf(&b, ",cmask=%#x", e.CounterMask)
	}
	return b.String()
}

// A FixedEvent enables one of the fixed function counters. Only the
// privilege levels are programmable; the counted event is fixed by the
// hardware.
type FixedEvent struct {
	Counter uint8 // Must be < MaxFixedEvents

	User   bool
	Kernel bool
}

// String returns e in the syntax accepted by [ParseFixedEvent].
func (e FixedEvent) String() string {
	s := fmt.Sprintf("counter=%d", e.Counter)
	if e.User {
		s += ",user"
	}
	if e.Kernel {
		s += ",kernel"
	}
	return s
}

// An OffcoreEvent is the raw value of an offcore response register. It is
// passed through to the hardware unmodified.
type OffcoreEvent uint64

func (e OffcoreEvent) String() string {
	return fmt.Sprintf("%#x", uint64(e))
}

// A Request is an ordered set of PMU events to program together.
type Request struct {
	General []GeneralPurposeEvent
	Fixed   []FixedEvent
	Offcore []OffcoreEvent
}

// Empty reports whether r requests no events at all.
func (r *Request) Empty() bool {
	return len(r.General) == 0 && len(r.Fixed) == 0 && len(r.Offcore) == 0
}
