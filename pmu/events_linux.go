// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package pmu

import (
	"fmt"

	"github.com/pmuctl/pmuctl/events"
)

// rawConfigMask selects the event select bits the kernel accepts in the
// config of a raw event. The privilege, interrupt and enable bits are owned
// by the kernel and expressed through perf_event_attr flags instead.
const rawConfigMask = 0xff<<evtSelEventShift |
	0xff<<evtSelUnitMaskShift |
	1<<evtSelEdgeShift |
	1<<evtSelAnyThreadShift |
	1<<evtSelInvertShift |
	0xff<<evtSelCMaskShift

// fixedEvents are the architectural events counted by each fixed counter.
var fixedEvents = [MaxFixedEvents]events.Event{
	events.EventInstructions,
	events.EventCPUCycles,
	events.EventRefCycles,
}

// offcoreEventCodes are the event select and unit mask of the
// OFFCORE_RESPONSE events paired with each offcore response register.
var offcoreEventCodes = [MaxOffcoreEvents]uint64{0x01b7, 0x01bb}

// Events returns perf events that program the same counters as s: one raw
// event per general purpose register, one architectural event per enabled
// fixed counter, and one OFFCORE_RESPONSE event per offcore register, in
// that order.
func (s *EventSelect) Events() []events.Event {
	evs := make([]events.Event, 0, s.GeneralCount()+s.FixedCount()+s.OffcoreCount())
	for _, r := range s.General {
		evs = append(evs, events.RawEvent{
			Config:        uint64(r & rawConfigMask),
			ExcludeUser:   fieldUser.get(r) == 0,
			ExcludeKernel: fieldKernel.get(r) == 0,
		})
	}
	for ctr := 0; ctr < MaxFixedEvents; ctr++ {
		if s.FixedGlobalCtl&(1<<ctr) == 0 {
			continue
		}
		mask := s.FixedEnableMask(ctr)
		evs = append(evs, events.WithScope(fixedEvents[ctr], mask&2 != 0, mask&1 != 0))
	}
	for i, v := range s.Offcore {
		evs = append(evs, events.RawEvent{
			Name:    fmt.Sprintf("offcore_response_%d/config1=%#x/", i, v),
			Config:  offcoreEventCodes[i],
			Config1: v,
		})
	}
	return evs
}
