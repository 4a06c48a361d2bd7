// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfbench

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pmuctl/pmuctl/events"
	"github.com/pmuctl/pmuctl/perf"
	"github.com/pmuctl/pmuctl/pmu"
)

var defaultEvents = []events.Event{
	events.EventCPUCycles,
	events.EventInstructions,
	events.EventCacheMisses,
	events.EventCacheReferences,
}

// Each event gets its own single-event set so that one event the PMU cannot
// schedule does not keep the others from counting.
type countersOS struct {
	b  testingB
	bN int

	api      perf.API
	events   []events.Event
	sets     []*perf.EventSet
	baseline []perf.Count
	totals   map[string]float64
}

var printUnits = sync.OnceFunc(func() {
	// Print unit metadata.
	for _, event := range defaultEvents {
		// Currently all events are better=lower.
		fmt.Printf("Unit %s better=lower\n", event.String())
	}
	fmt.Printf("\n")
})

// testingB is the *testing.B interface needed by Counters. Used for testing.
type testingB interface {
	ReportMetric(n float64, unit string)
	Logf(format string, args ...any)
	Cleanup(func())
}

var openErrors sync.Map

func openOS(b *testing.B, sel *pmu.EventSelect) *Counters {
	evs := defaultEvents
	if sel != nil {
		evs = sel.Events()
	} else {
		printUnits()
	}
	return open(b, b.N, perf.SyscallAPI{}, evs)
}

func open(b testingB, bN int, api perf.API, evs []events.Event) *Counters {
	cs := &Counters{countersOS{
		b:        b,
		bN:       bN,
		api:      api,
		events:   evs,
		sets:     make([]*perf.EventSet, len(evs)),
		baseline: make([]perf.Count, len(evs)),
	}}

	for i, event := range cs.events {
		var err error
		cs.sets[i], err = perf.OpenEventSet(api, perf.TargetThisGoroutine, event)
		if err != nil {
			// Only report each error once, to avoid flooding benchmark log.
			msg := fmt.Sprintf("error opening counter %s: %v", event, err)
			if _, prev := openErrors.Swap(msg, true); !prev {
				b.Logf("%s", msg)
			}
		}
	}

	b.Cleanup(cs.close)

	// Start all of the counters.
	cs.Start()

	return cs
}

func (cs *Counters) startOS() {
	for _, es := range cs.sets {
		if es != nil {
			es.Enable()
		}
	}
}

func (cs *Counters) stopOS() {
	for _, es := range cs.sets {
		if es != nil {
			es.Disable()
		}
	}
}

func (cs *Counters) resetOS() {
	// perf has a concept of resetting a counter, but it doesn't reset the
	// counter's timers, so instead we track our own baseline.
	for i, es := range cs.sets {
		if es != nil {
			cs.baseline[i], _ = es.ReadOne()
		}
	}
}

func (cs *Counters) totalOS(name string) (float64, bool) {
	if cs.totals != nil {
		v, ok := cs.totals[name]
		return v, ok
	}
	for i, es := range cs.sets {
		if es == nil || cs.events[i].String() != name {
			continue
		}
		val, err := cs.read(i)
		if err != nil {
			return 0, false
		}
		return val.Value(), true
	}
	return 0, false
}

// read returns the count of event i since the last reset.
func (cs *Counters) read(i int) (perf.Count, error) {
	val, err := cs.sets[i].ReadOne()
	if err != nil {
		return val, err
	}
	base := cs.baseline[i]
	val.RawValue -= base.RawValue
	val.TimeEnabled -= base.TimeEnabled
	val.TimeRunning -= base.TimeRunning
	return val, nil
}

func (cs *Counters) close() {
	if cs.b == nil {
		return
	}

	cs.Stop()
	cs.totals = make(map[string]float64)
	for i, es := range cs.sets {
		if es == nil {
			continue
		}
		name := cs.events[i].String()
		val, err := cs.read(i)
		if err != nil {
			cs.b.Logf("error reading %s: %v", name, err)
		} else if val.TimeRunning > 0 {
			cs.totals[name] = val.Value()
			cs.b.ReportMetric(val.Value()/float64(cs.bN), name+"/op")
		}
		if err := es.Close(); err != nil {
			cs.b.Logf("error closing %s: %v", name, err)
		}
	}
	cs.b = nil
}
