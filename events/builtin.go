// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package events

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// builtinEvents are the event names that correspond to well-known perf event
// configs and thus are available on every CPU.
var builtinEvents = sync.OnceValue(func() map[string]Event {
	m := make(map[string]Event)
	add := func(typ uint32, config uint64, names ...string) {
		// The first name is canonical.
		ev := eventBasic{names[0], typ, config}
		for _, name := range names {
			m[name] = ev
		}
	}

	// See parse-events.c:event_symbols_hw
	hw := func(config uint64, names ...string) { add(unix.PERF_TYPE_HARDWARE, config, names...) }
	hw(unix.PERF_COUNT_HW_CPU_CYCLES, "cpu-cycles", "cycles")
	hw(unix.PERF_COUNT_HW_INSTRUCTIONS, "instructions")
	hw(unix.PERF_COUNT_HW_CACHE_REFERENCES, "cache-references")
	hw(unix.PERF_COUNT_HW_CACHE_MISSES, "cache-misses")
	hw(unix.PERF_COUNT_HW_BRANCH_INSTRUCTIONS, "branches", "branch-instructions")
	hw(unix.PERF_COUNT_HW_BRANCH_MISSES, "branch-misses")
	hw(unix.PERF_COUNT_HW_BUS_CYCLES, "bus-cycles")
	hw(unix.PERF_COUNT_HW_STALLED_CYCLES_FRONTEND, "stalled-cycles-frontend", "idle-cycles-frontend")
	hw(unix.PERF_COUNT_HW_STALLED_CYCLES_BACKEND, "stalled-cycles-backend", "idle-cycles-backend")
	hw(unix.PERF_COUNT_HW_REF_CPU_CYCLES, "ref-cycles")

	// See parse-events.c:event_symbols_sw
	sw := func(config uint64, names ...string) { add(unix.PERF_TYPE_SOFTWARE, config, names...) }
	sw(unix.PERF_COUNT_SW_CPU_CLOCK, "cpu-clock")
	sw(unix.PERF_COUNT_SW_TASK_CLOCK, "task-clock")
	sw(unix.PERF_COUNT_SW_PAGE_FAULTS, "page-faults", "faults")
	sw(unix.PERF_COUNT_SW_CONTEXT_SWITCHES, "context-switches", "cs")
	sw(unix.PERF_COUNT_SW_CPU_MIGRATIONS, "cpu-migrations", "migrations")
	sw(unix.PERF_COUNT_SW_PAGE_FAULTS_MIN, "minor-faults")
	sw(unix.PERF_COUNT_SW_PAGE_FAULTS_MAJ, "major-faults")
	sw(unix.PERF_COUNT_SW_ALIGNMENT_FAULTS, "alignment-faults")
	sw(unix.PERF_COUNT_SW_EMULATION_FAULTS, "emulation-faults")
	sw(unix.PERF_COUNT_SW_DUMMY, "dummy")
	return m
})

// Lookup returns the generic hardware or software event with the given
// perf name, such as "instructions" or "task-clock". The name may carry a
// ":u", ":k" or ":uk" modifier restricting the privilege levels counted.
func Lookup(name string) (Event, error) {
	base, mod, hasMod := strings.Cut(name, ":")
	ev, ok := builtinEvents()[base]
	if !ok {
		return nil, fmt.Errorf("unknown event %q", name)
	}
	if !hasMod {
		return ev, nil
	}
	var user, kernel bool
	for _, c := range mod {
		switch c {
		case 'u':
			user = true
		case 'k':
			kernel = true
		default:
			return nil, fmt.Errorf("event %q: unknown modifier %q", name, c)
		}
	}
	if !user && !kernel {
		return nil, fmt.Errorf("event %q: empty modifier", name)
	}
	return WithScope(ev, user, kernel), nil
}
