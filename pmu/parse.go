// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pmu

import (
	"fmt"
	"strconv"
	"strings"
)

type eventParam struct {
	k string
	v uint64
}

// parseParamList parses a comma-separated list of k strings and k=v pairs.
// Lone keys have value 1. Values can be decimal, hex, or octal.
func parseParamList(list string) ([]eventParam, error) {
	var params []eventParam
	errf := func(f string, args ...any) error {
		prefix := fmt.Sprintf("error parsing event param list %q", list)
		return fmt.Errorf("%s: "+f, append([]any{prefix}, args...)...)
	}
	for _, s := range strings.Split(list, ",") {
		s = strings.TrimSpace(s)
		k, vs, ok := strings.Cut(s, "=")
		if k == "" {
			return nil, errf("missing parameter name in %q", s)
		}
		if !ok {
			params = append(params, eventParam{k, 1})
			continue
		}
		v, err := strconv.ParseUint(vs, 0, 64)
		if err != nil {
			return nil, errf("parameter %q not a number", s)
		}
		params = append(params, eventParam{k, v})
	}
	return params, nil
}

// checkRange returns an error if p's value does not fit in nBits.
func (p eventParam) checkRange(nBits int) error {
	max := uint64(1)<<nBits - 1
	if p.v > max {
		return fmt.Errorf("parameter %s=%d not in range 0-%d", p.k, p.v, max)
	}
	return nil
}

// ParseGeneralPurposeEvent parses a general purpose event in the form
// "event=0x2e,umask=0x41,user,kernel,edge,any,inv,cmask=N". "event" is
// required; everything else defaults to zero. "os" and "usr" are accepted
// as aliases for "kernel" and "user".
func ParseGeneralPurposeEvent(s string) (GeneralPurposeEvent, error) {
	params, err := parseParamList(s)
	if err != nil {
		return GeneralPurposeEvent{}, err
	}
	var e GeneralPurposeEvent
	sawEvent := false
	for _, p := range params {
		nBits := 1
		switch p.k {
		case "event", "umask", "cmask":
			nBits = 8
		}
		if err := p.checkRange(nBits); err != nil {
			return GeneralPurposeEvent{}, fmt.Errorf("event %q: %w", s, err)
		}
		switch p.k {
		case "event":
			e.EventSelect, sawEvent = uint8(p.v), true
		case "umask":
			e.UnitMask = uint8(p.v)
		case "cmask":
			e.CounterMask = uint8(p.v)
		case "user", "usr":
			e.User = p.v != 0
		case "kernel", "os":
			e.Kernel = p.v != 0
		case "edge":
			e.EdgeDetect = p.v != 0
		case "any":
			e.AnyThread = p.v != 0
		case "inv":
			e.InvertCounterMask = p.v != 0
		default:
			return GeneralPurposeEvent{}, fmt.Errorf("event %q: unknown parameter %q", s, p.k)
		}
	}
	if !sawEvent {
		return GeneralPurposeEvent{}, fmt.Errorf("event %q: missing event select", s)
	}
	return e, nil
}

// ParseFixedEvent parses a fixed counter event in the form
// "counter=N,user,kernel". The counter index is not range checked here;
// [Build] rejects out of range counters.
func ParseFixedEvent(s string) (FixedEvent, error) {
	params, err := parseParamList(s)
	if err != nil {
		return FixedEvent{}, err
	}
	var e FixedEvent
	sawCounter := false
	for _, p := range params {
		nBits := 1
		if p.k == "counter" {
			nBits = 8
		}
		if err := p.checkRange(nBits); err != nil {
			return FixedEvent{}, fmt.Errorf("fixed event %q: %w", s, err)
		}
		switch p.k {
		case "counter":
			e.Counter, sawCounter = uint8(p.v), true
		case "user", "usr":
			e.User = p.v != 0
		case "kernel", "os":
			e.Kernel = p.v != 0
		default:
			return FixedEvent{}, fmt.Errorf("fixed event %q: unknown parameter %q", s, p.k)
		}
	}
	if !sawCounter {
		return FixedEvent{}, fmt.Errorf("fixed event %q: missing counter", s)
	}
	return e, nil
}

// ParseOffcoreEvent parses a raw offcore response value.
func ParseOffcoreEvent(s string) (OffcoreEvent, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("offcore event %q not a number", s)
	}
	return OffcoreEvent(v), nil
}

// ParseRequest parses lists of general purpose, fixed and offcore event
// strings into a Request. It does not check hardware limits.
func ParseRequest(general, fixed, offcore []string) (*Request, error) {
	var req Request
	for _, s := range general {
		e, err := ParseGeneralPurposeEvent(s)
		if err != nil {
			return nil, err
		}
		req.General = append(req.General, e)
	}
	for _, s := range fixed {
		e, err := ParseFixedEvent(s)
		if err != nil {
			return nil, err
		}
		req.Fixed = append(req.Fixed, e)
	}
	for _, s := range offcore {
		e, err := ParseOffcoreEvent(s)
		if err != nil {
			return nil, err
		}
		req.Offcore = append(req.Offcore, e)
	}
	return &req, nil
}
