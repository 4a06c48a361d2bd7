// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pmu

import (
	"errors"
	"fmt"
)

var (
	// ErrTooManyEvents is matched by a ValidationError for a request with
	// more events of one class than the hardware has counters.
	ErrTooManyEvents = errors.New("too many events")

	// ErrInvalidCounter is matched by a ValidationError for a fixed event
	// naming a counter the hardware does not have.
	ErrInvalidCounter = errors.New("invalid fixed counter index")
)

// An EventClass identifies one of the kinds of events in a [Request].
type EventClass int

const (
	ClassGeneralPurpose EventClass = iota
	ClassFixed
	ClassOffcore
)

func (c EventClass) String() string {
	switch c {
	case ClassGeneralPurpose:
		return "general purpose"
	case ClassFixed:
		return "fixed"
	case ClassOffcore:
		return "offcore"
	}
	return fmt.Sprintf("EventClass(%d)", int(c))
}

// A ValidationError reports a Request that cannot be programmed.
type ValidationError struct {
	Class EventClass

	// Value is the offending event count, or for ErrInvalidCounter the
	// offending counter index.
	Value int
	Max   int

	Err error // ErrTooManyEvents or ErrInvalidCounter
}

func (e *ValidationError) Error() string {
	if e.Err == ErrInvalidCounter {
		return fmt.Sprintf("invalid request: fixed event counter index %d exceeds %d", e.Value, e.Max)
	}
	return fmt.Sprintf("invalid request: %s events cannot exceed %d, received %d", e.Class, e.Max, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
