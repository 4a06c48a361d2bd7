// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEvents is returned when enabling or opening an empty set of
	// events.
	ErrNoEvents = errors.New("no events")

	// ErrStaleGeneration is matched by a StaleGenerationError.
	ErrStaleGeneration = errors.New("stale event configuration generation")
)

// A StaleGenerationError reports an attach that raced with a concurrent
// [Ctl.Enable] or [Ctl.Disable]. The event set opened for the attach was
// built from an outdated configuration and was not installed; the caller
// may retry.
type StaleGenerationError struct {
	TID      int
	Snapshot uint64 // Generation the event set was opened against
	Current  uint64 // Generation at install time
	Enabled  bool   // Whether collection was still enabled at install time
}

func (e *StaleGenerationError) Error() string {
	if !e.Enabled {
		return fmt.Sprintf("attach thread %d: events disabled while opening generation %d", e.TID, e.Snapshot)
	}
	return fmt.Sprintf("attach thread %d: generation changed from %d to %d while opening", e.TID, e.Snapshot, e.Current)
}

func (e *StaleGenerationError) Is(target error) bool {
	return target == ErrStaleGeneration
}

// An AttachError reports a failure to open or start the event set of a
// thread. The thread is left unattached.
type AttachError struct {
	TID        int
	Generation uint64
	Err        error
}

func (e *AttachError) Error() string {
	return fmt.Sprintf("attach thread %d (generation %d): %v", e.TID, e.Generation, e.Err)
}

func (e *AttachError) Unwrap() error {
	return e.Err
}
