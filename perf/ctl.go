// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/pmuctl/pmuctl/events"
)

// An AttrSet is the list of events every attached thread counts.
type AttrSet []events.Event

// An EventSetMap maps thread ids to their event sets.
type EventSetMap map[int]*EventSet

// Close closes every event set in m and returns the combined errors.
func (m EventSetMap) Close() error {
	var err error
	for _, es := range m {
		err = multierr.Append(err, es.Close())
	}
	return err
}

// Release closes each non-nil event set and returns the combined errors.
// It is meant for the inert sets returned by [Ctl] and must not be called
// while holding any lock the sets' users need.
func Release(sets ...*EventSet) error {
	var err error
	for _, es := range sets {
		err = multierr.Append(err, es.Close())
	}
	return err
}

// A SamplesBuffer is the per-thread consumer of an attached event set. The
// Ctl only passes the event set through; it never reads samples.
type SamplesBuffer interface {
	// TID returns the id of the thread whose events the buffer records.
	TID() int

	// Bind hands the buffer the event set now counting for its thread.
	// It is called with the Ctl's lock held and must not block.
	Bind(es *EventSet)
}

// published is an immutable pairing of an event configuration with its
// generation.
type published struct {
	generation uint64
	attrs      AttrSet
}

// A Ctl coordinates per-thread perf event sets against one published event
// configuration.
//
// Enable publishes a configuration under a new generation; AttachTo opens
// an event set for a thread against the current generation. The slow
// kernel calls of AttachTo happen without holding the Ctl's lock, so a
// configuration change can race with them; AttachTo detects this by
// comparing generations before installing and refuses to install a set
// built from an outdated configuration.
//
// Event sets removed from the Ctl are returned to the caller ("inert"
// sets), who must close them. This keeps unmap and close calls outside the
// Ctl's critical section.
type Ctl struct {
	api        API
	log        *zap.Logger
	attachHook func(tid int, generation uint64)

	mu     sync.Mutex
	active EventSetMap

	// snap is written with mu held and read without it.
	snap    atomic.Pointer[published]
	enabled atomic.Bool
}

// A CtlOption configures a Ctl.
type CtlOption func(*Ctl)

// WithAttachHook installs a function AttachTo calls after opening a
// thread's event set and before installing it. It runs with no lock held.
func WithAttachHook(hook func(tid int, generation uint64)) CtlOption {
	return func(c *Ctl) {
		c.attachHook = hook
	}
}

// NewCtl returns a disabled Ctl that opens event sets through api. If api
// is nil, [SyscallAPI] is used. log may be nil.
func NewCtl(api API, log *zap.Logger, opts ...CtlOption) *Ctl {
	if api == nil {
		api = SyscallAPI{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Ctl{
		api:    api,
		log:    log,
		active: make(EventSetMap),
	}
	c.snap.Store(&published{})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsEnabled reports whether event collection is on. It never blocks.
func (c *Ctl) IsEnabled() bool {
	return c.enabled.Load()
}

// Generation returns the generation of the current configuration. It is 0
// until the first Enable.
func (c *Ctl) Generation() uint64 {
	return c.snap.Load().generation
}

// Snapshot returns the current configuration and its generation as a
// consistent pair. The returned AttrSet must not be modified.
func (c *Ctl) Snapshot() (uint64, AttrSet) {
	p := c.snap.Load()
	return p.generation, p.attrs
}

// ActiveEvents returns a copy of the map of attached threads.
func (c *Ctl) ActiveEvents() EventSetMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.active)
}

// publish installs attrs as the current configuration under the next
// generation. c.mu must be held.
func (c *Ctl) publish(attrs AttrSet) uint64 {
	gen := c.snap.Load().generation + 1
	c.snap.Store(&published{generation: gen, attrs: attrs})
	return gen
}

// detachAll moves the active map out of c. c.mu must be held.
func (c *Ctl) detachAll() EventSetMap {
	inert := c.active
	c.active = make(EventSetMap)
	return inert
}

// Enable publishes attrs as the configuration for subsequently attached
// threads and turns collection on. If collection is already on, this
// reconfigures it.
//
// Every currently attached thread is detached: its event set is returned
// in inert for the caller to close, and the thread must be attached again
// to count the new configuration. Enable makes no system calls.
//
// Enable fails with [ErrNoEvents] and changes nothing if attrs is empty.
func (c *Ctl) Enable(attrs AttrSet) (inert EventSetMap, err error) {
	if len(attrs) == 0 {
		return nil, ErrNoEvents
	}
	attrs = slices.Clip(slices.Clone(attrs))

	c.mu.Lock()
	gen := c.publish(attrs)
	c.enabled.Store(true)
	inert = c.detachAll()
	c.mu.Unlock()

	c.log.Info("Enabled perf events",
		zap.Uint64("generation", gen),
		zap.Int("events", len(attrs)),
		zap.Int("detached", len(inert)))
	return inert, nil
}

// Disable turns collection off and returns every attached event set. The
// caller owns the returned sets and must close them.
func (c *Ctl) Disable() EventSetMap {
	c.mu.Lock()
	c.enabled.Store(false)
	inert := c.detachAll()
	c.mu.Unlock()

	c.log.Info("Disabled perf events",
		zap.Uint64("generation", c.Generation()),
		zap.Int("detached", len(inert)))
	return inert
}

// AttachTo opens an event set for buf's thread using the current
// configuration, starts it, installs it and binds it to buf.
//
// If collection is off, AttachTo returns false without opening anything.
//
// If opening or starting the set fails, AttachTo returns an *[AttachError]
// and the thread stays unattached.
//
// If the configuration changed or collection was disabled while the set
// was being opened, the set is not installed. AttachTo returns it as inert
// together with a *[StaleGenerationError]; the caller should close it and
// may retry.
//
// If the thread was already attached, its previous event set is replaced
// and returned as inert.
//
// The caller must close a non-nil inert set.
func (c *Ctl) AttachTo(buf SamplesBuffer) (attached bool, inert *EventSet, err error) {
	tid := buf.TID()
	// Read enabled before the snapshot: an Enable racing with these two
	// loads then shows up as a generation change at install time.
	if !c.enabled.Load() {
		return false, nil, nil
	}
	gen, attrs := c.Snapshot()

	es, err := OpenEventSet(c.api, TargetThread(tid), attrs...)
	if err == nil {
		es.generation = gen
		if err = es.Enable(); err != nil {
			err = multierr.Append(err, es.Close())
		}
	}
	if err != nil {
		c.log.Warn("Failed to attach perf events",
			zap.Int("tid", tid),
			zap.Uint64("generation", gen),
			zap.Error(err))
		return false, nil, &AttachError{TID: tid, Generation: gen, Err: err}
	}

	if c.attachHook != nil {
		c.attachHook(tid, gen)
	}

	c.mu.Lock()
	cur := c.snap.Load().generation
	enabled := c.enabled.Load()
	if !enabled || cur != gen {
		c.mu.Unlock()
		c.log.Debug("Discarding stale perf events",
			zap.Int("tid", tid),
			zap.Uint64("generation", gen),
			zap.Uint64("current", cur),
			zap.Bool("enabled", enabled))
		return false, es, &StaleGenerationError{TID: tid, Snapshot: gen, Current: cur, Enabled: enabled}
	}
	inert = c.active[tid]
	c.active[tid] = es
	buf.Bind(es)
	c.mu.Unlock()

	c.log.Debug("Attached perf events",
		zap.Int("tid", tid),
		zap.Uint64("generation", gen),
		zap.Bool("replaced", inert != nil))
	return true, inert, nil
}
