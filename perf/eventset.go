// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"

	"github.com/pmuctl/pmuctl/events"
)

// ErrClosed is returned by operations on a closed [EventSet].
var ErrClosed = errors.New("event set is closed")

// An EventSet is a group of perf events opened on one [Target], together
// with the metadata page mapped for each event. The first event leads the
// group, so all events are scheduled onto the hardware together.
//
// An EventSet owns its descriptors and mappings until [EventSet.Close].
// It is not safe for concurrent use.
type EventSet struct {
	api    API
	target Target
	events []events.Event

	fds   []int
	pages [][]byte

	generation uint64
	running    bool
	readBuf    []byte
}

// OpenEventSet opens evs as a group on target using api and maps the
// metadata page of each event. The group is initially disabled; call
// [EventSet.Enable] to start counting.
//
// If any step fails, everything opened so far is released before
// OpenEventSet returns.
func OpenEventSet(api API, target Target, evs ...events.Event) (*EventSet, error) {
	if len(evs) == 0 {
		return nil, ErrNoEvents
	}
	if api == nil {
		api = SyscallAPI{}
	}

	es := &EventSet{
		api:    api,
		target: target,
		events: evs,
		// nr, time_enabled, time_running, then one value per event.
		readBuf: make([]byte, 3*8+len(evs)*8),
	}

	success := false
	target.open()
	defer func() {
		if !success {
			es.release()
			target.close()
		}
	}()

	pid, cpu := target.pidCPU()
	pageSize := os.Getpagesize()
	groupFD := -1
	for i, ev := range evs {
		attr := unix.PerfEventAttr{}
		attr.Size = uint32(unsafe.Sizeof(attr))
		if err := ev.SetAttrs(&attr); err != nil {
			return nil, fmt.Errorf("event %s: %w", ev, err)
		}
		if i == 0 {
			attr.Read_format = unix.PERF_FORMAT_TOTAL_TIME_ENABLED |
				unix.PERF_FORMAT_TOTAL_TIME_RUNNING |
				unix.PERF_FORMAT_GROUP
			attr.Bits |= unix.PerfBitDisabled
		}

		fd, err := api.Open(&attr, pid, cpu, groupFD, unix.PERF_FLAG_FD_CLOEXEC)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev, err)
		}
		es.fds = append(es.fds, fd)
		if i == 0 {
			groupFD = fd
		}

		page, err := api.Map(fd, pageSize)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev, err)
		}
		es.pages = append(es.pages, page)
	}

	success = true
	return es, nil
}

// release unmaps and closes everything es holds, returning all errors.
func (es *EventSet) release() error {
	var err error
	for _, page := range es.pages {
		err = multierr.Append(err, es.api.Unmap(page))
	}
	es.pages = nil
	// Close members before the leader.
	for i := len(es.fds) - 1; i >= 0; i-- {
		err = multierr.Append(err, es.api.Close(es.fds[i]))
	}
	es.fds = nil
	return err
}

// Close stops the group, unmaps every metadata page and closes every
// descriptor. All resources are released even if some steps fail; the
// returned error combines every failure. Closing a closed EventSet does
// nothing.
func (es *EventSet) Close() error {
	if es == nil || es.fds == nil {
		return nil
	}
	var err error
	if es.running {
		err = es.api.Disable(es.fds[0])
		es.running = false
	}
	err = multierr.Append(err, es.release())
	es.target.close()
	return err
}

// Generation returns the configuration generation es was opened against by
// a [Ctl], or 0 if it was opened directly.
func (es *EventSet) Generation() uint64 {
	return es.generation
}

// Events returns the events in es, leader first.
func (es *EventSet) Events() []events.Event {
	return es.events
}

// Len returns the number of events in es.
func (es *EventSet) Len() int {
	return len(es.events)
}

// Enable starts the group. Counts accumulated before a previous Disable
// are kept; use Reset to zero them.
func (es *EventSet) Enable() error {
	if es == nil || es.fds == nil {
		return ErrClosed
	}
	if es.running {
		return nil
	}
	if err := es.api.Enable(es.fds[0]); err != nil {
		return err
	}
	es.running = true
	return nil
}

// Disable stops the group. Counts are kept.
func (es *EventSet) Disable() error {
	if es == nil || es.fds == nil {
		return ErrClosed
	}
	if !es.running {
		return nil
	}
	if err := es.api.Disable(es.fds[0]); err != nil {
		return err
	}
	es.running = false
	return nil
}

// Reset zeroes the counts of every event in the group.
func (es *EventSet) Reset() error {
	if es == nil || es.fds == nil {
		return ErrClosed
	}
	return es.api.Reset(es.fds[0])
}

// Count is the value of one event of an EventSet.
type Count struct {
	RawValue uint64 // The number of events while the group was running.

	// Normally, TimeEnabled == TimeRunning. However, if more counters are
	// running than the hardware can support, events will be multiplexed onto
	// the hardware. In that case, TimeRunning < TimeEnabled, and the raw
	// counter value should be scaled under the assumption that the event is
	// happening at a regular rate and the sampled time is representative.

	TimeEnabled uint64 // Total time the group was enabled.
	TimeRunning uint64 // Total time the group was actually counting.
}

// Value returns the measured value of Count, scaled to account for time the
// group was scheduled.
func (c Count) Value() float64 {
	raw := float64(c.RawValue)
	if c.TimeEnabled == c.TimeRunning {
		return raw
	}
	if c.TimeRunning == 0 {
		// Avoid divide by zero.
		return 0
	}
	return raw * (float64(c.TimeEnabled) / float64(c.TimeRunning))
}

// ReadOne returns the current value of the first event in es.
func (es *EventSet) ReadOne() (Count, error) {
	var cs [1]Count
	if err := es.ReadGroup(cs[:]); err != nil {
		return Count{}, err
	}
	return cs[0], nil
}

// ReadGroup returns the current value of all events in es, in the order
// they were opened.
func (es *EventSet) ReadGroup(cs []Count) error {
	if es == nil || es.fds == nil {
		return ErrClosed
	}

	buf := es.readBuf
	n, err := es.api.Read(es.fds[0], buf)
	if err != nil {
		return err
	}
	if n < 3*8 {
		return fmt.Errorf("short read of %d bytes from event group", n)
	}

	nr := binary.NativeEndian.Uint64(buf[0:])
	if nr != uint64(len(es.events)) {
		return fmt.Errorf("read returned %d events, expected %d", nr, len(es.events))
	}

	timeEnabled := binary.NativeEndian.Uint64(buf[8:])
	timeRunning := binary.NativeEndian.Uint64(buf[16:])
	for i := 0; i < len(cs) && i < len(es.events); i++ {
		cs[i].TimeEnabled = timeEnabled
		cs[i].TimeRunning = timeRunning
		cs[i].RawValue = binary.NativeEndian.Uint64(buf[24+i*8:])
	}
	return nil
}

// mmapPage is the head of struct perf_event_mmap_page.
type mmapPage struct {
	Version       uint32
	CompatVersion uint32
	Lock          uint32 // seqlock
	Index         uint32
	Offset        int64
	TimeEnabled   uint64
	TimeRunning   uint64
	Capabilities  uint64
	PMCWidth      uint16
}

// capUserRDPMC is the cap_user_rdpmc bit of mmapPage.Capabilities.
const capUserRDPMC = 1 << 2

// A MetaPage is a consistent snapshot of an event's metadata page. Sample
// recorders use it to read the hardware counter directly with rdpmc.
type MetaPage struct {
	// Index is the hardware counter index plus one, or 0 if the event is
	// not currently scheduled on a counter.
	Index uint32

	// Offset is added to the hardware counter value to get the count.
	Offset int64

	TimeEnabled uint64
	TimeRunning uint64

	UserRDPMC bool   // rdpmc may be used from user space
	PMCWidth  uint16 // Width in bits of the hardware counter
}

// Page returns a snapshot of the metadata page of event i.
func (es *EventSet) Page(i int) (MetaPage, error) {
	if es == nil || es.fds == nil {
		return MetaPage{}, ErrClosed
	}
	if i < 0 || i >= len(es.pages) {
		return MetaPage{}, fmt.Errorf("event index %d out of range [0,%d)", i, len(es.pages))
	}
	region := es.pages[i]
	if uintptr(len(region)) < unsafe.Sizeof(mmapPage{}) {
		return MetaPage{}, fmt.Errorf("metadata page of event %d is %d bytes", i, len(region))
	}
	p := (*mmapPage)(unsafe.Pointer(&region[0]))

	for {
		seq := atomic.LoadUint32(&p.Lock)
		mp := MetaPage{
			Index:       atomic.LoadUint32(&p.Index),
			Offset:      atomic.LoadInt64(&p.Offset),
			TimeEnabled: atomic.LoadUint64(&p.TimeEnabled),
			TimeRunning: atomic.LoadUint64(&p.TimeRunning),
			UserRDPMC:   atomic.LoadUint64(&p.Capabilities)&capUserRDPMC != 0,
			PMCWidth:    p.PMCWidth,
		}
		if atomic.LoadUint32(&p.Lock) == seq {
			// The kernel did not update the page while we read it.
			return mp, nil
		}
	}
}
