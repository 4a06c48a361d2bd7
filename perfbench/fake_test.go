// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perfbench

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"
)

// fakeAPI is a perf.API whose events count only when told to. Every open
// descriptor leads its own group. Time advances only while an event is
// enabled, as with a real event that is never multiplexed.
type fakeAPI struct {
	mu     sync.Mutex
	nextFD int
	open   map[int]*fakeEvent
}

type fakeEvent struct {
	enabled bool
	value   uint64
	time    uint64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextFD: 3, open: make(map[int]*fakeEvent)}
}

func (f *fakeAPI) Open(attr *unix.PerfEventAttr, pid, cpu, groupFD int, flags int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd := f.nextFD
	f.nextFD++
	f.open[fd] = &fakeEvent{}
	return fd, nil
}

func (f *fakeAPI) Map(fd int, length int) ([]byte, error) { return make([]byte, length), nil }
func (f *fakeAPI) Unmap(region []byte) error              { return nil }

func (f *fakeAPI) set(fd int, fn func(*fakeEvent)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.open[fd]
	if !ok {
		return unix.EBADF
	}
	fn(ev)
	return nil
}

func (f *fakeAPI) Enable(fd int) error {
	return f.set(fd, func(e *fakeEvent) { e.enabled = true })
}

func (f *fakeAPI) Disable(fd int) error {
	return f.set(fd, func(e *fakeEvent) { e.enabled = false })
}

// Reset zeroes the value but, like the kernel, not the times.
func (f *fakeAPI) Reset(fd int) error {
	return f.set(fd, func(e *fakeEvent) { e.value = 0 })
}

func (f *fakeAPI) Read(fd int, buf []byte) (int, error) {
	var ev fakeEvent
	if err := f.set(fd, func(e *fakeEvent) { ev = *e }); err != nil {
		return 0, err
	}
	binary.NativeEndian.PutUint64(buf[0:], 1)
	binary.NativeEndian.PutUint64(buf[8:], ev.time)
	binary.NativeEndian.PutUint64(buf[16:], ev.time)
	binary.NativeEndian.PutUint64(buf[24:], ev.value)
	return 32, nil
}

func (f *fakeAPI) Close(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.open, fd)
	return nil
}

// tick advances every enabled event by n.
func (f *fakeAPI) tick(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.open {
		if e.enabled {
			e.value += n
			e.time += n
		}
	}
}
