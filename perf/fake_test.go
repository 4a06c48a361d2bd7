// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fakeAPI is an in-memory API. Descriptors are small integers; each
// descriptor's metadata page is a plain byte slice.
type fakeAPI struct {
	mu sync.Mutex

	nextFD int
	open   map[int]*fakeEvent
	mapped int
	opens  int

	// fail maps an operation name to the error returned by the n'th call
	// of that operation (1-based). A zero n fails every call.
	fail map[string]fakeFailure

	// onOpen, if set, is called at the start of every Open.
	onOpen func(attr *unix.PerfEventAttr, pid int)

	calls map[string]int
}

type fakeFailure struct {
	n     int
	errno unix.Errno
}

type fakeEvent struct {
	attr    unix.PerfEventAttr
	pid     int
	leader  int
	enabled bool
	value   uint64
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		nextFD: 3,
		open:   make(map[int]*fakeEvent),
		fail:   make(map[string]fakeFailure),
		calls:  make(map[string]int),
	}
}

func (f *fakeAPI) failOn(op string, n int, errno unix.Errno) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = fakeFailure{n, errno}
}

// call records a call to op and returns the injected error, if any. f.mu
// must be held.
func (f *fakeAPI) call(op string) error {
	f.calls[op]++
	if fl, ok := f.fail[op]; ok && (fl.n == 0 || fl.n == f.calls[op]) {
		return &SyscallError{Op: op, Errno: fl.errno}
	}
	return nil
}

func (f *fakeAPI) Open(attr *unix.PerfEventAttr, pid, cpu, groupFD int, flags int) (int, error) {
	if f.onOpen != nil {
		f.onOpen(attr, pid)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if err := f.call("open"); err != nil {
		return -1, err
	}
	if groupFD != -1 {
		if _, ok := f.open[groupFD]; !ok {
			return -1, &SyscallError{Op: "open", Errno: unix.EBADF}
		}
	}
	fd := f.nextFD
	f.nextFD++
	leader := groupFD
	if leader == -1 {
		leader = fd
	}
	f.open[fd] = &fakeEvent{attr: *attr, pid: pid, leader: leader}
	return fd, nil
}

func (f *fakeAPI) Map(fd int, length int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("map"); err != nil {
		return nil, err
	}
	if _, ok := f.open[fd]; !ok {
		return nil, &SyscallError{Op: "map", Errno: unix.EBADF}
	}
	f.mapped++
	page := make([]byte, length)
	p := (*mmapPage)(unsafe.Pointer(&page[0]))
	p.Index = uint32(fd)
	p.Capabilities = capUserRDPMC
	p.PMCWidth = 48
	return page, nil
}

func (f *fakeAPI) Unmap(region []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("unmap"); err != nil {
		return err
	}
	f.mapped--
	return nil
}

func (f *fakeAPI) group(fd int, fn func(*fakeEvent)) error {
	ev, ok := f.open[fd]
	if !ok {
		return &SyscallError{Op: "ioctl", Errno: unix.EBADF}
	}
	for _, member := range f.open {
		if member.leader == ev.leader {
			fn(member)
		}
	}
	return nil
}

func (f *fakeAPI) Enable(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("enable"); err != nil {
		return err
	}
	return f.group(fd, func(e *fakeEvent) { e.enabled = true })
}

func (f *fakeAPI) Reset(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("reset"); err != nil {
		return err
	}
	return f.group(fd, func(e *fakeEvent) { e.value = 0 })
}

func (f *fakeAPI) Disable(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("disable"); err != nil {
		return err
	}
	return f.group(fd, func(e *fakeEvent) { e.enabled = false })
}

// tick adds n to every enabled event.
func (f *fakeAPI) tick(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.open {
		if e.enabled {
			e.value += n
		}
	}
}

func (f *fakeAPI) Read(fd int, buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("read"); err != nil {
		return 0, err
	}
	if _, ok := f.open[fd]; !ok {
		return 0, &SyscallError{Op: "read", Errno: unix.EBADF}
	}
	var members []int
	for mfd, e := range f.open {
		if e.leader == fd {
			members = append(members, mfd)
		}
	}
	// Members were opened in fd order.
	slices.Sort(members)
	need := 24 + 8*len(members)
	if len(buf) < need {
		return 0, &SyscallError{Op: "read", Errno: unix.ENOSPC}
	}
	binary.NativeEndian.PutUint64(buf[0:], uint64(len(members)))
	binary.NativeEndian.PutUint64(buf[8:], 100)
	binary.NativeEndian.PutUint64(buf[16:], 50)
	for i, mfd := range members {
		binary.NativeEndian.PutUint64(buf[24+8*i:], f.open[mfd].value)
	}
	return need, nil
}

func (f *fakeAPI) Close(fd int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call("close"); err != nil {
		return err
	}
	if _, ok := f.open[fd]; !ok {
		return &SyscallError{Op: "close", Errno: unix.EBADF}
	}
	delete(f.open, fd)
	return nil
}

// live returns the number of open descriptors and mapped pages.
func (f *fakeAPI) live() (fds, pages int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.open), f.mapped
}

func (f *fakeAPI) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeAPI) String() string {
	fds, pages := f.live()
	return fmt.Sprintf("fakeAPI{fds: %d, pages: %d}", fds, pages)
}

// testBuffer is a SamplesBuffer that records what it is bound to.
type testBuffer struct {
	tid   int
	bound *EventSet
	binds int
}

func (b *testBuffer) TID() int { return b.tid }

func (b *testBuffer) Bind(es *EventSet) {
	b.bound = es
	b.binds++
}
