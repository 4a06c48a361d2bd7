// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// API is the set of kernel operations on perf event descriptors used by
// [EventSet]. [SyscallAPI] implements it with real system calls; tests
// substitute their own.
type API interface {
	Open(attr *unix.PerfEventAttr, pid, cpu, groupFD int, flags int) (fd int, err error)
	Map(fd int, length int) ([]byte, error)
	Unmap(region []byte) error
	Enable(fd int) error
	Reset(fd int) error
	Disable(fd int) error
	Read(fd int, buf []byte) (int, error)
	Close(fd int) error
}

// A SyscallError is a failed system call on a perf event descriptor.
type SyscallError struct {
	Op    string
	Errno unix.Errno
	Hint  string // Optional remedy shown to the user
}

func (e *SyscallError) Error() string {
	if e.Hint == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Errno.Error())
	}
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Errno.Error(), e.Hint)
}

func (e *SyscallError) Unwrap() error {
	return e.Errno
}

func wrapErrno(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &SyscallError{Op: op, Errno: errno}
}

// paranoidPath is a variable so tests can point it elsewhere.
var paranoidPath = "/proc/sys/kernel/perf_event_paranoid"

// paranoidHint returns a hint for an EACCES from perf_event_open, or "" if
// the paranoid setting is already permissive.
func paranoidHint() string {
	data, err := os.ReadFile(paranoidPath)
	data = bytes.TrimSpace(data)
	if val, err2 := strconv.Atoi(string(data)); err == nil && err2 == nil && val <= 0 {
		return ""
	}
	// We can't read it, or it's set to > 0.
	return "consider: echo 0 | sudo tee " + paranoidPath
}

// iocFlagGroup applies an enable/disable/reset ioctl to every event in the
// descriptor's group.
const iocFlagGroup = 1

// SyscallAPI implements [API] with the perf_event_open, mmap and ioctl
// system calls.
type SyscallAPI struct{}

func (SyscallAPI) Open(attr *unix.PerfEventAttr, pid, cpu, groupFD int, flags int) (int, error) {
	fd, err := unix.PerfEventOpen(attr, pid, cpu, groupFD, flags)
	if err != nil {
		err = wrapErrno("perf_event_open", err)
		var serr *SyscallError
		if errors.As(err, &serr) && serr.Errno == unix.EACCES {
			serr.Hint = paranoidHint()
		}
		return -1, err
	}
	return fd, nil
}

func (SyscallAPI) Map(fd int, length int) ([]byte, error) {
	region, err := unix.Mmap(fd, 0, length, unix.PROT_READ, unix.MAP_SHARED)
	return region, wrapErrno("mmap", err)
}

func (SyscallAPI) Unmap(region []byte) error {
	return wrapErrno("munmap", unix.Munmap(region))
}

func (SyscallAPI) Enable(fd int) error {
	return wrapErrno("ioctl(PERF_EVENT_IOC_ENABLE)", unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, iocFlagGroup))
}

func (SyscallAPI) Reset(fd int) error {
	return wrapErrno("ioctl(PERF_EVENT_IOC_RESET)", unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_RESET, iocFlagGroup))
}

func (SyscallAPI) Disable(fd int) error {
	return wrapErrno("ioctl(PERF_EVENT_IOC_DISABLE)", unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_DISABLE, iocFlagGroup))
}

func (SyscallAPI) Read(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	return n, wrapErrno("read", err)
}

func (SyscallAPI) Close(fd int) error {
	return wrapErrno("close", unix.Close(fd))
}
