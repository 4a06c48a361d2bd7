// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package perf

import (
	"fmt"
	"runtime"
)

// Target specifies what goroutine or thread an [EventSet] should monitor.
type Target interface {
	pidCPU() (pid, cpu int)
	open()
	close()
}

type targetThisGoroutine struct{}

func (targetThisGoroutine) pidCPU() (pid, cpu int) { return 0, -1 }
func (targetThisGoroutine) open()                  { runtime.LockOSThread() }
func (targetThisGoroutine) close()                 { runtime.UnlockOSThread() }

func (targetThisGoroutine) String() string { return "this goroutine" }

var (
	// TargetThisGoroutine monitors the calling goroutine. This will call
	// [runtime.LockOSThread] when the EventSet is opened and
	// [runtime.UnlockOSThread] when it is closed, so both must happen on
	// the same goroutine.
	TargetThisGoroutine = targetThisGoroutine{}
)

// TargetThread monitors the OS thread with the given thread id, on any CPU.
type TargetThread int

func (t TargetThread) pidCPU() (pid, cpu int) { return int(t), -1 }
func (TargetThread) open()                    {}
func (TargetThread) close()                   {}

func (t TargetThread) String() string { return fmt.Sprintf("thread %d", int(t)) }
