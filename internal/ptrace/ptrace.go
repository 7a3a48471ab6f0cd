// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux
// +build linux

// Package ptrace is the process-lifecycle-monitor collaborator spec.md
// §1/§2 names and treats as external: it attaches to a traced process,
// waits for trapped syscalls, and is the only caller that knows when a
// traced thread has forked (in which case its VFDT must be deep-cloned)
// versus merely spawned a new thread in the same process (in which case
// the existing *vfdt.Table pointer is simply shared, per spec.md §6).
//
// The trap/dispatch loop's shape is adapted from
// pkg/sentry/platform/ptrace/subprocess_linux.go's attachedThread and
// its surrounding wait loop; the seccomp/BPF machinery that file uses to
// sandbox the traced stub itself is out of scope here; the interceptor
// relies on PTRACE_SYSCALL's stop-on-every-syscall behavior instead.
package ptrace

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/syndtr/gocapability/capability"
	"golang.org/x/sys/unix"

	"github.com/sekmet/agentfs/internal/syscalls"
	"github.com/sekmet/agentfs/pkg/vfdt"
)

var log = logrus.WithField("component", "ptrace")

// Dispatcher maps a raw syscall number to the Interceptor call it should
// invoke. Supplied by the caller so this package stays architecture- and
// ABI-agnostic; spec.md leaves the actual syscall ABI to the interceptor
// collaborator.
type Dispatcher interface {
	// Dispatch is called when the traced thread stops at a syscall-enter
	// or syscall-exit boundary. forked reports whether this stop also
	// observed a fork/vfork/clone(!CLONE_VM) event, in which case the
	// caller must DeepClone the table for the new pid before returning.
	Dispatch(regs *unix.PtraceRegs) (forked bool, childPID int, err error)
}

// Thread is one ptrace-attached thread being monitored.
type Thread struct {
	pid  int
	tbl  *vfdt.Table
	ic   *syscalls.Interceptor
	disp Dispatcher
}

// RequireCapability fails fast if the running process lacks
// CAP_SYS_PTRACE, rather than discovering this on the first PTRACE_ATTACH
// call. gocapability is also in the teacher's dependency graph for
// exactly this kind of capability probe.
func RequireCapability() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("ptrace: load capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return fmt.Errorf("ptrace: load capabilities: %w", err)
	}
	if !caps.Get(capability.EFFECTIVE, capability.CAP_SYS_PTRACE) {
		return fmt.Errorf("ptrace: CAP_SYS_PTRACE is required to attach")
	}
	return nil
}

// Attach attaches to pid and returns a Thread that dispatches its
// trapped syscalls through ic, using tbl as that process's current VFDT.
//
// Precondition: the runtime OS thread must be locked to the thread that
// issued the attach, matching subprocess_linux.go's precondition on
// createStub/attachedThread — ptrace state is per-OS-thread.
func Attach(pid int, tbl *vfdt.Table, ic *syscalls.Interceptor, disp Dispatcher) (*Thread, error) {
	if err := unix.PtraceAttach(pid); err != nil {
		return nil, fmt.Errorf("ptrace: attach %d: %w", pid, err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return nil, fmt.Errorf("ptrace: wait for initial stop of %d: %w", pid, err)
	}
	log.WithField("pid", pid).Debug("attached")
	return &Thread{pid: pid, tbl: tbl, ic: ic, disp: disp}, nil
}

// Table returns the VFDT currently governing this thread's open
// descriptors.
func (t *Thread) Table() *vfdt.Table { return t.tbl }

// PID returns the OS process ID this thread is attached to.
func (t *Thread) PID() int { return t.pid }

// Run resumes the thread with PTRACE_SYSCALL and blocks until it either
// traps at the next syscall boundary (returning a child *Thread sharing
// this one's table when the trap observed a same-process clone, or a
// child *Thread owning a freshly deep-cloned table when it observed a
// fork/vfork) or exits.
func (t *Thread) Run() (child *Thread, exited bool, err error) {
	if err := unix.PtraceSyscall(t.pid, 0); err != nil {
		return nil, false, fmt.Errorf("ptrace: resume %d: %w", t.pid, err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(t.pid, &ws, 0, nil); err != nil {
		return nil, false, fmt.Errorf("ptrace: wait for %d: %w", t.pid, err)
	}
	if ws.Exited() || ws.Signaled() {
		log.WithField("pid", t.pid).Debug("traced thread exited")
		return nil, true, nil
	}

	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(t.pid, &regs); err != nil {
		return nil, false, fmt.Errorf("ptrace: getregs %d: %w", t.pid, err)
	}
	forked, childPID, err := t.disp.Dispatch(&regs)
	if err != nil {
		return nil, false, err
	}
	if childPID == 0 {
		return nil, false, nil
	}

	if forked {
		// A real fork/vfork/clone without CLONE_VM: the child gets an
		// independent address space and must not observe the parent's
		// later descriptor table mutations (spec.md §6).
		log.WithFields(logrus.Fields{"parent": t.pid, "child": childPID}).Debug("forked; deep-cloning table")
		return &Thread{pid: childPID, tbl: t.tbl.DeepClone(), ic: t.ic, disp: t.disp}, false, nil
	}
	// clone(CLONE_VM|CLONE_FILES): the new thread shares this process's
	// address space, so it shares the same *vfdt.Table pointer rather
	// than getting its own copy.
	log.WithFields(logrus.Fields{"parent": t.pid, "child": childPID}).Debug("cloned thread; sharing table")
	return &Thread{pid: childPID, tbl: t.tbl, ic: t.ic, disp: t.disp}, false, nil
}

// Detach releases this thread from ptrace control, letting it run free.
func (t *Thread) Detach() error {
	return unix.PtraceDetach(t.pid)
}
