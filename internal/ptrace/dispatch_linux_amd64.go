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

package ptrace

import (
	"bytes"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/sekmet/agentfs/internal/syscalls"
)

const maxPathLen = 4096

// pendingOpen is the open(2)/openat(2) argument set captured at the
// syscall-enter stop, carried forward to the matching syscall-exit stop
// where the real work happens.
type pendingOpen struct {
	pathAddr uint64
	flags    int32
	mode     uint32
}

// SyscallDispatcher is the default Dispatcher: it decodes the x86-64
// Linux syscall ABI directly off PtraceRegs and drives a
// *syscalls.Interceptor with the decoded arguments.
//
// It only emulates open/openat, close, dup, dup2/dup3, and
// fcntl(F_DUPFD[_CLOEXEC]) — exactly the operations syscalls.Interceptor
// exposes. For open/openat it neuters the real syscall at its enter
// stop (rewriting it to a harmless getpid(2)) and, at the matching exit
// stop, writes the VFD the Interceptor allocated into the traced
// process' return register, so the guest sees only VFD numbers for
// paths this dispatcher intercepts. It does not attempt to make the
// traced process' own kernel file descriptor table agree with the VFDT
// for passthrough entries — that needs either FD-passing over a control
// socket or a stub-process architecture, as in
// pkg/sentry/platform/ptrace/subprocess_linux.go's createStub, and
// remains the job of the syscall-ABI implementation spec.md scopes out
// entirely (see DESIGN.md).
type SyscallDispatcher struct {
	pid      int
	ic       *syscalls.Interceptor
	mem      *os.File
	entering bool

	pending *pendingOpen
}

// NewSyscallDispatcher opens /proc/<pid>/mem for path-argument reads and
// returns a Dispatcher ready to drive ic for the traced process pid.
func NewSyscallDispatcher(pid int, ic *syscalls.Interceptor) (*SyscallDispatcher, error) {
	mem, err := os.OpenFile(fmt.Sprintf("/proc/%d/mem", pid), os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("ptrace: open mem for %d: %w", pid, err)
	}
	return &SyscallDispatcher{pid: pid, ic: ic, mem: mem, entering: true}, nil
}

// Dispatch implements Dispatcher. PTRACE_SYSCALL stops strictly
// alternate enter, exit, enter, exit... for a given thread, so a single
// toggle is enough to tell which half of the call this stop is.
func (d *SyscallDispatcher) Dispatch(regs *unix.PtraceRegs) (forked bool, childPID int, err error) {
	entering := d.entering
	d.entering = !d.entering

	switch regs.Orig_rax {
	case unix.SYS_OPEN, unix.SYS_OPENAT:
		return false, 0, d.dispatchOpen(regs, entering)

	case unix.SYS_CLOSE:
		if entering {
			return false, 0, nil
		}
		_, _, cerr := d.ic.Close(int32(regs.Rdi))
		return false, 0, cerr

	case unix.SYS_DUP:
		if entering {
			return false, 0, nil
		}
		newVFD, derr := d.ic.Dup(int32(regs.Rdi))
		if derr == nil {
			d.setReturn(int64(newVFD))
		}
		return false, 0, nil

	case unix.SYS_DUP2, unix.SYS_DUP3:
		if entering {
			return false, 0, nil
		}
		newVFD, derr := d.ic.Dup2(int32(regs.Rdi), int32(regs.Rsi))
		if derr == nil {
			d.setReturn(int64(newVFD))
		}
		return false, 0, nil

	case unix.SYS_FCNTL:
		if entering {
			return false, 0, nil
		}
		if cmd := int32(regs.Rsi); cmd == unix.F_DUPFD || cmd == unix.F_DUPFD_CLOEXEC {
			newVFD, derr := d.ic.FcntlDupFD(int32(regs.Rdi), int32(regs.Rdx), cmd == unix.F_DUPFD_CLOEXEC)
			if derr == nil {
				d.setReturn(int64(newVFD))
			}
		}
		return false, 0, nil

	case unix.SYS_FORK, unix.SYS_VFORK, unix.SYS_CLONE:
		if entering {
			return false, 0, nil
		}
		child := int(int64(regs.Rax))
		if child <= 0 {
			return false, 0, nil
		}
		sharesAddressSpace := regs.Orig_rax == unix.SYS_CLONE && regs.Rdi&unix.CLONE_VM != 0
		return !sharesAddressSpace, child, nil

	default:
		return false, 0, nil
	}
}

func (d *SyscallDispatcher) dispatchOpen(regs *unix.PtraceRegs, entering bool) error {
	if entering {
		p := &pendingOpen{}
		if regs.Orig_rax == unix.SYS_OPENAT {
			p.pathAddr, p.flags, p.mode = regs.Rsi, int32(regs.Rdx), uint32(regs.R10)
		} else {
			p.pathAddr, p.flags, p.mode = regs.Rdi, int32(regs.Rsi), uint32(regs.Rdx)
		}
		d.pending = p

		// Neuter the real syscall so the kernel never actually opens
		// anything in the traced process; getpid(2) takes no arguments
		// and always succeeds, making it a safe substitute syscall
		// number to run in its place.
		neutered := *regs
		neutered.Orig_rax = unix.SYS_GETPID
		if err := unix.PtraceSetRegs(d.pid, &neutered); err != nil {
			return fmt.Errorf("ptrace: neuter open in %d: %w", d.pid, err)
		}
		return nil
	}

	p := d.pending
	d.pending = nil
	if p == nil {
		return nil
	}
	path, err := d.readCString(p.pathAddr)
	if err != nil {
		return fmt.Errorf("ptrace: read path from %d: %w", d.pid, err)
	}
	vfdNum, openErr := d.ic.Open(path, p.flags, p.mode)
	if openErr != nil {
		d.setReturn(-1)
		return nil
	}
	d.setReturn(int64(vfdNum))
	return nil
}

// setReturn overwrites the traced process' return register, the
// mechanism by which this dispatcher presents its own VFD numbers to
// the guest in place of whatever getpid(2) actually returned.
func (d *SyscallDispatcher) setReturn(v int64) {
	var regs unix.PtraceRegs
	if err := unix.PtraceGetRegs(d.pid, &regs); err != nil {
		return
	}
	regs.Rax = uint64(v)
	unix.PtraceSetRegs(d.pid, &regs)
}

// readCString reads a NUL-terminated string out of the traced process'
// address space via /proc/<pid>/mem, the standard way to inspect a
// ptraced process' memory without a PTRACE_PEEKDATA word-at-a-time loop.
func (d *SyscallDispatcher) readCString(addr uint64) (string, error) {
	buf := make([]byte, maxPathLen)
	n, err := d.mem.ReadAt(buf, int64(addr))
	if err != nil && n == 0 {
		return "", err
	}
	if i := bytes.IndexByte(buf[:n], 0); i >= 0 {
		return string(buf[:i]), nil
	}
	return string(buf[:n]), nil
}

// Close releases the /proc/<pid>/mem handle this dispatcher opened.
func (d *SyscallDispatcher) Close() error { return d.mem.Close() }
