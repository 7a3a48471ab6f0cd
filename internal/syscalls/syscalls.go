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

// Package syscalls is the narrow contract between a syscall interceptor
// and the VFDT: it translates open/close/dup/dup2/fcntl(F_DUPFD) onto
// the table's public operations and maps absent results to the errno a
// guest expects, exactly as spec.md §1/§7 describes.
package syscalls

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gvisor.dev/gvisor/pkg/errors/linuxerr"

	"github.com/sekmet/agentfs/internal/mount"
	"github.com/sekmet/agentfs/pkg/vfdt"
)

var log = logrus.WithField("component", "syscalls")

// Opener resolves a translated path to a passthrough kernel FD or a
// virtual entry, given the mount that governs it. It is supplied by
// whatever collaborator actually performs the open (a real openat(2)
// for bind mounts, the SQLite-backed filesystem or a named pipe for
// virtual mounts) — the interceptor itself does no I/O, it only tells
// the Opener which backend real names.
type Opener interface {
	Open(m mount.Mount, real string, flags int32, mode uint32) (vfdt.Entry, error)
}

// Table is the subset of *vfdt.Table the interceptor drives. It exists
// so tests can substitute a fake without dragging in the real table.
type Table interface {
	Allocate(vfdt.Entry) int32
	AllocateMin(int32, vfdt.Entry) int32
	AllocateAt(int32, vfdt.Entry) (vfdt.Entry, bool)
	Translate(int32) (int32, bool)
	Get(int32) (vfdt.Entry, bool)
	Deallocate(int32) (vfdt.Entry, bool)
	Duplicate(int32) (int32, bool)
	DuplicateAt(int32, int32) (vfdt.Entry, bool)
}

// Interceptor dispatches trapped syscalls onto a Table.
type Interceptor struct {
	tbl    Table
	mounts *mount.Table
	opener Opener
}

// New builds an Interceptor over tbl, consulting mounts to decide how
// Open resolves a guest path and opener to actually perform opens.
func New(tbl Table, mounts *mount.Table, opener Opener) *Interceptor {
	return &Interceptor{tbl: tbl, mounts: mounts, opener: opener}
}

// Open implements the open(2)/openat(2) family: it resolves path through
// the mount table, performs the open via the configured Opener, and
// allocates the resulting entry at the lowest available VFD.
func (in *Interceptor) Open(path string, flags int32, mode uint32) (int32, error) {
	m := in.mounts.Resolve(path)
	real := in.mounts.Translate(path)
	entry, err := in.opener.Open(m, real, flags, mode)
	if err != nil {
		return -1, err
	}
	vfdNum := in.tbl.Allocate(entry)
	log.WithFields(logrus.Fields{"path": path, "vfd": vfdNum}).Debug("open")
	return vfdNum, nil
}

// Close implements close(2): deallocates vfd and returns the removed
// entry's kernel FD, if any, so the caller can actually close it. The
// table only tracks the mapping; releasing the real resource is the
// caller's job (spec.md §3, Lifecycle).
func (in *Interceptor) Close(vfdNum int32) (kernelFD int32, ops vfdt.FileOps, err error) {
	entry, ok := in.tbl.Deallocate(vfdNum)
	if !ok {
		return -1, nil, linuxerr.EBADF
	}
	if kfd, isPassthrough := entry.KernelFD(); isPassthrough {
		return kfd, nil, nil
	}
	fops, _ := entry.Ops()
	return -1, fops, nil
}

// Dup implements dup(2).
func (in *Interceptor) Dup(oldVFD int32) (int32, error) {
	newVFD, ok := in.tbl.Duplicate(oldVFD)
	if !ok {
		return -1, linuxerr.EBADF
	}
	return newVFD, nil
}

// Dup2 implements dup2(2)/dup3(2). If oldVFD == newVFD and oldVFD is
// valid, POSIX says to do nothing and return newVFD; the VFDT's
// DuplicateAt doesn't special-case this (an overwrite with an identical
// copy is harmless), so Dup2 skips the call and leaves the table as it
// is.
func (in *Interceptor) Dup2(oldVFD, newVFD int32) (int32, error) {
	if _, ok := in.tbl.Get(oldVFD); !ok {
		return -1, linuxerr.EBADF
	}
	if oldVFD == newVFD {
		return newVFD, nil
	}
	// DuplicateAt's second result reports whether newVFD held a prior
	// entry, not whether oldVFD exists; the source was checked above.
	in.tbl.DuplicateAt(oldVFD, newVFD)
	return newVFD, nil
}

// FcntlDupFD implements fcntl(F_DUPFD, minFD) / fcntl(F_DUPFD_CLOEXEC,
// minFD): duplicate oldVFD at the lowest free VFD >= minFD.
func (in *Interceptor) FcntlDupFD(oldVFD, minFD int32, cloexec bool) (int32, error) {
	entry, ok := in.tbl.Get(oldVFD)
	if !ok {
		return -1, linuxerr.EBADF
	}
	flags := entry.Flags()
	if cloexec {
		flags |= unix.FD_CLOEXEC
	} else {
		flags &^= unix.FD_CLOEXEC
	}
	var dup vfdt.Entry
	if kfd, isPassthrough := entry.KernelFD(); isPassthrough {
		path, _ := entry.Path()
		dup = vfdt.NewPassthrough(kfd, flags, path)
	} else {
		fops, _ := entry.Ops()
		path, _ := entry.Path()
		dup = vfdt.NewVirtual(fops, flags, path)
	}
	return in.tbl.AllocateMin(minFD, dup), nil
}
