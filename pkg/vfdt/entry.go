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

// Package vfdt implements the per-process virtual file descriptor table
// that sits between a syscall interceptor and the real kernel or an
// in-process virtual file backend.
//
// Table is always used through its pointer type. Passing a *Table to
// multiple goroutines is how the table is shared across the threads of a
// process (the guard embedded in Table is what makes that safe); there is
// deliberately no "shallow clone" method that could be confused with
// DeepClone, which is the only operation that produces a second,
// independent table (for fork/clone).
package vfdt

import "golang.org/x/sys/unix"

// Kind distinguishes the two shapes an Entry can take.
type Kind uint8

const (
	// Passthrough entries delegate I/O to a real kernel descriptor.
	Passthrough Kind = iota
	// Virtual entries are serviced in-process via FileOps.
	Virtual
)

func (k Kind) String() string {
	switch k {
	case Passthrough:
		return "passthrough"
	case Virtual:
		return "virtual"
	default:
		return "unknown"
	}
}

// FileOps is the opaque handle a Virtual entry carries. The table never
// calls any of its methods; it is returned to the caller on removal so the
// caller's collaborator (the file-operation backend) can dispose of it.
//
// How a concrete FileOps is represented (an interface value, a function
// table, an actor address) is outside the table's concern; this is the
// minimal contract the table needs to hold one opaquely.
type FileOps interface {
	// Close releases any resource backing the virtual file. The table
	// never calls this itself.
	Close() error
}

// Entry is a tagged variant describing what a virtual file descriptor
// refers to. It has exactly two shapes, Passthrough and Virtual; there is
// no dynamic-dispatch vtable on Entry itself, only pattern-matched
// accessors below. Entry is a value type: once inserted into a Table its
// fields are never mutated, only replaced wholesale (overwrite) or
// removed.
type Entry struct {
	kind     Kind
	kernelFD int32
	fileOps  FileOps
	flags    int32
	hasPath  bool
	path     string
}

// NewPassthrough builds a Passthrough entry delegating I/O to kernelFD.
func NewPassthrough(kernelFD int32, flags int32, path string) Entry {
	return Entry{kind: Passthrough, kernelFD: kernelFD, flags: flags, hasPath: path != "", path: path}
}

// NewPassthroughNoPath builds a Passthrough entry with no associated path,
// e.g. a pipe or socket end.
func NewPassthroughNoPath(kernelFD int32, flags int32) Entry {
	return Entry{kind: Passthrough, kernelFD: kernelFD, flags: flags}
}

// NewVirtual builds a Virtual entry serviced by fileOps.
func NewVirtual(fileOps FileOps, flags int32, path string) Entry {
	return Entry{kind: Virtual, fileOps: fileOps, flags: flags, hasPath: path != "", path: path}
}

// standardEntry builds one of the three reserved stdin/stdout/stderr
// entries: always Passthrough, kernel_fd == vfd, flags == 0, no path.
func standardEntry(vfd int32) Entry {
	return Entry{kind: Passthrough, kernelFD: vfd}
}

// Kind reports whether e is Passthrough or Virtual.
func (e Entry) Kind() Kind { return e.kind }

// KernelFD returns the underlying kernel descriptor and true iff e is
// Passthrough. It is conceptually absent on a Virtual entry.
func (e Entry) KernelFD() (int32, bool) {
	if e.kind != Passthrough {
		return 0, false
	}
	return e.kernelFD, true
}

// Ops returns the virtual-file operations handle and true iff e is
// Virtual.
func (e Entry) Ops() (FileOps, bool) {
	if e.kind != Virtual {
		return nil, false
	}
	return e.fileOps, true
}

// Flags returns the flags e was constructed with. Always defined, on both
// shapes; CloseOnExec reads the unix.FD_CLOEXEC bit of them.
func (e Entry) Flags() int32 { return e.flags }

// CloseOnExec reports whether unix.FD_CLOEXEC is set in e's flags.
func (e Entry) CloseOnExec() bool { return e.flags&unix.FD_CLOEXEC != 0 }

// Path returns e's associated path and true if one was recorded.
func (e Entry) Path() (string, bool) {
	if !e.hasPath {
		return "", false
	}
	return e.path, true
}
