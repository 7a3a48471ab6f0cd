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

// Package fileops provides concrete vfdt.FileOps backends: the
// file-operation backend collaborator named in spec.md §2, which the
// VFDT itself never constructs or interprets.
package fileops

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/containerd/fifo"
	"github.com/sirupsen/logrus"

	"github.com/sekmet/agentfs/pkg/vfdt"
)

var log = logrus.WithField("component", "fileops")

// Fifo is a vfdt.FileOps backed by a named pipe. It is the reference
// "Virtual" entry backend: I/O on the virtual file descriptor is
// serviced in-process by this type rather than forwarded to a real
// kernel descriptor.
type Fifo struct {
	path string
	f    io.ReadWriteCloser
}

// OpenFifo creates or opens the named pipe at path and wraps it as a
// vfdt.FileOps, ready to be installed into a Table via vfdt.NewVirtual.
func OpenFifo(ctx context.Context, path string, flags int, perm os.FileMode) (*Fifo, error) {
	f, err := fifo.OpenFifo(ctx, path, flags, perm)
	if err != nil {
		return nil, fmt.Errorf("fileops: open fifo %s: %w", path, err)
	}
	return &Fifo{path: path, f: f}, nil
}

// Read satisfies the subset of io.Reader virtual file consumers expect.
func (v *Fifo) Read(p []byte) (int, error) { return v.f.Read(p) }

// Write satisfies the subset of io.Writer virtual file consumers expect.
func (v *Fifo) Write(p []byte) (int, error) { return v.f.Write(p) }

// Close implements vfdt.FileOps. The table never calls this itself; a
// collaborator calls it after a Deallocate/AllocateAt/DuplicateAt
// returns the Entry that owned this handle.
func (v *Fifo) Close() error {
	log.WithField("path", v.path).Debug("closing virtual fifo")
	return v.f.Close()
}

var _ vfdt.FileOps = (*Fifo)(nil)
