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

package syscalls

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/sekmet/agentfs/internal/fileops"
	"github.com/sekmet/agentfs/internal/mount"
	"github.com/sekmet/agentfs/internal/store"
	"github.com/sekmet/agentfs/pkg/vfdt"
)

// HostOpener is the default Opener: it services Bind mounts with a real
// openat(2) against the host filesystem, SQLite mounts against the
// store collaborator (internal/store), and Fifo mounts against the
// file-operation backend collaborator (internal/fileops), lazily
// opening and caching one *store.Store per distinct SQLite mount source
// so concurrent opens under the same mount share a single database
// handle.
type HostOpener struct {
	mu     sync.Mutex
	stores map[string]*store.Store
}

// NewHostOpener returns an Opener ready to service Bind, SQLite, and
// Fifo mounts.
func NewHostOpener() *HostOpener {
	return &HostOpener{stores: make(map[string]*store.Store)}
}

// Open implements Opener.
func (o *HostOpener) Open(m mount.Mount, real string, flags int32, mode uint32) (vfdt.Entry, error) {
	switch m.Type {
	case mount.SQLite:
		s, err := o.storeFor(m.Src)
		if err != nil {
			return vfdt.Entry{}, err
		}
		vf, err := s.Open(real)
		if err != nil {
			return vfdt.Entry{}, fmt.Errorf("opener: open %s: %w", real, err)
		}
		return vfdt.NewVirtual(vf, flags, real), nil

	case mount.Fifo:
		f, err := fileops.OpenFifo(context.Background(), real, int(flags), os.FileMode(mode))
		if err != nil {
			return vfdt.Entry{}, err
		}
		return vfdt.NewVirtual(f, flags, real), nil

	default: // mount.Bind
		fd, err := unix.Open(real, int(flags), mode)
		if err != nil {
			return vfdt.Entry{}, fmt.Errorf("opener: open %s: %w", real, err)
		}
		return vfdt.NewPassthrough(int32(fd), flags, real), nil
	}
}

// Close releases every store this opener has opened. It does not touch
// any Fifo or passthrough entries already handed out; those are
// released by their owning Entry's Deallocate/Close path instead.
func (o *HostOpener) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	for src, s := range o.stores {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("opener: close store %s: %w", src, cerr)
		}
	}
	return err
}

func (o *HostOpener) storeFor(src string) (*store.Store, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.stores[src]; ok {
		return s, nil
	}
	s, err := store.Open(src)
	if err != nil {
		return nil, err
	}
	o.stores[src] = s
	return s, nil
}
