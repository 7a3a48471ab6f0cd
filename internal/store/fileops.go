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

package store

import (
	"bytes"
	"fmt"

	"github.com/sekmet/agentfs/pkg/vfdt"
)

// VirtualFile is a vfdt.FileOps backend for a path resolved against a
// Store rather than the host filesystem: the reads and writes a
// "sqlite"-typed mount (internal/mount) produces. It buffers writes in
// memory and flushes on Close, the same write-back discipline
// original_source's cli/src/cmd/sync.rs uses for its checkpoint command.
type VirtualFile struct {
	store *Store
	path  string
	buf   *bytes.Reader
	dirty []byte
}

// Open returns a VirtualFile for path, installable into a vfdt.Table via
// vfdt.NewVirtual. The file need not exist yet; it is created on first
// Close if any bytes were written.
func (s *Store) Open(path string) (*VirtualFile, error) {
	data, err := s.ReadFile(path)
	if err != nil {
		data = nil // new file: WriteFile creates it on Close
	}
	return &VirtualFile{store: s, path: path, buf: bytes.NewReader(data)}, nil
}

// Read implements the read half of vfdt's virtual file contract.
func (v *VirtualFile) Read(p []byte) (int, error) {
	return v.buf.Read(p)
}

// Write buffers p for a flush to the backing Store on Close.
func (v *VirtualFile) Write(p []byte) (int, error) {
	v.dirty = append(v.dirty, p...)
	return len(p), nil
}

// Close flushes any buffered writes back to the Store. It satisfies
// vfdt.FileOps; the table never calls it directly (see fileops.Fifo's
// doc comment) — a collaborator calls it once the entry is removed from
// the table.
func (v *VirtualFile) Close() error {
	if v.dirty == nil {
		return nil
	}
	if err := v.store.WriteFile(v.path, v.dirty); err != nil {
		return fmt.Errorf("store: flush %s: %w", v.path, err)
	}
	return nil
}

var _ vfdt.FileOps = (*VirtualFile)(nil)
