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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sekmet/agentfs/internal/mount"
)

func TestHostOpenerBindOpensRealFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	o := NewHostOpener()
	t.Cleanup(func() { o.Close() })

	entry, err := o.Open(mount.Mount{Type: mount.Bind}, path, unix.O_RDONLY, 0)
	require.NoError(t, err)
	require.Equal(t, "passthrough", entry.Kind().String())
	kfd, ok := entry.KernelFD()
	require.True(t, ok)
	require.NoError(t, unix.Close(int(kfd)))
}

func TestHostOpenerSQLiteRoutesThroughStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agent.db")

	o := NewHostOpener()
	defer o.Close()

	entry, err := o.Open(mount.Mount{Type: mount.SQLite, Src: dbPath}, "/notes.txt", unix.O_WRONLY, 0)
	require.NoError(t, err)
	ops, ok := entry.Ops()
	require.True(t, ok)
	_, err = ops.(interface{ Write([]byte) (int, error) }).Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, ops.Close())

	// Re-opening through the same store (and thus the same cached
	// *store.Store, since both opens share dbPath) must see the write.
	entry2, err := o.Open(mount.Mount{Type: mount.SQLite, Src: dbPath}, "/notes.txt", unix.O_RDONLY, 0)
	require.NoError(t, err)
	ops2, _ := entry2.Ops()
	buf := make([]byte, 7)
	n, err := ops2.(interface{ Read([]byte) (int, error) }).Read(buf)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf[:n]))
}

func TestHostOpenerCachesOneStorePerSource(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "agent.db")
	o := NewHostOpener()
	defer o.Close()

	s1, err := o.storeFor(dbPath)
	require.NoError(t, err)
	s2, err := o.storeFor(dbPath)
	require.NoError(t, err)
	require.Same(t, s1, s2)
}
