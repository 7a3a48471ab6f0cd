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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteThenReadFile(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.WriteFile("/notes.txt", []byte("hello")))
	data, err := s.ReadFile("/notes.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}

func TestWriteCreatesIntermediateDentry(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.WriteFile("/a/b/c.txt", []byte("x")))
	entries, err := s.List("/a/b")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "c.txt", entries[0].Name)
	require.False(t, entries[0].IsDir)
}

func TestReadMissingFileErrors(t *testing.T) {
	s := openTemp(t)
	_, err := s.ReadFile("/nope.txt")
	require.Error(t, err)
}

func TestStats(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.WriteFile("/a.txt", []byte("12345")))
	require.NoError(t, s.WriteFile("/b.txt", []byte("123")))
	st, err := s.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 8, st.Bytes)
	require.GreaterOrEqual(t, st.Inodes, int64(2))
}

func TestCheckpointIsANoopOnAFreshStore(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Checkpoint())
}

func TestPushThenPullRoundTrip(t *testing.T) {
	s := openTemp(t)
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "x.txt"), []byte("abc"), 0o644))

	n, err := s.Push(src, "/pushed")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	dst := t.TempDir()
	n, err = s.Pull("/pushed", dst)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := os.ReadFile(filepath.Join(dst, "x.txt"))
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestVirtualFileWriteBackOnClose(t *testing.T) {
	s := openTemp(t)
	vf, err := s.Open("/scratch.txt")
	require.NoError(t, err)
	_, err = vf.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, vf.Close())

	data, err := s.ReadFile("/scratch.txt")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func TestSecondOpenOfSamePathFailsWhileLocked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.db")
	s1, err := Open(path)
	require.NoError(t, err)
	defer s1.Close()

	_, err = Open(path)
	require.Error(t, err)
}
