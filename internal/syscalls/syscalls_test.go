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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sekmet/agentfs/internal/mount"
	"github.com/sekmet/agentfs/pkg/vfdt"
)

// fakeOpener records the Mount it was handed and returns a canned entry,
// so tests can assert the Interceptor passes mount-type information
// through rather than just a translated path string.
type fakeOpener struct {
	gotMount mount.Mount
	gotReal  string
	entry    vfdt.Entry
	err      error
}

func (f *fakeOpener) Open(m mount.Mount, real string, flags int32, mode uint32) (vfdt.Entry, error) {
	f.gotMount = m
	f.gotReal = real
	return f.entry, f.err
}

func TestOpenPassesResolvedMountToOpener(t *testing.T) {
	mounts := mount.NewTable([]mount.Mount{{Type: mount.SQLite, Src: "/agent.db", Dst: "/data"}})
	opener := &fakeOpener{entry: vfdt.NewPassthrough(9, 0, "")}
	ic := New(vfdt.New(), mounts, opener)

	vfdNum, err := ic.Open("/data/notes.txt", 0, 0)
	require.NoError(t, err)
	require.Equal(t, mount.SQLite, opener.gotMount.Type)
	require.Equal(t, "/notes.txt", opener.gotReal)
	require.Equal(t, vfdt.FirstUser, vfdNum)
}

func TestCloseReturnsKernelFDForPassthrough(t *testing.T) {
	opener := &fakeOpener{entry: vfdt.NewPassthrough(42, 0, "/x")}
	ic := New(vfdt.New(), mount.NewTable(nil), opener)

	vfdNum, err := ic.Open("/x", 0, 0)
	require.NoError(t, err)

	kfd, ops, err := ic.Close(vfdNum)
	require.NoError(t, err)
	require.Nil(t, ops)
	require.EqualValues(t, 42, kfd)
}

func TestDupAndDup2(t *testing.T) {
	opener := &fakeOpener{entry: vfdt.NewPassthrough(7, 0, "/x")}
	ic := New(vfdt.New(), mount.NewTable(nil), opener)

	a, err := ic.Open("/x", 0, 0)
	require.NoError(t, err)

	b, err := ic.Dup(a)
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	c, err := ic.Dup2(a, b+10)
	require.NoError(t, err)
	require.Equal(t, b+10, c)
}

func TestDup2SameFDIsANoopForAnOpenDescriptor(t *testing.T) {
	opener := &fakeOpener{entry: vfdt.NewPassthrough(7, 0, "/x")}
	ic := New(vfdt.New(), mount.NewTable(nil), opener)

	a, err := ic.Open("/x", 0, 0)
	require.NoError(t, err)
	got, err := ic.Dup2(a, a)
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestCloseOfUnknownVFDIsEBADF(t *testing.T) {
	ic := New(vfdt.New(), mount.NewTable(nil), &fakeOpener{})
	_, _, err := ic.Close(999)
	require.Error(t, err)
}

func TestOpenPropagatesOpenerError(t *testing.T) {
	opener := &fakeOpener{err: errors.New("boom")}
	ic := New(vfdt.New(), mount.NewTable(nil), opener)
	_, err := ic.Open("/x", 0, 0)
	require.Error(t, err)
}
