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

package vfdt

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func p(kernelFD int32) Entry { return NewPassthrough(kernelFD, 0, "") }

func TestNewHasStandardFDs(t *testing.T) {
	tbl := New()
	for _, vfd := range []int32{Stdin, Stdout, Stderr} {
		entry, ok := tbl.Get(vfd)
		require.True(t, ok)
		assert.Equal(t, Passthrough, entry.Kind())
		kfd, ok := entry.KernelFD()
		require.True(t, ok)
		assert.Equal(t, vfd, kfd)
		assert.Equal(t, int32(0), entry.Flags())
		_, hasPath := entry.Path()
		assert.False(t, hasPath)
	}
}

func TestAllocateImmediatelyAfterNewYields3(t *testing.T) {
	tbl := New()
	assert.Equal(t, int32(3), tbl.Allocate(p(100)))
}

// Scenario 1 of spec §8: basic allocation.
func TestBasicAllocation(t *testing.T) {
	tbl := New()
	assert.Equal(t, int32(3), tbl.Allocate(p(100)))
	assert.Equal(t, int32(4), tbl.Allocate(p(101)))

	kfd, ok := tbl.Translate(3)
	require.True(t, ok)
	assert.Equal(t, int32(100), kfd)

	kfd, ok = tbl.Translate(4)
	require.True(t, ok)
	assert.Equal(t, int32(101), kfd)
}

// Scenario 2: reuse after free.
func TestReuseAfterFree(t *testing.T) {
	tbl := New()
	require.Equal(t, int32(3), tbl.Allocate(p(100)))
	require.Equal(t, int32(4), tbl.Allocate(p(101)))

	removed, ok := tbl.Deallocate(3)
	require.True(t, ok)
	kfd, _ := removed.KernelFD()
	assert.Equal(t, int32(100), kfd)

	assert.Equal(t, int32(3), tbl.Allocate(p(102)))
}

// Scenario 3: dup2 into a hole triggers gap repopulation, and allocate
// drains the repopulated gap before handing out VFDs past the hole.
func TestAllocateAtGapRepopulation(t *testing.T) {
	tbl := New()
	require.Equal(t, int32(3), tbl.Allocate(p(100)))

	prior, hadPrior := tbl.AllocateAt(10, p(200))
	assert.False(t, hadPrior)
	_ = prior

	assert.Equal(t, int32(4), tbl.Allocate(p(300)))

	// The gap [4, 10) minus the just-consumed 4 still has 5 slots; drain
	// them before anything past the hole at 10 is handed out.
	for want := int32(5); want <= 9; want++ {
		assert.Equal(t, want, tbl.Allocate(p(300+want)))
	}

	// 10 is occupied; the next monotonic slot past it is 11.
	assert.Equal(t, int32(11), tbl.Allocate(p(999)))
}

// Scenario 4: dup2 overwrite.
func TestAllocateAtOverwrite(t *testing.T) {
	tbl := New()
	require.Equal(t, int32(3), tbl.Allocate(p(100)))

	prior, hadPrior := tbl.AllocateAt(3, p(200))
	require.True(t, hadPrior)
	kfd, _ := prior.KernelFD()
	assert.Equal(t, int32(100), kfd)

	kfd, ok := tbl.Translate(3)
	require.True(t, ok)
	assert.Equal(t, int32(200), kfd)
}

// Scenario 5: duplicate.
func TestDuplicate(t *testing.T) {
	tbl := New()
	require.Equal(t, int32(3), tbl.Allocate(p(100)))

	newVFD, ok := tbl.Duplicate(3)
	require.True(t, ok)
	assert.Equal(t, int32(4), newVFD)

	kfd3, _ := tbl.Translate(3)
	kfd4, _ := tbl.Translate(4)
	assert.Equal(t, kfd3, kfd4)
	assert.Equal(t, int32(100), kfd3)
}

func TestDuplicateOfAbsentIsNone(t *testing.T) {
	tbl := New()
	_, ok := tbl.Duplicate(42)
	assert.False(t, ok)
}

func TestDuplicateAtOfAbsentLeavesTableUnchanged(t *testing.T) {
	tbl := New()
	require.Equal(t, int32(3), tbl.Allocate(p(100)))

	_, ok := tbl.DuplicateAt(42, 3)
	assert.False(t, ok)

	kfd, ok := tbl.Translate(3)
	require.True(t, ok)
	assert.Equal(t, int32(100), kfd)
}

// Scenario 6: fork independence.
func TestDeepCloneIndependence(t *testing.T) {
	t1 := New()
	require.Equal(t, int32(3), t1.Allocate(p(100)))

	t2 := t1.DeepClone()
	assert.Equal(t, int32(4), t2.Allocate(p(200)))

	_, ok := t1.Translate(4)
	assert.False(t, ok)

	kfd, ok := t1.Translate(3)
	require.True(t, ok)
	assert.Equal(t, int32(100), kfd)
}

func TestDeepCloneMutationsDoNotLeakBack(t *testing.T) {
	t1 := New()
	require.Equal(t, int32(3), t1.Allocate(p(1)))
	t2 := t1.DeepClone()

	t2.Deallocate(3)
	t2.Allocate(p(2))

	kfd, ok := t1.Translate(3)
	require.True(t, ok)
	assert.Equal(t, int32(1), kfd)
}

func TestAllocateMinFloorsAtFirstUser(t *testing.T) {
	tbl := New()
	assert.Equal(t, int32(3), tbl.AllocateMin(2, p(1)))
}

func TestAllocateMinAboveNextVFDRepopulatesGaps(t *testing.T) {
	tbl := New()
	require.Equal(t, int32(3), tbl.Allocate(p(1)))

	// nextVFD is 4; jump to 20.
	assert.Equal(t, int32(20), tbl.AllocateMin(20, p(2)))

	// [4, 20) are now all free; the next two allocations drain them in
	// order starting at 4.
	assert.Equal(t, int32(4), tbl.Allocate(p(3)))
	assert.Equal(t, int32(5), tbl.Allocate(p(4)))
}

func TestAllocateMinBelowNextVFDFindsExistingHole(t *testing.T) {
	tbl := New()
	require.Equal(t, int32(3), tbl.Allocate(p(1)))  // 3
	require.Equal(t, int32(4), tbl.Allocate(p(2)))  // 4
	require.Equal(t, int32(5), tbl.Allocate(p(3)))  // 5
	_, ok := tbl.Deallocate(4)
	require.True(t, ok)

	// 4 is free and >= min; no gap repopulation needed, nextVFD stays put.
	assert.Equal(t, int32(4), tbl.AllocateMin(3, p(4)))
	assert.Equal(t, int32(6), tbl.Allocate(p(5)))
}

func TestDeallocatingStandardFDDoesNotFreeIt(t *testing.T) {
	tbl := New()
	_, ok := tbl.Deallocate(Stdin)
	require.True(t, ok)

	// 3 is still the lowest available; 0 is never handed back out.
	assert.Equal(t, int32(3), tbl.Allocate(p(1)))
}

func TestDeallocateAbsentReturnsFalse(t *testing.T) {
	tbl := New()
	_, ok := tbl.Deallocate(123)
	assert.False(t, ok)
}

func TestTranslateOfVirtualEntryIsAbsent(t *testing.T) {
	tbl := New()
	vfdNum := tbl.Allocate(NewVirtual(&closeCounter{}, 0, "/virtual/x"))
	_, ok := tbl.Translate(vfdNum)
	assert.False(t, ok)

	entry, ok := tbl.Get(vfdNum)
	require.True(t, ok)
	ops, ok := entry.Ops()
	require.True(t, ok)
	assert.NotNil(t, ops)
}

// Round-trip: allocate followed by deallocate returns the same entry
// installed.
func TestAllocateDeallocateRoundTrip(t *testing.T) {
	tbl := New()
	entry := p(77)
	vfdNum := tbl.Allocate(entry)
	removed, ok := tbl.Deallocate(vfdNum)
	require.True(t, ok)
	assert.Equal(t, entry, removed)
}

func TestConcurrentAllocateYieldsDistinctVFDs(t *testing.T) {
	tbl := New()
	const n = 200
	results := make(chan int32, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results <- tbl.Allocate(p(int32(i)))
		}(i)
	}
	wg.Wait()
	close(results)

	seen := make(map[int32]bool, n)
	for v := range results {
		assert.False(t, seen[v], "duplicate vfd %d handed out", v)
		seen[v] = true
	}
	assert.Len(t, seen, n)
}

type closeCounter struct{ closed int }

func (c *closeCounter) Close() error {
	c.closed++
	return nil
}
