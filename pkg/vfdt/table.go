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

import "math"

// Reserved numeric constants, per spec §6.
const (
	Stdin     int32 = 0
	Stdout    int32 = 1
	Stderr    int32 = 2
	FirstUser int32 = 3

	// maxVFD is the allocation ceiling (INT_MAX).
	maxVFD int32 = math.MaxInt32
)

// fdTableInner is everything the guard protects. No field may be read or
// written without holding Table.mu.
type fdTableInner struct {
	// entries maps every currently-allocated VFD to its Entry.
	entries map[int32]Entry

	// nextVFD is the smallest VFD never yet handed out via monotonic
	// growth; see spec invariant 4.
	nextVFD int32

	// free holds VFDs >= FirstUser previously allocated and since
	// released, or skipped over by allocate_min/allocate_at (gap
	// repopulation, spec §4.4).
	free *freeSet
}

// Table is the per-process virtual file descriptor table. The zero value
// is not usable; construct one with New. A *Table is safe for concurrent
// use by multiple goroutines (threads of one process): every exported
// method acquires mu for its full duration and never blocks on anything
// but that lock.
//
// Sharing a *Table across goroutines (thread sharing) is simply handing
// out the same pointer. DeepClone is the only way to obtain a second,
// independent Table; nothing else on this type produces a shallow
// "clone" that could be mistaken for it.
type Table struct {
	mu    tableMutex
	inner fdTableInner
}

// New returns a table containing exactly the three standard-FD
// passthrough entries, per spec invariant 1, with next_vfd = FirstUser
// and an empty free set.
func New() *Table {
	t := &Table{
		inner: fdTableInner{
			entries: make(map[int32]Entry, 8),
			nextVFD: FirstUser,
			free:    newFreeSet(),
		},
	}
	t.inner.entries[Stdin] = standardEntry(Stdin)
	t.inner.entries[Stdout] = standardEntry(Stdout)
	t.inner.entries[Stderr] = standardEntry(Stderr)
	return t
}

// Allocate installs entry at the lowest VFD >= FirstUser not currently in
// the mapping and returns that VFD. See spec §4.3.
func (t *Table) Allocate(entry Entry) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocateLocked(entry)
}

// Precondition: t.mu locked.
func (t *Table) allocateLocked(entry Entry) int32 {
	in := &t.inner
	if v, ok := in.free.min(); ok {
		in.entries[v] = entry
		return v
	}

	v := in.nextVFD
	if v == maxVFD {
		// Diagnostic-only fallback: the monotonic counter has reached
		// INT_MAX. Linear-scan for the first unallocated slot; if the
		// entire VFD space is exhausted there is nothing left to do
		// but abort, since the guest has no recovery path either.
		for c := FirstUser; c < maxVFD; c++ {
			if _, used := in.entries[c]; !used {
				in.entries[c] = entry
				return c
			}
		}
		panic("vfdt: descriptor space exhausted")
	}
	in.nextVFD++
	in.entries[v] = entry
	return v
}

// AllocateMin installs entry at the lowest VFD >= max(FirstUser, min) not
// currently in the mapping and returns that VFD. See spec §4.4.
func (t *Table) AllocateMin(min int32, entry Entry) int32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocateMinLocked(min, entry)
}

// Precondition: t.mu locked.
func (t *Table) allocateMinLocked(min int32, entry Entry) int32 {
	in := &t.inner
	lo := min
	if lo < FirstUser {
		lo = FirstUser
	}

	v := t.lowestAvailableFromLocked(lo)
	if v >= in.nextVFD {
		t.repopulateGapsLocked(in.nextVFD, v)
		in.nextVFD = v + 1
	}
	in.free.remove(v)
	in.entries[v] = entry
	return v
}

// lowestAvailableFromLocked returns the smallest VFD >= lo not currently
// in the mapping. Any VFD >= nextVFD has never been handed out and is
// trivially available.
//
// Precondition: t.mu locked.
func (t *Table) lowestAvailableFromLocked(lo int32) int32 {
	in := &t.inner
	if lo >= in.nextVFD {
		return lo
	}
	v := lo
	for v < in.nextVFD {
		if _, used := in.entries[v]; !used {
			return v
		}
		v++
	}
	return v
}

// repopulateGapsLocked adds every VFD in [from, to) not currently in the
// mapping to the free set. This is the gap-repopulation rule from spec
// §4.4/§4.5: skipping next_vfd ahead must not silently drop VFDs a
// subsequent Allocate should still be able to return.
//
// Precondition: t.mu locked.
func (t *Table) repopulateGapsLocked(from, to int32) {
	in := &t.inner
	for g := from; g < to; g++ {
		if _, used := in.entries[g]; !used {
			in.free.add(g)
		}
	}
}

// AllocateAt installs entry at exactly vfd, regardless of whether vfd was
// previously allocated, and returns whatever entry was previously there.
// See spec §4.5.
func (t *Table) AllocateAt(vfdNum int32, entry Entry) (prior Entry, hadPrior bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocateAtLocked(vfdNum, entry)
}

// Precondition: t.mu locked.
func (t *Table) allocateAtLocked(vfdNum int32, entry Entry) (prior Entry, hadPrior bool) {
	in := &t.inner
	in.free.remove(vfdNum)
	if vfdNum >= in.nextVFD {
		t.repopulateGapsLocked(in.nextVFD, vfdNum)
		in.nextVFD = vfdNum + 1
	}
	prior, hadPrior = in.entries[vfdNum]
	in.entries[vfdNum] = entry
	return prior, hadPrior
}

// Translate returns the kernel FD for vfd iff it exists and is
// Passthrough. It is the hot path used by every intercepted syscall that
// forwards to the kernel. See spec §4.6.
func (t *Table) Translate(vfdNum int32) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.inner.entries[vfdNum]
	if !ok {
		return 0, false
	}
	return entry.KernelFD()
}

// Get returns a value-copy of the entry at vfd, if any. See spec §4.7.
func (t *Table) Get(vfdNum int32) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(vfdNum)
}

// Precondition: t.mu locked.
func (t *Table) getLocked(vfdNum int32) (Entry, bool) {
	entry, ok := t.inner.entries[vfdNum]
	return entry, ok
}

// Deallocate removes vfd from the mapping and, if vfd >= FirstUser, makes
// it available for reuse. Standard FDs are never added to the free set
// even if removed. Returns the removed entry, if any. See spec §4.8.
func (t *Table) Deallocate(vfdNum int32) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deallocateLocked(vfdNum)
}

// Precondition: t.mu locked.
func (t *Table) deallocateLocked(vfdNum int32) (Entry, bool) {
	in := &t.inner
	entry, ok := in.entries[vfdNum]
	if !ok {
		return Entry{}, false
	}
	delete(in.entries, vfdNum)
	if vfdNum >= FirstUser {
		in.free.add(vfdNum)
	}
	return entry, true
}

// Duplicate is the equivalent of POSIX dup: it looks up old and, if
// present, allocates a structural copy of its entry at the lowest
// available VFD. See spec §4.9.
func (t *Table) Duplicate(old int32) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.getLocked(old)
	if !ok {
		return 0, false
	}
	return t.allocateLocked(entry), true
}

// DuplicateAt is the equivalent of POSIX dup2: if old is absent, the
// table is left unchanged and the second result is false. Otherwise a
// structural copy of old's entry is installed at new, exactly as
// AllocateAt would, and AllocateAt's results are returned: the entry
// previously at new and whether there was one. The second result is
// therefore also false when old is present but new was empty. See spec
// §4.10.
func (t *Table) DuplicateAt(old, newVFD int32) (prior Entry, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.getLocked(old)
	if !ok {
		return Entry{}, false
	}
	prior, hadPrior := t.allocateAtLocked(newVFD, entry)
	return prior, hadPrior
}

// DeepClone returns a new Table whose mapping, next_vfd, and free set are
// independent value-copies of t's. The two tables share no mutable state
// afterward (though Virtual entries in both still reference the same
// FileOps handle — see the Open Question decisions in DESIGN.md). Used on
// fork/clone to give a child process its own table. See spec §4.11.
func (t *Table) DeepClone() *Table {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries := make(map[int32]Entry, len(t.inner.entries))
	for k, v := range t.inner.entries {
		entries[k] = v
	}

	return &Table{
		inner: fdTableInner{
			entries: entries,
			nextVFD: t.inner.nextVFD,
			free:    t.inner.free.clone(),
		},
	}
}
