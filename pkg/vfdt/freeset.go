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

import "github.com/google/btree"

// freeSetDegree is the B-tree branching factor for the free set. The set
// is small in practice (bounded by how many VFDs a process has ever
// opened and closed at once), so this is not performance-sensitive; 32
// matches the degree commonly used for in-memory ordered sets built on
// google/btree.
const freeSetDegree = 32

// vfd is a btree.Item wrapping a single free VFD, ordered numerically so
// that Min() always yields the lowest-available candidate.
type vfd int32

func (a vfd) Less(than btree.Item) bool { return a < than.(vfd) }

// freeSet is the set of VFDs >= FirstUser previously allocated and since
// released, ordered so the smallest is retrievable in O(log n). It
// satisfies spec's "Free-set representation" note: an ordered set
// supporting both extract-minimum and removal of an arbitrary element.
type freeSet struct {
	t *btree.BTree
}

func newFreeSet() *freeSet {
	return &freeSet{t: btree.New(freeSetDegree)}
}

// add records v as available for reuse.
func (s *freeSet) add(v int32) {
	s.t.ReplaceOrInsert(vfd(v))
}

// remove deletes v from the set if present, reporting whether it was
// there.
func (s *freeSet) remove(v int32) bool {
	return s.t.Delete(vfd(v)) != nil
}

// has reports whether v is currently free.
func (s *freeSet) has(v int32) bool {
	return s.t.Has(vfd(v))
}

// min extracts and removes the smallest free VFD, if any.
func (s *freeSet) min() (int32, bool) {
	item := s.t.Min()
	if item == nil {
		return 0, false
	}
	s.t.Delete(item)
	return int32(item.(vfd)), true
}

func (s *freeSet) len() int { return s.t.Len() }

// clone returns an independent copy of s. google/btree's Clone is a cheap
// copy-on-write snapshot; both trees are safe to mutate independently
// afterward.
func (s *freeSet) clone() *freeSet {
	return &freeSet{t: s.t.Clone()}
}
