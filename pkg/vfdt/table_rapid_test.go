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
	"testing"

	"pgregory.net/rapid"
)

// refModel is a plain map-based reference implementation of the
// allocation rules in spec §4, used to check the btree-backed Table
// against an independently-written model, per spec §8's "stateful
// property tests against a reference model".
type refModel struct {
	entries map[int32]int32 // vfd -> payload (stands in for kernel_fd)
	nextVFD int32
	free    map[int32]bool
}

func newRefModel() *refModel {
	return &refModel{
		entries: map[int32]int32{Stdin: Stdin, Stdout: Stdout, Stderr: Stderr},
		nextVFD: FirstUser,
		free:    map[int32]bool{},
	}
}

func (m *refModel) lowestAvailableFrom(lo int32) int32 {
	if lo >= m.nextVFD {
		return lo
	}
	for v := lo; v < m.nextVFD; v++ {
		if _, ok := m.entries[v]; !ok {
			return v
		}
	}
	return m.nextVFD
}

func (m *refModel) repopulate(from, to int32) {
	for g := from; g < to; g++ {
		if _, ok := m.entries[g]; !ok {
			m.free[g] = true
		}
	}
}

func (m *refModel) allocate(payload int32) int32 {
	if len(m.free) > 0 {
		min := m.minFree()
		delete(m.free, min)
		m.entries[min] = payload
		return min
	}
	v := m.nextVFD
	m.nextVFD++
	m.entries[v] = payload
	return v
}

func (m *refModel) minFree() int32 {
	first := true
	var min int32
	for v := range m.free {
		if first || v < min {
			min = v
			first = false
		}
	}
	return min
}

func (m *refModel) allocateMin(reqMin, payload int32) int32 {
	lo := reqMin
	if lo < FirstUser {
		lo = FirstUser
	}
	v := m.lowestAvailableFrom(lo)
	if v >= m.nextVFD {
		m.repopulate(m.nextVFD, v)
		m.nextVFD = v + 1
	}
	delete(m.free, v)
	m.entries[v] = payload
	return v
}

func (m *refModel) allocateAt(vfdNum, payload int32) (int32, bool) {
	delete(m.free, vfdNum)
	if vfdNum >= m.nextVFD {
		m.repopulate(m.nextVFD, vfdNum)
		m.nextVFD = vfdNum + 1
	}
	prior, had := m.entries[vfdNum]
	m.entries[vfdNum] = payload
	return prior, had
}

func (m *refModel) deallocate(vfdNum int32) (int32, bool) {
	prior, ok := m.entries[vfdNum]
	if !ok {
		return 0, false
	}
	delete(m.entries, vfdNum)
	if vfdNum >= FirstUser {
		m.free[vfdNum] = true
	}
	return prior, true
}

func (m *refModel) clone() *refModel {
	entries := make(map[int32]int32, len(m.entries))
	for k, v := range m.entries {
		entries[k] = v
	}
	free := make(map[int32]bool, len(m.free))
	for k, v := range m.free {
		free[k] = v
	}
	return &refModel{entries: entries, nextVFD: m.nextVFD, free: free}
}

// instance pairs a live Table with the reference model it should agree
// with at every step.
type instance struct {
	tbl   *Table
	model *refModel
}

func (inst *instance) checkInvariants(t *rapid.T) {
	for _, std := range []int32{Stdin, Stdout, Stderr} {
		entry, ok := inst.tbl.Get(std)
		if !ok {
			t.Fatalf("standard fd %d missing from table", std)
		}
		if entry.Kind() != Passthrough {
			t.Fatalf("standard fd %d is not passthrough", std)
		}
		if kfd, _ := entry.KernelFD(); kfd != std {
			t.Fatalf("standard fd %d has kernel_fd %d", std, kfd)
		}
	}
	for vfdNum, payload := range inst.model.entries {
		entry, ok := inst.tbl.Get(vfdNum)
		if !ok {
			t.Fatalf("model has %d but table does not", vfdNum)
		}
		kfd, _ := entry.KernelFD()
		if kfd != payload {
			t.Fatalf("vfd %d: table kernel_fd %d != model payload %d", vfdNum, kfd, payload)
		}
	}
	for vfdNum := range inst.model.free {
		if _, ok := inst.tbl.Get(vfdNum); ok {
			t.Fatalf("vfd %d is free in model but present in table", vfdNum)
		}
	}
}

func TestFDTableAgainstReferenceModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		instances := []*instance{{tbl: New(), model: newRefModel()}}
		var nextPayload int32

		steps := rapid.IntRange(1, 150).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			idx := rapid.IntRange(0, len(instances)-1).Draw(t, "instanceIdx")
			inst := instances[idx]

			switch rapid.IntRange(0, 6).Draw(t, "op") {
			case 0: // Allocate
				nextPayload++
				got := inst.tbl.Allocate(NewPassthrough(nextPayload, 0, ""))
				want := inst.model.allocate(nextPayload)
				if got != want {
					t.Fatalf("Allocate: table=%d model=%d", got, want)
				}

			case 1: // AllocateMin
				min := int32(rapid.IntRange(0, 40).Draw(t, "min"))
				nextPayload++
				got := inst.tbl.AllocateMin(min, NewPassthrough(nextPayload, 0, ""))
				want := inst.model.allocateMin(min, nextPayload)
				if got != want {
					t.Fatalf("AllocateMin(%d): table=%d model=%d", min, got, want)
				}

			case 2: // AllocateAt
				target := int32(rapid.IntRange(0, 40).Draw(t, "target"))
				nextPayload++
				gotPrior, gotHad := inst.tbl.AllocateAt(target, NewPassthrough(nextPayload, 0, ""))
				wantPrior, wantHad := inst.model.allocateAt(target, nextPayload)
				if gotHad != wantHad {
					t.Fatalf("AllocateAt(%d) hadPrior: table=%v model=%v", target, gotHad, wantHad)
				}
				if wantHad {
					if kfd, _ := gotPrior.KernelFD(); kfd != wantPrior {
						t.Fatalf("AllocateAt(%d) prior: table=%d model=%d", target, kfd, wantPrior)
					}
				}

			case 3: // Deallocate
				target := int32(rapid.IntRange(0, 40).Draw(t, "target"))
				gotEntry, gotOk := inst.tbl.Deallocate(target)
				wantPayload, wantOk := inst.model.deallocate(target)
				if gotOk != wantOk {
					t.Fatalf("Deallocate(%d): table=%v model=%v", target, gotOk, wantOk)
				}
				if wantOk {
					if kfd, _ := gotEntry.KernelFD(); kfd != wantPayload {
						t.Fatalf("Deallocate(%d) entry: table=%d model=%d", target, kfd, wantPayload)
					}
				}

			case 4: // Duplicate
				old := int32(rapid.IntRange(0, 40).Draw(t, "old"))
				gotNew, gotOk := inst.tbl.Duplicate(old)
				payload, hadOld := inst.model.entries[old]
				if !hadOld {
					if gotOk {
						t.Fatalf("Duplicate(%d): table returned ok for absent source", old)
					}
					continue
				}
				wantNew := inst.model.allocate(payload)
				if !gotOk || gotNew != wantNew {
					t.Fatalf("Duplicate(%d): table=%d/%v model=%d", old, gotNew, gotOk, wantNew)
				}

			case 5: // DuplicateAt
				old := int32(rapid.IntRange(0, 40).Draw(t, "old"))
				target := int32(rapid.IntRange(0, 40).Draw(t, "target"))
				payload, hadOld := inst.model.entries[old]
				gotPrior, gotOk := inst.tbl.DuplicateAt(old, target)
				if !hadOld {
					if gotOk {
						t.Fatalf("DuplicateAt(%d,%d): table returned ok for absent source", old, target)
					}
					continue
				}
				wantPrior, wantHad := inst.model.allocateAt(target, payload)
				if gotOk != wantHad {
					t.Fatalf("DuplicateAt(%d,%d) hadPrior: table=%v model=%v", old, target, gotOk, wantHad)
				}
				if wantHad {
					if kfd, _ := gotPrior.KernelFD(); kfd != wantPrior {
						t.Fatalf("DuplicateAt(%d,%d) prior: table=%d model=%d", old, target, kfd, wantPrior)
					}
				}

			case 6: // DeepClone
				instances = append(instances, &instance{
					tbl:   inst.tbl.DeepClone(),
					model: inst.model.clone(),
				})
			}

			inst.checkInvariants(t)
		}
	})
}
