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
	"reflect"

	"gvisor.dev/gvisor/pkg/sync"
	"gvisor.dev/gvisor/pkg/sync/locking"
)

// tableMutex is sync.Mutex with the correctness validator. It guards the
// whole of fdTableInner for the duration of every public Table operation;
// see the Table type's doc comment.
type tableMutex struct {
	mu sync.Mutex
}

var tableprefixIndex *locking.MutexClass

// tablelockNames is a list of user-friendly lock names.
// Populated in init.
var tablelockNames []string

// tablelockNameIndex is used as an index passed to NestedLock and NestedUnlock,
// refering to an index within tablelockNames.
type tablelockNameIndex int

// DO NOT REMOVE: The following function automatically replaced with lock index constants.
// LOCK_NAME_INDEX_CONSTANTS
const ()

// Lock locks m.
// +checklocksignore
func (m *tableMutex) Lock() {
	locking.AddGLock(tableprefixIndex, -1)
	m.mu.Lock()
}

// NestedLock locks m knowing that another lock of the same type is held.
// +checklocksignore
func (m *tableMutex) NestedLock(i tablelockNameIndex) {
	locking.AddGLock(tableprefixIndex, int(i))
	m.mu.Lock()
}

// Unlock unlocks m.
// +checklocksignore
func (m *tableMutex) Unlock() {
	locking.DelGLock(tableprefixIndex, -1)
	m.mu.Unlock()
}

// NestedUnlock unlocks m knowing that another lock of the same type is held.
// +checklocksignore
func (m *tableMutex) NestedUnlock(i tablelockNameIndex) {
	locking.DelGLock(tableprefixIndex, int(i))
	m.mu.Unlock()
}

// DO NOT REMOVE: The following function is automatically replaced.
func tableinitLockNames() {}

func init() {
	tableinitLockNames()
	tableprefixIndex = locking.NewMutexClass(reflect.TypeOf(tableMutex{}), tablelockNames)
}
