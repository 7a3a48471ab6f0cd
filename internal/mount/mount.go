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

// Package mount translates sandbox-visible paths to the real path (or
// virtual backend) the syscall interceptor should actually open. This is
// the mount-translation collaborator spec.md §1 names and treats as
// external; it is supplemented here from original_source's
// cli/src/main.rs MountConfig, which this package's spec syntax is
// lifted from.
package mount

import (
	"fmt"
	"sort"
	"strings"
)

// Type names the backend a Mount resolves to.
type Type int

const (
	// Bind passes paths under Dst straight through to the host
	// filesystem rooted at Src.
	Bind Type = iota
	// SQLite resolves paths under Dst into the SQLite-backed persistent
	// filesystem collaborator (internal/store) rooted at Src.
	SQLite
	// Fifo routes every path under Dst to a single named pipe at Src,
	// serviced by the file-operation backend collaborator
	// (internal/fileops), regardless of which path under Dst was
	// opened.
	Fifo
)

// Mount is a single `--mount type=<bind|sqlite|fifo>,src=<...>,dst=<...>`
// entry.
type Mount struct {
	Type Type
	Src  string
	Dst  string
}

// Parse parses a mount spec of the form
// "type=bind,src=/host/path,dst=/sandbox/path", matching the grammar
// implied by original_source/cli/src/main.rs's Run.mounts flag.
func Parse(spec string) (Mount, error) {
	var m Mount
	haveType, haveDst := false, false
	for _, kv := range strings.Split(spec, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return Mount{}, fmt.Errorf("mount: malformed field %q in %q", kv, spec)
		}
		key, val := parts[0], parts[1]
		switch key {
		case "type":
			switch val {
			case "bind":
				m.Type = Bind
			case "sqlite":
				m.Type = SQLite
			case "fifo":
				m.Type = Fifo
			default:
				return Mount{}, fmt.Errorf("mount: unknown type %q", val)
			}
			haveType = true
		case "src":
			m.Src = val
		case "dst":
			m.Dst = val
			haveDst = true
		default:
			return Mount{}, fmt.Errorf("mount: unknown field %q", key)
		}
	}
	if !haveType {
		return Mount{}, fmt.Errorf("mount: missing type in %q", spec)
	}
	if !haveDst {
		return Mount{}, fmt.Errorf("mount: missing dst in %q", spec)
	}
	return m, nil
}

// Table resolves a sandbox path to the real path an Opener should use,
// by longest-matching mount destination prefix — the same rule POSIX
// mount namespaces use to pick the most specific mount for a path.
type Table struct {
	mounts []Mount
}

// NewTable builds a Table from parsed mount specs, along with an
// implicit root bind mount so unmatched paths still resolve somewhere.
func NewTable(mounts []Mount) *Table {
	t := &Table{mounts: append([]Mount{{Type: Bind, Src: "/", Dst: "/"}}, mounts...)}
	sort.Slice(t.mounts, func(i, j int) bool {
		return len(t.mounts[i].Dst) > len(t.mounts[j].Dst)
	})
	return t
}

// Resolve returns the mount governing path.
func (t *Table) Resolve(path string) Mount {
	for _, m := range t.mounts {
		if path == m.Dst || strings.HasPrefix(path, strings.TrimSuffix(m.Dst, "/")+"/") {
			return m
		}
	}
	return t.mounts[len(t.mounts)-1]
}

// Translate rewrites a sandbox path to the real path under the governing
// mount's Src. For SQLite mounts the "real path" is the path relative to
// the mount, which internal/store interprets against its own fs_dentry
// tree rather than the host filesystem. A Fifo mount always resolves to
// its single backing pipe at Src, regardless of which path under Dst was
// opened.
func (t *Table) Translate(path string) string {
	m := t.Resolve(path)
	if m.Type == Fifo {
		return m.Src
	}
	rel := strings.TrimPrefix(path, m.Dst)
	rel = strings.TrimPrefix(rel, "/")
	if m.Type == SQLite {
		return "/" + rel
	}
	if m.Src == "" {
		return "/" + rel
	}
	if rel == "" {
		return m.Src
	}
	return strings.TrimSuffix(m.Src, "/") + "/" + rel
}
