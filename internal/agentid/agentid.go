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

// Package agentid resolves an agent identifier to the database path that
// backs its persistent filesystem, adapted from original_source's
// sdk/rust/src/lib.rs (AgentFSOptions, validate_agent_id).
package agentid

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// MemoryDB is the path sentinel for an ephemeral, in-process-only agent
// filesystem (no id given).
const MemoryDB = ":memory:"

const dataDir = ".agentfs"

func isValidChar(r rune) bool {
	return r >= 'a' && r <= 'z' ||
		r >= 'A' && r <= 'Z' ||
		r >= '0' && r <= '9' ||
		r == '-' || r == '_'
}

// Valid reports whether id contains only alphanumerics, hyphens, and
// underscores — the constraint original_source enforces to keep a
// caller-supplied id from escaping the .agentfs directory via path
// traversal.
func Valid(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if !isValidChar(r) {
			return false
		}
	}
	return true
}

// New generates a fresh random agent id, used by the CLI's init
// subcommand, which always generates a new one.
func New() string {
	return uuid.NewString()
}

// Resolve maps an id to the SQLite database path backing its persistent
// filesystem. An empty id resolves to MemoryDB (an ephemeral,
// in-memory-only agent). Resolve creates dataDir if it doesn't exist yet.
func Resolve(id string) (string, error) {
	if id == "" {
		return MemoryDB, nil
	}
	if !Valid(id) {
		return "", fmt.Errorf("agentid: invalid agent id %q: must contain only letters, digits, hyphens, and underscores", id)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("agentid: create %s: %w", dataDir, err)
	}
	return filepath.Join(dataDir, id+".db"), nil
}
