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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff"
)

// Stats summarizes a persistent filesystem, matching the counters
// original_source's cli/src/cmd/sync.rs's handle_stats_command reports.
type Stats struct {
	Inodes int64
	Dentry int64
	Bytes  int64
}

// retry wraps fn in a short exponential backoff, since SQLite returns
// SQLITE_BUSY rather than blocking when another connection holds the
// write lock — the same transient condition original_source's sync
// commands retry around.
func retry(fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(fn, b)
}

// Stats reports inode/dentry counts and total stored bytes.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := retry(func() error {
		if err := s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM fs_inode`).Scan(&st.Inodes, &st.Bytes); err != nil {
			return err
		}
		return s.db.QueryRow(`SELECT COUNT(*) FROM fs_dentry`).Scan(&st.Dentry)
	})
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}

// Checkpoint forces SQLite's write-ahead log back into the main database
// file, the durability point original_source's handle_checkpoint_command
// exposes as an explicit operator action rather than leaving it to
// SQLite's own automatic checkpointing.
func (s *Store) Checkpoint() error {
	return retry(func() error {
		_, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
		return err
	})
}

// Push walks localDir on the host and writes every regular file it finds
// into the persistent filesystem at the matching relative path under
// dstPrefix, mirroring original_source's handle_push_command.
func (s *Store) Push(localDir, dstPrefix string) (int, error) {
	n := 0
	err := filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("store: push %s: %w", p, err)
		}
		dst := filepath.ToSlash(filepath.Join(dstPrefix, rel))
		if err := retry(func() error { return s.WriteFile(dst, data) }); err != nil {
			return fmt.Errorf("store: push %s: %w", dst, err)
		}
		n++
		return nil
	})
	return n, err
}

// Pull walks srcPrefix in the persistent filesystem and writes every
// regular file it finds to the matching relative path under localDir on
// the host, mirroring original_source's handle_pull_command.
func (s *Store) Pull(srcPrefix, localDir string) (int, error) {
	n := 0
	var walk func(path string) error
	walk = func(path string) error {
		entries, err := s.List(path)
		if err != nil {
			return fmt.Errorf("store: pull %s: %w", path, err)
		}
		for _, e := range entries {
			child := path + "/" + e.Name
			if e.IsDir {
				if err := walk(child); err != nil {
					return err
				}
				continue
			}
			data, err := s.ReadFile(child)
			if err != nil {
				return fmt.Errorf("store: pull %s: %w", child, err)
			}
			rel, err := filepath.Rel(srcPrefix, child)
			if err != nil {
				return err
			}
			dst := filepath.Join(localDir, rel)
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(dst, data, 0o644); err != nil {
				return fmt.Errorf("store: pull %s: %w", dst, err)
			}
			n++
		}
		return nil
	}
	if err := walk(srcPrefix); err != nil {
		return n, err
	}
	return n, nil
}
