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

// Package store is the SQLite-backed persistent filesystem collaborator
// named in spec.md §1. It is the Virtual-entry backend consulted for
// paths routed through a "sqlite" mount (internal/mount): the VFDT holds
// an opaque vfdt.FileOps handle into this package, it never touches SQL
// itself.
//
// The schema is adapted from original_source/cli/src/main.rs's
// ls_filesystem query (fs_dentry joined with fs_inode).
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

var log = logrus.WithField("component", "store")

const schema = `
CREATE TABLE IF NOT EXISTS fs_inode (
	ino       INTEGER PRIMARY KEY,
	mode      INTEGER NOT NULL,
	size      INTEGER NOT NULL DEFAULT 0,
	data      BLOB,
	mtime     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS fs_dentry (
	parent_ino INTEGER NOT NULL,
	name       TEXT NOT NULL,
	ino        INTEGER NOT NULL,
	PRIMARY KEY (parent_ino, name)
);
`

const (
	rootIno   = 1
	sIFMT     = 0o170000
	sIFDIR    = 0o040000
	sIFREG    = 0o100000
)

// Store is one agent's persistent filesystem, backed by a single SQLite
// database file (or :memory: for an ephemeral agent).
type Store struct {
	db   *sql.DB
	lock *flock.Flock // nil for :memory: stores
	path string
}

// Open opens (creating if necessary) the persistent filesystem at path.
// For any path other than agentid.MemoryDB, Open takes an exclusive
// advisory lock on a sibling ".lock" file so two sandbox processes never
// share one agent's database concurrently — the agent-identifier
// collaborator's single-writer requirement from spec.md §1.
func Open(path string) (*Store, error) {
	var lock *flock.Flock
	if path != ":memory:" {
		lock = flock.New(path + ".lock")
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("store: lock %s: %w", path, err)
		}
		if !ok {
			return nil, fmt.Errorf("store: %s is already open by another process", path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		if lock != nil {
			lock.Unlock()
		}
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO fs_inode (ino, mode, size, mtime) VALUES (?, ?, 0, ?)`,
		rootIno, sIFDIR|0o755, time.Now().Unix(),
	); err != nil {
		db.Close()
		if lock != nil {
			lock.Unlock()
		}
		return nil, fmt.Errorf("store: seed root inode: %w", err)
	}

	log.WithField("path", path).Debug("opened persistent filesystem")
	return &Store{db: db, lock: lock, path: path}, nil
}

// Close releases the database handle and the single-writer lock, if any.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if uerr := s.lock.Unlock(); err == nil {
			err = uerr
		}
	}
	return err
}

// RootIno is the inode number of the filesystem root, fixed at
// creation time by Open's schema seed.
const RootIno = int64(rootIno)

// Dirent is one entry returned by List/ChildrenByIno.
type Dirent struct {
	Name  string
	Ino   int64
	IsDir bool
}

// Attrs describes one inode's metadata, independent of the path (if
// any) used to reach it — the shape a FUSE inode-table lookup needs,
// since FUSE addresses everything by inode number after the initial
// LookUpInode.
type Attrs struct {
	Ino   int64
	IsDir bool
	Mode  uint32
	Size  int64
	Mtime int64
}

// AttrsByIno returns ino's metadata.
func (s *Store) AttrsByIno(ino int64) (Attrs, error) {
	var mode, size, mtime int64
	if err := s.db.QueryRow(`SELECT mode, size, mtime FROM fs_inode WHERE ino = ?`, ino).Scan(&mode, &size, &mtime); err != nil {
		return Attrs{}, fmt.Errorf("store: stat inode %d: %w", ino, err)
	}
	return Attrs{Ino: ino, IsDir: mode&sIFMT == sIFDIR, Mode: uint32(mode), Size: size, Mtime: mtime}, nil
}

// ChildrenByIno returns the directory entries of the directory inode
// dirIno, the same join List uses but addressed by inode number rather
// than path — what a FUSE ReadDir needs once it already has an inode.
func (s *Store) ChildrenByIno(dirIno int64) ([]Dirent, error) {
	rows, err := s.db.Query(
		`SELECT d.name, d.ino, i.mode FROM fs_dentry d
		 JOIN fs_inode i ON d.ino = i.ino
		 WHERE d.parent_ino = ? ORDER BY d.name`, dirIno)
	if err != nil {
		return nil, fmt.Errorf("store: list inode %d: %w", dirIno, err)
	}
	defer rows.Close()

	var out []Dirent
	for rows.Next() {
		var d Dirent
		var mode int64
		if err := rows.Scan(&d.Name, &d.Ino, &mode); err != nil {
			return nil, err
		}
		d.IsDir = mode&sIFMT == sIFDIR
		out = append(out, d)
	}
	return out, rows.Err()
}

// LookupChild returns the inode number of name within the directory
// inode dirIno, and false if no such child exists — the lookup a FUSE
// LookUpInode performs one path component at a time.
func (s *Store) LookupChild(dirIno int64, name string) (int64, bool) {
	var ino int64
	if err := s.db.QueryRow(
		`SELECT ino FROM fs_dentry WHERE parent_ino = ? AND name = ?`, dirIno, name,
	).Scan(&ino); err != nil {
		return 0, false
	}
	return ino, true
}

// DataByIno returns the contents of the regular file at inode ino.
func (s *Store) DataByIno(ino int64) ([]byte, error) {
	var data []byte
	var mode int64
	if err := s.db.QueryRow(`SELECT mode, data FROM fs_inode WHERE ino = ?`, ino).Scan(&mode, &data); err != nil {
		return nil, fmt.Errorf("store: read inode %d: %w", ino, err)
	}
	if mode&sIFMT != sIFREG {
		return nil, fmt.Errorf("store: inode %d is not a regular file", ino)
	}
	return data, nil
}

// List returns the children of the directory inode named by path,
// following the parent_ino/name walk original_source's ls_filesystem
// performs one level at a time.
func (s *Store) List(path string) ([]Dirent, error) {
	ino, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return s.ChildrenByIno(ino)
}

// ReadFile returns the full contents of the regular file at path.
func (s *Store) ReadFile(path string) ([]byte, error) {
	ino, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return s.DataByIno(ino)
}

// WriteFile creates or overwrites the regular file at path, creating any
// missing intermediate directories the way a sync command writing into
// a fresh destination prefix expects.
func (s *Store) WriteFile(path string, data []byte) error {
	dir, name := splitPath(path)
	parentIno, err := s.mkdirAll(dir)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO fs_inode (mode, size, data, mtime) VALUES (?, ?, ?, ?)`,
		sIFREG|0o644, len(data), data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	ino, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO fs_dentry (parent_ino, name, ino) VALUES (?, ?, ?)`,
		parentIno, name, ino); err != nil {
		return fmt.Errorf("store: link %s: %w", path, err)
	}
	return tx.Commit()
}

// resolve walks path component by component from the root inode,
// mirroring the BFS original_source performs one directory at a time.
func (s *Store) resolve(path string) (int64, error) {
	if path == "" || path == "/" {
		return rootIno, nil
	}
	ino := int64(rootIno)
	for _, name := range splitComponents(path) {
		if err := s.db.QueryRow(
			`SELECT ino FROM fs_dentry WHERE parent_ino = ? AND name = ?`, ino, name,
		).Scan(&ino); err != nil {
			return 0, fmt.Errorf("store: %s: no such file or directory", path)
		}
	}
	return ino, nil
}

// mkdirAll resolves path, creating any missing directory components
// along the way, and returns the final component's inode.
func (s *Store) mkdirAll(path string) (int64, error) {
	ino := int64(rootIno)
	for _, name := range splitComponents(path) {
		var next int64
		err := s.db.QueryRow(
			`SELECT ino FROM fs_dentry WHERE parent_ino = ? AND name = ?`, ino, name,
		).Scan(&next)
		if err == nil {
			ino = next
			continue
		}
		res, err := s.db.Exec(
			`INSERT INTO fs_inode (mode, size, mtime) VALUES (?, 0, ?)`,
			sIFDIR|0o755, time.Now().Unix())
		if err != nil {
			return 0, fmt.Errorf("store: mkdir %s: %w", path, err)
		}
		next, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
		if _, err := s.db.Exec(
			`INSERT INTO fs_dentry (parent_ino, name, ino) VALUES (?, ?, ?)`,
			ino, name, next); err != nil {
			return 0, fmt.Errorf("store: mkdir %s: %w", path, err)
		}
		ino = next
	}
	return ino, nil
}
