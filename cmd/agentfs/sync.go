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

// This file adapts original_source/cli/src/cmd/sync.rs's four
// subcommands (pull, push, checkpoint, stats) one-for-one.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/sekmet/agentfs/internal/config"
	"github.com/sekmet/agentfs/internal/store"
)

type syncPullCmd struct{}

func (*syncPullCmd) Name() string     { return "pull" }
func (*syncPullCmd) Synopsis() string { return "copy files from the agent's persistent filesystem to the host" }
func (*syncPullCmd) Usage() string    { return "sync pull <src-prefix> <local-dir>\n" }
func (*syncPullCmd) SetFlags(*flag.FlagSet) {}

func (*syncPullCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	prof := args[0].(*config.Profile)
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	s, err := store.Open(dbPath(prof))
	if err != nil {
		log.WithError(err).Error("opening store")
		return subcommands.ExitFailure
	}
	defer s.Close()

	n, err := s.Pull(f.Arg(0), f.Arg(1))
	if err != nil {
		log.WithError(err).Error("pull")
		return subcommands.ExitFailure
	}
	fmt.Printf("pulled %d file(s)\n", n)
	return subcommands.ExitSuccess
}

type syncPushCmd struct{}

func (*syncPushCmd) Name() string     { return "push" }
func (*syncPushCmd) Synopsis() string { return "copy files from the host into the agent's persistent filesystem" }
func (*syncPushCmd) Usage() string    { return "sync push <local-dir> <dst-prefix>\n" }
func (*syncPushCmd) SetFlags(*flag.FlagSet) {}

func (*syncPushCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	prof := args[0].(*config.Profile)
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	s, err := store.Open(dbPath(prof))
	if err != nil {
		log.WithError(err).Error("opening store")
		return subcommands.ExitFailure
	}
	defer s.Close()

	n, err := s.Push(f.Arg(0), f.Arg(1))
	if err != nil {
		log.WithError(err).Error("push")
		return subcommands.ExitFailure
	}
	fmt.Printf("pushed %d file(s)\n", n)
	return subcommands.ExitSuccess
}

type syncCheckpointCmd struct{}

func (*syncCheckpointCmd) Name() string     { return "checkpoint" }
func (*syncCheckpointCmd) Synopsis() string { return "force the persistent filesystem's WAL back into the main database file" }
func (*syncCheckpointCmd) Usage() string    { return "sync checkpoint\n" }
func (*syncCheckpointCmd) SetFlags(*flag.FlagSet) {}

func (*syncCheckpointCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	prof := args[0].(*config.Profile)
	s, err := store.Open(dbPath(prof))
	if err != nil {
		log.WithError(err).Error("opening store")
		return subcommands.ExitFailure
	}
	defer s.Close()

	if err := s.Checkpoint(); err != nil {
		log.WithError(err).Error("checkpoint")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

type syncStatsCmd struct{}

func (*syncStatsCmd) Name() string     { return "stats" }
func (*syncStatsCmd) Synopsis() string { return "report inode/dentry/byte counts for the persistent filesystem" }
func (*syncStatsCmd) Usage() string    { return "sync stats\n" }
func (*syncStatsCmd) SetFlags(*flag.FlagSet) {}

func (*syncStatsCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	prof := args[0].(*config.Profile)
	s, err := store.Open(dbPath(prof))
	if err != nil {
		log.WithError(err).Error("opening store")
		return subcommands.ExitFailure
	}
	defer s.Close()

	st, err := s.Stats()
	if err != nil {
		log.WithError(err).Error("stats")
		return subcommands.ExitFailure
	}
	fmt.Printf("inodes=%d dentries=%d bytes=%d\n", st.Inodes, st.Dentry, st.Bytes)
	return subcommands.ExitSuccess
}
