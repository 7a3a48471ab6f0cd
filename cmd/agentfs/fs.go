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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/sekmet/agentfs/internal/config"
	"github.com/sekmet/agentfs/internal/store"
)

// fsLsCmd implements subcommands.Command for the "fs ls" command,
// adapted from original_source/cli/src/main.rs's ls_filesystem.
type fsLsCmd struct{}

func (*fsLsCmd) Name() string     { return "ls" }
func (*fsLsCmd) Synopsis() string { return "list a directory in the agent's persistent filesystem" }
func (*fsLsCmd) Usage() string    { return "fs ls [path] - list a directory, default /\n" }
func (*fsLsCmd) SetFlags(*flag.FlagSet) {}

func (*fsLsCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	prof := args[0].(*config.Profile)
	path := "/"
	if f.NArg() > 0 {
		path = f.Arg(0)
	}

	s, err := store.Open(dbPath(prof))
	if err != nil {
		log.WithError(err).Error("opening store")
		return subcommands.ExitFailure
	}
	defer s.Close()

	entries, err := s.List(path)
	if err != nil {
		log.WithError(err).Error("listing directory")
		return subcommands.ExitFailure
	}
	for _, e := range entries {
		kind := "-"
		if e.IsDir {
			kind = "d"
		}
		fmt.Printf("%s\t%d\t%s\n", kind, e.Ino, e.Name)
	}
	return subcommands.ExitSuccess
}

// fsCatCmd implements subcommands.Command for the "fs cat" command,
// adapted from original_source/cli/src/main.rs's cat_filesystem.
type fsCatCmd struct{}

func (*fsCatCmd) Name() string     { return "cat" }
func (*fsCatCmd) Synopsis() string { return "print a file in the agent's persistent filesystem" }
func (*fsCatCmd) Usage() string    { return "fs cat <path> - print a file\n" }
func (*fsCatCmd) SetFlags(*flag.FlagSet) {}

func (*fsCatCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	prof := args[0].(*config.Profile)
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	s, err := store.Open(dbPath(prof))
	if err != nil {
		log.WithError(err).Error("opening store")
		return subcommands.ExitFailure
	}
	defer s.Close()

	data, err := s.ReadFile(f.Arg(0))
	if err != nil {
		log.WithError(err).Error("reading file")
		return subcommands.ExitFailure
	}
	os.Stdout.Write(data)
	return subcommands.ExitSuccess
}
