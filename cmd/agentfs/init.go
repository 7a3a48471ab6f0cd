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

	"github.com/google/subcommands"

	"github.com/sekmet/agentfs/internal/agentid"
	"github.com/sekmet/agentfs/internal/config"
)

// initCmd implements subcommands.Command for the "init" command.
type initCmd struct{}

// Name implements subcommands.Command.Name.
func (*initCmd) Name() string { return "init" }

// Synopsis implements subcommands.Command.Synopsis.
func (*initCmd) Synopsis() string { return "generate a fresh agent id and print its database path" }

// Usage implements subcommands.Command.Usage.
func (*initCmd) Usage() string { return "init - generate a fresh agent id\n" }

// SetFlags implements subcommands.Command.SetFlags.
func (*initCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*initCmd) Execute(_ context.Context, _ *flag.FlagSet, args ...any) subcommands.ExitStatus {
	_ = args[0].(*config.Profile)
	id := agentid.New()
	path, err := agentid.Resolve(id)
	if err != nil {
		log.WithError(err).Error("resolving new agent id")
		return subcommands.ExitFailure
	}
	fmt.Printf("%s\t%s\n", id, path)
	return subcommands.ExitSuccess
}
