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

//go:build !(linux && amd64)

// The ptrace-driven "run" command decodes the x86-64 Linux syscall ABI
// directly, the same platform restriction
// original_source/cli/src/cmd/mount_stub.rs documents for its own
// non-Linux fallback (it bails rather than silently doing nothing).
package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"
)

type runCmd struct{}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run a command under ptrace (linux/amd64 only)" }
func (*runCmd) Usage() string    { return "run -- <command> [args...]\n" }
func (*runCmd) SetFlags(*flag.FlagSet) {}

func (*runCmd) Execute(context.Context, *flag.FlagSet, ...any) subcommands.ExitStatus {
	log.Error("run is only supported on linux/amd64")
	return subcommands.ExitFailure
}
