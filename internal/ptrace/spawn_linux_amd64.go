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

package ptrace

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sekmet/agentfs/internal/syscalls"
	"github.com/sekmet/agentfs/pkg/vfdt"
)

// StartTraced starts name (with args) as a freshly-traced child and
// returns the root Thread monitoring it, along with the *exec.Cmd so the
// caller can reap it once the trace loop reports the process has
// exited.
//
// SysProcAttr.Ptrace is the standard library's request that the kernel
// perform PTRACE_TRACEME in the child before exec, the same idiom
// os/exec-based ptrace supervisors use; it plays the role
// subprocess_linux.go's createStub plays for the sentry platform,
// without that file's stub-binary/seccomp machinery, which spec.md
// treats as belonging to an external collaborator.
func StartTraced(name string, args []string, tbl *vfdt.Table, ic *syscalls.Interceptor) (*Thread, *exec.Cmd, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("ptrace: start %s: %w", name, err)
	}
	pid := cmd.Process.Pid

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return nil, nil, fmt.Errorf("ptrace: wait for initial exec stop of %d: %w", pid, err)
	}
	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_TRACESYSGOOD|unix.PTRACE_O_TRACECLONE|unix.PTRACE_O_TRACEFORK|unix.PTRACE_O_TRACEVFORK); err != nil {
		return nil, nil, fmt.Errorf("ptrace: set options on %d: %w", pid, err)
	}

	disp, err := NewSyscallDispatcher(pid, ic)
	if err != nil {
		return nil, nil, err
	}
	log.WithField("pid", pid).Debug("started traced command")
	return &Thread{pid: pid, tbl: tbl, ic: ic, disp: disp}, cmd, nil
}
