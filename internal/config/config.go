// Copyright 2020 The gVisor Authors.
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

// Package config holds the sandbox profile: the set of mounts, the agent
// identifier, and the logging level a run is started with. It is loaded
// from an optional TOML profile file and then layered under command-line
// flag overrides, the same two-stage precedence runsc/config/flags.go
// uses for its Config struct (file/annotations first, flags last).
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/sekmet/agentfs/internal/mount"
)

// Profile is the full configuration for one sandbox run.
type Profile struct {
	AgentID string   `toml:"agent_id"`
	Mounts  []string `toml:"mounts"`
	Debug   bool     `toml:"debug"`
	LogFile string   `toml:"log_file"`
}

// Default returns the zero-value profile a run starts from before any
// file or flag overrides are applied.
func Default() Profile {
	return Profile{}
}

// LoadFile decodes a TOML profile file, in the format:
//
//	agent_id = "my-agent"
//	mounts = ["type=bind,src=/tmp,dst=/tmp"]
//	debug = false
func LoadFile(path string) (Profile, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return Profile{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return p, nil
}

// RegisterFlags registers the command-line flags that override a loaded
// Profile, mirroring runsc/config/flags.go's RegisterFlags: each flag's
// default is the already-loaded profile value, so an unset flag leaves
// the file value untouched.
func RegisterFlags(flagSet *flag.FlagSet, p *Profile) {
	flagSet.StringVar(&p.AgentID, "agent-id", p.AgentID, "agent identifier whose persistent filesystem this run attaches to; empty means ephemeral in-memory.")
	flagSet.BoolVar(&p.Debug, "debug", p.Debug, "enable debug logging.")
	flagSet.StringVar(&p.LogFile, "log", p.LogFile, "file path where log output is written; default is stderr.")
}

// MountTable parses the profile's mount specs, plus any additional specs
// supplied by the caller (e.g. a command's own repeatable -mount flag),
// into a single mount.Table.
func (p Profile) MountTable(extra ...string) (*mount.Table, error) {
	var parsed []mount.Mount
	for _, spec := range append(append([]string{}, p.Mounts...), extra...) {
		m, err := mount.Parse(spec)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, m)
	}
	return mount.NewTable(parsed), nil
}

// OpenLog opens the configured log destination, or stderr if none is
// set.
func (p Profile) OpenLog() (*os.File, error) {
	if p.LogFile == "" {
		return os.Stderr, nil
	}
	f, err := os.OpenFile(p.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("config: open log %s: %w", p.LogFile, err)
	}
	return f, nil
}
