// Copyright 2025 The vmmkit Authors.
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

	"github.com/vmmkit/vmmkit/pkg/log"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	config string
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "validate a memory layout without building it"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check -config <layout.toml>: validates alignment, overlaps and rights masks of the layout and exits non-zero on failure.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.config, "config", "", "path to the layout file.")
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if c.config == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}

	layout, err := LoadLayout(c.config)
	if err != nil {
		log.Warningf("%v", err)
		return subcommands.ExitFailure
	}
	regions, err := layout.Parse()
	if err != nil {
		log.Warningf("layout %q: %v", c.config, err)
		return subcommands.ExitFailure
	}

	var total uintptr
	for _, region := range regions {
		total += region.Size
	}
	fmt.Printf("layout OK: %d regions, %s total\n", len(regions), sizeString(total))
	return subcommands.ExitSuccess
}
