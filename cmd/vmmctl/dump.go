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
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/vmmkit/vmmkit/pkg/log"
	"github.com/vmmkit/vmmkit/pkg/pagetables"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	config string
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "replay a memory layout and print the resulting translations"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump -config <layout.toml>: replays the layout through the page-table engine and prints every installed mapping.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.config, "config", "", "path to the layout file.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if d.config == "" {
		f.Usage()
		return subcommands.ExitUsageError
	}

	layout, err := LoadLayout(d.config)
	if err != nil {
		log.Warningf("%v", err)
		return subcommands.ExitFailure
	}
	pt, err := layout.Build()
	if err != nil {
		log.Warningf("%v", err)
		return subcommands.ExitFailure
	}
	ops := pt.Ops()
	log.Debugf("layout %q built with %s translation, root %#x", d.config, ops, pt.RootPhysical())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDR\tSIZE\tFRAME\tACCESS")
	var total uintptr
	pt.ForEach(func(addr uintptr, pte *pagetables.Entry, pageSize uintptr) {
		fmt.Fprintf(w, "%#x\t%s\t%#x\t%s\n", addr, sizeString(pageSize), pte.Address(), ops.AccessOf(pte.Bits()))
		total += pageSize
	})
	w.Flush()
	fmt.Printf("total: %s in %d regions\n", sizeString(total), len(layout.Regions))
	return subcommands.ExitSuccess
}

// sizeString renders page and region sizes in the unit they are naturally
// spoken of.
func sizeString(size uintptr) string {
	switch {
	case size >= 1<<30 && size&(1<<30-1) == 0:
		return fmt.Sprintf("%dG", size>>30)
	case size >= 1<<20 && size&(1<<20-1) == 0:
		return fmt.Sprintf("%dM", size>>20)
	case size >= 1<<10 && size&(1<<10-1) == 0:
		return fmt.Sprintf("%dK", size>>10)
	default:
		return fmt.Sprintf("%d", size)
	}
}
