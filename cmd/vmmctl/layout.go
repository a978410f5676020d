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
	"fmt"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"

	"github.com/vmmkit/vmmkit/pkg/hostarch"
	"github.com/vmmkit/vmmkit/pkg/pagetables"
)

// Layout declares a memory layout to replay through the engine.
type Layout struct {
	// Translation selects the capability table: "host" or "ept".
	Translation string `toml:"translation"`

	// LargePages enables 1GiB/2MiB leaves.
	LargePages bool `toml:"large_pages"`

	// Regions are the mappings, in any order.
	Regions []RegionConfig `toml:"region"`
}

// RegionConfig is one declared mapping. Addresses and sizes accept any
// base strconv understands; layouts usually use hex.
type RegionConfig struct {
	Virt  string `toml:"virt"`
	Phys  string `toml:"phys"`
	Size  string `toml:"size"`
	Read  bool   `toml:"read"`
	Write bool   `toml:"write"`
	Exec  bool   `toml:"exec"`
}

// Region is a parsed RegionConfig.
type Region struct {
	Virt hostarch.Addr
	Phys uintptr
	Size uintptr
	At   hostarch.AccessType
}

// LoadLayout parses the layout file.
func LoadLayout(path string) (*Layout, error) {
	var layout Layout
	if _, err := toml.DecodeFile(path, &layout); err != nil {
		return nil, fmt.Errorf("parsing layout %q: %w", path, err)
	}
	return &layout, nil
}

// Ops returns the capability table the layout selects.
func (l *Layout) Ops() (pagetables.MemoryOps, error) {
	switch l.Translation {
	case "", "host":
		if l.LargePages {
			return pagetables.HostOps, nil
		}
		return pagetables.HostOps4K, nil
	case "ept":
		if l.LargePages {
			return pagetables.EPTOps, nil
		}
		return pagetables.EPTOps4K, nil
	default:
		return nil, fmt.Errorf("unknown translation kind %q", l.Translation)
	}
}

func parseValue(field, s string) (uintptr, error) {
	if s == "" {
		return 0, fmt.Errorf("missing %s", field)
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", field, s, err)
	}
	return uintptr(v), nil
}

// Parse converts the declared region, checking alignment.
func (r *RegionConfig) Parse() (Region, error) {
	virt, err := parseValue("virt", r.Virt)
	if err != nil {
		return Region{}, err
	}
	phys, err := parseValue("phys", r.Phys)
	if err != nil {
		return Region{}, err
	}
	size, err := parseValue("size", r.Size)
	if err != nil {
		return Region{}, err
	}
	region := Region{
		Virt: hostarch.Addr(virt),
		Phys: phys,
		Size: size,
		At:   hostarch.AccessType{Read: r.Read, Write: r.Write, Execute: r.Exec},
	}
	if !region.Virt.IsPageAligned() || !hostarch.IsPageAligned(region.Phys) {
		return Region{}, fmt.Errorf("region %#x is not page-aligned", virt)
	}
	if size == 0 || !hostarch.IsPageAligned(region.Size) {
		return Region{}, fmt.Errorf("region %#x has invalid size %#x", virt, size)
	}
	return region, nil
}

// Parse validates the whole layout and returns its regions sorted by input
// address: alignment, overlap, and per-capability-table rights masks.
func (l *Layout) Parse() ([]Region, error) {
	ops, err := l.Ops()
	if err != nil {
		return nil, err
	}

	regions := make([]Region, 0, len(l.Regions))
	for i := range l.Regions {
		region, err := l.Regions[i].Parse()
		if err != nil {
			return nil, err
		}
		if !region.At.Any() {
			return nil, fmt.Errorf("region %#x allows no access", uintptr(region.Virt))
		}
		// The engine never validates rights masks; that is this
		// caller's job.
		if err := ops.CheckRights(ops.RightsFor(region.At)); err != nil {
			return nil, fmt.Errorf("region %#x: %w", uintptr(region.Virt), err)
		}
		regions = append(regions, region)
	}

	sort.Slice(regions, func(i, j int) bool {
		return regions[i].Virt < regions[j].Virt
	})
	for i := 1; i < len(regions); i++ {
		prev, cur := &regions[i-1], &regions[i]
		if uintptr(prev.Virt)+prev.Size > uintptr(cur.Virt) {
			return nil, fmt.Errorf("regions %#x and %#x overlap",
				uintptr(prev.Virt), uintptr(cur.Virt))
		}
	}
	return regions, nil
}

// Build replays the layout through a fresh root.
func (l *Layout) Build() (*pagetables.PageTables, error) {
	ops, err := l.Ops()
	if err != nil {
		return nil, err
	}
	regions, err := l.Parse()
	if err != nil {
		return nil, err
	}

	pt := pagetables.New(pagetables.NewRuntimeAllocator(), ops)
	for _, region := range regions {
		pt.Map(region.Virt, region.Size, region.Phys, ops.RightsFor(region.At))
	}
	return pt, nil
}
