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

package pagetables

import (
	"github.com/vmmkit/vmmkit/pkg/hostarch"
)

// MemoryOps describes one entry bit layout to the engine. Exactly two
// implementations exist, one for the hypervisor's own paging and one for
// EPT; both are injected into every engine call so that none of the range
// algorithms carries caller-specific branches.
//
// Implementations are stateless and safe for concurrent use.
type MemoryOps interface {
	// Present returns true iff the entry takes part in translation.
	Present(e Entry) bool

	// LargePagesEnabled returns true iff 1GiB and 2MiB leaves may be
	// installed.
	LargePagesEnabled() bool

	// DefaultRights returns the bits applied to entries that reference a
	// next-level table.
	DefaultRights() Entry

	// TweakExecute adjusts leaf bits when a large leaf is installed.
	TweakExecute(bits Entry) Entry

	// RecoverExecute reverses TweakExecute when a large leaf is split
	// down to base pages.
	RecoverExecute(bits Entry) Entry

	// RightsFor converts a generic access type into layout rights bits.
	RightsFor(at hostarch.AccessType) Entry

	// AccessOf converts layout rights bits back into an access type.
	AccessOf(bits Entry) hostarch.AccessType

	// CheckRights reports whether the given rights mask is valid for this
	// layout. The engine never calls this; it exists for callers to
	// enforce their own preconditions before mutating a tree.
	CheckRights(bits Entry) error

	// String names the layout.
	String() string
}

// The two capability tables. Both live for the process lifetime and are
// never mutated; the 4K variants exist for hardware without large-page
// support and for tests that want maximal fragmentation.
var (
	HostOps   MemoryOps = &hostOps{largePages: true}
	EPTOps    MemoryOps = &eptOps{largePages: true}
	HostOps4K MemoryOps = &hostOps{}
	EPTOps4K  MemoryOps = &eptOps{}
)
