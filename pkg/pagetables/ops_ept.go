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
	"fmt"

	"github.com/vmmkit/vmmkit/pkg/hostarch"
)

// Bits in EPT entries.
const (
	eptRead    Entry = 1 << 0
	eptWrite   Entry = 1 << 1
	eptExecute Entry = 1 << 2

	// eptMemoryType occupies bits 3 through 5 of leaf entries only.
	eptMemoryTypeMask Entry = 7 << 3
	eptMemoryTypeWB   Entry = 6 << 3
	eptIgnorePAT      Entry = 1 << 6

	eptAccessed Entry = 1 << 8
	eptDirty    Entry = 1 << 9
)

// EPTP configuration bits (SDM Vol. 3C, 24.6.11).
const (
	eptpMemoryTypeWB  = 6
	eptpWalkLength4   = 3 << 3
	eptpEnableADFlags = 1 << 6
)

// eptOps is the capability table for guest second-level translation.
type eptOps struct {
	largePages bool
}

// Present implements MemoryOps.Present.
//
// EPT has no present bit; an entry translates iff any access is allowed.
//
//go:nosplit
func (*eptOps) Present(e Entry) bool {
	return e&(eptRead|eptWrite|eptExecute) != 0
}

// LargePagesEnabled implements MemoryOps.LargePagesEnabled.
//
//go:nosplit
func (e *eptOps) LargePagesEnabled() bool {
	return e.largePages
}

// DefaultRights implements MemoryOps.DefaultRights.
//
// Table references must allow execution or the whole subtree becomes
// non-executable; memory type bits are reserved in non-leaf entries.
//
//go:nosplit
func (*eptOps) DefaultRights() Entry {
	return eptRead | eptWrite | eptExecute
}

// TweakExecute implements MemoryOps.TweakExecute.
//
// Execute-only translations require a dedicated VMX capability that is not
// assumed here, so such leaves are widened to readable-executable.
//
//go:nosplit
func (*eptOps) TweakExecute(bits Entry) Entry {
	if bits&eptExecute != 0 && bits&eptRead == 0 {
		bits |= eptRead
	}
	return bits
}

// RecoverExecute implements MemoryOps.RecoverExecute.
//
// EPT leaves use one layout at every level; nothing to undo.
//
//go:nosplit
func (*eptOps) RecoverExecute(bits Entry) Entry {
	return bits
}

// RightsFor implements MemoryOps.RightsFor.
func (*eptOps) RightsFor(at hostarch.AccessType) Entry {
	if !at.Any() {
		return 0
	}
	bits := eptMemoryTypeWB | eptIgnorePAT
	if at.Read {
		bits |= eptRead
	}
	if at.Write {
		bits |= eptWrite
	}
	if at.Execute {
		bits |= eptExecute
	}
	return bits
}

// AccessOf implements MemoryOps.AccessOf.
func (*eptOps) AccessOf(bits Entry) hostarch.AccessType {
	return hostarch.AccessType{
		Read:    bits&eptRead != 0,
		Write:   bits&eptWrite != 0,
		Execute: bits&eptExecute != 0,
	}
}

// CheckRights implements MemoryOps.CheckRights.
func (*eptOps) CheckRights(bits Entry) error {
	const allowed = eptRead | eptWrite | eptExecute | eptMemoryTypeMask |
		eptIgnorePAT | eptAccessed | eptDirty
	if extra := bits &^ allowed; extra != 0 {
		return fmt.Errorf("invalid EPT rights bits %#x", uint64(extra))
	}
	if bits&(eptRead|eptWrite|eptExecute) == 0 {
		return fmt.Errorf("EPT rights %#x allow no access", uint64(bits))
	}
	if bits&eptWrite != 0 && bits&eptRead == 0 {
		return fmt.Errorf("EPT rights %#x are write-only", uint64(bits))
	}
	return nil
}

// String implements MemoryOps.String.
func (*eptOps) String() string {
	return "ept"
}

// EPTP returns the EPT pointer for these tables: write-back paging
// structures, 4-level walk, accessed/dirty flags enabled.
func (p *PageTables) EPTP() uint64 {
	return uint64(p.rootPhysical) | eptpMemoryTypeWB | eptpWalkLength4 | eptpEnableADFlags
}
