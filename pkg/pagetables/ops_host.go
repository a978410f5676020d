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

// Bits in ordinary (host) page table entries.
const (
	hostPresent      Entry = 1 << 0
	hostWritable     Entry = 1 << 1
	hostUser         Entry = 1 << 2
	hostWriteThrough Entry = 1 << 3
	hostCacheDisable Entry = 1 << 4
	hostAccessed     Entry = 1 << 5
	hostDirty        Entry = 1 << 6

	// hostPAT is the PAT attribute in 4KiB entries. Bit 7 is the PS flag
	// in PDEs and PDPTEs, where PAT moves to bit 12 inside the address
	// field; PAT on large leaves is therefore not supported.
	hostPAT    Entry = 1 << 7
	hostGlobal Entry = 1 << 8

	hostExecuteDisable Entry = 1 << 63
)

// hostOps is the capability table for the hypervisor's own paging.
type hostOps struct {
	largePages bool
}

// Present implements MemoryOps.Present.
//
//go:nosplit
func (*hostOps) Present(e Entry) bool {
	return e&hostPresent != 0
}

// LargePagesEnabled implements MemoryOps.LargePagesEnabled.
//
//go:nosplit
func (h *hostOps) LargePagesEnabled() bool {
	return h.largePages
}

// DefaultRights implements MemoryOps.DefaultRights.
//
// Table references are maximally permissive; restrictions live in the
// leaves. The execute-disable bit in particular must stay clear here or the
// whole subtree becomes non-executable.
//
//go:nosplit
func (*hostOps) DefaultRights() Entry {
	return hostPresent | hostWritable | hostAccessed
}

// TweakExecute implements MemoryOps.TweakExecute.
//
// The execute-disable bit keeps its position at every level, so nothing
// about execution changes on collapse. Large hypervisor leaves are pinned
// global: they never change for the process lifetime and survive CR3
// loads.
//
//go:nosplit
func (*hostOps) TweakExecute(bits Entry) Entry {
	return bits | hostGlobal
}

// RecoverExecute implements MemoryOps.RecoverExecute.
//
// Base pages produced by a split stay global; the translation they carry
// is unchanged.
//
//go:nosplit
func (*hostOps) RecoverExecute(bits Entry) Entry {
	return bits
}

// RightsFor implements MemoryOps.RightsFor.
//
// The hypervisor has no user mode; all of its own mappings are supervisor.
func (*hostOps) RightsFor(at hostarch.AccessType) Entry {
	if !at.Any() {
		return 0
	}
	bits := hostPresent | hostAccessed
	if at.Write {
		bits |= hostWritable | hostDirty
	}
	if !at.Execute {
		bits |= hostExecuteDisable
	}
	return bits
}

// AccessOf implements MemoryOps.AccessOf.
func (h *hostOps) AccessOf(bits Entry) hostarch.AccessType {
	if !h.Present(bits) {
		return hostarch.NoAccess
	}
	return hostarch.AccessType{
		Read:    true,
		Write:   bits&hostWritable != 0,
		Execute: bits&hostExecuteDisable == 0,
	}
}

// CheckRights implements MemoryOps.CheckRights.
func (*hostOps) CheckRights(bits Entry) error {
	const allowed = hostPresent | hostWritable | hostUser | hostWriteThrough |
		hostCacheDisable | hostAccessed | hostDirty | hostPAT | hostGlobal |
		hostExecuteDisable
	if extra := bits &^ allowed; extra != 0 {
		return fmt.Errorf("invalid host rights bits %#x", uint64(extra))
	}
	if bits&hostPresent == 0 {
		return fmt.Errorf("host rights %#x lack the present bit", uint64(bits))
	}
	return nil
}

// String implements MemoryOps.String.
func (*hostOps) String() string {
	return "host"
}
