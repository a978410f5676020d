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
	"testing"

	"github.com/vmmkit/vmmkit/pkg/hostarch"
)

func TestHostRightsRoundTrip(t *testing.T) {
	for _, at := range []hostarch.AccessType{
		hostarch.Read,
		hostarch.ReadWrite,
		hostarch.ReadExecute,
		hostarch.AnyAccess,
	} {
		got := HostOps.AccessOf(HostOps.RightsFor(at))
		want := at
		want.Read = true // Host paging cannot express write-only.
		if got != want {
			t.Errorf("AccessOf(RightsFor(%v)) = %v, want %v", at, got, want)
		}
	}
}

func TestEPTRightsRoundTrip(t *testing.T) {
	for _, at := range []hostarch.AccessType{
		hostarch.Read,
		hostarch.ReadWrite,
		hostarch.ReadExecute,
		hostarch.Execute,
		hostarch.AnyAccess,
	} {
		if got := EPTOps.AccessOf(EPTOps.RightsFor(at)); got != at {
			t.Errorf("AccessOf(RightsFor(%v)) = %v, want %v", at, got, at)
		}
	}
}

func TestHostLargeLeafGlobal(t *testing.T) {
	pt := hostTables()

	pt.Map(0x40000000, pmdSize, pmdSize*3, HostOps.RightsFor(hostarch.ReadWrite))

	// Large hypervisor leaves are pinned global on installation.
	if pte := leafEntry(pt, 0x40000000); pte.Bits()&hostGlobal == 0 {
		t.Fatalf("large leaf %#x is not global", uint64(pte.load()))
	}

	// A 4KiB mapping is not.
	pt.Map(0x400000, pteSize, pteSize*42, HostOps.RightsFor(hostarch.ReadWrite))
	if pte := leafEntry(pt, 0x400000); pte.Bits()&hostGlobal != 0 {
		t.Errorf("base leaf %#x is global", uint64(pte.load()))
	}

	// Splitting keeps the children global.
	pt.Protect(0x40000000, pteSize, 0, 0)
	if pte := leafEntry(pt, 0x40000000+pteSize); pte.Bits()&hostGlobal == 0 {
		t.Errorf("split leaf %#x lost the global bit", uint64(pte.load()))
	}
}

func TestEPTExecuteOnlyWidened(t *testing.T) {
	pt := New(NewRuntimeAllocator(), EPTOps)

	// An execute-only 2MiB leaf is widened to readable-executable.
	pt.Map(0x40000000, pmdSize, pmdSize*3, EPTOps.RightsFor(hostarch.Execute))

	entry, pageSize, found := pt.Lookup(0x40000000)
	if !found || pageSize != pmdSize {
		t.Fatalf("got (found=%t, pageSize=%#x), want a 2MiB page", found, pageSize)
	}
	if at := EPTOps.AccessOf(entry); !at.Read || !at.Execute {
		t.Errorf("got access %v, want r-x", at)
	}
}

func TestEPTMapAndDelete(t *testing.T) {
	pt := New(NewRuntimeAllocator(), EPTOps)
	rights := EPTOps.RightsFor(hostarch.AnyAccess)

	pt.Map(0, pudSize, 0, rights)
	pt.Unmap(0x200000, pmdSize)

	if _, _, found := pt.Lookup(0x200000); found {
		t.Errorf("Lookup found a deleted guest mapping")
	}
	if _, _, found := pt.Lookup(0x400000); !found {
		t.Errorf("Lookup lost a guest mapping outside the deleted range")
	}

	// Deleted guest frames reference the sanitized page.
	pte := leafEntry(pt, 0x200000)
	if got, want := pte.Address(), pt.Allocator.SanitizedPhysical(); got != want {
		t.Errorf("deleted entry references %#x, want sanitized page %#x", got, want)
	}
}

func TestCheckRights(t *testing.T) {
	for _, tc := range []struct {
		name string
		ops  MemoryOps
		bits Entry
		ok   bool
	}{
		{"host rw", HostOps, HostOps.RightsFor(hostarch.ReadWrite), true},
		{"host not present", HostOps, hostWritable, false},
		{"host stray bits", HostOps, hostPresent | 1<<52, false},
		{"ept rwx", EPTOps, EPTOps.RightsFor(hostarch.AnyAccess), true},
		{"ept no access", EPTOps, eptMemoryTypeWB, false},
		{"ept write-only", EPTOps, eptWrite, false},
		{"ept stray bits", EPTOps, eptRead | 1<<52, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ops.CheckRights(tc.bits)
			if (err == nil) != tc.ok {
				t.Errorf("CheckRights(%#x) = %v, want ok=%t", uint64(tc.bits), err, tc.ok)
			}
		})
	}
}

func TestCR3(t *testing.T) {
	pt := hostTables()
	if got, want := pt.CR3(), uint64(pt.RootPhysical()); got != want {
		t.Errorf("CR3() = %#x, want %#x", got, want)
	}
	if pt.CR3()&(hostarch.PageSize-1) != 0 {
		t.Errorf("CR3() = %#x is not page-aligned", pt.CR3())
	}
}

func TestEPTP(t *testing.T) {
	pt := New(NewRuntimeAllocator(), EPTOps)
	eptp := pt.EPTP()
	if eptp&^uint64(hostarch.PageSize-1) != uint64(pt.RootPhysical()) {
		t.Errorf("EPTP() = %#x does not carry the root %#x", eptp, pt.RootPhysical())
	}
	if eptp&0x7 != eptpMemoryTypeWB {
		t.Errorf("EPTP() = %#x does not select write-back structures", eptp)
	}
	if (eptp>>3)&0x7 != 3 {
		t.Errorf("EPTP() = %#x does not select a 4-level walk", eptp)
	}
}
