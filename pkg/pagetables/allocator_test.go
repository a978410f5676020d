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

func checkAllocator(t *testing.T, a Allocator) {
	t.Helper()

	if a.SanitizedPhysical()&(hostarch.PageSize-1) != 0 {
		t.Errorf("sanitized page %#x is not page-aligned", a.SanitizedPhysical())
	}

	ptes := a.NewPTEs()
	physical := a.PhysicalFor(ptes)
	if physical&(hostarch.PageSize-1) != 0 {
		t.Errorf("table %#x is not page-aligned", physical)
	}
	if got := a.LookupPTEs(physical); got != ptes {
		t.Errorf("LookupPTEs(%#x) = %p, want %p", physical, got, ptes)
	}

	// Fresh tables are pre-populated with sanitized entries: absent under
	// both layouts, referencing the sanitized page.
	for i := range ptes {
		pte := &ptes[i]
		if HostOps.Present(pte.load()) || EPTOps.Present(pte.load()) {
			t.Fatalf("fresh slot %d is present: %#x", i, uint64(pte.load()))
		}
		if pte.Address() != a.SanitizedPhysical() {
			t.Fatalf("fresh slot %d references %#x, want sanitized page %#x",
				i, pte.Address(), a.SanitizedPhysical())
		}
	}
}

func TestRuntimeAllocator(t *testing.T) {
	checkAllocator(t, NewRuntimeAllocator())
}

func TestPoolAllocator(t *testing.T) {
	a, err := NewPoolAllocator(8)
	if err != nil {
		t.Fatalf("NewPoolAllocator: %v", err)
	}
	defer a.Close()

	checkAllocator(t, a)

	// The sanitized page has zero content.
	zero := a.LookupPTEs(a.SanitizedPhysical())
	for i := range zero {
		if zero[i].load() != 0 {
			t.Fatalf("sanitized page slot %d is %#x, want 0", i, uint64(zero[i].load()))
		}
	}
}

func TestPoolAllocatorExhaustion(t *testing.T) {
	a, err := NewPoolAllocator(1)
	if err != nil {
		t.Fatalf("NewPoolAllocator: %v", err)
	}
	defer a.Close()

	a.NewPTEs()
	defer func() {
		if recover() == nil {
			t.Errorf("exhausted pool did not panic")
		}
	}()
	a.NewPTEs()
}

func TestPoolAllocatorBacksTables(t *testing.T) {
	a, err := NewPoolAllocator(16)
	if err != nil {
		t.Fatalf("NewPoolAllocator: %v", err)
	}
	defer a.Close()

	pt := New(a, HostOps)
	pt.Map(0x400000, 4*pteSize, pteSize*42, HostOps.RightsFor(hostarch.ReadWrite))

	entry, _, found := pt.Lookup(0x401000)
	if !found || entry.Address() != pteSize*43 {
		t.Errorf("got (found=%t, frame=%#x), want frame %#x", found, entry.Address(), uintptr(pteSize*43))
	}
}
