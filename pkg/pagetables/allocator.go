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
	"sync"

	"golang.org/x/sys/unix"

	"github.com/vmmkit/vmmkit/pkg/hostarch"
)

// Allocator is used to allocate and map PTEs.
//
// The engine never frees tables; deletion redirects leaves and abandons
// now-empty intermediate tables to the allocator's pool. This keeps range
// deletion O(range) without reference counting.
//
// Note that allocators may be called concurrently.
type Allocator interface {
	// NewPTEs returns a new page-aligned set of PTEs with every slot
	// pre-populated with a sanitized entry.
	NewPTEs() *PTEs

	// PhysicalFor gives the physical address for a set of PTEs.
	PhysicalFor(ptes *PTEs) uintptr

	// LookupPTEs looks up PTEs by physical address.
	LookupPTEs(physical uintptr) *PTEs

	// SanitizedPhysical returns the physical address of the sanitized
	// page: a dedicated zero page that absent and deleted entries
	// reference, so a speculative walk through them cannot reach
	// attacker-chosen memory.
	SanitizedPhysical() uintptr
}

// sanitize points every slot at the sanitized page with no access bits.
func sanitize(ptes *PTEs, sanitizedPhysical uintptr) {
	s := Entry(sanitizedPhysical) & physMask
	for i := range ptes {
		ptes[i].store(s)
	}
}

// RuntimeAllocator allocates tables from the Go heap, with the runtime's
// virtual addresses standing in for physical ones. It backs tests and
// offline tools; on hardware the pool allocator below is used instead.
type RuntimeAllocator struct {
	// sanitized is the sanitized page.
	sanitized *PTEs

	// tables indexes every allocation by physical address for LookupPTEs.
	tables map[uintptr]*PTEs
}

// NewRuntimeAllocator returns an initialized runtime allocator.
func NewRuntimeAllocator() *RuntimeAllocator {
	a := &RuntimeAllocator{
		tables: make(map[uintptr]*PTEs),
	}
	a.sanitized = newAlignedPTEs()
	return a
}

// NewPTEs implements Allocator.NewPTEs.
func (a *RuntimeAllocator) NewPTEs() *PTEs {
	ptes := newAlignedPTEs()
	sanitize(ptes, a.SanitizedPhysical())
	a.tables[physicalFor(ptes)] = ptes
	return ptes
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *RuntimeAllocator) PhysicalFor(ptes *PTEs) uintptr {
	return physicalFor(ptes)
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *RuntimeAllocator) LookupPTEs(physical uintptr) *PTEs {
	ptes, ok := a.tables[physical]
	if !ok {
		panic(fmt.Sprintf("LookupPTEs: unknown table %#x", physical))
	}
	return ptes
}

// SanitizedPhysical implements Allocator.SanitizedPhysical.
func (a *RuntimeAllocator) SanitizedPhysical() uintptr {
	return physicalFor(a.sanitized)
}

// PoolAllocator carves tables out of a single anonymous mapping, so that
// every table is page-aligned by construction and table "physical"
// addresses are stable for the mapping's lifetime. The first page of the
// pool is the sanitized page.
type PoolAllocator struct {
	mu sync.Mutex

	// pool is the backing mapping.
	pool []byte

	// base is the address of the first page.
	base uintptr

	// used counts allocated pages, including the sanitized page.
	used int
}

// NewPoolAllocator returns a pool allocator with capacity for the given
// number of tables (plus the sanitized page).
func NewPoolAllocator(tables int) (*PoolAllocator, error) {
	pool, err := unix.Mmap(-1, 0, (tables+1)*hostarch.PageSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANONYMOUS|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("allocating page table pool: %w", err)
	}
	a := &PoolAllocator{
		pool: pool,
		base: poolBase(pool),
		used: 1, // The sanitized page.
	}
	return a, nil
}

// Close unmaps the pool. No table handed out by this allocator may be used
// afterwards.
func (a *PoolAllocator) Close() error {
	return unix.Munmap(a.pool)
}

// NewPTEs implements Allocator.NewPTEs.
func (a *PoolAllocator) NewPTEs() *PTEs {
	a.mu.Lock()
	if a.used*hostarch.PageSize >= len(a.pool) {
		a.mu.Unlock()
		panic("page table pool exhausted")
	}
	physical := a.base + uintptr(a.used)*hostarch.PageSize
	a.used++
	a.mu.Unlock()

	ptes := ptesAt(physical)
	sanitize(ptes, a.base)
	return ptes
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *PoolAllocator) PhysicalFor(ptes *PTEs) uintptr {
	physical := physicalFor(ptes)
	a.check(physical)
	return physical
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *PoolAllocator) LookupPTEs(physical uintptr) *PTEs {
	a.check(physical)
	return ptesAt(physical)
}

// SanitizedPhysical implements Allocator.SanitizedPhysical.
func (a *PoolAllocator) SanitizedPhysical() uintptr {
	return a.base
}

func (a *PoolAllocator) check(physical uintptr) {
	if physical < a.base || physical >= a.base+uintptr(len(a.pool)) || physical&(hostarch.PageSize-1) != 0 {
		panic(fmt.Sprintf("physical address %#x is not a pool table", physical))
	}
}
