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

// Package pagetables provides a generic implementation of 4-level radix
// page tables.
//
// One engine serves two translation kinds: the hypervisor's own paging and
// per-VM second-level translation (EPT). The caller-specific entry layout
// is injected through a MemoryOps capability table; the range algorithms
// themselves are layout-agnostic.
//
// Deleted mappings are redirected to a sanitized zero page rather than
// cleared, and freshly allocated tables come pre-filled with sanitized
// entries, so a speculative walk through an absent translation cannot
// reach attacker-chosen physical memory.
//
// All mutators on one tree must be externally serialized. Lookups and
// sweeps may run concurrently with each other, but not with a mutator on
// the same tree.
package pagetables

import (
	"fmt"

	"github.com/vmmkit/vmmkit/pkg/hostarch"
	"github.com/vmmkit/vmmkit/pkg/log"
)

// PageTables is a set of page tables.
type PageTables struct {
	// Allocator is used to allocate nodes.
	Allocator Allocator

	// ops is the capability table describing the entry layout.
	ops MemoryOps

	// root is the pagetable root.
	root *PTEs

	// rootPhysical is the cached physical address of the root.
	//
	// This is saved only to prevent constant translation.
	rootPhysical uintptr
}

// New returns new PageTables.
func New(a Allocator, ops MemoryOps) *PageTables {
	p := new(PageTables)
	p.Init(a, ops)
	return p
}

// Init initializes a set of PageTables.
func (p *PageTables) Init(a Allocator, ops MemoryOps) {
	p.Allocator = a
	p.ops = ops
	p.root = a.NewPTEs()
	p.rootPhysical = a.PhysicalFor(p.root)
}

// Ops returns the capability table these tables were built with.
func (p *PageTables) Ops() MemoryOps {
	return p.ops
}

// Release sanitizes the root for teardown. Intermediate tables are
// abandoned to the allocator's pool, not reclaimed.
func (p *PageTables) Release() {
	sanitize(p.root, p.Allocator.SanitizedPhysical())
}

// setPageTable links pte to a freshly allocated next-level table and
// returns the table.
func (p *PageTables) setPageTable(pte *Entry) *PTEs {
	ptes := p.Allocator.NewPTEs()
	pte.Set(p.Allocator.PhysicalFor(ptes), p.ops.DefaultRights())
	return ptes
}

// sparseRangeLog throttles diagnostics for sparse modify sweeps, which may
// otherwise repeat once per absent region over a multi-gigabyte range.
var sparseRangeLog = log.BasicRateLimitedLogger(5)

// mapVisitor installs a translation over a previously unmapped range.
type mapVisitor struct {
	target   uintptr // Input address of the range start.
	physical uintptr
	rights   Entry
	ops      MemoryOps
}

// visit installs the entry, or declines a large candidate whose physical
// address is not aligned to its granularity; the walk then continues at a
// smaller one.
func (v *mapVisitor) visit(start uintptr, pte *Entry, align uintptr) bool {
	p := v.physical + (start - v.target)
	if p&align != 0 {
		return true
	}
	bits := v.rights
	if align != pteSize-1 {
		bits = v.ops.TweakExecute(bits) | largeBit
	}
	pte.Set(p, bits)
	return true
}

func (*mapVisitor) visitAbsent(uintptr, uintptr) bool { return true }
func (*mapVisitor) requiresAlloc() bool               { return true }
func (*mapVisitor) requiresSplit() bool               { return false }

// Map installs a translation of [addr, addr+length) to the contiguous
// physical range starting at physical, with the given layout rights bits.
// Large leaves are installed wherever alignment and coverage permit.
//
// Length is rounded up to the base page size.
//
// Preconditions: the range is entirely unmapped; addr and physical are
// page-aligned; the caller holds the tree's mutator lock. Mapping over an
// existing translation is a caller bug and is not detected here.
func (p *PageTables) Map(addr hostarch.Addr, length uintptr, physical uintptr, rights Entry) {
	if !addr.IsPageAligned() || !hostarch.IsPageAligned(physical) {
		panic(fmt.Sprintf("pagetables.Map: unaligned addr %#x or physical %#x", addr, physical))
	}
	length = hostarch.PageRoundUp(length)
	if length == 0 {
		return
	}
	end, ok := addr.AddLength(uint64(length))
	if !ok {
		panic("pagetables.Map: overflow")
	}
	w := walker{
		pageTables: p,
		visitor: &mapVisitor{
			target:   uintptr(addr),
			physical: physical,
			rights:   rights,
			ops:      p.ops,
		},
	}
	w.iterateRange(uintptr(addr), uintptr(end))
}

// protectVisitor updates rights bits over a range, splitting partially
// covered large leaves and tolerating sparse gaps.
type protectVisitor struct {
	set   Entry
	clear Entry
}

func (v *protectVisitor) visit(start uintptr, pte *Entry, align uintptr) bool {
	old := pte.Bits()
	bits := (old &^ v.clear) | v.set
	if align != pteSize-1 {
		// The large marker is not a right.
		bits = (bits &^ largeBit) | (old & largeBit)
	}
	pte.Set(pte.Address(), bits)
	return true
}

func (v *protectVisitor) visitAbsent(start uintptr, align uintptr) bool {
	if start >= lowMemoryLimit {
		sparseRangeLog.Warningf("protect: no mapping for [%#x, %#x)", start, start+align+1)
	}
	return true
}

func (*protectVisitor) requiresAlloc() bool { return false }
func (*protectVisitor) requiresSplit() bool { return true }

// Protect clears the clear bits and then sets the set bits on every leaf
// in [addr, addr+length). Large leaves partially covered by the range are
// first split; siblings outside the range keep their original rights.
// Absent entries above the low-memory limit produce a rate-limited warning
// and are skipped, supporting sparse ranges with MMIO holes.
//
// The operation is idempotent.
//
// Preconditions: addr is page-aligned; the caller holds the tree's mutator
// lock.
func (p *PageTables) Protect(addr hostarch.Addr, length uintptr, set, clear Entry) {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("pagetables.Protect: unaligned addr %#x", addr))
	}
	length = hostarch.PageRoundUp(length)
	if length == 0 {
		return
	}
	w := walker{
		pageTables: p,
		visitor: &protectVisitor{
			set:   set,
			clear: clear,
		},
	}
	w.iterateRange(uintptr(addr), uintptr(addr)+length)
}

// unmapVisitor redirects deleted leaves to the sanitized page.
type unmapVisitor struct {
	sanitized uintptr
}

// visit overwrites the leaf with a sanitized reference. The entry is never
// simply zeroed; pointing absent translations at the dedicated zero page
// is an additional defense against L1TF-class speculative walks.
func (v *unmapVisitor) visit(start uintptr, pte *Entry, align uintptr) bool {
	pte.Set(v.sanitized, 0)
	return true
}

func (v *unmapVisitor) visitAbsent(start uintptr, align uintptr) bool {
	panic(fmt.Sprintf("pagetables.Unmap: [%#x, %#x) is not mapped", start, start+align+1))
}

func (*unmapVisitor) requiresAlloc() bool { return false }
func (*unmapVisitor) requiresSplit() bool { return true }

// Unmap removes the translation of [addr, addr+length). Large leaves
// partially covered by the range are first split. Every leaf in the range
// is redirected to the sanitized page; intermediate tables are not
// reclaimed.
//
// Preconditions: the range is entirely mapped (unmapping an absent entry
// panics); addr is page-aligned; the caller holds the tree's mutator lock.
func (p *PageTables) Unmap(addr hostarch.Addr, length uintptr) {
	if !addr.IsPageAligned() {
		panic(fmt.Sprintf("pagetables.Unmap: unaligned addr %#x", addr))
	}
	length = hostarch.PageRoundUp(length)
	if length == 0 {
		return
	}
	w := walker{
		pageTables: p,
		visitor: &unmapVisitor{
			sanitized: p.Allocator.SanitizedPhysical(),
		},
	}
	w.iterateRange(uintptr(addr), uintptr(addr)+length)
}

// lookupVisitor captures the terminating entry for one address.
type lookupVisitor struct {
	entry Entry
	align uintptr
	found bool
}

func (v *lookupVisitor) visit(start uintptr, pte *Entry, align uintptr) bool {
	v.entry = pte.load()
	v.align = align
	v.found = true
	return false
}

func (*lookupVisitor) visitAbsent(uintptr, uintptr) bool { return false }
func (*lookupVisitor) requiresAlloc() bool               { return false }
func (*lookupVisitor) requiresSplit() bool               { return false }

// Lookup returns the terminating entry for addr and the size of the page
// it governs. found is false if any level on the path is absent; a
// sanitized entry is absent from the caller's perspective.
//
// Lookup is read-only and may run concurrently with other lookups and
// sweeps, but not with a mutator on the same tree.
func (p *PageTables) Lookup(addr hostarch.Addr) (entry Entry, pageSize uintptr, found bool) {
	start := uintptr(addr.RoundDown())
	end := start + hostarch.PageSize
	if end < start {
		// The last page of the address space.
		end = ^uintptr(0)
	}
	v := lookupVisitor{}
	w := walker{pageTables: p, visitor: &v}
	w.iterateRange(start, end)
	return v.entry, v.align + 1, v.found
}

// forEachVisitor passes every present leaf to the callback.
type forEachVisitor struct {
	fn func(addr uintptr, pte *Entry, pageSize uintptr)
}

func (v *forEachVisitor) visit(start uintptr, pte *Entry, align uintptr) bool {
	v.fn(start, pte, align+1)
	return true
}

func (*forEachVisitor) visitAbsent(uintptr, uintptr) bool { return true }
func (*forEachVisitor) requiresAlloc() bool               { return false }
func (*forEachVisitor) requiresSplit() bool               { return false }

// ForEach invokes fn on every present leaf and large entry in the tree, in
// ascending address order. It is used for maintenance sweeps such as
// cache-line flushes over a whole translation tree.
//
// fn must not mutate the tree.
func (p *PageTables) ForEach(fn func(addr uintptr, pte *Entry, pageSize uintptr)) {
	w := walker{pageTables: p, visitor: &forEachVisitor{fn: fn}}
	w.iterateRange(0, ^uintptr(0))
}
