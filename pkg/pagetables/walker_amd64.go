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
)

// visitor is the per-operation behavior threaded through a walk. The five
// range operations are all visitors over the same traversal; the traversal
// itself carries no operation- or layout-specific branches.
type visitor interface {
	// visit is called on every present leaf or large entry in the range
	// and, if requiresAlloc is true, on every candidate entry with align
	// describing the granularity (pteSize-1, pmdSize-1 or pudSize-1).
	// start is aligned to align+1. Returning false aborts the walk.
	visit(start uintptr, pte *Entry, align uintptr) bool

	// visitAbsent is called instead of visit when an entry at any level
	// is absent and requiresAlloc is false. Returning false aborts the
	// walk.
	visitAbsent(start uintptr, align uintptr) bool

	// requiresAlloc indicates that the walk must allocate missing
	// intermediate tables and visit every entry slot in the range.
	requiresAlloc() bool

	// requiresSplit indicates that large entries partially covered by the
	// range must be split before descending.
	requiresSplit() bool
}

// walker walks page tables.
type walker struct {
	// pageTables are the tables to walk.
	pageTables *PageTables

	// visitor is the visitor to call.
	visitor visitor
}

// present tests the entry through the caller's capability table.
//
//go:nosplit
func (w *walker) present(pte *Entry) bool {
	return w.pageTables.ops.Present(pte.load())
}

// iterateRange iterates over all appropriate levels of page tables for the
// given range.
//
// If requiresAlloc is true, then visit is called on all entries in the
// range, with missing tables allocated along the way. The exception is
// large pages: if a large entry cannot be installed, the walk continues to
// individual entries.
//
// The walk installs and visits entries in ascending address order.
//
// Precondition: start must be page-aligned.
//
// Precondition: start must be less than end.
//
// Precondition: If requiresAlloc is true, then the range must not span
// non-canonical addresses, or a panic will result.
func (w *walker) iterateRange(start, end uintptr) {
	if start%pteSize != 0 {
		panic(fmt.Sprintf("unaligned start: %#x", start))
	}
	if end < start {
		panic(fmt.Sprintf("start > end (%#x > %#x)", start, end))
	}

	// Deal with cases where the range traverses the non-canonical gap.
	// These are all disallowed when allocating, since every entry in the
	// range must then be visited.
	switch {
	case start < lowerTop && end <= lowerTop:
		// Fast path: lower half only.
	case start >= upperBottom:
		// Fast path: upper half only.
	case start < lowerTop && end > lowerTop && end < upperBottom:
		if w.visitor.requiresAlloc() {
			panic(fmt.Sprintf("alloc [%x, %x) spans non-canonical range", start, end))
		}
		end = lowerTop
	case start < lowerTop && end >= upperBottom:
		if w.visitor.requiresAlloc() {
			panic(fmt.Sprintf("alloc [%x, %x) spans non-canonical range", start, end))
		}
		if !w.iterateRangeCanonical(start, lowerTop) {
			return
		}
		start = upperBottom
	case start >= lowerTop && start < upperBottom:
		if w.visitor.requiresAlloc() {
			panic(fmt.Sprintf("alloc [%x, %x) spans non-canonical range", start, end))
		}
		if end < upperBottom {
			return
		}
		start = upperBottom
	}
	if start < end {
		w.iterateRangeCanonical(start, end)
	}
}

// iterateRangeCanonical walks a range fully contained in one canonical
// half. Returns false iff the visitor aborted the walk.
func (w *walker) iterateRangeCanonical(start, end uintptr) bool {
	for pgdIndex := uint16((start & pgdMask) >> pgdShift); start < end && pgdIndex < entriesPerPage; pgdIndex++ {
		var pudEntries *PTEs
		pgdEntry := &w.pageTables.root[pgdIndex]
		if !w.present(pgdEntry) {
			if !w.visitor.requiresAlloc() {
				// Skip over this entry.
				if !w.visitor.visitAbsent(start, pgdSize-1) {
					return false
				}
				start = next(start, pgdSize)
				continue
			}

			// Allocate a new pgd.
			pudEntries = w.pageTables.setPageTable(pgdEntry)
		} else {
			pudEntries = w.pageTables.Allocator.LookupPTEs(pgdEntry.Address())
		}

		if !w.walkPUDs(pudEntries, start, addrEnd(start, end, pgdSize)) {
			return false
		}
		start = next(start, pgdSize)
	}
	return true
}

// walkPUDs iterates over the PUD (1GiB) entries in the given range.
//
// This level and the PMD level below maximize the use of large pages
// whenever possible; whether a large page was installed is clear through
// the align value provided to the visitor.
func (w *walker) walkPUDs(pudEntries *PTEs, start, end uintptr) bool {
	ops := w.pageTables.ops
	for pudIndex := uint16((start & pudMask) >> pudShift); start < end && pudIndex < entriesPerPage; pudIndex++ {
		var pmdEntries *PTEs
		pudEntry := &pudEntries[pudIndex]
		if !w.present(pudEntry) {
			if !w.visitor.requiresAlloc() {
				// Skip over this entry.
				if !w.visitor.visitAbsent(start, pudSize-1) {
					return false
				}
				start = next(start, pudSize)
				continue
			}

			// This level has 1GiB large pages. Is the entire region at
			// least as large as a single PUD entry? If so, installing a
			// leaf here may satisfy it without a pmd.
			if ops.LargePagesEnabled() && start&(pudSize-1) == 0 && end-start >= pudSize {
				if !w.visitor.visit(start, pudEntry, pudSize-1) {
					return false
				}
				if w.present(pudEntry) {
					start = next(start, pudSize)
					continue
				}
				// The visitor declined; fall through to a pmd.
			}

			// Allocate a new pud.
			pmdEntries = w.pageTables.setPageTable(pudEntry)

		} else if pudEntry.Large() {
			// Does this page need to be split?
			if w.visitor.requiresSplit() && (start&(pudSize-1) != 0 || end < next(start, pudSize)) {
				pmdEntries = w.pageTables.splitLargePage(pudEntry, pudSize)
			} else {
				// A large page to be checked directly.
				if !w.visitor.visit(start&^(pudSize-1), pudEntry, pudSize-1) {
					return false
				}
				start = next(start, pudSize)
				continue
			}
		} else {
			pmdEntries = w.pageTables.Allocator.LookupPTEs(pudEntry.Address())
		}

		// Map the next level, since this is valid.
		if !w.walkPMDs(pmdEntries, start, addrEnd(start, end, pudSize)) {
			return false
		}
		start = next(start, pudSize)
	}
	return true
}

// walkPMDs iterates over the PMD (2MiB) entries in the given range.
func (w *walker) walkPMDs(pmdEntries *PTEs, start, end uintptr) bool {
	ops := w.pageTables.ops
	for pmdIndex := uint16((start & pmdMask) >> pmdShift); start < end && pmdIndex < entriesPerPage; pmdIndex++ {
		var pteEntries *PTEs
		pmdEntry := &pmdEntries[pmdIndex]
		if !w.present(pmdEntry) {
			if !w.visitor.requiresAlloc() {
				// Skip over this entry.
				if !w.visitor.visitAbsent(start, pmdSize-1) {
					return false
				}
				start = next(start, pmdSize)
				continue
			}

			// This level has 2MiB large pages. As above, installing a
			// leaf here may satisfy the region without a pte table.
			if ops.LargePagesEnabled() && start&(pmdSize-1) == 0 && end-start >= pmdSize {
				if !w.visitor.visit(start, pmdEntry, pmdSize-1) {
					return false
				}
				if w.present(pmdEntry) {
					start = next(start, pmdSize)
					continue
				}
				// The visitor declined; fall through to a pte table.
			}

			// Allocate a new pmd.
			pteEntries = w.pageTables.setPageTable(pmdEntry)

		} else if pmdEntry.Large() {
			// Does this page need to be split?
			if w.visitor.requiresSplit() && (start&(pmdSize-1) != 0 || end < next(start, pmdSize)) {
				pteEntries = w.pageTables.splitLargePage(pmdEntry, pmdSize)
			} else {
				// A large page to be checked directly.
				if !w.visitor.visit(start&^(pmdSize-1), pmdEntry, pmdSize-1) {
					return false
				}
				start = next(start, pmdSize)
				continue
			}
		} else {
			pteEntries = w.pageTables.Allocator.LookupPTEs(pmdEntry.Address())
		}

		// Map the next level, since this is valid.
		if !w.walkPTEs(pteEntries, start, addrEnd(start, end, pmdSize)) {
			return false
		}
		start = next(start, pmdSize)
	}
	return true
}

// walkPTEs iterates over the leaf entries in the given range.
func (w *walker) walkPTEs(pteEntries *PTEs, start, end uintptr) bool {
	for pteIndex := uint16((start & pteMask) >> pteShift); start < end && pteIndex < entriesPerPage; pteIndex++ {
		pteEntry := &pteEntries[pteIndex]
		if !w.present(pteEntry) && !w.visitor.requiresAlloc() {
			if !w.visitor.visitAbsent(start, pteSize-1) {
				return false
			}
			start += pteSize
			continue
		}

		// At this point, we are guaranteed that start%pteSize == 0.
		if !w.visitor.visit(start, pteEntry, pteSize-1) {
			return false
		}
		start += pteSize
	}
	return true
}

// splitLargePage converts one large leaf into a fully populated next-level
// table of equivalent smaller mappings: contiguous physical addresses, the
// original protection bits. When the children are base pages the bits pass
// through RecoverExecute, undoing the per-level encoding applied when the
// leaf was installed. The union of the new table's mappings is identical to
// the prior single mapping.
func (p *PageTables) splitLargePage(pte *Entry, size uintptr) *PTEs {
	childSize := size >> 9 // 1GiB -> 2MiB, 2MiB -> 4KiB.
	physical := pte.Address()
	bits := pte.Bits()
	if childSize == pteSize {
		bits = p.ops.RecoverExecute(bits &^ largeBit)
	}

	ptes := p.Allocator.NewPTEs()
	for index := uint16(0); index < entriesPerPage; index++ {
		ptes[index].Set(physical+childSize*uintptr(index), bits)
	}

	// Reset to point to the new page.
	pte.Set(p.Allocator.PhysicalFor(ptes), p.ops.DefaultRights())
	return ptes
}
