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

// Address constraints.
//
// The lowerTop and upperBottom apply to four-level pagetables; supporting
// five-level tables would require additional refactoring.
const (
	lowerTop    = 0x00007fffffffffff
	upperBottom = 0xffff800000000000

	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	pteMask = 0x1ff << pteShift
	pmdMask = 0x1ff << pmdShift
	pudMask = 0x1ff << pudShift
	pgdMask = 0x1ff << pgdShift

	pteSize = 1 << pteShift
	pmdSize = 1 << pmdShift
	pudSize = 1 << pudShift
	pgdSize = 1 << pgdShift

	entriesPerPage = 512

	// lowMemoryLimit bounds the region where absent entries during a
	// modify sweep are expected (real-mode and MMIO holes) and skipped
	// without diagnostics.
	lowMemoryLimit = 0x100000
)

// PTEs is a single level of a page table: one page-aligned page of 512
// entries. Alignment is guaranteed by the Allocator.
type PTEs [entriesPerPage]Entry

// next returns the next address quantized by the given size.
//
//go:nosplit
func next(start, size uintptr) uintptr {
	start &= ^(size - 1)
	start += size
	return start
}

// addrEnd returns the end of the address range for the given size covering
// addr, or the end of the whole range if that comes earlier. size must be a
// power of two.
//
//go:nosplit
func addrEnd(addr, end, size uintptr) uintptr {
	boundary := (addr + size) &^ (size - 1)
	if boundary < addr || boundary > end {
		return end
	}
	return boundary
}
