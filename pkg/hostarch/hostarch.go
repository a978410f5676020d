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

// Package hostarch contains host architecture address constants and
// conversions between addresses, page frames and access types.
package hostarch

// Page geometry for 4-level x86-64 paging.
const (
	// PageShift is the binary log of the base page size.
	PageShift = 12

	// PageSize is the base page size.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the PD-level (2MiB) page size.
	HugePageShift = 21

	// HugePageSize is the PD-level page size.
	HugePageSize = 1 << HugePageShift

	// SuperPageShift is the binary log of the PDPT-level (1GiB) page size.
	SuperPageShift = 30

	// SuperPageSize is the PDPT-level page size.
	SuperPageSize = 1 << SuperPageShift
)

// PageRoundDown returns the address rounded down to the nearest page
// boundary.
func PageRoundDown(x uintptr) uintptr {
	return x &^ (PageSize - 1)
}

// PageRoundUp returns the address rounded up to the nearest page boundary.
//
// The result wraps if x is within PageSize of the top of the address space.
func PageRoundUp(x uintptr) uintptr {
	return PageRoundDown(x + PageSize - 1)
}

// IsPageAligned returns true if x is a multiple of the base page size.
func IsPageAligned(x uintptr) bool {
	return x&(PageSize-1) == 0
}
