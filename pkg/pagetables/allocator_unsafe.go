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
	"unsafe"

	"github.com/vmmkit/vmmkit/pkg/hostarch"
)

// newAlignedPTEs returns a page-aligned table from the Go heap.
//
// The runtime does not promise page alignment for ordinary allocations, so
// allocate nearly twice the required size and use the aligned portion. The
// returned interior pointer keeps the whole allocation live.
func newAlignedPTEs() *PTEs {
	data := new([2*hostarch.PageSize - 1]byte)
	offset := (hostarch.PageSize - (uintptr(unsafe.Pointer(data)) & (hostarch.PageSize - 1))) & (hostarch.PageSize - 1)
	return (*PTEs)(unsafe.Pointer(&data[offset]))
}

// physicalFor is the identity translation used outside the hypervisor
// proper: the table's address is its physical address.
func physicalFor(ptes *PTEs) uintptr {
	return uintptr(unsafe.Pointer(ptes))
}

// ptesAt casts a pool address back into a table.
func ptesAt(physical uintptr) *PTEs {
	return (*PTEs)(unsafe.Pointer(physical))
}

// poolBase returns the address of a pool's first page.
func poolBase(pool []byte) uintptr {
	return uintptr(unsafe.Pointer(&pool[0]))
}
