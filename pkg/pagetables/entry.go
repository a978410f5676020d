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
	"sync/atomic"
)

// Entry is a raw 64-bit page table entry.
//
// The interpretation of the non-address bits is owned by the MemoryOps
// supplied by the caller; the engine itself only relies on the physical
// address field and the large-page marker, which occupy the same positions
// in both supported layouts.
type Entry uint64

const (
	// physMask covers the physical address field, bits 12 through 51.
	physMask Entry = 0x000ffffffffff000

	// largeBit terminates translation above the leaf level. It is the PS
	// flag in ordinary paging and bit 7 of EPT PDEs/PDPTEs; the positions
	// coincide.
	largeBit Entry = 1 << 7
)

// load atomically reads the entry.
//
//go:nosplit
func (e *Entry) load() Entry {
	return Entry(atomic.LoadUint64((*uint64)(e)))
}

// store atomically writes the entry.
//
//go:nosplit
func (e *Entry) store(v Entry) {
	atomic.StoreUint64((*uint64)(e), uint64(v))
}

// Address extracts the physical address: the next-level table for a
// non-terminal entry, the frame for a terminal one.
//
//go:nosplit
func (e *Entry) Address() uintptr {
	return uintptr(e.load() & physMask)
}

// Bits extracts everything but the address, including the large marker.
//
//go:nosplit
func (e *Entry) Bits() Entry {
	return e.load() &^ physMask
}

// Large returns true iff this entry terminates translation above the leaf
// level.
//
//go:nosplit
func (e *Entry) Large() bool {
	return e.load()&largeBit != 0
}

// Set atomically installs the given address and bits.
//
//go:nosplit
func (e *Entry) Set(physical uintptr, bits Entry) {
	e.store(Entry(physical)&physMask | bits&^physMask)
}
