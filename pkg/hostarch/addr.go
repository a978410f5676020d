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

package hostarch

import (
	"fmt"
)

// Addr represents an address in an address space: a host virtual address
// for the hypervisor's own paging, or a guest physical address for EPT.
type Addr uintptr

// AddLength adds the given length to start and returns the result. ok is
// true iff adding the length did not overflow the range of Addr.
//
// Note: This function is usually used to get the end of an address range
// defined by its start address and length. Since these lengths are often
// user-controlled, the "end" calculation must handle overflow.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v && length <= uint64(^Addr(0))
	return
}

// RoundDown is equivalent to function PageRoundDown.
func (v Addr) RoundDown() Addr {
	return Addr(PageRoundDown(uintptr(v)))
}

// RoundUp is equivalent to function PageRoundUp.
//
// The result wraps if PageRoundUp would.
func (v Addr) RoundUp() Addr {
	return Addr(PageRoundUp(uintptr(v)))
}

// MustRoundUp is equivalent to function PageRoundUp, but panics if rounding
// up overflows.
func (v Addr) MustRoundUp() Addr {
	addr := v.RoundUp()
	if addr < v {
		panic(fmt.Sprintf("hostarch.Addr(%d).RoundUp() wraps", v))
	}
	return addr
}

// IsPageAligned is equivalent to function IsPageAligned.
func (v Addr) IsPageAligned() bool {
	return IsPageAligned(uintptr(v))
}
