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

// CR3 returns the CR3 value for these tables.
//
// PCIDs are not used; a CR3 load with this value flushes non-global
// translations.
//
//go:nosplit
func (p *PageTables) CR3() uint64 {
	return uint64(p.rootPhysical)
}

// RootPhysical returns the physical address of the root table. This is the
// value hardware consumes, via CR3 for host tables or the EPT pointer for
// guest tables.
//
//go:nosplit
func (p *PageTables) RootPhysical() uintptr {
	return p.rootPhysical
}
