/*
 * Copyright 2023 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package interproc

import (
    `sort`
    `sync`

    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/ir`
)

// Registry holds the per-method summaries of one interprocedural
// analysis. Summaries are lattice elements; a commit only ever moves a
// method's entry up, so readers between rounds observe a value that is
// at worst less precise than the final one.
type Registry struct {
    lock sync.RWMutex
    vals map[*ir.MethodRef]fixpoint.Domain
}

func NewRegistry() *Registry {
    return &Registry {
        vals: make(map[*ir.MethodRef]fixpoint.Domain),
    }
}

// Get is the current summary of m, nil when none was committed yet.
func (self *Registry) Get(m *ir.MethodRef) fixpoint.Domain {
    self.lock.RLock()
    defer self.lock.RUnlock()
    return self.vals[m]
}

// Commit joins s into m's summary and reports whether the entry moved.
func (self *Registry) Commit(m *ir.MethodRef, s fixpoint.Domain) bool {
    return self.update(m, s, false)
}

func (self *Registry) update(m *ir.MethodRef, s fixpoint.Domain, widen bool) bool {
    self.lock.Lock()
    defer self.lock.Unlock()

    /* first sighting establishes the entry */
    old, ok := self.vals[m]
    if !ok {
        self.vals[m] = s
        return true
    }

    var nv fixpoint.Domain
    if widen {
        nv = old.Widen(s)
    } else {
        nv = old.Join(s)
    }

    /* the join is an upper bound, unchanged means equal */
    if nv.Leq(old) {
        return false
    }
    self.vals[m] = nv
    return true
}

func (self *Registry) Len() int {
    self.lock.RLock()
    defer self.lock.RUnlock()
    return len(self.vals)
}

// Methods lists every method with a summary, ordered by deobfuscated
// name then raw descriptor so consumers iterate reproducibly.
func (self *Registry) Methods() []*ir.MethodRef {
    self.lock.RLock()
    ret := make([]*ir.MethodRef, 0, len(self.vals))
    for m := range self.vals {
        ret = append(ret, m)
    }
    self.lock.RUnlock()

    sort.Slice(ret, func(i int, j int) bool {
        return ret[i].OrderKey() < ret[j].OrderKey()
    })
    return ret
}

// ContextMap carries the calling contexts that flowed into each method
// so far. The plain map keeps one joined context per callee; the
// callsite partitioned map additionally keeps the per-invoke breakdown.
type ContextMap struct {
    lock   sync.Mutex
    split  bool
    merged map[*ir.MethodRef]fixpoint.Domain
    sites  map[*ir.MethodRef]map[*ir.Instruction]fixpoint.Domain
}

func NewContextMap() *ContextMap {
    return &ContextMap {
        merged: make(map[*ir.MethodRef]fixpoint.Domain),
    }
}

func NewCallsiteContextMap() *ContextMap {
    return &ContextMap {
        split  : true,
        merged : make(map[*ir.MethodRef]fixpoint.Domain),
        sites  : make(map[*ir.MethodRef]map[*ir.Instruction]fixpoint.Domain),
    }
}

// Partitioned reports whether per-callsite contexts are retained.
func (self *ContextMap) Partitioned() bool {
    return self.split
}

// Update joins c into callee's context and reports whether anything
// moved. The site is recorded only by the callsite partitioned map.
func (self *ContextMap) Update(callee *ir.MethodRef, site *ir.Instruction, c fixpoint.Domain) bool {
    self.lock.Lock()
    defer self.lock.Unlock()

    nv, moved := joined(self.merged[callee], c)
    if moved {
        self.merged[callee] = nv
    }
    if !self.split || site == nil {
        return moved
    }

    at := self.sites[callee]
    if at == nil {
        at = make(map[*ir.Instruction]fixpoint.Domain)
        self.sites[callee] = at
    }
    if sv, ok := joined(at[site], c); ok {
        at[site] = sv
        moved = true
    }
    return moved
}

/* join one element into a slot, reporting movement */
func joined(old fixpoint.Domain, c fixpoint.Domain) (fixpoint.Domain, bool) {
    if old == nil {
        return c, true
    }
    nv := old.Join(c)
    if nv.Leq(old) {
        return old, false
    }
    return nv, true
}

// Of is the joined context of every recorded call into m, nil when the
// analysis never saw one.
func (self *ContextMap) Of(m *ir.MethodRef) fixpoint.Domain {
    self.lock.Lock()
    defer self.lock.Unlock()
    return self.merged[m]
}

// AtSite is the context contributed by one specific invoke, nil when
// unrecorded or when the map is not callsite partitioned.
func (self *ContextMap) AtSite(m *ir.MethodRef, site *ir.Instruction) fixpoint.Domain {
    self.lock.Lock()
    defer self.lock.Unlock()
    if at := self.sites[m]; at != nil {
        return at[site]
    }
    return nil
}

func (self *ContextMap) Len() int {
    self.lock.Lock()
    defer self.lock.Unlock()
    return len(self.merged)
}
