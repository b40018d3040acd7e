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

package packer

import (
    `strings`

    `github.com/bytedance/dexter/internal/ir`
)

const _MaxIds = 65536

// Counter names the per-DEX ceiling a try-add would cross.
type Counter uint8

const (
    OverNone Counter = iota
    OverTypes
    OverFields
    OverMethods
    OverAlloc
)

func (self Counter) String() string {
    switch self {
        case OverTypes   : return "type refs"
        case OverFields  : return "field refs"
        case OverMethods : return "method refs"
        case OverAlloc   : return "linear alloc"
        default          : return "none"
    }
}

// Limits are the per-DEX ceilings. The max counts follow the 16-bit id
// pools of the wire format; reserved slots are subtracted up front so
// later tools can still synthesise references into a frozen DEX.
type Limits struct {
    MaxTypes        int
    MaxFields       int
    MaxMethods      int
    ReservedTypes   int
    ReservedFields  int
    ReservedMethods int
    LinearAlloc     int
}

func DefaultLimits() Limits {
    return Limits {
        MaxTypes:    _MaxIds,
        MaxFields:   _MaxIds,
        MaxMethods:  _MaxIds,
        LinearAlloc: DefaultLinearAlloc,
    }
}

func (self *Limits) fill() {
    if self.MaxTypes == 0 {
        self.MaxTypes = _MaxIds
    }
    if self.MaxFields == 0 {
        self.MaxFields = _MaxIds
    }
    if self.MaxMethods == 0 {
        self.MaxMethods = _MaxIds
    }
    if self.LinearAlloc == 0 {
        self.LinearAlloc = DefaultLinearAlloc
    }
}

// Structure is the ledger of one DEX under construction. Every ref is
// refcounted across the committed classes, so removing a class releases
// only the ids no remaining class uses.
//
// An init-class target with no committed field ref into it is pending:
// the lowering will have to synthesise a static field inside the same
// DEX to trigger the initializer, so the ledger reserves one field id
// and, when the target type is not referenced either, one type id.
type Structure struct {
    cfg     *Config
    est     *Estimator
    alloc   int
    classes []*ir.Class
    cached  map[*ir.Class]*_Refs
    trefs   map[*ir.Type]int
    frefs   map[*ir.FieldRef]int
    mrefs   map[*ir.MethodRef]int
    fowner  map[*ir.Type]int
    inits   map[*ir.Type]int
    pending map[*ir.Type]bool
}

func NewStructure(cfg *Config, est *Estimator) *Structure {
    st := new(Structure)
    st.cfg = cfg
    st.est = est
    st.cached = make(map[*ir.Class]*_Refs)
    st.reset()
    return st
}

func (self *Structure) reset() {
    self.alloc = 0
    self.classes = nil
    self.trefs = make(map[*ir.Type]int)
    self.frefs = make(map[*ir.FieldRef]int)
    self.mrefs = make(map[*ir.MethodRef]int)
    self.fowner = make(map[*ir.Type]int)
    self.inits = make(map[*ir.Type]int)
    self.pending = make(map[*ir.Type]bool)
}

func (self *Structure) Size() int       { return len(self.classes) }
func (self *Structure) Alloc() int      { return self.alloc }
func (self *Structure) TypeRefs() int   { return len(self.trefs) }
func (self *Structure) FieldRefs() int  { return len(self.frefs) }
func (self *Structure) MethodRefs() int { return len(self.mrefs) }

func (self *Structure) Classes() []*ir.Class {
    return self.classes
}

// PendingFields counts the field ids reserved for init-class targets.
func (self *Structure) PendingFields() int {
    return len(self.pending)
}

// PendingTypes counts the type ids reserved for init-class targets that
// no committed ref names.
func (self *Structure) PendingTypes() int {
    n := 0
    for t := range self.pending {
        if self.trefs[t] == 0 {
            n++
        }
    }
    return n
}

func (self *Structure) refsOf(c *ir.Class) *_Refs {
    if r, ok := self.cached[c]; ok {
        return r
    }
    r := collectRefs(c, self.est, self.cfg.SideEffects)
    self.cached[c] = r
    return r
}

// TryAdd commits c if every counter stays strictly below its ceiling,
// reservations included. On rejection it reports the first counter that
// would cross and leaves the ledger untouched.
func (self *Structure) TryAdd(c *ir.Class) (bool, Counter) {
    r := self.refsOf(c)
    nt, nf, nm := self.delta(r)
    pf, pt := self.pendingAfter(r)

    if len(self.trefs)+nt+pt >= self.limitTypes() {
        return false, OverTypes
    }
    if len(self.frefs)+nf+pf >= self.limitFields() {
        return false, OverFields
    }
    if len(self.mrefs)+nm >= self.limitMethods() {
        return false, OverMethods
    }
    if self.alloc+r.alloc >= self.cfg.Limits.LinearAlloc {
        return false, OverAlloc
    }

    self.commit(c, r)
    return true, OverNone
}

// ForceAdd commits c without the bounds check.
func (self *Structure) ForceAdd(c *ir.Class) {
    self.commit(c, self.refsOf(c))
}

func (self *Structure) limitTypes() int   { return self.cfg.Limits.MaxTypes - self.cfg.Limits.ReservedTypes }
func (self *Structure) limitFields() int  { return self.cfg.Limits.MaxFields - self.cfg.Limits.ReservedFields }
func (self *Structure) limitMethods() int { return self.cfg.Limits.MaxMethods - self.cfg.Limits.ReservedMethods }

func (self *Structure) delta(r *_Refs) (nt int, nf int, nm int) {
    for _, t := range r.types {
        if self.trefs[t] == 0 {
            nt++
        }
    }
    for _, f := range r.fields {
        if self.frefs[f] == 0 {
            nf++
        }
    }
    for _, m := range r.methods {
        if self.mrefs[m] == 0 {
            nm++
        }
    }
    return
}

// pendingAfter sizes the reservation set as it would look with r
// committed: surviving entries are the current ones r brings no field
// into, plus r's own init targets that nothing covers yet.
func (self *Structure) pendingAfter(r *_Refs) (pf int, pt int) {
    for t := range self.pending {
        if !r.fcls[t] {
            pf++
            if self.trefs[t] == 0 && !r.tset[t] {
                pt++
            }
        }
    }
    for _, t := range r.inits {
        if self.pending[t] || self.fowner[t] > 0 || r.fcls[t] {
            continue
        }
        pf++
        if self.trefs[t] == 0 && !r.tset[t] {
            pt++
        }
    }
    return
}

func (self *Structure) commit(c *ir.Class, r *_Refs) {
    for _, t := range r.types {
        self.trefs[t]++
    }
    for _, f := range r.fields {
        if self.frefs[f]++; self.frefs[f] == 1 {
            self.fowner[f.Class()]++
            delete(self.pending, f.Class())
        }
    }
    for _, m := range r.methods {
        self.mrefs[m]++
    }
    for _, t := range r.inits {
        if self.inits[t]++; self.fowner[t] == 0 {
            self.pending[t] = true
        }
    }
    self.alloc += r.alloc
    self.classes = append(self.classes, c)
}

// Remove reverses a commit. Releasing the last field ref into a type
// other classes still init-class re-registers that reservation.
func (self *Structure) Remove(c *ir.Class) bool {
    i := self.indexOf(c)
    if i < 0 {
        return false
    }

    r := self.refsOf(c)
    self.classes = append(self.classes[:i], self.classes[i+1:]...)

    for _, t := range r.inits {
        if self.inits[t]--; self.inits[t] == 0 {
            delete(self.inits, t)
            delete(self.pending, t)
        }
    }

    for _, f := range r.fields {
        if self.frefs[f]--; self.frefs[f] == 0 {
            delete(self.frefs, f)
            self.releaseOwner(f.Class())
        }
    }

    for _, t := range r.types {
        if self.trefs[t]--; self.trefs[t] == 0 {
            delete(self.trefs, t)
        }
    }

    for _, m := range r.methods {
        if self.mrefs[m]--; self.mrefs[m] == 0 {
            delete(self.mrefs, m)
        }
    }

    self.alloc -= r.alloc
    return true
}

func (self *Structure) releaseOwner(t *ir.Type) {
    if self.fowner[t]--; self.fowner[t] == 0 {
        delete(self.fowner, t)
        if self.inits[t] > 0 {
            self.pending[t] = true
        }
    }
}

func (self *Structure) indexOf(c *ir.Class) int {
    for i, v := range self.classes {
        if v == c {
            return i
        }
    }
    return -1
}

// EndDex freezes the ledger into a Dex and resets it for the next one.
// When perf ordering is on, perf-sensitive classes move ahead of the
// rest; canary classes pin DEX identity for the runtime and keep their
// position either way.
func (self *Structure) EndDex(info DexInfo) *Dex {
    out := self.classes
    if self.cfg.PerfFirst {
        if self.cfg.LegacyPerfSwap {
            legacyPerfSwap(out)
        } else {
            out = perfPartition(out)
        }
    }
    self.reset()
    return &Dex { Info: info, Classes: out }
}

func isCanary(c *ir.Class) bool {
    return strings.HasSuffix(c.Name(), "/Canary;")
}

// perfPartition moves perf-sensitive classes to the front, keeping the
// relative order of both groups and every canary slot intact.
func perfPartition(cs []*ir.Class) []*ir.Class {
    out := make([]*ir.Class, len(cs))
    holes := make([]int, 0, len(cs))

    for i, c := range cs {
        if isCanary(c) {
            out[i] = c
        } else {
            holes = append(holes, i)
        }
    }

    k := 0
    for _, c := range cs {
        if !isCanary(c) && c.PerfSensitive() {
            out[holes[k]] = c
            k++
        }
    }
    for _, c := range cs {
        if !isCanary(c) && !c.PerfSensitive() {
            out[holes[k]] = c
            k++
        }
    }
    return out
}

// legacyPerfSwap is the historical reorder shape: one forward pass that
// swaps a perf-sensitive class with a non-perf immediate predecessor.
// It only lifts each perf class by one slot and is kept behind an
// option for builds that depend on the old layout.
func legacyPerfSwap(cs []*ir.Class) {
    for i := 1; i < len(cs); i++ {
        if isCanary(cs[i]) || isCanary(cs[i-1]) {
            continue
        }
        if cs[i].PerfSensitive() && !cs[i-1].PerfSensitive() {
            cs[i], cs[i-1] = cs[i-1], cs[i]
        }
    }
}
