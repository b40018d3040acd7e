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
    `github.com/bytedance/dexter/internal/resolver`
)

// Per-class load cost model. The legacy runtime carves vtables, method
// blocks and field blocks out of one fixed linear-alloc arena, so each
// contribution below is the arena bytes one entry occupies.
const (
    _SlotSize    = 4
    _DirectSize  = 90
    _VirtualSize = 38
    _IFieldSize  = 16
)

// Framework ancestors are outside the scope, so their vtable depth is
// guessed from the conventional name suffixes with the deepest tables.
const (
    _ViewSlots     = 100
    _LayoutSlots   = 100
    _GroupSlots    = 1500
    _ActivitySlots = 500
)

// DefaultLinearAlloc is the arena budget one DEX may consume at load
// time before the runtime aborts the install.
const DefaultLinearAlloc = 11600 * 1024

// Estimator computes the linear-alloc byte cost of loading a class.
// Slot counts are memoized per type, so one instance should be shared
// across a whole packing run.
type Estimator struct {
    ch    *resolver.ClassHierarchy
    ovr   *resolver.OverrideGraph
    slots map[*ir.Type]int
}

func NewEstimator(ch *resolver.ClassHierarchy, ovr *resolver.OverrideGraph) *Estimator {
    return &Estimator {
        ch:    ch,
        ovr:   ovr,
        slots: make(map[*ir.Type]int),
    }
}

// SlotsOf estimates the vtable slot count of t. In-scope classes count
// exactly: the super's slots plus every virtual that overrides nothing.
// Types that do not resolve fall back to the name heuristics.
func (self *Estimator) SlotsOf(t *ir.Type) int {
    if t == nil {
        return 0
    }
    if n, ok := self.slots[t]; ok {
        return n
    }
    self.slots[t] = 0 /* terminates super cycles in corrupt input */
    n := self.measure(t)
    self.slots[t] = n
    return n
}

func (self *Estimator) measure(t *ir.Type) int {
    c := self.ch.ClassOf(t)
    if c == nil {
        return suffixSlots(t.Name())
    }
    if c.IsInterface() {
        return 0
    }
    n := self.SlotsOf(c.Super())
    for _, m := range c.VirtualMethods() {
        if len(self.ovr.Overrides(m)) == 0 {
            n++
        }
    }
    return n
}

// CostOf estimates the arena bytes charged when the runtime loads c.
func (self *Estimator) CostOf(c *ir.Class) int {
    n := len(c.DirectMethods()) * _DirectSize
    n += len(c.VirtualMethods()) * _VirtualSize
    n += len(c.InstanceFields()) * _IFieldSize
    if !c.IsInterface() {
        n += self.SlotsOf(c.Type()) * _SlotSize
    }
    return n
}

func suffixSlots(name string) int {
    switch {
        case strings.HasSuffix(name, "ViewGroup;") : return _GroupSlots
        case strings.HasSuffix(name, "View;")      : return _ViewSlots
        case strings.HasSuffix(name, "Layout;")    : return _LayoutSlots
        case strings.HasSuffix(name, "Activity;")  : return _ActivitySlots
        default                                    : return 0
    }
}
