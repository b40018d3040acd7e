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
    `strconv`

    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/ir`
)

// Depth is the call depth lattice: natural numbers ordered by value,
// with a bottom for methods not yet measured and a top for chains that
// never settle.
type Depth struct {
    kind _DepthKind
    val  int
}

type _DepthKind uint8

const (
    _DBottom _DepthKind = iota
    _DValue
    _DTop
)

func DepthBottom() Depth    { return Depth { kind: _DBottom } }
func DepthTop() Depth       { return Depth { kind: _DTop } }
func DepthOf(n int) Depth   { return Depth { kind: _DValue, val: n } }

func (self Depth) IsValue() bool { return self.kind == _DValue }
func (self Depth) Value() int    { return self.val }

func (self Depth) JoinWith(other Depth) Depth {
    switch {
        case self.kind == _DBottom  : return other
        case other.kind == _DBottom : return self
        case self.kind == _DTop     : return self
        case other.kind == _DTop    : return other
        case self.val >= other.val  : return self
        default                     : return other
    }
}

func (self Depth) MeetWith(other Depth) Depth {
    switch {
        case self.kind == _DTop     : return other
        case other.kind == _DTop    : return self
        case self.kind == _DBottom  : return self
        case other.kind == _DBottom : return other
        case self.val <= other.val  : return self
        default                     : return other
    }
}

func (self Depth) leq(other Depth) bool {
    switch {
        case self.kind == _DBottom  : return true
        case other.kind == _DTop    : return true
        case self.kind == _DTop     : return false
        case other.kind == _DBottom : return false
        default                     : return self.val <= other.val
    }
}

func (self Depth) String() string {
    switch self.kind {
        case _DBottom : return "bottom"
        case _DTop    : return "top"
        default       : return strconv.Itoa(self.val)
    }
}

/** Domain Interface **/

func (self Depth) IsBottom() bool { return self.kind == _DBottom }
func (self Depth) IsTop() bool    { return self.kind == _DTop }

func (self Depth) Leq(other fixpoint.Domain) bool {
    return self.leq(other.(Depth))
}

func (self Depth) Equals(other fixpoint.Domain) bool {
    return self == other.(Depth)
}

func (self Depth) Join(other fixpoint.Domain) fixpoint.Domain {
    return self.JoinWith(other.(Depth))
}

// Widen jumps growing chains straight to the top; depths otherwise
// climb one caller per round and would only settle with the program's
// longest call chain.
func (self Depth) Widen(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(Depth)
    if rhs.leq(self) {
        return self
    }
    return DepthTop()
}

func (self Depth) Meet(other fixpoint.Domain) fixpoint.Domain {
    return self.MeetWith(other.(Depth))
}

func (self Depth) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

// MaxDepth measures the longest resolved call chain under each method:
// a method with no calls sits at depth zero, a call adds one level on
// top of the callee's depth, and a call the graph could not resolve
// counts as one level of unknown work.
type MaxDepth struct {
    graph *CallGraph
}

func NewMaxDepth(g *CallGraph) *MaxDepth {
    return &MaxDepth { graph: g }
}

func (self *MaxDepth) Analyze(m *ir.MethodRef, facts *Facts) fixpoint.Domain {
    d := DepthOf(0)
    for _, c := range self.graph.Callees(m) {
        d = d.JoinWith(depthAfterCall(facts.Summaries.Get(c)))
    }
    if self.graph.HasUnresolved(m) {
        d = d.JoinWith(DepthOf(1))
    }
    return d
}

/* a call into an unmeasured body still descends one level */
func depthAfterCall(s fixpoint.Domain) Depth {
    v, ok := s.(Depth)
    switch {
        case !ok || v.IsBottom() : return DepthOf(1)
        case v.IsTop()           : return DepthTop()
        default                  : return DepthOf(v.Value() + 1)
    }
}

// AnalyzeMaxDepth runs the bottom-up depth analysis over g and returns
// the summaries plus whether the iteration cap cut the run short.
func AnalyzeMaxDepth(g *CallGraph, maxIter int) (*Registry, bool) {
    d := NewDriver(g, nil).MaxIterations(maxIter)
    reg := d.Run(NewMaxDepth(g))
    return reg, d.Unstable()
}
