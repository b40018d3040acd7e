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

// Package cse is the global value numbering engine: it finds instructions
// that recompute a value already produced on every incoming path and
// forwards the earlier result through a fresh register.
//
// Values are 64-bit ids. The upper bits hold a running index, so two ids
// are equal iff the values are structurally equal; the lower bits record
// the heap locations the value was read from, so a write can invalidate
// every dependent value with one mask test.
package cse

import (
    `sort`

    `github.com/bytedance/dexter/internal/concurrent`
    `github.com/bytedance/dexter/internal/interproc`
    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/dexter/internal/resolver`
)

// Bit layout of a value id. One bit per tracked location, one overflow
// bit shared by every untracked location, one bit for values that depend
// only on locations never written anywhere in the program.
const (
    _TrackedBits = 38
    _TrackedMask = uint64(1)<<_TrackedBits - 1
    _OverflowBit = uint64(1) << _TrackedBits
    _ReadOnlyBit = uint64(1) << (_TrackedBits + 1)
    _IndexShift  = _TrackedBits + 2
    _BarrierMask = _TrackedMask | _OverflowBit
)

// ComponentKind partitions array memory by element width. Dalvik array
// accesses name the component in the opcode, not the array type, so one
// location per component is as precise as the opcodes get.
type ComponentKind uint8

const (
    CompInt ComponentKind = iota
    CompWide
    CompObject
    CompBoolean
    CompByte
    CompChar
    CompShort
    _CompCount
)

func (self ComponentKind) String() string {
    switch self {
        case CompInt     : return "int"
        case CompWide    : return "wide"
        case CompObject  : return "object"
        case CompBoolean : return "boolean"
        case CompByte    : return "byte"
        case CompChar    : return "char"
        case CompShort   : return "short"
        default          : return "?"
    }
}

func arrayComponentOf(op ir.Op) ComponentKind {
    switch op {
        case ir.OpAget        , ir.OpAput        : return CompInt
        case ir.OpAgetWide    , ir.OpAputWide    : return CompWide
        case ir.OpAgetObject  , ir.OpAputObject  : return CompObject
        case ir.OpAgetBoolean , ir.OpAputBoolean : return CompBoolean
        case ir.OpAgetByte    , ir.OpAputByte    : return CompByte
        case ir.OpAgetChar    , ir.OpAputChar    : return CompChar
        case ir.OpAgetShort   , ir.OpAputShort   : return CompShort
        default                                  : panic("cse: not an array access: " + op.String())
    }
}

type _LocKind uint8

const (
    _LocBarrier _LocKind = iota
    _LocField
    _LocArray
)

// Location is one abstract heap cell: a resolved field, an array
// component class, or the general barrier that subsumes every other
// location.
type Location struct {
    kind _LocKind
    fld  *ir.FieldRef
    comp ComponentKind
}

func GeneralBarrier() Location          { return Location { kind: _LocBarrier } }
func FieldLoc(f *ir.FieldRef) Location  { return Location { kind: _LocField, fld: f } }
func ArrayLoc(c ComponentKind) Location { return Location { kind: _LocArray, comp: c } }

func (self Location) IsBarrier() bool { return self.kind == _LocBarrier }

// Key is a deterministic, content based sort key.
func (self Location) Key() string {
    switch self.kind {
        case _LocField : return "f:" + self.fld.Key()
        case _LocArray : return "a:" + self.comp.String()
        default        : return "*"
    }
}

func (self Location) String() string {
    return self.Key()
}

// fieldLocationOf resolves the cell a field access touches. Unresolved
// and volatile fields degrade to the general barrier: the former cannot
// be told apart from any other cell, the latter synchronizes with other
// threads.
func fieldLocationOf(res *resolver.Resolver, p *ir.Instruction) Location {
    kind := resolver.FieldInstance
    if f := p.Op().Fam(); f == ir.FamSGet || f == ir.FamSPut {
        kind = resolver.FieldStatic
    }
    f := res.ResolveField(p.Field(), kind)
    if f == nil || f.Def() == nil {
        return GeneralBarrier()
    }
    if f.Def().Access & ir.AccVolatile != 0 {
        return GeneralBarrier()
    }
    return FieldLoc(f)
}

// Census tallies program wide read and write counts per location. It is
// a reduction accumulator so the scan parallelizes over methods.
type Census struct {
    reads  map[Location]int64
    writes map[Location]int64
}

func NewCensus() *Census {
    return &Census {
        reads  : make(map[Location]int64),
        writes : make(map[Location]int64),
    }
}

func (self *Census) Reads(loc Location) int64  { return self.reads[loc] }
func (self *Census) Writes(loc Location) int64 { return self.writes[loc] }

// ReadOnly reports whether the location is read somewhere yet written
// nowhere in the whole program.
func (self *Census) ReadOnly(loc Location) bool {
    return !loc.IsBarrier() && self.reads[loc] > 0 && self.writes[loc] == 0
}

// Merge folds another shard of the census into this one.
func (self *Census) Merge(rhs concurrent.Accumulator) {
    other := rhs.(*Census)
    for loc, n := range other.reads  { self.reads[loc] += n }
    for loc, n := range other.writes { self.writes[loc] += n }
}

func (self *Census) note(res *resolver.Resolver, p *ir.Instruction) {
    switch p.Op().Fam() {
        case ir.FamIGet, ir.FamSGet:
            self.reads[fieldLocationOf(res, p)]++

        case ir.FamIPut, ir.FamSPut:
            self.writes[fieldLocationOf(res, p)]++

        case ir.FamAGet:
            self.reads[ArrayLoc(arrayComponentOf(p.Op()))]++

        case ir.FamAPut:
            self.writes[ArrayLoc(arrayComponentOf(p.Op()))]++

        case ir.FamFillArrayData:
            for c := ComponentKind(0); c < _CompCount; c++ {
                self.writes[ArrayLoc(c)]++
            }
    }
}

// TakeCensus scans every method body in parallel.
func TakeCensus(scope *ir.Scope, res *resolver.Resolver) *Census {
    acc, _ := concurrent.Reduce(scope,
        func() concurrent.Accumulator {
            return NewCensus()
        },
        func(acc concurrent.Accumulator, m *ir.MethodRef, code *ir.Code) error {
            c := acc.(*Census)
            code.ForEachInsn(func(p *ir.Instruction) bool {
                c.note(res, p)
                return true
            })
            return nil
        },
    )
    return acc.(*Census)
}

// SharedState is the once-per-run half of the engine: location census,
// tracked bit table, purity summaries and the boxing pair index. One
// SharedState serves every method of the run, concurrently.
type SharedState struct {
    res       *resolver.Resolver
    census    *Census
    bits      map[Location]uint64
    seeds     map[string]bool
    graph     *interproc.CallGraph
    purity    *interproc.Registry
    boxes     map[*ir.MethodRef]*_BoxPair
    unboxes   map[*ir.MethodRef]*_BoxPair
    abstracts map[*ir.MethodRef]*_BoxPair
    shaky     bool
}

// NewSharedState runs the whole program analyses the engine shares: the
// census, the bit election, the call graph and the purity closure. A nil
// seed list selects DefaultPureMethods; maxIter caps the purity rounds.
func NewSharedState(ctx *ir.Context, scope *ir.Scope, res *resolver.Resolver, ovr *resolver.OverrideGraph, seeds []string, maxIter int) *SharedState {
    if seeds == nil {
        seeds = DefaultPureMethods()
    }
    self := &SharedState {
        res    : res,
        census : TakeCensus(scope, res),
        bits   : make(map[Location]uint64),
        seeds  : make(map[string]bool, len(seeds)),
        graph  : interproc.BuildCallGraph(scope, res, ovr),
    }
    for _, k := range seeds {
        self.seeds[k] = true
    }
    self.electBits()
    self.indexBoxing(ctx)
    self.purity, self.shaky = analyzePurity(self, maxIter)
    return self
}

// Census exposes the location tallies, mostly to the tests.
func (self *SharedState) Census() *Census {
    return self.census
}

// Graph is the call graph the purity closure ran over.
func (self *SharedState) Graph() *interproc.CallGraph {
    return self.graph
}

// Unstable reports whether the purity closure hit its iteration cap.
func (self *SharedState) Unstable() bool {
    return self.shaky
}

// Tracked reports whether the location got a bit of its own.
func (self *SharedState) Tracked(loc Location) bool {
    _, ok := self.bits[loc]
    return ok
}

// electBits picks the tracked locations: the top locations that are both
// read and written, ranked by reads per write. Locations written but
// never read would waste a bit on values nobody forms, and read-only
// locations share the dedicated bit instead.
func (self *SharedState) electBits() {
    var cands []Location
    for loc := range self.census.reads {
        if !loc.IsBarrier() && self.census.writes[loc] > 0 {
            cands = append(cands, loc)
        }
    }

    /* compare read/write ratios without dividing */
    sort.Slice(cands, func(i int, j int) bool {
        a, b := cands[i], cands[j]
        ra, wa := self.census.Reads(a), self.census.Writes(a)
        rb, wb := self.census.Reads(b), self.census.Writes(b)
        if ra*wb != rb*wa {
            return ra*wb > rb*wa
        }
        return a.Key() < b.Key()
    })

    if len(cands) > _TrackedBits {
        cands = cands[:_TrackedBits]
    }
    for i, loc := range cands {
        self.bits[loc] = uint64(1) << uint(i)
    }
}

// readBitOf is the id bit a read of loc contributes. The second result
// reports reads that fell into the shared overflow bucket.
func (self *SharedState) readBitOf(loc Location) (uint64, bool) {
    if self.census.ReadOnly(loc) {
        return _ReadOnlyBit, false
    }
    if b, ok := self.bits[loc]; ok {
        return b, false
    }
    return _OverflowBit, true
}

// writeMaskOf is the invalidation mask a write to loc raises. A barrier
// write spares only read-only dependencies, which by construction have
// no writes anywhere to be spared from.
func (self *SharedState) writeMaskOf(loc Location) (uint64, bool) {
    if loc.IsBarrier() {
        return _BarrierMask, false
    }
    if b, ok := self.bits[loc]; ok {
        return b, false
    }
    return _OverflowBit, true
}

func (self *SharedState) arrayWriteMask() uint64 {
    mask := uint64(0)
    for c := ComponentKind(0); c < _CompCount; c++ {
        m, _ := self.writeMaskOf(ArrayLoc(c))
        mask |= m
    }
    return mask
}
