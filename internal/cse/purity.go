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

package cse

import (
    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/interproc`
    `github.com/bytedance/dexter/internal/ir`
)

// PuritySummary is the effect summary of one method: the location bits
// it may read and the invalidation bits its writes raise. Top stands for
// unknown effects and acts as a general barrier at callsites; a summary
// with no write bits marks a method whose calls can be valued.
//
// Allocating instructions push a method to top outright: a call that
// returns a fresh identity per invocation must never merge with another
// structurally identical call.
type PuritySummary struct {
    bot    bool
    top    bool
    reads  uint64
    writes uint64
}

func PurityBottom() PuritySummary { return PuritySummary { bot: true } }
func PurityTop() PuritySummary    { return PuritySummary { top: true } }
func PureSummary() PuritySummary  { return PuritySummary {} }

func (self PuritySummary) Reads() uint64  { return self.reads }
func (self PuritySummary) Writes() uint64 { return self.writes }

// Valuable reports whether calls to the method may form values.
func (self PuritySummary) Valuable() bool {
    return !self.bot && !self.top && self.writes == 0
}

func (self PuritySummary) IsBottom() bool { return self.bot }
func (self PuritySummary) IsTop() bool    { return self.top }

func (self PuritySummary) Leq(other fixpoint.Domain) bool {
    v := other.(PuritySummary)
    switch {
        case self.bot : return true
        case v.bot    : return false
        case v.top    : return true
        case self.top : return false
        default       : return self.reads & ^v.reads == 0 && self.writes & ^v.writes == 0
    }
}

func (self PuritySummary) Equals(other fixpoint.Domain) bool {
    return self.Leq(other) && other.(PuritySummary).Leq(self)
}

func (self PuritySummary) Join(other fixpoint.Domain) fixpoint.Domain {
    v := other.(PuritySummary)
    switch {
        case self.bot        : return v
        case v.bot           : return self
        case self.top, v.top : return PurityTop()
        default              : return PuritySummary { reads: self.reads | v.reads, writes: self.writes | v.writes }
    }
}

// Widen aliases Join, the bit masks bound the chain height.
func (self PuritySummary) Widen(other fixpoint.Domain) fixpoint.Domain {
    return self.Join(other)
}

func (self PuritySummary) Meet(other fixpoint.Domain) fixpoint.Domain {
    v := other.(PuritySummary)
    switch {
        case self.bot, v.bot : return PurityBottom()
        case self.top        : return v
        case v.top           : return self
        default              : return PuritySummary { reads: self.reads & v.reads, writes: self.writes & v.writes }
    }
}

func (self PuritySummary) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

// DefaultPureMethods is the seed set of library methods trusted to have
// no relevant effects, keyed textually so external references match.
// Wrapper boxing methods may return cached instances, which is fine: the
// wrapper contract makes equal boxes interchangeable.
func DefaultPureMethods() []string {
    return []string {
        "Ljava/lang/Boolean;.valueOf:(Z)Ljava/lang/Boolean;",
        "Ljava/lang/Boolean;.booleanValue:()Z",
        "Ljava/lang/Byte;.valueOf:(B)Ljava/lang/Byte;",
        "Ljava/lang/Byte;.byteValue:()B",
        "Ljava/lang/Character;.valueOf:(C)Ljava/lang/Character;",
        "Ljava/lang/Character;.charValue:()C",
        "Ljava/lang/Short;.valueOf:(S)Ljava/lang/Short;",
        "Ljava/lang/Short;.shortValue:()S",
        "Ljava/lang/Integer;.valueOf:(I)Ljava/lang/Integer;",
        "Ljava/lang/Integer;.intValue:()I",
        "Ljava/lang/Long;.valueOf:(J)Ljava/lang/Long;",
        "Ljava/lang/Long;.longValue:()J",
        "Ljava/lang/Float;.valueOf:(F)Ljava/lang/Float;",
        "Ljava/lang/Float;.floatValue:()F",
        "Ljava/lang/Double;.valueOf:(D)Ljava/lang/Double;",
        "Ljava/lang/Double;.doubleValue:()D",
        "Ljava/lang/Math;.abs:(I)I",
        "Ljava/lang/Math;.abs:(J)J",
        "Ljava/lang/Math;.abs:(F)F",
        "Ljava/lang/Math;.abs:(D)D",
        "Ljava/lang/Math;.min:(II)I",
        "Ljava/lang/Math;.min:(JJ)J",
        "Ljava/lang/Math;.max:(II)I",
        "Ljava/lang/Math;.max:(JJ)J",
        "Ljava/lang/String;.length:()I",
        "Ljava/lang/String;.isEmpty:()Z",
        "Ljava/lang/String;.charAt:(I)C",
        "Ljava/lang/String;.hashCode:()I",
        "Ljava/lang/Enum;.ordinal:()I",
        "Ljava/lang/Enum;.name:()Ljava/lang/String;",
        "Ljava/lang/Object;.getClass:()Ljava/lang/Class;",
    }
}

// summaryOf classifies one callsite: seed pure by textual key first, by
// the committed summary of the resolved callee otherwise. A bottom
// result means the callee was not analyzed yet, which only the purity
// closure itself observes.
func (self *SharedState) summaryOf(p *ir.Instruction, reg *interproc.Registry) PuritySummary {
    if m := p.Method(); m != nil && self.seeds[m.Key()] {
        return PureSummary()
    }
    callee := self.graph.CalleeOf(p)
    if callee == nil {
        return PurityTop()
    }
    if self.seeds[callee.Key()] {
        return PureSummary()
    }
    if s := reg.Get(callee); s != nil {
        return s.(PuritySummary)
    }
    return PurityBottom()
}

// PurityOf is the settled summary for calls through p.
func (self *SharedState) PurityOf(p *ir.Instruction) PuritySummary {
    return self.summaryOf(p, self.purity)
}

type _PurityAnalysis struct {
    shared *SharedState
}

func (self *_PurityAnalysis) Analyze(m *ir.MethodRef, facts *interproc.Facts) fixpoint.Domain {
    if self.shared.seeds[m.Key()] {
        return PureSummary()
    }
    code := m.Code()
    if code == nil {
        return PurityTop()
    }

    /* effects are order free, a linear walk suffices */
    sum := PureSummary()
    code.ForEachInsn(func(p *ir.Instruction) bool {
        sum = self.effectOf(p, sum, facts)
        return !sum.IsTop()
    })
    return sum
}

func (self *_PurityAnalysis) effectOf(p *ir.Instruction, sum PuritySummary, facts *interproc.Facts) PuritySummary {
    op := p.Op()
    switch op.Fam() {
        case ir.FamIGet, ir.FamSGet:
            loc := fieldLocationOf(self.shared.res, p)
            if loc.IsBarrier() {
                return PurityTop()
            }
            b, _ := self.shared.readBitOf(loc)
            sum.reads |= b

        case ir.FamIPut, ir.FamSPut:
            loc := fieldLocationOf(self.shared.res, p)
            if loc.IsBarrier() {
                return PurityTop()
            }
            b, _ := self.shared.writeMaskOf(loc)
            sum.writes |= b

        case ir.FamAGet:
            b, _ := self.shared.readBitOf(ArrayLoc(arrayComponentOf(op)))
            sum.reads |= b

        case ir.FamAPut:
            b, _ := self.shared.writeMaskOf(ArrayLoc(arrayComponentOf(op)))
            sum.writes |= b

        case ir.FamMonitor, ir.FamInitClass, ir.FamFillArrayData:
            return PurityTop()

        case ir.FamNewInstance, ir.FamNewArray, ir.FamFilledNewArray:
            return PurityTop()

        case ir.FamInvoke:
            s := self.shared.summaryOf(p, facts.Summaries)
            if s.IsTop() {
                return PurityTop()
            }
            if !s.IsBottom() {
                sum.reads |= s.reads
                sum.writes |= s.writes
            }
    }
    return sum
}

// analyzePurity closes the effect summaries bottom-up over the call
// graph. Cycles start from bottom and rise monotonically; the driver
// widens one round before the cap.
func analyzePurity(shared *SharedState, maxIter int) (*interproc.Registry, bool) {
    d := interproc.NewDriver(shared.graph, nil).MaxIterations(maxIter)
    reg := d.Run(&_PurityAnalysis { shared: shared })
    return reg, d.Unstable()
}
