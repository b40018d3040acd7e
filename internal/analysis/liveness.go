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

package analysis

import (
    `fmt`
    `math/bits`
    `strings`

    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/ir`
)

// RegSet is a register bitset ordered by inclusion. The empty set is the
// bottom element; there is no designated top, the frame bounds it.
type RegSet struct {
    bits []uint64
}

func NewRegSet() *RegSet {
    return new(RegSet)
}

func (self *RegSet) grow(r ir.Reg) {
    for int(r >> 6) >= len(self.bits) {
        self.bits = append(self.bits, 0)
    }
}

// Add inserts a register.
func (self *RegSet) Add(r ir.Reg) *RegSet {
    self.grow(r)
    self.bits[r >> 6] |= 1 << (r & 63)
    return self
}

// Remove clears a register.
func (self *RegSet) Remove(r ir.Reg) *RegSet {
    if int(r >> 6) < len(self.bits) {
        self.bits[r >> 6] &^= 1 << (r & 63)
    }
    return self
}

// Contains reports membership.
func (self *RegSet) Contains(r ir.Reg) bool {
    return int(r >> 6) < len(self.bits) && self.bits[r >> 6] & (1 << (r & 63)) != 0
}

// Len counts the members.
func (self *RegSet) Len() int {
    n := 0
    for _, w := range self.bits {
        n += bits.OnesCount64(w)
    }
    return n
}

// ForEach visits the members in ascending register order.
func (self *RegSet) ForEach(fn func(ir.Reg)) {
    for i, w := range self.bits {
        for w != 0 {
            b := bits.TrailingZeros64(w)
            fn(ir.Reg(i << 6 + b))
            w &^= 1 << b
        }
    }
}

func (self *RegSet) Clone() *RegSet {
    return &RegSet { bits: append([]uint64(nil), self.bits...) }
}

func (self *RegSet) String() string {
    var rs []string
    self.ForEach(func(r ir.Reg) {
        rs = append(rs, fmt.Sprintf("v%d", r))
    })
    return "{" + strings.Join(rs, " ") + "}"
}

/** Domain Interface **/

func (self *RegSet) IsBottom() bool {
    for _, w := range self.bits {
        if w != 0 {
            return false
        }
    }
    return true
}

func (self *RegSet) IsTop() bool {
    return false
}

func (self *RegSet) Leq(other fixpoint.Domain) bool {
    rhs := other.(*RegSet)
    for i, w := range self.bits {
        var o uint64
        if i < len(rhs.bits) {
            o = rhs.bits[i]
        }
        if w &^ o != 0 {
            return false
        }
    }
    return true
}

func (self *RegSet) Equals(other fixpoint.Domain) bool {
    return self.Leq(other) && other.(*RegSet).Leq(self)
}

func (self *RegSet) Join(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*RegSet)
    ret := self.Clone()
    ret.grow(ir.Reg(len(rhs.bits) << 6))
    for i, w := range rhs.bits {
        ret.bits[i] |= w
    }
    return ret
}

// Widen joins: the set is bounded by the register frame.
func (self *RegSet) Widen(other fixpoint.Domain) fixpoint.Domain {
    return self.Join(other)
}

func (self *RegSet) Meet(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*RegSet)
    ret := self.Clone()
    for i := range ret.bits {
        var o uint64
        if i < len(rhs.bits) {
            o = rhs.bits[i]
        }
        ret.bits[i] &= o
    }
    return ret
}

func (self *RegSet) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

// Liveness is the backward live register analysis. The backward view makes
// the ghost exit the entry node, so LiveOut of a block is the iterator's
// pre-state and LiveIn its post-state.
type Liveness struct {
    cfg *ir.CFG
    it  *fixpoint.Iterator
}

type _LiveFlow struct {
    cfg *ir.CFG
}

func AnalyzeLiveness(cfg *ir.CFG) *Liveness {
    it := fixpoint.NewIterator(fixpoint.BackwardCFG(cfg), _LiveFlow { cfg })
    it.Run(0)
    return &Liveness { cfg: cfg, it: it }
}

func (self _LiveFlow) Bottom() fixpoint.Domain {
    return NewRegSet()
}

func (self _LiveFlow) Entry() fixpoint.Domain {
    return NewRegSet()
}

func (self _LiveFlow) AnalyzeNode(node int, pre fixpoint.Domain) fixpoint.Domain {
    live := pre.(*RegSet).Clone()
    self.cfg.Block(node).ForEachInsnReversed(func(p *ir.Instruction) bool {
        stepLiveness(p, live)
        return true
    })
    return live
}

func (self _LiveFlow) AnalyzeEdge(_ fixpoint.Edge, post fixpoint.Domain) fixpoint.Domain {
    return post
}

/* kill the dest pair, then gen every source pair */
func stepLiveness(p *ir.Instruction, live *RegSet) {
    if p.Op().HasDest() {
        live.Remove(p.Dest())
        if p.DestIsWide() {
            live.Remove(p.Dest() + 1)
        }
    }
    for i, r := range p.Srcs() {
        live.Add(r)
        if p.SrcIsWide(i) {
            live.Add(r + 1)
        }
    }
}

// LiveIn is the set of registers live when the block is entered.
func (self *Liveness) LiveIn(b *ir.BasicBlock) *RegSet {
    return self.it.PostOf(b.Id).(*RegSet)
}

// LiveOut is the set of registers live when the block is left.
func (self *Liveness) LiveOut(b *ir.BasicBlock) *RegSet {
    return self.it.PreOf(b.Id).(*RegSet)
}

// ForEachLive replays one block backwards, handing out each instruction
// with the registers live immediately after it. The set is reused between
// calls; clone to retain.
func (self *Liveness) ForEachLive(b *ir.BasicBlock, fn func(*ir.Instruction, *RegSet) bool) {
    live := self.LiveOut(b).Clone()
    b.ForEachInsnReversed(func(p *ir.Instruction) bool {
        if !fn(p, live) {
            return false
        }
        stepLiveness(p, live)
        return true
    })
}
