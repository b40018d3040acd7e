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
    `sort`
    `strings`

    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/ir`
)

// TypeEnv maps registers to verifier types at one program point.
//
// Registers absent from the map are Top. The pseudo result slot holds
// the value produced by the preceding throwing instruction until the
// matching move-result-pseudo consumes it.
type TypeEnv struct {
    bot    bool
    res    RegType
    rescls *ir.Type
    regs   map[ir.Reg]RegType
    cls    map[ir.Reg]*ir.Type
}

func NewTypeEnv() *TypeEnv {
    return &TypeEnv {
        res  : TTop,
        regs : make(map[ir.Reg]RegType),
        cls  : make(map[ir.Reg]*ir.Type),
    }
}

func NewTypeEnvBottom() *TypeEnv {
    return &TypeEnv { bot: true, res: TBottom }
}

func (self *TypeEnv) Clone() *TypeEnv {
    if self.bot {
        return NewTypeEnvBottom()
    }

    /* copy both maps, the receiver keeps ownership of its own */
    ret := NewTypeEnv()
    ret.res = self.res
    ret.rescls = self.rescls
    for r, t := range self.regs { ret.regs[r] = t }
    for r, c := range self.cls { ret.cls[r] = c }
    return ret
}

// TypeOf reads the lattice element held by a register.
func (self *TypeEnv) TypeOf(r ir.Reg) RegType {
    if self.bot {
        return TBottom
    } else if t, ok := self.regs[r]; ok {
        return t
    } else {
        return TTop
    }
}

// ClassOf reads the class refinement of a reference register, if any.
func (self *TypeEnv) ClassOf(r ir.Reg) *ir.Type {
    if self.bot {
        return nil
    }
    return self.cls[r]
}

// Result reads the pseudo result slot.
func (self *TypeEnv) Result() RegType {
    return self.res
}

// ResultClass reads the class refinement of the pseudo result slot.
func (self *TypeEnv) ResultClass() *ir.Type {
    return self.rescls
}

func (self *TypeEnv) put(r ir.Reg, t RegType) {
    if t == TTop {
        delete(self.regs, r)
    } else {
        self.regs[r] = t
    }
    delete(self.cls, r)
}

/* a write over either half of a pair poisons the surviving half */
func (self *TypeEnv) invalidate(r ir.Reg) {
    if old := self.TypeOf(r); old.IsWideLo() {
        self.put(r+1, TTop)
    } else if old.IsWideHi() && r > 0 {
        self.put(r-1, TTop)
    }
}

func (self *TypeEnv) set(r ir.Reg, t RegType) {
    self.invalidate(r)
    self.put(r, t)
}

func (self *TypeEnv) setClass(r ir.Reg, c *ir.Type) {
    if c != nil {
        self.cls[r] = c
    }
}

func (self *TypeEnv) setPair(r ir.Reg, lo RegType) {
    self.invalidate(r)
    self.invalidate(r + 1)
    self.put(r, lo)
    if lo.IsWideLo() {
        self.put(r+1, lo.Hi())
    } else {
        self.put(r+1, TTop)
    }
}

func (self *TypeEnv) setResult(t RegType, c *ir.Type) {
    self.res = t
    self.rescls = c
}

func (self *TypeEnv) clearResult() {
    self.res = TTop
    self.rescls = nil
}

/** Domain Interface **/

func (self *TypeEnv) IsBottom() bool {
    return self.bot
}

func (self *TypeEnv) IsTop() bool {
    return !self.bot && len(self.regs) == 0 && self.res == TTop
}

func (self *TypeEnv) Leq(other fixpoint.Domain) bool {
    rhs := other.(*TypeEnv)

    /* bottom is below everything */
    if self.bot {
        return true
    } else if rhs.bot {
        return false
    }

    /* every constraint held by the right side must also hold here */
    if !self.res.Leq(rhs.res) {
        return false
    }
    for r, t := range rhs.regs {
        if !self.TypeOf(r).Leq(t) {
            return false
        }
    }
    for r, c := range rhs.cls {
        if self.cls[r] != c {
            return false
        }
    }
    if rhs.rescls != nil && self.rescls != rhs.rescls {
        return false
    }
    return true
}

func (self *TypeEnv) Equals(other fixpoint.Domain) bool {
    return self.Leq(other) && other.(*TypeEnv).Leq(self)
}

func (self *TypeEnv) Join(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*TypeEnv)
    if self.bot {
        return rhs
    } else if rhs.bot {
        return self
    }

    /* registers missing on either side are already Top */
    ret := NewTypeEnv()
    for r, t := range self.regs {
        o, ok := rhs.regs[r]
        if !ok {
            continue
        }
        if j := t.Join(o); j != TTop {
            ret.regs[r] = j
        }
    }
    for r, c := range self.cls {
        if rhs.cls[r] == c {
            ret.cls[r] = c
        }
    }
    ret.res = self.res.Join(rhs.res)
    if self.rescls == rhs.rescls {
        ret.rescls = self.rescls
    }
    return ret
}

// Widen joins: the lattice is finite, ascending chains are short.
func (self *TypeEnv) Widen(other fixpoint.Domain) fixpoint.Domain {
    return self.Join(other)
}

func (self *TypeEnv) Meet(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*TypeEnv)
    if self.bot {
        return self
    } else if rhs.bot {
        return rhs
    }

    ret := self.Clone()
    for r, t := range rhs.regs {
        ret.put(r, ret.TypeOf(r).Meet(t))
    }
    for r, c := range rhs.cls {
        ret.setClass(r, c)
    }
    ret.res = self.res.Meet(rhs.res)
    if ret.rescls == nil {
        ret.rescls = rhs.rescls
    }
    return ret
}

func (self *TypeEnv) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

func (self *TypeEnv) String() string {
    if self.bot {
        return "⊥"
    }

    /* registers in ascending order */
    rr := make([]int, 0, len(self.regs))
    for r := range self.regs {
        rr = append(rr, int(r))
    }
    sort.Ints(rr)

    /* print every bound register, then the result slot if set */
    sb := new(strings.Builder)
    for i, r := range rr {
        if i != 0 {
            sb.WriteByte(' ')
        }
        if c := self.cls[ir.Reg(r)]; c != nil {
            fmt.Fprintf(sb, "v%d:%s(%s)", r, self.regs[ir.Reg(r)], c.Name())
        } else {
            fmt.Fprintf(sb, "v%d:%s", r, self.regs[ir.Reg(r)])
        }
    }
    if self.res != TTop {
        if sb.Len() != 0 {
            sb.WriteByte(' ')
        }
        fmt.Fprintf(sb, "res:%s", self.res)
    }
    if sb.Len() == 0 {
        return "⊤"
    }
    return sb.String()
}
