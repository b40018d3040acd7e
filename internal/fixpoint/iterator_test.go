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

package fixpoint

import (
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

/* ctr is an upper bound counter: bottom, a value, or top; its widening
 * jumps to top as soon as the bound keeps growing */
type ctr struct {
    bot bool
    top bool
    n   int
}

func cval(n int) ctr { return ctr { n: n } }

func (self ctr) IsBottom() bool { return self.bot }
func (self ctr) IsTop() bool    { return self.top }

func (self ctr) Leq(other Domain) bool {
    o := other.(ctr)
    switch {
        case self.bot || o.top : return true
        case o.bot || self.top : return false
        default                : return self.n <= o.n
    }
}

func (self ctr) Equals(other Domain) bool {
    return self.Leq(other) && other.Leq(self)
}

func (self ctr) Join(other Domain) Domain {
    o := other.(ctr)
    switch {
        case self.bot          : return o
        case o.bot             : return self
        case self.top || o.top : return ctr { top: true }
        case o.n > self.n      : return o
        default                : return self
    }
}

func (self ctr) Widen(other Domain) Domain {
    o := other.(ctr)
    switch {
        case self.bot          : return o
        case o.bot             : return self
        case self.top || o.top : return ctr { top: true }
        case o.n > self.n      : return ctr { top: true }
        default                : return self
    }
}

func (self ctr) Meet(other Domain) Domain {
    o := other.(ctr)
    switch {
        case self.bot || o.bot : return ctr { bot: true }
        case self.top          : return o
        case o.top             : return self
        case o.n < self.n      : return o
        default                : return self
    }
}

func (self ctr) Narrow(other Domain) Domain {
    return self.Meet(other)
}

/* capped is the same bound without a real widening, so unbounded
 * chains run into the iteration cap */
type capped struct {
    bot bool
    n   int
}

func (self capped) IsBottom() bool { return self.bot }
func (self capped) IsTop() bool    { return false }

func (self capped) Leq(other Domain) bool {
    o := other.(capped)
    switch {
        case self.bot : return true
        case o.bot    : return false
        default       : return self.n <= o.n
    }
}

func (self capped) Equals(other Domain) bool {
    return self.Leq(other) && other.Leq(self)
}

func (self capped) Join(other Domain) Domain {
    o := other.(capped)
    switch {
        case self.bot     : return o
        case o.bot        : return self
        case o.n > self.n : return o
        default           : return self
    }
}

func (self capped) Widen(other Domain) Domain  { return self.Join(other) }
func (self capped) Narrow(other Domain) Domain { return self.Meet(other) }

func (self capped) Meet(other Domain) Domain {
    o := other.(capped)
    switch {
        case self.bot || o.bot : return capped { bot: true }
        case o.n < self.n      : return o
        default                : return self
    }
}

/* loopAnalyzer bumps the bound once per add instruction and passes
 * every edge through unchanged unless pruneBranches is set */
type loopAnalyzer struct {
    cfg           *ir.CFG
    bottom        Domain
    entry         Domain
    inc           func(Domain) Domain
    pruneBranches bool
}

func (self loopAnalyzer) Bottom() Domain { return self.bottom }
func (self loopAnalyzer) Entry() Domain  { return self.entry }

func (self loopAnalyzer) AnalyzeNode(v int, pre Domain) Domain {
    st := pre
    self.cfg.Block(v).ForEachInsn(func(p *ir.Instruction) bool {
        if p.Op() == ir.OpAddIntLit8 {
            st = self.inc(st)
        }
        return true
    })
    return st
}

func (self loopAnalyzer) AnalyzeEdge(e Edge, post Domain) Domain {
    if self.pruneBranches && CFGEdge(e).Kind() == ir.EdgeBranch {
        return self.bottom
    }
    return post
}

func TestIterator_WideningStabilizes(t *testing.T) {
    code := loopCode()
    cfg := code.BuildCFG(true, false)

    it := NewIterator(ForwardCFG(cfg), loopAnalyzer {
        cfg    : cfg,
        bottom : ctr { bot: true },
        entry  : cval(0),
        inc    : func(st Domain) Domain {
            if v := st.(ctr); !v.bot && !v.top {
                return cval(v.n + 1)
            }
            return st
        },
    })
    it.Run(4)

    require.False(t, it.Unstable())
    assert.Equal(t, cval(0), it.PreOf(0).(ctr))
    assert.True(t, it.PreOf(1).IsTop(), "loop head widened to top")
    assert.True(t, it.PostOf(2).IsTop())
}

func TestIterator_CapReported(t *testing.T) {
    code := loopCode()
    cfg := code.BuildCFG(true, false)

    it := NewIterator(ForwardCFG(cfg), loopAnalyzer {
        cfg    : cfg,
        bottom : capped { bot: true },
        entry  : capped {},
        inc    : func(st Domain) Domain {
            if v := st.(capped); !v.bot {
                return capped { n: v.n + 1 }
            }
            return st
        },
    })
    it.Run(4)

    require.True(t, it.Unstable())
    assert.Equal(t, 4, it.PostOf(1).(capped).n, "last round state is kept")
}

func TestIterator_FixpointBeforeCap(t *testing.T) {
    code := loopCode()
    cfg := code.BuildCFG(true, false)

    /* saturating increment reaches its fixpoint without widening */
    it := NewIterator(ForwardCFG(cfg), loopAnalyzer {
        cfg    : cfg,
        bottom : capped { bot: true },
        entry  : capped {},
        inc    : func(st Domain) Domain {
            if v := st.(capped); !v.bot && v.n < 2 {
                return capped { n: v.n + 1 }
            }
            return st
        },
    })
    it.Run(0)

    require.False(t, it.Unstable())
    assert.Equal(t, 2, it.PostOf(1).(capped).n)
    assert.Equal(t, 2, it.PostOf(2).(capped).n)
}

func TestIterator_EdgePruning(t *testing.T) {
    code := loopCode()
    cfg := code.BuildCFG(true, false)

    /* cutting the back edge turns the loop body into straight line code */
    it := NewIterator(ForwardCFG(cfg), loopAnalyzer {
        cfg           : cfg,
        bottom        : ctr { bot: true },
        entry         : cval(0),
        pruneBranches : true,
        inc           : func(st Domain) Domain {
            if v := st.(ctr); !v.bot && !v.top {
                return cval(v.n + 1)
            }
            return st
        },
    })
    it.Run(4)

    require.False(t, it.Unstable())
    assert.Equal(t, cval(1), it.PostOf(1).(ctr))
    assert.Equal(t, cval(1), it.PreOf(2).(ctr))
}

func TestIterator_BackwardReachesEntry(t *testing.T) {
    code := loopCode()
    cfg := code.BuildCFG(true, false)

    it := NewIterator(BackwardCFG(cfg), loopAnalyzer {
        cfg    : cfg,
        bottom : capped { bot: true },
        entry  : capped {},
        inc    : func(st Domain) Domain { return st },
    })
    it.Run(0)

    require.False(t, it.Unstable())
    assert.False(t, it.PostOf(0).IsBottom(), "flow reaches the method entry")
}
