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

package ir

import (
    `sort`
)

// EdgeKind tags control flow edges.
type EdgeKind uint8

const (
    EdgeGoto EdgeKind = iota
    EdgeBranch
    EdgeThrow
    EdgeGhost
)

func (self EdgeKind) String() string {
    switch self {
        case EdgeGoto   : return "goto"
        case EdgeBranch : return "branch"
        case EdgeThrow  : return "throw"
        case EdgeGhost  : return "ghost"
        default         : return "?"
    }
}

// Edge is one control flow edge. Branch edges carry a case key, 1 for the
// taken side of an if and the switch case value otherwise. Throw edges
// carry the catch type (nil for catch-all) and their handler priority.
type Edge struct {
    src   *BasicBlock
    dst   *BasicBlock
    kind  EdgeKind
    key   int32
    index int
    catch *Type
}

func (self *Edge) Src() *BasicBlock { return self.src }
func (self *Edge) Dst() *BasicBlock { return self.dst }
func (self *Edge) Kind() EdgeKind   { return self.kind }
func (self *Edge) CaseKey() int32   { return self.key }
func (self *Edge) ThrowIndex() int  { return self.index }
func (self *Edge) CatchType() *Type { return self.catch }

// BasicBlock is a CFG node. In an editable graph the block owns its
// entries; in a read-only graph begin/end delimit a range of the method's
// linear list, end exclusive.
type BasicBlock struct {
    Id    int
    owner *CFG
    ghost bool
    list  InstructionList
    begin *Entry
    end   *Entry
    preds []*Edge
    succs []*Edge
}

// IsGhost reports whether the block is the synthetic exit node.
func (self *BasicBlock) IsGhost() bool { return self.ghost }

func (self *BasicBlock) Preds() []*Edge { return self.preds }
func (self *BasicBlock) Succs() []*Edge { return self.succs }

// ForEachEntry visits the block's entries in order, in either mode.
func (self *BasicBlock) ForEachEntry(fn func(*Entry) bool) {
    if self.owner.editable {
        self.list.ForEach(fn)
        return
    }
    for p := self.begin; p != nil && p != self.end; {
        q := p.next
        if !fn(p) {
            return
        }
        p = q
    }
}

// ForEachInsn visits the block's instructions in order.
func (self *BasicBlock) ForEachInsn(fn func(*Instruction) bool) {
    self.ForEachEntry(func(e *Entry) bool {
        if e.kind != EntryInsn {
            return true
        }
        return fn(e.Insn)
    })
}

// ForEachInsnReversed visits the block's instructions from last to first.
func (self *BasicBlock) ForEachInsnReversed(fn func(*Instruction) bool) {
    var p *Entry
    switch {
        case self.owner.editable    : p = self.list.Back()
        case self.begin == nil      : return
        case self.begin == self.end : return
        case self.end != nil        : p = self.end.prev
        default                     : p = self.owner.code.list.Back()
    }
    for p != nil {
        q := p.prev
        if p.kind == EntryInsn && !fn(p.Insn) {
            return
        }
        if p == self.begin {
            return
        }
        p = q
    }
}

// FirstInsn returns the block's first instruction entry, or nil.
func (self *BasicBlock) FirstInsn() *Entry {
    var r *Entry
    self.ForEachEntry(func(e *Entry) bool {
        if e.kind != EntryInsn {
            return true
        }
        r = e
        return false
    })
    return r
}

// LastInsn returns the block's last instruction entry, or nil.
func (self *BasicBlock) LastInsn() *Entry {
    var r *Entry
    self.ForEachEntry(func(e *Entry) bool {
        if e.kind == EntryInsn {
            r = e
        }
        return true
    })
    return r
}

// InsnCount counts instruction entries.
func (self *BasicBlock) InsnCount() int {
    n := 0
    self.ForEachInsn(func(*Instruction) bool { n++; return true })
    return n
}

// GotoEdge returns the unique goto successor edge, or nil.
func (self *BasicBlock) GotoEdge() *Edge {
    for _, e := range self.succs {
        if e.kind == EdgeGoto {
            return e
        }
    }
    return nil
}

// GotoSucc returns the unique goto successor block, or nil.
func (self *BasicBlock) GotoSucc() *BasicBlock {
    if e := self.GotoEdge(); e != nil {
        return e.dst
    }
    return nil
}

// BranchEdges returns the branch successor edges in case key order.
func (self *BasicBlock) BranchEdges() []*Edge {
    var r []*Edge
    for _, e := range self.succs {
        if e.kind == EdgeBranch {
            r = append(r, e)
        }
    }
    sort.SliceStable(r, func(i, j int) bool { return r[i].key < r[j].key })
    return r
}

// ThrowEdges returns the throw successor edges in handler priority order.
func (self *BasicBlock) ThrowEdges() []*Edge {
    var r []*Edge
    for _, e := range self.succs {
        if e.kind == EdgeThrow {
            r = append(r, e)
        }
    }
    sort.SliceStable(r, func(i, j int) bool { return r[i].index < r[j].index })
    return r
}

// InTry reports whether the block has any throw successor.
func (self *BasicBlock) InTry() bool {
    for _, e := range self.succs {
        if e.kind == EdgeThrow {
            return true
        }
    }
    return false
}

// IsCatch reports whether the block is a catch handler head.
func (self *BasicBlock) IsCatch() bool {
    for _, e := range self.preds {
        if e.kind == EdgeThrow {
            return true
        }
    }
    return false
}

// Branchingness classifies the block by its last instruction: none for
// return/throw terminated blocks, goto for fallthrough only, branch for
// if/switch.
func (self *BasicBlock) Branchingness() EdgeKind {
    if e := self.LastInsn(); e != nil {
        switch e.Insn.Op().Fam() {
            case FamReturn      : return EdgeGhost
            case FamThrow       : return EdgeGhost
            case FamUnreachable : return EdgeGhost
            case FamIf          : return EdgeBranch
            case FamSwitch      : return EdgeBranch
        }
    }
    return EdgeGoto
}

// CFG is a method body in graph form.
type CFG struct {
    code     *Code
    entry    *BasicBlock
    exit     *BasicBlock
    blocks   []*BasicBlock
    editable bool
}

func (self *CFG) Entry() *BasicBlock { return self.entry }
func (self *CFG) Editable() bool     { return self.editable }
func (self *CFG) Code() *Code        { return self.code }

// Exit returns the ghost exit block, creating and wiring it on first use.
func (self *CFG) Exit() *BasicBlock {
    if self.exit == nil {
        self.calculateExitBlock()
    }
    return self.exit
}

// Blocks returns the live blocks in id order.
func (self *CFG) Blocks() []*BasicBlock {
    r := make([]*BasicBlock, 0, len(self.blocks))
    for _, b := range self.blocks {
        if b != nil {
            r = append(r, b)
        }
    }
    return r
}

// NumBlocks counts live blocks.
func (self *CFG) NumBlocks() int {
    n := 0
    for _, b := range self.blocks {
        if b != nil {
            n++
        }
    }
    return n
}

// Block returns the block with the given id, or nil.
func (self *CFG) Block(id int) *BasicBlock {
    if id < 0 || id >= len(self.blocks) {
        return nil
    }
    return self.blocks[id]
}

// AllocBlock creates a fresh empty block.
func (self *CFG) AllocBlock() *BasicBlock {
    self.mutable()
    b := &BasicBlock{Id: len(self.blocks), owner: self}
    self.blocks = append(self.blocks, b)
    return b
}

// AllocTemp reserves a register in the owning frame.
func (self *CFG) AllocTemp() Reg {
    return self.code.AllocTemp()
}

// AllocTempWide reserves an adjacent register pair in the owning frame.
func (self *CFG) AllocTempWide() Reg {
    return self.code.AllocTempWide()
}

// ForEachInsn visits every instruction in block id order.
func (self *CFG) ForEachInsn(fn func(*Instruction) bool) {
    stop := false
    for _, b := range self.blocks {
        if b == nil || stop {
            continue
        }
        b.ForEachInsn(func(p *Instruction) bool {
            if !fn(p) {
                stop = true
            }
            return !stop
        })
    }
}

// ForEachBlock visits live blocks in id order.
func (self *CFG) ForEachBlock(fn func(*BasicBlock)) {
    for _, b := range self.blocks {
        if b != nil {
            fn(b)
        }
    }
}

func (self *CFG) mutable() {
    if !self.editable {
        panic("ir: cfg is not editable")
    }
}

/** Edge Management **/

func (self *CFG) link(e *Edge) *Edge {
    e.src.succs = append(e.src.succs, e)
    e.dst.preds = append(e.dst.preds, e)
    return e
}

// AddGotoEdge wires the unique fallthrough successor. Any existing goto
// edge is removed first.
func (self *CFG) AddGotoEdge(src *BasicBlock, dst *BasicBlock) *Edge {
    self.mutable()
    if e := src.GotoEdge(); e != nil {
        self.RemoveEdge(e)
    }
    return self.link(&Edge{src: src, dst: dst, kind: EdgeGoto})
}

// AddBranchEdge wires a conditional successor under the given case key.
func (self *CFG) AddBranchEdge(src *BasicBlock, dst *BasicBlock, key int32) *Edge {
    self.mutable()
    return self.link(&Edge{src: src, dst: dst, kind: EdgeBranch, key: key})
}

// AddThrowEdge wires a handler successor at the given priority index.
func (self *CFG) AddThrowEdge(src *BasicBlock, dst *BasicBlock, catch *Type, index int) *Edge {
    self.mutable()
    return self.link(&Edge{src: src, dst: dst, kind: EdgeThrow, catch: catch, index: index})
}

func (self *CFG) addGhostEdge(src *BasicBlock, dst *BasicBlock) *Edge {
    return self.link(&Edge{src: src, dst: dst, kind: EdgeGhost})
}

// RemoveEdge unlinks the edge from both endpoints.
func (self *CFG) RemoveEdge(e *Edge) {
    e.src.succs = cutEdge(e.src.succs, e)
    e.dst.preds = cutEdge(e.dst.preds, e)
}

// RedirectEdge retargets the edge at a new destination block.
func (self *CFG) RedirectEdge(e *Edge, dst *BasicBlock) {
    self.mutable()
    e.dst.preds = cutEdge(e.dst.preds, e)
    e.dst = dst
    dst.preds = append(dst.preds, e)
}

func cutEdge(es []*Edge, e *Edge) []*Edge {
    for i, p := range es {
        if p == e {
            return append(es[:i], es[i+1:]...)
        }
    }
    return es
}

// calculateExitBlock wires every return or throw terminated block into a
// single ghost exit node. Infinite loops with no natural exit get a ghost
// edge from an arbitrary loop block so backward analyses still terminate.
func (self *CFG) calculateExitBlock() {
    if self.exit != nil {
        return
    }

    /* candidate blocks with no non-ghost successors */
    var tails []*BasicBlock
    for _, b := range self.blocks {
        if b != nil && len(b.succs) == 0 {
            tails = append(tails, b)
        }
    }

    /* a sole tail block already is the exit */
    if len(tails) == 1 {
        self.exit = tails[0]
        return
    }

    /* ghost node collecting every tail */
    exit := &BasicBlock{Id: len(self.blocks), owner: self, ghost: true}
    self.blocks = append(self.blocks, exit)
    self.exit = exit
    for _, b := range tails {
        self.addGhostEdge(b, exit)
    }
}
