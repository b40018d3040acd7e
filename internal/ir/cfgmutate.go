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

// PushBack appends an instruction to the block.
func (self *BasicBlock) PushBack(p *Instruction) *Entry {
    self.owner.mutable()
    e := NewInsnEntry(p)
    self.list.PushBack(e)
    return e
}

// PushFront prepends an instruction to the block, after any leading
// positions and source blocks.
func (self *BasicBlock) PushFront(p *Instruction) *Entry {
    self.owner.mutable()
    e := NewInsnEntry(p)
    if at := self.FirstInsn(); at != nil {
        self.list.InsertBefore(at, e)
    } else {
        self.list.PushBack(e)
    }
    return e
}

// InsertBefore places an instruction before the given entry of this block.
func (self *BasicBlock) InsertBefore(at *Entry, p *Instruction) *Entry {
    self.owner.mutable()
    e := NewInsnEntry(p)
    self.list.InsertBefore(at, e)
    return e
}

// InsertAfter places an instruction after the given entry of this block.
func (self *BasicBlock) InsertAfter(at *Entry, p *Instruction) *Entry {
    self.owner.mutable()
    e := NewInsnEntry(p)
    self.list.InsertAfter(at, e)
    return e
}

// MoveResultOf locates the companion move-result or move-result-pseudo of
// the instruction at e, which sits either right after it in the same block
// or at the head of the goto successor.
func (self *CFG) MoveResultOf(b *BasicBlock, e *Entry) (*BasicBlock, *Entry) {
    if !e.Insn.Op().HasMoveResult() {
        return nil, nil
    }
    for p := e.next; p != nil; p = p.next {
        if p.kind == EntryInsn {
            if p.Insn.Op().IsMoveResult() || p.Insn.Op().Fam() == FamMoveResultPseudo {
                return b, p
            }
            return nil, nil
        }
    }
    if s := b.GotoSucc(); s != nil {
        if p := s.FirstInsn(); p != nil {
            if p.Insn.Op().IsMoveResult() || p.Insn.Op().Fam() == FamMoveResultPseudo {
                return s, p
            }
        }
    }
    return nil, nil
}

// InsertAfterResult places an instruction after e and its move-result
// companion if one exists, returning the block and entry of the inserted
// instruction.
func (self *CFG) InsertAfterResult(b *BasicBlock, e *Entry, p *Instruction) (*BasicBlock, *Entry) {
    if mb, me := self.MoveResultOf(b, e); me != nil {
        return mb, mb.InsertAfter(me, p)
    }
    return b, b.InsertAfter(e, p)
}

// RemoveInsn unlinks the instruction at e from block b and keeps the edge
// set consistent: a removed conditional drops its branch edges, and a
// block left with no throwing instruction drops its throw edges. The
// move-result companion of a removed producer goes with it.
func (self *CFG) RemoveInsn(b *BasicBlock, e *Entry) {
    self.mutable()
    op := e.Insn.Op()

    if mb, me := self.MoveResultOf(b, e); me != nil {
        mb.list.Remove(me)
    }
    b.list.Remove(e)

    switch op.Fam() {
        case FamIf, FamSwitch:
            for _, x := range b.BranchEdges() {
                self.RemoveEdge(x)
            }
    }

    if op.CanThrow() && b.InTry() {
        throwing := false
        b.ForEachInsn(func(p *Instruction) bool {
            throwing = throwing || p.Op().CanThrow()
            return !throwing
        })
        if !throwing {
            for _, x := range b.ThrowEdges() {
                self.RemoveEdge(x)
            }
        }
    }
}

// SplitBlock cuts the block in two after the given entry. Every later
// entry moves into a fresh block, which also takes over the original's
// successor edges; the halves are left unconnected for the caller to
// rewire.
func (self *CFG) SplitBlock(b *BasicBlock, at *Entry) *BasicBlock {
    self.mutable()
    nb := self.AllocBlock()

    /* move the tail entries */
    for e := at.next; e != nil; {
        q := e.next
        b.list.Remove(e)
        nb.list.PushBack(e)
        e = q
    }

    /* hand over the successors */
    for _, e := range append([]*Edge(nil), b.succs...) {
        b.succs = cutEdge(b.succs, e)
        e.src = nb
        nb.succs = append(nb.succs, e)
    }
    if b == self.exit {
        self.exit = nil
    }
    return nb
}

// RemoveBlock disconnects the block from the graph and frees its id slot.
func (self *CFG) RemoveBlock(b *BasicBlock) {
    self.mutable()
    if b == self.entry {
        panic("ir: cannot remove the entry block")
    }
    for _, e := range append([]*Edge(nil), b.preds...) {
        self.RemoveEdge(e)
    }
    for _, e := range append([]*Edge(nil), b.succs...) {
        self.RemoveEdge(e)
    }
    if b == self.exit {
        self.exit = nil
    }
    self.blocks[b.Id] = nil
}

// RemoveUnreachable deletes every block not reachable from the entry and
// reports how many instructions went with them.
func (self *CFG) RemoveUnreachable() int {
    self.mutable()
    seen := make(map[int]bool, len(self.blocks))
    stack := []*BasicBlock{self.entry}
    seen[self.entry.Id] = true

    for len(stack) > 0 {
        b := stack[len(stack)-1]
        stack = stack[:len(stack)-1]
        for _, e := range b.succs {
            if !seen[e.dst.Id] {
                seen[e.dst.Id] = true
                stack = append(stack, e.dst)
            }
        }
    }

    removed := 0
    for _, b := range self.Blocks() {
        if !seen[b.Id] {
            removed += b.InsnCount()
            self.RemoveBlock(b)
        }
    }
    return removed
}

// Simplify merges straight-line block pairs: a block whose only successor
// is a goto edge absorbs it when that successor has no other predecessor.
// Trailing explicit gotos dissolve into the merge.
func (self *CFG) Simplify() {
    self.mutable()
    changed := true

    for changed {
        changed = false
        for _, b := range self.Blocks() {
            if len(b.succs) != 1 || b.succs[0].kind != EdgeGoto {
                continue
            }
            s := b.succs[0].dst
            if s == b || s == self.entry || s.ghost || len(s.preds) != 1 {
                continue
            }

            /* an explicit goto is now interior, drop it */
            if last := b.LastInsn(); last != nil && last.Insn.Op().Fam() == FamGoto {
                b.list.Remove(last)
            }

            /* absorb the successor */
            self.RemoveEdge(b.succs[0])
            b.list.SpliceBack(&s.list)
            for _, e := range append([]*Edge(nil), s.succs...) {
                s.succs = cutEdge(s.succs, e)
                e.src = b
                b.succs = append(b.succs, e)
            }
            if s == self.exit {
                self.exit = b
            }
            self.blocks[s.Id] = nil
            changed = true
            break
        }
    }
}
