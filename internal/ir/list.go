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

// EntryKind discriminates the records of an InstructionList.
type EntryKind uint8

const (
    EntryInsn EntryKind = iota
    EntryPosition
    EntryTryStart
    EntryTryEnd
    EntryCatch
    EntryTarget
    EntrySourceBlock
)

// BranchTargetKind distinguishes plain goto/if targets from switch case
// targets.
type BranchTargetKind uint8

const (
    TargetSimple BranchTargetKind = iota
    TargetCase
)

// BranchTarget marks an entry as the destination of a branch. Src points
// back at the branching instruction entry.
type BranchTarget struct {
    Kind BranchTargetKind
    Src  *Entry
    Case int32
}

// CatchEntry is one handler of a try region. A nil Type is the catch-all
// handler. Next chains to the following handler in priority order.
type CatchEntry struct {
    Type *Type
    Next *Entry
}

// SourceBlock carries profiling provenance for the block it opens.
type SourceBlock struct {
    Method *MethodRef
    ID     uint32
}

// Entry is one record of an InstructionList. Kind decides which payload
// field is set. Try-start and try-end entries share the same catch chain
// head through TryCatch.
type Entry struct {
    prev     *Entry
    next     *Entry
    kind     EntryKind
    Insn     *Instruction
    Pos      *Position
    Catch    *CatchEntry
    Target   *BranchTarget
    TryCatch *Entry
    SB       *SourceBlock
}

func (self *Entry) Kind() EntryKind { return self.kind }
func (self *Entry) Prev() *Entry    { return self.prev }
func (self *Entry) Next() *Entry    { return self.next }

// NextInsn walks forward to the nearest instruction entry, including self.
func (self *Entry) NextInsn() *Entry {
    p := self
    for p != nil && p.kind != EntryInsn {
        p = p.next
    }
    return p
}

func NewInsnEntry(insn *Instruction) *Entry {
    return &Entry{kind: EntryInsn, Insn: insn}
}

func NewPositionEntry(pos *Position) *Entry {
    return &Entry{kind: EntryPosition, Pos: pos}
}

func NewTargetEntry(t *BranchTarget) *Entry {
    return &Entry{kind: EntryTarget, Target: t}
}

func NewCatchEntryNode(t *Type) *Entry {
    return &Entry{kind: EntryCatch, Catch: &CatchEntry{Type: t}}
}

func NewTryStart(catchHead *Entry) *Entry {
    return &Entry{kind: EntryTryStart, TryCatch: catchHead}
}

func NewTryEnd(catchHead *Entry) *Entry {
    return &Entry{kind: EntryTryEnd, TryCatch: catchHead}
}

func NewSourceBlockEntry(sb *SourceBlock) *Entry {
    return &Entry{kind: EntrySourceBlock, SB: sb}
}

// InstructionList is a doubly linked sequence of entries. Entries are
// owned by exactly one list at a time; splicing moves ownership.
type InstructionList struct {
    head  *Entry
    tail  *Entry
    count int
}

func (self *InstructionList) Len() int      { return self.count }
func (self *InstructionList) Empty() bool   { return self.count == 0 }
func (self *InstructionList) Front() *Entry { return self.head }
func (self *InstructionList) Back() *Entry  { return self.tail }

func (self *InstructionList) PushBack(e *Entry) {
    e.prev = self.tail
    e.next = nil
    if self.tail != nil {
        self.tail.next = e
    } else {
        self.head = e
    }
    self.tail = e
    self.count++
}

func (self *InstructionList) PushFront(e *Entry) {
    e.prev = nil
    e.next = self.head
    if self.head != nil {
        self.head.prev = e
    } else {
        self.tail = e
    }
    self.head = e
    self.count++
}

// InsertBefore links e immediately before at, which must be a member of
// this list.
func (self *InstructionList) InsertBefore(at *Entry, e *Entry) {
    if at == self.head {
        self.PushFront(e)
        return
    }
    e.prev = at.prev
    e.next = at
    at.prev.next = e
    at.prev = e
    self.count++
}

// InsertAfter links e immediately after at, which must be a member of this
// list.
func (self *InstructionList) InsertAfter(at *Entry, e *Entry) {
    if at == self.tail {
        self.PushBack(e)
        return
    }
    e.prev = at
    e.next = at.next
    at.next.prev = e
    at.next = e
    self.count++
}

// Remove unlinks e. The entry keeps its payload and may be reinserted.
func (self *InstructionList) Remove(e *Entry) {
    if e.prev != nil {
        e.prev.next = e.next
    } else {
        self.head = e.next
    }
    if e.next != nil {
        e.next.prev = e.prev
    } else {
        self.tail = e.prev
    }
    e.prev = nil
    e.next = nil
    self.count--
}

// SpliceBack moves every entry of other to the end of self, leaving other
// empty.
func (self *InstructionList) SpliceBack(other *InstructionList) {
    if other.count == 0 {
        return
    }
    if self.tail != nil {
        self.tail.next = other.head
        other.head.prev = self.tail
        self.tail = other.tail
    } else {
        self.head, self.tail = other.head, other.tail
    }
    self.count += other.count
    other.head, other.tail, other.count = nil, nil, 0
}

// ForEach visits every entry in order. Returning false stops the walk.
// The callback must not unlink the entry it is visiting.
func (self *InstructionList) ForEach(fn func(*Entry) bool) {
    for p := self.head; p != nil; {
        q := p.next
        if !fn(p) {
            return
        }
        p = q
    }
}

// ForEachInsn visits every instruction entry in order.
func (self *InstructionList) ForEachInsn(fn func(*Instruction) bool) {
    self.ForEach(func(e *Entry) bool {
        if e.kind != EntryInsn {
            return true
        }
        return fn(e.Insn)
    })
}

// CountInsns returns the number of instruction entries.
func (self *InstructionList) CountInsns() int {
    n := 0
    self.ForEachInsn(func(*Instruction) bool { n++; return true })
    return n
}

// FirstInsn returns the first instruction entry, or nil.
func (self *InstructionList) FirstInsn() *Entry {
    if self.head == nil {
        return nil
    }
    return self.head.NextInsn()
}

// LastInsn returns the last instruction entry, or nil.
func (self *InstructionList) LastInsn() *Entry {
    for p := self.tail; p != nil; p = p.prev {
        if p.kind == EntryInsn {
            return p
        }
    }
    return nil
}
