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

// buildCFG partitions the linear list into basic blocks and wires the
// edges. Blocks break before target, catch and try marker entries, and
// after any instruction that terminates, branches, or can throw while a
// try region is active. A throwing instruction is therefore always the
// last instruction of its block, and its move-result-pseudo companion is
// the first instruction of the goto successor. Adjacent markers share one
// block, so a branch target that is also a handler head stays a single
// node.
func buildCFG(code *Code, editable bool) *CFG {
    cfg := &CFG{code: code, editable: editable}
    list := code.list

    /* empty bodies get a single empty entry block */
    if list.Empty() {
        b := &BasicBlock{Id: 0, owner: cfg}
        cfg.blocks = append(cfg.blocks, b)
        cfg.entry = b
        return cfg
    }

    var block *BasicBlock       /* block being assembled */
    var active *Entry           /* catch chain head of the open try region */
    var insns int               /* instruction entries in the current block */
    var split bool              /* boundary forced by the previous instruction */

    entryBlock := make(map[*Entry]*BasicBlock)
    blockCatch := make(map[*BasicBlock]*Entry)
    targetsOf := make(map[*Entry][]*Entry)

    open := func(e *Entry) {
        if block != nil {
            block.end = e
        }
        block = &BasicBlock{Id: len(cfg.blocks), owner: cfg, begin: e}
        cfg.blocks = append(cfg.blocks, block)
        insns = 0
        split = false
    }

    /* pass 1: cut blocks and record marker locations */
    for e := list.Front(); e != nil; e = e.Next() {
        marker := false
        switch e.kind {
            case EntryTarget, EntryCatch, EntryTryStart, EntryTryEnd:
                marker = true
        }

        /* markers break after instructions, everything breaks after a
         * terminating or region-splitting instruction */
        if block == nil || split || (marker && insns > 0) {
            open(e)
        }

        /* membership must be recorded after the break decision */
        entryBlock[e] = block

        switch e.kind {
            case EntryTryStart:
                active = e.TryCatch

            case EntryTryEnd:
                active = nil

            case EntryTarget:
                src := e.Target.Src
                targetsOf[src] = append(targetsOf[src], e)

            case EntryInsn:
                op := e.Insn.Op()
                insns++
                blockCatch[block] = active
                if op.Terminates() || op.IsConditional() || (active != nil && op.CanThrow()) {
                    split = true
                }
        }
    }

    cfg.entry = cfg.blocks[0]

    /* pass 2: wire the edges */
    for i, b := range cfg.blocks {
        var next *BasicBlock
        if i+1 < len(cfg.blocks) {
            next = cfg.blocks[i+1]
        }
        wireBlock(cfg, b, next, entryBlock, blockCatch[b], targetsOf)
    }

    /* pass 3: editable graphs own their entries, markers dissolve */
    if editable {
        for _, b := range cfg.blocks {
            adoptEntries(list, b)
        }
    }
    return cfg
}

func wireBlock(cfg *CFG, b *BasicBlock, next *BasicBlock, entryBlock map[*Entry]*BasicBlock, catchHead *Entry, targetsOf map[*Entry][]*Entry) {
    last := b.LastInsn()

    /* marker-only blocks fall through */
    if last == nil {
        if next != nil {
            cfg.link(&Edge{src: b, dst: next, kind: EdgeGoto})
        }
        return
    }

    /* explicit control transfer */
    op := last.Insn.Op()
    switch op.Fam() {
        case FamGoto:
            for _, t := range targetsOf[last] {
                cfg.link(&Edge{src: b, dst: entryBlock[t], kind: EdgeGoto})
            }

        case FamIf:
            for _, t := range targetsOf[last] {
                cfg.link(&Edge{src: b, dst: entryBlock[t], kind: EdgeBranch, key: 1})
            }
            if next != nil {
                cfg.link(&Edge{src: b, dst: next, kind: EdgeGoto})
            }

        case FamSwitch:
            for _, t := range targetsOf[last] {
                cfg.link(&Edge{src: b, dst: entryBlock[t], kind: EdgeBranch, key: t.Target.Case})
            }
            if next != nil {
                cfg.link(&Edge{src: b, dst: next, kind: EdgeGoto})
            }

        case FamReturn, FamThrow, FamUnreachable:
            /* no fallthrough */

        default:
            if next != nil {
                cfg.link(&Edge{src: b, dst: next, kind: EdgeGoto})
            }
    }

    /* handler edges, one per catch in declared order */
    if catchHead != nil && op.CanThrow() {
        i := 0
        for e := catchHead; e != nil; e = e.Catch.Next {
            cfg.link(&Edge{src: b, dst: entryBlock[e], kind: EdgeThrow, catch: e.Catch.Type, index: i})
            i++
        }
    }
}

// adoptEntries moves the block's range out of the shared list into the
// block's own list, dropping the marker entries that edges now encode.
func adoptEntries(list *InstructionList, b *BasicBlock) {
    p := b.begin
    for p != nil && p != b.end {
        q := p.next
        list.Remove(p)
        switch p.kind {
            case EntryTarget, EntryTryStart, EntryTryEnd, EntryCatch:
                /* dropped, represented by edges */
            default:
                b.list.PushBack(p)
        }
        p = q
    }
    b.begin, b.end = nil, nil
}
