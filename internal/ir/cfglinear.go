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
    `fmt`
    `strings`
)

// linearize serializes an editable graph back into one instruction list.
// Blocks are laid out in goto chains starting from the entry, trailing
// gotos that land on the next block are elided, missing fallthroughs get a
// fresh goto, and try regions and catch chains are re-materialized from
// the throw edges.
func linearize(cfg *CFG) *InstructionList {
    out := new(InstructionList)

    /* lay out blocks following goto chains, remaining blocks by id */
    order := layout(cfg)
    next := make(map[*BasicBlock]*BasicBlock)
    for i, b := range order {
        if i+1 < len(order) {
            next[b] = order[i+1]
        }
    }

    prefix := make(map[*BasicBlock][]*Entry)   /* catch and target entries before the block */
    elide := make(map[*BasicBlock]*Entry)      /* trailing goto dropped by fallthrough */
    appendGoto := make(map[*BasicBlock]*Entry) /* goto synthesized after the block */
    region := make(map[*BasicBlock]string)     /* try region identity per block */
    chainHead := make(map[string]*Entry)       /* region identity to first catch entry */

    for _, b := range order {
        planBranches(b, next[b], prefix, elide, appendGoto)
        planThrows(b, prefix, region, chainHead)
    }

    /* emit: region close, catch and target markers, region open, block body */
    open := ""
    for _, b := range order {
        ck := region[b]
        if open != ck && open != "" {
            out.PushBack(NewTryEnd(chainHead[open]))
        }
        for _, m := range prefix[b] {
            out.PushBack(m)
        }
        if open != ck {
            if ck != "" {
                out.PushBack(NewTryStart(chainHead[ck]))
            }
            open = ck
        }
        for !b.list.Empty() {
            e := b.list.Front()
            b.list.Remove(e)
            if e != elide[b] {
                out.PushBack(e)
            }
        }
        if g := appendGoto[b]; g != nil {
            out.PushBack(g)
        }
    }
    if open != "" {
        out.PushBack(NewTryEnd(chainHead[open]))
    }
    return out
}

// layout orders the live non-ghost blocks, extending a chain along goto
// edges so move-result companions stay adjacent to their producers.
func layout(cfg *CFG) []*BasicBlock {
    var order []*BasicBlock
    seen := make(map[int]bool)

    chain := func(b *BasicBlock) {
        for b != nil && !seen[b.Id] && !b.ghost {
            seen[b.Id] = true
            order = append(order, b)
            b = b.GotoSucc()
        }
    }

    chain(cfg.entry)
    for _, b := range cfg.blocks {
        if b != nil && !b.ghost && !seen[b.Id] {
            chain(b)
        }
    }
    return order
}

// planBranches decides goto elision and synthesis for one block and
// registers target entries at the destinations of its explicit branches.
func planBranches(b *BasicBlock, nxt *BasicBlock, prefix map[*BasicBlock][]*Entry, elide map[*BasicBlock]*Entry, appendGoto map[*BasicBlock]*Entry) {
    last := b.LastInsn()
    explicit := last != nil && last.Insn.Op().Fam() == FamGoto

    if e := b.GotoEdge(); e != nil {
        switch {
            case e.dst == nxt && explicit:
                elide[b] = last

            case e.dst != nxt && explicit:
                prefix[e.dst] = append(prefix[e.dst], NewTargetEntry(&BranchTarget{Kind: TargetSimple, Src: last}))

            case e.dst != nxt:
                g := NewInsnEntry(NewInsn(OpGoto))
                appendGoto[b] = g
                prefix[e.dst] = append(prefix[e.dst], NewTargetEntry(&BranchTarget{Kind: TargetSimple, Src: g}))
        }
    }

    if last == nil {
        return
    }

    switch last.Insn.Op().Fam() {
        case FamIf:
            for _, e := range b.BranchEdges() {
                prefix[e.dst] = append(prefix[e.dst], NewTargetEntry(&BranchTarget{Kind: TargetSimple, Src: last}))
            }
        case FamSwitch:
            for _, e := range b.BranchEdges() {
                prefix[e.dst] = append(prefix[e.dst], NewTargetEntry(&BranchTarget{Kind: TargetCase, Src: last, Case: e.key}))
            }
    }
}

// planThrows recreates the catch chain for the block's throw edges. Blocks
// with identical chains share one chain instance, and adjacent ones will
// share one try region.
func planThrows(b *BasicBlock, prefix map[*BasicBlock][]*Entry, region map[*BasicBlock]string, chainHead map[string]*Entry) {
    edges := b.ThrowEdges()
    if len(edges) == 0 {
        return
    }

    /* region identity is the ordered handler list */
    key := new(strings.Builder)
    for _, e := range edges {
        if e.catch != nil {
            fmt.Fprintf(key, "%d>%d;", e.catch.Uid(), e.dst.Id)
        } else {
            fmt.Fprintf(key, "*>%d;", e.dst.Id)
        }
    }
    ck := key.String()
    region[b] = ck

    if _, ok := chainHead[ck]; ok {
        return
    }

    /* materialize the chain, each catch entry lands before its handler */
    var prev *Entry
    for _, e := range edges {
        c := NewCatchEntryNode(e.catch)
        prefix[e.dst] = append(prefix[e.dst], c)
        if prev == nil {
            chainHead[ck] = c
        } else {
            prev.Catch.Next = c
        }
        prev = c
    }
}
