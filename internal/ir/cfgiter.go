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
    `github.com/oleiade/lane`
)

// BlockIter walks the blocks reachable from the entry in depth-first post
// order.
type BlockIter struct {
    g *CFG
    b *BasicBlock
    s *lane.Stack
    v map[int]struct{}
}

func newBlockIter(cfg *CFG) *BlockIter {
    s := lane.NewStack()
    s.Push(cfg.entry)
    return &BlockIter {
        g: cfg,
        s: s,
        v: map[int]struct{}{ cfg.entry.Id: {} },
    }
}

func (self *BlockIter) Next() bool {
    var tail bool
    var this *BasicBlock

    /* scan until the stack is empty */
    for !self.s.Empty() {
        tail = true
        this = self.s.Head().(*BasicBlock)

        /* add all the successors */
        for _, e := range this.succs {
            if _, ok := self.v[e.dst.Id]; !ok {
                tail = false
                self.v[e.dst.Id] = struct{}{}
                self.s.Push(e.dst)
                break
            }
        }

        /* all the successors are visited, pop the current node */
        if tail {
            self.b = self.s.Pop().(*BasicBlock)
            return true
        }
    }

    /* clear the basic block pointer to indicate no more blocks */
    self.b = nil
    return false
}

func (self *BlockIter) Block() *BasicBlock {
    return self.b
}

func (self *BlockIter) ForEach(action func(bb *BasicBlock)) {
    for self.Next() {
        action(self.b)
    }
}

// PostOrder collects the reachable blocks in depth-first post order.
func (self *CFG) PostOrder() []*BasicBlock {
    it := newBlockIter(self)
    ret := make([]*BasicBlock, 0, len(self.blocks))
    for it.Next() {
        ret = append(ret, it.b)
    }
    return ret
}

// ReversePostOrder collects the reachable blocks in reverse post order,
// the natural iteration order for forward analyses.
func (self *CFG) ReversePostOrder() []*BasicBlock {
    ret := self.PostOrder()
    for i, j := 0, len(ret)-1; i < j; i, j = i+1, j-1 {
        ret[i], ret[j] = ret[j], ret[i]
    }
    return ret
}
