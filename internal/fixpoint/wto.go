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
    `math`
    `strconv`
    `strings`

    `github.com/oleiade/lane`
)

// Element is one entry of a weak topological ordering: either a plain
// node, or a component whose Head closes a cycle and whose Body lists
// the nested elements after the head.
type Element struct {
    head int
    comp bool
    body []*Element
}

func (self *Element) Head() int         { return self.head }
func (self *Element) IsComponent() bool { return self.comp }
func (self *Element) Body() []*Element  { return self.body }

func (self *Element) str(sb *strings.Builder) {
    if !self.comp {
        sb.WriteString(strconv.Itoa(self.head))
        return
    }
    sb.WriteByte('(')
    sb.WriteString(strconv.Itoa(self.head))
    for _, e := range self.body {
        sb.WriteByte(' ')
        e.str(sb)
    }
    sb.WriteByte(')')
}

// WTO is a weak topological ordering of the nodes reachable from the
// graph entry, computed with Bourdoncle's recursive strategy. Component
// heads are exactly the widening points of the fixpoint iteration.
type WTO struct {
    elems []*Element
}

// BuildWTO orders the nodes reachable from g's entry. Nodes the entry
// cannot reach do not appear.
func BuildWTO(g Graph) *WTO {
    b := _WtoBuilder {
        g   : g,
        dfn : make(map[int]int),
        stk : lane.NewStack(),
    }
    var part []*Element
    b.visit(g.EntryNode(), &part)
    revelems(part)
    return &WTO { elems: part }
}

func (self *WTO) Elements() []*Element {
    return self.elems
}

// Heads lists every component head, outermost first.
func (self *WTO) Heads() []int {
    var ret []int
    var rec func([]*Element)
    rec = func(es []*Element) {
        for _, e := range es {
            if e.comp {
                ret = append(ret, e.head)
                rec(e.body)
            }
        }
    }
    rec(self.elems)
    return ret
}

// ForEachNode flattens the ordering, heads before their bodies.
func (self *WTO) ForEachNode(fn func(node int)) {
    var rec func([]*Element)
    rec = func(es []*Element) {
        for _, e := range es {
            fn(e.head)
            rec(e.body)
        }
    }
    rec(self.elems)
}

// String renders the classic parenthesized form, e.g. "1 2 (3 4 (5 6) 7) 8".
func (self *WTO) String() string {
    sb := new(strings.Builder)
    for i, e := range self.elems {
        if i != 0 {
            sb.WriteByte(' ')
        }
        e.str(sb)
    }
    return sb.String()
}

const _DfnDone = math.MaxInt

type _WtoBuilder struct {
    g   Graph
    num int
    dfn map[int]int
    stk *lane.Stack
}

func (self *_WtoBuilder) visit(v int, part *[]*Element) int {
    self.stk.Push(v)
    self.num++
    self.dfn[v] = self.num
    head, loop := self.dfn[v], false

    /* depth first over the successors, keeping the smallest head
     * reachable through any of them */
    for _, e := range self.g.Succs(v) {
        w := e.Dst()
        min := self.dfn[w]
        if min == 0 {
            min = self.visit(w, part)
        }
        if min <= head {
            head, loop = min, true
        }
    }

    /* not the head of anything, leave it on the stack */
    if head != self.dfn[v] {
        return head
    }

    /* plain vertex */
    self.dfn[v] = _DfnDone
    u := self.stk.Pop().(int)
    if !loop {
        *part = append(*part, &Element { head: v })
        return head
    }

    /* collapse the cycle and rebuild it as a nested component */
    for u != v {
        self.dfn[u] = 0
        u = self.stk.Pop().(int)
    }
    *part = append(*part, self.component(v))
    return head
}

func (self *_WtoBuilder) component(v int) *Element {
    var body []*Element
    for _, e := range self.g.Succs(v) {
        if self.dfn[e.Dst()] == 0 {
            self.visit(e.Dst(), &body)
        }
    }
    revelems(body)
    return &Element { head: v, comp: true, body: body }
}

/* visit finishes nodes in reverse order, flip each level once */
func revelems(es []*Element) {
    for i, j := 0, len(es) - 1; i < j; i, j = i + 1, j - 1 {
        es[i], es[j] = es[j], es[i]
    }
}
