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

// DefaultMaxIterations bounds one component stabilization round count
// when the caller passes no cap of its own.
const DefaultMaxIterations = 20

// Analyzer supplies the transfer functions of one dataflow analysis.
//
// AnalyzeNode maps a node's pre-state to its post-state; AnalyzeEdge
// refines a post-state as it flows across an edge, and is where branch
// aware analyses prune infeasible successors. Both must be monotone.
type Analyzer interface {
    Bottom() Domain
    Entry() Domain
    AnalyzeNode(node int, pre Domain) Domain
    AnalyzeEdge(edge Edge, post Domain) Domain
}

// Iterator drives an Analyzer over a Graph to a fixpoint, chaotic
// iteration in weak topological order with widening at component heads.
// The graph must not change while the iterator is in use.
type Iterator struct {
    g        Graph
    a        Analyzer
    wto      *WTO
    cap      int
    pre      map[int]Domain
    post     map[int]Domain
    unstable bool
}

func NewIterator(g Graph, a Analyzer) *Iterator {
    return &Iterator {
        g   : g,
        a   : a,
        wto : BuildWTO(g),
    }
}

// WTO exposes the ordering the iterator runs in.
func (self *Iterator) WTO() *WTO {
    return self.wto
}

// Run iterates to a fixpoint or to maxIter rounds per component,
// whichever comes first. Non-positive caps mean DefaultMaxIterations.
// The widening operator takes over from join one round before the cap;
// hitting the cap regardless marks the result unstable.
func (self *Iterator) Run(maxIter int) {
    if maxIter <= 0 {
        maxIter = DefaultMaxIterations
    }
    self.cap = maxIter
    self.pre = make(map[int]Domain)
    self.post = make(map[int]Domain)
    self.unstable = false
    for _, e := range self.wto.Elements() {
        self.analyze(e)
    }
}

// Unstable reports whether any component hit the iteration cap before
// stabilizing. The states kept are the ones of the final round.
func (self *Iterator) Unstable() bool {
    return self.unstable
}

// PreOf is the state flowing into a node after Run.
func (self *Iterator) PreOf(node int) Domain {
    if st, ok := self.pre[node]; ok {
        return st
    }
    return self.a.Bottom()
}

// PostOf is the state flowing out of a node after Run.
func (self *Iterator) PostOf(node int) Domain {
    if st, ok := self.post[node]; ok {
        return st
    }
    return self.a.Bottom()
}

func (self *Iterator) analyze(e *Element) {
    if e.IsComponent() {
        self.component(e)
    } else {
        self.node(e.Head())
    }
}

func (self *Iterator) node(v int) {
    st := self.incoming(v)
    self.pre[v] = st
    self.post[v] = self.a.AnalyzeNode(v, st)
}

/* join of predecessor post-states, filtered through the edges; the
 * entry node additionally receives the boundary state */
func (self *Iterator) incoming(v int) Domain {
    st := self.a.Bottom()
    if v == self.g.EntryNode() {
        st = st.Join(self.a.Entry())
    }
    for _, e := range self.g.Preds(v) {
        if sp, ok := self.post[e.Src()]; ok && !sp.IsBottom() {
            st = st.Join(self.a.AnalyzeEdge(e, sp))
        }
    }
    return st
}

func (self *Iterator) component(c *Element) {
    h := c.Head()
    st := self.incoming(h)

    for round := 1; ; round++ {
        self.pre[h] = st
        self.post[h] = self.a.AnalyzeNode(h, st)

        /* body in order, nested components stabilize recursively */
        for _, e := range c.Body() {
            self.analyze(e)
        }

        /* the head absorbed its back edges, check for stabilization */
        np := self.incoming(h)
        if np.Leq(st) {
            return
        }

        /* keep going, extrapolating one round before the cap */
        switch {
            case round >= self.cap     : self.unstable = true; return
            case round >= self.cap - 1 : st = st.Widen(np)
            default                    : st = st.Join(np)
        }
    }
}
