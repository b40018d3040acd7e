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
    `github.com/bytedance/dexter/internal/ir`
)

// Edge is a directed edge between two graph nodes.
type Edge interface {
    Src() int
    Dst() int
}

// Graph is the view an analysis has of a control flow graph. Nodes are
// small non-negative integers. Succs and Preds enumerate edges in a
// fixed order, which keeps the whole iteration deterministic.
type Graph interface {
    EntryNode() int
    Succs(node int) []Edge
    Preds(node int) []Edge
}

/* forward view of a control flow graph */

type _FwdEdge struct {
    e *ir.Edge
}

func (self _FwdEdge) Src() int          { return self.e.Src().Id }
func (self _FwdEdge) Dst() int          { return self.e.Dst().Id }
func (self _FwdEdge) Edge() *ir.Edge    { return self.e }

type _FwdGraph struct {
    g *ir.CFG
}

// ForwardCFG views a control flow graph in execution direction.
func ForwardCFG(g *ir.CFG) Graph {
    return _FwdGraph { g }
}

func (self _FwdGraph) EntryNode() int       { return self.g.Entry().Id }
func (self _FwdGraph) Succs(v int) []Edge   { return fwdedges(self.g.Block(v).Succs()) }
func (self _FwdGraph) Preds(v int) []Edge   { return fwdedges(self.g.Block(v).Preds()) }

func fwdedges(es []*ir.Edge) []Edge {
    ret := make([]Edge, len(es))
    for i, e := range es { ret[i] = _FwdEdge { e } }
    return ret
}

/* backward view, entry at the ghost exit, every edge reversed */

type _BwdEdge struct {
    e *ir.Edge
}

func (self _BwdEdge) Src() int          { return self.e.Dst().Id }
func (self _BwdEdge) Dst() int          { return self.e.Src().Id }
func (self _BwdEdge) Edge() *ir.Edge    { return self.e }

type _BwdGraph struct {
    g *ir.CFG
}

// BackwardCFG views a control flow graph against execution direction,
// as liveness style analyses iterate it. Materializes the ghost exit.
func BackwardCFG(g *ir.CFG) Graph {
    return _BwdGraph { g }
}

func (self _BwdGraph) EntryNode() int       { return self.g.Exit().Id }
func (self _BwdGraph) Succs(v int) []Edge   { return bwdedges(self.g.Block(v).Preds()) }
func (self _BwdGraph) Preds(v int) []Edge   { return bwdedges(self.g.Block(v).Succs()) }

func bwdedges(es []*ir.Edge) []Edge {
    ret := make([]Edge, len(es))
    for i, e := range es { ret[i] = _BwdEdge { e } }
    return ret
}

// CFGEdge recovers the control flow edge behind a graph view edge, in
// its original direction. Edges of synthetic graphs yield nil.
func CFGEdge(e Edge) *ir.Edge {
    if v, ok := e.(interface { Edge() *ir.Edge }); ok {
        return v.Edge()
    } else {
        return nil
    }
}
