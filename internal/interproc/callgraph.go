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

package interproc

import (
    `sort`

    `gonum.org/v1/gonum/graph/simple`
    `gonum.org/v1/gonum/graph/topo`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/dexter/internal/resolver`
)

// CallGraph is the single callee approximation of the program's calls:
// one node per concrete method, one edge per invoke whose callee
// resolves to exactly one definition with a body. Virtual and interface
// invokes count as resolved only when the target is never overridden,
// everything else is an unresolved call.
//
// Self calls stay out of the underlying graph, which rejects loop
// edges; they are tracked on the side and still listed among callees.
type CallGraph struct {
    g       *simple.DirectedGraph
    res     *resolver.Resolver
    ovr     *resolver.OverrideGraph
    ids     map[*ir.MethodRef]int64
    refs    map[int64]*ir.MethodRef
    callees map[*ir.MethodRef][]*ir.MethodRef
    selfrec map[*ir.MethodRef]bool
    open    map[*ir.MethodRef]bool
}

// BuildCallGraph indexes every concrete method of the scope and wires
// the calls their bodies make. The override graph may be nil, in which
// case all virtual and interface invokes stay unresolved.
func BuildCallGraph(scope *ir.Scope, res *resolver.Resolver, ovr *resolver.OverrideGraph) *CallGraph {
    ret := &CallGraph {
        g       : simple.NewDirectedGraph(),
        res     : res,
        ovr     : ovr,
        ids     : make(map[*ir.MethodRef]int64),
        refs    : make(map[int64]*ir.MethodRef),
        callees : make(map[*ir.MethodRef][]*ir.MethodRef),
        selfrec : make(map[*ir.MethodRef]bool),
        open    : make(map[*ir.MethodRef]bool),
    }
    scope.ForEachMethod(func(m *ir.MethodRef) {
        id := int64(len(ret.ids))
        ret.ids[m] = id
        ret.refs[id] = m
        ret.g.AddNode(simple.Node(id))
    })
    scope.ForEachCode(func(m *ir.MethodRef, code *ir.Code) {
        ret.connect(m, code)
    })
    return ret
}

func (self *CallGraph) connect(m *ir.MethodRef, code *ir.Code) {
    seen := make(map[*ir.MethodRef]bool)
    code.ForEachInsn(func(p *ir.Instruction) bool {
        if !p.Op().IsInvoke() {
            return true
        }
        callee := self.CalleeOf(p)
        if callee == nil {
            self.open[m] = true
            return true
        }
        if seen[callee] {
            return true
        }
        seen[callee] = true
        self.callees[m] = append(self.callees[m], callee)
        if callee == m {
            self.selfrec[m] = true
        } else {
            self.g.SetEdge(self.g.NewEdge(simple.Node(self.ids[m]), simple.Node(self.ids[callee])))
        }
        return true
    })
}

// CalleeOf resolves one invoke to its unique body-bearing target, nil
// when the call may dispatch elsewhere.
func (self *CallGraph) CalleeOf(p *ir.Instruction) *ir.MethodRef {
    kind, virt := searchKindOf(p.Op())
    callee := self.res.ResolveMethod(p.Method(), kind)
    if callee == nil || callee.Code() == nil {
        return nil
    }
    if virt && (self.ovr == nil || len(self.ovr.Overriders(callee)) != 0) {
        return nil
    }
    if _, ok := self.ids[callee]; !ok {
        return nil
    }
    return callee
}

func searchKindOf(op ir.Op) (resolver.MethodSearch, bool) {
    switch op {
        case ir.OpInvokeStatic, ir.OpInvokeStaticRange       : return resolver.SearchStatic, false
        case ir.OpInvokeDirect, ir.OpInvokeDirectRange       : return resolver.SearchDirect, false
        case ir.OpInvokeSuper, ir.OpInvokeSuperRange         : return resolver.SearchSuper, false
        case ir.OpInvokeInterface, ir.OpInvokeInterfaceRange : return resolver.SearchInterface, true
        default                                              : return resolver.SearchVirtual, true
    }
}

// Callees lists m's resolved targets in first-call order, m itself
// included when it calls itself.
func (self *CallGraph) Callees(m *ir.MethodRef) []*ir.MethodRef {
    return self.callees[m]
}

// IsSelfRecursive reports whether m directly calls itself.
func (self *CallGraph) IsSelfRecursive(m *ir.MethodRef) bool {
    return self.selfrec[m]
}

// HasUnresolved reports whether m makes at least one call the graph
// could not pin to a single body.
func (self *CallGraph) HasUnresolved(m *ir.MethodRef) bool {
    return self.open[m]
}

func (self *CallGraph) NumMethods() int {
    return len(self.ids)
}

// ForEachSCC hands out the strongly connected components callees first,
// so summaries of leaf methods settle before their callers read them.
// Members of one component come ordered by deobfuscated name then raw
// descriptor.
func (self *CallGraph) ForEachSCC(fn func([]*ir.MethodRef)) {
    for _, scc := range topo.TarjanSCC(self.g) {
        ms := make([]*ir.MethodRef, 0, len(scc))
        for _, n := range scc {
            ms = append(ms, self.refs[n.ID()])
        }
        sort.Slice(ms, func(i int, j int) bool {
            return ms[i].OrderKey() < ms[j].OrderKey()
        })
        fn(ms)
    }
}
