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

package resolver

import (
    `github.com/oleiade/lane`

    `github.com/bytedance/dexter/internal/ir`
)

// OverrideGraph is the immediate override relation among virtual methods.
// A method's parents are the nearest same-signature method up the
// superclass chain plus the interface methods it implements; children is
// the inverse. Edges follow scope order, so walks are deterministic.
type OverrideGraph struct {
    parents  map[*ir.MethodRef][]*ir.MethodRef
    children map[*ir.MethodRef][]*ir.MethodRef
}

func BuildOverrides(ch *ClassHierarchy) *OverrideGraph {
    g := &OverrideGraph {
        parents  : make(map[*ir.MethodRef][]*ir.MethodRef),
        children : make(map[*ir.MethodRef][]*ir.MethodRef),
    }

    ch.Scope().ForEachClass(func(c *ir.Class) {
        for _, m := range c.VirtualMethods() {
            if c.IsInterface() {
                g.linkIfaceUp(ch, m, c.Interfaces(), make(map[*ir.Type]bool))
            } else if p := findSuperDecl(ch, c.Super(), m); p != nil {
                g.link(m, p)
            }
        }
        if !c.IsInterface() {
            g.linkImpls(ch, c)
        }
    })
    return g
}

func (self *OverrideGraph) link(child *ir.MethodRef, parent *ir.MethodRef) {
    for _, p := range self.parents[child] {
        if p == parent {
            return
        }
    }
    self.parents[child] = append(self.parents[child], parent)
    self.children[parent] = append(self.children[parent], child)
}

/* nearest same-signature virtual up the superclass chain */
func findSuperDecl(ch *ClassHierarchy, super *ir.Type, m *ir.MethodRef) *ir.MethodRef {
    for t := super; t != nil; {
        c := ch.ClassOf(t)
        if c == nil {
            return nil
        }
        if p := findDeclared(c, m.NameString(), m.Proto(), SearchVirtual); p != nil {
            return p
        }
        t = c.Super()
    }
    return nil
}

/* an interface method overrides its match on the nearest super interface */
func (self *OverrideGraph) linkIfaceUp(ch *ClassHierarchy, m *ir.MethodRef, ifaces *ir.TypeList, seen map[*ir.Type]bool) {
    for _, t := range ifaces.Types() {
        if seen[t] {
            continue
        }
        seen[t] = true
        ic := ch.ClassOf(t)
        if ic == nil {
            continue
        }
        if p := findDeclared(ic, m.NameString(), m.Proto(), SearchVirtual); p != nil {
            self.link(m, p)
        } else {
            self.linkIfaceUp(ch, m, ic.Interfaces(), seen)
        }
    }
}

/* every method of every implemented interface binds to its implementation,
 * which may live on a superclass */
func (self *OverrideGraph) linkImpls(ch *ClassHierarchy, c *ir.Class) {
    self.eachIfaceMethod(ch, c.Interfaces(), make(map[*ir.Type]bool), func(im *ir.MethodRef) {
        for t := c.Type(); t != nil; {
            ic := ch.ClassOf(t)
            if ic == nil {
                return
            }
            if p := findDeclared(ic, im.NameString(), im.Proto(), SearchVirtual); p != nil {
                self.link(p, im)
                return
            }
            t = ic.Super()
        }
    })
}

func (self *OverrideGraph) eachIfaceMethod(ch *ClassHierarchy, ifaces *ir.TypeList, seen map[*ir.Type]bool, fn func(*ir.MethodRef)) {
    for _, t := range ifaces.Types() {
        if seen[t] {
            continue
        }
        seen[t] = true
        ic := ch.ClassOf(t)
        if ic == nil {
            continue
        }
        for _, m := range ic.VirtualMethods() {
            fn(m)
        }
        self.eachIfaceMethod(ch, ic.Interfaces(), seen, fn)
    }
}

// Overrides lists the methods m immediately overrides.
func (self *OverrideGraph) Overrides(m *ir.MethodRef) []*ir.MethodRef {
    return self.parents[m]
}

// Overriders lists the methods immediately overriding m.
func (self *OverrideGraph) Overriders(m *ir.MethodRef) []*ir.MethodRef {
    return self.children[m]
}

// IsTrueVirtual reports whether m participates in dynamic dispatch beyond
// itself, overriding or being overridden.
func (self *OverrideGraph) IsTrueVirtual(m *ir.MethodRef) bool {
    return len(self.parents[m]) > 0 || len(self.children[m]) > 0
}

// ForEachOverrider visits everything transitively overriding m, BFS order.
func (self *OverrideGraph) ForEachOverrider(m *ir.MethodRef, fn func(*ir.MethodRef)) {
    self.walk(self.children, m, fn)
}

// ForEachOverridden visits everything m transitively overrides, BFS order.
func (self *OverrideGraph) ForEachOverridden(m *ir.MethodRef, fn func(*ir.MethodRef)) {
    self.walk(self.parents, m, fn)
}

func (self *OverrideGraph) walk(next map[*ir.MethodRef][]*ir.MethodRef, m *ir.MethodRef, fn func(*ir.MethodRef)) {
    q := lane.NewQueue()
    seen := map[*ir.MethodRef]bool{m: true}

    for _, p := range next[m] {
        seen[p] = true
        q.Enqueue(p)
    }
    for !q.Empty() {
        p := q.Dequeue().(*ir.MethodRef)
        fn(p)
        for _, s := range next[p] {
            if !seen[s] {
                seen[s] = true
                q.Enqueue(s)
            }
        }
    }
}
