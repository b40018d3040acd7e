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

// ClassHierarchy indexes the scope by inheritance: direct subclasses per
// type and direct implementors per interface. The index is immutable once
// built; rebuild it after passes add or remove classes.
type ClassHierarchy struct {
    scope    *ir.Scope
    children map[*ir.Type][]*ir.Class
    impls    map[*ir.Type][]*ir.Class
}

func NewHierarchy(scope *ir.Scope) *ClassHierarchy {
    ch := &ClassHierarchy {
        scope    : scope,
        children : make(map[*ir.Type][]*ir.Class),
        impls    : make(map[*ir.Type][]*ir.Class),
    }
    scope.ForEachClass(func(c *ir.Class) {
        if s := c.Super(); s != nil {
            ch.children[s] = append(ch.children[s], c)
        }
        for _, t := range c.Interfaces().Types() {
            ch.impls[t] = append(ch.impls[t], c)
        }
    })
    return ch
}

func (self *ClassHierarchy) Scope() *ir.Scope {
    return self.scope
}

// ClassOf finds the defining class of a type, nil for externals.
func (self *ClassHierarchy) ClassOf(t *ir.Type) *ir.Class {
    return self.scope.ClassOf(t)
}

// Children are the classes directly extending t, in scope order.
func (self *ClassHierarchy) Children(t *ir.Type) []*ir.Class {
    return self.children[t]
}

// Implementors are the classes directly listing the interface t, in scope
// order. Subinterfaces count as implementors of their super interface.
func (self *ClassHierarchy) Implementors(t *ir.Type) []*ir.Class {
    return self.impls[t]
}

// IsSubclassOf walks the superclass chain; a type is its own subclass.
// Interfaces do not participate, and an external super edge ends the walk.
func (self *ClassHierarchy) IsSubclassOf(sub *ir.Type, super *ir.Type) bool {
    for t := sub; t != nil; {
        if t == super {
            return true
        }
        c := self.scope.ClassOf(t)
        if c == nil {
            return false
        }
        t = c.Super()
    }
    return false
}

// ForEachSubclass visits every class transitively extending t, preorder.
func (self *ClassHierarchy) ForEachSubclass(t *ir.Type, fn func(*ir.Class)) {
    q := lane.NewQueue()
    for _, c := range self.children[t] {
        q.Enqueue(c)
    }
    for !q.Empty() {
        c := q.Dequeue().(*ir.Class)
        fn(c)
        for _, s := range self.children[c.Type()] {
            q.Enqueue(s)
        }
    }
}

// ForEachImplementor visits every class that is-a t for an interface t:
// direct implementors, classes extending them, and implementors of
// subinterfaces. Each class is visited once.
func (self *ClassHierarchy) ForEachImplementor(t *ir.Type, fn func(*ir.Class)) {
    q := lane.NewQueue()
    seen := make(map[*ir.Class]bool)

    push := func(c *ir.Class) {
        if !seen[c] {
            seen[c] = true
            q.Enqueue(c)
        }
    }
    for _, c := range self.impls[t] {
        push(c)
    }

    for !q.Empty() {
        c := q.Dequeue().(*ir.Class)
        if c.IsInterface() {
            for _, s := range self.impls[c.Type()] {
                push(s)
            }
        } else {
            fn(c)
        }
        for _, s := range self.children[c.Type()] {
            push(s)
        }
    }
}
