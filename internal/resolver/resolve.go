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
    `sync`

    `github.com/bytedance/dexter/internal/ir`
)

type (
    MethodSearch uint8
    FieldSearch  uint8
)

const (
    SearchDirect MethodSearch = iota
    SearchStatic
    SearchVirtual
    SearchSuper
    SearchInterface
    SearchAny
)

const (
    FieldStatic FieldSearch = iota
    FieldInstance
    FieldAny
)

func (self MethodSearch) String() string {
    switch self {
        case SearchDirect    : return "direct"
        case SearchStatic    : return "static"
        case SearchVirtual   : return "virtual"
        case SearchSuper     : return "super"
        case SearchInterface : return "interface"
        case SearchAny       : return "any"
        default              : return "???"
    }
}

type _MethodQuery struct {
    ref  *ir.MethodRef
    kind MethodSearch
}

type _FieldQuery struct {
    ref  *ir.FieldRef
    kind FieldSearch
}

// Resolver maps references onto definitions along the class hierarchy.
// Lookups are cached; the cache is safe for concurrent readers and
// writers, misses resolve under the write lock.
type Resolver struct {
    ch     *ClassHierarchy
    mlock  sync.RWMutex
    flock  sync.RWMutex
    mcache map[_MethodQuery]*ir.MethodRef
    fcache map[_FieldQuery]*ir.FieldRef
}

func NewResolver(ch *ClassHierarchy) *Resolver {
    return &Resolver {
        ch     : ch,
        mcache : make(map[_MethodQuery]*ir.MethodRef),
        fcache : make(map[_FieldQuery]*ir.FieldRef),
    }
}

func (self *Resolver) Hierarchy() *ClassHierarchy {
    return self.ch
}

// ResolveMethod finds the definition a reference binds to under the given
// search kind: the superclass chain first, then, for virtual kinds, the
// transitive interfaces. Nil means the reference stays unresolved.
func (self *Resolver) ResolveMethod(ref *ir.MethodRef, kind MethodSearch) *ir.MethodRef {
    var ok bool
    var rv *ir.MethodRef

    /* concrete references bind to themselves */
    if ref.IsConcrete() && methodKindMatches(ref, kind) {
        return ref
    }

    /* attempt to find in cache */
    q := _MethodQuery{ref: ref, kind: kind}
    self.mlock.RLock()
    rv, ok = self.mcache[q]
    self.mlock.RUnlock()

    /* check if it exists */
    if ok {
        return rv
    }

    /* retry with write lock */
    self.mlock.Lock()
    defer self.mlock.Unlock()

    /* try again */
    if rv, ok = self.mcache[q]; ok {
        return rv
    }

    /* still not found, do the actual resolving */
    rv = self.findMethod(ref.Class(), ref.NameString(), ref.Proto(), kind)
    self.mcache[q] = rv
    return rv
}

// ResolveField finds the definition a field reference binds to: the class
// itself, its interfaces for static fields, then the superclass chain.
func (self *Resolver) ResolveField(ref *ir.FieldRef, kind FieldSearch) *ir.FieldRef {
    var ok bool
    var rv *ir.FieldRef

    if ref.IsConcrete() && fieldKindMatches(ref, kind) {
        return ref
    }

    q := _FieldQuery{ref: ref, kind: kind}
    self.flock.RLock()
    rv, ok = self.fcache[q]
    self.flock.RUnlock()

    if ok {
        return rv
    }

    self.flock.Lock()
    defer self.flock.Unlock()

    if rv, ok = self.fcache[q]; ok {
        return rv
    }

    rv = self.findField(ref.Class(), ref.NameString(), ref.Type(), kind)
    self.fcache[q] = rv
    return rv
}

func methodKindMatches(m *ir.MethodRef, kind MethodSearch) bool {
    switch kind {
        case SearchDirect : return !m.IsStatic() && !m.IsVirtual()
        case SearchStatic : return m.IsStatic()
        case SearchAny    : return true
        default           : return m.IsVirtual()
    }
}

func fieldKindMatches(f *ir.FieldRef, kind FieldSearch) bool {
    switch kind {
        case FieldStatic   : return f.IsStatic()
        case FieldInstance : return !f.IsStatic()
        default            : return true
    }
}

func (self *Resolver) findMethod(t *ir.Type, name *ir.String, proto *ir.Proto, kind MethodSearch) *ir.MethodRef {
    /* superclass chain, ends at the first external type */
    for p := t; p != nil; {
        c := self.ch.ClassOf(p)
        if c == nil {
            break
        }
        if m := findDeclared(c, name, proto, kind); m != nil {
            return m
        }
        p = c.Super()
    }

    /* default and miranda methods live on the interfaces */
    switch kind {
        case SearchVirtual, SearchSuper, SearchInterface, SearchAny:
            return self.findInterfaceMethod(t, name, proto, kind, make(map[*ir.Type]bool))
    }
    return nil
}

func (self *Resolver) findInterfaceMethod(t *ir.Type, name *ir.String, proto *ir.Proto, kind MethodSearch, seen map[*ir.Type]bool) *ir.MethodRef {
    for p := t; p != nil; {
        c := self.ch.ClassOf(p)
        if c == nil {
            break
        }
        for _, i := range c.Interfaces().Types() {
            if seen[i] {
                continue
            }
            seen[i] = true
            ic := self.ch.ClassOf(i)
            if ic == nil {
                continue
            }
            if m := findDeclared(ic, name, proto, kind); m != nil {
                return m
            }
            if m := self.findInterfaceMethod(i, name, proto, kind, seen); m != nil {
                return m
            }
        }
        p = c.Super()
    }
    return nil
}

func findDeclared(c *ir.Class, name *ir.String, proto *ir.Proto, kind MethodSearch) *ir.MethodRef {
    scan := func(ms []*ir.MethodRef) *ir.MethodRef {
        for _, m := range ms {
            if m.NameString() == name && m.Proto() == proto && methodKindMatches(m, kind) {
                return m
            }
        }
        return nil
    }
    switch kind {
        case SearchDirect, SearchStatic:
            return scan(c.DirectMethods())
        case SearchVirtual, SearchSuper, SearchInterface:
            return scan(c.VirtualMethods())
        default:
            if m := scan(c.DirectMethods()); m != nil {
                return m
            }
            return scan(c.VirtualMethods())
    }
}

func (self *Resolver) findField(t *ir.Type, name *ir.String, typ *ir.Type, kind FieldSearch) *ir.FieldRef {
    c := self.ch.ClassOf(t)
    if c == nil {
        return nil
    }

    if f := c.FindField(name, typ); f != nil && fieldKindMatches(f, kind) {
        return f
    }

    /* static constants may sit on implemented interfaces */
    if kind != FieldInstance {
        for _, i := range c.Interfaces().Types() {
            if f := self.findField(i, name, typ, FieldStatic); f != nil {
                return f
            }
        }
    }

    if s := c.Super(); s != nil {
        return self.findField(s, name, typ, kind)
    }
    return nil
}
