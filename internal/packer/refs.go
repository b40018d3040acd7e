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

// Package packer splits an ordered class list into DEX-sized chunks. A
// classes.dex addresses its type, field and method pools with 16-bit ids
// and the runtime charges a linear-alloc budget per loaded class, so the
// packer charges each class against the current DEX and opens a fresh
// one whenever any ceiling would be crossed.
package packer

import (
    `github.com/bytedance/dexter/internal/ir`
)

// _Refs is the id-pool footprint of one class: everything the DEX id
// sections must contain for the class to live there. Strings have no
// practical ceiling and are not tracked.
//
// An init-class target lowers to a static-get of a synthesised field, so
// it lands in inits instead of types; the reservation it may need is
// decided against the whole DEX, not per class.
type _Refs struct {
    alloc   int
    types   []*ir.Type
    fields  []*ir.FieldRef
    methods []*ir.MethodRef
    inits   []*ir.Type
    tset    map[*ir.Type]bool
    fcls    map[*ir.Type]bool
}

type _RefSink struct {
    refs *_Refs
    ms   map[*ir.MethodRef]bool
    fs   map[*ir.FieldRef]bool
    is   map[*ir.Type]bool
}

func newRefSink() *_RefSink {
    return &_RefSink {
        refs: &_Refs {
            tset: make(map[*ir.Type]bool),
            fcls: make(map[*ir.Type]bool),
        },
        ms: make(map[*ir.MethodRef]bool),
        fs: make(map[*ir.FieldRef]bool),
        is: make(map[*ir.Type]bool),
    }
}

func (self *_RefSink) addType(t *ir.Type) {
    if t != nil && !self.refs.tset[t] {
        self.refs.tset[t] = true
        self.refs.types = append(self.refs.types, t)
    }
}

// addField pulls the field id plus the two types its pool entry names.
func (self *_RefSink) addField(f *ir.FieldRef) {
    if !self.fs[f] {
        self.fs[f] = true
        self.refs.fields = append(self.refs.fields, f)
        self.refs.fcls[f.Class()] = true
        self.addType(f.Class())
        self.addType(f.Type())
    }
}

// addMethod pulls the method id plus its class and full prototype.
func (self *_RefSink) addMethod(m *ir.MethodRef) {
    if self.ms[m] {
        return
    }
    self.ms[m] = true
    self.refs.methods = append(self.refs.methods, m)
    self.addType(m.Class())
    self.addType(m.Proto().Ret())
    for _, t := range m.Proto().Args().Types() {
        self.addType(t)
    }
}

func (self *_RefSink) addInit(t *ir.Type) {
    if !self.is[t] {
        self.is[t] = true
        self.refs.inits = append(self.refs.inits, t)
    }
}

// collectRefs walks one class and gathers its footprint: the class
// header types, the declared member ids, and every id named by a code
// unit. Init-class targets count only when the target's initializer has
// side effects; dead ones are erased during lowering.
func collectRefs(c *ir.Class, est *Estimator, sidefx map[*ir.Type]bool) *_Refs {
    sink := newRefSink()
    sink.addType(c.Type())
    sink.addType(c.Super())

    for _, t := range c.Interfaces().Types() {
        sink.addType(t)
    }

    c.ForEachField(func(f *ir.FieldRef) {
        sink.addField(f)
    })

    c.ForEachMethod(func(m *ir.MethodRef) {
        sink.addMethod(m)
        if code := m.Code(); code != nil {
            sink.scanCode(code, sidefx)
        }
    })

    sink.refs.alloc = est.CostOf(c)
    return sink.refs
}

func (self *_RefSink) scanCode(code *ir.Code, sidefx map[*ir.Type]bool) {
    code.ForEachInsn(func(p *ir.Instruction) bool {
        switch p.Op().Ref() {
            case ir.RefType:
                if p.Op() != ir.OpInitClass {
                    self.addType(p.Typ())
                } else if sidefx[p.Typ()] {
                    self.addInit(p.Typ())
                }
            case ir.RefField:
                self.addField(p.Field())
            case ir.RefMethod:
                self.addMethod(p.Method())
        }
        return true
    })
}
