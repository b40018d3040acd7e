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
)

// MethodRef is an interned (container, name, proto) triple, optionally
// carrying a definition.
type MethodRef struct {
    uid      uint64
    cls      *Type
    name     *String
    proto    *Proto
    def      *MethodDef
    external bool
}

// MethodDef is the definition payload of a concrete method.
type MethodDef struct {
    Access    AccessFlags
    Virtual   bool
    Code      *Code
    Anno      *AnnotationSet
    ParamAnno map[int]*AnnotationSet
    DeobfName string
}

func (self *MethodRef) Uid() uint64         { return self.uid }
func (self *MethodRef) Class() *Type        { return self.cls }
func (self *MethodRef) NameString() *String { return self.name }
func (self *MethodRef) Name() string        { return self.name.Raw() }
func (self *MethodRef) Proto() *Proto       { return self.proto }

func (self *MethodRef) Def() *MethodDef {
    return self.def
}

func (self *MethodRef) IsConcrete() bool {
    return self.def != nil
}

func (self *MethodRef) IsExternal() bool {
    return self.external
}

// Code returns the method body, or nil for abstract, native or non-concrete
// methods.
func (self *MethodRef) Code() *Code {
    if self.def == nil {
        return nil
    }
    return self.def.Code
}

// IsStatic reports whether the concrete method is static.
func (self *MethodRef) IsStatic() bool {
    return self.def != nil && self.def.Access & AccStatic != 0
}

// IsVirtual reports whether the method dispatches through the vtable.
func (self *MethodRef) IsVirtual() bool {
    return self.def != nil && self.def.Virtual
}

// IsInit reports whether the method is an instance constructor.
func (self *MethodRef) IsInit() bool {
    return self.name.Raw() == "<init>"
}

// IsClinit reports whether the method is a static class initializer.
func (self *MethodRef) IsClinit() bool {
    return self.name.Raw() == "<clinit>"
}

// MakeConcrete attaches a definition payload, once.
func (self *MethodRef) MakeConcrete(def *MethodDef) *MethodRef {
    if self.def != nil {
        panic("ir: method is already concrete: " + self.Key())
    }
    self.def = def
    self.external = false
    return self
}

// MakeExternal marks the reference as living in a library class.
func (self *MethodRef) MakeExternal() *MethodRef {
    self.external = true
    return self
}

// ClearConcrete detaches the definition without touching identity.
func (self *MethodRef) ClearConcrete() {
    self.def = nil
}

// Key renders the canonical "Lcls;.name:(ARGS)RET" intern key.
func (self *MethodRef) Key() string {
    return methodKey(self.cls, self.name, self.proto)
}

// OrderKey is the deterministic sort key, deobfuscated name first with the
// raw key as tiebreaker (reproducible interprocedural iteration order).
func (self *MethodRef) OrderKey() string {
    if self.def != nil && self.def.DeobfName != "" {
        return self.def.DeobfName + "\x00" + self.Key()
    }
    return self.Key()
}

func (self *MethodRef) String() string {
    return self.Key()
}

func methodKey(cls *Type, name *String, proto *Proto) string {
    return cls.Name() + "." + name.Raw() + ":" + proto.Key()
}

// MakeMethodRef interns the (cls, name, proto) method reference.
func (self *Context) MakeMethodRef(cls *Type, name *String, proto *Proto) *MethodRef {
    key := methodKey(cls, name, proto)
    sh := &self.methods[shardOf(key)]

    sh.mu.RLock()
    p := sh.m[key]
    sh.mu.RUnlock()
    if p != nil {
        return p
    }

    sh.mu.Lock()
    if p = sh.m[key]; p == nil {
        p = &MethodRef { uid: self.nextUid(), cls: cls, name: name, proto: proto }
        sh.m[key] = p
    }
    sh.mu.Unlock()
    return p
}

// MakeMethod is the descriptor-string convenience form: cls is a class
// descriptor, ret and args are type descriptors.
func (self *Context) MakeMethod(cls string, name string, ret string, args ...string) *MethodRef {
    ts := make([]*Type, len(args))
    for i, a := range args {
        ts[i] = self.MakeType(a)
    }
    return self.MakeMethodRef(
        self.MakeType(cls),
        self.MakeString(name),
        self.MakeProto(self.MakeType(ret), ts),
    )
}

// GetMethodRef returns the interned reference, or nil.
func (self *Context) GetMethodRef(cls *Type, name *String, proto *Proto) *MethodRef {
    key := methodKey(cls, name, proto)
    sh := &self.methods[shardOf(key)]
    sh.mu.RLock()
    p := sh.m[key]
    sh.mu.RUnlock()
    return p
}

// EraseMethodRef removes p from the table.
func (self *Context) EraseMethodRef(p *MethodRef) {
    key := p.Key()
    sh := &self.methods[shardOf(key)]
    sh.mu.Lock()
    if sh.m[key] == p {
        delete(sh.m, key)
    }
    sh.mu.Unlock()
}

// MethodSpec selects the parts of a method key to change; nil keeps the
// current value.
type MethodSpec struct {
    Cls   *Type
    Name  *String
    Proto *Proto
}

// MutateMethod re-keys p per the spec. Collision handling matches MutateType.
func (self *Context) MutateMethod(p *MethodRef, spec MethodSpec, renameOnCollision bool) error {
    cls, name, proto := p.cls, p.name, p.proto
    if spec.Cls != nil {
        cls = spec.Cls
    }
    if spec.Name != nil {
        name = spec.Name
    }
    if spec.Proto != nil {
        proto = spec.Proto
    }

    old := p.Key()
    if methodKey(cls, name, proto) == old {
        return nil
    }

    self.methodRename.Lock()
    defer self.methodRename.Unlock()

    base := name
    for n := 1; ; n++ {
        key := methodKey(cls, name, proto)
        so, sd := shardOf(old), shardOf(key)

        self.lockMethodPair(so, sd)
        if q := self.methods[sd].m[key]; q == nil || q == p {
            delete(self.methods[so].m, old)
            self.methods[sd].m[key] = p
            p.cls, p.name, p.proto = cls, name, proto
            self.unlockMethodPair(so, sd)
            return nil
        }
        self.unlockMethodPair(so, sd)

        if !renameOnCollision {
            return &CollisionError { Kind: "method", Key: key }
        }
        name = self.MakeString(fmt.Sprintf("%s$r%d", base.Raw(), n))
    }
}

func (self *Context) lockMethodPair(a uint64, b uint64) {
    if a == b {
        self.methods[a].mu.Lock()
    } else if a < b {
        self.methods[a].mu.Lock()
        self.methods[b].mu.Lock()
    } else {
        self.methods[b].mu.Lock()
        self.methods[a].mu.Lock()
    }
}

func (self *Context) unlockMethodPair(a uint64, b uint64) {
    if a == b {
        self.methods[a].mu.Unlock()
    } else {
        self.methods[a].mu.Unlock()
        self.methods[b].mu.Unlock()
    }
}
