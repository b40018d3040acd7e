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

// FieldRef is an interned (container, name, type) triple. The same pointer
// may be a bare reference into a library class, or carry a definition after
// MakeConcrete; identity never changes either way.
type FieldRef struct {
    uid      uint64
    cls      *Type
    name     *String
    typ      *Type
    def      *FieldDef
    external bool
}

// FieldDef is the definition payload of a concrete field.
type FieldDef struct {
    Access    AccessFlags
    Anno      *AnnotationSet
    Value     *EncodedValue
    DeobfName string
}

func (self *FieldRef) Uid() uint64       { return self.uid }
func (self *FieldRef) Class() *Type      { return self.cls }
func (self *FieldRef) NameString() *String { return self.name }
func (self *FieldRef) Name() string      { return self.name.Raw() }
func (self *FieldRef) Type() *Type       { return self.typ }

// Def returns the definition payload, or nil for a non-concrete reference.
func (self *FieldRef) Def() *FieldDef {
    return self.def
}

// IsConcrete reports whether the reference is backed by a definition in the
// current scope.
func (self *FieldRef) IsConcrete() bool {
    return self.def != nil
}

// IsExternal reports whether the reference resolves into a library class.
func (self *FieldRef) IsExternal() bool {
    return self.external
}

// IsStatic reports whether the concrete field is static.
func (self *FieldRef) IsStatic() bool {
    return self.def != nil && self.def.Access & AccStatic != 0
}

// IsFinal reports whether the concrete field is final.
func (self *FieldRef) IsFinal() bool {
    return self.def != nil && self.def.Access & AccFinal != 0
}

// MakeConcrete attaches a definition payload. Panics when the reference is
// already concrete; definitions are created exactly once per load.
func (self *FieldRef) MakeConcrete(def *FieldDef) *FieldRef {
    if self.def != nil {
        panic("ir: field is already concrete: " + self.Key())
    }
    self.def = def
    self.external = false
    return self
}

// MakeExternal marks the reference as living in a library class.
func (self *FieldRef) MakeExternal() *FieldRef {
    self.external = true
    return self
}

// ClearConcrete detaches the definition, demoting the pointer back to a bare
// reference. Used when the owning class is removed from the scope.
func (self *FieldRef) ClearConcrete() {
    self.def = nil
}

// Key renders the canonical "Lcls;.name:Ltype;" intern key.
func (self *FieldRef) Key() string {
    return fieldKey(self.cls, self.name, self.typ)
}

// OrderKey is the deterministic sort key: deobfuscated name first, raw key
// as the tiebreaker. Reproducible builds sort on this, never on pointers.
func (self *FieldRef) OrderKey() string {
    if self.def != nil && self.def.DeobfName != "" {
        return self.def.DeobfName + "\x00" + self.Key()
    }
    return self.Key()
}

func (self *FieldRef) String() string {
    return self.Key()
}

func fieldKey(cls *Type, name *String, typ *Type) string {
    return cls.Name() + "." + name.Raw() + ":" + typ.Name()
}

// MakeFieldRef interns the (cls, name, typ) field reference.
func (self *Context) MakeFieldRef(cls *Type, name *String, typ *Type) *FieldRef {
    key := fieldKey(cls, name, typ)
    sh := &self.fields[shardOf(key)]

    sh.mu.RLock()
    p := sh.m[key]
    sh.mu.RUnlock()
    if p != nil {
        return p
    }

    sh.mu.Lock()
    if p = sh.m[key]; p == nil {
        p = &FieldRef { uid: self.nextUid(), cls: cls, name: name, typ: typ }
        sh.m[key] = p
    }
    sh.mu.Unlock()
    return p
}

// MakeField is the descriptor-string convenience form of MakeFieldRef.
func (self *Context) MakeField(cls string, name string, typ string) *FieldRef {
    return self.MakeFieldRef(self.MakeType(cls), self.MakeString(name), self.MakeType(typ))
}

// GetFieldRef returns the interned reference, or nil.
func (self *Context) GetFieldRef(cls *Type, name *String, typ *Type) *FieldRef {
    key := fieldKey(cls, name, typ)
    sh := &self.fields[shardOf(key)]
    sh.mu.RLock()
    p := sh.m[key]
    sh.mu.RUnlock()
    return p
}

// EraseFieldRef removes p from the table.
func (self *Context) EraseFieldRef(p *FieldRef) {
    key := p.Key()
    sh := &self.fields[shardOf(key)]
    sh.mu.Lock()
    if sh.m[key] == p {
        delete(sh.m, key)
    }
    sh.mu.Unlock()
}

// FieldSpec selects the parts of a field key to change; nil keeps the
// current value.
type FieldSpec struct {
    Cls  *Type
    Name *String
    Type *Type
}

// MutateField re-keys p per the spec. Collision handling matches MutateType.
func (self *Context) MutateField(p *FieldRef, spec FieldSpec, renameOnCollision bool) error {
    cls, name, typ := p.cls, p.name, p.typ
    if spec.Cls != nil {
        cls = spec.Cls
    }
    if spec.Name != nil {
        name = spec.Name
    }
    if spec.Type != nil {
        typ = spec.Type
    }

    old := p.Key()
    if fieldKey(cls, name, typ) == old {
        return nil
    }

    self.fieldRename.Lock()
    defer self.fieldRename.Unlock()

    base := name
    for n := 1; ; n++ {
        key := fieldKey(cls, name, typ)
        so, sd := shardOf(old), shardOf(key)

        self.lockFieldPair(so, sd)
        if q := self.fields[sd].m[key]; q == nil || q == p {
            delete(self.fields[so].m, old)
            self.fields[sd].m[key] = p
            p.cls, p.name, p.typ = cls, name, typ
            self.unlockFieldPair(so, sd)
            return nil
        }
        self.unlockFieldPair(so, sd)

        if !renameOnCollision {
            return &CollisionError { Kind: "field", Key: key }
        }
        name = self.MakeString(fmt.Sprintf("%s$r%d", base.Raw(), n))
    }
}

func (self *Context) lockFieldPair(a uint64, b uint64) {
    if a == b {
        self.fields[a].mu.Lock()
    } else if a < b {
        self.fields[a].mu.Lock()
        self.fields[b].mu.Lock()
    } else {
        self.fields[b].mu.Lock()
        self.fields[a].mu.Lock()
    }
}

func (self *Context) unlockFieldPair(a uint64, b uint64) {
    if a == b {
        self.fields[a].mu.Unlock()
    } else {
        self.fields[a].mu.Unlock()
        self.fields[b].mu.Unlock()
    }
}
