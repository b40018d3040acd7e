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

// Class is a defined class of the current run. Member vectors keep their
// declared order; fields split into static and instance, methods into
// direct and virtual.
type Class struct {
    typ      *Type
    super    *Type
    ifaces   *TypeList
    access   AccessFlags
    source   *String
    anno     *AnnotationSet
    sfields  []*FieldRef
    ifields  []*FieldRef
    dmethods []*MethodRef
    vmethods []*MethodRef
    external bool
    perf     bool
    deobf    string
}

// NewClass defines a class over an interned type. The type must not be
// defined twice within one scope; the scope rebuild catches duplicates.
func NewClass(typ *Type, super *Type, access AccessFlags) *Class {
    return &Class {
        typ:    typ,
        super:  super,
        access: access,
    }
}

func (self *Class) Type() *Type           { return self.typ }
func (self *Class) Super() *Type          { return self.super }
func (self *Class) Access() AccessFlags   { return self.access }
func (self *Class) Interfaces() *TypeList { return self.ifaces }
func (self *Class) SourceFile() *String   { return self.source }
func (self *Class) Anno() *AnnotationSet  { return self.anno }
func (self *Class) Name() string          { return self.typ.Name() }

func (self *Class) StaticFields() []*FieldRef    { return self.sfields }
func (self *Class) InstanceFields() []*FieldRef  { return self.ifields }
func (self *Class) DirectMethods() []*MethodRef  { return self.dmethods }
func (self *Class) VirtualMethods() []*MethodRef { return self.vmethods }

func (self *Class) SetSuper(t *Type)             { self.super = t }
func (self *Class) SetInterfaces(ts *TypeList)   { self.ifaces = ts }
func (self *Class) SetSourceFile(s *String)      { self.source = s }
func (self *Class) SetAnno(a *AnnotationSet)     { self.anno = a }
func (self *Class) SetAccess(a AccessFlags)      { self.access = a }
func (self *Class) SetExternal(v bool)           { self.external = v }
func (self *Class) SetDeobfName(s string)        { self.deobf = s }

func (self *Class) IsExternal() bool  { return self.external }
func (self *Class) IsInterface() bool { return self.access.Has(AccInterface) }
func (self *Class) IsAbstract() bool  { return self.access.Has(AccAbstract) }
func (self *Class) IsFinal() bool     { return self.access.Has(AccFinal) }

// PerfSensitive marks classes the packer keeps ahead of cold classes
// within their DEX.
func (self *Class) PerfSensitive() bool     { return self.perf }
func (self *Class) SetPerfSensitive(v bool) { self.perf = v }

// DeobfName is the original name from the obfuscation map, or the
// descriptor when no map entry exists.
func (self *Class) DeobfName() string {
    if self.deobf != "" {
        return self.deobf
    }
    return self.typ.Name()
}

// AddField attaches a concrete field to the class, routed by its static
// access bit. The field's defining class must match.
func (self *Class) AddField(f *FieldRef) {
    if f.Class() != self.typ {
        panic(fmt.Sprintf("ir: field %s added to class %s", f.Key(), self.typ.Name()))
    }
    if !f.IsConcrete() {
        panic("ir: field is not concrete: " + f.Key())
    }
    if f.IsStatic() {
        self.sfields = append(self.sfields, f)
    } else {
        self.ifields = append(self.ifields, f)
    }
}

// AddMethod attaches a concrete method, routed by its virtual flag.
func (self *Class) AddMethod(m *MethodRef) {
    if m.Class() != self.typ {
        panic(fmt.Sprintf("ir: method %s added to class %s", m.Key(), self.typ.Name()))
    }
    if !m.IsConcrete() {
        panic("ir: method is not concrete: " + m.Key())
    }
    if m.IsVirtual() {
        self.vmethods = append(self.vmethods, m)
    } else {
        self.dmethods = append(self.dmethods, m)
    }
}

// RemoveMethod detaches the method from the member vectors without
// touching its definition.
func (self *Class) RemoveMethod(m *MethodRef) bool {
    if i := indexOfMethod(self.dmethods, m); i >= 0 {
        self.dmethods = append(self.dmethods[:i], self.dmethods[i+1:]...)
        return true
    }
    if i := indexOfMethod(self.vmethods, m); i >= 0 {
        self.vmethods = append(self.vmethods[:i], self.vmethods[i+1:]...)
        return true
    }
    return false
}

// RemoveField detaches the field from the member vectors.
func (self *Class) RemoveField(f *FieldRef) bool {
    if i := indexOfField(self.sfields, f); i >= 0 {
        self.sfields = append(self.sfields[:i], self.sfields[i+1:]...)
        return true
    }
    if i := indexOfField(self.ifields, f); i >= 0 {
        self.ifields = append(self.ifields[:i], self.ifields[i+1:]...)
        return true
    }
    return false
}

func indexOfMethod(ms []*MethodRef, m *MethodRef) int {
    for i, p := range ms {
        if p == m {
            return i
        }
    }
    return -1
}

func indexOfField(fs []*FieldRef, f *FieldRef) int {
    for i, p := range fs {
        if p == f {
            return i
        }
    }
    return -1
}

// ForEachMethod visits direct then virtual methods in declared order.
func (self *Class) ForEachMethod(fn func(*MethodRef)) {
    for _, m := range self.dmethods {
        fn(m)
    }
    for _, m := range self.vmethods {
        fn(m)
    }
}

// ForEachField visits static then instance fields in declared order.
func (self *Class) ForEachField(fn func(*FieldRef)) {
    for _, f := range self.sfields {
        fn(f)
    }
    for _, f := range self.ifields {
        fn(f)
    }
}

// Clinit returns the static initializer, or nil.
func (self *Class) Clinit() *MethodRef {
    for _, m := range self.dmethods {
        if m.IsClinit() {
            return m
        }
    }
    return nil
}

// FindMethod locates a declared method by name and proto.
func (self *Class) FindMethod(name *String, proto *Proto) *MethodRef {
    var r *MethodRef
    self.ForEachMethod(func(m *MethodRef) {
        if r == nil && m.NameString() == name && m.Proto() == proto {
            r = m
        }
    })
    return r
}

// FindField locates a declared field by name and type.
func (self *Class) FindField(name *String, typ *Type) *FieldRef {
    var r *FieldRef
    self.ForEachField(func(f *FieldRef) {
        if r == nil && f.NameString() == name && f.Type() == typ {
            r = f
        }
    })
    return r
}

func (self *Class) String() string {
    return self.typ.Name()
}
