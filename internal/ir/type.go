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
    `strings`
    `sync/atomic`
    `unsafe`
)

// Type is an interned JVM-style type descriptor ("Lpkg/Cls;", "[I", "V", ...)
// wrapping an interned String. Renames rebind the String pointer under the
// table lock; readers load it atomically.
type Type struct {
    uid  uint64
    name unsafe.Pointer // *String
}

func (self *Type) Uid() uint64 {
    return self.uid
}

// NameString returns the interned descriptor string.
func (self *Type) NameString() *String {
    return (*String)(atomic.LoadPointer(&self.name))
}

// Name returns the raw descriptor.
func (self *Type) Name() string {
    return self.NameString().Raw()
}

func (self *Type) String() string {
    return self.Name()
}

// IsPrimitive reports whether the descriptor denotes a primitive type or void.
func (self *Type) IsPrimitive() bool {
    switch self.Name()[0] {
        case 'V', 'Z', 'B', 'S', 'C', 'I', 'J', 'F', 'D' : return true
        default                                          : return false
    }
}

// IsArray reports whether the descriptor denotes an array type.
func (self *Type) IsArray() bool {
    return self.Name()[0] == '['
}

// IsReference reports whether values of this type are object references.
func (self *Type) IsReference() bool {
    c := self.Name()[0]
    return c == 'L' || c == '['
}

// IsWide reports whether values of this type occupy two registers.
func (self *Type) IsWide() bool {
    c := self.Name()[0]
    return c == 'J' || c == 'D'
}

// ElementType returns the interned component type of an array descriptor.
func (self *Type) ElementType(ctx *Context) *Type {
    name := self.Name()
    if name[0] != '[' {
        panic("ir: element type of non-array " + name)
    }
    return ctx.MakeType(name[1:])
}

// ShortyChar returns the single-character shorty encoding of the type.
func (self *Type) ShortyChar() byte {
    if c := self.Name()[0]; c == '[' {
        return 'L'
    } else {
        return c
    }
}

// MakeType interns the descriptor desc.
func (self *Context) MakeType(desc string) *Type {
    sh := &self.types[shardOf(desc)]

    sh.mu.RLock()
    p := sh.m[desc]
    sh.mu.RUnlock()
    if p != nil {
        return p
    }

    /* the name string is interned on its own */
    name := self.MakeString(desc)

    sh.mu.Lock()
    if p = sh.m[desc]; p == nil {
        p = &Type { uid: self.nextUid(), name: unsafe.Pointer(name) }
        sh.m[desc] = p
    }
    sh.mu.Unlock()
    return p
}

// GetType returns the interned type for desc, or nil.
func (self *Context) GetType(desc string) *Type {
    sh := &self.types[shardOf(desc)]
    sh.mu.RLock()
    p := sh.m[desc]
    sh.mu.RUnlock()
    return p
}

// EraseType removes p from the type table.
func (self *Context) EraseType(p *Type) {
    desc := p.Name()
    sh := &self.types[shardOf(desc)]
    sh.mu.Lock()
    if sh.m[desc] == p {
        delete(sh.m, desc)
    }
    sh.mu.Unlock()
}

// MutateType re-keys p to the descriptor newDesc. When another type already
// holds the new key the call fails with *CollisionError, unless
// renameOnCollision is set, in which case the descriptor is suffixed with an
// ascending integer until it is unique. Mutators serialize per kind; readers
// observe either the old key or the new one, never both and never neither.
func (self *Context) MutateType(p *Type, newDesc string, renameOnCollision bool) error {
    old := p.Name()
    if old == newDesc {
        return nil
    }
    if newDesc == "" || newDesc[0] != 'L' || old[0] != 'L' {
        return fmt.Errorf("ir: only class types can be renamed: %q -> %q", old, newDesc)
    }

    self.typeRename.Lock()
    defer self.typeRename.Unlock()

    /* probe candidates until one commits; a concurrent MakeType can still
     * claim a candidate between probes, the taken check under the pair lock
     * makes the commit itself race-free */
    desc := newDesc
    for n := 1; ; n++ {
        ns := self.MakeString(desc)
        so, sd := shardOf(old), shardOf(desc)

        self.lockTypePair(so, sd)
        if !self.typeTaken(desc, p) {
            delete(self.types[so].m, old)
            self.types[sd].m[desc] = p
            atomic.StorePointer(&p.name, unsafe.Pointer(ns))
            self.unlockTypePair(so, sd)
            return nil
        }
        self.unlockTypePair(so, sd)

        if !renameOnCollision {
            return &CollisionError { Kind: "type", Key: newDesc }
        }
        desc = fmt.Sprintf("%s$r%d;", strings.TrimSuffix(newDesc, ";"), n)
    }
}

func (self *Context) typeTaken(desc string, p *Type) bool {
    q := self.types[shardOf(desc)].m[desc]
    return q != nil && q != p
}

func (self *Context) lockTypePair(a uint64, b uint64) {
    if a == b {
        self.types[a].mu.Lock()
    } else if a < b {
        self.types[a].mu.Lock()
        self.types[b].mu.Lock()
    } else {
        self.types[b].mu.Lock()
        self.types[a].mu.Lock()
    }
}

func (self *Context) unlockTypePair(a uint64, b uint64) {
    if a == b {
        self.types[a].mu.Unlock()
    } else {
        self.types[a].mu.Unlock()
        self.types[b].mu.Unlock()
    }
}

// TypeList is an interned ordered sequence of types, as used by prototypes
// and interface lists.
type TypeList struct {
    uid   uint64
    types []*Type
}

func (self *TypeList) Uid() uint64 {
    return self.uid
}

// Types returns the backing slice. Callers must not modify it.
func (self *TypeList) Types() []*Type {
    if self == nil {
        return nil
    }
    return self.types
}

// Len returns the number of entries.
func (self *TypeList) Len() int {
    if self == nil {
        return 0
    }
    return len(self.types)
}

// At returns the i-th type of the list.
func (self *TypeList) At(i int) *Type {
    return self.types[i]
}

func (self *TypeList) String() string {
    var sb strings.Builder
    for _, t := range self.types {
        sb.WriteString(t.Name())
    }
    return sb.String()
}

func typeListKey(ts []*Type) string {
    var sb strings.Builder
    for _, t := range ts {
        sb.WriteString(t.Name())
    }
    return sb.String()
}

// MakeTypeList interns the ordered type sequence ts. Descriptors are
// self-delimiting, so the concatenation is an unambiguous key.
func (self *Context) MakeTypeList(ts []*Type) *TypeList {
    key := typeListKey(ts)
    sh := &self.lists[shardOf(key)]

    sh.mu.RLock()
    p := sh.m[key]
    sh.mu.RUnlock()
    if p != nil {
        return p
    }

    sh.mu.Lock()
    if p = sh.m[key]; p == nil {
        own := make([]*Type, len(ts))
        copy(own, ts)
        p = &TypeList { uid: self.nextUid(), types: own }
        sh.m[key] = p
    }
    sh.mu.Unlock()
    return p
}

// GetTypeList returns the interned list for ts, or nil.
func (self *Context) GetTypeList(ts []*Type) *TypeList {
    key := typeListKey(ts)
    sh := &self.lists[shardOf(key)]
    sh.mu.RLock()
    p := sh.m[key]
    sh.mu.RUnlock()
    return p
}
