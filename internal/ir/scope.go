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

// DexStore is a partition of classes emitted as one DEX file group, the
// primary application store or a feature module.
type DexStore struct {
    name    string
    classes []*Class
    removed []*Class
}

func NewDexStore(name string) *DexStore {
    return &DexStore{name: name}
}

func (self *DexStore) Name() string      { return self.name }
func (self *DexStore) Classes() []*Class { return self.classes }

func (self *DexStore) AddClass(c *Class) {
    self.classes = append(self.classes, c)
}

// RemoveClass detaches the class from the store. Its definitions remain
// attached to the interned refs until the next scope rebuild.
func (self *DexStore) RemoveClass(c *Class) bool {
    for i, p := range self.classes {
        if p == c {
            self.classes = append(self.classes[:i], self.classes[i+1:]...)
            self.removed = append(self.removed, c)
            return true
        }
    }
    return false
}

// Scope is the active list of defined classes across all stores. Lookup
// tables go stale when passes delete classes; Rebuild refreshes them and
// detaches the definitions of removed classes.
type Scope struct {
    stores []*DexStore
    byType map[*Type]*Class
}

// NewScope indexes the given stores. The first store is the primary one.
func NewScope(stores ...*DexStore) *Scope {
    self := &Scope{stores: stores}
    self.Rebuild()
    return self
}

func (self *Scope) Stores() []*DexStore { return self.stores }

// PrimaryStore returns the first store.
func (self *Scope) PrimaryStore() *DexStore {
    if len(self.stores) == 0 {
        return nil
    }
    return self.stores[0]
}

// Classes returns the defined classes of every store in order.
func (self *Scope) Classes() []*Class {
    var r []*Class
    for _, s := range self.stores {
        r = append(r, s.classes...)
    }
    return r
}

// NumClasses counts all defined classes.
func (self *Scope) NumClasses() int {
    n := 0
    for _, s := range self.stores {
        n += len(s.classes)
    }
    return n
}

// ClassOf maps an interned type to its defining class, or nil for
// external and deleted types.
func (self *Scope) ClassOf(t *Type) *Class {
    return self.byType[t]
}

// ForEachClass visits every defined class.
func (self *Scope) ForEachClass(fn func(*Class)) {
    for _, s := range self.stores {
        for _, c := range s.classes {
            fn(c)
        }
    }
}

// ForEachMethod visits every concrete method of every defined class.
func (self *Scope) ForEachMethod(fn func(*MethodRef)) {
    self.ForEachClass(func(c *Class) {
        c.ForEachMethod(fn)
    })
}

// ForEachCode visits every method body.
func (self *Scope) ForEachCode(fn func(*MethodRef, *Code)) {
    self.ForEachMethod(func(m *MethodRef) {
        if code := m.Code(); code != nil {
            fn(m, code)
        }
    })
}

// Rebuild refreshes the type index and severs definitions of classes that
// were removed from their stores since the previous rebuild. The refs
// stay interned and navigable, they merely stop being concrete.
func (self *Scope) Rebuild() {
    idx := make(map[*Type]*Class, self.NumClasses())

    for _, s := range self.stores {
        for _, c := range s.classes {
            if old, ok := idx[c.typ]; ok && old != c {
                panic(fmt.Sprintf("ir: class %s defined twice in scope", c.Name()))
            }
            idx[c.typ] = c
        }
    }

    for _, s := range self.stores {
        for _, c := range s.removed {
            if idx[c.typ] == nil {
                detachClass(c)
            }
        }
        s.removed = nil
    }
    self.byType = idx
}

func detachClass(c *Class) {
    c.ForEachField(func(f *FieldRef) {
        f.ClearConcrete()
    })
    c.ForEachMethod(func(m *MethodRef) {
        m.ClearConcrete()
    })
}
