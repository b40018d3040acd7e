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

// Package ir is the interned object model of the optimizer: strings, types,
// prototypes, field and method references exist exactly once per Context, so
// pointer equality is value equality. Definitions (classes, concrete fields
// and methods, method bodies) hang off the interned references and live for
// one optimization run. The package also owns the two method body forms, the
// linear instruction list and the control flow graph, and the conversions
// between them.
package ir

import (
    `sync`
    `sync/atomic`

    `github.com/bytedance/gopkg/util/xxhash3`
)

const (
    _ShardBits  = 6
    _ShardCount = 1 << _ShardBits
)

// Context owns every interned table for one optimization run. Passes receive
// a *Context instead of reaching for process globals; interned pointers are
// only comparable when they come from the same Context.
type Context struct {
    uids         uint64
    strings      [_ShardCount]_StringShard
    types        [_ShardCount]_TypeShard
    lists        [_ShardCount]_TypeListShard
    protos       [_ShardCount]_ProtoShard
    fields       [_ShardCount]_FieldShard
    methods      [_ShardCount]_MethodShard
    typeRename   sync.Mutex
    fieldRename  sync.Mutex
    methodRename sync.Mutex
}

// NewContext creates an empty interner context.
func NewContext() *Context {
    ret := new(Context)
    for i := 0; i < _ShardCount; i++ {
        ret.strings[i].m = make(map[string]*String)
        ret.types[i].m = make(map[string]*Type)
        ret.lists[i].m = make(map[string]*TypeList)
        ret.protos[i].m = make(map[string]*Proto)
        ret.fields[i].m = make(map[string]*FieldRef)
        ret.methods[i].m = make(map[string]*MethodRef)
    }
    return ret
}

func (self *Context) nextUid() uint64 {
    return atomic.AddUint64(&self.uids, 1)
}

func shardOf(key string) uint64 {
    return xxhash3.HashString(key) & (_ShardCount - 1)
}

type _StringShard struct {
    mu sync.RWMutex
    m  map[string]*String
}

type _TypeShard struct {
    mu sync.RWMutex
    m  map[string]*Type
}

type _TypeListShard struct {
    mu sync.RWMutex
    m  map[string]*TypeList
}

type _ProtoShard struct {
    mu sync.RWMutex
    m  map[string]*Proto
}

type _FieldShard struct {
    mu sync.RWMutex
    m  map[string]*FieldRef
}

type _MethodShard struct {
    mu sync.RWMutex
    m  map[string]*MethodRef
}

// Counts reports the current table sizes, in the order strings, types,
// type lists, protos, field refs, method refs.
func (self *Context) Counts() [6]int {
    var ret [6]int
    for i := 0; i < _ShardCount; i++ {
        self.strings[i].mu.RLock()
        ret[0] += len(self.strings[i].m)
        self.strings[i].mu.RUnlock()
        self.types[i].mu.RLock()
        ret[1] += len(self.types[i].m)
        self.types[i].mu.RUnlock()
        self.lists[i].mu.RLock()
        ret[2] += len(self.lists[i].m)
        self.lists[i].mu.RUnlock()
        self.protos[i].mu.RLock()
        ret[3] += len(self.protos[i].m)
        self.protos[i].mu.RUnlock()
        self.fields[i].mu.RLock()
        ret[4] += len(self.fields[i].m)
        self.fields[i].mu.RUnlock()
        self.methods[i].mu.RLock()
        ret[5] += len(self.methods[i].m)
        self.methods[i].mu.RUnlock()
    }
    return ret
}
