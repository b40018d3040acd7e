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
    `strings`
)

// Proto is an interned method prototype: a return type, an ordered parameter
// list, and the one-character-per-slot shorty descriptor.
type Proto struct {
    uid    uint64
    ret    *Type
    args   *TypeList
    shorty *String
}

func (self *Proto) Uid() uint64 {
    return self.uid
}

func (self *Proto) Ret() *Type {
    return self.ret
}

func (self *Proto) Args() *TypeList {
    return self.args
}

func (self *Proto) Shorty() *String {
    return self.shorty
}

// RegsForArgs returns the number of registers the parameters occupy, with
// wide parameters counting twice.
func (self *Proto) RegsForArgs() int {
    n := 0
    for _, t := range self.args.Types() {
        if t.IsWide() {
            n += 2
        } else {
            n += 1
        }
    }
    return n
}

// Key renders the canonical "(ARGS)RET" signature used as the intern key.
func (self *Proto) Key() string {
    return protoKey(self.ret, self.args.Types())
}

func (self *Proto) String() string {
    return self.Key()
}

func protoKey(ret *Type, args []*Type) string {
    var sb strings.Builder
    sb.WriteByte('(')
    for _, t := range args {
        sb.WriteString(t.Name())
    }
    sb.WriteByte(')')
    sb.WriteString(ret.Name())
    return sb.String()
}

func shortyOf(ret *Type, args []*Type) string {
    var sb strings.Builder
    sb.WriteByte(ret.ShortyChar())
    for _, t := range args {
        sb.WriteByte(t.ShortyChar())
    }
    return sb.String()
}

// MakeProto interns the prototype (args)ret.
func (self *Context) MakeProto(ret *Type, args []*Type) *Proto {
    key := protoKey(ret, args)
    sh := &self.protos[shardOf(key)]

    sh.mu.RLock()
    p := sh.m[key]
    sh.mu.RUnlock()
    if p != nil {
        return p
    }

    /* intern the components outside of the proto lock */
    al := self.MakeTypeList(args)
    sy := self.MakeString(shortyOf(ret, args))

    sh.mu.Lock()
    if p = sh.m[key]; p == nil {
        p = &Proto { uid: self.nextUid(), ret: ret, args: al, shorty: sy }
        sh.m[key] = p
    }
    sh.mu.Unlock()
    return p
}

// GetProto returns the interned prototype, or nil.
func (self *Context) GetProto(ret *Type, args []*Type) *Proto {
    key := protoKey(ret, args)
    sh := &self.protos[shardOf(key)]
    sh.mu.RLock()
    p := sh.m[key]
    sh.mu.RUnlock()
    return p
}
