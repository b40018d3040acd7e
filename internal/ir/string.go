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
    `github.com/bytedance/dexter/internal/mutf8`
)

// String is an interned MUTF-8 byte sequence. Two *String values from the
// same Context are pointer-equal iff their byte sequences are equal.
type String struct {
    uid   uint64
    data  string
    units uint32
}

// Uid returns the insertion-assigned id, used for deterministic ordering.
func (self *String) Uid() uint64 {
    return self.uid
}

// Raw returns the underlying MUTF-8 bytes.
func (self *String) Raw() string {
    return self.data
}

// Units returns the UTF-16 code unit count of the string.
func (self *String) Units() uint32 {
    return self.units
}

// Display converts the string to standard UTF-8 for human consumption.
func (self *String) Display() string {
    return mutf8.Decode(self.data)
}

// CompareTo orders two interned strings by Unicode code point.
func (self *String) CompareTo(other *String) int {
    if self == other {
        return 0
    }
    return mutf8.Compare(self.data, other.data)
}

func (self *String) String() string {
    return self.Display()
}

// MakeString interns the MUTF-8 byte sequence s, creating it on first use.
// The sequence must be well-formed; foreign input is validated at the DEX
// reading boundary.
func (self *Context) MakeString(s string) *String {
    sh := &self.strings[shardOf(s)]

    /* fast path, the string is already interned */
    sh.mu.RLock()
    p := sh.m[s]
    sh.mu.RUnlock()
    if p != nil {
        return p
    }

    /* count code units outside of the lock */
    units, err := mutf8.CountCodeUnits(s)
    if err != nil {
        panic("ir: interning malformed MUTF-8: " + err.Error())
    }

    /* re-check under the write lock, another goroutine may have won */
    sh.mu.Lock()
    if p = sh.m[s]; p == nil {
        p = &String { uid: self.nextUid(), data: s, units: units }
        sh.m[s] = p
    }
    sh.mu.Unlock()
    return p
}

// GetString returns the interned string for s, or nil if absent.
func (self *Context) GetString(s string) *String {
    sh := &self.strings[shardOf(s)]
    sh.mu.RLock()
    p := sh.m[s]
    sh.mu.RUnlock()
    return p
}

// EraseString removes p from the table. The pointer stays valid until run
// teardown, but GetString no longer returns it.
func (self *Context) EraseString(p *String) {
    sh := &self.strings[shardOf(p.data)]
    sh.mu.Lock()
    if sh.m[p.data] == p {
        delete(sh.m, p.data)
    }
    sh.mu.Unlock()
}

// ForEachString calls fn for every interned string. The iteration order is
// unspecified; callers needing determinism sort by Uid.
func (self *Context) ForEachString(fn func(*String)) {
    for i := 0; i < _ShardCount; i++ {
        sh := &self.strings[i]
        sh.mu.RLock()
        for _, p := range sh.m {
            fn(p)
        }
        sh.mu.RUnlock()
    }
}
