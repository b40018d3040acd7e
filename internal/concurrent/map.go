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

package concurrent

import (
    `sync`

    `github.com/bytedance/gopkg/util/xxhash3`
)

const (
    _MapShardBits  = 6
    _MapShardCount = 1 << _MapShardBits
)

type _MapShard struct {
    mu sync.Mutex
    m  map[string]interface{}
}

// Map is a string-keyed sharded map for cross-task aggregation. Update
// is atomic per key, so parallel walkers can fold into it without any
// further locking of their own.
type Map struct {
    shards [_MapShardCount]_MapShard
}

func NewMap() *Map {
    ret := new(Map)
    for i := 0; i < _MapShardCount; i++ {
        ret.shards[i].m = make(map[string]interface{})
    }
    return ret
}

func (self *Map) shardOf(key string) *_MapShard {
    return &self.shards[xxhash3.HashString(key)&(_MapShardCount-1)]
}

// Update applies fn to the current value under key and stores the
// result. fn sees (nil, false) when the key is new.
func (self *Map) Update(key string, fn func(old interface{}, ok bool) interface{}) {
    s := self.shardOf(key)
    s.mu.Lock()
    old, ok := s.m[key]
    s.m[key] = fn(old, ok)
    s.mu.Unlock()
}

// Add folds an integer delta into key, a shorthand for counter maps.
func (self *Map) Add(key string, delta int64) {
    self.Update(key, func(old interface{}, ok bool) interface{} {
        if !ok {
            return delta
        }
        return old.(int64) + delta
    })
}

// Get reads the current value under key.
func (self *Map) Get(key string) (interface{}, bool) {
    s := self.shardOf(key)
    s.mu.Lock()
    v, ok := s.m[key]
    s.mu.Unlock()
    return v, ok
}

// Len counts the resident keys.
func (self *Map) Len() int {
    n := 0
    for i := 0; i < _MapShardCount; i++ {
        s := &self.shards[i]
        s.mu.Lock()
        n += len(s.m)
        s.mu.Unlock()
    }
    return n
}

// Drain takes a consistent snapshot of the whole map and resets it. All
// shard locks are held together so no concurrent Update straddles the
// snapshot.
func (self *Map) Drain() map[string]interface{} {
    for i := 0; i < _MapShardCount; i++ {
        self.shards[i].mu.Lock()
    }

    out := make(map[string]interface{})
    for i := 0; i < _MapShardCount; i++ {
        s := &self.shards[i]
        for k, v := range s.m {
            out[k] = v
        }
        s.m = make(map[string]interface{})
    }

    for i := _MapShardCount - 1; i >= 0; i-- {
        self.shards[i].mu.Unlock()
    }
    return out
}
