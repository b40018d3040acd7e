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
    `fmt`
    `runtime/debug`
    `sync`

    `github.com/bytedance/gopkg/util/gopool`
    `github.com/bytedance/dexter/internal/config`
    `github.com/bytedance/dexter/internal/ir`
)

func init() {
    if config.Parallelism > 0 {
        gopool.SetCap(int32(config.Parallelism))
    }
}

// _Flight collects the first panic raised by any worker so the walk can
// rethrow it on the caller's goroutine once every worker has drained.
type _Flight struct {
    once  sync.Once
    val   interface{}
    stack []byte
}

func (self *_Flight) catch() {
    if v := recover(); v != nil {
        self.once.Do(func() {
            self.val = v
            self.stack = debug.Stack()
        })
    }
}

func (self *_Flight) rethrow(what string) {
    if self.val != nil {
        panic(fmt.Sprintf("concurrent: %s panicked: %v\n%s", what, self.val, self.stack))
    }
}

// ForEachMethod runs fn over every concrete method of the scope, one
// pooled task per method. Panics inside fn are captured, the walk still
// drains, and the first one is rethrown to the caller.
func ForEachMethod(scope *ir.Scope, fn func(*ir.MethodRef)) {
    var wg sync.WaitGroup
    var fl _Flight

    scope.ForEachMethod(func(m *ir.MethodRef) {
        wg.Add(1)
        gopool.Go(func() {
            defer wg.Done()
            defer fl.catch()
            fn(m)
        })
    })

    wg.Wait()
    fl.rethrow("method walk")
}

// ForEachCode is ForEachMethod restricted to methods that carry a body.
func ForEachCode(scope *ir.Scope, fn func(*ir.MethodRef, *ir.Code)) {
    ForEachMethod(scope, func(m *ir.MethodRef) {
        if code := m.Code(); code != nil {
            fn(m, code)
        }
    })
}

// ForEachClass runs fn over every defined class, one pooled task per
// class, with the same panic discipline as ForEachMethod.
func ForEachClass(scope *ir.Scope, fn func(*ir.Class)) {
    var wg sync.WaitGroup
    var fl _Flight

    scope.ForEachClass(func(c *ir.Class) {
        wg.Add(1)
        gopool.Go(func() {
            defer wg.Done()
            defer fl.catch()
            fn(c)
        })
    })

    wg.Wait()
    fl.rethrow("class walk")
}
