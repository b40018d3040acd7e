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
    `bufio`
    `fmt`
    `io`
)

// PositionMapper assigns every emitted debug position a one-based output
// line and renders the map file: one "file:line" entry per position,
// with "|n" appended when the position was inlined into the position on
// output line n. Parents are registered before their children, so the
// back reference always points upward.
type PositionMapper struct {
    order []*Position
    ids   map[*Position]int
}

func NewPositionMapper() *PositionMapper {
    return &PositionMapper { ids: make(map[*Position]int) }
}

// Register records one position and its parent chain, returning the
// position's output line. Re-registering is free.
func (self *PositionMapper) Register(p *Position) int {
    if p == nil {
        return 0
    }
    if id, ok := self.ids[p]; ok {
        return id
    }
    self.Register(p.Parent)
    self.order = append(self.order, p)
    self.ids[p] = len(self.order)
    return len(self.order)
}

// RegisterCode walks one linear body in order and records every position
// entry it carries.
func (self *PositionMapper) RegisterCode(code *Code) {
    if code == nil || code.HasCFG() {
        return
    }
    code.List().ForEach(func(e *Entry) bool {
        if e.Kind() == EntryPosition {
            self.Register(e.Pos)
        }
        return true
    })
}

// RegisterScope records the positions of every method body, classes and
// members in scope order.
func (self *PositionMapper) RegisterScope(scope *Scope) {
    scope.ForEachCode(func(_ *MethodRef, code *Code) {
        self.RegisterCode(code)
    })
}

func (self *PositionMapper) Len() int {
    return len(self.order)
}

// WriteTo emits the v2 textual map.
func (self *PositionMapper) WriteTo(w io.Writer) error {
    bw := bufio.NewWriter(w)
    for _, p := range self.order {
        file := "unknown"
        if p.File != nil {
            file = p.File.Raw()
        }
        if p.Parent != nil {
            fmt.Fprintf(bw, "%s:%d|%d\n", file, p.Line, self.ids[p.Parent])
        } else {
            fmt.Fprintf(bw, "%s:%d\n", file, p.Line)
        }
    }
    return bw.Flush()
}
