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

// Position is one node of the debug position tree. Parent links an inlined
// position to the position of the call site it was inlined into. A nil
// File means the source is unknown.
type Position struct {
    Parent *Position
    Method *String
    File   *String
    Line   uint32
}

func NewPosition(file *String, line uint32) *Position {
    return &Position{File: file, Line: line}
}

// Root follows parent links to the outermost frame.
func (self *Position) Root() *Position {
    p := self
    for p.Parent != nil {
        p = p.Parent
    }
    return p
}

// Depth is the inlining chain length, 1 for a plain position.
func (self *Position) Depth() int {
    n := 0
    for p := self; p != nil; p = p.Parent {
        n++
    }
    return n
}

// SameSource reports whether two positions name the same file and line,
// ignoring inlining parents.
func (self *Position) SameSource(other *Position) bool {
    if self == nil || other == nil {
        return self == other
    }
    return self.File == other.File && self.Line == other.Line
}
