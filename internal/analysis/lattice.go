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

package analysis

import (
    `github.com/bytedance/dexter/internal/ir`
)

// RegType is one element of the verifier register type lattice.
//
//                              Top
//               /       |       |       \
//        Reference   Scalar  Scalar1  Scalar2
//            |       /    \    /  \    /  \
//            |     Int  Float Long1 \  Long2 \
//            |       \   /     | Double1 | Double2
//            |       Const   Const1  \ Const2 /
//             \      /          \     |      /
//              \   Zero          \    |     /
//               \  /              \   |    /
//                Bottom ───────────────────
//
// Wide values occupy two registers; the 1/2 suffix is the half held by
// the lower and the upper register of the pair.
type RegType uint8

const (
    TBottom RegType = iota
    TZero
    TConst
    TConst1
    TConst2
    TRef
    TInt
    TFloat
    TLong1
    TLong2
    TDouble1
    TDouble2
    TScalar
    TScalar1
    TScalar2
    TTop
)

var _TypeNames = [16]string {
    "Bottom", "Zero", "Const", "Const1", "Const2", "Reference", "Int", "Float",
    "Long1", "Long2", "Double1", "Double2", "Scalar", "Scalar1", "Scalar2", "Top",
}

/* covering relation, lower element first */
var _hasse = [...][2]RegType {
    {TBottom, TZero},
    {TBottom, TConst1},
    {TBottom, TConst2},
    {TZero, TRef},
    {TZero, TConst},
    {TConst, TInt},
    {TConst, TFloat},
    {TConst1, TLong1},
    {TConst1, TDouble1},
    {TConst2, TLong2},
    {TConst2, TDouble2},
    {TInt, TScalar},
    {TFloat, TScalar},
    {TLong1, TScalar1},
    {TDouble1, TScalar1},
    {TLong2, TScalar2},
    {TDouble2, TScalar2},
    {TRef, TTop},
    {TScalar, TTop},
    {TScalar1, TTop},
    {TScalar2, TTop},
}

var (
    _ups   [16]uint16
    _downs [16]uint16
    _joins [16][16]RegType
    _meets [16][16]RegType
)

func init() {
    for i := 0; i < 16; i++ {
        _ups[i] = 1 << i
        _downs[i] = 1 << i
    }

    /* transitive closure over the covering edges */
    for again := true; again; {
        again = false
        for _, e := range _hasse {
            lo, hi := e[0], e[1]
            if m := _ups[lo] | _ups[hi]; m != _ups[lo] {
                _ups[lo] = m
                again = true
            }
            if m := _downs[hi] | _downs[lo]; m != _downs[hi] {
                _downs[hi] = m
                again = true
            }
        }
    }

    /* every bound must be principal for the tables to make sense */
    pick := func(mask uint16, sets *[16]uint16) RegType {
        for i := 0; i < 16; i++ {
            if sets[i] == mask {
                return RegType(i)
            }
        }
        panic("analysis: type lattice is not principal")
    }
    for a := 0; a < 16; a++ {
        for b := 0; b < 16; b++ {
            _joins[a][b] = pick(_ups[a]&_ups[b], &_ups)
            _meets[a][b] = pick(_downs[a]&_downs[b], &_downs)
        }
    }
}

func (self RegType) String() string {
    return _TypeNames[self&15]
}

func (self RegType) Leq(other RegType) bool {
    return _ups[self]&(1<<other) != 0
}

func (self RegType) Join(other RegType) RegType {
    return _joins[self][other]
}

func (self RegType) Meet(other RegType) RegType {
    return _meets[self][other]
}

// IsWideLo reports whether the type is the lower half of a pair.
func (self RegType) IsWideLo() bool {
    switch self {
        case TConst1, TLong1, TDouble1, TScalar1 : return true
        default                                  : return false
    }
}

// IsWideHi reports whether the type is the upper half of a pair.
func (self RegType) IsWideHi() bool {
    switch self {
        case TConst2, TLong2, TDouble2, TScalar2 : return true
        default                                  : return false
    }
}

// Hi is the upper half matching a lower half.
func (self RegType) Hi() RegType {
    if !self.IsWideLo() {
        panic("analysis: Hi of a non-wide type " + self.String())
    }
    return self + 1
}

/* lattice element for a declared type; wide kinds yield the lower half */
func regTypeOf(t *ir.Type) RegType {
    switch t.Name()[0] {
        case 'Z', 'B', 'S', 'C', 'I' : return TInt
        case 'F'                     : return TFloat
        case 'J'                     : return TLong1
        case 'D'                     : return TDouble1
        case 'L', '['                : return TRef
        default                      : return TTop
    }
}

/* class refinement carried next to the lattice element, references only */
func classOf(t *ir.Type) *ir.Type {
    if t.IsReference() {
        return t
    }
    return nil
}
