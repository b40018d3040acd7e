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

package cse

import (
    `github.com/bytedance/dexter/internal/ir`
)

// _BoxPair ties one primitive wrapper's boxing method to its unboxing
// method and, where the JDK declares one, to the abstract Number unbox
// the concrete one overrides.
type _BoxPair struct {
    wrapper  *ir.Type
    box      *ir.MethodRef
    unbox    *ir.MethodRef
    abstract *ir.MethodRef
}

func boxingPairs(ctx *ir.Context) []*_BoxPair {
    mk := func(wrapper string, prim string, unbox string, abstract string) *_BoxPair {
        p := &_BoxPair {
            wrapper : ctx.MakeType(wrapper),
            box     : ctx.MakeMethod(wrapper, "valueOf", wrapper, prim),
            unbox   : ctx.MakeMethod(wrapper, unbox, prim),
        }
        if abstract != "" {
            p.abstract = ctx.MakeMethod("Ljava/lang/Number;", abstract, prim)
        }
        return p
    }
    return []*_BoxPair {
        mk("Ljava/lang/Boolean;"   , "Z", "booleanValue", ""),
        mk("Ljava/lang/Byte;"      , "B", "byteValue"   , "byteValue"),
        mk("Ljava/lang/Character;" , "C", "charValue"   , ""),
        mk("Ljava/lang/Short;"     , "S", "shortValue"  , "shortValue"),
        mk("Ljava/lang/Integer;"   , "I", "intValue"    , "intValue"),
        mk("Ljava/lang/Long;"      , "J", "longValue"   , "longValue"),
        mk("Ljava/lang/Float;"     , "F", "floatValue"  , "floatValue"),
        mk("Ljava/lang/Double;"    , "D", "doubleValue" , "doubleValue"),
    }
}

// indexBoxing builds the wrapper method index once per run.
func (self *SharedState) indexBoxing(ctx *ir.Context) {
    self.boxes = make(map[*ir.MethodRef]*_BoxPair)
    self.unboxes = make(map[*ir.MethodRef]*_BoxPair)
    self.abstracts = make(map[*ir.MethodRef]*_BoxPair)
    for _, p := range boxingPairs(ctx) {
        self.boxes[p.box] = p
        self.unboxes[p.unbox] = p
        if p.abstract != nil {
            self.abstracts[p.abstract] = p
        }
    }
}
