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

package dexio

import (
    `github.com/bytedance/dexter/internal/ir`
)

// LowerStats counts what one lowering run did.
type LowerStats struct {
    Lowered int // init-class turned into a static get
    Removed int // init-class on a type whose initializer is quiet
    Fields  int // trigger fields synthesised on classes with no statics
}

// LowerInitClasses rewrites every init-class pseudo instruction into a
// form the encoder accepts. A target whose static initializer has no
// observable side effects needs no trigger and the instruction goes
// away. Any other target becomes a static get of one of its fields,
// which makes the runtime run the initializer; a target with no static
// field gets a synthetic int one. Targets outside the scope are never in
// the side-effect set, so they always take the removal path.
//
// Bodies must be in linear form. The packer accounted one field id (and
// conditionally one type id) per pending init target, which is exactly
// what the rewrite spends.
func LowerInitClasses(ctx *ir.Context, scope *ir.Scope, sideEffects map[*ir.Type]bool) LowerStats {
    var stats LowerStats
    scope.ForEachCode(func(m *ir.MethodRef, code *ir.Code) {
        lowerCode(ctx, scope, code, sideEffects, &stats)
    })
    return stats
}

func lowerCode(ctx *ir.Context, scope *ir.Scope, code *ir.Code, sideEffects map[*ir.Type]bool, stats *LowerStats) {
    l := code.List()
    var tmp ir.Reg
    var tmpSet bool

    for e := l.Front(); e != nil; {
        next := e.Next()
        if e.Kind() == ir.EntryInsn && e.Insn.Op().Fam() == ir.FamInitClass {
            target := e.Insn.Typ()
            if !sideEffects[target] {
                l.Remove(e)
                stats.Removed++
            } else {
                if !tmpSet {
                    tmp, tmpSet = code.AllocTemp(), true
                }
                fld := triggerField(ctx, scope, target, stats)
                e.Insn = ir.NewInsn(sgetOpFor(fld)).SetField(fld)
                l.InsertAfter(e, ir.NewInsnEntry(ir.NewInsn(e.Insn.Op().MoveResultPseudoFor()).SetDest(tmp)))
                stats.Lowered++
            }
        }
        e = next
    }
}

// triggerField picks the static field whose read will run the
// initializer. Wide fields are skipped so one scratch register serves
// every rewrite in the method.
func triggerField(ctx *ir.Context, scope *ir.Scope, target *ir.Type, stats *LowerStats) *ir.FieldRef {
    cls := scope.ClassOf(target)
    if cls != nil {
        for _, f := range cls.StaticFields() {
            if c := f.Type().Name()[0]; c != 'J' && c != 'D' {
                return f
            }
        }
    }

    fld := ctx.MakeField(target.Name(), "$init$", "I")
    if cls != nil && fld.Def() == nil {
        cls.AddField(fld.MakeConcrete(&ir.FieldDef { Access: ir.AccPublic | ir.AccStatic | ir.AccFinal | ir.AccSynthetic }))
        stats.Fields++
    }
    return fld
}

func sgetOpFor(f *ir.FieldRef) ir.Op {
    switch f.Type().Name()[0] {
        case 'Z'      : return ir.OpSgetBoolean
        case 'B'      : return ir.OpSgetByte
        case 'C'      : return ir.OpSgetChar
        case 'S'      : return ir.OpSgetShort
        case 'L', '[' : return ir.OpSgetObject
        default       : return ir.OpSget
    }
}
