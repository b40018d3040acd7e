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

package passes

import (
    `sync`

    `github.com/bytedance/dexter/internal/analysis`
    `github.com/bytedance/dexter/internal/concurrent`
    `github.com/bytedance/dexter/internal/ir`
)

// ConstantPropagationPass folds constants method by method: uses of
// provably constant registers become const loads, decided conditionals
// become gotos, and the dead arms go away. The whole-program field
// summary is rebuilt at pass entry from encoded static values and the
// observed store sites.
//
// Options:
//
//     pure_getters   list    intern keys of methods whose result the
//                            analysis may treat as a stable value
type ConstantPropagationPass struct{}

func (self *ConstantPropagationPass) Name() string {
    return "ConstantPropagationPass"
}

func (self *ConstantPropagationPass) Interaction() Interaction {
    return Interaction {
        Preserves: []Property { NoUnreachableInstructions },
    }
}

func (self *ConstantPropagationPass) Run(run *Run) error {
    opts := run.Options(self)
    summary := buildFieldSummary(run.Scope)
    getters := collectGetters(run.Scope, opts.Strs("pure_getters"))
    annos := noOptAnnos(run)
    width := run.Config.InstructionSizeBitwidthLimit()

    var mu sync.Mutex
    var total analysis.ConstFoldStats
    var exempt int64

    concurrent.ForEachCode(run.Scope, func(m *ir.MethodRef, code *ir.Code) {
        if optedOut(run.Scope, annos, m) || sizeCapped(width, code) {
            mu.Lock()
            exempt++
            mu.Unlock()
            return
        }
        cfg := code.BuildCFG(true, false)
        cp := analysis.AnalyzeConstants(m, cfg, summary, getters)
        stats := cp.Apply()
        code.ClearCFG()

        mu.Lock()
        total.Add(stats)
        mu.Unlock()
    })

    metrics := run.Metrics(self)
    metrics.Set("folded_ops", int64(total.FoldedOps))
    metrics.Set("folded_branches", int64(total.FoldedBranches))
    metrics.Set("class_inits", int64(total.ClassInits))
    metrics.Set("removed_insns", int64(total.RemovedInsns))
    metrics.Set("summary_fields", int64(summary.Len()))
    metrics.Set("methods_exempt", exempt)
    return nil
}

// buildFieldSummary collects the static fields whose value is settled at
// class preparation: an encoded constant with no store anywhere outside
// the owning initializer. Classes with no initializer at all get a pure
// init mark, their preparation cannot be observed.
func buildFieldSummary(scope *ir.Scope) *analysis.FieldSummary {
    written := make(map[*ir.FieldRef]bool)

    for _, c := range scope.Classes() {
        clinit := c.Clinit()
        c.ForEachMethod(func(m *ir.MethodRef) {
            code := m.Code()
            if code == nil {
                return
            }
            code.ForEachInsn(func(p *ir.Instruction) bool {
                if p.Op().Fam() == ir.FamSPut && (m != clinit || p.Field().Class() != c.Type()) {
                    written[p.Field()] = true
                }
                return true
            })
        })
    }

    summary := analysis.NewFieldSummary()
    for _, c := range scope.Classes() {
        if c.Clinit() == nil {
            summary.SetPureInit(c.Type())
        }
        for _, f := range c.StaticFields() {
            def := f.Def()
            if def == nil || written[f] || !def.Access.Has(ir.AccFinal) {
                continue
            }
            if v := constOf(def.Value); v != nil {
                summary.SetValue(f, *v)
            }
        }
    }
    return summary
}

func constOf(v *ir.EncodedValue) *analysis.ConstVal {
    if v == nil {
        return nil
    }
    switch v.Kind {
        case ir.ValueByte, ir.ValueShort, ir.ValueChar, ir.ValueInt,
             ir.ValueLong, ir.ValueFloat, ir.ValueDouble, ir.ValueBoolean:
            cv := analysis.ConstOf(int64(v.Lit))
            return &cv
        case ir.ValueNull:
            cv := analysis.ConstOf(0)
            return &cv
        default:
            return nil
    }
}

// collectGetters resolves the configured intern keys against the method
// refs the scope actually invokes, so the analysis can compare by
// pointer.
func collectGetters(scope *ir.Scope, keys []string) map[*ir.MethodRef]bool {
    if len(keys) == 0 {
        return nil
    }

    want := make(map[string]bool, len(keys))
    for _, k := range keys {
        want[k] = true
    }

    getters := make(map[*ir.MethodRef]bool)
    scope.ForEachCode(func(_ *ir.MethodRef, code *ir.Code) {
        code.ForEachInsn(func(p *ir.Instruction) bool {
            if m := p.Method(); m != nil && want[m.Key()] {
                getters[m] = true
            }
            return true
        })
    })
    return getters
}
