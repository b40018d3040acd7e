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
    `bufio`
    `fmt`
    `os`
    `path/filepath`
    `sort`
    `strings`

    `github.com/bytedance/dexter/internal/ir`
)

// RelocationMapFile records every origin-vs-destination pair the static
// relocator produced, one "old -> new" line per moved method.
const RelocationMapFile = "redex-moved-methods-map.txt"

// RelocatorPass moves relocatable static methods into synthetic holder
// classes, freeing their origin classes for later shrinking. A method is
// relocatable when moving it cannot change resolution or visibility:
// public static with a body, not an initializer, not synchronized (the
// implicit lock is the declaring class), and every member or type its
// body touches inside the scope is public. Reflective callers are the
// reason this pass needs ProGuard keep rules; without them it must stay
// out of the schedule.
//
// Options:
//
//     holder_prefix        string  descriptor prefix of the synthetic
//                                  holders         (default "Lcom/dexter/Relocated")
//     methods_per_holder   int     split threshold (default 200)
type RelocatorPass struct{}

func (self *RelocatorPass) Name() string {
    return "StaticRelocatorPass"
}

func (self *RelocatorPass) Interaction() Interaction {
    return Interaction{}
}

func (self *RelocatorPass) Run(run *Run) error {
    opts := run.Options(self)
    prefix := opts.Str("holder_prefix", "Lcom/dexter/Relocated")
    perHolder := opts.Int("methods_per_holder", 200)
    if perHolder < 1 {
        perHolder = 1
    }

    var rejected int64
    var cands []*ir.MethodRef
    for _, cls := range run.Scope.Classes() {
        if cls.IsExternal() || cls.IsInterface() || cls.PerfSensitive() {
            continue
        }
        for _, m := range cls.DirectMethods() {
            switch {
                case relocatable(run.Scope, m) : cands = append(cands, m)
                case m.IsStatic()              : rejected++
            }
        }
    }
    sort.Slice(cands, func(i int, j int) bool {
        return cands[i].OrderKey() < cands[j].OrderKey()
    })

    var holders []*ir.Class
    var holder *ir.Class
    moved := make(map[*ir.MethodRef]*ir.MethodRef, len(cands))
    store := run.Scope.PrimaryStore()

    for _, m := range cands {
        if holder == nil || len(holder.DirectMethods()) >= perHolder {
            t := run.Ctx.MakeType(fmt.Sprintf("%s%d;", prefix, len(holders)))
            holder = ir.NewClass(t, run.Ctx.MakeType("Ljava/lang/Object;"), ir.AccPublic | ir.AccFinal)
            store.AddClass(holder)
            holders = append(holders, holder)
        }

        neu := run.Ctx.MakeMethodRef(holder.Type(), m.NameString(), m.Proto())
        if neu.IsConcrete() {
            rejected++
            continue
        }

        def := m.Def()
        cls := run.Scope.ClassOf(m.Class())
        cls.RemoveMethod(m)
        m.ClearConcrete()
        holder.AddMethod(neu.MakeConcrete(def))
        moved[m] = neu
    }

    if len(moved) > 0 {
        run.Scope.Rebuild()
        run.Scope.ForEachCode(func(_ *ir.MethodRef, code *ir.Code) {
            code.List().ForEachInsn(func(p *ir.Instruction) bool {
                if neu := moved[p.Method()]; neu != nil {
                    p.SetMethod(neu)
                }
                return true
            })
        })
        run.Invalidate()
    }

    metrics := run.Metrics(self)
    metrics.Set("relocated_methods", int64(len(moved)))
    metrics.Set("relocation_holders", int64(len(holders)))
    metrics.Set("candidates_rejected", rejected)

    if run.OutDir == "" {
        return nil
    }
    return writeRelocationMap(filepath.Join(run.OutDir, RelocationMapFile), moved)
}

// relocatable decides whether moving m to another class is observation
// free. Concrete refs must be public; a bare ref whose container is in
// scope failed to resolve and blocks the move; library refs are taken on
// trust, the original call already crossed a class boundary.
func relocatable(scope *ir.Scope, m *ir.MethodRef) bool {
    def := m.Def()
    if def == nil || def.Code == nil {
        return false
    }
    if !def.Access.Has(ir.AccStatic) || !def.Access.Has(ir.AccPublic) {
        return false
    }
    if def.Access.Has(ir.AccSynchronized) || def.Access.Has(ir.AccNative) {
        return false
    }
    if m.IsInit() || m.IsClinit() || strings.HasPrefix(m.Name(), "$") {
        return false
    }

    ok := true
    def.Code.List().ForEachInsn(func(p *ir.Instruction) bool {
        switch {
            case p.Field() != nil  : ok = visibleField(scope, p.Field())
            case p.Method() != nil : ok = p.Method() == m || visibleMethod(scope, p.Method())
            case p.Typ() != nil    : ok = visibleType(scope, p.Typ())
        }
        return ok
    })
    return ok
}

func visibleField(scope *ir.Scope, f *ir.FieldRef) bool {
    if f.IsConcrete() {
        return f.Def().Access.Has(ir.AccPublic) && visibleType(scope, f.Class())
    }
    return scope.ClassOf(f.Class()) == nil
}

func visibleMethod(scope *ir.Scope, m *ir.MethodRef) bool {
    if m.IsConcrete() {
        return m.Def().Access.Has(ir.AccPublic) && visibleType(scope, m.Class())
    }
    return scope.ClassOf(m.Class()) == nil
}

func visibleType(scope *ir.Scope, t *ir.Type) bool {
    cls := scope.ClassOf(t)
    return cls == nil || cls.Access().Has(ir.AccPublic)
}

func writeRelocationMap(path string, moved map[*ir.MethodRef]*ir.MethodRef) error {
    f, err := os.Create(path)
    if err != nil {
        return err
    }
    defer f.Close()

    lines := make([]string, 0, len(moved))
    for old, neu := range moved {
        lines = append(lines, old.Key() + " -> " + neu.Key())
    }
    sort.Strings(lines)

    bw := bufio.NewWriter(f)
    for _, ln := range lines {
        fmt.Fprintln(bw, ln)
    }
    return bw.Flush()
}
