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
    `fmt`
    `sort`
    `sync`

    `github.com/bytedance/dexter/internal/concurrent`
    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/dexter/internal/resolver`
    log `github.com/sirupsen/logrus`
)

// BreadcrumbError reports dangling references left behind by a deletion
// pass.
type BreadcrumbError struct {
    Count int
    First string
}

func (self *BreadcrumbError) Error() string {
    return fmt.Sprintf("passes: %d dangling references, first: %s", self.Count, self.First)
}

// BreadcrumbsPass verifies that every field and method the code
// references still resolves. A miss on a class the scope defines is a
// breadcrumb: some pass deleted the definition but left a reference
// behind. Misses on classes outside the scope are library references
// and pass. With fail_if_illegal_refs the pass additionally rejects
// references from one store into a later one, which the DEX loader
// cannot satisfy.
//
// Options:
//
//     report_only            bool    log and count instead of failing  (default false)
//     fail_if_illegal_refs   bool    also reject cross-store refs      (default false)
type BreadcrumbsPass struct{}

func (self *BreadcrumbsPass) Name() string {
    return "CheckBreadcrumbsPass"
}

func (self *BreadcrumbsPass) Interaction() Interaction {
    return Interaction{}
}

type _Crumb struct {
    method string
    ref    string
}

func (self *BreadcrumbsPass) Run(run *Run) error {
    opts := run.Options(self)
    res := run.Resolver()
    hier := run.Hierarchy()
    storeOf := storeIndex(run.Scope)
    crossStores := opts.Bool("fail_if_illegal_refs", false)

    var mu sync.Mutex
    var crumbs []_Crumb
    var illegal int64

    concurrent.ForEachCode(run.Scope, func(m *ir.MethodRef, code *ir.Code) {
        home := storeOf[m.Class()]
        code.ForEachInsn(func(p *ir.Instruction) bool {
            var miss, cross bool
            switch {
                case p.Field() != nil:
                    miss = danglingField(res, hier, p.Field(), p.Op())
                    cross = crossStores && crossesStore(storeOf, home, p.Field().Class())
                case p.Method() != nil:
                    miss = danglingMethod(res, hier, p.Method())
                    cross = crossStores && crossesStore(storeOf, home, p.Method().Class())
                case p.Typ() != nil:
                    cross = crossStores && crossesStore(storeOf, home, p.Typ())
            }
            if miss || cross {
                mu.Lock()
                if miss {
                    crumbs = append(crumbs, _Crumb { method: m.OrderKey(), ref: p.String() })
                }
                if cross {
                    illegal++
                }
                mu.Unlock()
            }
            return true
        })
    })

    metrics := run.Metrics(self)
    metrics.Set("dangling_refs", int64(len(crumbs)))
    metrics.Set("illegal_cross_store_refs", illegal)

    if len(crumbs) == 0 && illegal == 0 {
        return nil
    }
    sort.Slice(crumbs, func(i, j int) bool {
        if crumbs[i].method != crumbs[j].method {
            return crumbs[i].method < crumbs[j].method
        }
        return crumbs[i].ref < crumbs[j].ref
    })

    if opts.Bool("report_only", false) {
        for _, c := range crumbs {
            log.Warnf("passes: dangling reference %s in %s", c.ref, c.method)
        }
        return nil
    }

    count := len(crumbs) + int(illegal)
    first := "cross-store reference"
    if len(crumbs) > 0 {
        first = fmt.Sprintf("%s in %s", crumbs[0].ref, crumbs[0].method)
    }
    return &BreadcrumbError { Count: count, First: first }
}

// danglingField reports a field ref that neither resolves nor points
// outside the scope.
func danglingField(res *resolver.Resolver, hier *resolver.ClassHierarchy, f *ir.FieldRef, op ir.Op) bool {
    if hier.ClassOf(f.Class()) == nil {
        return false
    }
    kind := resolver.FieldAny
    if op.Fam() == ir.FamSGet || op.Fam() == ir.FamSPut {
        kind = resolver.FieldStatic
    }
    def := res.ResolveField(f, kind)
    return def == nil || !def.IsConcrete()
}

func danglingMethod(res *resolver.Resolver, hier *resolver.ClassHierarchy, m *ir.MethodRef) bool {
    if hier.ClassOf(m.Class()) == nil {
        return false
    }
    def := res.ResolveMethod(m, resolver.SearchAny)
    return def == nil || !def.IsConcrete()
}

// storeIndex maps every defined type to the position of its store. A
// reference is legal only toward the same or an earlier store.
func storeIndex(scope *ir.Scope) map[*ir.Type]int {
    idx := make(map[*ir.Type]int)
    for i, st := range scope.Stores() {
        for _, c := range st.Classes() {
            idx[c.Type()] = i
        }
    }
    return idx
}

func crossesStore(idx map[*ir.Type]int, home int, t *ir.Type) bool {
    target, ok := idx[t]
    return ok && target > home
}
