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
    `sort`
    `sync`
    `testing`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func walkScope(ctx *ir.Context, nclasses int, nmethods int) *ir.Scope {
    obj := ctx.MakeType("Ljava/lang/Object;")
    store := ir.NewDexStore("classes")

    for i := 0; i < nclasses; i++ {
        c := ir.NewClass(ctx.MakeType(fmt.Sprintf("La/C%d;", i)), obj, ir.AccPublic)
        for j := 0; j < nmethods; j++ {
            m := ctx.MakeMethod(c.Name(), fmt.Sprintf("m%d", j), "V").MakeConcrete(&ir.MethodDef { Access: ir.AccPublic | ir.AccStatic })
            code := ir.NewCodeForMethod(m, 1)
            code.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpConst).SetDest(0).SetLiteral(int64(j))))
            code.List().PushBack(ir.NewInsnEntry(ir.NewInsn(ir.OpReturnVoid)))
            m.Def().Code = code
            c.AddMethod(m)
        }
        store.AddClass(c)
    }
    return ir.NewScope(store)
}

func TestForEachMethod_VisitsEverything(t *testing.T) {
    ctx := ir.NewContext()
    scope := walkScope(ctx, 7, 5)

    var mu sync.Mutex
    var got []string
    ForEachMethod(scope, func(m *ir.MethodRef) {
        mu.Lock()
        got = append(got, m.Key())
        mu.Unlock()
    })

    var want []string
    scope.ForEachMethod(func(m *ir.MethodRef) {
        want = append(want, m.Key())
    })

    sort.Strings(got)
    sort.Strings(want)
    assert.Equal(t, want, got)
    assert.Len(t, got, 35)
}

func TestForEachMethod_RethrowsWorkerPanic(t *testing.T) {
    ctx := ir.NewContext()
    scope := walkScope(ctx, 3, 3)

    n := 0
    var mu sync.Mutex
    assert.Panics(t, func() {
        ForEachMethod(scope, func(m *ir.MethodRef) {
            mu.Lock()
            n++
            mu.Unlock()
            if m.Name() == "m1" {
                panic("boom")
            }
        })
    })

    /* the walk drains before rethrowing */
    assert.Equal(t, 9, n)
}

func TestForEachClass_VisitsEverything(t *testing.T) {
    ctx := ir.NewContext()
    scope := walkScope(ctx, 4, 1)

    var mu sync.Mutex
    got := make(map[string]bool)
    ForEachClass(scope, func(c *ir.Class) {
        mu.Lock()
        got[c.Name()] = true
        mu.Unlock()
    })
    assert.Len(t, got, 4)
    assert.True(t, got["La/C0;"])
}

type _InsnCount struct {
    n int
}

func (self *_InsnCount) Merge(rhs Accumulator) {
    self.n += rhs.(*_InsnCount).n
}

func TestReduce_CountsInstructions(t *testing.T) {
    ctx := ir.NewContext()
    scope := walkScope(ctx, 6, 4)

    acc, err := Reduce(scope, func() Accumulator { return new(_InsnCount) }, func(a Accumulator, m *ir.MethodRef, code *ir.Code) error {
        code.ForEachInsn(func(p *ir.Instruction) bool {
            a.(*_InsnCount).n++
            return true
        })
        return nil
    })
    require.NoError(t, err)

    /* const + return per body */
    assert.Equal(t, 6*4*2, acc.(*_InsnCount).n)
}

func TestReduce_PropagatesError(t *testing.T) {
    ctx := ir.NewContext()
    scope := walkScope(ctx, 2, 2)

    _, err := Reduce(scope, func() Accumulator { return new(_InsnCount) }, func(a Accumulator, m *ir.MethodRef, code *ir.Code) error {
        if m.Name() == "m1" {
            return fmt.Errorf("bad body %s", m.Key())
        }
        return nil
    })
    require.Error(t, err)
    assert.Contains(t, err.Error(), "bad body")
}

func TestMap_ParallelCounters(t *testing.T) {
    m := NewMap()

    var wg sync.WaitGroup
    for i := 0; i < 8; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            for j := 0; j < 1000; j++ {
                m.Add("hits", 1)
                m.Add(fmt.Sprintf("k%d", j%13), 1)
            }
        }()
    }
    wg.Wait()

    v, ok := m.Get("hits")
    require.True(t, ok)
    assert.Equal(t, int64(8000), v)
    assert.Equal(t, 14, m.Len())

    out := m.Drain()
    assert.Equal(t, int64(8000), out["hits"])
    assert.Equal(t, 0, m.Len())
    _, ok = m.Get("hits")
    assert.False(t, ok)
}
