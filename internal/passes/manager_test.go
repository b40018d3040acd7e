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
    `errors`
    `testing`

    `github.com/bytedance/dexter/internal/config`
    `github.com/bytedance/dexter/internal/ir`
    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

type fakePass struct {
    name string
    it   Interaction
    ran  *[]string
    fail error
}

func (self *fakePass) Name() string             { return self.name }
func (self *fakePass) Interaction() Interaction { return self.it }

func (self *fakePass) Run(run *Run) error {
    *self.ran = append(*self.ran, self.name)
    return self.fail
}

func fakeRun(t *testing.T) *Run {
    ctx := ir.NewContext()
    store := ir.NewDexStore("classes")
    return NewRun(ctx, ir.NewScope(store), config.New())
}

func TestManager_UnknownPass(t *testing.T) {
    _, err := NewManager([]string { "NoSuchPass" })
    var bad *UnknownPassError
    require.True(t, errors.As(err, &bad))
    assert.Equal(t, "NoSuchPass", bad.Name)
}

func TestManager_PropertySequencing(t *testing.T) {
    var ran []string
    RegisterPass("EstablishPass", func() Pass {
        return &fakePass {
            name : "EstablishPass",
            ran  : &ran,
            it   : Interaction { Establishes: []Property { NoUnreachableInstructions } },
        }
    })
    RegisterPass("NeedyPass", func() Pass {
        return &fakePass {
            name : "NeedyPass",
            ran  : &ran,
            it   : Interaction { Requires: []Property { NoUnreachableInstructions } },
        }
    })
    RegisterPass("DestroyPass", func() Pass {
        return &fakePass {
            name : "DestroyPass",
            ran  : &ran,
            it   : Interaction { Destroys: []Property { NoUnreachableInstructions } },
        }
    })

    m, err := NewManager([]string { "EstablishPass", "NeedyPass", "DestroyPass" })
    require.NoError(t, err)
    require.NoError(t, m.Run(fakeRun(t)))
    assert.Equal(t, []string { "EstablishPass", "NeedyPass", "DestroyPass" }, ran)
    assert.False(t, m.Active(NoUnreachableInstructions))
}

func TestManager_MissingRequirementAborts(t *testing.T) {
    var ran []string
    RegisterPass("NeedyPass", func() Pass {
        return &fakePass {
            name : "NeedyPass",
            ran  : &ran,
            it   : Interaction { Requires: []Property { HasSourceBlocks } },
        }
    })

    m, err := NewManager([]string { "NeedyPass" })
    require.NoError(t, err)

    err = m.Run(fakeRun(t))
    var bad *PropertyError
    require.True(t, errors.As(err, &bad))
    assert.Equal(t, "NeedyPass", bad.Pass)
    assert.Equal(t, HasSourceBlocks, bad.Property)
    assert.Empty(t, ran, "the failing pass must not run")
}

func TestManager_FailureStopsSchedule(t *testing.T) {
    var ran []string
    boom := errors.New("boom")
    RegisterPass("BoomPass", func() Pass {
        return &fakePass { name: "BoomPass", ran: &ran, fail: boom }
    })
    RegisterPass("AfterPass", func() Pass {
        return &fakePass { name: "AfterPass", ran: &ran }
    })

    m, err := NewManager([]string { "BoomPass", "AfterPass" })
    require.NoError(t, err)

    err = m.Run(fakeRun(t))
    require.Error(t, err)
    assert.True(t, errors.Is(err, boom))
    assert.Equal(t, []string { "BoomPass" }, ran)
}

func TestManager_NamesCoverDefaultSchedule(t *testing.T) {
    names := Names()
    for _, name := range DefaultSchedule() {
        assert.True(t, names[name], name)
    }
}
