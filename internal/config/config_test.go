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

package config

import (
    `testing`

    `github.com/stretchr/testify/assert`
    `github.com/stretchr/testify/require`
)

func TestParse_FlattensPassScopes(t *testing.T) {
    cfg, err := Parse([]byte(`{
        "passes": ["FinalInlinePass", "CommonSubexpressionPass"],
        "FinalInlinePass": { "max_iterations": 5, "enabled": true },
        "CommonSubexpressionPass.runtime_assertions": true,
        "proguard_map": "mapping.txt"
    }`))
    require.NoError(t, err)

    assert.Equal(t, []string { "FinalInlinePass", "CommonSubexpressionPass" }, cfg.Passes())
    assert.Equal(t, "mapping.txt", cfg.ProguardMap())
    assert.True(t, cfg.Has("FinalInlinePass.max_iterations"))
    assert.Equal(t, 5, cfg.Int("FinalInlinePass.max_iterations", 0))
    assert.True(t, cfg.Bool("FinalInlinePass.enabled", false))
    assert.True(t, cfg.Bool("CommonSubexpressionPass.runtime_assertions", false))
}

func TestParse_RejectsBadJSON(t *testing.T) {
    _, err := Parse([]byte(`{"passes": [`))
    assert.Error(t, err)
}

func TestValidate_RejectsUnknownGlobal(t *testing.T) {
    cfg, err := Parse([]byte(`{"pases": []}`))
    require.NoError(t, err)

    err = cfg.Validate(map[string]bool{})
    require.Error(t, err)

    ke, ok := err.(*KeyError)
    require.True(t, ok)
    assert.Equal(t, "pases", ke.Key)
    assert.Contains(t, err.Error(), "unknown option")
}

func TestValidate_RejectsUnknownPass(t *testing.T) {
    cfg, err := Parse([]byte(`{"NoSuchPass": {"x": 1}}`))
    require.NoError(t, err)

    err = cfg.Validate(map[string]bool { "FinalInlinePass": true })
    require.Error(t, err)

    ke, ok := err.(*KeyError)
    require.True(t, ok)
    assert.Equal(t, "NoSuchPass.x", ke.Key)
    assert.Contains(t, err.Error(), "unknown pass")
}

func TestValidate_RejectsUnknownScheduledPass(t *testing.T) {
    cfg, err := Parse([]byte(`{"passes": ["FinalInlinePass", "NoSuchPass"]}`))
    require.NoError(t, err)

    err = cfg.Validate(map[string]bool { "FinalInlinePass": true })
    require.Error(t, err)
    assert.Contains(t, err.Error(), "NoSuchPass")
    assert.Contains(t, err.Error(), "unknown pass")
}

func TestValidate_BitwidthRange(t *testing.T) {
    cfg := New()
    require.NoError(t, cfg.Validate(nil))

    cfg.Set("instruction_size_bitwidth_limit", 31)
    require.NoError(t, cfg.Validate(nil))

    cfg.Set("instruction_size_bitwidth_limit", 32)
    err := cfg.Validate(nil)
    require.Error(t, err)
    assert.Contains(t, err.Error(), "between 0 and 31")
}

func TestGetters_FallBackOnMissingOrMistyped(t *testing.T) {
    cfg, err := Parse([]byte(`{"proguard_map": 42}`))
    require.NoError(t, err)

    assert.Equal(t, "", cfg.ProguardMap())
    assert.Equal(t, 7, cfg.Int("absent", 7))
    assert.Equal(t, 0.5, cfg.Float("absent", 0.5))
    assert.True(t, cfg.Bool("absent", true))
    assert.Nil(t, cfg.Strs("absent"))
    assert.Equal(t, 0, cfg.InstructionSizeBitwidthLimit())
}

func TestStrs_CoercesDecodedLists(t *testing.T) {
    cfg, err := Parse([]byte(`{"no_optimizations_annotations": ["Lanno/Keep;", 3, "Lanno/NoOpt;"]}`))
    require.NoError(t, err)

    /* non-string entries are skipped */
    assert.Equal(t, []string { "Lanno/Keep;", "Lanno/NoOpt;" }, cfg.NoOptimizationsAnnotations())
}

func TestScope_ReadsDottedKeys(t *testing.T) {
    cfg, err := Parse([]byte(`{
        "ReflectionAnalysisPass": { "export_results": true, "weight": 1.5 }
    }`))
    require.NoError(t, err)

    sc := cfg.Pass("ReflectionAnalysisPass")
    assert.True(t, sc.Has("export_results"))
    assert.True(t, sc.Bool("export_results", false))
    assert.Equal(t, 1.5, sc.Float("weight", 0))
    assert.Equal(t, MaxIterations, sc.MaxIterations())

    cfg.Set("ReflectionAnalysisPass.max_iterations", 3)
    assert.Equal(t, 3, sc.MaxIterations())
}

func TestParseOrDefault_ReadsEnvironment(t *testing.T) {
    assert.Equal(t, 20, parseOrDefault("DEXTER_TEST_KNOB", 20, 0))

    t.Setenv("DEXTER_TEST_KNOB", "9")
    assert.Equal(t, 9, parseOrDefault("DEXTER_TEST_KNOB", 20, 0))

    t.Setenv("DEXTER_TEST_KNOB", "bad")
    assert.Panics(t, func() { parseOrDefault("DEXTER_TEST_KNOB", 20, 0) })

    t.Setenv("DEXTER_TEST_KNOB", "0")
    assert.Panics(t, func() { parseOrDefault("DEXTER_TEST_KNOB", 20, 0) })
}
