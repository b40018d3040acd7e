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

// Package config loads the optimizer's JSON configuration. The option
// space is flat: a handful of global keys plus pass-scoped keys of the
// form <PassName>.<option>. Nested pass objects flatten on load, so
//
//     { "FinalInlinePass": { "max_iterations": 5 } }
//     { "FinalInlinePass.max_iterations": 5 }
//
// read the same.
package config

import (
    `fmt`
    `os`
    `strings`

    json `github.com/json-iterator/go`
)

// The global keys. Everything else must carry a pass prefix.
var _GlobalKeys = map[string]bool {
    "passes":                                true,
    "proguard_map":                          true,
    "coldstart_classes":                     true,
    "profiled_methods_file":                 true,
    "method_sorting_whitelisted_substrings": true,
    "no_optimizations_annotations":          true,
    "instruction_size_bitwidth_limit":       true,
}

// KeyError reports a configuration key that cannot be accepted.
type KeyError struct {
    Key    string
    Reason string
}

func (self *KeyError) Error() string {
    return fmt.Sprintf("config: key %q: %s", self.Key, self.Reason)
}

// Config is the decoded flat option set.
type Config struct {
    keys map[string]interface{}
}

func New() *Config {
    return &Config { keys: make(map[string]interface{}) }
}

// Parse decodes a JSON document into the flat key space.
func Parse(data []byte) (*Config, error) {
    var raw map[string]interface{}
    if err := json.Unmarshal(data, &raw); err != nil {
        return nil, fmt.Errorf("config: %w", err)
    }

    cfg := New()
    for k, v := range raw {
        if sub, ok := v.(map[string]interface{}); ok && !strings.Contains(k, ".") {
            for kk, vv := range sub {
                cfg.keys[k+"."+kk] = vv
            }
        } else {
            cfg.keys[k] = v
        }
    }
    return cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
    data, err := os.ReadFile(path)
    if err != nil {
        return nil, err
    }
    return Parse(data)
}

// Set overrides one key, CLI flags use it after Load.
func (self *Config) Set(key string, v interface{}) {
    self.keys[key] = v
}

func (self *Config) Has(key string) bool {
    _, ok := self.keys[key]
    return ok
}

// Validate rejects unknown global keys, pass prefixes not in passes,
// and out-of-range values.
func (self *Config) Validate(passes map[string]bool) error {
    for k := range self.keys {
        if i := strings.IndexByte(k, '.'); i < 0 {
            if !_GlobalKeys[k] {
                return &KeyError { Key: k, Reason: "unknown option" }
            }
        } else if !passes[k[:i]] {
            return &KeyError { Key: k, Reason: "unknown pass" }
        }
    }
    for _, p := range self.Passes() {
        if !passes[p] {
            return &KeyError { Key: "passes." + p, Reason: "unknown pass" }
        }
    }
    if v := self.Int("instruction_size_bitwidth_limit", 0); v < 0 || v > 31 {
        return &KeyError { Key: "instruction_size_bitwidth_limit", Reason: "must be between 0 and 31" }
    }
    return nil
}

func (self *Config) Str(key string, def string) string {
    if v, ok := self.keys[key].(string); ok {
        return v
    }
    return def
}

func (self *Config) Bool(key string, def bool) bool {
    if v, ok := self.keys[key].(bool); ok {
        return v
    }
    return def
}

// Int reads an integer option. JSON numbers decode as float64, values
// set programmatically may be native ints.
func (self *Config) Int(key string, def int) int {
    switch v := self.keys[key].(type) {
        case float64 : return int(v)
        case int     : return v
        case int64   : return int(v)
        default      : return def
    }
}

func (self *Config) Float(key string, def float64) float64 {
    switch v := self.keys[key].(type) {
        case float64 : return v
        case int     : return float64(v)
        default      : return def
    }
}

// Strs reads a string list option. Missing keys and non-string entries
// yield nil and are skipped respectively.
func (self *Config) Strs(key string) []string {
    switch v := self.keys[key].(type) {
        case []string:
            return v
        case []interface{}:
            out := make([]string, 0, len(v))
            for _, e := range v {
                if s, ok := e.(string); ok {
                    out = append(out, s)
                }
            }
            return out
        default:
            return nil
    }
}

func (self *Config) Passes() []string                             { return self.Strs("passes") }
func (self *Config) ProguardMap() string                          { return self.Str("proguard_map", "") }
func (self *Config) ColdstartClasses() string                     { return self.Str("coldstart_classes", "") }
func (self *Config) ProfiledMethodsFile() string                  { return self.Str("profiled_methods_file", "") }
func (self *Config) MethodSortingWhitelistedSubstrings() []string { return self.Strs("method_sorting_whitelisted_substrings") }
func (self *Config) NoOptimizationsAnnotations() []string         { return self.Strs("no_optimizations_annotations") }
func (self *Config) InstructionSizeBitwidthLimit() int            { return self.Int("instruction_size_bitwidth_limit", 0) }

// Scope reads the options of one pass.
type Scope struct {
    cfg  *Config
    name string
}

func (self *Config) Pass(name string) *Scope {
    return &Scope { cfg: self, name: name }
}

func (self *Scope) key(opt string) string {
    return self.name + "." + opt
}

func (self *Scope) Has(opt string) bool                  { return self.cfg.Has(self.key(opt)) }
func (self *Scope) Str(opt string, def string) string    { return self.cfg.Str(self.key(opt), def) }
func (self *Scope) Bool(opt string, def bool) bool       { return self.cfg.Bool(self.key(opt), def) }
func (self *Scope) Int(opt string, def int) int          { return self.cfg.Int(self.key(opt), def) }
func (self *Scope) Float(opt string, def float64) float64 { return self.cfg.Float(self.key(opt), def) }
func (self *Scope) Strs(opt string) []string             { return self.cfg.Strs(self.key(opt)) }

// MaxIterations is the per-pass fixpoint cap, overridable per pass and
// process-wide through the environment.
func (self *Scope) MaxIterations() int {
    return self.Int("max_iterations", MaxIterations)
}
