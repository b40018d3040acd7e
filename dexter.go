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

// Package dexter is a whole-program DEX bytecode optimizer. Load pulls a
// set of DEX files into one interned in-memory representation, Optimize
// runs the configured pass pipeline over it, and Write packs the
// surviving classes back into DEX files under the id-pool and
// linear-alloc ceilings.
package dexter

import (
    `fmt`
    `os`
    `path/filepath`
    `sort`

    `github.com/bytedance/dexter/internal/config`
    `github.com/bytedance/dexter/internal/dexio`
    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/dexter/internal/packer`
    `github.com/bytedance/dexter/internal/passes`
    `github.com/bytedance/dexter/internal/proguard`
)

// PositionMapFile is the debug position map emitted next to the DEXes.
const PositionMapFile = "positions.map"

// Passes that cannot run without ProGuard keep rules; --no-proguard-rules
// drops them from the schedule silently.
var _ProguardRulePasses = map[string]bool {
    "StaticRelocatorPass": true,
}

// Program is one optimization run: the interned context, the loaded
// scope, and the configuration.
type Program struct {
    ctx   *ir.Context
    cfg   *config.Config
    scope *ir.Scope
    opts  options
    run   *passes.Run
}

// Load builds a Program from the given options: configuration first,
// then every input DEX, then the name map.
func Load(opt ...Option) (*Program, error) {
    o := defaultOptions()
    for _, fn := range opt {
        fn(&o)
    }

    cfg, err := loadConfig(&o)
    if err != nil {
        return nil, err
    }
    if err := cfg.Validate(passes.Names()); err != nil {
        return nil, err
    }

    ctx := ir.NewContext()
    stores, err := loadStores(ctx, &o)
    if err != nil {
        return nil, err
    }
    scope := ir.NewScope(stores...)

    if path := proguardPath(&o, cfg); path != "" {
        mapping, err := proguard.Load(path)
        if err != nil {
            return nil, &LoadError { Path: path, Err: err }
        }
        mapping.Apply(scope)
    }

    return &Program {
        ctx   : ctx,
        cfg   : cfg,
        scope : scope,
        opts  : o,
    }, nil
}

// Scope exposes the loaded class scope, interner included, for callers
// that drive their own analyses.
func (self *Program) Scope() *ir.Scope {
    return self.scope
}

// Context exposes the interning context of this run.
func (self *Program) Context() *ir.Context {
    return self.ctx
}

// Optimize runs the configured pass schedule. The packing result, when
// the schedule includes the interdex pass, is kept for Write.
func (self *Program) Optimize() error {
    names := self.cfg.Passes()
    if len(names) == 0 {
        names = passes.DefaultSchedule()
    }
    if self.opts.noProguard {
        names = dropProguardPasses(names)
    }

    mgr, err := passes.NewManager(names)
    if err != nil {
        return &OptimizeError { Err: err }
    }

    self.run = passes.NewRun(self.ctx, self.scope, self.cfg)
    self.run.OutDir = self.opts.outDir
    if err := mgr.Run(self.run); err != nil {
        return &OptimizeError { Err: err }
    }
    return nil
}

// Metrics reads one pass's counters after Optimize, nil before.
func (self *Program) Metrics(pass string) map[string]int64 {
    if self.run == nil {
        return nil
    }
    return self.run.MetricsOf(pass)
}

// Write lowers the remaining pseudo instructions and emits one file per
// packed DEX into dir, plus the debug position map. Without a packing
// result every store becomes one DEX in load order.
func (self *Program) Write(dir string) error {
    if err := os.MkdirAll(dir, 0o755); err != nil {
        return &EmitError { Path: dir, Err: err }
    }

    dexio.LowerInitClasses(self.ctx, self.scope, passes.SideEffectInits(self.scope))

    for i, classes := range self.outputUnits() {
        path := filepath.Join(dir, dexName(i))
        if err := dexio.WriteFile(path, classes); err != nil {
            return &EmitError { Path: path, Err: err }
        }
    }
    return self.writePositions(dir)
}

// OutDir points pass exports at dir. Call before Optimize.
func (self *Program) OutDir(dir string) *Program {
    if self.run != nil {
        panic("dexter: OutDir after Optimize")
    }
    self.opts.outDir = dir
    return self
}

func (self *Program) outputUnits() [][]*ir.Class {
    if self.run != nil && len(self.run.Dexes) > 0 {
        units := make([][]*ir.Class, 0, len(self.run.Dexes))
        for _, d := range self.run.Dexes {
            units = append(units, d.Classes)
        }
        return units
    }

    units := make([][]*ir.Class, 0, len(self.scope.Stores()))
    for _, st := range self.scope.Stores() {
        if classes := st.Classes(); len(classes) > 0 {
            units = append(units, classes)
        }
    }
    return units
}

func (self *Program) writePositions(dir string) error {
    pm := ir.NewPositionMapper()
    pm.RegisterScope(self.scope)
    if pm.Len() == 0 {
        return nil
    }

    path := filepath.Join(dir, PositionMapFile)
    f, err := os.Create(path)
    if err != nil {
        return &EmitError { Path: path, Err: err }
    }
    defer f.Close()

    if err := pm.WriteTo(f); err != nil {
        return &EmitError { Path: path, Err: err }
    }
    return nil
}

// Dexes exposes the packing result after Optimize, nil when the schedule
// had no interdex pass.
func (self *Program) Dexes() []*packer.Dex {
    if self.run == nil {
        return nil
    }
    return self.run.Dexes
}

func loadConfig(o *options) (*config.Config, error) {
    switch {
        case o.configData != nil:
            cfg, err := config.Parse(o.configData)
            if err != nil {
                return nil, err
            }
            return applyOverrides(cfg, o), nil
        case o.configPath != "":
            cfg, err := config.Load(o.configPath)
            if err != nil {
                return nil, &LoadError { Path: o.configPath, Err: err }
            }
            return applyOverrides(cfg, o), nil
        default:
            return applyOverrides(config.New(), o), nil
    }
}

func applyOverrides(cfg *config.Config, o *options) *config.Config {
    keys := make([]string, 0, len(o.overrides))
    for k := range o.overrides {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    for _, k := range keys {
        cfg.Set(k, o.overrides[k])
    }
    return cfg
}

func loadStores(ctx *ir.Context, o *options) ([]*ir.DexStore, error) {
    files := append([]string(nil), o.dexFiles...)
    if o.inDex != "" {
        found, err := filepath.Glob(filepath.Join(o.inDex, "*.dex"))
        if err != nil {
            return nil, &LoadError { Path: o.inDex, Err: err }
        }
        sort.Strings(found)
        files = append(files, found...)
    }
    if len(files) == 0 {
        return nil, &LoadError { Path: o.inDex, Err: fmt.Errorf("no input DEX files") }
    }

    stores := make([]*ir.DexStore, 0, len(files))
    for _, path := range files {
        st, err := dexio.ReadFile(ctx, path)
        if err != nil {
            return nil, &LoadError { Path: path, Err: err }
        }
        stores = append(stores, st)
    }
    return stores, nil
}

func proguardPath(o *options, cfg *config.Config) string {
    if o.proguardMap != "" {
        return o.proguardMap
    }
    return cfg.ProguardMap()
}

func dropProguardPasses(names []string) []string {
    out := names[:0:0]
    for _, n := range names {
        if !_ProguardRulePasses[n] {
            out = append(out, n)
        }
    }
    return out
}

func dexName(i int) string {
    if i == 0 {
        return "classes.dex"
    }
    return fmt.Sprintf("classes%d.dex", i+1)
}
