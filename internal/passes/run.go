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

    `github.com/bytedance/dexter/internal/config`
    `github.com/bytedance/dexter/internal/interproc`
    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/dexter/internal/packer`
    `github.com/bytedance/dexter/internal/resolver`
)

// Run is the shared state one pipeline execution threads through its
// passes: the interning context, the scope, the configuration, and the
// derived whole-program structures. The derived structures are built on
// first use and owned by the run; a pass that changes the class or call
// structure must call Invalidate so later passes rebuild them.
type Run struct {
    Ctx    *ir.Context
    Scope  *ir.Scope
    Config *config.Config

    // OutDir receives per-pass result files (reflection export and the
    // like). Empty disables every such export.
    OutDir string

    // Dexes is the packing result, set by the interdex pass and consumed
    // by the writer after the pipeline finishes.
    Dexes []*packer.Dex

    mu      sync.Mutex
    hier    *resolver.ClassHierarchy
    res     *resolver.Resolver
    ovr     *resolver.OverrideGraph
    graph   *interproc.CallGraph
    metrics map[string]Metrics
}

func NewRun(ctx *ir.Context, scope *ir.Scope, cfg *config.Config) *Run {
    if cfg == nil {
        cfg = config.New()
    }
    return &Run {
        Ctx     : ctx,
        Scope   : scope,
        Config  : cfg,
        metrics : make(map[string]Metrics),
    }
}

// Options reads the configuration scope of one pass.
func (self *Run) Options(p Pass) *config.Scope {
    return self.Config.Pass(p.Name())
}

// Metrics hands out the counter sink of one pass.
func (self *Run) Metrics(p Pass) Metrics {
    self.mu.Lock()
    defer self.mu.Unlock()
    m := self.metrics[p.Name()]
    if m == nil {
        m = make(Metrics)
        self.metrics[p.Name()] = m
    }
    return m
}

// MetricsOf reads a pass's counters after the run, nil if the pass never
// asked for any.
func (self *Run) MetricsOf(name string) Metrics {
    self.mu.Lock()
    defer self.mu.Unlock()
    return self.metrics[name]
}

// Hierarchy builds the class hierarchy index on first use.
func (self *Run) Hierarchy() *resolver.ClassHierarchy {
    self.mu.Lock()
    defer self.mu.Unlock()
    if self.hier == nil {
        self.hier = resolver.NewHierarchy(self.Scope)
    }
    return self.hier
}

// Resolver builds the reference resolver on first use.
func (self *Run) Resolver() *resolver.Resolver {
    h := self.Hierarchy()
    self.mu.Lock()
    defer self.mu.Unlock()
    if self.res == nil {
        self.res = resolver.NewResolver(h)
    }
    return self.res
}

// Overrides builds the method override graph on first use.
func (self *Run) Overrides() *resolver.OverrideGraph {
    h := self.Hierarchy()
    self.mu.Lock()
    defer self.mu.Unlock()
    if self.ovr == nil {
        self.ovr = resolver.BuildOverrides(h)
    }
    return self.ovr
}

// CallGraph builds the whole-scope call graph on first use.
func (self *Run) CallGraph() *interproc.CallGraph {
    res, ovr := self.Resolver(), self.Overrides()
    self.mu.Lock()
    defer self.mu.Unlock()
    if self.graph == nil {
        self.graph = interproc.BuildCallGraph(self.Scope, res, ovr)
    }
    return self.graph
}

// Invalidate drops every derived structure. Passes call it after they
// delete classes, move methods, or change call targets; body-local
// rewrites do not need it.
func (self *Run) Invalidate() {
    self.mu.Lock()
    defer self.mu.Unlock()
    self.hier = nil
    self.res = nil
    self.ovr = nil
    self.graph = nil
}
