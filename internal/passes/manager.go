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
    `time`

    log `github.com/sirupsen/logrus`
)

// Factory builds one pass instance. Registered passes are stateless
// between runs; per-run state lives on the Run.
type Factory func() Pass

var _Registry = map[string]Factory {
    "IRTypeCheckerPass":             func() Pass { return new(TypeCheckPass) },
    "ConstantPropagationPass":       func() Pass { return new(ConstantPropagationPass) },
    "CommonSubexpressionPass":       func() Pass { return new(CommonSubexpressionPass) },
    "MaxDepthPass":                  func() Pass { return new(MaxDepthPass) },
    "ReflectionAnalysisPass":        func() Pass { return new(ReflectionAnalysisPass) },
    "CheckBreadcrumbsPass":          func() Pass { return new(BreadcrumbsPass) },
    "RemoveUnreachableBlocksPass":   func() Pass { return new(UnreachablePass) },
    "StaticRelocatorPass":           func() Pass { return new(RelocatorPass) },
    "InterDexPass":                  func() Pass { return new(InterDexPass) },
}

// RegisterPass adds a pass to the registry, replacing any previous entry
// of the same name.
func RegisterPass(name string, f Factory) {
    _Registry[name] = f
}

// Names is the registered pass name set, the shape config.Validate wants.
func Names() map[string]bool {
    names := make(map[string]bool, len(_Registry))
    for k := range _Registry {
        names[k] = true
    }
    return names
}

// DefaultSchedule is the pipeline used when the configuration carries no
// passes key.
func DefaultSchedule() []string {
    return []string {
        "IRTypeCheckerPass",
        "RemoveUnreachableBlocksPass",
        "ConstantPropagationPass",
        "CommonSubexpressionPass",
        "CheckBreadcrumbsPass",
        "InterDexPass",
    }
}

// Manager runs an ordered pass schedule while checking the declared
// property interactions.
type Manager struct {
    passes []Pass
    active map[Property]bool
}

// NewManager instantiates the schedule. An unknown name fails before
// anything runs.
func NewManager(names []string) (*Manager, error) {
    m := &Manager { active: make(map[Property]bool) }
    for _, name := range names {
        f := _Registry[name]
        if f == nil {
            return nil, &UnknownPassError { Name: name }
        }
        m.passes = append(m.passes, f())
    }
    return m, nil
}

// Active reports whether a property currently holds.
func (self *Manager) Active(p Property) bool {
    return self.active[p]
}

// Run executes the schedule in order. Before each pass every required
// property must be active; after it the destroys set is removed and the
// establishes set added. The first pass failure aborts the pipeline.
func (self *Manager) Run(run *Run) error {
    for _, p := range self.passes {
        if err := self.runOne(run, p); err != nil {
            return err
        }
    }
    return nil
}

func (self *Manager) runOne(run *Run, p Pass) error {
    it := p.Interaction()
    for _, prop := range it.Requires {
        if !self.active[prop] {
            return &PropertyError { Pass: p.Name(), Property: prop }
        }
    }

    start := time.Now()
    if err := p.Run(run); err != nil {
        return fmt.Errorf("passes: %s: %w", p.Name(), err)
    }

    for _, prop := range it.Destroys {
        delete(self.active, prop)
    }
    for _, prop := range it.Establishes {
        self.active[prop] = true
    }

    metrics := run.MetricsOf(p.Name())
    fields := log.Fields { "took": time.Since(start).Round(time.Microsecond) }
    for _, k := range metrics.Keys() {
        fields[k] = metrics[k]
    }
    log.WithFields(fields).Infof("passes: %s done", p.Name())
    return nil
}
