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

package interproc

import (
    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/ir`
)

// Analyzer computes one method's summary from the facts gathered so
// far. Implementations push calling context updates through the facts;
// the driver commits the returned summary. Both directions must be
// monotone for the driver to terminate before its cap.
type Analyzer interface {
    Analyze(m *ir.MethodRef, facts *Facts) fixpoint.Domain
}

// Facts is the shared state one analyzer invocation may consult: the
// call graph, the summaries committed so far and the calling contexts
// distributed so far.
type Facts struct {
    Graph     *CallGraph
    Summaries *Registry
    Contexts  *ContextMap
    moved     bool
}

// UpdateContext distributes one callsite's context to its resolved
// callee. Movement keeps the driver iterating.
func (self *Facts) UpdateContext(callee *ir.MethodRef, site *ir.Instruction, c fixpoint.Domain) {
    if self.Contexts.Update(callee, site, c) {
        self.moved = true
    }
}

// Driver iterates per-method summaries to a global fixpoint. Each round
// walks the strongly connected components of the call graph callees
// first and re-analyzes every method; rounds stop when neither a
// summary nor a context moved, or at the iteration cap. The round
// before the cap commits through the widening operator so unbounded
// summary chains still settle.
type Driver struct {
    cap      int
    facts    *Facts
    unstable bool
}

// NewDriver prepares a run over g. A nil ctxs selects the plain method
// partition.
func NewDriver(g *CallGraph, ctxs *ContextMap) *Driver {
    if ctxs == nil {
        ctxs = NewContextMap()
    }
    return &Driver {
        facts: &Facts {
            Graph     : g,
            Summaries : NewRegistry(),
            Contexts  : ctxs,
        },
    }
}

// MaxIterations caps the top-level rounds. Non-positive values mean
// the default cap.
func (self *Driver) MaxIterations(n int) *Driver {
    self.cap = n
    return self
}

func (self *Driver) Facts() *Facts {
    return self.facts
}

// Unstable reports whether the last run hit the cap with movement still
// happening. Committed summaries are valid but possibly not final.
func (self *Driver) Unstable() bool {
    return self.unstable
}

// Run drives a to a fixpoint and returns the summary registry.
func (self *Driver) Run(a Analyzer) *Registry {
    lim := self.cap
    if lim <= 0 {
        lim = fixpoint.DefaultMaxIterations
    }

    self.unstable = false
    for round := 1; ; round++ {
        widen := round >= lim-1
        self.facts.moved = false

        self.facts.Graph.ForEachSCC(func(ms []*ir.MethodRef) {
            for _, m := range ms {
                s := a.Analyze(m, self.facts)
                if self.facts.Summaries.update(m, s, widen) {
                    self.facts.moved = true
                }
            }
        })

        if !self.facts.moved {
            return self.facts.Summaries
        }
        if round >= lim {
            self.unstable = true
            return self.facts.Summaries
        }
    }
}
