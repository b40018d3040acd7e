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

// Package passes schedules the optimization pipeline. A pass declares how
// it interacts with a set of whole-program IR properties; the manager runs
// the configured schedule in order, checks every required property at pass
// entry, and maintains the active property set from the establishes and
// destroys declarations. Checkers are ordinary passes whose only effect is
// to assert a property still holds.
package passes

import (
    `fmt`
    `sort`
)

// Property is a named whole-program invariant of the IR. The active set
// is maintained by the manager; passes never probe it directly.
type Property string

const (
    NoInitClassInstructions   Property = "NoInitClassInstructions"
    NoUnreachableInstructions Property = "NoUnreachableInstructions"
    HasSourceBlocks           Property = "HasSourceBlocks"
    NoSpuriousGetClassCalls   Property = "NoSpuriousGetClassCalls"
    UltralightCodePatterns    Property = "UltralightCodePatterns"
)

// Interaction declares what a pass does to the property set. Preserves is
// documentation only: the manager treats any property neither established
// nor destroyed as preserved.
type Interaction struct {
    Preserves   []Property
    Requires    []Property
    Establishes []Property
    Destroys    []Property
}

// Pass is one pipeline stage. Run may transform the IR; any failure it
// returns aborts the whole pipeline, so analyses that can degrade should
// degrade and count instead of failing.
type Pass interface {
    Name() string
    Interaction() Interaction
    Run(run *Run) error
}

// PropertyError reports a schedule whose pass requires a property no
// earlier pass established.
type PropertyError struct {
    Pass     string
    Property Property
}

func (self *PropertyError) Error() string {
    return fmt.Sprintf("passes: %s requires property %s, not active at this point of the schedule", self.Pass, self.Property)
}

// UnknownPassError reports a schedule entry with no registered pass.
type UnknownPassError struct {
    Name string
}

func (self *UnknownPassError) Error() string {
    return fmt.Sprintf("passes: unknown pass %q", self.Name)
}

// Metrics is the per-pass counter sink. Keys are free-form; values
// aggregate across the methods a pass touched.
type Metrics map[string]int64

func (self Metrics) Add(key string, v int64) {
    self[key] += v
}

func (self Metrics) Set(key string, v int64) {
    self[key] = v
}

func (self Metrics) Keys() []string {
    keys := make([]string, 0, len(self))
    for k := range self {
        keys = append(keys, k)
    }
    sort.Strings(keys)
    return keys
}
