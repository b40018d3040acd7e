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

package dexter

import (
    `fmt`
)

// LoadError occurs when an input DEX, configuration file or name map
// cannot be read.
type LoadError struct {
    Path string
    Err  error
}

func (self *LoadError) Error() string {
    return fmt.Sprintf("dexter: load %s: %v", self.Path, self.Err)
}

func (self *LoadError) Unwrap() error {
    return self.Err
}

// OptimizeError occurs when a pass fails: a missing property, a hard
// type error, or dangling references after a deletion.
type OptimizeError struct {
    Err error
}

func (self *OptimizeError) Error() string {
    return fmt.Sprintf("dexter: optimize: %v", self.Err)
}

func (self *OptimizeError) Unwrap() error {
    return self.Err
}

// EmitError occurs when the optimized scope cannot be packed or encoded
// back into DEX files.
type EmitError struct {
    Path string
    Err  error
}

func (self *EmitError) Error() string {
    if self.Path == "" {
        return fmt.Sprintf("dexter: emit: %v", self.Err)
    }
    return fmt.Sprintf("dexter: emit %s: %v", self.Path, self.Err)
}

func (self *EmitError) Unwrap() error {
    return self.Err
}
