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

package ir

import (
    `fmt`
)

// CollisionError is returned by the Mutate* family when the requested new
// key is already interned and rename-on-collision was not requested.
type CollisionError struct {
    Kind string
    Key  string
}

func (self *CollisionError) Error() string {
    return fmt.Sprintf("ir: %s rename collides with existing %s %q", self.Kind, self.Kind, self.Key)
}

// DanglingError is returned when an erase is refused because live
// definitions still reference the interned value.
type DanglingError struct {
    Kind string
    Key  string
}

func (self *DanglingError) Error() string {
    return fmt.Sprintf("ir: cannot erase %s %q, still referenced", self.Kind, self.Key)
}
