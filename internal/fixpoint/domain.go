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

package fixpoint

// Domain is one element of an abstract domain: a lattice with a least and
// a greatest element, ordered by Leq, combined upward with Join and
// downward with Meet. Widen and Narrow are the extrapolating counterparts
// used on chains of unbounded height; domains of finite height may alias
// them to Join and Meet.
//
// Binary operations leave both operands intact and return the combined
// element. Operands of one operation always come from the same analysis,
// so implementations are free to type-assert their argument.
type Domain interface {
    IsBottom() bool
    IsTop() bool
    Leq(other Domain) bool
    Equals(other Domain) bool
    Join(other Domain) Domain
    Widen(other Domain) Domain
    Meet(other Domain) Domain
    Narrow(other Domain) Domain
}
