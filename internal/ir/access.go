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

// AccessFlags is the DEX access_flags bit set.
type AccessFlags uint32

const (
    AccPublic               AccessFlags = 0x00001
    AccPrivate              AccessFlags = 0x00002
    AccProtected            AccessFlags = 0x00004
    AccStatic               AccessFlags = 0x00008
    AccFinal                AccessFlags = 0x00010
    AccSynchronized         AccessFlags = 0x00020
    AccVolatile             AccessFlags = 0x00040
    AccBridge               AccessFlags = 0x00040
    AccTransient            AccessFlags = 0x00080
    AccVarargs              AccessFlags = 0x00080
    AccNative               AccessFlags = 0x00100
    AccInterface            AccessFlags = 0x00200
    AccAbstract             AccessFlags = 0x00400
    AccStrict               AccessFlags = 0x00800
    AccSynthetic            AccessFlags = 0x01000
    AccAnnotation           AccessFlags = 0x02000
    AccEnum                 AccessFlags = 0x04000
    AccConstructor          AccessFlags = 0x10000
    AccDeclaredSynchronized AccessFlags = 0x20000
)

func (self AccessFlags) Has(f AccessFlags) bool {
    return self & f != 0
}

// AnnotationVisibility is the DEX annotation visibility byte.
type AnnotationVisibility uint8

const (
    VisBuild   AnnotationVisibility = 0x00
    VisRuntime AnnotationVisibility = 0x01
    VisSystem  AnnotationVisibility = 0x02
)

// Annotation is a single annotation instance. Element values are not
// interpreted by the optimizer; only the annotation type participates in
// decisions (the no-optimization exemption list).
type Annotation struct {
    Type       *Type
    Visibility AnnotationVisibility
}

// AnnotationSet is an ordered annotation collection.
type AnnotationSet struct {
    Annos []*Annotation
}

// Has reports whether the set contains an annotation of type t.
func (self *AnnotationSet) Has(t *Type) bool {
    if self == nil {
        return false
    }
    for _, a := range self.Annos {
        if a.Type == t {
            return true
        }
    }
    return false
}

// HasAny reports whether the set contains any of the given types.
func (self *AnnotationSet) HasAny(ts []*Type) bool {
    if self == nil || len(ts) == 0 {
        return false
    }
    for _, t := range ts {
        if self.Has(t) {
            return true
        }
    }
    return false
}

// ValueKind tags an encoded compile-time constant.
type ValueKind uint8

const (
    ValueByte    ValueKind = 0x00
    ValueShort   ValueKind = 0x02
    ValueChar    ValueKind = 0x03
    ValueInt     ValueKind = 0x04
    ValueLong    ValueKind = 0x06
    ValueFloat   ValueKind = 0x10
    ValueDouble  ValueKind = 0x11
    ValueString  ValueKind = 0x17
    ValueType    ValueKind = 0x18
    ValueNull    ValueKind = 0x1e
    ValueBoolean ValueKind = 0x1f
)

// EncodedValue is a static-final constant attached to a field definition.
type EncodedValue struct {
    Kind ValueKind
    Lit  uint64
    Str  *String
    Typ  *Type
}

// IsZero reports whether the constant is the all-bits-zero default for its
// kind, in which case the writer omits it.
func (self *EncodedValue) IsZero() bool {
    switch self.Kind {
        case ValueString : return self.Str == nil
        case ValueType   : return self.Typ == nil
        case ValueNull   : return true
        default          : return self.Lit == 0
    }
}
