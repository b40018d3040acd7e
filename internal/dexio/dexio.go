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

// Package dexio reads and writes DEX files.
//
// The reader parses a DEX image into interned IR objects: one DexStore per
// file, classes with concrete field and method definitions, and method
// bodies in linear list form with branch targets and try regions as marker
// entries. Debug info is dropped, annotations keep only their type and
// visibility.
//
// The writer is the inverse. It re-collects the reference pools from the
// class list, sorts them in DEX index order, re-encodes every instruction
// choosing the smallest fitting format, and emits empty debug and
// annotation sections. Pseudo opcodes must be lowered before writing; see
// LowerInitClasses.
package dexio

import (
    `fmt`

    `github.com/bytedance/dexter/internal/ir`
)

const (
    _HeaderSize = 0x70
    _EndianTag  = 0x12345678
    _NoIndex    = 0xffffffff
)

// Magic is the version-035 file magic. Versions 036 through 039 only add
// features this optimizer does not consume, so 035 is what the writer
// stamps and anything from 035 to 039 is accepted on read.
var Magic = [8]byte{'d', 'e', 'x', '\n', '0', '3', '5', 0}

/* map_list item type codes */
const (
    _TypeHeader      = 0x0000
    _TypeStringId    = 0x0001
    _TypeTypeId      = 0x0002
    _TypeProtoId     = 0x0003
    _TypeFieldId     = 0x0004
    _TypeMethodId    = 0x0005
    _TypeClassDef    = 0x0006
    _TypeMapList     = 0x1000
    _TypeTypeList    = 0x1001
    _TypeClassData   = 0x2000
    _TypeCode        = 0x2001
    _TypeStringData  = 0x2002
    _TypeAnnotation  = 0x2004
    _TypeEncodedArr  = 0x2005
    _TypeAnnoDir     = 0x2006
)

/* payload idents, the full first code unit of an out-of-line data table */
const (
    _IdentPackedSwitch = 0x0100
    _IdentSparseSwitch = 0x0200
    _IdentFillArray    = 0x0300
)

// FormatError reports malformed input at a byte offset of the DEX image.
type FormatError struct {
    Off    uint32
    Reason string
}

func (self *FormatError) Error() string {
    if self.Off == _NoIndex {
        return "dexio: " + self.Reason
    }
    return fmt.Sprintf("dexio: offset 0x%08x: %s", self.Off, self.Reason)
}

// EncodeError reports IR that cannot be expressed in the DEX encoding, such
// as a register too wide for every instruction format or a surviving
// pseudo opcode.
type EncodeError struct {
    Method *ir.MethodRef
    Reason string
}

func (self *EncodeError) Error() string {
    if self.Method == nil {
        return "dexio: " + self.Reason
    }
    return fmt.Sprintf("dexio: cannot encode %s: %s", self.Method.Key(), self.Reason)
}
