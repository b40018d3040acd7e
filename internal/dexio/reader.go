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

package dexio

import (
    `hash/adler32`
    `os`
    `path/filepath`
    `strings`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/dexter/internal/mutf8`
)

type _SizeOff struct {
    size uint32
    off  uint32
}

type _Header struct {
    stringIds _SizeOff
    typeIds   _SizeOff
    protoIds  _SizeOff
    fieldIds  _SizeOff
    methodIds _SizeOff
    classDefs _SizeOff
}

// _Image is the id-pool view of one DEX file being read. Index accessors
// record the first bad index in err and return nil, so section loops check
// once per item instead of once per field.
type _Image struct {
    ctx     *ir.Context
    data    []byte
    err     error
    strs    []*ir.String
    types   []*ir.Type
    protos  []*ir.Proto
    fields  []*ir.FieldRef
    methods []*ir.MethodRef
    defined map[*ir.Type]bool
}

// ReadFile reads one DEX file into a store named after the file.
func ReadFile(ctx *ir.Context, path string) (*ir.DexStore, error) {
    data, err := os.ReadFile(path)
    if err != nil {
        return nil, err
    }
    name := strings.TrimSuffix(filepath.Base(path), ".dex")
    return Read(ctx, name, data)
}

// Read parses a DEX image into a store of concrete classes. Strings, types
// and references are interned through ctx, so reading several files into
// one context shares the pools. Debug info is dropped; annotations keep
// their type and visibility only.
func Read(ctx *ir.Context, name string, data []byte) (*ir.DexStore, error) {
    img := &_Image{ctx: ctx, data: data, defined: make(map[*ir.Type]bool)}

    hdr, err := img.readHeader()
    if err != nil {
        return nil, err
    }
    if err := img.readStrings(hdr.stringIds); err != nil {
        return nil, err
    }
    if err := img.readTypes(hdr.typeIds); err != nil {
        return nil, err
    }
    if err := img.readProtos(hdr.protoIds); err != nil {
        return nil, err
    }
    if err := img.readFields(hdr.fieldIds); err != nil {
        return nil, err
    }
    if err := img.readMethods(hdr.methodIds); err != nil {
        return nil, err
    }

    store := ir.NewDexStore(name)
    if err := img.readClasses(hdr.classDefs, store); err != nil {
        return nil, err
    }
    return store, nil
}

func (self *_Image) root() *_Reader {
    return &_Reader{data: self.data}
}

func (self *_Image) fail(off uint32, reason string) {
    if self.err == nil {
        self.err = &FormatError{Off: off, Reason: reason}
    }
}

func (self *_Image) readHeader() (_Header, error) {
    var hdr _Header
    rd := self.root()

    magic := rd.bytes(8)
    if !rd.ok() {
        return hdr, rd.err
    }
    if string(magic[:4]) != "dex\n" || magic[7] != 0 {
        return hdr, &FormatError{Off: 0, Reason: "not a DEX file"}
    }
    if string(magic[4:7]) < "035" || string(magic[4:7]) > "039" {
        return hdr, &FormatError{Off: 4, Reason: "unsupported DEX version " + string(magic[4:7])}
    }

    checksum := rd.u32()
    rd.skip(20) /* sha-1 signature, not verified on read */
    fileSize := rd.u32()
    headerSize := rd.u32()
    endian := rd.u32()
    rd.skip(8) /* link section */
    rd.u32()   /* map offset, sections come from the header */

    hdr.stringIds = _SizeOff{rd.u32(), rd.u32()}
    hdr.typeIds = _SizeOff{rd.u32(), rd.u32()}
    hdr.protoIds = _SizeOff{rd.u32(), rd.u32()}
    hdr.fieldIds = _SizeOff{rd.u32(), rd.u32()}
    hdr.methodIds = _SizeOff{rd.u32(), rd.u32()}
    hdr.classDefs = _SizeOff{rd.u32(), rd.u32()}
    rd.skip(8) /* data section bounds */
    if !rd.ok() {
        return hdr, rd.err
    }

    switch {
        case fileSize != uint32(len(self.data)) : return hdr, &FormatError{Off: 32, Reason: "file size field does not match the image"}
        case headerSize != _HeaderSize          : return hdr, &FormatError{Off: 36, Reason: "unexpected header size"}
        case endian != _EndianTag               : return hdr, &FormatError{Off: 40, Reason: "big-endian DEX files are not supported"}
    }
    if adler32.Checksum(self.data[12:]) != checksum {
        return hdr, &FormatError{Off: 8, Reason: "checksum mismatch"}
    }
    return hdr, nil
}

/* bounds-checked pool accessors */

func (self *_Image) str(i uint32) *ir.String {
    if i < uint32(len(self.strs)) {
        return self.strs[i]
    }
    self.fail(_NoIndex, "string index out of range")
    return nil
}

func (self *_Image) typ(i uint32) *ir.Type {
    if i < uint32(len(self.types)) {
        return self.types[i]
    }
    self.fail(_NoIndex, "type index out of range")
    return nil
}

func (self *_Image) fld(i uint32) *ir.FieldRef {
    if i < uint32(len(self.fields)) {
        return self.fields[i]
    }
    self.fail(_NoIndex, "field index out of range")
    return nil
}

func (self *_Image) mth(i uint32) *ir.MethodRef {
    if i < uint32(len(self.methods)) {
        return self.methods[i]
    }
    self.fail(_NoIndex, "method index out of range")
    return nil
}

func (self *_Image) readStrings(sec _SizeOff) error {
    ids := self.root().at(sec.off)
    self.strs = make([]*ir.String, sec.size)

    for i := range self.strs {
        off := ids.u32()
        st := self.root().at(off)
        declared := st.uleb128()
        raw := st.cstr()
        if st.err != nil {
            return st.err
        }
        if err := mutf8.Validate(raw); err != nil {
            return &FormatError{Off: off, Reason: "malformed string data: " + err.Error()}
        }
        s := self.ctx.MakeString(raw)
        if s.Units() != declared {
            return &FormatError{Off: off, Reason: "string length field does not match the data"}
        }
        self.strs[i] = s
    }
    return ids.err
}

func (self *_Image) readTypes(sec _SizeOff) error {
    ids := self.root().at(sec.off)
    self.types = make([]*ir.Type, sec.size)

    for i := range self.types {
        s := self.str(ids.u32())
        if self.err != nil {
            return self.err
        }
        if ids.err != nil {
            return ids.err
        }
        desc := s.Raw()
        if !validDescriptor(desc) {
            return &FormatError{Off: sec.off, Reason: "invalid type descriptor " + s.Display()}
        }
        self.types[i] = self.ctx.MakeType(desc)
    }
    return ids.err
}

// validDescriptor accepts field and return descriptors: primitives, void,
// classes, and arrays of up to 255 dimensions.
func validDescriptor(s string) bool {
    i := 0
    for i < len(s) && s[i] == '[' {
        i++
    }
    if i > 255 || i >= len(s) {
        return false
    }
    switch s[i] {
        case 'V'                                    : return i == 0 && len(s) == 1
        case 'Z', 'B', 'S', 'C', 'I', 'J', 'F', 'D' : return i == len(s)-1
        case 'L'                                    : return len(s) >= i+3 && s[len(s)-1] == ';'
        default                                     : return false
    }
}

func (self *_Image) readProtos(sec _SizeOff) error {
    ids := self.root().at(sec.off)
    self.protos = make([]*ir.Proto, sec.size)

    for i := range self.protos {
        shorty := self.str(ids.u32())
        ret := self.typ(ids.u32())
        args, err := self.readTypeList(ids.u32())
        if err != nil {
            return err
        }
        if self.err != nil {
            return self.err
        }
        if ids.err != nil {
            return ids.err
        }
        p := self.ctx.MakeProto(ret, args)
        if p.Shorty().Raw() != shorty.Raw() {
            return &FormatError{Off: sec.off, Reason: "shorty does not match the prototype " + p.Key()}
        }
        self.protos[i] = p
    }
    return ids.err
}

// readTypeList parses a type_list item; offset zero is the empty list.
func (self *_Image) readTypeList(off uint32) ([]*ir.Type, error) {
    if off == 0 {
        return nil, nil
    }
    rd := self.root().at(off)
    n := rd.u32()
    out := make([]*ir.Type, 0, n)
    for i := uint32(0); i < n; i++ {
        t := self.typ(uint32(rd.u16()))
        if self.err != nil {
            return nil, self.err
        }
        out = append(out, t)
    }
    return out, rd.err
}

func (self *_Image) readFields(sec _SizeOff) error {
    ids := self.root().at(sec.off)
    self.fields = make([]*ir.FieldRef, sec.size)

    for i := range self.fields {
        cls := self.typ(uint32(ids.u16()))
        typ := self.typ(uint32(ids.u16()))
        name := self.str(ids.u32())
        if self.err != nil {
            return self.err
        }
        if ids.err != nil {
            return ids.err
        }
        self.fields[i] = self.ctx.MakeFieldRef(cls, name, typ)
    }
    return ids.err
}

func (self *_Image) readMethods(sec _SizeOff) error {
    ids := self.root().at(sec.off)
    self.methods = make([]*ir.MethodRef, sec.size)

    for i := range self.methods {
        cls := self.typ(uint32(ids.u16()))
        protoIdx := uint32(ids.u16())
        name := self.str(ids.u32())
        if self.err != nil {
            return self.err
        }
        if ids.err != nil {
            return ids.err
        }
        if protoIdx >= uint32(len(self.protos)) {
            return &FormatError{Off: sec.off, Reason: "proto index out of range"}
        }
        self.methods[i] = self.ctx.MakeMethodRef(cls, name, self.protos[protoIdx])
    }
    return ids.err
}

func (self *_Image) readClasses(sec _SizeOff, store *ir.DexStore) error {
    ids := self.root().at(sec.off)

    for i := uint32(0); i < sec.size; i++ {
        typ := self.typ(ids.u32())
        access := ids.u32()
        superIdx := ids.u32()
        ifacesOff := ids.u32()
        sourceIdx := ids.u32()
        annoOff := ids.u32()
        dataOff := ids.u32()
        valuesOff := ids.u32()
        if self.err != nil {
            return self.err
        }
        if ids.err != nil {
            return ids.err
        }

        if self.defined[typ] {
            return &FormatError{Off: sec.off, Reason: "duplicate class definition " + typ.Name()}
        }
        self.defined[typ] = true

        var super *ir.Type
        if superIdx != _NoIndex {
            super = self.typ(superIdx)
        }
        c := ir.NewClass(typ, super, ir.AccessFlags(access))

        if ifacesOff != 0 {
            ts, err := self.readTypeList(ifacesOff)
            if err != nil {
                return err
            }
            c.SetInterfaces(self.ctx.MakeTypeList(ts))
        }
        if sourceIdx != _NoIndex {
            c.SetSourceFile(self.str(sourceIdx))
        }
        if err := self.readClassData(c, dataOff); err != nil {
            return err
        }
        if err := self.readStaticValues(c, valuesOff); err != nil {
            return err
        }
        if err := self.readAnnotationsDirectory(c, annoOff); err != nil {
            return err
        }
        if self.err != nil {
            return self.err
        }
        store.AddClass(c)
    }
    return nil
}

func (self *_Image) readClassData(c *ir.Class, off uint32) error {
    if off == 0 {
        return nil
    }
    rd := self.root().at(off)
    numStatic := rd.uleb128()
    numInstance := rd.uleb128()
    numDirect := rd.uleb128()
    numVirtual := rd.uleb128()

    idx := uint32(0)
    for i := uint32(0); i < numStatic+numInstance; i++ {
        if i == numStatic {
            idx = 0
        }
        idx += rd.uleb128()
        access := rd.uleb128()
        if rd.err != nil {
            return rd.err
        }

        fr := self.fld(idx)
        if self.err != nil {
            return self.err
        }
        switch {
            case fr.Class() != c.Type() : return &FormatError{Off: off, Reason: "field " + fr.Key() + " defined outside its class"}
            case fr.IsConcrete()        : return &FormatError{Off: off, Reason: "duplicate field definition " + fr.Key()}
        }
        fr.MakeConcrete(&ir.FieldDef{Access: ir.AccessFlags(access)})
        c.AddField(fr)
    }

    idx = 0
    for i := uint32(0); i < numDirect+numVirtual; i++ {
        if i == numDirect {
            idx = 0
        }
        idx += rd.uleb128()
        access := rd.uleb128()
        codeOff := rd.uleb128()
        if rd.err != nil {
            return rd.err
        }

        mr := self.mth(idx)
        if self.err != nil {
            return self.err
        }
        switch {
            case mr.Class() != c.Type() : return &FormatError{Off: off, Reason: "method " + mr.Key() + " defined outside its class"}
            case mr.IsConcrete()        : return &FormatError{Off: off, Reason: "duplicate method definition " + mr.Key()}
        }

        def := &ir.MethodDef{Access: ir.AccessFlags(access), Virtual: i >= numDirect}
        mr.MakeConcrete(def)
        if codeOff != 0 {
            code, err := self.readCode(mr, codeOff)
            if err != nil {
                return err
            }
            def.Code = code
        }
        c.AddMethod(mr)
    }
    return rd.err
}

// readStaticValues applies the encoded_array_item at off to the leading
// static fields in definition order.
func (self *_Image) readStaticValues(c *ir.Class, off uint32) error {
    if off == 0 {
        return nil
    }
    rd := self.root().at(off)
    n := rd.uleb128()

    statics := c.StaticFields()
    if n > uint32(len(statics)) {
        return &FormatError{Off: off, Reason: "more static values than static fields"}
    }
    for i := uint32(0); i < n; i++ {
        v, err := self.readValue(rd)
        if err != nil {
            return err
        }
        statics[i].Def().Value = v
    }
    return rd.err
}

// readValue decodes one encoded_value. Kinds the field model does not
// carry (enum, array, nested annotation, method handles) are skipped
// structurally and yield nil; such constants are always re-established by
// the class initializer, so dropping the hint is safe.
func (self *_Image) readValue(rd *_Reader) (*ir.EncodedValue, error) {
    tag := rd.u8()
    kind := ir.ValueKind(tag & 0x1f)
    varg := uint32(tag >> 5)

    switch kind {
        case ir.ValueByte, ir.ValueShort, ir.ValueInt, ir.ValueLong:
            bits, size := rd.payload(varg)
            return &ir.EncodedValue{Kind: kind, Lit: signExtend(bits, size)}, rd.err

        case ir.ValueChar:
            bits, _ := rd.payload(varg)
            return &ir.EncodedValue{Kind: kind, Lit: bits}, rd.err

        case ir.ValueFloat:
            bits, size := rd.payload(varg)
            return &ir.EncodedValue{Kind: kind, Lit: bits << (32 - 8*size)}, rd.err

        case ir.ValueDouble:
            bits, size := rd.payload(varg)
            return &ir.EncodedValue{Kind: kind, Lit: bits << (64 - 8*size)}, rd.err

        case ir.ValueString:
            bits, _ := rd.payload(varg)
            return &ir.EncodedValue{Kind: kind, Str: self.str(uint32(bits))}, self.err

        case ir.ValueType:
            bits, _ := rd.payload(varg)
            return &ir.EncodedValue{Kind: kind, Typ: self.typ(uint32(bits))}, self.err

        case ir.ValueNull:
            return &ir.EncodedValue{Kind: kind}, nil

        case ir.ValueBoolean:
            return &ir.EncodedValue{Kind: kind, Lit: uint64(varg)}, nil

        default:
            if err := self.skipValueBody(rd, tag); err != nil {
                return nil, err
            }
            return nil, rd.err
    }
}

// payload reads the varg+1 little-endian payload bytes of an encoded_value.
func (self *_Reader) payload(varg uint32) (uint64, uint64) {
    size := uint64(varg) + 1
    var bits uint64
    for i := uint64(0); i < size; i++ {
        bits |= uint64(self.u8()) << (8 * i)
    }
    return bits, size
}

func signExtend(bits uint64, size uint64) uint64 {
    shift := 64 - 8*size
    return uint64(int64(bits<<shift) >> shift)
}

// skipValueBody consumes the remainder of an encoded_value whose tag byte
// is already read.
func (self *_Image) skipValueBody(rd *_Reader, tag uint8) error {
    kind := tag & 0x1f
    varg := uint32(tag >> 5)

    switch kind {
        case 0x1c: /* array */
            n := rd.uleb128()
            for i := uint32(0); i < n; i++ {
                if err := self.skipValue(rd); err != nil {
                    return err
                }
            }

        case 0x1d: /* annotation */
            return self.skipAnnotationBody(rd)

        case 0x1e, 0x1f: /* null, boolean */

        default:
            rd.skip(varg + 1)
    }
    return rd.err
}

func (self *_Image) skipValue(rd *_Reader) error {
    return self.skipValueBody(rd, rd.u8())
}

// skipAnnotationBody consumes an encoded_annotation after returning its
// type; element values are not interpreted by the optimizer.
func (self *_Image) skipAnnotationBody(rd *_Reader) error {
    rd.uleb128() /* type */
    n := rd.uleb128()
    for i := uint32(0); i < n; i++ {
        rd.uleb128() /* element name */
        if err := self.skipValue(rd); err != nil {
            return err
        }
    }
    return rd.err
}

func (self *_Image) readAnnotationsDirectory(c *ir.Class, off uint32) error {
    if off == 0 {
        return nil
    }
    rd := self.root().at(off)
    classOff := rd.u32()
    nf := rd.u32()
    nm := rd.u32()
    np := rd.u32()
    if rd.err != nil {
        return rd.err
    }

    if classOff != 0 {
        set, err := self.readAnnotationSet(classOff)
        if err != nil {
            return err
        }
        c.SetAnno(set)
    }

    for i := uint32(0); i < nf; i++ {
        fr := self.fld(rd.u32())
        setOff := rd.u32()
        if self.err != nil {
            return self.err
        }
        if rd.err != nil {
            return rd.err
        }
        if !fr.IsConcrete() {
            return &FormatError{Off: off, Reason: "annotation on undefined field " + fr.Key()}
        }
        set, err := self.readAnnotationSet(setOff)
        if err != nil {
            return err
        }
        fr.Def().Anno = set
    }

    for i := uint32(0); i < nm; i++ {
        mr := self.mth(rd.u32())
        setOff := rd.u32()
        if self.err != nil {
            return self.err
        }
        if rd.err != nil {
            return rd.err
        }
        if !mr.IsConcrete() {
            return &FormatError{Off: off, Reason: "annotation on undefined method " + mr.Key()}
        }
        set, err := self.readAnnotationSet(setOff)
        if err != nil {
            return err
        }
        mr.Def().Anno = set
    }

    for i := uint32(0); i < np; i++ {
        mr := self.mth(rd.u32())
        refOff := rd.u32()
        if self.err != nil {
            return self.err
        }
        if rd.err != nil {
            return rd.err
        }
        if !mr.IsConcrete() {
            return &FormatError{Off: off, Reason: "parameter annotation on undefined method " + mr.Key()}
        }
        if err := self.readParamAnnotations(mr, refOff); err != nil {
            return err
        }
    }
    return rd.err
}

func (self *_Image) readParamAnnotations(mr *ir.MethodRef, off uint32) error {
    rd := self.root().at(off)
    n := rd.u32()

    for i := uint32(0); i < n; i++ {
        setOff := rd.u32()
        if rd.err != nil {
            return rd.err
        }
        if setOff == 0 {
            continue
        }
        set, err := self.readAnnotationSet(setOff)
        if err != nil {
            return err
        }
        def := mr.Def()
        if def.ParamAnno == nil {
            def.ParamAnno = make(map[int]*ir.AnnotationSet)
        }
        def.ParamAnno[int(i)] = set
    }
    return rd.err
}

func (self *_Image) readAnnotationSet(off uint32) (*ir.AnnotationSet, error) {
    rd := self.root().at(off)
    n := rd.u32()
    set := &ir.AnnotationSet{}

    for i := uint32(0); i < n; i++ {
        item := self.root().at(rd.u32())
        if rd.err != nil {
            return nil, rd.err
        }

        vis := item.u8()
        typ := self.typ(item.uleb128())
        if self.err != nil {
            return nil, self.err
        }
        nelem := item.uleb128()
        for j := uint32(0); j < nelem; j++ {
            item.uleb128() /* element name */
            if err := self.skipValue(item); err != nil {
                return nil, err
            }
        }
        if item.err != nil {
            return nil, item.err
        }
        set.Annos = append(set.Annos, &ir.Annotation{Type: typ, Visibility: ir.AnnotationVisibility(vis)})
    }
    return set, rd.err
}
