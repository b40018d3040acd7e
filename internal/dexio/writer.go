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
    `crypto/sha1`
    `encoding/binary`
    `fmt`
    `hash/adler32`
    `os`
    `sort`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/gopkg/lang/dirtmake`
)

// _Pools gathers every reference the class list uses and assigns DEX pool
// indices in the mandated sort orders.
type _Pools struct {
    strs      map[*ir.String]uint32
    types     map[*ir.Type]uint32
    protos    map[*ir.Proto]uint32
    fields    map[*ir.FieldRef]uint32
    methods   map[*ir.MethodRef]uint32
    strList   []*ir.String
    typeList  []*ir.Type
    protoList []*ir.Proto
    fieldList []*ir.FieldRef
    mthList   []*ir.MethodRef
    lists     []*ir.TypeList
    listSeen  map[*ir.TypeList]bool
}

func newPools() *_Pools {
    return &_Pools{
        strs     : make(map[*ir.String]uint32),
        types    : make(map[*ir.Type]uint32),
        protos   : make(map[*ir.Proto]uint32),
        fields   : make(map[*ir.FieldRef]uint32),
        methods  : make(map[*ir.MethodRef]uint32),
        listSeen : make(map[*ir.TypeList]bool),
    }
}

func (self *_Pools) addString(s *ir.String) {
    if s == nil {
        return
    }
    if _, ok := self.strs[s]; !ok {
        self.strs[s] = 0
        self.strList = append(self.strList, s)
    }
}

func (self *_Pools) addType(t *ir.Type) {
    if t == nil {
        return
    }
    if _, ok := self.types[t]; !ok {
        self.types[t] = 0
        self.typeList = append(self.typeList, t)
        self.addString(t.NameString())
    }
}

func (self *_Pools) addTypeList(ts *ir.TypeList) {
    if ts == nil || ts.Len() == 0 {
        return
    }
    for _, t := range ts.Types() {
        self.addType(t)
    }
    if !self.listSeen[ts] {
        self.listSeen[ts] = true
        self.lists = append(self.lists, ts)
    }
}

func (self *_Pools) addProto(p *ir.Proto) {
    if _, ok := self.protos[p]; ok {
        return
    }
    self.protos[p] = 0
    self.protoList = append(self.protoList, p)
    self.addString(p.Shorty())
    self.addType(p.Ret())
    self.addTypeList(p.Args())
}

func (self *_Pools) addFieldRef(f *ir.FieldRef) {
    if _, ok := self.fields[f]; ok {
        return
    }
    self.fields[f] = 0
    self.fieldList = append(self.fieldList, f)
    self.addType(f.Class())
    self.addString(f.NameString())
    self.addType(f.Type())
}

func (self *_Pools) addMethodRef(m *ir.MethodRef) {
    if _, ok := self.methods[m]; ok {
        return
    }
    self.methods[m] = 0
    self.mthList = append(self.mthList, m)
    self.addType(m.Class())
    self.addString(m.NameString())
    self.addProto(m.Proto())
}

func (self *_Pools) addValue(v *ir.EncodedValue) {
    if v == nil {
        return
    }
    switch v.Kind {
        case ir.ValueString : self.addString(v.Str)
        case ir.ValueType   : self.addType(v.Typ)
    }
}

func (self *_Pools) addCode(code *ir.Code) {
    code.ForEachInsn(func(i *ir.Instruction) bool {
        self.addString(i.Str())
        self.addType(i.Typ())
        if f := i.Field(); f != nil {
            self.addFieldRef(f)
        }
        if m := i.Method(); m != nil {
            self.addMethodRef(m)
        }
        return true
    })
}

func (self *_Pools) addClass(c *ir.Class) {
    self.addType(c.Type())
    self.addType(c.Super())
    self.addTypeList(c.Interfaces())
    self.addString(c.SourceFile())

    for _, f := range c.StaticFields() {
        self.addFieldRef(f)
        self.addValue(f.Def().Value)
    }
    for _, f := range c.InstanceFields() {
        self.addFieldRef(f)
    }
    for _, m := range c.DirectMethods() {
        self.addMethodRef(m)
        self.addCode(m.Def().Code)
    }
    for _, m := range c.VirtualMethods() {
        self.addMethodRef(m)
        self.addCode(m.Def().Code)
    }
}

func typeCompare(a *ir.Type, b *ir.Type) int {
    return a.NameString().CompareTo(b.NameString())
}

func protoCompare(a *ir.Proto, b *ir.Proto) int {
    if c := typeCompare(a.Ret(), b.Ret()); c != 0 {
        return c
    }
    as, bs := a.Args().Types(), b.Args().Types()
    for i := 0; i < len(as) && i < len(bs); i++ {
        if c := typeCompare(as[i], bs[i]); c != 0 {
            return c
        }
    }
    return len(as) - len(bs)
}

func fieldCompare(a *ir.FieldRef, b *ir.FieldRef) int {
    if c := typeCompare(a.Class(), b.Class()); c != 0 {
        return c
    }
    if c := a.NameString().CompareTo(b.NameString()); c != 0 {
        return c
    }
    return typeCompare(a.Type(), b.Type())
}

func methodCompare(a *ir.MethodRef, b *ir.MethodRef) int {
    if c := typeCompare(a.Class(), b.Class()); c != 0 {
        return c
    }
    if c := a.NameString().CompareTo(b.NameString()); c != 0 {
        return c
    }
    return protoCompare(a.Proto(), b.Proto())
}

// sortAll orders every pool the way the format mandates and assigns the
// indices: strings by code point, types by descriptor, protos by return
// type then arguments, fields and methods by class, name, then type or
// prototype.
func (self *_Pools) sortAll() {
    sort.Slice(self.strList, func(i, j int) bool { return self.strList[i].CompareTo(self.strList[j]) < 0 })
    sort.Slice(self.typeList, func(i, j int) bool { return typeCompare(self.typeList[i], self.typeList[j]) < 0 })
    sort.Slice(self.protoList, func(i, j int) bool { return protoCompare(self.protoList[i], self.protoList[j]) < 0 })
    sort.Slice(self.fieldList, func(i, j int) bool { return fieldCompare(self.fieldList[i], self.fieldList[j]) < 0 })
    sort.Slice(self.mthList, func(i, j int) bool { return methodCompare(self.mthList[i], self.mthList[j]) < 0 })

    for i, s := range self.strList {
        self.strs[s] = uint32(i)
    }
    for i, t := range self.typeList {
        self.types[t] = uint32(i)
    }
    for i, p := range self.protoList {
        self.protos[p] = uint32(i)
    }
    for i, f := range self.fieldList {
        self.fields[f] = uint32(i)
    }
    for i, m := range self.mthList {
        self.methods[m] = uint32(i)
    }
}

// checkLimits enforces the 16-bit index ceilings of the id sections that
// other items reference with short fields.
func (self *_Pools) checkLimits() error {
    switch {
        case len(self.typeList) > 0x10000  : return &EncodeError{Reason: fmt.Sprintf("%d types exceed the 65536 limit of one file", len(self.typeList))}
        case len(self.protoList) > 0x10000 : return &EncodeError{Reason: fmt.Sprintf("%d protos exceed the 65536 limit of one file", len(self.protoList))}
        case len(self.fieldList) > 0x10000 : return &EncodeError{Reason: fmt.Sprintf("%d fields exceed the 65536 limit of one file", len(self.fieldList))}
        case len(self.mthList) > 0x10000   : return &EncodeError{Reason: fmt.Sprintf("%d methods exceed the 65536 limit of one file", len(self.mthList))}
        default                            : return nil
    }
}

// sortClassDefs orders class_defs so that superclasses and implemented
// interfaces defined in the same file precede their users, keeping the
// incoming order where the constraint allows.
func sortClassDefs(classes []*ir.Class) ([]*ir.Class, error) {
    byType := make(map[*ir.Type]*ir.Class, len(classes))
    for _, c := range classes {
        byType[c.Type()] = c
    }

    const (
        white = 0
        grey  = 1
        black = 2
    )
    color := make(map[*ir.Class]int, len(classes))
    out := make([]*ir.Class, 0, len(classes))

    var visit func(c *ir.Class) error
    visit = func(c *ir.Class) error {
        switch color[c] {
            case black : return nil
            case grey  : return &EncodeError{Reason: "class hierarchy cycle involving " + c.Name()}
        }
        color[c] = grey
        if p := byType[c.Super()]; p != nil {
            if err := visit(p); err != nil {
                return err
            }
        }
        if ifaces := c.Interfaces(); ifaces != nil {
            for _, t := range ifaces.Types() {
                if p := byType[t]; p != nil {
                    if err := visit(p); err != nil {
                        return err
                    }
                }
            }
        }
        color[c] = black
        out = append(out, c)
        return nil
    }

    for _, c := range classes {
        if err := visit(c); err != nil {
            return nil, err
        }
    }
    return out, nil
}

// _DexWriter assembles one DEX image. The data section is built in its own
// buffer first; its absolute start offset only depends on the pool sizes,
// so every item offset is final as it is emitted.
type _DexWriter struct {
    pools     *_Pools
    ordered   []*ir.Class
    data      *_Writer
    dataStart uint32
    mapOff    uint32

    codeOff   map[*ir.MethodRef]uint32
    listOff   map[*ir.TypeList]uint32
    strOff    []uint32
    cdataOff  map[*ir.Class]uint32
    valuesOff map[*ir.Class]uint32

    codeFirst   uint32
    codeCount   uint32
    listFirst   uint32
    strFirst    uint32
    cdataFirst  uint32
    cdataCount  uint32
    valuesFirst uint32
    valuesCount uint32
}

// WriteFile encodes classes into a DEX image and writes it to path.
func WriteFile(path string, classes []*ir.Class) error {
    b, err := WriteStore(classes)
    if err != nil {
        return err
    }
    return os.WriteFile(path, b, 0644)
}

// WriteStore encodes the class list into one DEX image. Bodies still in
// graph form are linearized in place first.
func WriteStore(classes []*ir.Class) ([]byte, error) {
    for _, c := range classes {
        for _, m := range c.DirectMethods() {
            if code := m.Def().Code; code != nil {
                code.ClearCFG()
            }
        }
        for _, m := range c.VirtualMethods() {
            if code := m.Def().Code; code != nil {
                code.ClearCFG()
            }
        }
    }

    ordered, err := sortClassDefs(classes)
    if err != nil {
        return nil, err
    }

    pools := newPools()
    for _, c := range ordered {
        pools.addClass(c)
    }
    pools.sortAll()
    if err := pools.checkLimits(); err != nil {
        return nil, err
    }

    dw := &_DexWriter{
        pools     : pools,
        ordered   : ordered,
        data      : new(_Writer),
        codeOff   : make(map[*ir.MethodRef]uint32),
        listOff   : make(map[*ir.TypeList]uint32),
        cdataOff  : make(map[*ir.Class]uint32),
        valuesOff : make(map[*ir.Class]uint32),
    }
    dw.dataStart = uint32(_HeaderSize) +
        4*uint32(len(pools.strList)) +
        4*uint32(len(pools.typeList)) +
        12*uint32(len(pools.protoList)) +
        8*uint32(len(pools.fieldList)) +
        8*uint32(len(pools.mthList)) +
        32*uint32(len(ordered))

    if err := dw.emitCode(); err != nil {
        return nil, err
    }
    dw.emitTypeLists()
    dw.emitStrings()
    dw.emitClassData()
    dw.emitStaticValues()
    dw.emitMap()

    final := &_Writer { buf: dirtmake.Bytes(0, int(dw.dataStart) + len(dw.data.buf)) }
    dw.emitHeader(final)
    dw.emitTables(final)
    final.raw(dw.data.buf)

    /* signature covers everything after itself, the checksum everything
     * after itself including the signature */
    sum := sha1.Sum(final.buf[32:])
    copy(final.buf[12:32], sum[:])
    binary.LittleEndian.PutUint32(final.buf[8:12], adler32.Checksum(final.buf[12:]))
    return final.buf, nil
}

func (self *_DexWriter) abs() uint32 {
    return self.dataStart + self.data.len()
}

// sortedFields orders class members by pool index, the order class_data
// requires for its difference encoding.
func (self *_DexWriter) sortedFields(fs []*ir.FieldRef) []*ir.FieldRef {
    out := append([]*ir.FieldRef(nil), fs...)
    sort.Slice(out, func(i, j int) bool { return self.pools.fields[out[i]] < self.pools.fields[out[j]] })
    return out
}

func (self *_DexWriter) sortedMethods(ms []*ir.MethodRef) []*ir.MethodRef {
    out := append([]*ir.MethodRef(nil), ms...)
    sort.Slice(out, func(i, j int) bool { return self.pools.methods[out[i]] < self.pools.methods[out[j]] })
    return out
}

func (self *_DexWriter) emitCode() error {
    self.data.align(4)
    self.codeFirst = self.abs()

    for _, c := range self.ordered {
        all := append(self.sortedMethods(c.DirectMethods()), self.sortedMethods(c.VirtualMethods())...)
        for _, m := range all {
            code := m.Def().Code
            if code == nil {
                continue
            }
            self.data.align(4)
            off := self.abs()
            if err := encodeCode(self.data, self.pools, m, code); err != nil {
                return err
            }
            self.codeOff[m] = off
            self.codeCount++
        }
    }
    return nil
}

func (self *_DexWriter) emitTypeLists() {
    self.data.align(4)
    self.listFirst = self.abs()

    for _, ts := range self.pools.lists {
        self.data.align(4)
        self.listOff[ts] = self.abs()
        self.data.u32(uint32(ts.Len()))
        for _, t := range ts.Types() {
            self.data.u16(uint16(self.pools.types[t]))
        }
    }
}

func (self *_DexWriter) emitStrings() {
    self.strFirst = self.abs()
    self.strOff = make([]uint32, len(self.pools.strList))

    for i, s := range self.pools.strList {
        self.strOff[i] = self.abs()
        self.data.uleb128(s.Units())
        self.data.raw([]byte(s.Raw()))
        self.data.u8(0)
    }
}

func (self *_DexWriter) emitClassData() {
    self.cdataFirst = self.abs()

    for _, c := range self.ordered {
        sf := self.sortedFields(c.StaticFields())
        inf := self.sortedFields(c.InstanceFields())
        dm := self.sortedMethods(c.DirectMethods())
        vm := self.sortedMethods(c.VirtualMethods())
        if len(sf)+len(inf)+len(dm)+len(vm) == 0 {
            continue
        }

        self.cdataOff[c] = self.abs()
        self.cdataCount++
        w := self.data
        w.uleb128(uint32(len(sf)))
        w.uleb128(uint32(len(inf)))
        w.uleb128(uint32(len(dm)))
        w.uleb128(uint32(len(vm)))

        emitFields := func(fs []*ir.FieldRef) {
            prev := uint32(0)
            for _, f := range fs {
                idx := self.pools.fields[f]
                w.uleb128(idx - prev)
                w.uleb128(uint32(f.Def().Access))
                prev = idx
            }
        }
        emitMethods := func(ms []*ir.MethodRef) {
            prev := uint32(0)
            for _, m := range ms {
                idx := self.pools.methods[m]
                w.uleb128(idx - prev)
                w.uleb128(uint32(m.Def().Access))
                w.uleb128(self.codeOff[m])
                prev = idx
            }
        }
        emitFields(sf)
        emitFields(inf)
        emitMethods(dm)
        emitMethods(vm)
    }
}

func (self *_DexWriter) emitStaticValues() {
    self.valuesFirst = self.abs()

    for _, c := range self.ordered {
        sf := self.sortedFields(c.StaticFields())
        vals := make([]*ir.EncodedValue, len(sf))
        n := 0
        for i, f := range sf {
            vals[i] = f.Def().Value
            if vals[i] != nil && !vals[i].IsZero() {
                n = i + 1
            }
        }
        if n == 0 {
            continue
        }

        self.valuesOff[c] = self.abs()
        self.valuesCount++
        self.data.uleb128(uint32(n))
        for i := 0; i < n; i++ {
            v := vals[i]
            if v == nil {
                v = zeroValueFor(sf[i].Type())
            }
            self.encodeValue(v)
        }
    }
}

// zeroValueFor is the typed default used to pad a hole before a later
// field that does carry a value.
func zeroValueFor(t *ir.Type) *ir.EncodedValue {
    switch t.Name()[0] {
        case 'Z' : return &ir.EncodedValue{Kind: ir.ValueBoolean}
        case 'B' : return &ir.EncodedValue{Kind: ir.ValueByte}
        case 'S' : return &ir.EncodedValue{Kind: ir.ValueShort}
        case 'C' : return &ir.EncodedValue{Kind: ir.ValueChar}
        case 'I' : return &ir.EncodedValue{Kind: ir.ValueInt}
        case 'J' : return &ir.EncodedValue{Kind: ir.ValueLong}
        case 'F' : return &ir.EncodedValue{Kind: ir.ValueFloat}
        case 'D' : return &ir.EncodedValue{Kind: ir.ValueDouble}
        default  : return &ir.EncodedValue{Kind: ir.ValueNull}
    }
}

// signedBytes is the shortest little-endian byte sequence whose sign
// extension reproduces v.
func signedBytes(v int64) []byte {
    var out []byte
    for {
        b := byte(v)
        v >>= 8
        out = append(out, b)
        if (v == 0 && b&0x80 == 0) || (v == -1 && b&0x80 != 0) {
            return out
        }
    }
}

// unsignedBytes is the shortest little-endian byte sequence whose zero
// extension reproduces v.
func unsignedBytes(v uint64) []byte {
    out := []byte{byte(v)}
    for v >>= 8; v != 0; v >>= 8 {
        out = append(out, byte(v))
    }
    return out
}

// floatBytes strips trailing zero bytes; the decoder zero-extends to the
// right. width is the full size in bytes.
func floatBytes(bits uint64, width uint32) []byte {
    size := width
    for size > 1 && bits&0xff == 0 {
        bits >>= 8
        size--
    }
    out := make([]byte, size)
    for i := range out {
        out[i] = byte(bits >> (8 * uint32(i)))
    }
    return out
}

func (self *_DexWriter) encodeValue(v *ir.EncodedValue) {
    w := self.data
    tag := func(payload []byte) {
        w.u8(uint8(v.Kind) | uint8(len(payload)-1)<<5)
        w.raw(payload)
    }

    switch v.Kind {
        case ir.ValueByte:
            tag([]byte{byte(v.Lit)})

        case ir.ValueShort, ir.ValueInt, ir.ValueLong:
            tag(signedBytes(int64(v.Lit)))

        case ir.ValueChar:
            tag(unsignedBytes(v.Lit))

        case ir.ValueFloat:
            tag(floatBytes(v.Lit&0xffffffff, 4))

        case ir.ValueDouble:
            tag(floatBytes(v.Lit, 8))

        case ir.ValueString:
            tag(unsignedBytes(uint64(self.pools.strs[v.Str])))

        case ir.ValueType:
            tag(unsignedBytes(uint64(self.pools.types[v.Typ])))

        case ir.ValueNull:
            w.u8(uint8(ir.ValueNull))

        case ir.ValueBoolean:
            w.u8(uint8(ir.ValueBoolean) | uint8(v.Lit&1)<<5)
    }
}

func (self *_DexWriter) emitMap() {
    self.data.align(4)
    self.mapOff = self.abs()

    type entry struct {
        kind uint16
        size uint32
        off  uint32
    }
    var es []entry
    add := func(kind uint16, size uint32, off uint32) {
        if size > 0 {
            es = append(es, entry{kind: kind, size: size, off: off})
        }
    }

    add(_TypeHeader, 1, 0)
    add(_TypeStringId, uint32(len(self.pools.strList)), _HeaderSize)
    add(_TypeTypeId, uint32(len(self.pools.typeList)), _HeaderSize+4*uint32(len(self.pools.strList)))
    protoOff := _HeaderSize + 4*uint32(len(self.pools.strList)) + 4*uint32(len(self.pools.typeList))
    add(_TypeProtoId, uint32(len(self.pools.protoList)), protoOff)
    fieldOff := protoOff + 12*uint32(len(self.pools.protoList))
    add(_TypeFieldId, uint32(len(self.pools.fieldList)), fieldOff)
    methodOff := fieldOff + 8*uint32(len(self.pools.fieldList))
    add(_TypeMethodId, uint32(len(self.pools.mthList)), methodOff)
    add(_TypeClassDef, uint32(len(self.ordered)), methodOff+8*uint32(len(self.pools.mthList)))
    add(_TypeCode, self.codeCount, self.codeFirst)
    add(_TypeTypeList, uint32(len(self.pools.lists)), self.listFirst)
    add(_TypeStringData, uint32(len(self.pools.strList)), self.strFirst)
    add(_TypeClassData, self.cdataCount, self.cdataFirst)
    add(_TypeEncodedArr, self.valuesCount, self.valuesFirst)
    add(_TypeMapList, 1, self.mapOff)

    self.data.u32(uint32(len(es)))
    for _, e := range es {
        self.data.u16(e.kind)
        self.data.u16(0)
        self.data.u32(e.size)
        self.data.u32(e.off)
    }
}

func (self *_DexWriter) emitHeader(w *_Writer) {
    total := self.dataStart + self.data.len()

    w.raw(Magic[:])
    w.u32(0)                    /* checksum, patched last */
    w.raw(make([]byte, 20))     /* signature, patched last */
    w.u32(total)
    w.u32(_HeaderSize)
    w.u32(_EndianTag)
    w.u32(0) /* link_size */
    w.u32(0) /* link_off */
    w.u32(self.mapOff)

    section := func(n int, off uint32) {
        w.u32(uint32(n))
        if n == 0 {
            off = 0
        }
        w.u32(off)
    }
    off := uint32(_HeaderSize)
    section(len(self.pools.strList), off)
    off += 4 * uint32(len(self.pools.strList))
    section(len(self.pools.typeList), off)
    off += 4 * uint32(len(self.pools.typeList))
    section(len(self.pools.protoList), off)
    off += 12 * uint32(len(self.pools.protoList))
    section(len(self.pools.fieldList), off)
    off += 8 * uint32(len(self.pools.fieldList))
    section(len(self.pools.mthList), off)
    off += 8 * uint32(len(self.pools.mthList))
    section(len(self.ordered), off)

    w.u32(self.data.len())
    w.u32(self.dataStart)
}

func (self *_DexWriter) emitTables(w *_Writer) {
    for i := range self.pools.strList {
        w.u32(self.strOff[i])
    }
    for _, t := range self.pools.typeList {
        w.u32(self.pools.strs[t.NameString()])
    }
    for _, p := range self.pools.protoList {
        w.u32(self.pools.strs[p.Shorty()])
        w.u32(self.pools.types[p.Ret()])
        if args := p.Args(); args != nil && args.Len() > 0 {
            w.u32(self.listOff[args])
        } else {
            w.u32(0)
        }
    }
    for _, f := range self.pools.fieldList {
        w.u16(uint16(self.pools.types[f.Class()]))
        w.u16(uint16(self.pools.types[f.Type()]))
        w.u32(self.pools.strs[f.NameString()])
    }
    for _, m := range self.pools.mthList {
        w.u16(uint16(self.pools.types[m.Class()]))
        w.u16(uint16(self.pools.protos[m.Proto()]))
        w.u32(self.pools.strs[m.NameString()])
    }
    for _, c := range self.ordered {
        w.u32(self.pools.types[c.Type()])
        w.u32(uint32(c.Access()))
        if super := c.Super(); super != nil {
            w.u32(self.pools.types[super])
        } else {
            w.u32(_NoIndex)
        }
        if ifaces := c.Interfaces(); ifaces != nil && ifaces.Len() > 0 {
            w.u32(self.listOff[ifaces])
        } else {
            w.u32(0)
        }
        if src := c.SourceFile(); src != nil {
            w.u32(self.pools.strs[src])
        } else {
            w.u32(_NoIndex)
        }
        w.u32(0) /* annotations, not written back */
        w.u32(self.cdataOff[c])
        w.u32(self.valuesOff[c])
    }
}
