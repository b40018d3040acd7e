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
    `encoding/binary`
    `fmt`
)

// _Reader is a little-endian cursor over a DEX image. The first decode
// failure sticks: every later read returns zero and the error is collected
// once at the next checkpoint, so straight-line section parsers stay free
// of per-read error plumbing.
type _Reader struct {
    data []byte
    pos  uint32
    err  error
}

func (self *_Reader) fail(format string, args ...interface{}) {
    if self.err == nil {
        self.err = &FormatError{Off: self.pos, Reason: fmt.Sprintf(format, args...)}
    }
}

func (self *_Reader) ok() bool {
    return self.err == nil
}

// at forks an independent cursor at an absolute offset, sharing the image.
func (self *_Reader) at(off uint32) *_Reader {
    r := &_Reader{data: self.data, pos: off, err: self.err}
    if uint64(off) > uint64(len(self.data)) {
        r.fail("offset out of bounds")
    }
    return r
}

func (self *_Reader) remain() uint32 {
    return uint32(len(self.data)) - self.pos
}

func (self *_Reader) u8() uint8 {
    if self.err != nil || self.remain() < 1 {
        self.fail("unexpected end of file")
        return 0
    }
    v := self.data[self.pos]
    self.pos++
    return v
}

func (self *_Reader) u16() uint16 {
    if self.err != nil || self.remain() < 2 {
        self.fail("unexpected end of file")
        return 0
    }
    v := binary.LittleEndian.Uint16(self.data[self.pos:])
    self.pos += 2
    return v
}

func (self *_Reader) u32() uint32 {
    if self.err != nil || self.remain() < 4 {
        self.fail("unexpected end of file")
        return 0
    }
    v := binary.LittleEndian.Uint32(self.data[self.pos:])
    self.pos += 4
    return v
}

func (self *_Reader) leb128() (uint32, uint32) {
    var v, n uint32
    for {
        b := self.u8()
        v |= uint32(b & 0x7f) << n
        n += 7
        if b < 0x80 {
            return v, n
        }
        if n >= 35 {
            self.fail("uleb128 longer than five bytes")
            return 0, 0
        }
    }
}

func (self *_Reader) uleb128() uint32 {
    v, _ := self.leb128()
    return v
}

func (self *_Reader) sleb128() int32 {
    v, n := self.leb128()
    if n < 32 && v >= 1<<(n-1) {
        v -= 1 << n
    }
    return int32(v)
}

// cstr reads the NUL-terminated byte sequence of a string_data_item.
func (self *_Reader) cstr() string {
    start := self.pos
    for self.ok() {
        if self.remain() < 1 {
            self.fail("unterminated string data")
            return ""
        }
        if self.data[self.pos] == 0 {
            s := string(self.data[start:self.pos])
            self.pos++
            return s
        }
        self.pos++
    }
    return ""
}

func (self *_Reader) bytes(n uint32) []byte {
    if self.err != nil || self.remain() < n {
        self.fail("unexpected end of file")
        return nil
    }
    v := self.data[self.pos : self.pos+n]
    self.pos += n
    return v
}

func (self *_Reader) skip(n uint32) {
    if self.err != nil || self.remain() < n {
        self.fail("unexpected end of file")
        return
    }
    self.pos += n
}

// _Writer is a growable little-endian section buffer. Offsets are relative
// to the buffer start; the assembler rebases them when sections are glued
// into the final image.
type _Writer struct {
    buf []byte
}

func (self *_Writer) len() uint32 {
    return uint32(len(self.buf))
}

func (self *_Writer) u8(v uint8) {
    self.buf = append(self.buf, v)
}

func (self *_Writer) u16(v uint16) {
    self.buf = append(self.buf, byte(v), byte(v>>8))
}

func (self *_Writer) u32(v uint32) {
    self.buf = append(self.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func (self *_Writer) raw(p []byte) {
    self.buf = append(self.buf, p...)
}

func (self *_Writer) uleb128(v uint32) {
    for v >= 0x80 {
        self.u8(uint8(v) | 0x80)
        v >>= 7
    }
    self.u8(uint8(v))
}

func (self *_Writer) sleb128(v int32) {
    for {
        b := uint8(v) & 0x7f
        v >>= 7
        if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
            self.u8(b)
            return
        }
        self.u8(b | 0x80)
    }
}

// align pads with zero bytes up to a multiple of n.
func (self *_Writer) align(n uint32) {
    for self.len()%n != 0 {
        self.u8(0)
    }
}

// patch32 rewrites a previously emitted u32 in place.
func (self *_Writer) patch32(off uint32, v uint32) {
    binary.LittleEndian.PutUint32(self.buf[off:], v)
}

func ulebLen(v uint32) uint32 {
    n := uint32(1)
    for v >= 0x80 {
        v >>= 7
        n++
    }
    return n
}
