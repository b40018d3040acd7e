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

// Package mutf8 implements the Modified UTF-8 encoding used by the DEX
// string_data_item: U+0000 is encoded as the two-byte sequence C0 80, and
// supplementary characters are encoded as CESU-8 surrogate pairs. Interned
// strings keep their raw MUTF-8 bytes; this package measures, orders and
// converts them.
package mutf8

import (
    `fmt`
    `unicode/utf16`
)

const (
    _MaxShort = 0x7ff
    _SurrMin  = 0xd800
    _SurrMax  = 0xdfff
    _SuppMin  = 0x10000
)

// IsASCII reports whether every byte of s is a 7-bit character.
// ASCII strings compare identically under byte order and code-point order.
func IsASCII(s string) bool {
    for i := 0; i < len(s); i++ {
        if s[i] >= 0x80 {
            return false
        }
    }
    return true
}

// CountCodeUnits returns the number of UTF-16 code units encoded by the
// MUTF-8 byte sequence s. This is the utf16_size field of string_data_item.
func CountCodeUnits(s string) (uint32, error) {
    i := 0
    n := uint32(0)

    /* every leading byte encodes exactly one UTF-16 code unit */
    for i < len(s) {
        c := s[i]
        switch {
            case c        == 0x00 : return 0, fmt.Errorf("mutf8: embedded NUL byte at offset %d", i)
            case c        <  0x80 : i += 1
            case c & 0xe0 == 0xc0 : i += 2
            case c & 0xf0 == 0xe0 : i += 3
            default               : return 0, fmt.Errorf("mutf8: invalid leading byte %#02x at offset %d", c, i)
        }
        if i > len(s) {
            return 0, fmt.Errorf("mutf8: truncated sequence at offset %d", i)
        }
        n++
    }
    return n, nil
}

// nextUnit decodes one UTF-16 code unit starting at i, without validation.
// Callers are expected to have validated the string on interning.
func nextUnit(s string, i int) (uint16, int) {
    c := s[i]
    switch {
        case c < 0x80:
            return uint16(c), i + 1
        case c & 0xe0 == 0xc0:
            return uint16(c & 0x1f) << 6 | uint16(s[i + 1] & 0x3f), i + 2
        default:
            return uint16(c & 0x0f) << 12 | uint16(s[i + 1] & 0x3f) << 6 | uint16(s[i + 2] & 0x3f), i + 3
    }
}

// nextPoint decodes one Unicode code point starting at i, combining
// surrogate pairs. Unpaired surrogates are returned as-is.
func nextPoint(s string, i int) (rune, int) {
    u, j := nextUnit(s, i)

    /* high surrogate, try to combine with the following unit */
    if u >= 0xd800 && u < 0xdc00 && j < len(s) {
        if lo, k := nextUnit(s, j); lo >= 0xdc00 && lo <= 0xdfff {
            return utf16.DecodeRune(rune(u), rune(lo)), k
        }
    }
    return rune(u), j
}

// Compare orders two MUTF-8 strings by Unicode code point. Pure ASCII
// operands take the byte-comparison fast path.
func Compare(a string, b string) int {
    if IsASCII(a) && IsASCII(b) {
        switch {
            case a < b  : return -1
            case a > b  : return 1
            default     : return 0
        }
    }

    /* decode both sides one code point at a time */
    i, j := 0, 0
    for i < len(a) && j < len(b) {
        ra, ni := nextPoint(a, i)
        rb, nj := nextPoint(b, j)
        if ra != rb {
            if ra < rb {
                return -1
            }
            return 1
        }
        i, j = ni, nj
    }

    /* common prefix, shorter sorts first */
    switch {
        case len(a) - i < len(b) - j : return -1
        case len(a) - i > len(b) - j : return 1
        default                      : return 0
    }
}

// Encode converts a Go UTF-8 string into its MUTF-8 representation.
func Encode(s string) string {
    n := len(s)
    buf := make([]byte, 0, n)

    for _, r := range s {
        switch {
            case r == 0:
                buf = append(buf, 0xc0, 0x80)

            case r < 0x80:
                buf = append(buf, byte(r))

            case r <= _MaxShort:
                buf = append(buf, 0xc0 | byte(r >> 6), 0x80 | byte(r) & 0x3f)

            case r < _SuppMin:
                buf = append(buf, 0xe0 | byte(r >> 12), 0x80 | byte(r >> 6) & 0x3f, 0x80 | byte(r) & 0x3f)

            /* supplementary characters become CESU-8 surrogate pairs */
            default: {
                hi, lo := utf16.EncodeRune(r)
                buf = append(buf, 0xe0 | byte(hi >> 12), 0x80 | byte(hi >> 6) & 0x3f, 0x80 | byte(hi) & 0x3f)
                buf = append(buf, 0xe0 | byte(lo >> 12), 0x80 | byte(lo >> 6) & 0x3f, 0x80 | byte(lo) & 0x3f)
            }
        }
    }
    return string(buf)
}

// Decode converts a MUTF-8 byte string into standard Go UTF-8.
func Decode(s string) string {
    if IsASCII(s) {
        return s
    }

    /* decode to code points, combining surrogate pairs */
    var out []rune
    for i := 0; i < len(s); {
        var r rune
        r, i = nextPoint(s, i)
        out = append(out, r)
    }
    return string(out)
}

// Validate checks that s is a well-formed MUTF-8 sequence.
func Validate(s string) error {
    _, err := CountCodeUnits(s)
    if err != nil {
        return err
    }

    /* continuation bytes must carry the 10xxxxxx marker */
    for i := 0; i < len(s); {
        c := s[i]
        var n int
        switch {
            case c        <  0x80 : n = 1
            case c & 0xe0 == 0xc0 : n = 2
            default               : n = 3
        }
        for k := 1; k < n; k++ {
            if s[i + k] & 0xc0 != 0x80 {
                return fmt.Errorf("mutf8: invalid continuation byte %#02x at offset %d", s[i + k], i + k)
            }
        }
        i += n
    }
    return nil
}
