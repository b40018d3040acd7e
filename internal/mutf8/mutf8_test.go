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

package mutf8

import (
    `testing`

    `github.com/stretchr/testify/require`
)

func TestMUTF8_CountCodeUnits(t *testing.T) {
    n, err := CountCodeUnits("Lfoo/Bar;")
    require.NoError(t, err)
    require.Equal(t, uint32(9), n)

    /* U+0000 is two bytes, one unit */
    n, err = CountCodeUnits("a\xc0\x80b")
    require.NoError(t, err)
    require.Equal(t, uint32(3), n)

    /* U+10400 is a CESU-8 surrogate pair, two units */
    n, err = CountCodeUnits(Encode("\U00010400"))
    require.NoError(t, err)
    require.Equal(t, uint32(2), n)

    /* raw NUL bytes are not valid MUTF-8 */
    _, err = CountCodeUnits("a\x00b")
    require.Error(t, err)

    /* 4-byte UTF-8 sequences are not valid MUTF-8 */
    _, err = CountCodeUnits("\U00010400")
    require.Error(t, err)
}

func TestMUTF8_RoundTrip(t *testing.T) {
    for _, s := range []string {
        "",
        "hello",
        "Ljava/lang/String;",
        "héllo wörld",
        "日本語テキスト",
        "mixed Ā and \U0001f600 text",
        "nul\x00nul",
    } {
        m := Encode(s)
        require.NoError(t, Validate(m))
        require.Equal(t, s, Decode(m))
    }
}

func TestMUTF8_Compare(t *testing.T) {
    /* ASCII fast path agrees with byte order */
    require.Equal(t, -1, Compare("Lfoo/A;", "Lfoo/B;"))
    require.Equal(t, 1, Compare("b", "a"))
    require.Equal(t, 0, Compare("same", "same"))
    require.Equal(t, -1, Compare("ab", "abc"))

    /* code-point order: supplementary characters sort above all of the BMP,
     * even though their CESU-8 bytes (ED Ax ..) are smaller than E38081 */
    lo := Encode("あ")
    hi := Encode("\U00010400")
    require.Equal(t, -1, Compare(lo, hi))
    require.Equal(t, 1, Compare(hi, lo))

    /* encoded NUL sorts below every other character */
    require.Equal(t, -1, Compare("\xc0\x80", "a"))
}
