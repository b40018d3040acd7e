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

// Package proguard reads obfuscation maps. The map file lists classes as
//
//     com.example.Upload -> a.b.c:
//         int retryCount -> a
//         13:15:void enqueue(byte[],int) -> b
//
// The input DEX carries the obfuscated names, so the index is keyed by
// them and Apply writes the original names back onto the model, where
// they drive deterministic ordering and readable diagnostics.
package proguard

import (
    `bufio`
    `fmt`
    `io`
    `os`
    `strings`

    `github.com/bytedance/dexter/internal/ir`
)

// ParseError reports a line the map grammar does not cover.
type ParseError struct {
    Line int
    Text string
}

func (self *ParseError) Error() string {
    return fmt.Sprintf("proguard: line %d: malformed mapping %q", self.Line, self.Text)
}

// ClassMapping is one class entry: the original descriptor plus the
// original member names keyed by obfuscated name and shape.
type ClassMapping struct {
    Original string
    fields   map[string]string
    methods  map[string]string
}

// Mapping is a parsed map file indexed by obfuscated class descriptor.
type Mapping struct {
    classes map[string]*ClassMapping
}

func (self *Mapping) Len() int {
    return len(self.classes)
}

// ClassOf returns the entry for an obfuscated descriptor.
func (self *Mapping) ClassOf(desc string) *ClassMapping {
    return self.classes[desc]
}

// Field returns the original name of an obfuscated field.
func (self *ClassMapping) Field(name string, typeDesc string) (string, bool) {
    s, ok := self.fields[name+":"+typeDesc]
    return s, ok
}

// Method returns the original name of an obfuscated method.
func (self *ClassMapping) Method(name string, protoDesc string) (string, bool) {
    s, ok := self.methods[name+":"+protoDesc]
    return s, ok
}

func Load(path string) (*Mapping, error) {
    f, err := os.Open(path)
    if err != nil {
        return nil, err
    }
    defer f.Close()
    return Parse(f)
}

func Parse(r io.Reader) (*Mapping, error) {
    ln := 0
    ret := &Mapping { classes: make(map[string]*ClassMapping) }

    var cur *ClassMapping
    sc := bufio.NewScanner(r)
    sc.Buffer(make([]byte, 64*1024), 1024*1024)

    for sc.Scan() {
        ln++
        line := sc.Text()
        body := strings.TrimSpace(line)

        if body == "" || strings.HasPrefix(body, "#") {
            continue
        }

        if line[0] != ' ' && line[0] != '\t' {
            cm, obf, err := parseHeader(body)
            if err != nil {
                return nil, &ParseError { Line: ln, Text: body }
            }
            cur = cm
            ret.classes[obf] = cm
            continue
        }

        if cur == nil {
            return nil, &ParseError { Line: ln, Text: body }
        }
        if err := cur.parseMember(body); err != nil {
            return nil, &ParseError { Line: ln, Text: body }
        }
    }

    return ret, sc.Err()
}

var errMalformed = fmt.Errorf("proguard: malformed line")

// parseHeader handles `original.Name -> obfuscated.Name:`.
func parseHeader(s string) (*ClassMapping, string, error) {
    s = strings.TrimSuffix(s, ":")
    orig, obf, ok := cutArrow(s)
    if !ok || orig == "" || obf == "" {
        return nil, "", errMalformed
    }
    cm := &ClassMapping {
        Original: classDescriptor(orig),
        fields:   make(map[string]string),
        methods:  make(map[string]string),
    }
    return cm, classDescriptor(obf), nil
}

// parseMember handles field lines `type name -> obf` and method lines
// `[from:to:]ret name(arg,...)[:lines] -> obf`.
func (self *ClassMapping) parseMember(s string) error {
    left, obf, ok := cutArrow(s)
    if !ok || obf == "" {
        return errMalformed
    }
    left = stripLinePrefix(left)

    sp := strings.IndexByte(left, ' ')
    if sp < 0 {
        return errMalformed
    }
    typ, rest := left[:sp], left[sp+1:]

    if par := strings.IndexByte(rest, '('); par < 0 {
        /* field */
        if rest == "" {
            return errMalformed
        }
        self.fields[obf+":"+descriptorOf(typ)] = rest
        return nil
    } else {
        end := strings.IndexByte(rest, ')')
        if end < par {
            return errMalformed
        }
        name := rest[:par]
        if name == "" {
            return errMalformed
        }
        self.methods[obf+":"+protoDescriptor(rest[par+1:end], typ)] = name
        return nil
    }
}

func cutArrow(s string) (string, string, bool) {
    i := strings.Index(s, " -> ")
    if i < 0 {
        return s, "", false
    }
    return s[:i], s[i+4:], true
}

// stripLinePrefix drops the `from:to:` debug-line prefixes compilers
// prepend to method entries.
func stripLinePrefix(s string) string {
    for {
        i := strings.IndexByte(s, ':')
        if i <= 0 || !allDigits(s[:i]) {
            return s
        }
        s = s[i+1:]
    }
}

func allDigits(s string) bool {
    for i := 0; i < len(s); i++ {
        if s[i] < '0' || s[i] > '9' {
            return false
        }
    }
    return len(s) > 0
}

func protoDescriptor(args string, ret string) string {
    var sb strings.Builder
    sb.WriteByte('(')
    if args != "" {
        for _, a := range strings.Split(args, ",") {
            sb.WriteString(descriptorOf(strings.TrimSpace(a)))
        }
    }
    sb.WriteByte(')')
    sb.WriteString(descriptorOf(ret))
    return sb.String()
}

func classDescriptor(java string) string {
    return "L" + strings.ReplaceAll(java, ".", "/") + ";"
}

// descriptorOf converts a source-form type name to its descriptor.
func descriptorOf(java string) string {
    dims := 0
    for strings.HasSuffix(java, "[]") {
        java = java[:len(java)-2]
        dims++
    }

    var d string
    switch java {
        case "void"    : d = "V"
        case "boolean" : d = "Z"
        case "byte"    : d = "B"
        case "short"   : d = "S"
        case "char"    : d = "C"
        case "int"     : d = "I"
        case "long"    : d = "J"
        case "float"   : d = "F"
        case "double"  : d = "D"
        default        : d = classDescriptor(java)
    }

    return strings.Repeat("[", dims) + d
}

// Apply writes original names onto every class and concrete member the
// map covers and reports how many classes matched.
func (self *Mapping) Apply(scope *ir.Scope) int {
    n := 0
    scope.ForEachClass(func(c *ir.Class) {
        cm := self.classes[c.Type().Name()]
        if cm == nil {
            return
        }

        n++
        c.SetDeobfName(cm.Original)

        c.ForEachField(func(f *ir.FieldRef) {
            if f.IsConcrete() {
                if orig, ok := cm.Field(f.Name(), f.Type().Name()); ok {
                    f.Def().DeobfName = orig
                }
            }
        })

        c.ForEachMethod(func(m *ir.MethodRef) {
            if m.IsConcrete() {
                if orig, ok := cm.Method(m.Name(), m.Proto().Key()); ok {
                    m.Def().DeobfName = orig
                }
            }
        })
    })
    return n
}
