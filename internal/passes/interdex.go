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

package passes

import (
    `bufio`
    `os`
    `sort`
    `strings`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/dexter/internal/packer`
)

// InterDexPass cuts the scope into output DEXes. Classes named by the
// coldstart list come first (and are marked perf-sensitive); everything
// else follows in store order. The packing result lands on the run for
// the writer.
//
// Options:
//
//     perf_first        bool   reorder perf-sensitive classes to the
//                              front of each DEX  (default true)
//     legacy_perf_swap  bool   historical adjacent-swap reorder shape
//     reserved_trefs    int    type id slots withheld per DEX
//     reserved_frefs    int    field id slots withheld per DEX
//     reserved_mrefs    int    method id slots withheld per DEX
//     linear_alloc_limit int   load-time arena budget in bytes
type InterDexPass struct{}

func (self *InterDexPass) Name() string {
    return "InterDexPass"
}

func (self *InterDexPass) Interaction() Interaction {
    return Interaction{}
}

func (self *InterDexPass) Run(run *Run) error {
    opts := run.Options(self)
    order, coldstart, profiled, err := orderClasses(run)
    if err != nil {
        return err
    }

    cfg := packer.Config {
        Primary        : true,
        PerfFirst      : opts.Bool("perf_first", true),
        LegacyPerfSwap : opts.Bool("legacy_perf_swap", false),
        SideEffects    : SideEffectInits(run.Scope),
        Limits         : packer.Limits {
            ReservedTypes   : opts.Int("reserved_trefs", 0),
            ReservedFields  : opts.Int("reserved_frefs", 0),
            ReservedMethods : opts.Int("reserved_mrefs", 0),
            LinearAlloc     : opts.Int("linear_alloc_limit", 0),
        },
    }

    pk := packer.NewPacker(run.Hierarchy(), run.Overrides(), cfg)
    dexes, err := pk.Pack(order)
    if err != nil {
        return err
    }
    run.Dexes = dexes

    stats := pk.Stats()
    metrics := run.Metrics(self)
    metrics.Set("dexes", int64(stats.Dexes))
    metrics.Set("classes", int64(stats.Classes))
    metrics.Set("coldstart_classes", coldstart)
    metrics.Set("profiled_classes", profiled)
    metrics.Set("type_overflows", int64(stats.TypeOverflow))
    metrics.Set("field_overflows", int64(stats.FieldOverflow))
    metrics.Set("method_overflows", int64(stats.MethodOverflow))
    metrics.Set("alloc_overflows", int64(stats.AllocOverflow))
    return nil
}

// orderClasses pulls the coldstart classes ahead of the store order,
// classes owning profiled methods right behind them, and marks both
// groups perf-sensitive for the per-DEX reorder.
func orderClasses(run *Run) ([]*ir.Class, int64, int64, error) {
    classes := run.Scope.Classes()

    var rank, warm map[string]int
    var err error
    if path := run.Config.ColdstartClasses(); path != "" {
        if rank, err = loadColdstart(path); err != nil {
            return nil, 0, 0, err
        }
    }
    if path := run.Config.ProfiledMethodsFile(); path != "" {
        if warm, err = loadProfiled(path, run.Config.MethodSortingWhitelistedSubstrings()); err != nil {
            return nil, 0, 0, err
        }
    }
    if len(rank) == 0 && len(warm) == 0 {
        return classes, 0, 0, nil
    }

    var front, mid, rest []*ir.Class
    pos := make(map[*ir.Class]int)
    for _, c := range classes {
        if r, ok := rank[c.Type().Name()]; ok {
            c.SetPerfSensitive(true)
            pos[c] = r
            front = append(front, c)
        } else if r, ok := warm[c.Type().Name()]; ok {
            c.SetPerfSensitive(true)
            pos[c] = r
            mid = append(mid, c)
        } else {
            rest = append(rest, c)
        }
    }
    sort.SliceStable(front, func(i, j int) bool { return pos[front[i]] < pos[front[j]] })
    sort.SliceStable(mid, func(i, j int) bool { return pos[mid[i]] < pos[mid[j]] })
    return append(append(front, mid...), rest...), int64(len(front)), int64(len(mid)), nil
}

// loadColdstart reads one class per line, in either the "pkg/Cls.class"
// or the dotted "pkg.Cls" form, and records its rank.
func loadColdstart(path string) (map[string]int, error) {
    f, err := os.Open(path)
    if err != nil {
        return nil, err
    }
    defer f.Close()

    rank := make(map[string]int)
    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") {
            continue
        }
        if desc := classDescriptor(line); desc != "" {
            if _, dup := rank[desc]; !dup {
                rank[desc] = len(rank)
            }
        }
    }
    return rank, sc.Err()
}

// loadProfiled reads one interned method key per line and ranks the
// owning classes by first appearance. A non-empty whitelist keeps only
// lines containing one of its substrings.
func loadProfiled(path string, whitelist []string) (map[string]int, error) {
    f, err := os.Open(path)
    if err != nil {
        return nil, err
    }
    defer f.Close()

    rank := make(map[string]int)
    sc := bufio.NewScanner(f)
    for sc.Scan() {
        line := strings.TrimSpace(sc.Text())
        if line == "" || strings.HasPrefix(line, "#") || !allowed(line, whitelist) {
            continue
        }
        if i := strings.IndexByte(line, ';'); i > 0 && line[0] == 'L' {
            desc := line[:i+1]
            if _, dup := rank[desc]; !dup {
                rank[desc] = len(rank)
            }
        }
    }
    return rank, sc.Err()
}

func allowed(line string, whitelist []string) bool {
    if len(whitelist) == 0 {
        return true
    }
    for _, sub := range whitelist {
        if strings.Contains(line, sub) {
            return true
        }
    }
    return false
}

func classDescriptor(line string) string {
    if strings.HasPrefix(line, "L") && strings.HasSuffix(line, ";") {
        return line
    }
    line = strings.TrimSuffix(line, ".class")
    line = strings.ReplaceAll(line, ".", "/")
    if line == "" {
        return ""
    }
    return "L" + line + ";"
}

// SideEffectInits collects the types whose static initializer does
// observable work. A body of constant loads and stores into the class's
// own statics prepares values the encoded form could carry just as
// well, so only anything beyond that counts.
func SideEffectInits(scope *ir.Scope) map[*ir.Type]bool {
    out := make(map[*ir.Type]bool)
    for _, c := range scope.Classes() {
        clinit := c.Clinit()
        if clinit == nil || clinit.Code() == nil {
            continue
        }
        effects := false
        clinit.Code().ForEachInsn(func(p *ir.Instruction) bool {
            if !trivialInitOp(p, c.Type()) {
                effects = true
                return false
            }
            return true
        })
        if effects {
            out[c.Type()] = true
        }
    }
    return out
}

func trivialInitOp(p *ir.Instruction, self *ir.Type) bool {
    op := p.Op()
    switch {
        case op.IsConst()             : return true
        case op.IsMove()              : return true
        case op == ir.OpReturnVoid    : return true
        case op.Fam() == ir.FamSPut   : return p.Field().Class() == self
        default                       : return false
    }
}
