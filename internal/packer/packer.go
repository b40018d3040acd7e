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

package packer

import (
    `fmt`

    `github.com/bytedance/dexter/internal/ir`
    `github.com/bytedance/dexter/internal/resolver`
    log `github.com/sirupsen/logrus`
)

// Config drives one packing run over one DEX store.
type Config struct {
    // Limits are the per-DEX ceilings; zero fields take the defaults.
    Limits Limits

    // Primary marks the first emitted DEX as the primary classes.dex.
    Primary bool

    // PerfFirst moves perf-sensitive classes to the front of each DEX.
    PerfFirst bool

    // LegacyPerfSwap keeps the historical adjacent-swap reorder shape
    // instead of the stable partition.
    LegacyPerfSwap bool

    // SideEffects holds the types whose static initializer has visible
    // side effects. Init-class instructions on any other type vanish
    // during lowering and cost nothing.
    SideEffects map[*ir.Type]bool
}

// DexInfo is the metadata recorded when a DEX is frozen.
type DexInfo struct {
    Index     int
    Primary   bool
    Coldstart bool
    Scroll    bool
}

// Dex is one frozen output unit: its metadata and its classes in final
// emission order.
type Dex struct {
    Info    DexInfo
    Classes []*ir.Class
}

// Stats counts what a packing run did. Each overflow counter records how
// often the matching ceiling forced a new DEX open.
type Stats struct {
    Dexes          int
    Classes        int
    TypeOverflow   int
    FieldOverflow  int
    MethodOverflow int
    AllocOverflow  int
}

func (self *Stats) bump(over Counter) {
    switch over {
        case OverTypes   : self.TypeOverflow++
        case OverFields  : self.FieldOverflow++
        case OverMethods : self.MethodOverflow++
        case OverAlloc   : self.AllocOverflow++
    }
}

// CeilingError reports a class whose footprint alone crosses a ceiling.
// No amount of splitting can place such a class, so packing aborts.
type CeilingError struct {
    Class   *ir.Class
    Counter Counter
}

func (self *CeilingError) Error() string {
    return fmt.Sprintf("packer: class %s alone crosses the %s ceiling of an empty dex", self.Class.Name(), self.Counter)
}

// Packer walks an ordered class list and cuts it into DEXes. It is
// single-threaded: output DEXes appear exactly in input order.
type Packer struct {
    cfg   Config
    cur   *Structure
    dexes []*Dex
    stats Stats
}

func NewPacker(ch *resolver.ClassHierarchy, ovr *resolver.OverrideGraph, cfg Config) *Packer {
    cfg.Limits.fill()
    p := new(Packer)
    p.cfg = cfg
    p.cur = NewStructure(&p.cfg, NewEstimator(ch, ovr))
    return p
}

func (self *Packer) Stats() Stats {
    return self.stats
}

// Current exposes the DEX under construction, for callers that steer
// packing themselves with TryAdd and EndDex.
func (self *Packer) Current() *Structure {
    return self.cur
}

// Pack consumes classes in order. Each class goes into the current DEX
// when it fits; otherwise the DEX is frozen and the class must fit into
// the fresh one.
func (self *Packer) Pack(classes []*ir.Class) ([]*Dex, error) {
    for _, c := range classes {
        if ok, over := self.cur.TryAdd(c); ok {
            continue
        } else if err := self.turnover(c, over); err != nil {
            return nil, err
        }
    }

    if self.cur.Size() > 0 {
        self.flush()
    }

    self.stats.Dexes = len(self.dexes)
    return self.dexes, nil
}

func (self *Packer) turnover(c *ir.Class, over Counter) error {
    self.stats.bump(over)

    /* rejected by an empty DEX, splitting cannot help */
    if self.cur.Size() == 0 {
        return &CeilingError { Class: c, Counter: over }
    }

    log.Debugf("packer: dex %d full on %s, class %s opens dex %d", len(self.dexes), over, c.Name(), len(self.dexes)+1)
    self.flush()

    if ok, again := self.cur.TryAdd(c); !ok {
        return &CeilingError { Class: c, Counter: again }
    } else {
        return nil
    }
}

func (self *Packer) flush() {
    info := DexInfo {
        Index:   len(self.dexes),
        Primary: self.cfg.Primary && len(self.dexes) == 0,
    }
    d := self.cur.EndDex(info)
    self.stats.Classes += len(d.Classes)
    self.dexes = append(self.dexes, d)
}
