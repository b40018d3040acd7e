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

package interproc

import (
    `bufio`
    `io`
    `strings`

    jsoniter `github.com/json-iterator/go`

    `github.com/bytedance/dexter/internal/fixpoint`
    `github.com/bytedance/dexter/internal/ir`
)

// ObjectKind tags what a reflective abstract object denotes.
type ObjectKind uint8

const (
    KindObject ObjectKind = iota
    KindString
    KindClass
    KindMethod
    KindField
)

func (self ObjectKind) String() string {
    switch self {
        case KindObject : return "object"
        case KindString : return "string"
        case KindClass  : return "class"
        case KindMethod : return "method"
        case KindField  : return "field"
        default         : return "invalid"
    }
}

// AbstractObject is one reflective value: its kind, the class it is
// about, and the string component carried by strings and by member
// lookups (the member name).
type AbstractObject struct {
    Kind ObjectKind
    Type *ir.Type
    Str  *ir.String
}

// RefVal is the flat lattice over abstract objects.
type RefVal struct {
    kind _RefKind
    obj  AbstractObject
}

type _RefKind uint8

const (
    _RBottom _RefKind = iota
    _RObject
    _RTop
)

func RefBottom() RefVal                { return RefVal { kind: _RBottom } }
func RefTop() RefVal                   { return RefVal { kind: _RTop } }
func RefOf(obj AbstractObject) RefVal  { return RefVal { kind: _RObject, obj: obj } }

func (self RefVal) IsBottom() bool { return self.kind == _RBottom }
func (self RefVal) IsTop() bool    { return self.kind == _RTop }

// Object unwraps the tracked abstract object, when there is one.
func (self RefVal) Object() (AbstractObject, bool) {
    return self.obj, self.kind == _RObject
}

func (self RefVal) JoinWith(other RefVal) RefVal {
    switch {
        case self.kind == _RBottom  : return other
        case other.kind == _RBottom : return self
        case self == other          : return self
        default                     : return RefTop()
    }
}

func (self RefVal) MeetWith(other RefVal) RefVal {
    switch {
        case self.kind == _RTop  : return other
        case other.kind == _RTop : return self
        case self == other       : return self
        default                  : return RefBottom()
    }
}

func (self RefVal) leq(other RefVal) bool {
    switch {
        case self.kind == _RBottom : return true
        case other.kind == _RTop   : return true
        default                    : return self == other
    }
}

// CallContext abstracts the arguments one or more invokes pass into a
// callee, indexed by position with the receiver at zero. Positions
// absent from the map carry no information.
type CallContext struct {
    bot  bool
    args map[int]RefVal
}

func NewCallContext() *CallContext {
    return &CallContext {
        args: make(map[int]RefVal),
    }
}

// Arg is the abstract value at position i, top when untracked.
func (self *CallContext) Arg(i int) RefVal {
    if v, ok := self.args[i]; ok {
        return v
    }
    return RefTop()
}

func (self *CallContext) SetArg(i int, v RefVal) {
    if v.IsTop() {
        delete(self.args, i)
    } else {
        self.args[i] = v
    }
}

func (self *CallContext) Clone() *CallContext {
    ret := &CallContext {
        bot  : self.bot,
        args : make(map[int]RefVal, len(self.args)),
    }
    for i, v := range self.args {
        ret.args[i] = v
    }
    return ret
}

/** Domain Interface **/

func (self *CallContext) IsBottom() bool { return self.bot }
func (self *CallContext) IsTop() bool    { return !self.bot && len(self.args) == 0 }

func (self *CallContext) Leq(other fixpoint.Domain) bool {
    rhs := other.(*CallContext)
    if self.bot {
        return true
    }
    if rhs.bot {
        return false
    }
    for i, v := range rhs.args {
        if !self.Arg(i).leq(v) {
            return false
        }
    }
    return true
}

func (self *CallContext) Equals(other fixpoint.Domain) bool {
    return self.Leq(other) && other.Leq(self)
}

func (self *CallContext) Join(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*CallContext)
    if self.bot {
        return rhs.Clone()
    }
    if rhs.bot {
        return self.Clone()
    }
    ret := NewCallContext()
    for i, v := range self.args {
        ret.SetArg(i, v.JoinWith(rhs.Arg(i)))
    }
    return ret
}

func (self *CallContext) Widen(other fixpoint.Domain) fixpoint.Domain {
    return self.Join(other)
}

func (self *CallContext) Meet(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*CallContext)
    if self.bot || rhs.bot {
        return &CallContext { bot: true }
    }
    ret := self.Clone()
    for i, v := range rhs.args {
        m := ret.Arg(i).MeetWith(v)
        if m.IsBottom() {
            return &CallContext { bot: true }
        }
        ret.SetArg(i, m)
    }
    return ret
}

func (self *CallContext) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

// ReflectionSummary is one method's reflective footprint: the abstract
// object it returns and the reflection sites its body contains.
type ReflectionSummary struct {
    ret   RefVal
    sites map[*ir.Instruction]RefVal
}

func newReflectionSummary() *ReflectionSummary {
    return &ReflectionSummary {
        ret   : RefBottom(),
        sites : make(map[*ir.Instruction]RefVal),
    }
}

// Ret is the joined abstract object of every return site.
func (self *ReflectionSummary) Ret() RefVal {
    return self.ret
}

// SiteAt is the abstract object looked up at one reflective call.
func (self *ReflectionSummary) SiteAt(p *ir.Instruction) (AbstractObject, bool) {
    return self.sites[p].Object()
}

func (self *ReflectionSummary) NumSites() int {
    n := 0
    for _, v := range self.sites {
        if _, ok := v.Object(); ok {
            n++
        }
    }
    return n
}

func (self *ReflectionSummary) addSite(p *ir.Instruction, v RefVal) {
    self.sites[p] = self.sites[p].JoinWith(v)
}

func (self *ReflectionSummary) Clone() *ReflectionSummary {
    ret := &ReflectionSummary {
        ret   : self.ret,
        sites : make(map[*ir.Instruction]RefVal, len(self.sites)),
    }
    for p, v := range self.sites {
        ret.sites[p] = v
    }
    return ret
}

/** Domain Interface **/

func (self *ReflectionSummary) IsBottom() bool {
    return self.ret.IsBottom() && len(self.sites) == 0
}

func (self *ReflectionSummary) IsTop() bool {
    return false
}

func (self *ReflectionSummary) Leq(other fixpoint.Domain) bool {
    rhs := other.(*ReflectionSummary)
    if !self.ret.leq(rhs.ret) {
        return false
    }
    for p, v := range self.sites {
        if w, ok := rhs.sites[p]; !ok || !v.leq(w) {
            return false
        }
    }
    return true
}

func (self *ReflectionSummary) Equals(other fixpoint.Domain) bool {
    return self.Leq(other) && other.Leq(self)
}

func (self *ReflectionSummary) Join(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*ReflectionSummary)
    ret := self.Clone()
    ret.ret = ret.ret.JoinWith(rhs.ret)
    for p, v := range rhs.sites {
        ret.addSite(p, v)
    }
    return ret
}

// Widen joins: the site set is bounded by the body's instructions.
func (self *ReflectionSummary) Widen(other fixpoint.Domain) fixpoint.Domain {
    return self.Join(other)
}

func (self *ReflectionSummary) Meet(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*ReflectionSummary)
    ret := newReflectionSummary()
    ret.ret = self.ret.MeetWith(rhs.ret)
    for p, v := range self.sites {
        if w, ok := rhs.sites[p]; ok {
            ret.sites[p] = v.MeetWith(w)
        }
    }
    return ret
}

func (self *ReflectionSummary) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

/** Register Environment **/

type _RefEnv struct {
    bot  bool
    res  RefVal
    regs map[ir.Reg]RefVal
}

func newRefEnv() *_RefEnv {
    return &_RefEnv {
        res  : RefTop(),
        regs : make(map[ir.Reg]RefVal),
    }
}

func (self *_RefEnv) get(r ir.Reg) RefVal {
    if v, ok := self.regs[r]; ok {
        return v
    }
    return RefTop()
}

func (self *_RefEnv) set(r ir.Reg, v RefVal) {
    if v.IsTop() {
        delete(self.regs, r)
    } else {
        self.regs[r] = v
    }
}

func (self *_RefEnv) Clone() *_RefEnv {
    ret := &_RefEnv {
        bot  : self.bot,
        res  : self.res,
        regs : make(map[ir.Reg]RefVal, len(self.regs)),
    }
    for r, v := range self.regs {
        ret.regs[r] = v
    }
    return ret
}

func (self *_RefEnv) IsBottom() bool { return self.bot }
func (self *_RefEnv) IsTop() bool    { return false }

func (self *_RefEnv) Leq(other fixpoint.Domain) bool {
    rhs := other.(*_RefEnv)
    if self.bot {
        return true
    }
    if rhs.bot {
        return false
    }
    if !self.res.leq(rhs.res) {
        return false
    }
    for r, v := range rhs.regs {
        if !self.get(r).leq(v) {
            return false
        }
    }
    return true
}

func (self *_RefEnv) Equals(other fixpoint.Domain) bool {
    return self.Leq(other) && other.Leq(self)
}

func (self *_RefEnv) Join(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*_RefEnv)
    if self.bot {
        return rhs.Clone()
    }
    if rhs.bot {
        return self.Clone()
    }
    ret := newRefEnv()
    ret.res = self.res.JoinWith(rhs.res)
    for r, v := range self.regs {
        ret.set(r, v.JoinWith(rhs.get(r)))
    }
    return ret
}

func (self *_RefEnv) Widen(other fixpoint.Domain) fixpoint.Domain {
    return self.Join(other)
}

func (self *_RefEnv) Meet(other fixpoint.Domain) fixpoint.Domain {
    rhs := other.(*_RefEnv)
    if self.bot || rhs.bot {
        return &_RefEnv { bot: true }
    }
    ret := self.Clone()
    for r, v := range rhs.regs {
        m := ret.get(r).MeetWith(v)
        if m.IsBottom() {
            return &_RefEnv { bot: true }
        }
        ret.set(r, m)
    }
    return ret
}

func (self *_RefEnv) Narrow(other fixpoint.Domain) fixpoint.Domain {
    return self.Meet(other)
}

/** Intraprocedural Flow **/

type _ReflectFlow struct {
    ctx    *ir.Context
    cfg    *ir.CFG
    mth    *ir.MethodRef
    facts  *Facts
    params map[*ir.Instruction]int
}

func (self *_ReflectFlow) Bottom() fixpoint.Domain {
    return &_RefEnv { bot: true }
}

func (self *_ReflectFlow) Entry() fixpoint.Domain {
    return newRefEnv()
}

func (self *_ReflectFlow) AnalyzeNode(node int, pre fixpoint.Domain) fixpoint.Domain {
    env := pre.(*_RefEnv)
    if env.bot {
        return env
    }
    env = env.Clone()
    self.cfg.Block(node).ForEachInsn(func(p *ir.Instruction) bool {
        self.apply(p, env)
        return true
    })
    return env
}

func (self *_ReflectFlow) AnalyzeEdge(edge fixpoint.Edge, post fixpoint.Domain) fixpoint.Domain {
    return post
}

func (self *_ReflectFlow) apply(p *ir.Instruction, env *_RefEnv) {
    op := p.Op()
    switch op.Fam() {
        case ir.FamConstString:
            env.res = RefOf(AbstractObject { Kind: KindString, Str: p.Str() })

        case ir.FamConstClass:
            env.res = RefOf(AbstractObject { Kind: KindClass, Type: p.Typ() })

        case ir.FamNewInstance:
            env.res = RefOf(AbstractObject { Kind: KindObject, Type: p.Typ() })

        case ir.FamCheckCast:
            /* the cast passes an already tracked value through */
            v := env.get(p.Src(0))
            if _, ok := v.Object(); !ok {
                v = RefTop()
            }
            env.res = v

        case ir.FamMove:
            env.set(p.Dest(), env.get(p.Src(0)))

        case ir.FamMoveResult, ir.FamMoveResultPseudo:
            env.set(p.Dest(), env.res)
            env.res = RefTop()

        case ir.FamLoadParam:
            env.set(p.Dest(), self.paramVal(p))

        case ir.FamInvoke:
            v, _ := self.evalInvoke(p, env)
            env.res = v

        default:
            if op.HasDest() {
                env.set(p.Dest(), RefTop())
            } else if op.HasMoveResult() {
                env.res = RefTop()
            }
    }
}

func (self *_ReflectFlow) paramVal(p *ir.Instruction) RefVal {
    idx, ok := self.params[p]
    if !ok {
        return RefTop()
    }
    if cc, _ := self.facts.Contexts.Of(self.mth).(*CallContext); cc != nil {
        return cc.Arg(idx)
    }
    return RefTop()
}

/* the reflective bridge methods the analysis gives meaning to */
const (
    _ClassDesc  = "Ljava/lang/Class;"
    _ObjectDesc = "Ljava/lang/Object;"
)

// evalInvoke models the runtime reflection entry points and reports
// whether the call is a member lookup worth recording as a site.
func (self *_ReflectFlow) evalInvoke(p *ir.Instruction, env *_RefEnv) (RefVal, bool) {
    m := p.Method()
    name := m.Name()
    owner := m.Class().Name()

    switch {
        case owner == _ClassDesc && p.SrcCount() >= 2 && (name == "getMethod" || name == "getDeclaredMethod"):
            return self.memberLookup(p, env, KindMethod), true

        case owner == _ClassDesc && p.SrcCount() >= 2 && (name == "getField" || name == "getDeclaredField"):
            return self.memberLookup(p, env, KindField), true

        case owner == _ClassDesc && p.SrcCount() == 1 && name == "forName":
            if s, ok := env.get(p.Src(0)).Object(); ok && s.Kind == KindString {
                if t := self.classByName(s.Str.Raw()); t != nil {
                    return RefOf(AbstractObject { Kind: KindClass, Type: t }), false
                }
            }
            return RefTop(), false

        case owner == _ObjectDesc && p.SrcCount() == 1 && name == "getClass":
            if o, ok := env.get(p.Src(0)).Object(); ok && o.Kind == KindObject && o.Type != nil {
                return RefOf(AbstractObject { Kind: KindClass, Type: o.Type }), false
            }
            return RefTop(), false

        default:
            return RefTop(), false
    }
}

/* getMethod and friends: receiver is the class, argument one the name */
func (self *_ReflectFlow) memberLookup(p *ir.Instruction, env *_RefEnv, kind ObjectKind) RefVal {
    recv, ok := env.get(p.Src(0)).Object()
    if !ok || recv.Kind != KindClass || recv.Type == nil {
        return RefTop()
    }
    arg, ok := env.get(p.Src(1)).Object()
    if !ok || arg.Kind != KindString {
        return RefTop()
    }
    return RefOf(AbstractObject { Kind: kind, Type: recv.Type, Str: arg.Str })
}

// classByName interns the descriptor of a binary class name. Array and
// primitive spellings stay unmodeled.
func (self *_ReflectFlow) classByName(name string) *ir.Type {
    if name == "" || strings.HasPrefix(name, "[") || strings.ContainsAny(name, "/;") {
        return nil
    }
    return self.ctx.MakeType("L" + strings.ReplaceAll(name, ".", "/") + ";")
}

/** Driver Adaptor **/

// ReflectionAnalysis tracks reflective values through the program:
// which java.lang.Class objects methods manipulate, and which member
// lookups they perform on them. Calling contexts propagate through
// statically bound invokes only; every virtual callsite keeps its
// context at top and gets counted.
type ReflectionAnalysis struct {
    ctx    *ir.Context
    graph  *CallGraph
    driver *Driver
    vtop   map[*ir.Instruction]bool
}

func NewReflectionAnalysis(ctx *ir.Context, g *CallGraph) *ReflectionAnalysis {
    return &ReflectionAnalysis {
        ctx    : ctx,
        graph  : g,
        driver : NewDriver(g, NewCallsiteContextMap()),
        vtop   : make(map[*ir.Instruction]bool),
    }
}

// Run iterates to the global fixpoint, capped at maxIter rounds.
func (self *ReflectionAnalysis) Run(maxIter int) {
    self.driver.MaxIterations(maxIter).Run(self)
}

// SummaryOf is m's reflective footprint after Run, nil for methods the
// call graph does not know.
func (self *ReflectionAnalysis) SummaryOf(m *ir.MethodRef) *ReflectionSummary {
    s, _ := self.driver.Facts().Summaries.Get(m).(*ReflectionSummary)
    return s
}

// Contexts exposes the callsite partitioned calling contexts.
func (self *ReflectionAnalysis) Contexts() *ContextMap {
    return self.driver.Facts().Contexts
}

// VirtualCallsTop counts the virtual callsites whose context stayed
// undistributed.
func (self *ReflectionAnalysis) VirtualCallsTop() int {
    return len(self.vtop)
}

func (self *ReflectionAnalysis) Unstable() bool {
    return self.driver.Unstable()
}

func (self *ReflectionAnalysis) Analyze(m *ir.MethodRef, facts *Facts) fixpoint.Domain {
    code := m.Code()
    if code == nil {
        sum := newReflectionSummary()
        sum.ret = RefTop()
        return sum
    }

    var cfg *ir.CFG
    if code.HasCFG() {
        cfg = code.CFG()
    } else {
        cfg = code.BuildCFG(false, false)
    }

    flow := &_ReflectFlow {
        ctx    : self.ctx,
        cfg    : cfg,
        mth    : m,
        facts  : facts,
        params : paramIndexes(cfg),
    }

    it := fixpoint.NewIterator(fixpoint.ForwardCFG(cfg), flow)
    it.Run(0)

    /* replay the settled states to harvest sites, returns and contexts */
    sum := newReflectionSummary()
    cfg.ForEachBlock(func(b *ir.BasicBlock) {
        env := it.PreOf(b.Id).(*_RefEnv)
        if env.bot {
            return
        }
        env = env.Clone()
        b.ForEachInsn(func(p *ir.Instruction) bool {
            self.record(p, env, flow, sum, facts)
            flow.apply(p, env)
            return true
        })
    })
    return sum
}

func (self *ReflectionAnalysis) record(p *ir.Instruction, env *_RefEnv, flow *_ReflectFlow, sum *ReflectionSummary, facts *Facts) {
    op := p.Op()
    switch {
        case op == ir.OpReturnObject:
            sum.ret = sum.ret.JoinWith(env.get(p.Src(0)))

        case op.Fam() == ir.FamReturn && op != ir.OpReturnVoid:
            sum.ret = sum.ret.JoinWith(RefTop())

        case op.Fam() == ir.FamInvoke:
            if v, site := flow.evalInvoke(p, env); site {
                sum.addSite(p, v)
            }
            self.distribute(p, env, facts)
    }
}

func (self *ReflectionAnalysis) distribute(p *ir.Instruction, env *_RefEnv, facts *Facts) {
    if _, virt := searchKindOf(p.Op()); virt {
        self.vtop[p] = true
        return
    }
    callee := self.graph.CalleeOf(p)
    if callee == nil {
        return
    }
    cc := NewCallContext()
    for i := 0; i < p.SrcCount(); i++ {
        cc.SetArg(i, env.get(p.Src(i)))
    }
    facts.UpdateContext(callee, p, cc)
}

/* load-param entries map to argument positions in prologue order */
func paramIndexes(cfg *ir.CFG) map[*ir.Instruction]int {
    idx := 0
    ret := make(map[*ir.Instruction]int)
    cfg.ForEachInsn(func(p *ir.Instruction) bool {
        if p.Op().IsLoadParam() {
            ret[p] = idx
            idx++
        }
        return true
    })
    return ret
}

/** Result Export **/

var _json = jsoniter.ConfigCompatibleWithStandardLibrary

type _SiteJSON struct {
    Kind  string `json:"kind"`
    Class string `json:"class,omitempty"`
    Name  string `json:"name,omitempty"`
}

// Export writes one line per method holding reflection sites: the
// method key followed by the JSON array of its sites in body order.
func (self *ReflectionAnalysis) Export(w io.Writer) error {
    var err error
    bw := bufio.NewWriter(w)

    for _, m := range self.driver.Facts().Summaries.Methods() {
        if err = self.exportMethod(bw, m); err != nil {
            return err
        }
    }
    return bw.Flush()
}

func (self *ReflectionAnalysis) exportMethod(bw *bufio.Writer, m *ir.MethodRef) error {
    sum := self.SummaryOf(m)
    if sum == nil || sum.NumSites() == 0 || m.Code() == nil {
        return nil
    }

    sites := make([]_SiteJSON, 0, sum.NumSites())
    m.Code().ForEachInsn(func(p *ir.Instruction) bool {
        if obj, ok := sum.SiteAt(p); ok {
            sites = append(sites, siteJSON(obj))
        }
        return true
    })

    buf, err := _json.Marshal(sites)
    if err != nil {
        return err
    }
    if _, err = bw.WriteString(m.Key()); err != nil {
        return err
    }
    if err = bw.WriteByte(' '); err != nil {
        return err
    }
    if _, err = bw.Write(buf); err != nil {
        return err
    }
    return bw.WriteByte('\n')
}

func siteJSON(obj AbstractObject) _SiteJSON {
    ret := _SiteJSON { Kind: obj.Kind.String() }
    if obj.Type != nil {
        ret.Class = obj.Type.Name()
    }
    if obj.Str != nil {
        ret.Name = obj.Str.Raw()
    }
    return ret
}
