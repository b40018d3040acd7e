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

package ir

// Code is a method body. It holds exactly one of a linear instruction list
// or a control flow graph; conversion between the two is explicit through
// BuildCFG and ClearCFG, and iterators into the abandoned form become
// invalid at the point of conversion.
type Code struct {
    regs uint32
    list *InstructionList
    cfg  *CFG
}

// NewCode creates an empty body with the given register frame size.
func NewCode(regs uint32) *Code {
    return &Code {
        regs: regs,
        list: new(InstructionList),
    }
}

// NewCodeForMethod creates a body with tempRegs scratch registers followed
// by the parameter registers, and the matching load-param instructions
// already placed at the head.
func NewCodeForMethod(m *MethodRef, tempRegs uint32) *Code {
    reg := Reg(tempRegs)
    code := NewCode(tempRegs)

    /* receiver for instance methods */
    if def := m.Def(); def == nil || !def.Access.Has(AccStatic) {
        code.list.PushBack(NewInsnEntry(NewInsn(OpLoadParamObject).SetDest(reg)))
        code.regs++
        reg++
    }

    /* declared parameters, wide ones take two slots */
    for _, t := range m.Proto().Args().Types() {
        switch {
            case t.IsWide():
                code.list.PushBack(NewInsnEntry(NewInsn(OpLoadParamWide).SetDest(reg)))
                code.regs += 2
                reg += 2
            case t.IsReference():
                code.list.PushBack(NewInsnEntry(NewInsn(OpLoadParamObject).SetDest(reg)))
                code.regs++
                reg++
            default:
                code.list.PushBack(NewInsnEntry(NewInsn(OpLoadParam).SetDest(reg)))
                code.regs++
                reg++
        }
    }
    return code
}

// Regs is the register frame size, counting CFG-allocated temporaries.
func (self *Code) Regs() uint32 {
    return self.regs
}

func (self *Code) SetRegs(n uint32) {
    self.regs = n
}

// AllocTemp reserves a fresh register id at the top of the frame.
func (self *Code) AllocTemp() Reg {
    r := Reg(self.regs)
    self.regs++
    return r
}

// AllocTempWide reserves a fresh adjacent register pair.
func (self *Code) AllocTempWide() Reg {
    r := Reg(self.regs)
    self.regs += 2
    return r
}

// HasCFG reports whether the body is currently in graph form.
func (self *Code) HasCFG() bool {
    return self.cfg != nil
}

// List returns the linear form. It panics when the body is in graph form.
func (self *Code) List() *InstructionList {
    if self.cfg != nil {
        panic("ir: code is in cfg form")
    }
    return self.list
}

// CFG returns the graph form. It panics when the body is in linear form.
func (self *Code) CFG() *CFG {
    if self.cfg == nil {
        panic("ir: code is in linear form")
    }
    return self.cfg
}

// BuildCFG partitions the body into basic blocks. With editable set the
// blocks take ownership of the entries and the graph accepts mutation;
// otherwise blocks only delimit ranges of the intact linear list. Building
// over an existing graph requires fresh, which discards the old graph
// after serializing it back.
func (self *Code) BuildCFG(editable bool, fresh bool) *CFG {
    if self.cfg != nil {
        if !fresh {
            panic("ir: cfg already built")
        }
        self.ClearCFG()
    }
    self.cfg = buildCFG(self, editable)
    if editable {
        self.list = nil
    }
    return self.cfg
}

// ClearCFG serializes the graph form back into a linear list. Positions,
// try markers and branch targets are re-materialized; straight-line gotos
// that fall through are elided.
func (self *Code) ClearCFG() {
    if self.cfg == nil {
        return
    }
    if self.cfg.editable {
        self.list = linearize(self.cfg)
    }
    self.cfg = nil
}

// ForEachInsn visits every instruction in either form. Graph-form visits
// follow block id order, not execution order.
func (self *Code) ForEachInsn(fn func(*Instruction) bool) {
    if self.cfg != nil {
        self.cfg.ForEachInsn(fn)
    } else {
        self.list.ForEachInsn(fn)
    }
}

// InsnCount counts instruction entries in either form.
func (self *Code) InsnCount() int {
    n := 0
    self.ForEachInsn(func(*Instruction) bool { n++; return true })
    return n
}
