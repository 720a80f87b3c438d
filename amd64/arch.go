/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package amd64 is the concrete Architecture and Assembler pair for the
// x86-64 SysV target. It follows a classic single-pass JIT writer's shape:
// the same register numbering, the same label/fixup bookkeeping, and the
// same REX/ModRM encoding style, generalised from a fixed two-register
// return-value calling convention to the codegen package's general-purpose
// Operand model.
package amd64

import "github.com/launix-de/jitbackend/codegen"

// Reg numbers mirror the Go internal register-ABI constants exactly, so
// the encoding tables below read the same way: RAX=0 .. R15=15, then the
// XMM file starting at 16.
const (
	RAX = 0
	RCX = 1
	RDX = 2
	RBX = 3
	RSP = 4
	RBP = 5
	RSI = 6
	RDI = 7
	R8  = 8
	R9  = 9
	R10 = 10
	R11 = 11
	R12 = 12
	R13 = 13
	R14 = 14
	R15 = 15

	X0 = 16
	X1 = 17
	X2 = 18
	X3 = 19
	X4 = 20
	X5 = 21
)

// Condition codes for Jcc/Setcc, the usual x86 Cc* encoding.
const (
	CcE  byte = 0x04
	CcNE byte = 0x05
	CcB  byte = 0x02
	CcAE byte = 0x03
	CcBE byte = 0x06
	CcA  byte = 0x07
	CcL  byte = 0x0C
	CcGE byte = 0x0D
	CcLE byte = 0x0E
	CcG  byte = 0x0F
)

// Architecture-specific Op values. Numbering starts well past the core package's own OpMove..
// OpPop range (codegen/assembler.go) to avoid collision; the core never
// compares these to its own constants, only passes them through.
const (
	OpAdd Op = 100 + iota
	OpSub
	OpAnd
	OpOr
	OpXor
	OpMul
	OpIMulSigned
	OpNeg
	OpNot
	OpShl
	OpShr
	OpSar
	OpCmp
)

// Op is a local alias so the constants above read naturally; amd64.Op and
// codegen.Op are the same underlying type.
type Op = codegen.Op

// Architecture implements codegen.Architecture for x86-64 SysV.
type Architecture struct {
	// OmitFramePointer matches Config.OmitFramePointer (codegen/context.go):
	// when true, RBP is available to the allocator like any other GPR.
	OmitFramePointer bool
	// ThreadRegister designates a GPR reserved for a thread-local base
	// pointer, or -1 if the embedding runtime doesn't use one.
	ThreadRegister int
	// ThunkOverride marks additional ops as thunk=true regardless of the
	// hand-written table below, populated from the architecture-descriptor
	// JSON file cmd/jitasm hot-reloads — e.g. a target whose
	// host runtime wants even plain integer division routed through a trap
	// handler rather than the native IDIV encoding.
	ThunkOverride map[codegen.Op]bool
}

// NewArchitecture returns the standard SysV AMD64 architecture descriptor:
// RBP reserved as a frame pointer, no thread register.
func NewArchitecture() *Architecture {
	return &Architecture{ThreadRegister: -1}
}

func (a *Architecture) RegisterCount() int { return 16 }

func (a *Architecture) Reserved(reg int) bool {
	switch reg {
	case RSP:
		return true
	case RBP:
		return !a.OmitFramePointer
	}
	return reg == a.ThreadRegister
}

func (a *Architecture) Stack() int  { return RSP }
func (a *Architecture) Thread() int { return a.ThreadRegister }

// ArgumentRegister follows the SysV integer argument order: RDI, RSI, RDX,
// RCX, R8, R9.
func (a *Architecture) ArgumentRegister(i int) int {
	regs := [...]int{RDI, RSI, RDX, RCX, R8, R9}
	if i < 0 || i >= len(regs) {
		return -1
	}
	return regs[i]
}

func (a *Architecture) ArgumentRegisterCount() int { return 6 }

// ReturnLow/ReturnHigh give a RAX/RBX two-register return pair. ReturnHigh
// is never -1 on this target, so codegen gives every call result the
// RAX/RBX pair and lets Return's destination read use either RAX alone or
// the pair.
func (a *Architecture) ReturnLow() int  { return RAX }
func (a *Architecture) ReturnHigh() int { return RBX }

func (a *Architecture) FrameHeaderSize() int { return 16 } // pushed RBP + return address
func (a *Architecture) FrameFooterSize() int { return 0 }

func (a *Architecture) CondensedAddressing() bool { return true }

func (a *Architecture) CompareOp() codegen.Op { return OpCmp }

// Plan reports the operand constraints for each amd64 ALU op.
// Every arithmetic/logic op here has a direct x86 encoding (thunk=false):
// the first operand may be register or memory, the second (and, condensed,
// the result) must be a register. The ALU, imul and cmp emit helpers
// encode a memory first operand directly; every other operand reaches
// them already in a register.
func (a *Architecture) Plan(op codegen.Op, sizes []codegen.Size) ([]codegen.TypeMask, []codegen.RegisterMask, bool) {
	if a.ThunkOverride[op] {
		// typeMasks/regMasks are never consulted by the front-end when
		// thunk is true (codegen/frontend.go's Combine/Translate), so
		// nothing needs deriving here.
		return nil, nil, true
	}
	anyReg := codegen.NewRegisterMask(^uint32(0), 0)
	switch op {
	case OpNeg, OpNot:
		return []codegen.TypeMask{codegen.TypeRegister, codegen.TypeRegister},
			[]codegen.RegisterMask{anyReg, anyReg}, false
	case OpShl, OpShr, OpSar:
		// shift count must be CL or an immediate (encoded as TypeConstant);
		// the value being shifted is register-only.
		clMask := codegen.NewRegisterMask(1<<uint(RCX), 0)
		return []codegen.TypeMask{codegen.TypeRegister, codegen.TypeConstant | codegen.TypeRegister, codegen.TypeRegister},
			[]codegen.RegisterMask{anyReg, clMask, anyReg}, false
	case OpCmp:
		return []codegen.TypeMask{codegen.TypeRegister | codegen.TypeMemory, codegen.TypeAny},
			[]codegen.RegisterMask{anyReg, anyReg}, false
	default:
		// Add/Sub/And/Or/Xor/Mul/IMulSigned: first operand register or
		// memory, second operand and the condensed result register-only.
		return []codegen.TypeMask{codegen.TypeRegister | codegen.TypeMemory, codegen.TypeRegister, codegen.TypeRegister},
			[]codegen.RegisterMask{anyReg, anyReg, anyReg}, false
	}
}

// opNames lets the op-script front-ends (cmd/jitasm, cmd/jitrepl) and the
// architecture-descriptor JSON file name an Op textually instead of
// spelling out the numeric constant.
var opNames = map[string]codegen.Op{
	"add":  OpAdd,
	"sub":  OpSub,
	"and":  OpAnd,
	"or":   OpOr,
	"xor":  OpXor,
	"mul":  OpMul,
	"imul": OpIMulSigned,
	"neg":  OpNeg,
	"not":  OpNot,
	"shl":  OpShl,
	"shr":  OpShr,
	"sar":  OpSar,
	"cmp":  OpCmp,
}

// OpByName resolves one of the names above to its Op constant.
func OpByName(name string) (codegen.Op, bool) {
	op, ok := opNames[name]
	return op, ok
}
