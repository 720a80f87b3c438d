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
package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/launix-de/jitbackend/codegen"
)

// Assembler is the concrete encoder for a fixed two-register-returning
// calling convention. It is driven by the core's general Apply/Offset/EndBlock contract,
// emitting straight into a single growing buffer — the target never
// reorders code, so a Block only has to report its own byte range and
// resolve the CodePromises that were minted inside it.
type Assembler struct {
	client codegen.AssemblerClient
	buf    []byte

	blockStart int
	pending    []pendingOffset
	blocks     []*Block
	fixups     []fixup
}

type pendingOffset struct {
	pos int
	p   *codegen.CodePromise
}

// fixup records a not-yet-patchable rel32 (Jcc/Jump) or absolute imm64
// (indirect Call) slot, to be filled in once target resolves.
type fixup struct {
	pos      int
	relative bool // rel32 vs raw little-endian imm64
	target   codegen.Promise
}

// New returns an Assembler with an empty code buffer, sized like the
// fixed-size JIT scratch buffer (a 16KiB codeBuf) to avoid
// reallocation during normal-sized compilations.
func New() *Assembler {
	return &Assembler{buf: make([]byte, 0, 16384)}
}

func (a *Assembler) SetClient(c codegen.AssemblerClient) { a.client = c }

// AllocateFrame emits the function prologue,
// generalising the classic prologue byte sequence (push rbp; mov
// rbp,rsp; sub rsp,size) to an arbitrary, 16-byte-aligned frame size.
func (a *Assembler) AllocateFrame(size int) {
	a.emit(0x55)                   // push rbp
	a.emitRegReg(0x89, RBP, RSP)    // mov rbp, rsp
	if size > 0 {
		aligned := (size + 15) &^ 15
		a.emitBytes(0x48, 0x81, 0xEC) // sub rsp, imm32
		a.emitU32(uint32(aligned))
	}
}

func (a *Assembler) emit(b byte) { a.buf = append(a.buf, b) }

func (a *Assembler) emitBytes(bs ...byte) { a.buf = append(a.buf, bs...) }

func (a *Assembler) emitU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

func (a *Assembler) emitU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	a.buf = append(a.buf, tmp[:]...)
}

func rex(w bool, r, x, b int) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r >= 8 {
		v |= 0x04
	}
	if x >= 8 {
		v |= 0x02
	}
	if b >= 8 {
		v |= 0x01
	}
	return v
}

// emitRegReg emits <opcode> r/m64, r64 for two GPRs, the usual
// register-to-register ALU/mov encoding shape.
func (a *Assembler) emitRegReg(opcode byte, dst, src int) {
	modrm := byte(0xC0) | byte(src&7)<<3 | byte(dst&7)
	a.emitBytes(rex(true, src, 0, dst), opcode, modrm)
}

// emitRegMem emits <opcode> reg, [base+disp32] or the reverse direction,
// generalising a typical emitRegMemOp to always use a disp32 so a
// promise-backed displacement (a frame slot whose final size isn't known at
// emission time) never needs re-encoding.
func (a *Assembler) emitRegMem(opcode byte, reg, base int, disp int32) {
	rexb := rex(true, reg, 0, base)
	modrm := 0x80 | byte(reg&7)<<3 | byte(base&7)
	if base&7 == 4 { // RSP/R12 need a SIB byte
		a.emitBytes(rexb, opcode, modrm, 0x24)
	} else {
		a.emitBytes(rexb, opcode, modrm)
	}
	a.emitU32(uint32(disp))
}

func (a *Assembler) emitRegImm64(dst int, imm uint64) {
	a.emitBytes(rex(true, 0, 0, dst), 0xB8|byte(dst&7))
	a.emitU64(imm)
}

// Offset mints a CodePromise for the current write position, resolved once the enclosing Block's Resolve runs.
func (a *Assembler) Offset() *codegen.CodePromise {
	// The core owns Promise allocation through its Arena, but the
	// Assembler is the one collaborator that knows the raw buffer
	// position to resolve it to; mint directly and let the core treat it
	// opaquely like any other Promise.
	p := &codegen.CodePromise{}
	a.pending = append(a.pending, pendingOffset{pos: len(a.buf), p: p})
	return p
}

// Apply drives one event-kind's worth of machine code. sizes
// and operandTypes are accepted for parity with the interface contract but
// every amd64 encoding below is a fixed 64-bit-operand form, matching the
// typical hand-written emit helpers (EmitAddInt64 et al.),
// which are likewise unparameterised by width.
func (a *Assembler) Apply(op codegen.Op, sizes []codegen.Size, operandTypes []codegen.TypeMask, operands ...codegen.Operand) {
	switch op {
	case codegen.OpMove, codegen.OpMoveZ, codegen.OpMoveS:
		a.applyMove(operands[0], operands[1])
	case codegen.OpSwap:
		a.emitRegReg(0x87, operands[0].Reg, operands[1].Reg)
	case codegen.OpLea:
		a.applyLea(operands[0], operands[1])
	case codegen.OpPush:
		a.applyPush(operands[0])
	case codegen.OpPop:
		a.emitBytes(0x58 | byte(operands[0].Reg&7))
	case codegen.OpRet:
		a.emit(0xC3)
	case codegen.OpJump:
		a.applyJump(operands[0], nil)
	case codegen.OpJcc:
		a.applyJcc(operands)
	case codegen.OpCall:
		a.applyCall(operands)
	case OpNeg:
		a.emitUnary(0xF7, 0x03, operands[0].Reg)
	case OpNot:
		a.emitUnary(0xF7, 0x02, operands[0].Reg)
	case OpShl:
		a.applyShift(0x04, operands)
	case OpShr:
		a.applyShift(0x05, operands)
	case OpSar:
		a.applyShift(0x07, operands)
	case OpCmp:
		a.applyAlu(0x39, 0x3B, operands[0], operands[1])
	case OpAdd:
		a.applyCondensedAlu(0x01, 0x03, operands)
	case OpSub:
		a.applyCondensedAlu(0x29, 0x2B, operands)
	case OpAnd:
		a.applyCondensedAlu(0x21, 0x23, operands)
	case OpOr:
		a.applyCondensedAlu(0x09, 0x0B, operands)
	case OpXor:
		a.applyCondensedAlu(0x31, 0x33, operands)
	case OpMul, OpIMulSigned:
		a.applyImul(operands)
	default:
		unsupported("op %d", int(op))
	}
}

// unsupported raises the same fatal CompileError the core panics on: this package has no recoverable path of its own, and
// withRecover at the Context boundary (compile.go) catches it identically to
// a core-raised abort.
func unsupported(format string, args ...interface{}) {
	panic(&codegen.CompileError{Kind: codegen.ErrUnsupportedThunk, Message: fmt.Sprintf(format, args...)})
}

// applyMove lowers the single-register, memory, immediate and address
// operand combinations listed in its switch; memory-to-memory moves and
// register-pair operands are reported as unsupported.
func (a *Assembler) applyMove(src, dst codegen.Operand) {
	switch {
	case dst.Kind == codegen.OperandRegister && src.Kind == codegen.OperandRegister:
		a.emitRegReg(0x89, dst.Reg, src.Reg)
	case dst.Kind == codegen.OperandRegister && src.Kind == codegen.OperandImmediate:
		a.emitRegImm64(dst.Reg, uint64(src.Imm))
	case dst.Kind == codegen.OperandRegister && src.Kind == codegen.OperandMemory:
		a.emitRegMem(0x8B, dst.Reg, src.Reg, src.Displacement)
	case dst.Kind == codegen.OperandMemory && src.Kind == codegen.OperandRegister:
		a.emitRegMem(0x89, src.Reg, dst.Reg, dst.Displacement)
	case dst.Kind == codegen.OperandMemory && src.Kind == codegen.OperandImmediate:
		// MOV [mem], imm32 (sign-extended): REX.W C7 /0 disp32 imm32
		a.emitBytes(rex(true, 0, 0, dst.Reg), 0xC7, 0x80|byte(dst.Reg&7))
		a.emitU32(uint32(dst.Displacement))
		a.emitU32(uint32(int32(src.Imm)))
	case dst.Kind == codegen.OperandRegister && src.Kind == codegen.OperandAddress:
		a.emitRegImm64(dst.Reg, 0)
		a.fixups = append(a.fixups, fixup{pos: len(a.buf) - 8, relative: false, target: src.Promise})
	default:
		unsupported("amd64: unsupported move operand combination")
	}
}

func (a *Assembler) applyLea(dst, src codegen.Operand) {
	a.emitRegMem(0x8D, dst.Reg, src.Reg, src.Displacement)
}

func (a *Assembler) applyPush(op codegen.Operand) {
	if op.Kind == codegen.OperandRegister {
		if op.Reg >= 8 {
			a.emitBytes(0x41)
		}
		a.emitBytes(0x50 | byte(op.Reg&7))
		return
	}
	unsupported("amd64: push supports register operands only")
}

// applyJump/applyJcc reserve a rel32 fixup against the branch target's
// Promise (the LogicalInstruction's Offset, an IpPromise),
// patched in WriteTo once every instruction's offset is known.
func (a *Assembler) applyJump(target codegen.Operand, cc *byte) {
	if cc != nil {
		a.emitBytes(0x0F, 0x80|*cc)
	} else {
		a.emit(0xE9)
	}
	a.fixups = append(a.fixups, fixup{pos: len(a.buf), relative: true, target: target.Promise})
	a.emitU32(0)
}

// branchKind mirrors codegen.BranchKind's ordering (Branch/BoundsCheck
// stash it in the target Operand's Imm field alongside the Promise, since
// the condition is otherwise architecture-specific information the core
// has no byte encoding for).
const (
	bkLess = 1 + iota
	bkLessOrEqual
	bkGreater
	bkGreaterOrEqual
	bkEqual
	bkNotEqual
	bkBelow
	bkBelowOrEqual
	bkAbove
	bkAboveOrEqual
)

func conditionCode(kind int64) byte {
	switch kind {
	case bkLess:
		return CcL
	case bkLessOrEqual:
		return CcLE
	case bkGreater:
		return CcG
	case bkGreaterOrEqual:
		return CcGE
	case bkEqual:
		return CcE
	case bkNotEqual:
		return CcNE
	case bkBelow:
		return CcB
	case bkBelowOrEqual:
		return CcBE
	case bkAbove:
		return CcA
	case bkAboveOrEqual:
		return CcAE
	}
	unsupported("unknown branch condition %d", kind)
	return 0
}

func (a *Assembler) applyJcc(operands []codegen.Operand) {
	cc := conditionCode(operands[0].Imm)
	a.applyJump(operands[0], &cc)
}

// applyCall loads the callee address and issues an indirect CALL through a
// scratch register, rather than assuming rel32 reachability: the target may
// be a host runtime thunk or another JIT-compiled function living anywhere
// in the address space, not necessarily within this compilation's own code
// buffer.
func (a *Assembler) applyCall(operands []codegen.Operand) {
	target := operands[0]
	switch target.Kind {
	case codegen.OperandRegister:
		// CALL r64: FF /2
		a.emitBytes(rex(true, 0, 0, target.Reg), 0xFF, 0xD0|byte(target.Reg&7))
	case codegen.OperandMemory:
		// CALL [mem]: FF /2 through a memory operand directly, no scratch
		// register needed.
		a.emitCallMem(target.Reg, target.Displacement)
	case codegen.OperandAddress:
		scratch := R11
		a.emitRegImm64(scratch, 0)
		a.fixups = append(a.fixups, fixup{pos: len(a.buf) - 8, relative: false, target: target.Promise})
		a.emitBytes(rex(true, 0, 0, scratch), 0xFF, 0xD0|byte(scratch&7))
	case codegen.OperandImmediate:
		scratch := R11
		a.emitRegImm64(scratch, uint64(target.Imm))
		a.emitBytes(rex(true, 0, 0, scratch), 0xFF, 0xD0|byte(scratch&7))
	default:
		unsupported("amd64: unsupported call target")
	}
}

// emitCallMem emits CALL [base+disp32] (FF /2, memory form).
func (a *Assembler) emitCallMem(base int, disp int32) {
	rexb := rex(false, 0, 0, base)
	modrm := byte(0x90) | byte(base&7) // mod=10, reg=/2, rm=base
	if base&7 == 4 {
		a.emitBytes(rexb, 0xFF, modrm, 0x24)
	} else {
		a.emitBytes(rexb, 0xFF, modrm)
	}
	a.emitU32(uint32(disp))
}

func (a *Assembler) applyAlu(opRR, opRM byte, a0, b codegen.Operand) {
	switch {
	case a0.Kind == codegen.OperandMemory:
		a.emitRegMem(opRM, b.Reg, a0.Reg, a0.Displacement)
	default:
		a.emitRegReg(opRR, a0.Reg, b.Reg)
	}
}

// applyCondensedAlu lowers a CondensedAddressing Combine:
// operands are (first, second, result); when Condensed is true the core's
// compileCombine passes second's own site as the result, so only the first
// two are read here.
func (a *Assembler) applyCondensedAlu(opRR, opRM byte, operands []codegen.Operand) {
	first, second := operands[0], operands[1]
	if first.Kind == codegen.OperandMemory {
		a.emitRegMem(opRM, second.Reg, first.Reg, first.Displacement)
		return
	}
	// x86's destination-first convention for this opcode family computes
	// second OP= first into second's own location, which is why the
	// front-end's Combine only reports Condensed for operations where that
	// order matches its first/second contract (Add/And/Or/Xor/Mul; Sub's
	// Combine call passes first/second pre-arranged the same way).
	a.emitRegReg(opRR, second.Reg, first.Reg)
}

func (a *Assembler) applyImul(operands []codegen.Operand) {
	first, second := operands[0], operands[1]
	// IMUL r64, r/m64: 0F AF /r (result in the register operand)
	if first.Kind == codegen.OperandMemory {
		a.emitBytes(rex(true, second.Reg, 0, first.Reg))
		a.emitBytes(0x0F, 0xAF)
		modrm := 0x80 | byte(second.Reg&7)<<3 | byte(first.Reg&7)
		a.emit(modrm)
		a.emitU32(uint32(first.Displacement))
		return
	}
	a.emitBytes(rex(true, second.Reg, 0, first.Reg), 0x0F, 0xAF, 0xC0|byte(second.Reg&7)<<3|byte(first.Reg&7))
}

func (a *Assembler) emitUnary(opcode byte, modField byte, reg int) {
	a.emitBytes(rex(true, 0, 0, reg), opcode, 0xC0|modField<<3|byte(reg&7))
}

// applyShift handles shl/shr/sar by an immediate or by CL, per Plan's
// TypeConstant|TypeRegister mask on the count operand.
func (a *Assembler) applyShift(modField byte, operands []codegen.Operand) {
	value, count := operands[0], operands[1]
	if count.Kind == codegen.OperandImmediate {
		a.emitBytes(rex(true, 0, 0, value.Reg), 0xC1, 0xC0|modField<<3|byte(value.Reg&7), byte(count.Imm))
		return
	}
	// shift by CL: D3 /modField
	a.emitBytes(rex(true, 0, 0, value.Reg), 0xD3, 0xC0|modField<<3|byte(value.Reg&7))
}

// EndBlock closes the current code region. Since this
// assembler never reorders or relocates bytes — it only ever appends — a
// Block's Resolve is a pure bookkeeping step that mirrors its own start back
// into whatever CodePromises were minted while it was open.
func (a *Assembler) EndBlock(hasNext bool) codegen.Block {
	start := a.blockStart
	end := len(a.buf)
	a.blockStart = end
	if start == end && len(a.pending) == 0 {
		return nil
	}
	b := &Block{start: start, end: end, pending: a.pending}
	a.pending = nil
	a.blocks = append(a.blocks, b)
	return b
}

// Block is amd64's codegen.Block: a fixed byte range within Assembler.buf
// plus the CodePromises minted inside it.
type Block struct {
	start, end int
	pending    []pendingOffset
}

func (b *Block) Resolve(selfStart int64, next codegen.Block) int64 {
	for _, po := range b.pending {
		codegen.Resolve(po.p, selfStart+int64(po.pos-b.start))
	}
	return selfStart + int64(b.end-b.start)
}

// WriteTo patches every recorded fixup against its now-resolved target and
// serialises the finished byte stream. Called first with
// dst == nil purely to report the size, matching the io.WriterTo-style
// two-call idiom the interface requires.
func (a *Assembler) WriteTo(dst []byte) int {
	if dst == nil {
		return len(a.buf)
	}
	for _, f := range a.fixups {
		v := f.target.Value()
		if f.relative {
			rel := int32(v - int64(f.pos+4))
			binary.LittleEndian.PutUint32(a.buf[f.pos:], uint32(rel))
		} else {
			binary.LittleEndian.PutUint64(a.buf[f.pos:], uint64(v))
		}
	}
	return copy(dst, a.buf)
}
