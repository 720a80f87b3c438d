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
package codegen

// Test-only Architecture/Assembler/RuntimeClient fakes used across the
// package's test files, modelled on the literal 8-register target (1
// reserved for the stack pointer, argument registers {0,1,2}) used by the
// boundary scenarios this package's tests are grounded on.

const (
	testOpAdd Op = 1000 + iota
	testOpMul
	testOpCmp
)

type planFunc func(op Op, sizes []Size) ([]TypeMask, []RegisterMask, bool)

type testArch struct {
	regCount  int
	reserved  map[int]bool
	argRegs   []int
	retLow    int
	retHigh   int
	condensed bool
	cmpOp     Op
	plan      planFunc
}

func (a *testArch) RegisterCount() int  { return a.regCount }
func (a *testArch) Reserved(r int) bool { return a.reserved[r] }
func (a *testArch) Stack() int          { return a.regCount - 1 }
func (a *testArch) Thread() int         { return -1 }

func (a *testArch) ArgumentRegister(i int) int {
	if i < 0 || i >= len(a.argRegs) {
		return -1
	}
	return a.argRegs[i]
}

func (a *testArch) ArgumentRegisterCount() int       { return len(a.argRegs) }
func (a *testArch) ReturnLow() int                   { return a.retLow }
func (a *testArch) ReturnHigh() int                  { return a.retHigh }
func (a *testArch) FrameHeaderSize() int             { return 0 }
func (a *testArch) FrameFooterSize() int             { return 0 }
func (a *testArch) CondensedAddressing() bool        { return a.condensed }
func (a *testArch) CompareOp() Op                    { return a.cmpOp }
func (a *testArch) Plan(op Op, sizes []Size) ([]TypeMask, []RegisterMask, bool) {
	return a.plan(op, sizes)
}

// defaultTestArch is the 8-register, condensed-addressing target the
// boundary scenarios are phrased against: register 7 is the stack pointer,
// argument registers are {0,1,2}, a single-word return in register 0.
func defaultTestArch() *testArch {
	anyReg := NewRegisterMask(^uint32(0)&^(1<<7), 0) // every GPR but the stack pointer
	return &testArch{
		regCount: 8,
		reserved: map[int]bool{7: true},
		argRegs:  []int{0, 1, 2},
		retLow:   0,
		retHigh:  -1,
		condensed: true,
		cmpOp:     testOpCmp,
		plan: func(op Op, sizes []Size) ([]TypeMask, []RegisterMask, bool) {
			switch op {
			case testOpCmp:
				return []TypeMask{TypeAny, TypeAny}, []RegisterMask{anyReg, anyReg}, false
			default:
				// Add/Mul: condensed, so only two reads (first, second);
				// both register-only to keep the test architecture simple.
				return []TypeMask{TypeRegister, TypeRegister, TypeRegister},
					[]RegisterMask{anyReg, anyReg, anyReg}, false
			}
		},
	}
}

// appliedOp records one Assembler.Apply call for assertions.
type appliedOp struct {
	op       Op
	operands []Operand
}

// testAssembler is a minimal Assembler: it resolves every CodePromise
// immediately instead of deferring to a block-layout pass, since these
// tests only care about which operations were applied and in what order,
// not about final byte offsets.
type testAssembler struct {
	applied    []appliedOp
	buf        []byte
	framed     int
	client     AssemblerClient
}

func newTestAssembler() *testAssembler { return &testAssembler{} }

func (a *testAssembler) AllocateFrame(size int) { a.framed = size }

func (a *testAssembler) Apply(op Op, sizes []Size, operandTypes []TypeMask, operands ...Operand) {
	cp := make([]Operand, len(operands))
	copy(cp, operands)
	a.applied = append(a.applied, appliedOp{op: op, operands: cp})
	a.buf = append(a.buf, 0)
}

func (a *testAssembler) Offset() *CodePromise {
	p := &CodePromise{}
	p.resolve(int64(len(a.buf)))
	return p
}

func (a *testAssembler) EndBlock(hasNext bool) Block { return nil }

func (a *testAssembler) WriteTo(dst []byte) int {
	if dst == nil {
		return len(a.buf)
	}
	return copy(dst, a.buf)
}

func (a *testAssembler) SetClient(c AssemblerClient) { a.client = c }

// opsApplied returns the sequence of Op values applied, for concise
// assertions against the literal boundary scenarios.
func (a *testAssembler) opsApplied() []Op {
	out := make([]Op, len(a.applied))
	for i, ap := range a.applied {
		out[i] = ap.op
	}
	return out
}

type testRuntime struct {
	thunk Promise
}

func (r testRuntime) GetThunk(op Op, size Size) Promise {
	if r.thunk == nil {
		abort(ErrUnsupportedThunk, "test runtime has no thunk configured")
	}
	return r.thunk
}

// newTestContext wires a Context against defaultTestArch and a fresh
// testAssembler, sized for the literal boundary-scenario targets.
func newTestContext(paramFootprint, localFootprint, frameSize int) (*Context, *testAssembler) {
	return newTestContextWithArch(defaultTestArch(), paramFootprint, localFootprint, frameSize)
}

func newTestContextWithArch(arch *testArch, paramFootprint, localFootprint, frameSize int) (*Context, *testAssembler) {
	asm := newTestAssembler()
	ctx := Init(256, paramFootprint, localFootprint, frameSize, Config{
		Architecture: arch,
		Assembler:    asm,
		Runtime:      testRuntime{},
		Logger:       NopLogger{},
	})
	return ctx, asm
}

// singleRegisterArch models the "only one register available" boundary
// scenario: register 0 is the sole general-purpose register, register 1 is
// reserved as the stack pointer. Its first operand accepts a memory or
// constant site directly (the condensed "accumulator" slot, the second
// operand, still must land in the one register) — the same asymmetry a
// real two-operand ALU encoding has, where one side of the instruction may
// address memory but the destination may not.
func singleRegisterArch() *testArch {
	onlyReg := NewRegisterMask(1<<0, 0)
	return &testArch{
		regCount:  2,
		reserved:  map[int]bool{1: true},
		argRegs:   []int{0},
		retLow:    0,
		retHigh:   -1,
		condensed: true,
		cmpOp:     testOpCmp,
		plan: func(op Op, sizes []Size) ([]TypeMask, []RegisterMask, bool) {
			return []TypeMask{TypeRegister | TypeMemory | TypeConstant, TypeRegister, TypeRegister},
				[]RegisterMask{onlyReg, onlyReg, onlyReg}, false
		},
	}
}
