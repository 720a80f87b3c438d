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
	"strings"
	"testing"

	"github.com/launix-de/jitbackend/codegen"
)

func TestNewArchitectureReservesStackAndFramePointer(t *testing.T) {
	arch := NewArchitecture()
	if !arch.Reserved(RSP) {
		t.Fatal("RSP must always be reserved")
	}
	if !arch.Reserved(RBP) {
		t.Fatal("RBP must be reserved by default (frame pointer kept)")
	}
	if arch.Thread() != -1 {
		t.Fatalf("Thread() = %d, want -1 when no thread register is configured", arch.Thread())
	}
}

func TestOmitFramePointerFreesRBP(t *testing.T) {
	arch := &Architecture{OmitFramePointer: true, ThreadRegister: -1}
	if arch.Reserved(RBP) {
		t.Fatal("RBP must not be reserved when OmitFramePointer is set")
	}
}

func TestThreadRegisterIsReserved(t *testing.T) {
	arch := &Architecture{ThreadRegister: R14}
	if !arch.Reserved(R14) {
		t.Fatal("the configured thread register must be reserved")
	}
	if arch.Reserved(R13) {
		t.Fatal("an unrelated register must not be reserved just because a thread register is configured")
	}
}

func TestArgumentRegisterFollowsSysVOrder(t *testing.T) {
	arch := NewArchitecture()
	want := []int{RDI, RSI, RDX, RCX, R8, R9}
	for i, w := range want {
		if got := arch.ArgumentRegister(i); got != w {
			t.Errorf("ArgumentRegister(%d) = %d, want %d", i, got, w)
		}
	}
	if got := arch.ArgumentRegister(6); got != -1 {
		t.Fatalf("ArgumentRegister(6) = %d, want -1 past the SysV integer argument count", got)
	}
	if arch.ArgumentRegisterCount() != 6 {
		t.Fatalf("ArgumentRegisterCount() = %d, want 6", arch.ArgumentRegisterCount())
	}
}

func TestReturnRegistersAreRaxRbx(t *testing.T) {
	arch := NewArchitecture()
	if arch.ReturnLow() != RAX {
		t.Fatalf("ReturnLow() = %d, want RAX", arch.ReturnLow())
	}
	if arch.ReturnHigh() != RBX {
		t.Fatalf("ReturnHigh() = %d, want RBX", arch.ReturnHigh())
	}
}

func TestPlanThunkOverrideSkipsEncodingTable(t *testing.T) {
	arch := NewArchitecture()
	arch.ThunkOverride = map[codegen.Op]bool{OpMul: true}

	types, regs, thunk := arch.Plan(OpMul, []codegen.Size{8})
	if !thunk {
		t.Fatal("an op present in ThunkOverride must report thunk=true")
	}
	if types != nil || regs != nil {
		t.Fatalf("a thunked op's type/register masks are unused by the front-end, want nil, got %v %v", types, regs)
	}
}

func TestPlanDefaultAluAcceptsMemoryOnFirstOperandOnly(t *testing.T) {
	arch := NewArchitecture()
	types, _, thunk := arch.Plan(OpAdd, []codegen.Size{8})
	if thunk {
		t.Fatal("OpAdd has a direct encoding and must not report thunk=true")
	}
	if types[0]&codegen.TypeMemory == 0 {
		t.Fatal("the first Add operand must accept a memory site")
	}
	if types[1]&codegen.TypeMemory != 0 {
		t.Fatal("the condensed second/result operand must be register-only")
	}
}

func TestPlanShiftCountAcceptsOnlyClOrImmediate(t *testing.T) {
	arch := NewArchitecture()
	types, regs, _ := arch.Plan(OpShl, []codegen.Size{8})
	if types[1]&(codegen.TypeConstant|codegen.TypeRegister) != codegen.TypeConstant|codegen.TypeRegister {
		t.Fatalf("shift count type mask = %v, want Constant|Register", types[1])
	}
	if regs[1].Low() != 1<<uint(RCX) {
		t.Fatalf("shift count register mask = %#x, want CL alone (bit %d)", regs[1].Low(), RCX)
	}
}

func TestPlanCompareAcceptsAnySecondOperand(t *testing.T) {
	arch := NewArchitecture()
	types, _, thunk := arch.Plan(OpCmp, []codegen.Size{8})
	if thunk {
		t.Fatal("OpCmp has a direct encoding")
	}
	if types[1] != codegen.TypeAny {
		t.Fatalf("compare's second operand mask = %v, want TypeAny", types[1])
	}
}

func TestOpByNameResolvesKnownMnemonics(t *testing.T) {
	cases := map[string]codegen.Op{
		"add":  OpAdd,
		"imul": OpIMulSigned,
		"cmp":  OpCmp,
	}
	for name, want := range cases {
		got, ok := OpByName(name)
		if !ok || got != want {
			t.Errorf("OpByName(%q) = (%v, %v), want (%v, true)", name, got, ok, want)
		}
	}
	if _, ok := OpByName(strings.ToUpper("add")); ok {
		t.Fatal("OpByName must be case-sensitive; mnemonics are lowercase only")
	}
	if _, ok := OpByName("nonsense"); ok {
		t.Fatal("an unknown mnemonic must report ok=false")
	}
}

func TestCondensedAddressingAndCompareOp(t *testing.T) {
	arch := NewArchitecture()
	if !arch.CondensedAddressing() {
		t.Fatal("amd64 is a condensed-addressing target")
	}
	if arch.CompareOp() != OpCmp {
		t.Fatalf("CompareOp() = %v, want OpCmp", arch.CompareOp())
	}
}

func TestFrameHeaderAccountsForPushedRbpAndReturnAddress(t *testing.T) {
	arch := NewArchitecture()
	if arch.FrameHeaderSize() != 16 {
		t.Fatalf("FrameHeaderSize() = %d, want 16 (8 bytes return address + 8 bytes pushed rbp)", arch.FrameHeaderSize())
	}
}
