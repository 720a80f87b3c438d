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

// Assembler is the lower-level encoder collaborator, out of scope for
// this module's own correctness but required as an interface so the
// compile pass can drive it. arch/amd64 provides one concrete
// implementation.
type Assembler interface {
	AllocateFrame(size int)
	Apply(op Op, sizes []Size, operandTypes []TypeMask, operands ...Operand)
	Offset() *CodePromise
	// EndBlock closes the block of code emitted since the last EndBlock (or
	// since the start of compilation) and returns it for the compile pass's
	// final layout walk. hasNext reports whether another block will
	// follow; the last call in a compilation passes false. May return nil if
	// the implementation has nothing to chain (e.g. the block was empty).
	EndBlock(hasNext bool) Block
	// WriteTo serialises the finished, fully-resolved byte stream into dst
	// and returns the number of bytes written. Called with dst == nil first
	// to size the caller's buffer, matching io.WriterTo-style two-call
	// sizing idioms: that call must return the total size without writing
	// anything.
	WriteTo(dst []byte) int
	SetClient(c AssemblerClient)
}

// Block is one contiguous run of emitted code whose final start offset is
// not known until the blocks before it have been laid out.
type Block interface {
	// Resolve computes this block's final start offset given the
	// previous block's resolved start, and (if there is a next block)
	// hands it the offset to chain from.
	Resolve(selfStart int64, next Block) int64
}

// Architecture describes one concrete ISA's register set, calling
// convention, and operation-to-operand-constraint planning.
type Architecture interface {
	RegisterCount() int
	Reserved(reg int) bool
	Stack() int
	Thread() int // -1 if unsupported on this target
	ArgumentRegister(i int) int
	ArgumentRegisterCount() int
	ReturnLow() int
	ReturnHigh() int // -1 if the architecture's return value is single-width
	FrameHeaderSize() int
	FrameFooterSize() int
	CondensedAddressing() bool
	// CompareOp is the architecture's native comparison opcode, used by both
	// the Compare event and BoundsCheck's implicit comparison.
	CompareOp() Op
	// Plan populates typeMasks/regMasks (one pair per operand, result
	// last) for op at the given operand sizes, and reports thunk=true when
	// the operation has no direct encoding on this architecture.
	Plan(op Op, sizes []Size) (typeMasks []TypeMask, regMasks []RegisterMask, thunk bool)
}

// RuntimeClient is the host-runtime collaborator
// that supplies thunk addresses for operations the architecture cannot
// express natively.
type RuntimeClient interface {
	GetThunk(op Op, size Size) Promise
}

// TraceHandler receives a code promise after each Call to persist safepoint
// metadata.
type TraceHandler interface {
	OnCallSite(p *CodePromise)
}

// AssemblerClient is produced by this layer so the
// Assembler implementation may spill/reload registers for its own scratch
// needs without touching the allocator's bookkeeping directly.
type AssemblerClient interface {
	AcquireTemporary(mask uint32) int
	ReleaseTemporary(reg int)
	Save(reg int)
	Restore(reg int)
}

// Op values used by the core engine itself (moves, swaps, comparisons,
// branches, calls); architecture-specific arithmetic/logic Op values are
// defined by the Architecture implementation and never switched on by the
// core.
const (
	OpMove Op = 1 + iota
	OpMoveZ
	OpMoveS
	OpSwap
	OpJump
	OpJcc
	OpCall
	OpRet
	OpLea
	OpPush
	OpPop
	opCoreMax
)
