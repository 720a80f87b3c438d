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

// This file implements the per-kind `compile` contracts.
// By the time any of these run, the generic compile pass has
// already resolved each event read to a concrete Site — compile functions
// here only have to drive the assembler with the resolved operands and
// advance bookkeeping that is specific to the event kind.

// MoveData backs the Move/MoveZ/MoveS event. The opcode
// (plain/zero-extend/sign-extend) is distinguished by Op, not by a separate
// event type.
type MoveData struct {
	Op           Op
	SrcSize      Size
	Src          *Value
	SrcRead      Read
	DstSize      Size
	Dst          *Value
	DstRead      Read
	DstDead      bool // true when this Move is really a store: dst has no further reads
}

func compileMove(ctx *Context, e *Event) {
	d := e.Data.(*MoveData)
	srcSite := e.siteForRead(d.SrcRead)
	dstSite := e.siteForRead(d.DstRead)
	if srcSite == dstSite {
		return // source already lives where the destination read wants it
	}
	if d.DstDead {
		ctx.Assembler.Apply(d.Op, []Size{d.SrcSize, d.DstSize}, nil, srcSite.AsOperand(), dstSite.AsOperand())
		dstSite.Release(ctx)
		return
	}
	if _, srcMem := srcSite.(*MemorySite); srcMem {
		if _, dstMem := dstSite.(*MemorySite); dstMem {
			// both memory: route through a temporary register
			tmp := ctx.AcquireTemporary(^uint32(0))
			ctx.Assembler.Apply(d.Op, []Size{d.SrcSize, d.DstSize}, nil, srcSite.AsOperand(), Operand{Kind: OperandRegister, Reg: tmp})
			ctx.Assembler.Apply(d.Op, []Size{d.SrcSize, d.DstSize}, nil, Operand{Kind: OperandRegister, Reg: tmp}, dstSite.AsOperand())
			ctx.ReleaseTemporary(tmp)
			return
		}
	}
	ctx.Assembler.Apply(d.Op, []Size{d.SrcSize, d.DstSize}, nil, srcSite.AsOperand(), dstSite.AsOperand())
}

// CombineData backs the Combine event: a ternary op
// folding first/second into result, either condensed (result overwrites
// second, x86-style) or expanded.
type CombineData struct {
	Op              Op
	Size            Size
	First, Second   *Value
	Result          *Value
	Condensed       bool
	ThunkArgs       []*Value // set when the architecture reports thunk=true
	ThunkStackFootprint int
}

func compileCombine(ctx *Context, e *Event) {
	d := e.Data.(*CombineData)
	if d.ThunkArgs != nil {
		compileThunkCall(ctx, e, d.Op, d.Size, d.ThunkArgs, d.Result, d.ThunkStackFootprint)
		return
	}
	firstSite := e.siteFor(d.First)
	secondSite := e.siteFor(d.Second)
	var resultSite Site
	if d.Condensed {
		// the pre-existing site of `second` is reused as the result site
		resultSite = secondSite
	} else {
		resultSite = e.siteFor(d.Result)
	}
	ctx.Assembler.Apply(d.Op, []Size{d.Size, d.Size, d.Size}, nil, firstSite.AsOperand(), secondSite.AsOperand(), resultSite.AsOperand())
	if d.Condensed {
		// The register/slot physically now holds Result's value, not
		// Second's. Rebind the resource table's owner along with the site
		// list membership instead of Acquiring from scratch, which would
		// read Second as the "prior owner" and try to evict it.
		rebindSite(ctx, resultSite, d.Second, d.Result)
	}
	// In the expanded-addressing case resultSite came from a Result read,
	// which materialiseSite (compile.go) already attached to d.Result.
}

// rebindSite transfers a site from one value to another in place: used when
// a condensed-addressing op overwrites its second operand's location with
// the result. Acquire's normal eviction path doesn't apply
// here — the resource isn't being stolen for an unrelated value, it is
// being relabelled to the value that now actually lives there.
func rebindSite(ctx *Context, site Site, from, to *Value) {
	from.RemoveSite(site)
	switch s := site.(type) {
	case *RegisterSite:
		ctx.Registers.entry(s.Low).owner = to
		if s.isPair() {
			ctx.Registers.entry(s.High).owner = to
		}
	case *MemorySite:
		if s.frameIndex >= 0 {
			ctx.Frame.entry(int(s.frameIndex)).owner = to
		}
	}
	to.AddSite(site)
}

// TranslateData backs the Translate event: a unary op,
// like Combine with one input.
type TranslateData struct {
	Op                  Op
	Size                Size
	Value               *Value
	Result              *Value
	ThunkStackFootprint int
	Thunk               bool
}

func compileTranslate(ctx *Context, e *Event) {
	d := e.Data.(*TranslateData)
	if d.Thunk {
		compileThunkCall(ctx, e, d.Op, d.Size, []*Value{d.Value}, d.Result, d.ThunkStackFootprint)
		return
	}
	srcSite := e.siteFor(d.Value)
	resultSite := e.siteFor(d.Result)
	ctx.Assembler.Apply(d.Op, []Size{d.Size, d.Size}, nil, srcSite.AsOperand(), resultSite.AsOperand())
	// resultSite came from a Result read; materialiseSite (compile.go)
	// already attached it to d.Result.
}

// compileThunkCall lowers an event to a Call to a host-provided helper when
// the architecture reports thunk=true, pushing operands onto
// the argument stack.
func compileThunkCall(ctx *Context, e *Event, op Op, size Size, args []*Value, result *Value, stackFootprint int) {
	thunk := ctx.Runtime.GetThunk(op, size)
	ctx.Stats.recordThunk()
	argSites := make([]Site, len(args))
	for i, a := range args {
		argSites[i] = e.siteFor(a)
	}
	emitCallSequence(ctx, e, &AddressSite{Promise: thunk}, argSites, result, stackFootprint)
}

// CompareData backs the Compare event. When both operands
// are constants the outcome is folded into ctx.compareOutcome instead of
// emitting code.
type CompareData struct {
	Op   Op // architecture-provided compare opcode (e.g. amd64 CMP)
	Size Size
	A, B *Value
}

func compileCompare(ctx *Context, e *Event) {
	d := e.Data.(*CompareData)
	aSite := e.siteFor(d.A)
	bSite := e.siteFor(d.B)
	aConst, aOK := aSite.(*ConstantSite)
	bConst, bOK := bSite.(*ConstantSite)
	if aOK && bOK {
		av, bv := aConst.value(), bConst.value()
		switch {
		case av < bv:
			ctx.compareOutcome = CompareLess
		case av > bv:
			ctx.compareOutcome = CompareGreater
		default:
			ctx.compareOutcome = CompareEqual
		}
		return
	}
	ctx.compareOutcome = CompareUnknown
	ctx.Assembler.Apply(d.Op, []Size{d.Size, d.Size}, nil, aSite.AsOperand(), bSite.AsOperand())
}

// BranchKind selects which comparison outcomes satisfy a conditional
// branch.
type BranchKind uint8

const (
	BranchAlways BranchKind = iota
	BranchIfLess
	BranchIfLessOrEqual
	BranchIfGreater
	BranchIfGreaterOrEqual
	BranchIfEqual
	BranchIfNotEqual
	// Unsigned variants, used by BoundsCheck: a negative index becomes a
	// huge unsigned value and is caught by the same compare-and-branch as
	// an index past the end.
	BranchIfBelow
	BranchIfBelowOrEqual
	BranchIfAbove
	BranchIfAboveOrEqual
)

func (k BranchKind) satisfiedBy(o CompareOutcome) (satisfied, determined bool) {
	if o == CompareUnknown {
		return false, false
	}
	switch k {
	case BranchIfLess:
		return o == CompareLess, true
	case BranchIfLessOrEqual:
		return o == CompareLess || o == CompareEqual, true
	case BranchIfGreater:
		return o == CompareGreater, true
	case BranchIfGreaterOrEqual:
		return o == CompareGreater || o == CompareEqual, true
	case BranchIfEqual:
		return o == CompareEqual, true
	case BranchIfNotEqual:
		return o != CompareEqual, true
	}
	return false, false
}

// BranchData backs the Branch event. Branches are the only events where
// IsBranch is true.
type BranchData struct {
	Kind   BranchKind
	Target *LogicalInstruction
}

func compileBranch(ctx *Context, e *Event) {
	d := e.Data.(*BranchData)
	if d.Kind == BranchAlways {
		ctx.Assembler.Apply(OpJump, nil, nil, Operand{Kind: OperandAddress, Promise: d.Target.Offset})
		return
	}
	if sat, determined := d.Kind.satisfiedBy(ctx.compareOutcome); determined {
		if sat {
			ctx.Assembler.Apply(OpJump, nil, nil, Operand{Kind: OperandAddress, Promise: d.Target.Offset})
		}
		// else: no-op, falls through
		return
	}
	ctx.Assembler.Apply(OpJcc, nil, nil, Operand{Kind: OperandAddress, Promise: d.Target.Offset, Imm: int64(d.Kind)})
}

// CallData backs the Call event. Each outgoing argument is
// fixed to an architecture argument register or a stack-memory frame index
// beyond the consumed footprint; every other live value gets a memory-only
// read at its canonical save slot so the register allocator evicts
// caller-saved values to the frame before the call.
type CallData struct {
	// Address is the target's site for a direct call (a Promise-backed
	// AddressSite). AddressRead is set instead for an indirect stackCall,
	// where the callee address lives in a *Value read like any other operand.
	Address     Site
	AddressRead Read
	Result      *Value
	Args        []*Value
	StackArgFootprint int
}

func compileCall(ctx *Context, e *Event) {
	d := e.Data.(*CallData)
	address := d.Address
	if d.AddressRead != nil {
		address = e.siteForRead(d.AddressRead)
	}
	argSites := make([]Site, len(d.Args))
	for i, a := range d.Args {
		argSites[i] = e.siteFor(a)
	}
	emitCallSequence(ctx, e, address, argSites, d.Result, d.StackArgFootprint)
}

// ReturnData backs the Return event: emits the native return instruction
// (OpRet) only; no frame teardown is emitted, and the compile pass never
// calls Assembler.AllocateFrame either. The return value itself (if any) is moved into
// place by a preceding Move event — Return carries no operands of its own.
type ReturnData struct{}

func compileReturn(ctx *Context, e *Event) {
	ctx.Assembler.Apply(OpRet, nil, nil)
}

func emitCallSequence(ctx *Context, e *Event, address Site, argSites []Site, result *Value, stackFootprint int) {
	operands := make([]Operand, 0, len(argSites)+1)
	operands = append(operands, address.AsOperand())
	for _, s := range argSites {
		operands = append(operands, s.AsOperand())
	}
	ctx.Assembler.Apply(OpCall, nil, nil, operands...)
	if ctx.TraceHandler != nil {
		ctx.TraceHandler.OnCallSite(ctx.Assembler.Offset())
	}
	if result != nil {
		retSite := &RegisterSite{Low: ctx.Architecture.ReturnLow(), High: ctx.Architecture.ReturnHigh()}
		retSite.Acquire(ctx, result)
		result.AddSite(retSite)
	}
}

// MemoryData backs the Memory event: materialises result
// with a Memory site derived from currently allocated registers, folding
// constant indices into the displacement.
type MemoryData struct {
	Base         *Value
	Displacement int32
	Index        *Value
	Scale        uint8
	Result       *Value
}

func compileMemory(ctx *Context, e *Event) {
	d := e.Data.(*MemoryData)
	baseSite, ok := e.siteFor(d.Base).(*RegisterSite)
	if !ok {
		abort(ErrAllocFailed, "Memory event base operand is not a register")
	}
	site := &MemorySite{Base: baseSite.Low, Displacement: d.Displacement, frameIndex: NoFrameIndex}
	if d.Index != nil {
		if c, isConst := e.siteFor(d.Index).(*ConstantSite); isConst {
			site.Displacement += int32(c.value()) * int32(d.Scale)
		} else if rs, isReg := e.siteFor(d.Index).(*RegisterSite); isReg {
			site.HasIndex = true
			site.Index = rs.Low
			site.Scale = d.Scale
		}
	}
	site.Acquire(ctx, d.Result)
	d.Result.AddSite(site)
}

// BoundsCheckData backs the BoundsCheck event: emits a compare-and-branch
// pair around a call to handler, using temporary memory sites freed after
// the check.
type BoundsCheckData struct {
	Object       *Value
	LengthOffset int32
	Index        *Value
	Handler      Promise
}

func compileBoundsCheck(ctx *Context, e *Event) {
	d := e.Data.(*BoundsCheckData)
	objSite, ok := e.siteFor(d.Object).(*RegisterSite)
	if !ok {
		abort(ErrAllocFailed, "BoundsCheck object operand is not a register")
	}
	lenSite := &MemorySite{Base: objSite.Low, Displacement: d.LengthOffset, frameIndex: NoFrameIndex}
	idxSite := e.siteFor(d.Index)
	ctx.Assembler.Apply(ctx.Architecture.CompareOp(), []Size{8, 8}, nil, idxSite.AsOperand(), lenSite.AsOperand())
	// unsigned compare: an index >= length (including a negative index,
	// which wraps to a huge unsigned value) is out of bounds.
	ctx.Assembler.Apply(OpJcc, nil, nil, Operand{Kind: OperandAddress, Promise: d.Handler, Imm: int64(BranchIfAboveOrEqual)})
}

// FrameSiteData backs the FrameSite event: parks a value at a known frame
// slot (incoming arguments, re-initialised locals).
type FrameSiteData struct {
	Value *Value
	Size  Size
	Index FrameIndex
}

func compileFrameSite(ctx *Context, e *Event) {
	d := e.Data.(*FrameSiteData)
	site := &MemorySite{Base: ctx.Architecture.Stack(), Displacement: int32(d.Index) * 8, frameIndex: d.Index}
	site.Acquire(ctx, d.Value)
	d.Value.AddSite(site)
}

// BuddyData backs the Buddy event: inserts New into Original's ring.
type BuddyData struct{ Original, New *Value }

func compileBuddy(ctx *Context, e *Event) {
	d := e.Data.(*BuddyData)
	AddBuddy(d.Original, d.New)
}

// DummyData backs the Dummy event: carries a state snapshot without
// emitting code, used at stack/locals discontinuities.
type DummyData struct{}

func compileDummy(ctx *Context, e *Event) {}
