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

// This file is the front-end surface a caller drives to build the
// event graph: constants/addresses, the operand stack, locals, arithmetic,
// comparisons and branches, calls, memory addressing, bounds checks, and
// the fork/junction pair that lets the same front-end walk be replayed
// across branches of the caller's own control flow. Nothing here emits
// machine code directly — every method only appends events and reads; the
// compile pass (compile.go) is what turns them into bytes.

func wordsOf(size Size) int {
	w := int(size) / 8
	if w < 1 {
		w = 1
	}
	return w
}

func fullRegisterMask() RegisterMask { return NewRegisterMask(^uint32(0), ^uint32(0)) }

// newEvent allocates an event under the current logical instruction, wires
// it to the current predecessor, and resolves any forward branches that were
// waiting on this instruction's first event.
func (ctx *Context) newEvent(isBranch bool, compileFn func(*Context, *Event), data interface{}) *Event {
	if ctx.curInstr == nil {
		ctx.StartLogicalIp(0)
	}
	first := ctx.curInstr.First == nil
	e := ctx.Arena.NewEvent(ctx.curInstr, compileFn)
	e.Data = data
	e.IsBranch = isBranch
	e.StackBefore = ctx.stackSnap()
	e.LocalsBefore = snapshotLocals(ctx.locals)
	if ctx.current != nil {
		connect(ctx.current, e)
	}
	ctx.curInstr.append(e)
	if first {
		for _, pred := range ctx.pendingPreds[ctx.curInstr.Index] {
			if pred != ctx.current {
				connect(pred, e)
			}
		}
		delete(ctx.pendingPreds, ctx.curInstr.Index)
	}
	ctx.current = e
	e.StackAfter = ctx.stackSnap()
	e.LocalsAfter = snapshotLocals(ctx.locals)
	return e
}

// StartLogicalIp begins (or resumes) the logical instruction addressed by
// ip, the way a front-end walking a bytecode or AST keys its own "program
// counter". Queued forward-branch predecessors
// recorded by an earlier VisitLogicalIp(ip) are wired in once this
// instruction's first event is created by newEvent.
func (ctx *Context) StartLogicalIp(ip int) *LogicalInstruction {
	li, ok := ctx.instrsByIP[ip]
	if !ok {
		li = ctx.Arena.NewLogicalInstruction(ip)
		ctx.instrsByIP[ip] = li
	}
	ctx.curInstr = li
	ctx.logicalIP = ip
	return li
}

// VisitLogicalIp records a branch target by logical address. If the target has already been started, this is a
// backward branch into a merge point that the compile pass hasn't seen yet:
// a junction is installed immediately (visitJunction, junction.go). If the
// target hasn't started yet, the branch is a forward reference; it is
// queued and wired into place once StartLogicalIp eventually creates that
// instruction's first event.
func (ctx *Context) VisitLogicalIp(ip int) *LogicalInstruction {
	li, ok := ctx.instrsByIP[ip]
	if !ok {
		li = ctx.Arena.NewLogicalInstruction(ip)
		ctx.instrsByIP[ip] = li
	}
	if li.First != nil {
		ctx.visitJunction(ctx.current, li)
	} else {
		ctx.pendingPreds[ip] = append(ctx.pendingPreds[ip], ctx.current)
	}
	return li
}

// Constant creates a value living only in a ConstantSite.
func (ctx *Context) Constant(imm int64) *Value {
	v := ctx.Arena.NewValue()
	v.AddSite(&ConstantSite{Imm: imm})
	return v
}

// Address creates a value living only in an AddressSite, backed by a Promise
// that resolves to a code or constant-pool offset.
func (ctx *Context) Address(p Promise) *Value {
	v := ctx.Arena.NewValue()
	v.AddSite(&AddressSite{Promise: p})
	return v
}

// PoolAppend queues a known int64 for the constant pool and returns a
// PoolPromise that resolves to its absolute buffer offset only once
// finishLayout has placed the pool past the emitted code — unlike Constant,
// which bakes its immediate into the instruction stream directly, a pool
// entry exists so something can hold a genuinely deferred reference to it
// (Address) rather than the value itself.
func (ctx *Context) PoolAppend(value int64) *PoolPromise {
	resolved := &basePromise{resolved: true, value: value}
	return ctx.PoolAppendPromise(resolved)
}

// PoolAppendPromise is PoolAppend for a pool entry whose own value is not
// known yet either (a forward-referenced code offset, say) — the returned
// PoolPromise and the value Promise are both resolved by finishLayout, in
// that order, once code layout is final.
func (ctx *Context) PoolAppendPromise(value Promise) *PoolPromise {
	p := ctx.Arena.NewPoolPromise()
	ctx.Arena.pool = append(ctx.Arena.pool, poolNode{promise: p, value: value})
	return p
}

// --- operand stack -----------------------------------------------------

// Push places v on top of the operand stack, occupying size bytes rounded
// up to a word. Stack bookkeeping alone never emits an event;
// the value's eventual site is decided lazily, the first time something
// actually reads it.
func (ctx *Context) Push(size Size, v *Value) {
	w := wordsOf(size)
	idx := 0
	if ctx.stack != nil {
		idx = ctx.stack.Index + ctx.stack.Size
	}
	ctx.stack = &StackElement{Index: idx, Size: w, Value: v, Next: ctx.stack}
}

// Pop removes and returns the top of the operand stack.
func (ctx *Context) Pop() (*Value, Size) {
	if ctx.stack == nil {
		abort(ErrReadQueue, "pop on empty operand stack")
	}
	se := ctx.stack
	ctx.stack = se.Next
	return se.Value, Size(se.Size * 8)
}

// Peek returns the value depth entries below the top without removing it;
// depth 0 is the top itself.
func (ctx *Context) Peek(depth int) *Value {
	se := ctx.stack
	for i := 0; i < depth && se != nil; i++ {
		se = se.Next
	}
	if se == nil {
		return nil
	}
	return se.Value
}

// --- locals --------------------------------------------------------------

// InitLocal declares local idx with the given size and no value yet.
func (ctx *Context) InitLocal(idx int, size int) {
	ctx.locals[idx] = Local{Size: size}
}

// StoreLocal records that local idx now holds v. The actual
// placement into a frame slot, if one is ever demanded, happens lazily the
// same way a pushed value's does — StoreLocal only marks v as a local so
// canonicalFrameIndex and canonicalSaveSite know which slot to evict it to.
func (ctx *Context) StoreLocal(idx int, v *Value) {
	ctx.locals[idx].Value = v
	v.local = true
	v.localIdx = idx
}

// LoadLocal returns the value currently stored in local idx, or nil.
func (ctx *Context) LoadLocal(idx int) *Value {
	return ctx.locals[idx].Value
}

// --- moves -----------------------------------------------------------------

// moveToConstraint emits a Move event with v read twice under two different
// constraints: once unconstrained (wherever it already lives) as the
// source, once under target as the destination. Both reads carry distinct
// Read objects so compileMove (event_kinds.go) can tell them apart via
// siteForRead even though they constrain the same Value.
func (ctx *Context) moveToConstraint(op Op, size Size, v *Value, target Constraint, dead bool) {
	srcRead := NewSingleRead(size, TypeAny, fullRegisterMask(), AnyFrameIndex)
	dstRead := NewSingleRead(target.Size, target.Types, target.Regs, target.Frame)
	data := &MoveData{Op: op, SrcSize: size, Src: v, SrcRead: srcRead, DstSize: target.Size, Dst: v, DstRead: dstRead, DstDead: dead}
	e := ctx.newEvent(false, compileMove, data)
	e.AddRead(v, srcRead)
	e.AddRead(v, dstRead)
}

// Move copies src into dst, picking dst's eventual site lazily the same way
// any other read does. When the two values are distinct (a
// genuine cross-value copy rather than a store/reload of the same value),
// each gets its own single read.
func (ctx *Context) Move(op Op, size Size, src, dst *Value, dstDead bool) {
	if src == dst {
		ctx.moveToConstraint(op, size, src, Constraint{Size: size, Types: TypeAny, Regs: fullRegisterMask(), Frame: AnyFrameIndex}, dstDead)
		return
	}
	srcRead := NewSingleRead(size, TypeAny, fullRegisterMask(), AnyFrameIndex)
	dstRead := NewSingleRead(size, TypeAny, fullRegisterMask(), AnyFrameIndex)
	data := &MoveData{Op: op, SrcSize: size, Src: src, SrcRead: srcRead, DstSize: size, Dst: dst, DstRead: dstRead, DstDead: dstDead}
	e := ctx.newEvent(false, compileMove, data)
	e.AddRead(src, srcRead)
	e.AddRead(dst, dstRead)
}

// StoreAt forces v to occupy the given frame slot, releasing it afterward if
// dead is true (a plain store). Used by call-argument spill and by
// front-ends that need a value parked at a caller-known offset.
func (ctx *Context) StoreAt(size Size, v *Value, frame FrameIndex, dead bool) {
	ctx.moveToConstraint(OpMove, size, v, Constraint{Size: size, Types: TypeMemory, Frame: frame}, dead)
}

// --- arithmetic/logic/shift ------------------------------------------------

// Combine folds first and second into a new value via the architecture's
// Plan for op at the given size. When Plan reports
// CondensedAddressing for this architecture, the result reuses second's
// resolved site instead of materialising a third operand.
func (ctx *Context) Combine(op Op, size Size, first, second *Value) *Value {
	typeMasks, regMasks, thunk := ctx.Architecture.Plan(op, []Size{size, size, size})
	result := ctx.Arena.NewValue()
	data := &CombineData{Op: op, Size: size, First: first, Second: second, Result: result}
	if thunk {
		data.ThunkArgs = []*Value{first, second}
		e := ctx.newEvent(false, compileCombine, data)
		footprint := ctx.addThunkArgReads(e, data.ThunkArgs, size)
		data.ThunkStackFootprint = footprint
		return result
	}
	condensed := ctx.Architecture.CondensedAddressing()
	data.Condensed = condensed
	e := ctx.newEvent(false, compileCombine, data)
	e.AddRead(first, NewSingleRead(size, typeMasks[0], regMasks[0], AnyFrameIndex))
	e.AddRead(second, NewSingleRead(size, typeMasks[1], regMasks[1], AnyFrameIndex))
	if !condensed {
		e.AddRead(result, NewSingleRead(size, typeMasks[2], regMasks[2], AnyFrameIndex))
	}
	return result
}

// Translate folds a single operand into a new value, for unary operations
// like negation or sign extension.
func (ctx *Context) Translate(op Op, size Size, value *Value) *Value {
	typeMasks, regMasks, thunk := ctx.Architecture.Plan(op, []Size{size, size})
	result := ctx.Arena.NewValue()
	data := &TranslateData{Op: op, Size: size, Value: value, Result: result}
	if thunk {
		data.Thunk = true
		e := ctx.newEvent(false, compileTranslate, data)
		data.ThunkStackFootprint = ctx.addThunkArgReads(e, []*Value{value}, size)
		return result
	}
	e := ctx.newEvent(false, compileTranslate, data)
	e.AddRead(value, NewSingleRead(size, typeMasks[0], regMasks[0], AnyFrameIndex))
	e.AddRead(result, NewSingleRead(size, typeMasks[1], regMasks[1], AnyFrameIndex))
	return result
}

// addThunkArgReads fixes each thunk argument to the argument-passing
// convention the same way Call does, so compileThunkCall (event_kinds.go)
// can hand emitCallSequence already-resolved sites.
func (ctx *Context) addThunkArgReads(e *Event, args []*Value, size Size) int {
	argCount := ctx.Architecture.ArgumentRegisterCount()
	footprint := 0
	for i, a := range args {
		if i < argCount {
			reg := ctx.Architecture.ArgumentRegister(i)
			e.AddRead(a, NewSingleRead(size, TypeRegister, NewRegisterMask(1<<uint(reg), 0), NoFrameIndex))
		} else {
			idx := FrameIndex(ctx.paramFootprint + (i - argCount))
			e.AddRead(a, NewSingleRead(size, TypeMemory, 0, idx))
			footprint++
		}
	}
	return footprint
}

// --- comparisons and branches ----------------------------------------------

// Compare records the architecture's comparison opcode against a and b,
// folding the outcome into Context.compareOutcome when both are constants
func (ctx *Context) Compare(size Size, a, b *Value) {
	e := ctx.newEvent(false, compileCompare, &CompareData{Op: ctx.Architecture.CompareOp(), Size: size, A: a, B: b})
	e.AddRead(a, NewSingleRead(size, TypeAny, fullRegisterMask(), AnyFrameIndex))
	e.AddRead(b, NewSingleRead(size, TypeAny, fullRegisterMask(), AnyFrameIndex))
}

// Branch emits a conditional (or unconditional, for BranchAlways) jump to
// target, consuming the outcome recorded by the most recent Compare. target is obtained from VisitLogicalIp or StartLogicalIp.
func (ctx *Context) Branch(kind BranchKind, target *LogicalInstruction) {
	ctx.newEvent(true, compileBranch, &BranchData{Kind: kind, Target: target})
}

// --- calls -----------------------------------------------------------------

// callerSavedSurvivors returns every live value not already referenced in
// args, which is exactly the set of values the register allocator must be
// forced to evict to their canonical frame slot before a call. Values already passed as arguments are excluded: an argument read
// is itself a site requirement, and adding a second read for the same Value
// inside one event would make siteFor ambiguous.
func (ctx *Context) callerSavedSurvivors(args []*Value) []*Value {
	excluded := make(map[*Value]bool, len(args))
	for _, a := range args {
		excluded[a] = true
	}
	var out []*Value
	for _, v := range ctx.liveValues() {
		if !excluded[v] {
			out = append(out, v)
		}
	}
	return out
}

func (ctx *Context) addCallArgReads(e *Event, data *CallData, args []*Value, argSizes []Size) {
	argCount := ctx.Architecture.ArgumentRegisterCount()
	footprint := 0
	for i, a := range args {
		data.Args = append(data.Args, a)
		if i < argCount {
			reg := ctx.Architecture.ArgumentRegister(i)
			e.AddRead(a, NewSingleRead(argSizes[i], TypeRegister, NewRegisterMask(1<<uint(reg), 0), NoFrameIndex))
		} else {
			idx := FrameIndex(ctx.paramFootprint + (i - argCount))
			e.AddRead(a, NewSingleRead(argSizes[i], TypeMemory, 0, idx))
			footprint++
		}
	}
	data.StackArgFootprint = footprint
	for _, v := range ctx.callerSavedSurvivors(args) {
		idx, ok := ctx.canonicalFrameIndex(v)
		if !ok {
			continue
		}
		e.AddRead(v, NewSingleRead(8, TypeMemory, 0, FrameIndex(idx)))
	}
}

// Call emits a direct call to the code or runtime address addr, passing args
// through the architecture's calling convention. Pass
// hasResult=false for a call whose return value is discarded.
func (ctx *Context) Call(addr Promise, args []*Value, argSizes []Size, resultSize Size, hasResult bool) *Value {
	data := &CallData{Address: &AddressSite{Promise: addr}}
	e := ctx.newEvent(false, compileCall, data)
	ctx.addCallArgReads(e, data, args, argSizes)
	if hasResult {
		data.Result = ctx.Arena.NewValue()
	}
	return data.Result
}

// StackCall emits an indirect call through a value holding the callee's
// address (a function pointer loaded from memory or computed at runtime),
// unlike Call's fixed Promise-backed target.
func (ctx *Context) StackCall(addr *Value, args []*Value, argSizes []Size, resultSize Size, hasResult bool) *Value {
	addrRead := NewSingleRead(8, TypeRegister, fullRegisterMask(), NoFrameIndex)
	data := &CallData{AddressRead: addrRead}
	e := ctx.newEvent(false, compileCall, data)
	e.AddRead(addr, addrRead)
	ctx.addCallArgReads(e, data, args, argSizes)
	if hasResult {
		data.Result = ctx.Arena.NewValue()
	}
	return data.Result
}

// Return moves v into the architecture's return register(s), if hasValue,
// then emits the native return instruction; no frame teardown is emitted.
// v's read is marked dead:
// the value has no further life once control leaves the function.
func (ctx *Context) Return(size Size, v *Value, hasValue bool) {
	if hasValue {
		low := ctx.Architecture.ReturnLow()
		high := ctx.Architecture.ReturnHigh()
		regs := NewRegisterMask(1<<uint(low), 0)
		if high >= 0 {
			regs = NewRegisterMask(1<<uint(low), 1<<uint(high))
		}
		ctx.moveToConstraint(OpMove, size, v, Constraint{Size: size, Types: TypeRegister, Regs: regs, Frame: NoFrameIndex}, true)
	}
	ctx.newEvent(false, compileReturn, &ReturnData{})
}

// --- memory addressing and bounds checks -----------------------------------

// Memory synthesises a new value addressing [base + index*scale +
// displacement], folding a constant index into the displacement. index may be nil for a plain base+displacement operand.
func (ctx *Context) Memory(base *Value, displacement int32, index *Value, scale uint8) *Value {
	result := ctx.Arena.NewValue()
	e := ctx.newEvent(false, compileMemory, &MemoryData{Base: base, Displacement: displacement, Index: index, Scale: scale, Result: result})
	e.AddRead(base, NewSingleRead(8, TypeRegister, fullRegisterMask(), NoFrameIndex))
	if index != nil {
		e.AddRead(index, NewSingleRead(8, TypeConstant|TypeRegister, fullRegisterMask(), AnyFrameIndex))
	}
	return result
}

// CheckBounds emits a compare-and-branch guarding index against the length
// word stored at object+lengthOffset, jumping to handler on failure.
func (ctx *Context) CheckBounds(object *Value, lengthOffset int32, index *Value, handler Promise) {
	e := ctx.newEvent(false, compileBoundsCheck, &BoundsCheckData{Object: object, LengthOffset: lengthOffset, Index: index, Handler: handler})
	e.AddRead(object, NewSingleRead(8, TypeRegister, fullRegisterMask(), NoFrameIndex))
	e.AddRead(index, NewSingleRead(8, TypeAny, fullRegisterMask(), AnyFrameIndex))
}

// --- buddies and frame-parked values ---------------------------------------

// Buddy links new into original's buddy ring: used when
// the same logical slot is simultaneously tracked as a local and pushed onto
// the operand stack, so either representation can satisfy a read.
func (ctx *Context) Buddy(original, newValue *Value) {
	ctx.newEvent(false, compileBuddy, &BuddyData{Original: original, New: newValue})
}

// FrameSite parks v directly at a known frame slot without going through the
// generic read-resolution path — used for incoming arguments, which already
// live at a fixed offset before the front-end does anything else.
func (ctx *Context) FrameSite(v *Value, size Size, index FrameIndex) {
	ctx.newEvent(false, compileFrameSite, &FrameSiteData{Value: v, Size: size, Index: index})
}

// Dummy records a stack/locals discontinuity (e.g. a fork's join point)
// without emitting code. Returns the event it created so a caller can hang
// bookkeeping reads (SaveState's MultiReads) off it via AddRead.
func (ctx *Context) Dummy() *Event {
	return ctx.newEvent(false, compileDummy, &DummyData{})
}

// --- finishing -------------------------------------------------------------

// Finish runs the compile pass and caches the resulting machine code so
// WriteTo can serve it without recompiling, returning its size in bytes.
// Compile (compile.go) remains available for
// callers that want the bytes directly instead of copying them out.
func (ctx *Context) Finish() (int, error) {
	code, err := ctx.Compile()
	if err != nil {
		return 0, err
	}
	ctx.compiledCode = code
	return len(code), nil
}

// WriteTo copies the cached result of Finish into dst, mirroring the
// two-call io.WriterTo sizing idiom the Assembler interface already uses.
func (ctx *Context) WriteTo(dst []byte) int {
	return copy(dst, ctx.compiledCode)
}
