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

import (
	"encoding/binary"
	"testing"
)

// --- boundary scenario 1: return (a+b)*c -----------------------------------

func TestReturnOfChainedArithmeticPlacesResultInReturnRegister(t *testing.T) {
	ctx, asm := newTestContext(0, 3, 0)
	a := ctx.Arena.NewValue()
	b := ctx.Arena.NewValue()
	c := ctx.Arena.NewValue()
	ctx.FrameSite(a, 4, FrameIndex(0))
	ctx.FrameSite(b, 4, FrameIndex(1))
	ctx.FrameSite(c, 4, FrameIndex(2))

	sum := ctx.Combine(testOpAdd, 4, a, b)
	result := ctx.Combine(testOpMul, 4, sum, c)
	ctx.Return(4, result, true)

	if _, err := ctx.Finish(); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}

	ops := asm.opsApplied()
	if len(ops) == 0 || ops[len(ops)-1] != OpRet {
		t.Fatalf("compiled sequence must end in OpRet, got %v", ops)
	}
	addIdx, mulIdx := -1, -1
	for i, op := range ops {
		if op == testOpAdd && addIdx == -1 {
			addIdx = i
		}
		if op == testOpMul && mulIdx == -1 {
			mulIdx = i
		}
	}
	if addIdx == -1 || mulIdx == -1 || addIdx >= mulIdx {
		t.Fatalf("expected the add before the multiply, got ops %v", ops)
	}
	if len(asm.applied) < 2 {
		t.Fatalf("expected a move into the return register before OpRet, got ops %v", ops)
	}
	last := asm.applied[len(asm.applied)-2]
	if last.op != OpMove || last.operands[1].Kind != OperandRegister || last.operands[1].Reg != ctx.Architecture.ReturnLow() {
		t.Fatalf("the op before OpRet must move the result into the return register, got %+v", last)
	}
}

// --- boundary scenario 2: compare-constant folding --------------------------

func TestCompareConstantFoldingMakesBranchUnconditional(t *testing.T) {
	ctx, asm := newTestContext(0, 0, 0)
	target := ctx.Arena.NewLogicalInstruction(99)

	a := ctx.Constant(3)
	b := ctx.Constant(3)
	ctx.Compare(4, a, b)
	ctx.Branch(BranchIfEqual, target)
	ctx.Return(4, nil, false)

	if _, err := ctx.Finish(); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}

	ops := asm.opsApplied()
	if len(ops) != 2 {
		t.Fatalf("folded compare + unconditional branch must emit exactly 2 instructions (jump, ret), got %v", ops)
	}
	if ops[0] != OpJump {
		t.Fatalf("a folded, satisfied branch must emit OpJump not OpJcc, got %v", ops[0])
	}
	if ops[1] != OpRet {
		t.Fatalf("want OpRet second, got %v", ops)
	}
}

func TestCompareConstantFoldingUnsatisfiedBranchFallsThrough(t *testing.T) {
	ctx, asm := newTestContext(0, 0, 0)
	target := ctx.Arena.NewLogicalInstruction(99)

	a := ctx.Constant(5)
	b := ctx.Constant(3)
	ctx.Compare(4, a, b) // 5 > 3: CompareGreater
	ctx.Branch(BranchIfLess, target)
	ctx.Return(4, nil, false)

	if _, err := ctx.Finish(); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}
	ops := asm.opsApplied()
	if len(ops) != 1 || ops[0] != OpRet {
		t.Fatalf("an unsatisfied folded branch must emit no jump at all, got %v", ops)
	}
}

// --- boundary scenario 3: call with more arguments than argument registers --

func TestCallPlacesArgumentsInRegistersThenStackMemory(t *testing.T) {
	ctx, _ := newTestContext(0, 0, 0)
	addr := &CodePromise{}
	Resolve(addr, 0x1000)

	a, b, c, d, e := ctx.Constant(1), ctx.Constant(2), ctx.Constant(3), ctx.Constant(4), ctx.Constant(5)
	sizes := []Size{4, 4, 4, 4, 4}
	ctx.Call(addr, []*Value{a, b, c, d, e}, sizes, 4, false)
	ctx.Return(4, nil, false)

	var callEvent *Event
	for _, ev := range ctx.Arena.Events() {
		if _, ok := ev.Data.(*CallData); ok {
			callEvent = ev
		}
	}
	if callEvent == nil {
		t.Fatal("no CallData event found")
	}
	cd := callEvent.Data.(*CallData)
	if cd.StackArgFootprint != 2 {
		t.Fatalf("StackArgFootprint = %d, want 2 (d and e spill past the 3 argument registers)", cd.StackArgFootprint)
	}

	if _, err := ctx.Finish(); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}

	op := callEvent.siteFor(a)
	rs, ok := op.(*RegisterSite)
	if !ok || rs.Low != 0 {
		t.Fatalf("argument a must resolve to register 0, got %#v", op)
	}
	if rs, ok := callEvent.siteFor(b).(*RegisterSite); !ok || rs.Low != 1 {
		t.Fatalf("argument b must resolve to register 1, got %#v", callEvent.siteFor(b))
	}
	if rs, ok := callEvent.siteFor(c).(*RegisterSite); !ok || rs.Low != 2 {
		t.Fatalf("argument c must resolve to register 2, got %#v", callEvent.siteFor(c))
	}
	dMem, ok := callEvent.siteFor(d).(*MemorySite)
	if !ok || !dMem.IsFrameSlot() {
		t.Fatalf("argument d beyond the register count must resolve to a frame slot, got %#v", callEvent.siteFor(d))
	}
	eMem, ok := callEvent.siteFor(e).(*MemorySite)
	if !ok || !eMem.IsFrameSlot() || eMem.FrameIndex() == dMem.FrameIndex() {
		t.Fatalf("argument e must resolve to a distinct frame slot from d, got %#v", callEvent.siteFor(e))
	}
}

func TestCallerSavedSurvivorsExcludesPassedArguments(t *testing.T) {
	ctx, _ := newTestContext(0, 1, 0)
	kept := ctx.Arena.NewValue()
	ctx.FrameSite(kept, 4, FrameIndex(5))
	ctx.StoreLocal(0, kept)

	passed := ctx.Arena.NewValue()
	ctx.FrameSite(passed, 4, FrameIndex(6))
	ctx.Push(4, passed)

	survivors := ctx.callerSavedSurvivors([]*Value{passed})
	if len(survivors) != 1 || survivors[0] != kept {
		t.Fatalf("callerSavedSurvivors must report only the kept local, got %v", survivors)
	}
}

// --- boundary scenario 4: fork / restore -------------------------------------

func TestForkSaveStateInstallsOneMultiReadPerLiveValue(t *testing.T) {
	ctx, _ := newTestContext(0, 0, 0)
	x := ctx.Arena.NewValue()
	y := ctx.Arena.NewValue()
	ctx.FrameSite(x, 4, FrameIndex(0))
	ctx.FrameSite(y, 4, FrameIndex(1))
	ctx.Push(4, x)
	ctx.Push(4, y)

	fs := ctx.SaveState()
	mrX, ok := x.HeadRead().(*MultiRead)
	if !ok {
		t.Fatal("SaveState must push a MultiRead onto every live value's read queue")
	}
	if _, ok := y.HeadRead().(*MultiRead); !ok {
		t.Fatal("SaveState must push a MultiRead for y too")
	}

	ctx.RestoreState(fs) // path alpha
	_ = ctx.Combine(testOpAdd, 4, x, y)

	ctx.RestoreState(fs) // path beta, independent of alpha's reads
	_ = ctx.Combine(testOpMul, 4, x, y)

	if len(mrX.Targets) != 2 {
		t.Fatalf("each RestoreState call must contribute one alternative, got %d targets", len(mrX.Targets))
	}
	if !mrX.Valid() {
		t.Fatal("a MultiRead with live alternatives from both paths must remain valid")
	}
}

// --- boundary scenario 5: junction resolution --------------------------------

// TestJunctionCorrectionOnlyTouchesTheDisagreeingPredecessor is the
// literal two-predecessor merge boundary scenario ("one in reg 0, one in
// frame slot 4"): predA already sits at the site the join settles on and
// must come out of this untouched; predB disagrees and must get exactly one
// corrective move, emitted against predB's own edge, not against predA's.
func TestJunctionCorrectionOnlyTouchesTheDisagreeingPredecessor(t *testing.T) {
	ctx, asm := newTestContext(0, 0, 8)
	v := ctx.Arena.NewValue()
	ctx.Push(4, v) // liveValues() only sees values reachable from the stack/locals

	wantSite := &RegisterSite{Low: 0, High: -1}
	wantSite.Acquire(ctx, v)
	v.AddSite(wantSite)

	predA := &Event{}
	predB := &Event{}
	joinEvent := &Event{Preds: []*Link{{From: predA}, {From: predB}}}

	table := make(SiteTable)
	ctx.junctionTargets[predA] = table
	ctx.junctionTargets[predB] = table

	beforeA := len(asm.applied)
	ctx.resolvePredecessorJunctionSite(predA)
	afterA := len(asm.applied)
	if afterA != beforeA {
		t.Fatalf("predA already agrees with the join target: want 0 moves, got %d", afterA-beforeA)
	}
	if table[v] != wantSite {
		t.Fatalf("the first predecessor to reach v decides the join's target for it")
	}

	haveSite := &MemorySite{Base: ctx.Architecture.Stack(), Displacement: 32, frameIndex: FrameIndex(4)}
	haveSite.Acquire(ctx, v)
	v.RemoveSite(wantSite)
	v.AddSite(haveSite)

	beforeB := len(asm.applied)
	ctx.resolvePredecessorJunctionSite(predB)
	afterB := len(asm.applied)
	if afterB-beforeB != 1 {
		t.Fatalf("predB disagrees with the join target: want exactly 1 corrective move, got %d", afterB-beforeB)
	}
	if !v.HasSite(wantSite) {
		t.Fatal("after predB's own correction, v must occupy the agreed-upon junction site")
	}
	if afterA != beforeA {
		t.Fatal("predB's correction must not retroactively touch predA's already-compiled code")
	}

	joined := resolveJunctionSites(ctx, joinEvent)
	if joined[v] != wantSite {
		t.Fatal("the join itself must read back the same table its predecessors corrected against")
	}
}

// --- boundary scenario 5b: fork/junction occupancy release -------------------

// assertAllResourcesReleased fails the test if any register or frame slot
// still has an owner after Finish() — the post-compile state every value's
// read queue reaching empty is supposed to guarantee.
func assertAllResourcesReleased(t *testing.T, ctx *Context) {
	t.Helper()
	for i := 0; i < ctx.Registers.Count(); i++ {
		if owner := ctx.Registers.entry(i).owner; owner != nil {
			t.Errorf("register %d still owned by %p after compile", i, owner)
		}
	}
	for i := 0; i < ctx.Frame.Count(); i++ {
		if owner := ctx.Frame.entry(i).owner; owner != nil {
			t.Errorf("frame slot %d still owned by %p after compile", i, owner)
		}
	}
}

func TestForkedLiveValueReleasesOccupancyAfterCompile(t *testing.T) {
	ctx, _ := newTestContext(0, 0, 2)
	x := ctx.Arena.NewValue()
	ctx.FrameSite(x, 4, FrameIndex(0))
	ctx.Push(4, x)

	fs := ctx.SaveState()

	ctx.RestoreState(fs) // path alpha reads x
	alpha := ctx.Combine(testOpAdd, 4, x, ctx.Constant(2))

	ctx.RestoreState(fs) // path beta reads the same x a second time
	_ = ctx.Combine(testOpMul, 4, x, ctx.Constant(3))

	ctx.Return(4, alpha, true)

	if _, err := ctx.Finish(); err != nil {
		t.Fatalf("Finish() failed on a forked pair of paths: %v", err)
	}
	assertAllResourcesReleased(t, ctx)
}

// TestBackwardBranchJunctionReleasesOccupancyAfterCompile drives a genuine
// backward branch through VisitLogicalIp, rather than hand-assembling Event
// and Link values, so the junction stub each live value gets at the merge
// point is installed and advanced the same way the front-end would produce
// it for a real loop.
func TestBackwardBranchJunctionReleasesOccupancyAfterCompile(t *testing.T) {
	ctx, _ := newTestContext(0, 1, 2)
	seed := ctx.Arena.NewValue()
	ctx.FrameSite(seed, 4, FrameIndex(0))
	ctx.StoreLocal(0, seed)

	ctx.StartLogicalIp(1)
	sum := ctx.Combine(testOpAdd, 4, ctx.LoadLocal(0), ctx.Constant(2))
	ctx.StoreLocal(0, sum)
	ctx.Compare(4, sum, ctx.Constant(100))
	target := ctx.VisitLogicalIp(1) // already started: a genuine backward-branch junction
	ctx.Branch(BranchIfLess, target)
	ctx.Return(4, sum, true)

	if _, err := ctx.Finish(); err != nil {
		t.Fatalf("Finish() failed on a backward-branch junction: %v", err)
	}
	assertAllResourcesReleased(t, ctx)
}

// --- boundary scenario 6: spill under single-register pressure --------------

func TestSpillUnderSingleRegisterPressure(t *testing.T) {
	ctx, asm := newTestContextWithArch(singleRegisterArch(), 0, 2, 2)

	a := ctx.Arena.NewValue()
	ctx.FrameSite(a, 4, FrameIndex(0))
	ctx.StoreLocal(0, a)

	b := ctx.Constant(2)
	c := ctx.Constant(3)

	sum1 := ctx.Combine(testOpAdd, 4, a, b)
	ctx.StoreLocal(1, sum1)
	// park sum1 in its own frame slot before the next combine needs the
	// sole register for c — a front-end targeting this little a register
	// budget has to make room itself, the allocator has no lookahead.
	ctx.StoreAt(4, sum1, FrameIndex(1), false)
	sum2 := ctx.Combine(testOpAdd, 4, sum1, c)
	ctx.Return(4, sum2, true)

	if _, err := ctx.Finish(); err != nil {
		t.Fatalf("compiling r = a+b+c on a single-register target must not fail, got: %v", err)
	}

	addCount := 0
	for _, op := range asm.opsApplied() {
		if op == testOpAdd {
			addCount++
		}
	}
	if addCount != 2 {
		t.Fatalf("want exactly 2 additions for the three-address chain, got %d", addCount)
	}
	ops := asm.opsApplied()
	if len(ops) == 0 || ops[len(ops)-1] != OpRet {
		t.Fatalf("compiled sequence must end in OpRet, got %v", ops)
	}
}

// --- invariants --------------------------------------------------------------

func TestInvariantRegisterRefcountsZeroAfterCompile(t *testing.T) {
	ctx, _ := newTestContext(0, 0, 0)
	base := ctx.Arena.NewValue()
	ctx.FrameSite(base, 8, FrameIndex(0))
	index := ctx.Constant(4)
	ctx.Memory(base, 16, index, 1)
	ctx.Return(4, nil, false)

	if _, err := ctx.Finish(); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}
	for i := 0; i < ctx.Registers.Count(); i++ {
		if rc := ctx.Registers.entry(i).refCount; rc != 0 {
			t.Errorf("register %d refCount = %d after compile, want 0", i, rc)
		}
	}
}

func TestInvariantPromiseMustBeResolvedBeforeItIsRead(t *testing.T) {
	unresolved := &CodePromise{}
	defer func() {
		if recover() == nil {
			t.Fatal("reading an unresolved promise must panic rather than return a stale value")
		}
	}()
	unresolved.Value()
}

// --- round-trip laws ----------------------------------------------------------

func TestRoundTripIdentityStoreThenReload(t *testing.T) {
	ctx, asm := newTestContext(0, 0, 1)
	v := ctx.Arena.NewValue()
	reg := &RegisterSite{Low: 0, High: -1}
	reg.Acquire(ctx, v)
	v.AddSite(reg)

	ctx.StoreAt(4, v, FrameIndex(0), false)
	// force a subsequent read that can only be satisfied by reloading from
	// the frame slot just stored to.
	ctx.moveToConstraint(OpMove, 4, v, Constraint{Size: 4, Types: TypeRegister, Regs: fullRegisterMask(), Frame: AnyFrameIndex}, false)

	if _, err := ctx.Finish(); err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}
	foundReload := false
	for _, ap := range asm.applied {
		if ap.op == OpMove && len(ap.operands) == 2 && ap.operands[0].Kind == OperandMemory {
			foundReload = true
		}
	}
	if !foundReload {
		t.Fatal("expected a reload move reading from the memory slot the value was stored to")
	}
}

func TestRoundTripMultiSitePreservationNoRecompute(t *testing.T) {
	ctx, asm := newTestContext(0, 1, 1)
	v := ctx.Arena.NewValue()
	v.local = true
	v.localIdx = 0
	mem := &MemorySite{Base: ctx.Architecture.Stack(), frameIndex: FrameIndex(0)}
	mem.Acquire(ctx, v)
	v.AddSite(mem)

	c := Constraint{Types: TypeRegister, Regs: fullRegisterMask() &^ NewRegisterMask(1<<uint(ctx.Architecture.Stack()), 0), Frame: AnyFrameIndex}
	before := len(asm.applied)
	site := ctx.materialiseSite(v, c)
	after := len(asm.applied)

	if _, ok := site.(*RegisterSite); !ok {
		t.Fatalf("materialiseSite must produce a register site for a register-only constraint, got %T", site)
	}
	if after-before != 1 {
		t.Fatalf("reloading from an existing memory site must emit exactly one move, got %d", after-before)
	}
	if asm.applied[len(asm.applied)-1].operands[0].Kind != OperandMemory {
		t.Fatal("the reload's source operand must be the memory site, not a freshly computed value")
	}
}

// --- constant pool ------------------------------------------------------------

// TestFinishLayoutMaterialisesConstantPoolPastCode drives a PoolPromise
// through Address, the same way internal/opscript's "poolconst"/"address"
// pair does: the promise stays unresolved until finishLayout runs, so
// reading it any earlier would panic. The value's own site is an
// AddressSite, deferring resolution to a fixup the way a call target does,
// not an eagerly-baked ConstantSite, which would read its Promise the
// moment the instruction referencing it is emitted — long before layout.
func TestFinishLayoutMaterialisesConstantPoolPastCode(t *testing.T) {
	ctx, _ := newTestContext(0, 0, 0)
	p := ctx.PoolAppend(0x2a2a2a2a2a2a2a2a)
	if p.Resolved() {
		t.Fatal("a freshly queued PoolPromise must not be resolved until layout runs")
	}
	v := ctx.Address(p)
	ctx.Return(4, v, true)

	size, err := ctx.Finish()
	if err != nil {
		t.Fatalf("Finish() failed on a deferred pool reference: %v", err)
	}
	if !p.Resolved() {
		t.Fatal("finishLayout must resolve every queued PoolPromise")
	}
	snap := ctx.Stats.Snapshot()
	if snap.PoolSize != poolWordSize {
		t.Fatalf("PoolSize = %d, want %d for a single queued entry", snap.PoolSize, poolWordSize)
	}
	off := p.Value()
	if off < snap.CodeSize || off%poolWordSize != 0 {
		t.Fatalf("pool offset %d must be word-aligned and land past the %d bytes of code", off, snap.CodeSize)
	}
	if off+snap.PoolSize != int64(size) {
		t.Fatalf("the single pool entry at %d plus its %d-byte size must reach the compiled size (%d)", off, snap.PoolSize, size)
	}

	out := make([]byte, size)
	ctx.WriteTo(out)
	got := binary.LittleEndian.Uint64(out[off : off+poolWordSize])
	if got != 0x2a2a2a2a2a2a2a2a {
		t.Fatalf("pool entry = %#x, want %#x", got, uint64(0x2a2a2a2a2a2a2a2a))
	}
}

// TestFinishLayoutWithoutPoolKeepsCodeOnlyByteCount pins the no-pool case's
// byte count: a compilation that never calls PoolAppend/PoolAppendPromise
// must produce exactly the same output it always did, unpadded.
func TestFinishLayoutWithoutPoolKeepsCodeOnlyByteCount(t *testing.T) {
	ctx, _ := newTestContext(0, 0, 0)
	ctx.Return(4, nil, false)

	size, err := ctx.Finish()
	if err != nil {
		t.Fatalf("Finish() failed: %v", err)
	}
	snap := ctx.Stats.Snapshot()
	if snap.PoolSize != 0 {
		t.Fatalf("PoolSize = %d, want 0 when nothing was queued", snap.PoolSize)
	}
	if int64(size) != snap.CodeSize {
		t.Fatalf("size = %d, want it to equal CodeSize (%d) with no pool", size, snap.CodeSize)
	}
}
