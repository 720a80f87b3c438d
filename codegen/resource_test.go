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

import "testing"

func TestRegisterTableReservedExcludedFromPickAndAvailable(t *testing.T) {
	tbl := NewRegisterTable(4, func(r int) bool { return r == 3 })
	if tbl.Available() != 3 {
		t.Fatalf("Available() = %d, want 3 (one of four reserved)", tbl.Available())
	}
	r, ok := tbl.pick(^uint32(0))
	if !ok || r == 3 {
		t.Fatalf("pick must never return the reserved register 3, got %d ok=%v", r, ok)
	}
}

func TestRegisterTablePickBreaksTiesByHighestNumber(t *testing.T) {
	tbl := NewRegisterTable(4, func(int) bool { return false })
	r, ok := tbl.pick(^uint32(0))
	if !ok || r != 3 {
		t.Fatalf("pick with an all-equal-cost mask must choose the highest register, got %d", r)
	}
}

func TestRegisterTablePickPrefersCheaperEntry(t *testing.T) {
	tbl := NewRegisterTable(4, func(int) bool { return false })
	tbl.entry(3).used = true // make register 3 more expensive than 0..2
	r, ok := tbl.pick(^uint32(0))
	if !ok || r == 3 {
		t.Fatalf("pick must avoid the artificially expensive register 3, got %d", r)
	}
}

func TestFrameTablePickSlotExactIndexGrowsTable(t *testing.T) {
	tbl := NewFrameTable(2)
	slot, ok := tbl.pickSlot(FrameIndex(5))
	if !ok || slot != 5 {
		t.Fatalf("pickSlot(5) = (%d, %v), want (5, true) after growing", slot, ok)
	}
	if tbl.Count() < 6 {
		t.Fatalf("Count() = %d, table must have grown to hold index 5", tbl.Count())
	}
}

func TestFrameTablePickSlotExactIndexAlreadyUsed(t *testing.T) {
	tbl := NewFrameTable(4)
	tbl.entries[1].used = true
	if _, ok := tbl.pickSlot(FrameIndex(1)); ok {
		t.Fatal("pickSlot must refuse an already-used exact slot")
	}
}

func TestFrameTablePickSlotAnyFindsFirstFree(t *testing.T) {
	tbl := NewFrameTable(3)
	tbl.entries[0].used = true
	slot, ok := tbl.pickSlot(AnyFrameIndex)
	if !ok || slot != 1 {
		t.Fatalf("pickSlot(AnyFrameIndex) = (%d, %v), want (1, true)", slot, ok)
	}
}

func TestFrameTablePickSlotNoFrameIndexNeverAllocates(t *testing.T) {
	tbl := NewFrameTable(3)
	if _, ok := tbl.pickSlot(NoFrameIndex); ok {
		t.Fatal("pickSlot(NoFrameIndex) must never succeed")
	}
}

func TestRegisterTableAcquireAndRelease(t *testing.T) {
	ctx, _ := newTestContext(0, 0, 0)
	v := ctx.Arena.NewValue()
	site := &RegisterSite{Low: 0, High: -1}
	ctx.Registers.acquire(ctx, 0, v, site)
	if ctx.Registers.entry(0).owner != v {
		t.Fatal("acquire must record the new owner")
	}
	ctx.Registers.release(0)
	if ctx.Registers.entry(0).owner != nil {
		t.Fatal("release must clear the owner")
	}
}

func TestTryStealDropsExtraSiteWithoutMove(t *testing.T) {
	ctx, asm := newTestContext(0, 0, 2)
	v := ctx.Arena.NewValue()
	reg := &RegisterSite{Low: 0, High: -1}
	mem := &MemorySite{Base: ctx.Architecture.Stack(), frameIndex: FrameIndex(0)}
	reg.Acquire(ctx, v)
	v.AddSite(reg)
	mem.Acquire(ctx, v)
	v.AddSite(mem)

	before := len(asm.applied)
	ok := trySteal(ctx, ctx.Registers.entry(0))
	if !ok {
		t.Fatal("trySteal must succeed when the value already has another site")
	}
	if len(asm.applied) != before {
		t.Fatal("trySteal must not emit a move when the value survives at another site")
	}
	if v.HasSite(reg) {
		t.Fatal("the stolen register site must be removed from the value")
	}
	if !v.HasSite(mem) {
		t.Fatal("the surviving memory site must remain")
	}
}

func TestTryStealEmitsSpillWhenSoleSite(t *testing.T) {
	ctx, asm := newTestContext(0, 1, 2)
	v := ctx.Arena.NewValue()
	v.local = true
	v.localIdx = 0
	reg := &RegisterSite{Low: 0, High: -1}
	reg.Acquire(ctx, v)
	v.AddSite(reg)

	before := len(asm.applied)
	ok := trySteal(ctx, ctx.Registers.entry(0))
	if !ok {
		t.Fatal("trySteal must succeed by spilling to the canonical frame slot")
	}
	if len(asm.applied) != before+1 {
		t.Fatalf("trySteal must emit exactly one move, applied count went from %d to %d", before, len(asm.applied))
	}
	if stats := ctx.Stats.Snapshot(); stats.SpillsEmitted != 1 || stats.RegisterSteals != 1 {
		t.Fatalf("stats = %+v, want one spill and one steal recorded", stats)
	}
	if v.HasSite(reg) {
		t.Fatal("the evicted register site must be gone")
	}
}

func TestRegisterTableSwapRelabelsOwnersAndSites(t *testing.T) {
	ctx, asm := newTestContext(0, 0, 0)
	va := ctx.Arena.NewValue()
	vb := ctx.Arena.NewValue()
	sa := &RegisterSite{Low: 0, High: -1}
	sb := &RegisterSite{Low: 1, High: -1}
	sa.Acquire(ctx, va)
	va.AddSite(sa)
	sb.Acquire(ctx, vb)
	vb.AddSite(sb)

	ctx.Registers.Swap(ctx, 0, 1)

	if ctx.Registers.entry(0).owner != vb || ctx.Registers.entry(1).owner != va {
		t.Fatal("Swap must exchange the owners of the two register entries")
	}
	if sa.Low != 1 {
		t.Fatalf("va's RegisterSite must be relabelled to register 1, got %d", sa.Low)
	}
	if sb.Low != 0 {
		t.Fatalf("vb's RegisterSite must be relabelled to register 0, got %d", sb.Low)
	}
	if len(asm.applied) != 1 || asm.applied[0].op != OpSwap {
		t.Fatal("Swap must emit exactly one OpSwap")
	}
}
