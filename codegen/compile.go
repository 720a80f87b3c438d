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

import "encoding/binary"

// Compile runs the two-pass engine over every event the front-end
// recorded and returns the finished machine code. The scan pass has already
// happened implicitly: the front-end builds the event graph and pushes
// reads onto values as it goes, so by the time Compile is called every
// value's read queue already reflects every future constraint.
//
// The compile pass walks events in creation order, which is also dominance
// order for any acyclic region the front-end builds (forks and junctions
// are the only places execution order and creation order could diverge, and
// both are resolved through stub/multi reads rather than reordering).
func (ctx *Context) Compile() ([]byte, error) {
	var result []byte
	err := ctx.withRecover(func() {
		ctx.propagateJunctionTargets()
		for _, e := range ctx.Arena.events {
			ctx.compileEvent(e)
		}
		// A value nothing ever reads (an unused Combine or Memory result)
		// never reaches AdvanceRead's empty-queue release, so release
		// whatever sites it still holds before the pass ends.
		for _, v := range ctx.Arena.values {
			if v.HeadRead() == nil {
				for _, s := range v.Sites() {
					s.Release(ctx)
				}
				v.sites = nil
			}
		}
		ctx.endBlock(false)
		result = ctx.finishLayout()
	})
	return result, err
}

func (ctx *Context) withRecover(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ce, ok := r.(*CompileError); ok {
				err = ce
				return
			}
			panic(r)
		}
	}()
	fn()
	return nil
}

// compileEvent performs one iteration of the compile pass's per-event walk:
// resolve junction sites if this event has more than
// one predecessor, pick or materialise a site for every read, invoke the
// event-kind compile function, snapshot the outgoing site table for
// successors, and advance every read queue exactly once.
func (ctx *Context) compileEvent(e *Event) {
	if e.instr != nil && e.instr.First == e && e.instr.startCode == nil {
		e.instr.startCode = ctx.Assembler.Offset()
	}

	if len(e.Preds) >= 2 {
		e.JunctionSites = resolveJunctionSites(ctx, e)
	}

	frozen := make([]Site, 0, len(e.reads))
	for i := range e.reads {
		r := e.reads[i]
		c := r.Read.Constraint()
		site := r.Value.BestSite(c)
		if site == nil {
			site = ctx.materialiseSite(r.Value, c)
		}
		site.Freeze(ctx)
		frozen = append(frozen, site)
		e.reads[i].ResolvedSite = site
	}

	e.compileFn(ctx, e)
	if _, isCompare := e.Data.(*CompareData); !isCompare {
		ctx.compareOutcome = CompareUnknown
	}

	for _, s := range frozen {
		s.Thaw(ctx)
	}

	// Correct this predecessor's own live values against whatever join it
	// feeds, at this exact compiled position — not the join's. The branch
	// (or fall-through) that actually transitions toward the join is always
	// created after e in event order, so placing the fix here guarantees it
	// lands before that jump regardless of which kind of edge this is.
	ctx.resolvePredecessorJunctionSite(e)

	e.SavedSites = ctx.snapshotSites()

	for i := range e.reads {
		e.reads[i].Value.AdvanceRead(ctx)
	}

	if e.IsBranch {
		ctx.endBlock(true)
	}
}

// materialiseSite allocates a brand-new site satisfying c and copies v's
// cheapest existing site into it. Registers are
// preferred over frame slots; a read that accepts neither (pure
// TypeConstant/TypeAddress with nothing already matching) is a program
// error in the front-end, not something the allocator can repair.
func (ctx *Context) materialiseSite(v *Value, c Constraint) Site {
	if c.Types&TypeRegister != 0 {
		if r, ok := ctx.Registers.AllocRegister(ctx, c.Regs.Low(), v); ok {
			site := &RegisterSite{Low: r, High: -1}
			site.Acquire(ctx, v)
			if src := v.CheapestSource(site); src != nil {
				ctx.emitMove(src, site, v)
			} else {
				// v has no content yet (a freshly materialised result
				// operand, e.g. Combine's expanded-addressing form or
				// Translate): just attach the site, nothing to copy.
				v.AddSite(site)
			}
			return site
		}
	}
	if c.Types&TypeMemory != 0 {
		slot, ok := ctx.Frame.pickSlot(c.Frame)
		if ok {
			site := &MemorySite{Base: ctx.Architecture.Stack(), Displacement: int32(slot) * 8, frameIndex: FrameIndex(slot)}
			site.Acquire(ctx, v)
			if src := v.CheapestSource(site); src != nil {
				ctx.emitMove(src, site, v)
			} else {
				v.AddSite(site)
			}
			return site
		}
	}
	abort(ErrAllocFailed, "no site satisfies constraint types=%#x regs=%#x frame=%d", c.Types, uint32(c.Regs.Low()), c.Frame)
	return nil
}

// snapshotSites records, for every value currently live, the single site a
// successor should assume it occupies — used as the "dual" of junction
// resolution so a later merge knows what each predecessor agreed on.
func (ctx *Context) snapshotSites() SiteTable {
	table := make(SiteTable)
	for _, v := range ctx.liveValues() {
		if s := v.BestSite(Constraint{Types: TypeAny, Regs: NewRegisterMask(^uint32(0), ^uint32(0)), Frame: AnyFrameIndex}); s != nil {
			table[v] = s
		}
	}
	return table
}

// endBlock closes the assembler's current block and records it for the
// final layout pass. Called after every branch event and once more, with
// hasNext=false, after the last event.
func (ctx *Context) endBlock(hasNext bool) {
	b := ctx.Assembler.EndBlock(hasNext)
	if b != nil {
		ctx.blocks = append(ctx.blocks, b)
	}
}

// finishLayout resolves every block's final start offset in emission order,
// then lets the assembler serialise the finished byte stream, then mirrors
// every logical instruction's startCode into its public Offset promise
func (ctx *Context) finishLayout() []byte {
	start := int64(0)
	for i, b := range ctx.blocks {
		var next Block
		if i+1 < len(ctx.blocks) {
			next = ctx.blocks[i+1]
		}
		start = b.Resolve(start, next)
	}
	// Every logical instruction's startCode (a CodePromise) is resolved by
	// now: it was created via Assembler.Offset() mid-block and each block's
	// own Resolve call above fixes up its local CodePromises against the
	// block's final start. Mirror it into the public Offset (an IpPromise)
	// before WriteTo runs, so branch operands built from Offset are readable while the assembler serialises fixups.
	for _, instr := range ctx.Arena.instrs {
		if instr.startCode != nil {
			Resolve(instr.Offset, instr.startCode.Value())
		}
	}
	return ctx.layoutPool()
}

// poolWordSize is the width of one constant-pool entry: a raw machine word,
// matching the pointer/int64 width every PoolPromise resolves to.
const poolWordSize = 8

// layoutPool sizes the emitted code, pads up to the next word boundary only
// when at least one value is actually queued for the pool (so a compilation
// that never touches PoolAppend/PoolAppendPromise gets byte-for-byte the
// same output it always did), resolves every queued PoolPromise to its
// absolute offset in the final buffer, and writes each entry's resolved
// value as a little-endian machine word right after the code.
func (ctx *Context) layoutPool() []byte {
	codeSize := ctx.Assembler.WriteTo(nil)
	poolStart := codeSize
	if len(ctx.Arena.pool) > 0 {
		if rem := poolStart % poolWordSize; rem != 0 {
			poolStart += poolWordSize - rem
		}
	}
	total := poolStart + len(ctx.Arena.pool)*poolWordSize
	buf := make([]byte, total)
	for i, node := range ctx.Arena.pool {
		Resolve(node.promise, int64(poolStart+i*poolWordSize))
	}
	ctx.Assembler.WriteTo(buf[:codeSize])
	for i, node := range ctx.Arena.pool {
		off := poolStart + i*poolWordSize
		binary.LittleEndian.PutUint64(buf[off:off+poolWordSize], uint64(node.value.Value()))
	}
	ctx.Stats.recordLayout(codeSize, total-poolStart)
	return buf
}
