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

// JunctionState is attached to a Link when VisitLogicalIp discovers that
// control flow merges at an already-seen logical instruction. It
// carries one StubRead per value live on the merging edge; those stubs are
// bound to the real continuation reads once they become known.
type JunctionState struct {
	stubs map[*Value]*StubRead
}

// visitJunction is called by the front-end when the
// target logical instruction has already been seen: it installs a stub
// read for every value live on the incoming edge and records the junction
// on the connecting Link.
func (c *Context) visitJunction(from *Event, to *LogicalInstruction) *Link {
	js := &JunctionState{stubs: make(map[*Value]*StubRead)}
	// The stub has to be anchored at the event compiling right now (the
	// branch's own source, not to.First, which was already compiled
	// earlier in event order): that is what keeps its position in each
	// live value's read queue aligned with the position compileEvent will
	// actually be at when it reaches this anchor and advances past it.
	anchor := from
	if anchor == nil {
		anchor = c.Dummy()
	}
	for _, v := range c.liveValues() {
		stub := NewStubRead(0)
		anchor.AddRead(v, stub)
		js.stubs[v] = stub
	}
	l := &Link{From: from, To: to.First, Junction: js}
	if from != nil {
		from.Succs = append(from.Succs, l)
	}
	to.First.Preds = append(to.First.Preds, l)
	return l
}

// InstallStub resolves a previously-inserted stub read by
// pointing it at the first non-stub read of the continuation.
func (js *JunctionState) InstallStub(v *Value, real Read) {
	if stub, ok := js.stubs[v]; ok {
		stub.Install(real)
	}
}

// propagateJunctionTargets is a pre-pass, run once before the main compile
// walk, that gives every event with more than one predecessor a single
// shared SiteTable and hands a reference to it to each of that join's direct
// predecessors. It decides nothing about placement itself; it only makes
// sure that when each predecessor is later compiled, it has the same table
// object its siblings will read from and write into.
func (ctx *Context) propagateJunctionTargets() {
	for _, e := range ctx.Arena.events {
		if len(e.Preds) < 2 {
			continue
		}
		table := make(SiteTable)
		for _, link := range e.Preds {
			if link.From != nil {
				ctx.junctionTargets[link.From] = table
			}
		}
	}
}

// resolvePredecessorJunctionSite is called at the tail of compileEvent for
// every event, immediately after its own code is emitted. Most events feed
// no join and this is a no-op. For an event that does feed one, the first
// predecessor to reach a given live value decides the join's target for it
// (preferring whatever site that value already happens to occupy, so the
// common case costs nothing); every later predecessor whose own site
// disagrees gets exactly one corrective move, emitted here, at its own
// compiled position, not at the join. This is what keeps a predecessor that
// already agrees with the join from ever being touched by a correction meant
// for a sibling that disagrees.
func (ctx *Context) resolvePredecessorJunctionSite(e *Event) {
	table, ok := ctx.junctionTargets[e]
	if !ok {
		return
	}
	wide := Constraint{Types: TypeAny, Regs: NewRegisterMask(^uint32(0), ^uint32(0)), Frame: AnyFrameIndex}
	for _, v := range ctx.liveValues() {
		want, decided := table[v]
		if !decided {
			if site := v.BestSite(wide); site != nil {
				table[v] = site
			}
			continue
		}
		if v.HasSite(want) {
			continue
		}
		existing := v.BestSite(wide)
		if existing == nil {
			continue
		}
		want.Freeze(ctx)
		ctx.emitMove(existing, want, v)
		want.Thaw(ctx)
	}
}

// resolveJunctionSites reads the site table propagateJunctionTargets built
// for e (every direct predecessor was handed the same table object, so any
// one of them resolves it) and forwards any not-yet-installed junction stub
// to the first real read behind it. It no longer emits any corrective moves
// itself — those are emitted on each predecessor's own edge by
// resolvePredecessorJunctionSite, right after that predecessor's own code
// is emitted.
func resolveJunctionSites(ctx *Context, e *Event) SiteTable {
	if len(e.Preds) < 2 {
		return nil
	}
	var table SiteTable
	for _, link := range e.Preds {
		if link.From == nil {
			continue
		}
		if t, ok := ctx.junctionTargets[link.From]; ok {
			table = t
			break
		}
	}
	if table == nil {
		table = make(SiteTable)
	}
	for _, link := range e.Preds {
		if link.Junction == nil {
			continue
		}
		for v, stub := range link.Junction.stubs {
			if !stub.Installed() {
				if head := firstNonStub(v.HeadRead()); head != nil {
					stub.Install(head)
				}
			}
		}
	}
	return table
}

func firstNonStub(r Read) Read {
	for r != nil {
		if stub, ok := r.(*StubRead); ok {
			if !stub.Installed() {
				r = r.Next()
				continue
			}
			r = stub.inner
			continue
		}
		return r
	}
	return nil
}
