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

// SiteTable maps a Value to the single Site it is agreed to occupy — used
// both for junctionSites (computed backward from the earliest predecessor
// that owned it) and for savedSites (an event's outgoing table,
// snapshotted so every successor restores the same state).
type SiteTable map[*Value]Site

// eventRead pairs one Read with the Value it constrains, in the order the
// event issued them — so the compile pass can freeze sources in order and
// advance each value's queue exactly once per event.
type eventRead struct {
	Value *Value
	Read  Read
	// ResolvedSite is filled in by the compile pass's step 3 once a
	// site has been picked or materialised for this read; event-kind
	// compile functions (event_kinds.go) consume it instead of re-deriving
	// placement themselves.
	ResolvedSite Site
}

// Event is one operation node linked into the event graph.
type Event struct {
	instr *LogicalInstruction

	StackBefore, StackAfter   stackSnapshot
	LocalsBefore, LocalsAfter localsSnapshot

	reads []eventRead

	JunctionSites SiteTable
	SavedSites    SiteTable

	Preds []*Link
	Succs []*Link

	IsBranch bool

	compileFn func(ctx *Context, e *Event)
	// Data carries the event-kind-specific payload (MoveData, CombineData,
	// CallData, ...) so compileFn can recover its typed arguments.
	Data interface{}
}

// AddRead records that this event reads v under constraint r, appending r
// to v's read queue.
func (e *Event) AddRead(v *Value, r Read) {
	v.PushRead(r)
	e.reads = append(e.reads, eventRead{Value: v, Read: r})
}

func (e *Event) LogicalInstruction() *LogicalInstruction { return e.instr }

// siteFor returns the resolved site for v's read on this event, or nil if
// v was not read by this event (or resolution hasn't happened yet).
func (e *Event) siteFor(v *Value) Site {
	for i := range e.reads {
		if e.reads[i].Value == v {
			return e.reads[i].ResolvedSite
		}
	}
	return nil
}

// siteForRead returns the resolved site for one specific Read, disambiguating
// events (Move) that read the same Value twice under two different
// constraints within a single event.
func (e *Event) siteForRead(r Read) Site {
	for i := range e.reads {
		if e.reads[i].Read == r {
			return e.reads[i].ResolvedSite
		}
	}
	return nil
}

// Link is a directional predecessor->successor edge, optionally carrying
// junction bookkeeping. A fork's branches never share a Link the way a
// junction's merging edges do — SaveState/RestoreState track their own
// bookkeeping (ForkState) independently of the event graph's edges.
type Link struct {
	From, To *Event
	Junction *JunctionState
}

// connect wires from->to with a plain (non-fork, non-junction) link.
func connect(from, to *Event) *Link {
	l := &Link{From: from, To: to}
	if from != nil {
		from.Succs = append(from.Succs, l)
	}
	to.Preds = append(to.Preds, l)
	return l
}

// LogicalInstruction groups the events emitted by one front-end call into a
// single addressable unit with its own resolvable start offset.
type LogicalInstruction struct {
	Index      int
	First, Last *Event
	StackSnap  stackSnapshot
	LocalsSnap localsSnapshot
	Offset     *IpPromise
	// startCode is the assembler-level offset promise captured right before
	// this instruction's first event compiled; Offset mirrors it once the
	// compile pass has resolved every block.
	startCode *CodePromise
}

func (li *LogicalInstruction) append(e *Event) {
	if li.First == nil {
		li.First = e
	}
	li.Last = e
}
