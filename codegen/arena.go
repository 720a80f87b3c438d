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

// Arena hands out every graph node (Value, Event, Link, StackElement,
// LogicalInstruction, Promise) used by one compilation. Nothing it hands
// out is ever freed individually — Go's GC reclaims the whole graph when the
// Context that owns the Arena is dropped, so Arena is a bookkeeping factory
// rather than a hand-rolled bump allocator: it pre-sizes the slices it walks
// during the compile pass from an expected-event-count hint, and it is the
// single place that can iterate "every value" or "every promise" a
// compilation ever created.
type Arena struct {
	values   []*Value
	events   []*Event
	instrs   []*LogicalInstruction
	promises []Promise
	pool     []poolNode
}

// poolNode is one entry queued for the constant pool: promise is the slot
// PoolAppend/PoolAppendPromise handed back to the front end, value is what
// finishLayout writes into that slot once the pool's base address is known.
type poolNode struct {
	promise *PoolPromise
	value   Promise
}

// NewArena preallocates backing slices sized for a compilation of the given
// rough event count.
func NewArena(expectedEvents int) *Arena {
	if expectedEvents < 16 {
		expectedEvents = 16
	}
	return &Arena{
		values: make([]*Value, 0, expectedEvents),
		events: make([]*Event, 0, expectedEvents),
		instrs: make([]*LogicalInstruction, 0, expectedEvents/4+1),
	}
}

// NewValue allocates a fresh Value node owned by this arena.
func (a *Arena) NewValue() *Value {
	v := &Value{}
	a.values = append(a.values, v)
	return v
}

// NewEvent allocates a fresh Event node owned by this arena.
func (a *Arena) NewEvent(instr *LogicalInstruction, compile func(*Context, *Event)) *Event {
	e := &Event{instr: instr, compileFn: compile}
	a.events = append(a.events, e)
	return e
}

// NewLogicalInstruction allocates a fresh logical instruction node.
func (a *Arena) NewLogicalInstruction(index int) *LogicalInstruction {
	li := &LogicalInstruction{Index: index}
	li.Offset = a.NewIpPromise(li)
	a.instrs = append(a.instrs, li)
	return li
}

// Values returns every value ever allocated in this arena, in allocation
// order. Used by tests; the compile pass walks the same list for its final
// release of values nothing reads.
func (a *Arena) Values() []*Value { return a.values }

// Events returns every event ever allocated, in allocation order.
func (a *Arena) Events() []*Event { return a.events }

// Promise is a deferred integer resolved after code layout: a machine
// offset, a constant-pool address, or the start of a logical instruction.
// Evaluating an unresolved Promise is a fatal compiler error.
type Promise interface {
	Resolved() bool
	Value() int64
	resolve(v int64)
}

type basePromise struct {
	resolved bool
	value    int64
}

func (p *basePromise) Resolved() bool { return p.resolved }

func (p *basePromise) Value() int64 {
	if !p.resolved {
		panic(&CompileError{Kind: ErrUnresolvedPromise, Message: "promise read before resolution"})
	}
	return p.value
}

func (p *basePromise) resolve(v int64) {
	p.resolved = true
	p.value = v
}

// PoolPromise resolves to an offset into the post-code constant pool.
type PoolPromise struct{ basePromise }

// CodePromise resolves to an offset inside the emitted machine code.
type CodePromise struct{ basePromise }

// IpPromise resolves to the start offset of a logical instruction.
type IpPromise struct {
	basePromise
	instr *LogicalInstruction
}

// NewPoolPromise allocates an unresolved constant-pool promise.
func (a *Arena) NewPoolPromise() *PoolPromise {
	p := &PoolPromise{}
	a.promises = append(a.promises, p)
	return p
}

// NewCodePromise allocates an unresolved code-offset promise.
func (a *Arena) NewCodePromise() *CodePromise {
	p := &CodePromise{}
	a.promises = append(a.promises, p)
	return p
}

// NewIpPromise allocates an unresolved logical-instruction-start promise.
func (a *Arena) NewIpPromise(instr *LogicalInstruction) *IpPromise {
	p := &IpPromise{instr: instr}
	a.promises = append(a.promises, p)
	return p
}

// Resolve assigns v to p. Exported for the compile pass, which
// is the only caller allowed to resolve promises — front-end code never
// resolves a promise it didn't create for its own bookkeeping.
func Resolve(p Promise, v int64) { p.resolve(v) }
