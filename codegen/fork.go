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

// ForkState is the snapshot saved by SaveState: the stack, the
// locals, the event the fork happened at, the current logical-instruction
// index, and one MultiRead per value that was live at the fork point. Each
// later front-end operation on a forked path accumulates one more
// alternative constraint onto these MultiReads; RestoreState rewinds the
// front-end's cursor back to this point so a second path can be tried.
type ForkState struct {
	stack      stackSnapshot
	locals     localsSnapshot
	at         *Event
	logicalIP  int
	multiReads map[*Value]*MultiRead
}

// SaveState snapshots the current allocator state so the front-end can
// rewind and take a different path later.
func (c *Context) SaveState() *ForkState {
	fs := &ForkState{
		stack:     c.stackSnap(),
		locals:    snapshotLocals(c.locals),
		at:        c.current,
		logicalIP: c.logicalIP,
		multiReads: make(map[*Value]*MultiRead),
	}
	live := c.liveValues()
	if len(live) == 0 {
		return fs
	}
	// Dummy anchors the fork point as a real event, the same join-point
	// role its own doc comment already describes. Routing each MultiRead
	// through this event's AddRead, rather than pushing it onto the value's
	// queue directly, is what guarantees compileEvent's AdvanceRead walk
	// dequeues it exactly once no matter how many branches fork from here.
	e := c.Dummy()
	for _, v := range live {
		mr := NewMultiRead(0)
		// The MultiRead occupies one slot in v's read queue regardless of
		// how many branches fork from here — each branch only contributes
		// an alternative Constraint via AddTarget.
		e.AddRead(v, mr)
		fs.multiReads[v] = mr
	}
	return fs
}

// RestoreState rewinds the front-end cursor to fs and registers one more
// alternative constraint, for the branch about to be built, on every live
// value's shared MultiRead. Call once per branch taken from this
// fork point, including the first.
func (c *Context) RestoreState(fs *ForkState) {
	c.stack = fs.stack.top
	c.locals = append([]Local(nil), fs.locals.locals...)
	c.current = fs.at
	c.logicalIP = fs.logicalIP
	for _, mr := range fs.multiReads {
		single := NewSingleRead(0, TypeAny, NewRegisterMask(^uint32(0), ^uint32(0)), AnyFrameIndex)
		mr.AddTarget(single)
	}
}

func (c *Context) stackSnap() stackSnapshot { return stackSnapshot{top: c.stack} }

// liveValues returns every value currently reachable from the stack or
// locals, used to decide which values need a MultiRead at a fork point.
func (c *Context) liveValues() []*Value {
	seen := make(map[*Value]bool)
	var out []*Value
	for se := c.stack; se != nil; se = se.Next {
		if se.Value != nil && !seen[se.Value] {
			seen[se.Value] = true
			out = append(out, se.Value)
		}
	}
	for _, l := range c.locals {
		if l.Value != nil && !seen[l.Value] {
			seen[l.Value] = true
			out = append(out, l.Value)
		}
	}
	return out
}
