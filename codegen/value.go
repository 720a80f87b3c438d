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

// Value is a graph node carrying the set of sites it currently lives in
// plus a queue of future read requests. A Value may be a member of a
// buddy ring: a circular list of values that must be kept in
// lockstep, such as a local that is also pushed onto the operand stack.
type Value struct {
	sites    Site // head of the intrusive site list
	readHead Read
	buddy    *Value // next value in the buddy ring; nil if not buddied
	local    bool   // marks a live local (affects canonical save-site choice)
	localIdx int
	name     string // for debug/trace output only
}

// AddSite inserts s at the head of v's site list.
func (v *Value) AddSite(s Site) {
	s.setNext(v.sites)
	v.sites = s
}

func (v *Value) addSite(s Site) { v.AddSite(s) }

// RemoveSite splices s out of v's site list.
func (v *Value) RemoveSite(s Site) {
	if v.sites == s {
		v.sites = s.next()
		s.setNext(nil)
		return
	}
	for cur := v.sites; cur != nil; cur = cur.next() {
		if cur.next() == s {
			cur.setNext(s.next())
			s.setNext(nil)
			return
		}
	}
}

func (v *Value) removeSite(s Site) { v.RemoveSite(s) }

// Sites returns every site currently holding v itself; buddies' sites are
// not included (BestSite is what scans the buddy ring).
func (v *Value) Sites() []Site {
	var out []Site
	for cur := v.sites; cur != nil; cur = cur.next() {
		out = append(out, cur)
	}
	return out
}

// siteCount reports how many sites currently hold v (not counting buddies);
// used by trySteal to decide whether dropping a register site still
// leaves the value live somewhere else.
func (v *Value) siteCount() int {
	n := 0
	for cur := v.sites; cur != nil; cur = cur.next() {
		n++
	}
	return n
}

// HasSite reports whether s is currently in v's own site list.
func (v *Value) HasSite(s Site) bool {
	for cur := v.sites; cur != nil; cur = cur.next() {
		if cur == s {
			return true
		}
	}
	return false
}

// IsLive reports whether v is live: a live value always has >=1 site.
func (v *Value) IsLive() bool { return v.sites != nil }

// BestSite scans v and every member of its buddy ring (invariant 5) for an
// existing site that already satisfies the constraint — reusing it needs no
// move at all. Returns nil if nothing matches; the caller must then
// allocate a new target site and copy into it.
func (v *Value) BestSite(c Constraint) Site {
	if s := matchIn(v, c); s != nil {
		return s
	}
	for b := v.buddy; b != nil && b != v; b = b.buddy {
		if s := matchIn(b, c); s != nil {
			return s
		}
	}
	return nil
}

func matchIn(v *Value, c Constraint) Site {
	for cur := v.sites; cur != nil; cur = cur.next() {
		if cur.Match(c.Types, c.Regs, c.Frame) {
			return cur
		}
	}
	return nil
}

// CheapestSource scans v and its buddy ring for the site with the lowest
// CopyCost against a freshly chosen target — used when no existing site
// satisfies the read directly and a move must be emitted.
func (v *Value) CheapestSource(target Site) Site {
	var best Site
	bestCost := 1 << 30
	scan := func(val *Value) {
		for cur := val.sites; cur != nil; cur = cur.next() {
			cost := cur.CopyCost(target)
			if cost < bestCost {
				bestCost = cost
				best = cur
			}
		}
	}
	scan(v)
	for b := v.buddy; b != nil && b != v; b = b.buddy {
		scan(b)
	}
	return best
}

// PushRead appends r to the tail of v's read queue.
func (v *Value) PushRead(r Read) {
	if v.readHead == nil {
		v.readHead = r
		return
	}
	cur := v.readHead
	for cur.Next() != nil {
		cur = cur.Next()
	}
	cur.SetNext(r)
}

// HeadRead returns the next pending read, or nil if the queue is empty.
func (v *Value) HeadRead() Read { return v.readHead }

// AdvanceRead pops the head of the read queue (invariant 1: the queue never
// shrinks except by advancing past the current head in event order). If the
// queue becomes empty, every site of v is released.
func (v *Value) AdvanceRead(ctx *Context) {
	if v.readHead == nil {
		panic(&CompileError{Kind: ErrReadQueue, Message: "advancing an empty read queue"})
	}
	v.readHead = v.readHead.Next()
	if v.readHead == nil {
		for cur := v.sites; cur != nil; {
			next := cur.next()
			cur.Release(ctx)
			cur = next
		}
		v.sites = nil
	}
}

// AddBuddy splices new into original's buddy ring.
func AddBuddy(original, new *Value) {
	if original.buddy == nil {
		original.buddy = original
	}
	new.buddy = original.buddy
	original.buddy = new
}

// RemoveFromBuddyRing splices v out of whatever ring it belongs to.
func RemoveFromBuddyRing(v *Value) {
	if v.buddy == nil || v.buddy == v {
		v.buddy = nil
		return
	}
	cur := v.buddy
	for cur.buddy != v {
		cur = cur.buddy
	}
	nextAfterV := v.buddy
	if nextAfterV == cur {
		cur.buddy = cur
	} else {
		cur.buddy = nextAfterV
	}
	v.buddy = nil
}
