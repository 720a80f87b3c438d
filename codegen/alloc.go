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

// acquire binds register r to v/site, evicting whatever previously owned it
// via trySteal first. Panics with ErrAllocFailed if the prior owner
// cannot be evicted.
func (t *RegisterTable) acquire(ctx *Context, r int, v *Value, site Site) {
	e := t.entry(r)
	if e.owner != nil && e.owner != v {
		if !trySteal(ctx, e) {
			panic(&CompileError{Kind: ErrAllocFailed, Message: "cannot steal register: no save site derivable"})
		}
	}
	e.owner = v
	e.site = site
	e.used = true
}

func (t *RegisterTable) release(r int) {
	e := t.entry(r)
	e.owner = nil
	e.site = nil
}

// AllocRegister picks the cheapest register satisfying mask and acquires it
// for v, evicting a prior occupant if necessary.
func (t *RegisterTable) AllocRegister(ctx *Context, mask uint32, v *Value) (int, bool) {
	r, ok := t.pick(mask)
	if !ok {
		return 0, false
	}
	t.acquire(ctx, r, v, nil) // site filled in by caller once constructed
	return r, true
}

func (t *FrameTable) acquire(slot int, v *Value, site Site) {
	if slot >= len(t.entries) {
		t.Grow(slot + 1)
	}
	e := t.entry(slot)
	e.owner = v
	e.site = site
	e.used = true
}

func (t *FrameTable) release(slot int) {
	e := t.entry(slot)
	e.owner = nil
	e.site = nil
	e.used = false
}

// trySteal evicts the current owner of a register resource so a new value
// can take it over.
//
// If the owning value already lives in >=2 sites, the register site is
// simply dropped — the value survives at its other site(s). Otherwise a
// save site is derived (the owner's canonical frame slot if it is a local,
// or its canonical stack slot otherwise), the value is moved there, and
// only then is the register site released.
func trySteal(ctx *Context, e *resourceEntry) bool {
	v := e.owner
	if v == nil {
		return true
	}
	if v.siteCount() >= 2 {
		v.removeSite(e.site)
		e.site.Release(ctx)
		return true
	}
	save := ctx.canonicalSaveSite(v)
	if save == nil {
		return false
	}
	ctx.emitMove(e.site, save, v) // emitMove already adds save to v's site list
	v.removeSite(e.site)
	e.site.Release(ctx)
	ctx.Stats.recordSpill()
	ctx.Stats.recordSteal()
	return true
}

// Swap emits a machine Swap of two registers' contents and relabels the
// resource table so reference counts move with the physical register
// number, not with value identity.
func (t *RegisterTable) Swap(ctx *Context, a, b int) {
	ea, eb := t.entry(a), t.entry(b)
	ctx.Assembler.Apply(OpSwap, []Size{8, 8}, nil,
		Operand{Kind: OperandRegister, Reg: a}, Operand{Kind: OperandRegister, Reg: b})
	ea.owner, eb.owner = eb.owner, ea.owner
	ea.site, eb.site = eb.site, ea.site
	if rs, ok := ea.site.(*RegisterSite); ok {
		if rs.Low == b {
			rs.Low = a
		} else if rs.High == b {
			rs.High = a
		}
	}
	if rs, ok := eb.site.(*RegisterSite); ok {
		if rs.Low == a {
			rs.Low = b
		} else if rs.High == a {
			rs.High = b
		}
	}
}
