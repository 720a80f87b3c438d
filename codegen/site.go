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

// Site is a concrete physical location currently holding a value.
// The four kinds below are closed and the dispatch surface is stable, so
// Site is modeled as a tagged variant behind a small interface rather than
// as an open class hierarchy.
//
// A Site belongs to at most one Value at a time and participates in exactly
// one intrusive singly-linked list: the owning Value's site list.
type Site interface {
	Kind() SiteKind
	// Match reports whether this site already satisfies the given read
	// constraint set.
	Match(types TypeMask, regs RegisterMask, frame FrameIndex) bool
	// CopyCost returns 0 if this site IS target, a small positive integer
	// proportional to the move cost otherwise.
	CopyCost(target Site) int
	// Acquire registers ownership of the backing resource(s) for v,
	// possibly evicting a prior owner.
	Acquire(ctx *Context, v *Value)
	// Release gives up ownership of the backing resource(s). Must be
	// called exactly once per Acquire before any other value may acquire
	// the same resource (invariant 2).
	Release(ctx *Context)
	// Freeze/Thaw bracket critical sections during move code generation so
	// the backing resource cannot be picked as a scratch or stolen
	// (invariant 3).
	Freeze(ctx *Context)
	Thaw(ctx *Context)
	// AsOperand renders this site as an assembler-level operand.
	AsOperand() Operand

	next() Site
	setNext(Site)
}

// SiteKind tags the four closed Site variants.
type SiteKind uint8

const (
	SiteConstant SiteKind = iota
	SiteAddress
	SiteRegister
	SiteMemory
)

// siteLink is the intrusive "next" field shared by every Site variant so
// that a Value's site list can be a plain singly-linked list without boxing.
type siteLink struct{ nextSite Site }

func (l *siteLink) next() Site     { return l.nextSite }
func (l *siteLink) setNext(s Site) { l.nextSite = s }

// ConstantSite is an immediate value; copying from it is always cheap and it
// never occupies a resource table slot.
type ConstantSite struct {
	siteLink
	Promise Promise
	Imm     int64 // set directly when the constant is known without a Promise
}

func (s *ConstantSite) Kind() SiteKind { return SiteConstant }

func (s *ConstantSite) Match(types TypeMask, regs RegisterMask, frame FrameIndex) bool {
	return types&TypeConstant != 0 && (frame == NoFrameIndex || frame == AnyFrameIndex)
}

func (s *ConstantSite) CopyCost(target Site) int {
	if target == Site(s) {
		return 0
	}
	return 1
}

func (s *ConstantSite) Acquire(ctx *Context, v *Value) {}
func (s *ConstantSite) Release(ctx *Context)            {}
func (s *ConstantSite) Freeze(ctx *Context)             {}
func (s *ConstantSite) Thaw(ctx *Context)               {}

func (s *ConstantSite) value() int64 {
	if s.Promise != nil {
		return s.Promise.Value()
	}
	return s.Imm
}

func (s *ConstantSite) AsOperand() Operand {
	return Operand{Kind: OperandImmediate, Imm: s.value()}
}

// AddressSite is a code/data address to be materialised from a Promise.
type AddressSite struct {
	siteLink
	Promise Promise
}

func (s *AddressSite) Kind() SiteKind { return SiteAddress }

func (s *AddressSite) Match(types TypeMask, regs RegisterMask, frame FrameIndex) bool {
	return types&TypeAddress != 0 && (frame == NoFrameIndex || frame == AnyFrameIndex)
}

func (s *AddressSite) CopyCost(target Site) int {
	if target == Site(s) {
		return 0
	}
	return 3
}

func (s *AddressSite) Acquire(ctx *Context, v *Value) {}
func (s *AddressSite) Release(ctx *Context)            {}
func (s *AddressSite) Freeze(ctx *Context)             {}
func (s *AddressSite) Thaw(ctx *Context)               {}

func (s *AddressSite) AsOperand() Operand {
	return Operand{Kind: OperandAddress, Promise: s.Promise}
}

// RegisterSite occupies one or two architectural registers (Low/High) for
// values wider than a machine word.
type RegisterSite struct {
	siteLink
	AllowedMask uint32
	Low         int
	High        int // -1 if single-register
}

func (s *RegisterSite) Kind() SiteKind { return SiteRegister }

func (s *RegisterSite) isPair() bool { return s.High >= 0 }

func (s *RegisterSite) Match(types TypeMask, regs RegisterMask, frame FrameIndex) bool {
	if types&TypeRegister == 0 {
		return false
	}
	if frame != NoFrameIndex && frame != AnyFrameIndex {
		return false
	}
	if regs.Low()&(1<<uint(s.Low)) == 0 {
		return false
	}
	if s.isPair() && regs.High()&(1<<uint(s.High)) == 0 {
		return false
	}
	return true
}

func (s *RegisterSite) CopyCost(target Site) int {
	if target == Site(s) {
		return 0
	}
	if rs, ok := target.(*RegisterSite); ok && rs.Low == s.Low && rs.High == s.High {
		return 0
	}
	return 2
}

func (s *RegisterSite) Acquire(ctx *Context, v *Value) {
	ctx.Registers.acquire(ctx, s.Low, v, s)
	if s.isPair() {
		ctx.Registers.acquire(ctx, s.High, v, s)
	}
}

func (s *RegisterSite) Release(ctx *Context) {
	ctx.Registers.release(s.Low)
	if s.isPair() {
		ctx.Registers.release(s.High)
	}
}

func (s *RegisterSite) Freeze(ctx *Context) {
	ctx.Registers.entry(s.Low).freezeCount++
	if s.isPair() {
		ctx.Registers.entry(s.High).freezeCount++
	}
}

func (s *RegisterSite) Thaw(ctx *Context) {
	ctx.Registers.entry(s.Low).freezeCount--
	if s.isPair() {
		ctx.Registers.entry(s.High).freezeCount--
	}
}

func (s *RegisterSite) AsOperand() Operand {
	if s.isPair() {
		return Operand{Kind: OperandRegisterPair, Reg: s.Low, Reg2: s.High}
	}
	return Operand{Kind: OperandRegister, Reg: s.Low}
}

// MemorySite is a memory operand: [base + index*scale + displacement]. When
// base is the architecture's stack-pointer register it is also a frame
// slot, and FrameIndex reports which one.
type MemorySite struct {
	siteLink
	Base         int
	Displacement int32
	HasIndex     bool
	Index        int
	Scale        uint8
	frameIndex   FrameIndex // NoFrameIndex unless base==stack pointer
}

func (s *MemorySite) Kind() SiteKind { return SiteMemory }

func (s *MemorySite) Match(types TypeMask, regs RegisterMask, frame FrameIndex) bool {
	if types&TypeMemory == 0 {
		return false
	}
	switch {
	case frame == NoFrameIndex:
		return s.frameIndex == NoFrameIndex
	case frame == AnyFrameIndex:
		return true
	case frame >= 0:
		return s.frameIndex == frame
	}
	return true
}

func (s *MemorySite) CopyCost(target Site) int {
	if target == Site(s) {
		return 0
	}
	if ms, ok := target.(*MemorySite); ok && ms.Base == s.Base && ms.Displacement == s.Displacement && ms.HasIndex == s.HasIndex && ms.Index == s.Index {
		return 0
	}
	return 4
}

func (s *MemorySite) Acquire(ctx *Context, v *Value) {
	if s.frameIndex >= 0 {
		ctx.Frame.acquire(int(s.frameIndex), v, s)
	}
	ctx.Registers.entry(s.Base).refCount++
	if s.HasIndex {
		ctx.Registers.entry(s.Index).refCount++
	}
}

func (s *MemorySite) Release(ctx *Context) {
	if s.frameIndex >= 0 {
		ctx.Frame.release(int(s.frameIndex))
	}
	ctx.Registers.entry(s.Base).refCount--
	if s.HasIndex {
		ctx.Registers.entry(s.Index).refCount--
	}
}

func (s *MemorySite) Freeze(ctx *Context) {
	if s.frameIndex >= 0 {
		ctx.Frame.entry(int(s.frameIndex)).freezeCount++
	}
}

func (s *MemorySite) Thaw(ctx *Context) {
	if s.frameIndex >= 0 {
		ctx.Frame.entry(int(s.frameIndex)).freezeCount--
	}
}

func (s *MemorySite) IsFrameSlot() bool { return s.frameIndex >= 0 }
func (s *MemorySite) FrameIndex() FrameIndex { return s.frameIndex }

func (s *MemorySite) AsOperand() Operand {
	op := Operand{Kind: OperandMemory, Reg: s.Base, Displacement: s.Displacement}
	if s.HasIndex {
		op.HasIndex = true
		op.Index = s.Index
		op.Scale = s.Scale
	}
	return op
}

// OperandKind tags the shape of an Operand handed to the assembler.
type OperandKind uint8

const (
	OperandImmediate OperandKind = iota
	OperandAddress
	OperandRegister
	OperandRegisterPair
	OperandMemory
)

// Operand is the assembler-facing rendering of a Site. Address operands
// carry their Promise rather than a resolved Imm: the target offset is not
// known until the block layout pass runs, so the assembler implementation
// registers a fixup against Promise instead of reading Imm eagerly.
type Operand struct {
	Kind         OperandKind
	Imm          int64
	Promise      Promise
	Reg          int
	Reg2         int
	Displacement int32
	HasIndex     bool
	Index        int
	Scale        uint8
}
