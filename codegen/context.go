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

import "github.com/google/uuid"

// Config are the construction-time knobs for a Context: which
// architecture and assembler back it, whether to omit the frame pointer,
// and where to route log output. There is no config-file format at this
// layer — cmd/jitasm and cmd/jitrepl layer flag parsing and a JSON
// architecture descriptor on top, the way a CLI front end commonly layers flag parsing
// and env vars on top of its own engine (main.go).
type Config struct {
	Architecture Architecture
	Assembler    Assembler
	Runtime      RuntimeClient
	TraceHandler TraceHandler
	Logger       Logger
	OmitFramePointer bool
}

// Context is the single owner of all mutable allocator state for one
// compilation: resource tables, the event graph, the operand stack,
// locals, and fork/junction bookkeeping. Contexts are never shared across
// goroutines; concurrent compilations use independent Contexts.
type Context struct {
	Arena        *Arena
	Registers    *RegisterTable
	Frame        *FrameTable
	Architecture Architecture
	Assembler    Assembler
	Runtime      RuntimeClient
	TraceHandler TraceHandler
	Logger       Logger
	Stats        *CompileStats

	// CompilationID distinguishes safepoint records from independent
	// Contexts running in different goroutines, minted from a
	// cryptographically seeded uuid.SetRand(rand.Reader) generator.
	CompilationID uuid.UUID

	stack  *StackElement
	locals []Local

	logicalIP     int
	current       *Event
	curInstr      *LogicalInstruction
	logicalInstrs []*LogicalInstruction

	// instrsByIP and pendingPreds back the front-end's VisitLogicalIp /
	// StartLogicalIp pair (frontend.go): instrsByIP lets a
	// forward branch reference a LogicalInstruction before it is started,
	// pendingPreds queues the Links a forward branch owes that instruction
	// until its first event actually exists.
	instrsByIP   map[int]*LogicalInstruction
	pendingPreds map[int][]*Event

	// junctionTargets maps a predecessor event to the SiteTable its
	// successor join agreed on, built once up front by
	// propagateJunctionTargets so each predecessor can correct its own live
	// values against it at its own compiled position (junction.go).
	junctionTargets map[*Event]SiteTable

	compareOutcome CompareOutcome

	localFootprint  int
	paramFootprint  int
	frameSize       int

	blocks []Block

	// compiledCode holds the result of the last Finish() call so WriteTo
	// can serve it without recompiling.
	compiledCode []byte
}

// Init constructs a Context ready to accept front-end calls.
// codeLen is a size hint for the assembler's output buffer; paramFootprint
// and localFootprint are word counts; frameSize is the caller-declared
// stack-frame size before alignment.
func Init(codeLen, paramFootprint, localFootprint, frameSize int, cfg Config) *Context {
	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger{}
	}
	arch := cfg.Architecture
	ctx := &Context{
		Arena:          NewArena(codeLen / 4),
		Registers:      NewRegisterTable(arch.RegisterCount(), arch.Reserved),
		Frame:          NewFrameTable(alignWords(frameSize) + paramFootprint),
		Architecture:   arch,
		Assembler:      cfg.Assembler,
		Runtime:        cfg.Runtime,
		TraceHandler:   cfg.TraceHandler,
		Logger:         logger,
		Stats:          &CompileStats{},
		CompilationID:  uuid.New(),
		locals:         make([]Local, localFootprint),
		localFootprint: localFootprint,
		paramFootprint: paramFootprint,
		frameSize:      frameSize,
		instrsByIP:      make(map[int]*LogicalInstruction),
		pendingPreds:    make(map[int][]*Event),
		junctionTargets: make(map[*Event]SiteTable),
	}
	ctx.Assembler.SetClient(ctx)
	return ctx
}

func alignWords(n int) int {
	const align = 2 // 16-byte stack alignment == 2 words on a 64-bit target
	if n%align == 0 {
		return n
	}
	return n + (align - n%align)
}

// canonicalSaveSite derives the frame slot a value must be evicted to:
// a local's own slot for locals, or the stack temporary's
// own canonical slot otherwise. Returns nil if no canonical slot can be
// derived (the allocator then reports failure to the caller, who may pick
// a different register via Swap).
func (ctx *Context) canonicalSaveSite(v *Value) Site {
	idx, ok := ctx.canonicalFrameIndex(v)
	if !ok {
		return nil
	}
	slot, ok := ctx.Frame.pickSlot(FrameIndex(idx))
	if !ok {
		return nil
	}
	return &MemorySite{Base: ctx.Architecture.Stack(), Displacement: int32(slot * 8), frameIndex: FrameIndex(slot)}
}

func (ctx *Context) canonicalFrameIndex(v *Value) (int, bool) {
	if v.local {
		return v.localIdx, true
	}
	for se := ctx.stack; se != nil; se = se.Next {
		if se.Value == v {
			return ctx.localFootprint + se.Index, true
		}
	}
	return 0, false
}

// emitMove drives the assembler to copy v from src to dst and records dst
// as an additional site of v (invariant 4 — a value may legitimately live
// in several sites at once; the old site stays valid until its own
// Release, so nothing observing v through it mid-move sees a gap).
func (ctx *Context) emitMove(src, dst Site, v *Value) {
	dst.Acquire(ctx, v)
	ctx.Assembler.Apply(OpMove, []Size{8}, nil, src.AsOperand(), dst.AsOperand())
	v.AddSite(dst)
	ctx.Stats.recordMove()
	ctx.Logger.Tracef("move", "alloc")
}

// AssemblerClient implementation: the assembler
// borrows scratch registers through the same RegisterTable the allocator
// uses, so scratch usage is visible to cost-based picking.
func (ctx *Context) AcquireTemporary(mask uint32) int {
	r, ok := ctx.Registers.pick(mask)
	if !ok {
		abort(ErrAllocFailed, "no temporary register available for mask %#x", mask)
	}
	ctx.Registers.entry(r).used = true
	return r
}

func (ctx *Context) ReleaseTemporary(reg int) {
	ctx.Registers.entry(reg).used = false
}

func (ctx *Context) Save(reg int) {
	ctx.Registers.entry(reg).freezeCount++
}

func (ctx *Context) Restore(reg int) {
	ctx.Registers.entry(reg).freezeCount--
}
