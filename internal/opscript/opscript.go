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

// Package opscript is the line-oriented textual op-script format shared by
// cmd/jitasm (batch) and cmd/jitrepl (interactive). It is a thin,
// private-to-this-module front-end over codegen.Context's own front-end API
// (codegen/frontend.go): every command below maps to exactly one Context
// call, with a name table standing in for the raw *codegen.Value/Promise
// pointers a Go caller would otherwise pass directly.
package opscript

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/launix-de/jitbackend/amd64"
	"github.com/launix-de/jitbackend/codegen"
)

// Env threads interpreter state through one op-script session: named
// values and promises standing in for the Go pointers codegen.Context
// methods actually take, named fork snapshots, and the logical-ip
// numbering a textual label is translated into (Context keys logical
// instructions by int; scripts key them by name).
type Env struct {
	Ctx  *codegen.Context
	Arch *amd64.Architecture

	values   map[string]*codegen.Value
	promises map[string]codegen.Promise
	forks    map[string]*codegen.ForkState
	labels   map[string]int
	locals   map[string]int

	nextIP    int
	nextLocal int
}

// NewEnv returns an Env ready to Execute lines against ctx.
func NewEnv(ctx *codegen.Context, arch *amd64.Architecture) *Env {
	return &Env{
		Ctx:      ctx,
		Arch:     arch,
		values:   make(map[string]*codegen.Value),
		promises: make(map[string]codegen.Promise),
		forks:    make(map[string]*codegen.ForkState),
		labels:   make(map[string]int),
		locals:   make(map[string]int),
		// ip 0 is the logical instruction the Context opens implicitly
		// for the first event, so labels are numbered from 1.
		nextIP: 1,
	}
}

// CountDeclarations prescans a script's lines for "local" and "param"
// declarations, so a caller can size codegen.Init's localFootprint and
// paramFootprint before constructing the Context the script will run
// against (Context.locals is a fixed-size array once Init returns).
func CountDeclarations(lines []string) (locals, params int) {
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "local":
			locals++
		case "param":
			params++
		}
	}
	return
}

// Execute runs one line of op-script against e.Ctx. A blank line or a line
// starting with "#" is a no-op comment. Errors (malformed syntax, unknown
// names, or a codegen.CompileError panicked by the engine itself) are
// returned rather than panicked, mirroring a typical interactive-prompt
// anti-panic wrapper around its own REPL eval.
func (e *Env) Execute(line string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ce, ok := r.(*codegen.CompileError); ok {
				err = ce
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()

	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	tokens := strings.Fields(line)
	cmd, args := tokens[0], tokens[1:]

	switch cmd {
	case "local":
		e.requireArgs(cmd, args, 2)
		idx := e.nextLocal
		e.nextLocal++
		e.locals[args[0]] = idx
		e.Ctx.InitLocal(idx, atoiArg(args[1]))

	case "const":
		e.requireArgs(cmd, args, 2)
		e.values[args[0]] = e.Ctx.Constant(atoi64Arg(args[1]))

	case "storelocal":
		e.requireArgs(cmd, args, 2)
		e.Ctx.StoreLocal(e.localIdx(args[0]), e.value(args[1]))

	case "loadlocal":
		e.requireArgs(cmd, args, 2)
		e.values[args[0]] = e.Ctx.LoadLocal(e.localIdx(args[1]))

	case "add", "sub", "and", "or", "xor", "mul", "imul":
		e.requireArgs(cmd, args, 4)
		op, _ := amd64.OpByName(cmd)
		e.values[args[0]] = e.Ctx.Combine(op, parseSize(args[1]), e.value(args[2]), e.value(args[3]))

	case "neg", "not":
		e.requireArgs(cmd, args, 3)
		op, _ := amd64.OpByName(cmd)
		e.values[args[0]] = e.Ctx.Translate(op, parseSize(args[1]), e.value(args[2]))

	case "cmp":
		e.requireArgs(cmd, args, 3)
		e.Ctx.Compare(parseSize(args[0]), e.value(args[1]), e.value(args[2]))

	case "label":
		e.requireArgs(cmd, args, 1)
		e.Ctx.StartLogicalIp(e.labelIP(args[0]))

	case "goto":
		e.requireArgs(cmd, args, 1)
		target := e.Ctx.VisitLogicalIp(e.labelIP(args[0]))
		e.Ctx.Branch(codegen.BranchAlways, target)

	case "br":
		e.requireArgs(cmd, args, 2)
		kind, ok := branchKindByName(args[0])
		if !ok {
			return fmt.Errorf("opscript: unknown branch kind %q", args[0])
		}
		target := e.Ctx.VisitLogicalIp(e.labelIP(args[1]))
		e.Ctx.Branch(kind, target)

	case "push":
		e.requireArgs(cmd, args, 2)
		e.Ctx.Push(parseSize(args[1]), e.value(args[0]))

	case "pop":
		e.requireArgs(cmd, args, 1)
		v, _ := e.Ctx.Pop()
		e.values[args[0]] = v

	case "param":
		e.requireArgs(cmd, args, 3)
		v := e.Ctx.Arena.NewValue()
		e.Ctx.FrameSite(v, parseSize(args[2]), codegen.FrameIndex(atoiArg(args[1])))
		e.values[args[0]] = v

	case "extern":
		// A linked address resolved up front, standing in for a thunk or
		// callee whose final address this test driver already knows (a
		// real embedder would resolve it only at link time).
		e.requireArgs(cmd, args, 2)
		p := e.Ctx.Arena.NewPoolPromise()
		codegen.Resolve(p, atoi64Arg(args[1]))
		e.promises[args[0]] = p

	case "poolconst":
		// Queues a value for the constant pool without resolving anything
		// yet: unlike "extern", the returned promise stays unresolved until
		// finishLayout places the pool after the emitted code, so reading it
		// here would panic.
		e.requireArgs(cmd, args, 2)
		e.promises[args[0]] = e.Ctx.PoolAppend(atoi64Arg(args[1]))

	case "address":
		// Wraps a promise (typically a not-yet-resolved PoolPromise from
		// "poolconst") in a value the compiled code can actually reference —
		// an AddressSite defers to a fixup, so this is the genuine
		// deferred-resolution counterpart to "const".
		e.requireArgs(cmd, args, 2)
		p, ok := e.promises[args[1]]
		if !ok {
			return fmt.Errorf("opscript: undefined promise %q", args[1])
		}
		e.values[args[0]] = e.Ctx.Address(p)

	case "call":
		e.requireArgs(cmd, args, 2)
		result, addrName, argNames := args[0], args[1], args[2:]
		addr, ok := e.promises[addrName]
		if !ok {
			return fmt.Errorf("opscript: undefined address %q", addrName)
		}
		argv := make([]*codegen.Value, len(argNames))
		sizes := make([]codegen.Size, len(argNames))
		for i, n := range argNames {
			argv[i] = e.value(n)
			sizes[i] = 8
		}
		v := e.Ctx.Call(addr, argv, sizes, 8, result != "_")
		if result != "_" {
			e.values[result] = v
		}

	case "return":
		if len(args) == 0 {
			e.Ctx.Return(0, nil, false)
			return nil
		}
		size := codegen.Size(8)
		if len(args) > 1 {
			size = parseSize(args[1])
		}
		e.Ctx.Return(size, e.value(args[0]), true)

	case "buddy":
		e.requireArgs(cmd, args, 2)
		e.Ctx.Buddy(e.value(args[0]), e.value(args[1]))

	case "dummy":
		e.Ctx.Dummy()

	case "save":
		e.requireArgs(cmd, args, 1)
		e.forks[args[0]] = e.Ctx.SaveState()

	case "restore":
		e.requireArgs(cmd, args, 1)
		fs, ok := e.forks[args[0]]
		if !ok {
			return fmt.Errorf("opscript: unknown fork %q", args[0])
		}
		e.Ctx.RestoreState(fs)

	case "memory":
		e.requireArgs(cmd, args, 5)
		var index *codegen.Value
		if args[3] != "_" {
			index = e.value(args[3])
		}
		e.values[args[0]] = e.Ctx.Memory(e.value(args[1]), int32(atoiArg(args[2])), index, uint8(atoiArg(args[4])))

	case "bounds":
		e.requireArgs(cmd, args, 4)
		handler := e.Ctx.VisitLogicalIp(e.labelIP(args[3])).Offset
		e.Ctx.CheckBounds(e.value(args[0]), int32(atoiArg(args[1])), e.value(args[2]), handler)

	default:
		return fmt.Errorf("opscript: unknown instruction %q", cmd)
	}
	return nil
}

func (e *Env) requireArgs(cmd string, args []string, n int) {
	if len(args) < n {
		panic(fmt.Sprintf("opscript: %q needs %d argument(s), got %d", cmd, n, len(args)))
	}
}

func (e *Env) labelIP(name string) int {
	if ip, ok := e.labels[name]; ok {
		return ip
	}
	ip := e.nextIP
	e.nextIP++
	e.labels[name] = ip
	return ip
}

func (e *Env) localIdx(name string) int {
	idx, ok := e.locals[name]
	if !ok {
		panic(fmt.Sprintf("opscript: undefined local %q", name))
	}
	return idx
}

func (e *Env) value(name string) *codegen.Value {
	v, ok := e.values[name]
	if !ok {
		panic(fmt.Sprintf("opscript: undefined value %q", name))
	}
	return v
}

func branchKindByName(s string) (codegen.BranchKind, bool) {
	switch s {
	case "lt":
		return codegen.BranchIfLess, true
	case "le":
		return codegen.BranchIfLessOrEqual, true
	case "gt":
		return codegen.BranchIfGreater, true
	case "ge":
		return codegen.BranchIfGreaterOrEqual, true
	case "eq":
		return codegen.BranchIfEqual, true
	case "ne":
		return codegen.BranchIfNotEqual, true
	case "below":
		return codegen.BranchIfBelow, true
	case "beloweq":
		return codegen.BranchIfBelowOrEqual, true
	case "above":
		return codegen.BranchIfAbove, true
	case "aboveeq":
		return codegen.BranchIfAboveOrEqual, true
	}
	return 0, false
}

func atoiArg(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		panic(fmt.Sprintf("opscript: expected integer, got %q", s))
	}
	return n
}

func atoi64Arg(s string) int64 {
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		panic(fmt.Sprintf("opscript: expected integer, got %q", s))
	}
	return n
}

func parseSize(s string) codegen.Size {
	return codegen.Size(atoiArg(s))
}
