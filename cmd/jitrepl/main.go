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

// Command jitrepl is the interactive driver: a chzyer/readline shell
// that accumulates op-script lines against one live Context, styled after
// a readline-driven REPL loop down to the anti-panic recover
// wrapper and the colored prompt glyphs. Context.Compile (codegen/compile.go)
// mutates resource-table occupancy and emits code as a side effect, so it is
// not safe to call twice on the same Context; unlike a scripting-language Repl,
// which re-evaluates freely after every line, this shell only runs the
// compile pass once the operator asks for it with .compile, and treats the
// session as finished afterward.
package main

import (
	"bytes"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	units "github.com/docker/go-units"
	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/launix-de/jitbackend/amd64"
	"github.com/launix-de/jitbackend/codegen"
	"github.com/launix-de/jitbackend/internal/opscript"
)

const (
	newPrompt  = "\033[32mjit>\033[0m "
	contPrompt = "\033[32m...\033[0m "
	okPrompt   = "\033[36m=\033[0m "
	errPrompt  = "\033[31m!\033[0m "
)

type session struct {
	ctx      *codegen.Context
	env      *opscript.Env
	arch     *amd64.Architecture
	compiled bool
	out      io.Writer
}

func newSession(arch *amd64.Architecture, codeLen, paramFootprint, localFootprint, frameSize int) *session {
	ctx := codegen.Init(codeLen, paramFootprint, localFootprint, frameSize, codegen.Config{
		Architecture: arch,
		Assembler:    amd64.New(),
		Runtime:      replRuntime{},
		Logger:       codegen.NopLogger{},
	})
	return &session{ctx: ctx, env: opscript.NewEnv(ctx, arch), arch: arch, out: os.Stdout}
}

// replRuntime answers a thunk request during an interactive session the
// same way the batch driver does: a clean CompileError rather than a
// fabricated address, since the shell has no link-time step to resolve one.
type replRuntime struct{}

func (replRuntime) GetThunk(op codegen.Op, size codegen.Size) codegen.Promise {
	panic(&codegen.CompileError{
		Kind:    codegen.ErrUnsupportedThunk,
		Message: fmt.Sprintf("no runtime thunk configured for op %d at size %d", op, size),
	})
}

func main() {
	uuid.SetRand(rand.Reader)

	archPath := flag.String("arch", "", "architecture descriptor JSON file (default: built-in SysV amd64)")
	frame := flag.Int("frame", 256, "stack frame size in bytes, before 16-byte alignment")
	locals := flag.Int("locals", 16, "number of local slots to reserve")
	params := flag.Int("params", 8, "number of parameter slots to reserve")
	flag.Parse()

	arch, err := loadArchitecture(*archPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "jitrepl:", err)
		os.Exit(1)
	}
	sess := newSession(arch, 4096, *params, *locals, *frame)

	l, err := readline.NewEx(&readline.Config{
		Prompt:            newPrompt,
		HistoryFile:       ".jitrepl-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Fprintln(os.Stderr, "jitrepl: compilation", sess.ctx.CompilationID)

	oldline := ""
	for {
		line, err := l.Readline()
		line = oldline + line
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			oldline = ""
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			panic(err)
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Fprintln(os.Stderr, errPrompt, r, string(debug.Stack()))
					oldline = ""
					l.SetPrompt(newPrompt)
				}
			}()
			if handled := sess.dotCommand(line); handled {
				oldline = ""
				l.SetPrompt(newPrompt)
				return
			}
			if sess.compiled {
				fmt.Fprintln(os.Stderr, errPrompt, "session already compiled; start jitrepl again for a new one")
				oldline = ""
				l.SetPrompt(newPrompt)
				return
			}
			if err := sess.env.Execute(line); err != nil {
				fmt.Fprintln(os.Stderr, errPrompt, err)
			} else {
				fmt.Fprintln(os.Stdout, okPrompt, "ok")
			}
			oldline = ""
			l.SetPrompt(newPrompt)
		}()
	}
}

// dotCommand handles the REPL's own commands, distinct from op-script lines
// the way an untyped scripting-language Repl distinguishes nothing —
// here the distinction is load-bearing, since .compile is a one-shot action
// against a Context that cannot be replayed.
func (s *session) dotCommand(line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], ".") {
		return false
	}
	switch fields[0] {
	case ".help":
		fmt.Fprintln(os.Stdout, "op-script lines build the compile graph; .compile runs the compile pass once, .stats reports allocator counters, .quit exits")
	case ".stats":
		snap := s.ctx.Stats.Snapshot()
		fmt.Fprintf(os.Stdout, "moves=%d spills=%d steals=%d thunks=%d code=%d pool=%d\n",
			snap.MovesEmitted, snap.SpillsEmitted, snap.RegisterSteals, snap.ThunkCalls, snap.CodeSize, snap.PoolSize)
	case ".compile":
		if s.compiled {
			fmt.Fprintln(os.Stderr, errPrompt, "already compiled")
			return true
		}
		size, err := s.ctx.Finish()
		if err != nil {
			fmt.Fprintln(os.Stderr, errPrompt, err)
			return true
		}
		s.compiled = true
		var buf bytes.Buffer
		buf.Grow(size)
		out := make([]byte, size)
		s.ctx.WriteTo(out)
		snap := s.ctx.Stats.Snapshot()
		fmt.Fprintf(os.Stdout, "%s compiled %s (code %s, pool %s)\n", okPrompt,
			units.BytesSize(float64(size)), units.BytesSize(float64(snap.CodeSize)), units.BytesSize(float64(snap.PoolSize)))
		fmt.Fprintf(os.Stdout, "% x\n", out)
	case ".quit":
		os.Exit(0)
	default:
		fmt.Fprintln(os.Stderr, errPrompt, "unknown command", fields[0])
	}
	return true
}

func loadArchitecture(path string) (*amd64.Architecture, error) {
	if path == "" {
		return amd64.NewArchitecture(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("architecture descriptor: %w", err)
	}
	defer f.Close()
	desc, err := amd64.LoadDescriptor(f)
	if err != nil {
		return nil, fmt.Errorf("architecture descriptor: %w", err)
	}
	return desc.Architecture(), nil
}
