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

// Command jitasm is the batch driver: it reads a line-oriented
// op-script (internal/opscript), feeds it through the front-end API, runs
// the compile pass, and writes the resulting machine-code buffer. With
// -watch uses fsnotify to watch the architecture descriptor and the script
// itself and recompiles whenever either changes, without restarting.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/launix-de/jitbackend/amd64"
	"github.com/launix-de/jitbackend/codegen"
	"github.com/launix-de/jitbackend/internal/opscript"
)

func main() {
	// A cryptographically seeded generator for the CompilationID every
	// codegen.Init mints.
	uuid.SetRand(rand.Reader)

	archPath := flag.String("arch", "", "architecture descriptor JSON file (default: built-in SysV amd64)")
	frame := flag.Int("frame", 0, "stack frame size in bytes, before 16-byte alignment")
	out := flag.String("out", "", "output file for the emitted machine code (default: stdout)")
	watch := flag.Bool("watch", false, "watch the script and architecture descriptor for changes and recompile")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: jitasm [-arch file] [-frame bytes] [-out file] [-watch] <script>")
		os.Exit(2)
	}
	scriptPath := flag.Arg(0)

	run := func() error {
		code, id, stats, err := compileScript(scriptPath, *archPath, *frame)
		if err != nil {
			return err
		}
		if err := writeOutput(*out, code); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "jitasm: %s compiled %d bytes (code %d, pool %d) (compilation %s)\n",
			scriptPath, len(code), stats.CodeSize, stats.PoolSize, id)
		return nil
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "jitasm:", err)
		if !*watch {
			os.Exit(1)
		}
	}
	if !*watch {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fmt.Fprintln(os.Stderr, "jitasm:", err)
		os.Exit(1)
	}
	defer watcher.Close()

	watchPaths := []string{scriptPath}
	if *archPath != "" {
		watchPaths = append(watchPaths, *archPath)
	}
	for _, p := range watchPaths {
		if err := watcher.Add(p); err != nil {
			fmt.Fprintln(os.Stderr, "jitasm:", err)
			os.Exit(1)
		}
	}

	fmt.Fprintln(os.Stderr, "jitasm: watching for changes, ctrl-C to quit")
	for {
		select {
		case <-watcher.Events:
			if err := run(); err != nil {
				fmt.Fprintln(os.Stderr, "jitasm:", err)
			}
			// text editors rename-and-replace rather than write in place,
			// which drops the inode fsnotify was watching, so every path is
			// re-added after each event (events are not debounced).
			for _, p := range watchPaths {
				watcher.Add(p)
			}
		case err := <-watcher.Errors:
			fmt.Fprintln(os.Stderr, "jitasm:", err)
		}
	}
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

// placeholderRuntime answers thunk requests that no "extern" line in the
// script resolved in advance — a genuine embedder would wire a real
// RuntimeClient backed by its own generated helpers; this CLI tool only drives the engine, so a thunk without
// a configured address is reported as an ordinary fatal condition instead
// of silently fabricating an address.
type placeholderRuntime struct{}

func (placeholderRuntime) GetThunk(op codegen.Op, size codegen.Size) codegen.Promise {
	panic(&codegen.CompileError{
		Kind:    codegen.ErrUnsupportedThunk,
		Message: fmt.Sprintf("no runtime thunk configured for op %d at size %d", op, size),
	})
}

func compileScript(scriptPath, archPath string, frameSize int) ([]byte, uuid.UUID, codegen.StatsSnapshot, error) {
	arch, err := loadArchitecture(archPath)
	if err != nil {
		return nil, uuid.UUID{}, codegen.StatsSnapshot{}, err
	}

	data, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, uuid.UUID{}, codegen.StatsSnapshot{}, err
	}
	lines := strings.Split(string(data), "\n")
	localCount, paramCount := opscript.CountDeclarations(lines)

	ctx := codegen.Init(len(data)*4, paramCount, localCount, frameSize, codegen.Config{
		Architecture: arch,
		Assembler:    amd64.New(),
		Runtime:      placeholderRuntime{},
		Logger:       codegen.NopLogger{},
	})
	env := opscript.NewEnv(ctx, arch)
	for i, line := range lines {
		if err := env.Execute(line); err != nil {
			return nil, uuid.UUID{}, codegen.StatsSnapshot{}, fmt.Errorf("%s:%d: %w", scriptPath, i+1, err)
		}
	}

	size, err := ctx.Finish()
	if err != nil {
		return nil, uuid.UUID{}, codegen.StatsSnapshot{}, err
	}
	buf := make([]byte, size)
	ctx.WriteTo(buf)
	return buf, ctx.CompilationID, ctx.Stats.Snapshot(), nil
}

func writeOutput(path string, code []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(code)
		return err
	}
	return os.WriteFile(path, code, 0644)
}
