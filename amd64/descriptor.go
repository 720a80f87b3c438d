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
package amd64

import (
	"encoding/json"
	"io"

	"github.com/launix-de/jitbackend/codegen"
)

// Descriptor is the on-disk, JSON shape of an Architecture.
// cmd/jitasm watches a file in this format with fsnotify and rebuilds the
// Architecture whenever it changes, without restarting the driver — the
// hand-written Plan() table in arch.go stays the source of truth for every
// op's native encoding, and the descriptor only ever narrows it (forcing
// additional ops through the Call/thunk path, changing which register the
// frame pointer or a thread-local base occupies).
type Descriptor struct {
	OmitFramePointer bool     `json:"omitFramePointer"`
	ThreadRegister   int      `json:"threadRegister"`
	ThunkOps         []string `json:"thunkOps"`
}

// LoadDescriptor decodes a Descriptor from r. A missing threadRegister
// field decodes as 0 (RAX), which would be a nonsensical thread pointer;
// defaultDescriptor below is what callers should start from before
// decoding on top of it, so an absent field keeps the "-1, unsupported"
// default instead.
func LoadDescriptor(r io.Reader) (*Descriptor, error) {
	d := defaultDescriptor()
	if err := json.NewDecoder(r).Decode(d); err != nil {
		return nil, err
	}
	return d, nil
}

func defaultDescriptor() *Descriptor {
	return &Descriptor{ThreadRegister: -1}
}

// Architecture builds the Architecture this Descriptor describes.
func (d *Descriptor) Architecture() *Architecture {
	arch := &Architecture{OmitFramePointer: d.OmitFramePointer, ThreadRegister: d.ThreadRegister}
	if len(d.ThunkOps) > 0 {
		arch.ThunkOverride = make(map[codegen.Op]bool, len(d.ThunkOps))
		for _, name := range d.ThunkOps {
			if op, ok := OpByName(name); ok {
				arch.ThunkOverride[op] = true
			}
		}
	}
	return arch
}
