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

// StackElement is one entry of the operand stack: (index in words, size in
// words, padding, value, next). Stack elements form a singly-linked list
// growing downward in index.
type StackElement struct {
	Index   int
	Size    int
	Padding int
	Value   *Value
	Next    *StackElement
}

// Local is a fixed-size array slot: (value?, size in bytes).
type Local struct {
	Value *Value
	Size  int
}

// stackSnapshot and localsSnapshot capture enough of the operand stack and
// locals array to restore context on a fork or at an event boundary
type stackSnapshot struct {
	top *StackElement
}

type localsSnapshot struct {
	locals []Local
}

func snapshotLocals(locals []Local) localsSnapshot {
	cp := make([]Local, len(locals))
	copy(cp, locals)
	return localsSnapshot{locals: cp}
}
