// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package coverage describes the memory layout shared between instrumented
// code, the runtime support library and the fuzzing engine.
package coverage

import "encoding/binary"

const (
	MapSizePow2 = 18
	MapSize     = 1 << MapSizePow2

	// BBValSize is the width in bytes of one basic-block value slot.
	BBValSize    = 8
	BBValMapSize = MapSize * BBValSize

	// BitmapSize is the minimum size of the shared region: hit counters
	// followed by the basic-block value table.
	BitmapSize = MapSize + BBValMapSize

	// ShmEnvVar names the environment variable through which the runtime
	// learns the shared memory identifier.
	ShmEnvVar = "__AFL_SHM_ID"
)

// Symbols the runtime support library defines and instrumented code refers to.
const (
	// AreaPtrSymbol points at the base of the shared bitmap.
	// It is initialized by the runtime to a dummy region so that code
	// executed before the fork server starts has somewhere to write to.
	AreaPtrSymbol = "__afl_area_ptr"

	// PrevLocSymbol stores the location of the previous block, shifted
	// right by one. It is combined with the current location to pick the
	// counter to increment, which gives a cheap approximation of edge
	// coverage instead of plain block coverage.
	PrevLocSymbol = "__afl_prev_loc"

	// PrevBBValSymbol holds the value of the block the current edge starts at.
	PrevBBValSymbol = "__afl_prev_bbval"

	// CurBBValSymbol accumulates comparison operands inside one block.
	CurBBValSymbol = "__afl_cur_bbval"
)

// Bitmap is a view of the shared coverage region.
type Bitmap []byte

// Hits returns the hit counter of the edge.
func (b Bitmap) Hits(edge uint32) byte {
	return b[edge%MapSize]
}

// Value returns the basic-block value recorded for the edge.
func (b Bitmap) Value(edge uint32) uint64 {
	off := MapSize + int(edge%MapSize)*BBValSize
	return binary.LittleEndian.Uint64(b[off : off+BBValSize])
}

// Edges returns the number of edges with a non-zero hit counter.
func (b Bitmap) Edges() int {
	cnt := 0
	for _, v := range b[:MapSize] {
		if v != 0 {
			cnt++
		}
	}
	return cnt
}

// Reset zeroes both the counters and the value table.
func (b Bitmap) Reset() {
	for i := range b {
		b[i] = 0
	}
}
