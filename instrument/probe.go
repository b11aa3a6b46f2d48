// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/metadata"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/bradleyjkemp/neuzz-cover/coverage"
)

var (
	i8     = types.I8
	i32    = types.I32
	i64    = types.I64
	i8Ptr  = types.NewPointer(types.I8)
	i64Ptr = types.NewPointer(types.I64)

	one8   = constant.NewInt(types.I8, 1)
	zero64 = constant.NewInt(types.I64, 0)
)

// seq accumulates generated instructions in program order.
type seq struct {
	insts []ir.Instruction
}

func (s *seq) emit(inst ir.Instruction) {
	s.insts = append(s.insts, inst)
}

func (s *seq) load(elemType types.Type, src value.Value) *ir.InstLoad {
	inst := ir.NewLoad(elemType, src)
	inst.Metadata = append(inst.Metadata, noSanitize())
	s.emit(inst)
	return inst
}

func (s *seq) store(src, dst value.Value) *ir.InstStore {
	inst := ir.NewStore(src, dst)
	inst.Metadata = append(inst.Metadata, noSanitize())
	s.emit(inst)
	return inst
}

func (s *seq) add(x, y value.Value) *ir.InstAdd {
	inst := ir.NewAdd(x, y)
	s.emit(inst)
	return inst
}

func (s *seq) xor(x, y value.Value) *ir.InstXor {
	inst := ir.NewXor(x, y)
	s.emit(inst)
	return inst
}

func (s *seq) bitcast(from value.Value, to types.Type) *ir.InstBitCast {
	inst := ir.NewBitCast(from, to)
	s.emit(inst)
	return inst
}

func (s *seq) gep(elemType types.Type, src, index value.Value) *ir.InstGetElementPtr {
	inst := ir.NewGetElementPtr(elemType, src, index)
	s.emit(inst)
	return inst
}

// zext64 zero-extends an integer of at most 64 bits to i64.
func (s *seq) zext64(v value.Value) value.Value {
	if t, ok := v.Type().(*types.IntType); ok && t.BitSize == 64 {
		return v
	}
	inst := ir.NewZExt(v, i64)
	s.emit(inst)
	return inst
}

// edge is the per-block state shared by the probes of one block.
type edge struct {
	index   value.Value // prev_loc ^ cur_loc
	prevVal value.Value // __afl_prev_bbval at block entry
	valSlot value.Value // i64 slot of the edge in the value table
}

// edge emits the counter update and the carry update for a block at cur_loc.
// The edge index is computed once and used for both the counter and the value slot.
func (s *seq) edge(syms *symbols, curLoc uint32) *edge {
	prevLoc := s.load(i32, syms.prevLoc)
	mapPtr := s.load(i8Ptr, syms.areaPtr)
	index := s.xor(prevLoc, constant.NewInt(i32, int64(curLoc)))

	counter := s.gep(i8, mapPtr, index)
	hits := s.load(i8, counter)
	s.store(s.add(hits, one8), counter)

	s.store(constant.NewInt(i32, int64(curLoc>>1)), syms.prevLoc)

	prevVal := s.load(i64, syms.prevBBVal)
	valBase := s.gep(i8, mapPtr, constant.NewInt(i64, coverage.MapSize))
	valTab := s.bitcast(valBase, i64Ptr)
	return &edge{
		index:   index,
		prevVal: prevVal,
		valSlot: s.gep(i64, valTab, index),
	}
}

// zeroValue records the incoming value and gives the block the value 0.
func (s *seq) zeroValue(syms *symbols, e *edge) {
	s.store(e.prevVal, e.valSlot)
	s.store(zero64, syms.prevBBVal)
}

func noSanitize() *metadata.Attachment {
	return &metadata.Attachment{
		Name: "nosanitize",
		Node: &metadata.Tuple{MetadataID: -1},
	}
}
