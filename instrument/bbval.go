// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
)

// cmpOperands returns the operands of an icmp or fcmp instruction.
func cmpOperands(inst ir.Instruction) (cmp, x, y value.Value, ok bool) {
	switch inst := inst.(type) {
	case *ir.InstICmp:
		return inst, inst.X, inst.Y, true
	case *ir.InstFCmp:
		return inst, inst.X, inst.Y, true
	}
	return nil, nil, nil, false
}

// foldable reports whether values of type t can be normalized to 64 bits:
// integers up to 64 bits, float and double.
func foldable(t types.Type) bool {
	switch t := t.(type) {
	case *types.IntType:
		return t.BitSize <= 64
	case *types.FloatType:
		return t.Kind == types.FloatKindFloat || t.Kind == types.FloatKindDouble
	}
	return false
}

// widen normalizes a foldable value to its bit pattern in an i64.
// Integers are zero-extended, floats are reinterpreted as i32 and then
// zero-extended, doubles are reinterpreted as i64.
func (s *seq) widen(v value.Value) value.Value {
	if t, ok := v.Type().(*types.FloatType); ok {
		if t.Kind == types.FloatKindFloat {
			return s.zext64(s.bitcast(v, i32))
		}
		return s.bitcast(v, i64)
	}
	return s.zext64(v)
}

// switchCondition returns the condition of a switch if it contributes a block
// value: a non-constant integer of at most 64 bits.
func switchCondition(term *ir.TermSwitch) (value.Value, bool) {
	cond := term.X
	if cond == nil {
		return nil, false
	}
	if _, ok := cond.(constant.Constant); ok {
		return nil, false
	}
	t, ok := cond.Type().(*types.IntType)
	if !ok || t.BitSize > 64 {
		return nil, false
	}
	return cond, true
}
