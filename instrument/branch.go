// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// Users is the used-by relation of the values of one function.
// Each user is an ir.Instruction or an ir.Terminator.
type Users map[value.Value][]interface{}

// FuncUsers computes the used-by relation of f.
func FuncUsers(f *ir.Func) Users {
	users := make(Users)
	add := func(user interface{}) {
		for _, op := range operands(user) {
			if op == nil {
				continue
			}
			users[op] = append(users[op], user)
		}
	}
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			add(inst)
		}
		if b.Term != nil {
			add(b.Term)
		}
	}
	return users
}

// BranchRelated reports whether v reaches a conditional branch through the
// used-by relation. Cycles through phi nodes are visited once.
func BranchRelated(v value.Value, users Users) bool {
	visited := map[value.Value]bool{v: true}
	worklist := []value.Value{v}
	for len(worklist) > 0 {
		cur := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, user := range users[cur] {
			if _, ok := user.(*ir.TermCondBr); ok {
				return true
			}
			uv, ok := user.(value.Value)
			if !ok || visited[uv] {
				continue
			}
			visited[uv] = true
			worklist = append(worklist, uv)
		}
	}
	return false
}

type operandUser interface {
	Operands() []*value.Value
}

// operands returns the values used by an instruction or terminator.
func operands(user interface{}) []value.Value {
	switch u := user.(type) {
	case *ir.InstICmp:
		return []value.Value{u.X, u.Y}
	case *ir.InstFCmp:
		return []value.Value{u.X, u.Y}
	case *ir.InstAdd:
		return []value.Value{u.X, u.Y}
	case *ir.InstSub:
		return []value.Value{u.X, u.Y}
	case *ir.InstAnd:
		return []value.Value{u.X, u.Y}
	case *ir.InstOr:
		return []value.Value{u.X, u.Y}
	case *ir.InstXor:
		return []value.Value{u.X, u.Y}
	case *ir.InstZExt:
		return []value.Value{u.From}
	case *ir.InstSExt:
		return []value.Value{u.From}
	case *ir.InstTrunc:
		return []value.Value{u.From}
	case *ir.InstBitCast:
		return []value.Value{u.From}
	case *ir.InstLoad:
		return []value.Value{u.Src}
	case *ir.InstStore:
		return []value.Value{u.Src, u.Dst}
	case *ir.InstPhi:
		ops := make([]value.Value, 0, len(u.Incs))
		for _, inc := range u.Incs {
			ops = append(ops, inc.X)
		}
		return ops
	case *ir.InstCall:
		return append([]value.Value{u.Callee}, u.Args...)
	case *ir.TermCondBr:
		return []value.Value{u.Cond}
	case *ir.TermSwitch:
		return []value.Value{u.X}
	case *ir.TermRet:
		return []value.Value{u.X}
	case operandUser:
		ptrs := u.Operands()
		ops := make([]value.Value, 0, len(ptrs))
		for _, p := range ptrs {
			if p != nil {
				ops = append(ops, *p)
			}
		}
		return ops
	}
	return nil
}
