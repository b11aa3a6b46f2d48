// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"testing"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const branchModule = `
declare void @sink(i1)

define i32 @f(i32 %x, i32 %y) {
entry:
	%direct = icmp eq i32 %x, 1
	%a = icmp ult i32 %x, %y
	%b = icmp ugt i32 %y, 7
	%ab = and i1 %a, %b
	%wide = zext i1 %ab to i32
	%c = icmp ne i32 %wide, 0
	%passed = icmp sgt i32 %y, 0
	call void @sink(i1 %passed)
	%unused = icmp eq i32 %y, 3
	br i1 %direct, label %loop, label %exit
loop:
	%i = phi i32 [ 0, %entry ], [ %n, %loop ]
	%cyc.p = phi i32 [ 0, %entry ], [ %cyc.w, %loop ]
	%n = add i32 %i, 1
	%cyc = icmp eq i32 %n, 100
	%cyc.w = zext i1 %cyc to i32
	br i1 %c, label %loop, label %exit
exit:
	%r = phi i32 [ 0, %entry ], [ %cyc.p, %loop ]
	ret i32 %r
}
`

func TestBranchRelated(t *testing.T) {
	m, err := asm.ParseString("branch.ll", branchModule)
	require.NoError(t, err)
	var f *ir.Func
	for _, fn := range m.Funcs {
		if fn.Name() == "f" {
			f = fn
		}
	}
	require.NotNil(t, f)

	named := make(map[string]value.Value)
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			if v, ok := inst.(value.Named); ok {
				named[v.Name()] = v
			}
		}
	}
	users := FuncUsers(f)
	tests := map[string]bool{
		"direct": true,
		"a":      true, // through and, zext and another icmp
		"b":      true,
		"ab":     true,
		"passed": false, // only an argument of a call
		"unused": false,
		"i":      false, // loops through phi nodes without reaching a branch
		"cyc":    false,
	}
	for name, want := range tests {
		v := named[name]
		require.NotNil(t, v, name)
		assert.Equal(t, want, BranchRelated(v, users), name)
	}
}

func TestBranchStats(t *testing.T) {
	m, err := asm.ParseString("branch.ll", branchModule)
	require.NoError(t, err)
	stats := instrumentModule(t, m, 100, locs(t, 1, 2, 3))
	// Comparisons in blocks ending with br i1 are folded, related or not.
	assert.Equal(t, 7, stats.Cmps)
	assert.Equal(t, 4, stats.BranchCmps)
	assert.Equal(t, 2, stats.CondBrs)
	assert.Equal(t, 1, stats.Other)
}
