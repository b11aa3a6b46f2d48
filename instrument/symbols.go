// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package instrument

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"

	"github.com/bradleyjkemp/neuzz-cover/coverage"
)

// symbols are the external globals defined by the runtime support library.
type symbols struct {
	areaPtr   *ir.Global
	prevLoc   *ir.Global
	prevBBVal *ir.Global
	curBBVal  *ir.Global
}

func declareSymbols(m *ir.Module) (*symbols, error) {
	s := new(symbols)
	decls := []struct {
		g    **ir.Global
		name string
		typ  types.Type
		tls  bool
	}{
		{&s.areaPtr, coverage.AreaPtrSymbol, i8Ptr, false},
		{&s.prevLoc, coverage.PrevLocSymbol, i32, true},
		{&s.prevBBVal, coverage.PrevBBValSymbol, i64, true},
		{&s.curBBVal, coverage.CurBBValSymbol, i64, true},
	}
	for _, d := range decls {
		g, err := externGlobal(m, d.name, d.typ, d.tls)
		if err != nil {
			return nil, err
		}
		*d.g = g
	}
	return s, nil
}

// externGlobal returns the global called name, declaring it if the module does not have one yet.
func externGlobal(m *ir.Module, name string, typ types.Type, tls bool) (*ir.Global, error) {
	for _, f := range m.Funcs {
		if f.Name() == name {
			return nil, fmt.Errorf("symbol @%v is a function, want a global of type %v", name, typ)
		}
	}
	for _, g := range m.Globals {
		if g.Name() != name {
			continue
		}
		if !g.ContentType.Equal(typ) {
			return nil, fmt.Errorf("symbol @%v has type %v, want %v", name, g.ContentType, typ)
		}
		return g, nil
	}
	g := m.NewGlobal(name, typ)
	g.Linkage = enum.LinkageExternal
	if tls {
		// The default "thread_local" model is general dynamic.
		g.TLSModel = enum.TLSModelGeneric
	}
	return g, nil
}
