// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package instrument injects edge coverage and basic-block value probes into LLVM IR.
//
// For every selected basic block the generated code computes the edge index
// prev_loc ^ cur_loc, bumps the 8-bit hit counter at that index, records the
// value of the block the edge starts at in the value table at the same index,
// and updates the thread-local carry state for the next block.
package instrument

import (
	"fmt"

	"github.com/llir/llvm/ir"

	"github.com/bradleyjkemp/neuzz-cover/config"
	"github.com/bradleyjkemp/neuzz-cover/coverage"
)

// Rand is the source of the per-block draws. *math/rand.Rand implements it.
type Rand interface {
	Intn(n int) int
}

// Stats summarizes one instrumented module.
type Stats struct {
	Funcs        int // functions with a body
	Blocks       int // basic blocks seen
	Instrumented int // basic blocks that received probes

	// Instrumented blocks by terminator shape.
	Switches int
	CondBrs  int
	Other    int

	Cmps       int // comparisons folded into a block value
	BranchCmps int // folded comparisons that reach a conditional branch
}

// Instrumentor instruments modules with a fixed configuration.
// It is not safe for concurrent use: draws are taken from rnd in block order.
type Instrumentor struct {
	ratio int
	rnd   Rand
}

func New(cfg *config.Config, rnd Rand) *Instrumentor {
	return &Instrumentor{
		ratio: cfg.Ratio,
		rnd:   rnd,
	}
}

// pass holds the state of instrumenting one module.
type pass struct {
	*Instrumentor
	syms  *symbols
	stats Stats
}

// Module instruments m in place.
func (in *Instrumentor) Module(m *ir.Module) (Stats, error) {
	if in.ratio < 1 || in.ratio > 100 {
		return Stats{}, fmt.Errorf("instrumentation ratio %v is out of range", in.ratio)
	}
	syms, err := declareSymbols(m)
	if err != nil {
		return Stats{}, err
	}
	p := &pass{Instrumentor: in, syms: syms}
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			// this is just a declaration, it is implemented elsewhere
			continue
		}
		if err := p.function(f); err != nil {
			return p.stats, err
		}
	}
	return p.stats, nil
}

func (p *pass) function(f *ir.Func) error {
	p.stats.Funcs++
	users := FuncUsers(f)
	for _, b := range f.Blocks {
		p.block(b, users)
	}
	resetLocalIDs(f)
	if err := f.AssignIDs(); err != nil {
		return fmt.Errorf("failed to number values of %v: %w", f.Ident(), err)
	}
	return nil
}

// block instruments one basic block with probability ratio/100.
func (p *pass) block(b *ir.Block, users Users) {
	p.stats.Blocks++
	ip, ok := firstInsertionPoint(b)
	if !ok {
		return
	}
	if p.rnd.Intn(100) >= p.ratio {
		return
	}
	curLoc := uint32(p.rnd.Intn(coverage.MapSize))

	head := new(seq)
	tail := new(seq)
	e := head.edge(p.syms, curLoc)

	accumulate := false
	switch term := b.Term.(type) {
	case *ir.TermSwitch:
		if cond, ok := switchCondition(term); ok {
			ext := tail.zext64(cond)
			tail.store(e.prevVal, e.valSlot)
			tail.store(ext, p.syms.prevBBVal)
			p.stats.Switches++
		} else {
			head.zeroValue(p.syms, e)
			p.stats.Other++
		}
	case *ir.TermCondBr:
		head.store(zero64, p.syms.curBBVal)
		accumulate = true
		end := tail.load(i64, p.syms.curBBVal)
		tail.store(e.prevVal, e.valSlot)
		tail.store(end, p.syms.prevBBVal)
		p.stats.CondBrs++
	default:
		head.zeroValue(p.syms, e)
		p.stats.Other++
	}

	insts := make([]ir.Instruction, 0, len(b.Insts)+len(head.insts)+len(tail.insts))
	insts = append(insts, b.Insts[:ip]...)
	insts = append(insts, head.insts...)
	for _, inst := range b.Insts[ip:] {
		insts = append(insts, inst)
		if !accumulate {
			continue
		}
		// Probes for a comparison go right after it, never before the next instruction.
		if fold := p.foldCmp(inst, users); fold != nil {
			insts = append(insts, fold...)
		}
	}
	insts = append(insts, tail.insts...)
	b.Insts = insts
	p.stats.Instrumented++
}

// foldCmp returns the code that xors the operands of a comparison into cur_bbval,
// or nil if inst is not a comparison of a supported type.
func (p *pass) foldCmp(inst ir.Instruction, users Users) []ir.Instruction {
	cmp, x, y, ok := cmpOperands(inst)
	if !ok || !foldable(x.Type()) {
		return nil
	}
	s := new(seq)
	opnds := s.xor(s.widen(x), s.widen(y))
	cur := s.load(i64, p.syms.curBBVal)
	s.store(s.xor(cur, opnds), p.syms.curBBVal)

	p.stats.Cmps++
	// All comparisons are folded, whether or not they feed the branch;
	// the count only makes that visible.
	if BranchRelated(cmp, users) {
		p.stats.BranchCmps++
	}
	return s.insts
}

// firstInsertionPoint returns the index of the first instruction probes may be
// inserted before. Blocks without such a point are not instrumented.
func firstInsertionPoint(b *ir.Block) (int, bool) {
	if _, ok := b.Term.(*ir.TermCatchSwitch); ok {
		return 0, false
	}
	for i, inst := range b.Insts {
		switch inst.(type) {
		case *ir.InstPhi, *ir.InstLandingPad, *ir.InstCatchPad, *ir.InstCleanupPad:
			continue
		}
		return i, true
	}
	return len(b.Insts), true
}

type unnamedLocal interface {
	IsUnnamed() bool
	SetID(id int64)
}

// resetLocalIDs clears the numbers of unnamed values so that AssignIDs
// can renumber them around the inserted instructions.
func resetLocalIDs(f *ir.Func) {
	reset := func(v interface{}) {
		if n, ok := v.(unnamedLocal); ok && n.IsUnnamed() {
			n.SetID(0)
		}
	}
	for _, param := range f.Params {
		reset(param)
	}
	for _, b := range f.Blocks {
		reset(b)
		for _, inst := range b.Insts {
			reset(inst)
		}
		reset(b.Term)
	}
}
