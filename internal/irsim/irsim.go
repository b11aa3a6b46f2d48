// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package irsim executes a subset of LLVM IR against a simulated coverage bitmap.
// It is used to check the exact values instrumented code writes.
//
// Values are kept as raw bit patterns in a uint64: integers masked to their
// width, floats as their IEEE-754 encoding, pointers as arena addresses.
// Memory is a flat little-endian arena; every global of the module gets a
// slot and the area pointer symbol points at a coverage.BitmapSize region.
package irsim

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"github.com/bradleyjkemp/neuzz-cover/coverage"
)

const DefaultMaxSteps = 1 << 20

type Machine struct {
	// MaxSteps bounds the number of basic blocks one Call may execute.
	MaxSteps int

	mem     []byte
	globals map[*ir.Global]uint64
	names   map[string]*ir.Global
	bitmap  uint64
}

func New(m *ir.Module) (*Machine, error) {
	mc := &Machine{
		MaxSteps: DefaultMaxSteps,
		globals:  make(map[*ir.Global]uint64),
		names:    make(map[string]*ir.Global),
	}
	mc.alloc(8) // address 0 is null
	for _, g := range m.Globals {
		size, err := sizeOf(g.ContentType)
		if err != nil {
			return nil, fmt.Errorf("global %v: %w", g.Ident(), err)
		}
		addr := mc.alloc(size)
		mc.globals[g] = addr
		mc.names[g.Name()] = g
		if c, ok := g.Init.(*constant.Int); ok {
			mc.write(addr, size, intBits(c))
		}
	}
	mc.bitmap = mc.alloc(coverage.BitmapSize)
	if g := mc.names[coverage.AreaPtrSymbol]; g != nil {
		mc.write(mc.globals[g], 8, mc.bitmap)
	}
	return mc, nil
}

// Bitmap returns the simulated shared coverage region.
func (mc *Machine) Bitmap() coverage.Bitmap {
	return coverage.Bitmap(mc.mem[mc.bitmap : mc.bitmap+coverage.BitmapSize])
}

// Global returns the contents of the named global.
func (mc *Machine) Global(name string) (uint64, error) {
	g, addr, size, err := mc.lookup(name)
	if err != nil {
		return 0, err
	}
	return mc.read(addr, size) & mask(g.ContentType), nil
}

// SetGlobal overwrites the contents of the named global.
func (mc *Machine) SetGlobal(name string, v uint64) error {
	_, addr, size, err := mc.lookup(name)
	if err != nil {
		return err
	}
	mc.write(addr, size, v)
	return nil
}

func (mc *Machine) lookup(name string) (*ir.Global, uint64, int, error) {
	g := mc.names[name]
	if g == nil {
		return nil, 0, 0, fmt.Errorf("no global @%v", name)
	}
	size, err := sizeOf(g.ContentType)
	if err != nil {
		return nil, 0, 0, err
	}
	return g, mc.globals[g], size, nil
}

func (mc *Machine) alloc(size int) uint64 {
	addr := uint64(len(mc.mem))
	mc.mem = append(mc.mem, make([]byte, (size+7)&^7)...)
	return addr
}

func (mc *Machine) read(addr uint64, size int) uint64 {
	var buf [8]byte
	copy(buf[:], mc.mem[addr:addr+uint64(size)])
	return binary.LittleEndian.Uint64(buf[:])
}

func (mc *Machine) write(addr uint64, size int, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(mc.mem[addr:addr+uint64(size)], buf[:size])
}

func (mc *Machine) checkAccess(addr uint64, size int) error {
	if addr == 0 || addr+uint64(size) > uint64(len(mc.mem)) {
		return fmt.Errorf("invalid memory access at %#x size %v", addr, size)
	}
	return nil
}

// frame holds the values of one function invocation.
type frame struct {
	mc   *Machine
	vals map[value.Value]uint64
}

// Call runs f with the given raw arguments and returns the raw result (0 for void).
func (mc *Machine) Call(f *ir.Func, args ...uint64) (uint64, error) {
	if len(f.Blocks) == 0 {
		return 0, fmt.Errorf("%v has no body", f.Ident())
	}
	if len(args) != len(f.Params) {
		return 0, fmt.Errorf("%v takes %v arguments, got %v", f.Ident(), len(f.Params), len(args))
	}
	fr := &frame{mc: mc, vals: make(map[value.Value]uint64)}
	for i, p := range f.Params {
		fr.vals[p] = args[i] & mask(p.Type())
	}
	var prev *ir.Block
	b := f.Blocks[0]
	for steps := 0; steps < mc.MaxSteps; steps++ {
		if err := fr.block(b, prev); err != nil {
			return 0, fmt.Errorf("%v: %v: %w", f.Ident(), b.Ident(), err)
		}
		next, res, err := fr.term(b.Term)
		if err != nil {
			return 0, fmt.Errorf("%v: %v: %w", f.Ident(), b.Ident(), err)
		}
		if next == nil {
			return res, nil
		}
		prev, b = b, next
	}
	return 0, fmt.Errorf("%v: exceeded %v steps", f.Ident(), mc.MaxSteps)
}

func (fr *frame) block(b, prev *ir.Block) error {
	// Leading phis read their inputs before any of them is assigned.
	var phis []*ir.InstPhi
	var phiVals []uint64
	i := 0
	for ; i < len(b.Insts); i++ {
		phi, ok := b.Insts[i].(*ir.InstPhi)
		if !ok {
			break
		}
		v, err := fr.phi(phi, prev)
		if err != nil {
			return err
		}
		phis = append(phis, phi)
		phiVals = append(phiVals, v)
	}
	for j, phi := range phis {
		fr.vals[phi] = phiVals[j]
	}
	for _, inst := range b.Insts[i:] {
		if err := fr.inst(inst); err != nil {
			return err
		}
	}
	return nil
}

func (fr *frame) phi(phi *ir.InstPhi, prev *ir.Block) (uint64, error) {
	for _, inc := range phi.Incs {
		if inc.Pred == prev {
			return fr.eval(inc.X)
		}
	}
	return 0, fmt.Errorf("phi %v has no incoming value for the previous block", phi.Ident())
}

func (fr *frame) inst(inst ir.Instruction) error {
	mc := fr.mc
	switch inst := inst.(type) {
	case *ir.InstLoad:
		addr, err := fr.eval(inst.Src)
		if err != nil {
			return err
		}
		size, err := sizeOf(inst.ElemType)
		if err != nil {
			return err
		}
		if err := mc.checkAccess(addr, size); err != nil {
			return err
		}
		fr.vals[inst] = mc.read(addr, size) & mask(inst.ElemType)
	case *ir.InstStore:
		v, err := fr.eval(inst.Src)
		if err != nil {
			return err
		}
		addr, err := fr.eval(inst.Dst)
		if err != nil {
			return err
		}
		size, err := sizeOf(inst.Src.Type())
		if err != nil {
			return err
		}
		if err := mc.checkAccess(addr, size); err != nil {
			return err
		}
		mc.write(addr, size, v)
	case *ir.InstAdd:
		return fr.binary(inst, inst.X, inst.Y, func(x, y uint64) uint64 { return x + y })
	case *ir.InstSub:
		return fr.binary(inst, inst.X, inst.Y, func(x, y uint64) uint64 { return x - y })
	case *ir.InstMul:
		return fr.binary(inst, inst.X, inst.Y, func(x, y uint64) uint64 { return x * y })
	case *ir.InstAnd:
		return fr.binary(inst, inst.X, inst.Y, func(x, y uint64) uint64 { return x & y })
	case *ir.InstOr:
		return fr.binary(inst, inst.X, inst.Y, func(x, y uint64) uint64 { return x | y })
	case *ir.InstXor:
		return fr.binary(inst, inst.X, inst.Y, func(x, y uint64) uint64 { return x ^ y })
	case *ir.InstZExt:
		return fr.cast(inst, inst.From, func(x uint64) uint64 { return x })
	case *ir.InstTrunc:
		return fr.cast(inst, inst.From, func(x uint64) uint64 { return x })
	case *ir.InstBitCast:
		return fr.cast(inst, inst.From, func(x uint64) uint64 { return x })
	case *ir.InstSExt:
		bits := bitSize(inst.From.Type())
		return fr.cast(inst, inst.From, func(x uint64) uint64 { return signExtend(x, bits) })
	case *ir.InstGetElementPtr:
		if len(inst.Indices) != 1 {
			return fmt.Errorf("getelementptr with %v indices is not supported", len(inst.Indices))
		}
		base, err := fr.eval(inst.Src)
		if err != nil {
			return err
		}
		idx, err := fr.eval(inst.Indices[0])
		if err != nil {
			return err
		}
		size, err := sizeOf(inst.ElemType)
		if err != nil {
			return err
		}
		idx = signExtend(idx, bitSize(inst.Indices[0].Type()))
		fr.vals[inst] = base + idx*uint64(size)
	case *ir.InstICmp:
		x, y, err := fr.eval2(inst.X, inst.Y)
		if err != nil {
			return err
		}
		res, err := icmp(inst.Pred, x, y, bitSize(inst.X.Type()))
		if err != nil {
			return err
		}
		fr.vals[inst] = res
	case *ir.InstFCmp:
		x, y, err := fr.eval2(inst.X, inst.Y)
		if err != nil {
			return err
		}
		res, err := fcmp(inst.Pred, toFloat(x, inst.X.Type()), toFloat(y, inst.Y.Type()))
		if err != nil {
			return err
		}
		fr.vals[inst] = res
	default:
		return fmt.Errorf("unsupported instruction %T", inst)
	}
	return nil
}

func (fr *frame) binary(inst value.Value, x, y value.Value, op func(x, y uint64) uint64) error {
	a, b, err := fr.eval2(x, y)
	if err != nil {
		return err
	}
	fr.vals[inst] = op(a, b) & mask(inst.Type())
	return nil
}

func (fr *frame) cast(inst value.Value, from value.Value, op func(x uint64) uint64) error {
	x, err := fr.eval(from)
	if err != nil {
		return err
	}
	fr.vals[inst] = op(x) & mask(inst.Type())
	return nil
}

// term executes a terminator and returns the next block, or nil and the result on return.
func (fr *frame) term(term ir.Terminator) (*ir.Block, uint64, error) {
	switch term := term.(type) {
	case *ir.TermRet:
		if term.X == nil {
			return nil, 0, nil
		}
		v, err := fr.eval(term.X)
		return nil, v, err
	case *ir.TermBr:
		next, err := asBlock(term.Target)
		return next, 0, err
	case *ir.TermCondBr:
		cond, err := fr.eval(term.Cond)
		if err != nil {
			return nil, 0, err
		}
		if cond&1 != 0 {
			next, err := asBlock(term.TargetTrue)
			return next, 0, err
		}
		next, err := asBlock(term.TargetFalse)
		return next, 0, err
	case *ir.TermSwitch:
		x, err := fr.eval(term.X)
		if err != nil {
			return nil, 0, err
		}
		for _, c := range term.Cases {
			v, err := fr.eval(c.X)
			if err != nil {
				return nil, 0, err
			}
			if v == x {
				next, err := asBlock(c.Target)
				return next, 0, err
			}
		}
		next, err := asBlock(term.TargetDefault)
		return next, 0, err
	case *ir.TermUnreachable:
		return nil, 0, fmt.Errorf("reached unreachable")
	case nil:
		return nil, 0, fmt.Errorf("block has no terminator")
	}
	return nil, 0, fmt.Errorf("unsupported terminator %T", term)
}

func asBlock(target interface{}) (*ir.Block, error) {
	b, ok := target.(*ir.Block)
	if !ok || b == nil {
		return nil, fmt.Errorf("branch target %v is not a basic block", target)
	}
	return b, nil
}

func (fr *frame) eval2(x, y value.Value) (uint64, uint64, error) {
	a, err := fr.eval(x)
	if err != nil {
		return 0, 0, err
	}
	b, err := fr.eval(y)
	return a, b, err
}

func (fr *frame) eval(v value.Value) (uint64, error) {
	switch v := v.(type) {
	case *constant.Int:
		return intBits(v), nil
	case *constant.Float:
		return floatBits(v), nil
	case *constant.Null:
		return 0, nil
	case *ir.Global:
		addr, ok := fr.mc.globals[v]
		if !ok {
			return 0, fmt.Errorf("unknown global %v", v.Ident())
		}
		return addr, nil
	}
	x, ok := fr.vals[v]
	if !ok {
		return 0, fmt.Errorf("use of undefined value %v", v.Ident())
	}
	return x, nil
}

func icmp(pred enum.IPred, x, y uint64, bits int) (uint64, error) {
	sx, sy := int64(signExtend(x, bits)), int64(signExtend(y, bits))
	var res bool
	switch pred {
	case enum.IPredEQ:
		res = x == y
	case enum.IPredNE:
		res = x != y
	case enum.IPredUGT:
		res = x > y
	case enum.IPredUGE:
		res = x >= y
	case enum.IPredULT:
		res = x < y
	case enum.IPredULE:
		res = x <= y
	case enum.IPredSGT:
		res = sx > sy
	case enum.IPredSGE:
		res = sx >= sy
	case enum.IPredSLT:
		res = sx < sy
	case enum.IPredSLE:
		res = sx <= sy
	default:
		return 0, fmt.Errorf("unsupported icmp predicate %v", pred)
	}
	return boolBits(res), nil
}

func fcmp(pred enum.FPred, x, y float64) (uint64, error) {
	unordered := math.IsNaN(x) || math.IsNaN(y)
	var res bool
	switch pred {
	case enum.FPredOEQ:
		res = !unordered && x == y
	case enum.FPredONE:
		res = !unordered && x != y
	case enum.FPredOGT:
		res = !unordered && x > y
	case enum.FPredOGE:
		res = !unordered && x >= y
	case enum.FPredOLT:
		res = !unordered && x < y
	case enum.FPredOLE:
		res = !unordered && x <= y
	case enum.FPredUEQ:
		res = unordered || x == y
	case enum.FPredUNE:
		res = unordered || x != y
	default:
		return 0, fmt.Errorf("unsupported fcmp predicate %v", pred)
	}
	return boolBits(res), nil
}

func boolBits(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func intBits(c *constant.Int) uint64 {
	var x uint64
	if c.X.IsInt64() {
		x = uint64(c.X.Int64())
	} else {
		x = c.X.Uint64()
	}
	return x & mask(c.Typ)
}

func floatBits(c *constant.Float) uint64 {
	f, _ := c.X.Float64()
	if c.Typ.Kind == types.FloatKindFloat {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func toFloat(bits uint64, t types.Type) float64 {
	if ft, ok := t.(*types.FloatType); ok && ft.Kind == types.FloatKindFloat {
		return float64(math.Float32frombits(uint32(bits)))
	}
	return math.Float64frombits(bits)
}

func bitSize(t types.Type) int {
	switch t := t.(type) {
	case *types.IntType:
		return int(t.BitSize)
	case *types.FloatType:
		if t.Kind == types.FloatKindFloat {
			return 32
		}
	}
	return 64
}

func mask(t types.Type) uint64 {
	bits := bitSize(t)
	if bits >= 64 {
		return math.MaxUint64
	}
	return 1<<uint(bits) - 1
}

func signExtend(x uint64, bits int) uint64 {
	if bits >= 64 || bits <= 0 {
		return x
	}
	shift := uint(64 - bits)
	return uint64(int64(x<<shift) >> shift)
}

func sizeOf(t types.Type) (int, error) {
	switch t := t.(type) {
	case *types.IntType:
		if t.BitSize > 64 {
			return 0, fmt.Errorf("integer type %v is too wide", t)
		}
		return int(t.BitSize+7) / 8, nil
	case *types.FloatType:
		switch t.Kind {
		case types.FloatKindFloat:
			return 4, nil
		case types.FloatKindDouble:
			return 8, nil
		}
	case *types.PointerType:
		return 8, nil
	}
	return 0, fmt.Errorf("unsupported type %v", t)
}
