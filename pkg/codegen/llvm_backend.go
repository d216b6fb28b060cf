package codegen

import (
	"bytes"
	"fmt"

	lir "github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/ir"
)

// llvmBackend renders the program as LLVM assembly. Addresses stay plain
// word-sized integers, as in the IR, and become typed pointers only at the
// loads and stores that use them.
type llvmBackend struct {
	prog    *ir.Program
	module  *lir.Module
	word    *types.IntType
	globals map[string]*lir.Global
	funcs   map[string]*lir.Func

	fn     *ir.Func
	cur    *lir.Block
	blocks map[string]*lir.Block
	vals   map[string]value.Value
	err    error
}

func NewLLVMBackend() Backend { return &llvmBackend{} }

func (b *llvmBackend) Generate(prog *ir.Program, cfg *config.Config) (*bytes.Buffer, error) {
	llvmIR, err := b.GenerateIR(prog, cfg)
	if err != nil {
		return nil, err
	}

	var args []string
	if cfg.BackendTarget != "" { args = append(args, "-mtriple="+cfg.BackendTarget) }
	asm, err := runTool("llc", ".ll", llvmIR, args...)
	if err != nil {
		return nil, fmt.Errorf("\n--- LLVM Compilation Failed ---\nGenerated IR:\n%s\n\nError: %w", llvmIR, err)
	}
	return asm, nil
}

func (b *llvmBackend) GenerateIR(prog *ir.Program, cfg *config.Config) (string, error) {
	b.prog = prog
	b.module = lir.NewModule()
	b.word = types.I64
	if prog.WordSize == 4 { b.word = types.I32 }
	b.globals = make(map[string]*lir.Global)
	b.funcs = make(map[string]*lir.Func)
	b.err = nil

	for _, d := range prog.Globals {
		if err := b.genData(d); err != nil { return "", err }
	}
	for _, d := range prog.Strings {
		if err := b.genData(d); err != nil { return "", err }
	}

	for _, fn := range prog.Funcs {
		params := make([]*lir.Param, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = lir.NewParam("", b.llvmType(p.Typ))
		}
		b.funcs[fn.Name] = b.module.NewFunc(fn.Name, b.llvmType(fn.ReturnType), params...)
	}
	b.declareExterns()

	for _, fn := range prog.Funcs {
		b.genFunc(fn)
		if b.err != nil { return "", fmt.Errorf("function '%s': %w", fn.Name, b.err) }
	}
	return b.module.String(), nil
}

func (b *llvmBackend) llvmType(t ir.Type) types.Type {
	switch t {
	case ir.TypeB: return types.I8
	case ir.TypeW: return types.I32
	case ir.TypeL: return types.I64
	case ir.TypeD: return types.Double
	case ir.TypePtr: return b.word
	default: return types.Void
	}
}

func (b *llvmBackend) genData(d *ir.Data) error {
	size := d.Size(b.prog.WordSize)
	var init constant.Constant
	zero := true
	for _, it := range d.Items {
		if it.Count == 0 { zero = false }
	}

	if zero {
		init = constant.NewZeroInitializer(types.NewArray(uint64(size), types.I8))
	} else {
		buf := make([]byte, 0, size)
		for _, it := range d.Items {
			switch {
			case it.Count > 0:
				buf = append(buf, make([]byte, it.Count)...)
			case it.Typ == ir.TypeB:
				c, ok := it.Value.(*ir.Const)
				if !ok { return fmt.Errorf("data '%s': non-constant byte", d.Name) }
				buf = append(buf, byte(c.Value))
			default:
				return fmt.Errorf("data '%s': unsupported item type %d", d.Name, it.Typ)
			}
		}
		init = constant.NewCharArray(buf)
	}

	g := b.module.NewGlobalDef(d.Name, init)
	g.Immutable = d.ReadOnly
	if !d.Exported { g.Linkage = enum.LinkagePrivate }
	if d.Align > 0 { g.Align = lir.Align(d.Align) }
	b.globals[d.Name] = g
	return nil
}

// declareExterns declares each external callee with the parameter types of
// its first call site.
func (b *llvmBackend) declareExterns() {
	for _, ext := range b.prog.Externs {
		var argTypes []ir.Type
	search:
		for _, fn := range b.prog.Funcs {
			for _, blk := range fn.Blocks {
				for _, in := range blk.Instructions {
					if g, ok := calleeOf(in); ok && g == ext.Name {
						argTypes = in.ArgTypes
						break search
					}
				}
			}
		}
		if ext.Variadic && len(argTypes) > ext.Fixed { argTypes = argTypes[:ext.Fixed] }

		params := make([]*lir.Param, len(argTypes))
		for i, t := range argTypes {
			params[i] = lir.NewParam("", b.llvmType(t))
		}
		f := b.module.NewFunc(ext.Name, b.llvmType(ext.ReturnType), params...)
		f.Sig.Variadic = ext.Variadic
		b.funcs[ext.Name] = f
	}
}

func calleeOf(in *ir.Instruction) (string, bool) {
	if in.Op != ir.OpCall || len(in.Args) == 0 { return "", false }
	g, ok := in.Args[0].(*ir.Global)
	if !ok { return "", false }
	return g.Name, true
}

func (b *llvmBackend) genFunc(fn *ir.Func) {
	f := b.funcs[fn.Name]
	b.fn = fn
	b.blocks = make(map[string]*lir.Block)
	b.vals = make(map[string]value.Value)

	for i, p := range fn.Params {
		b.vals[p.Val.String()] = f.Params[i]
	}
	for _, blk := range fn.Blocks {
		b.blocks[blk.Label.Name] = f.NewBlock(blk.Label.Name)
	}

	for _, blk := range fn.Blocks {
		b.cur = b.blocks[blk.Label.Name]
		for _, in := range blk.Instructions {
			b.genInstr(in)
			if b.err != nil { return }
		}
	}
}

func (b *llvmBackend) fail(format string, args ...any) {
	if b.err == nil { b.err = fmt.Errorf(format, args...) }
}

func (b *llvmBackend) def(result ir.Value, v value.Value) {
	if result != nil { b.vals[result.String()] = v }
}

// val converts v to an LLVM value of type want.
func (b *llvmBackend) val(v ir.Value, want types.Type) value.Value {
	switch v := v.(type) {
	case *ir.Const:
		switch t := want.(type) {
		case *types.IntType: return constant.NewInt(t, v.Value)
		case *types.FloatType: return constant.NewFloat(t, float64(v.Value))
		}
	case *ir.FloatConst:
		return constant.NewFloat(types.Double, v.Value)
	case *ir.Global:
		if g, ok := b.globals[v.Name]; ok { return b.cur.NewPtrToInt(g, b.word) }
		if f, ok := b.funcs[v.Name]; ok { return b.cur.NewPtrToInt(f, b.word) }
		b.fail("unknown global '%s'", v.Name)
		return constant.NewInt(b.word, 0)
	case *ir.Temporary:
		if x, ok := b.vals[v.String()]; ok { return x }
		b.fail("use of undefined temporary %s", v)
		return constant.NewUndef(want)
	}
	b.fail("cannot use %v as %s", v, want)
	return constant.NewUndef(want)
}

func (b *llvmBackend) ptr(addr ir.Value, elem types.Type) value.Value {
	return b.cur.NewIntToPtr(b.val(addr, b.word), types.NewPointer(elem))
}

func (b *llvmBackend) block(v ir.Value) *lir.Block {
	l, ok := v.(*ir.Label)
	if ok {
		if blk, ok := b.blocks[l.Name]; ok { return blk }
	}
	b.fail("branch to unknown block %v", v)
	return b.cur
}

var intPreds = map[ir.Op]enum.IPred{
	ir.OpCEq: enum.IPredEQ, ir.OpCNeq: enum.IPredNE, ir.OpCLt: enum.IPredSLT,
	ir.OpCGt: enum.IPredSGT, ir.OpCLe: enum.IPredSLE, ir.OpCGe: enum.IPredSGE,
}

var floatPreds = map[ir.Op]enum.FPred{
	ir.OpCEq: enum.FPredOEQ, ir.OpCNeq: enum.FPredONE, ir.OpCLt: enum.FPredOLT,
	ir.OpCGt: enum.FPredOGT, ir.OpCLe: enum.FPredOLE, ir.OpCGe: enum.FPredOGE,
}

func (b *llvmBackend) genInstr(in *ir.Instruction) {
	cur := b.cur
	t := b.llvmType(in.Typ)
	arg := func(i int, want types.Type) value.Value { return b.val(in.Args[i], want) }

	switch in.Op {
	case ir.OpAlloc:
		n, ok := in.Args[0].(*ir.Const)
		if !ok {
			b.fail("alloc of non-constant size")
			return
		}
		a := cur.NewAlloca(types.NewArray(uint64(n.Value), types.I8))
		if in.Align > 0 { a.Align = lir.Align(in.Align) }
		b.def(in.Result, cur.NewPtrToInt(a, b.word))

	case ir.OpLoad:
		b.def(in.Result, cur.NewLoad(t, b.ptr(in.Args[0], t)))

	case ir.OpStore:
		cur.NewStore(arg(0, t), b.ptr(in.Args[1], t))

	case ir.OpCopy:
		b.def(in.Result, arg(0, t))

	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpDiv, ir.OpRem:
		b.def(in.Result, b.arith(in.Op, t, arg(0, t), arg(1, t)))

	case ir.OpAnd:
		b.def(in.Result, cur.NewAnd(arg(0, t), arg(1, t)))
	case ir.OpOr:
		b.def(in.Result, cur.NewOr(arg(0, t), arg(1, t)))
	case ir.OpXor:
		b.def(in.Result, cur.NewXor(arg(0, t), arg(1, t)))
	case ir.OpShl:
		b.def(in.Result, cur.NewShl(arg(0, t), arg(1, t)))
	case ir.OpSar:
		b.def(in.Result, cur.NewAShr(arg(0, t), arg(1, t)))

	case ir.OpNeg:
		if t == types.Double {
			b.def(in.Result, cur.NewFNeg(arg(0, t)))
			return
		}
		it, _ := t.(*types.IntType)
		b.def(in.Result, cur.NewSub(constant.NewInt(it, 0), arg(0, t)))

	case ir.OpCEq, ir.OpCNeq, ir.OpCLt, ir.OpCGt, ir.OpCLe, ir.OpCGe:
		ot := b.llvmType(in.OperandType)
		if in.OperandType == ir.TypeNone { ot = t }
		var c value.Value
		if ot == types.Double {
			c = cur.NewFCmp(floatPreds[in.Op], arg(0, ot), arg(1, ot))
		} else {
			c = cur.NewICmp(intPreds[in.Op], arg(0, ot), arg(1, ot))
		}
		b.def(in.Result, cur.NewZExt(c, types.I32))

	case ir.OpExtSW:
		b.def(in.Result, cur.NewSExt(arg(0, types.I32), t))
	case ir.OpFToSI:
		b.def(in.Result, cur.NewFPToSI(arg(0, types.Double), types.I32))
	case ir.OpSWToF:
		b.def(in.Result, cur.NewSIToFP(arg(0, types.I32), types.Double))

	case ir.OpJmp:
		cur.NewBr(b.block(in.Args[0]))
	case ir.OpJnz:
		c := cur.NewICmp(enum.IPredNE, arg(0, types.I32), constant.NewInt(types.I32, 0))
		cur.NewCondBr(c, b.block(in.Args[1]), b.block(in.Args[2]))
	case ir.OpRet:
		rt := b.llvmType(b.fn.ReturnType)
		if len(in.Args) == 0 || rt == types.Void {
			cur.NewRet(nil)
			return
		}
		cur.NewRet(arg(0, rt))

	case ir.OpCall:
		name, ok := calleeOf(in)
		callee, known := b.funcs[name]
		if !ok || !known {
			b.fail("call to unknown function %v", in.Args[0])
			return
		}
		args := make([]value.Value, 0, len(in.Args)-1)
		for i := 1; i < len(in.Args); i++ {
			at := ir.TypePtr
			if i-1 < len(in.ArgTypes) { at = in.ArgTypes[i-1] }
			args = append(args, arg(i, b.llvmType(at)))
		}
		b.def(in.Result, cur.NewCall(callee, args...))

	default:
		b.fail("no LLVM instruction for %s", in.Op)
	}
}

func (b *llvmBackend) arith(op ir.Op, t types.Type, x, y value.Value) value.Value {
	cur := b.cur
	if t == types.Double {
		switch op {
		case ir.OpAdd: return cur.NewFAdd(x, y)
		case ir.OpSub: return cur.NewFSub(x, y)
		case ir.OpMul: return cur.NewFMul(x, y)
		case ir.OpDiv: return cur.NewFDiv(x, y)
		default: return cur.NewFRem(x, y)
		}
	}
	switch op {
	case ir.OpAdd: return cur.NewAdd(x, y)
	case ir.OpSub: return cur.NewSub(x, y)
	case ir.OpMul: return cur.NewMul(x, y)
	case ir.OpDiv: return cur.NewSDiv(x, y)
	default: return cur.NewSRem(x, y)
	}
}
