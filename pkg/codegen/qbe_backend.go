package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/ir"
)

type qbeBackend struct {
	out  *strings.Builder
	prog *ir.Program
}

func NewQBEBackend() Backend { return &qbeBackend{} }

// qbeSource is the file name QBE reports positions against.
const qbeSource = "input.ssa"

// assemblyError wraps a QBE failure for target. When QBE names a line of
// src, that line is quoted.
func assemblyError(target, src string, err error) error {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, qbeSource+":"); ok {
		num, _, _ := strings.Cut(rest, ":")
		if n, convErr := strconv.Atoi(num); convErr == nil {
			lines := strings.Split(src, "\n")
			if n >= 1 && n <= len(lines) {
				return fmt.Errorf("qbe (%s): %w\n\t%s", target, err, strings.TrimSpace(lines[n-1]))
			}
		}
	}
	return fmt.Errorf("qbe (%s): %w", target, err)
}

func (b *qbeBackend) GenerateIR(prog *ir.Program, cfg *config.Config) (string, error) {
	var qbeIRBuilder strings.Builder
	b.out = &qbeIRBuilder
	b.prog = prog
	if err := b.gen(); err != nil { return "", err }
	return qbeIRBuilder.String(), nil
}

func (b *qbeBackend) gen() error {
	for _, g := range b.prog.Globals {
		b.genData(g)
	}

	if len(b.prog.Strings) > 0 {
		b.out.WriteString("\n")
		for _, s := range b.prog.Strings {
			b.genData(s)
		}
	}

	for _, fn := range b.prog.Funcs {
		if err := b.genFunc(fn); err != nil { return err }
	}
	return nil
}

func (b *qbeBackend) genData(g *ir.Data) {
	alignStr := ""
	if g.Align > 0 { alignStr = fmt.Sprintf("align %d ", g.Align) }
	if g.Exported { b.out.WriteString("export ") }

	fmt.Fprintf(b.out, "data $%s = %s{ ", g.Name, alignStr)
	for i, item := range g.Items {
		if item.Count > 0 {
			size := int64(item.Count)
			if item.Typ != ir.TypeB {
				size *= ir.SizeOfType(item.Typ, b.prog.WordSize)
			}
			fmt.Fprintf(b.out, "z %d", size)
		} else {
			fmt.Fprintf(b.out, "%s %s", b.formatType(item.Typ), b.formatValue(item.Value))
		}
		if i < len(g.Items)-1 { b.out.WriteString(", ") }
	}
	b.out.WriteString(" }\n")
}

func (b *qbeBackend) genFunc(fn *ir.Func) error {
	retTypeStr := b.formatType(fn.ReturnType)
	if retTypeStr != "" { retTypeStr = " " + retTypeStr }

	fmt.Fprintf(b.out, "\nexport function%s $%s(", retTypeStr, fn.Name)
	for i, p := range fn.Params {
		fmt.Fprintf(b.out, "%s %s", b.formatType(p.Typ), b.formatValue(p.Val))
		if i < len(fn.Params)-1 { b.out.WriteString(", ") }
	}
	b.out.WriteString(") {\n")

	for _, block := range fn.Blocks {
		if err := b.genBlock(block); err != nil { return fmt.Errorf("function '%s': %w", fn.Name, err) }
	}

	b.out.WriteString("}\n")
	return nil
}

func (b *qbeBackend) genBlock(block *ir.BasicBlock) error {
	fmt.Fprintf(b.out, "@%s\n", block.Label.Name)
	for _, instr := range block.Instructions {
		if err := b.genInstr(instr); err != nil { return err }
	}
	return nil
}

func (b *qbeBackend) genInstr(instr *ir.Instruction) error {
	b.out.WriteString("\t")
	if instr.Op == ir.OpCall {
		b.genCall(instr)
		return nil
	}

	if instr.Result != nil {
		fmt.Fprintf(b.out, "%s =%s ", b.formatValue(instr.Result), b.formatType(instr.Typ))
	}

	opStr, err := b.formatOp(instr)
	if err != nil { return err }
	b.out.WriteString(opStr)

	for i, arg := range instr.Args {
		b.out.WriteString(" ")
		if arg != nil { b.out.WriteString(b.formatValue(arg)) }
		if i < len(instr.Args)-1 { b.out.WriteString(",") }
	}
	b.out.WriteString("\n")
	return nil
}

func (b *qbeBackend) genCall(instr *ir.Instruction) {
	callee := instr.Args[0]
	fixed := -1
	if g, ok := callee.(*ir.Global); ok {
		if ext := b.prog.FindExtern(g.Name); ext != nil && ext.Variadic { fixed = ext.Fixed }
	}

	if instr.Result != nil {
		fmt.Fprintf(b.out, "%s =%s ", b.formatValue(instr.Result), b.formatType(instr.Typ))
	}
	fmt.Fprintf(b.out, "call %s(", b.formatValue(callee))

	args := instr.Args[1:]
	for i, arg := range args {
		if i == fixed { b.out.WriteString("..., ") }
		argType := ir.TypePtr
		if i < len(instr.ArgTypes) { argType = instr.ArgTypes[i] }
		fmt.Fprintf(b.out, "%s %s", b.formatType(argType), b.formatValue(arg))
		if i < len(args)-1 { b.out.WriteString(", ") }
	}
	if fixed >= len(args) {
		if len(args) > 0 { b.out.WriteString(", ") }
		b.out.WriteString("...")
	}
	b.out.WriteString(")\n")
}

func (b *qbeBackend) formatValue(v ir.Value) string {
	if v == nil { return "" }
	switch val := v.(type) {
	case *ir.Const: return strconv.FormatInt(val.Value, 10)
	case *ir.FloatConst: return fmt.Sprintf("%s_%s", b.formatType(val.Typ), strconv.FormatFloat(val.Value, 'g', -1, 64))
	case *ir.Global: return "$" + val.Name
	case *ir.Temporary:
		safeName := strings.NewReplacer(".", "_", "[", "_", "]", "_").Replace(val.Name)
		if val.ID == -1 { return "%" + safeName }
		if safeName != "" { return fmt.Sprintf("%%.%s_%d", safeName, val.ID) }
		return fmt.Sprintf("%%t%d", val.ID)
	case *ir.Label: return "@" + val.Name
	default: return ""
	}
}

func (b *qbeBackend) wordType() ir.Type {
	if b.prog.WordSize == 4 { return ir.TypeW }
	return ir.TypeL
}

func (b *qbeBackend) formatType(t ir.Type) string {
	switch t {
	case ir.TypeB: return "b"
	case ir.TypeW: return "w"
	case ir.TypeL: return "l"
	case ir.TypeD: return "d"
	case ir.TypePtr: return b.formatType(b.wordType())
	default: return ""
	}
}

func (b *qbeBackend) formatOp(instr *ir.Instruction) (string, error) {
	typ := instr.Typ
	argType := instr.OperandType
	if argType == ir.TypeNone { argType = instr.Typ }
	argTypeStr := b.formatType(argType)
	float := argType == ir.TypeD

	switch instr.Op {
	case ir.OpAlloc:
		if instr.Align <= 4 { return "alloc4", nil }
		if instr.Align <= 8 { return "alloc8", nil }
		return "alloc16", nil
	case ir.OpLoad: return "load" + b.formatType(typ), nil
	case ir.OpStore: return "store" + b.formatType(typ), nil
	case ir.OpCopy: return "copy", nil
	case ir.OpAdd: return "add", nil
	case ir.OpSub: return "sub", nil
	case ir.OpMul: return "mul", nil
	case ir.OpDiv: return "div", nil
	case ir.OpRem: return "rem", nil
	case ir.OpAnd: return "and", nil
	case ir.OpOr: return "or", nil
	case ir.OpXor: return "xor", nil
	case ir.OpShl: return "shl", nil
	case ir.OpSar: return "sar", nil
	case ir.OpNeg: return "neg", nil
	case ir.OpCEq: return "ceq" + argTypeStr, nil
	case ir.OpCNeq: return "cne" + argTypeStr, nil
	case ir.OpCLt:
		if float { return "clt" + argTypeStr, nil }
		return "cslt" + argTypeStr, nil
	case ir.OpCGt:
		if float { return "cgt" + argTypeStr, nil }
		return "csgt" + argTypeStr, nil
	case ir.OpCLe:
		if float { return "cle" + argTypeStr, nil }
		return "csle" + argTypeStr, nil
	case ir.OpCGe:
		if float { return "cge" + argTypeStr, nil }
		return "csge" + argTypeStr, nil
	case ir.OpExtSW: return "extsw", nil
	case ir.OpFToSI: return "dtosi", nil
	case ir.OpSWToF: return "swtof", nil
	case ir.OpJmp: return "jmp", nil
	case ir.OpJnz: return "jnz", nil
	case ir.OpRet: return "ret", nil
	default: return "", fmt.Errorf("no QBE instruction for %s", instr.Op)
	}
}
