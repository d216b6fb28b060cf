package lower

import (
	"strconv"
	"strings"

	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/ir"
	"github.com/xplshn/quadc/pkg/quad"
	"github.com/xplshn/quadc/pkg/symtab"
	"github.com/xplshn/quadc/pkg/util"
)

var arithOps = map[string]ir.Op{"+": ir.OpAdd, "-": ir.OpSub, "*": ir.OpMul, "/": ir.OpDiv, "%": ir.OpRem}

var bitwiseOps = map[string]ir.Op{"&": ir.OpAnd, "|": ir.OpOr, "^": ir.OpXor, "<<": ir.OpShl, ">>": ir.OpSar}

var compareOps = map[string]ir.Op{
	"==": ir.OpCEq, "!=": ir.OpCNeq, "<": ir.OpCLt, ">": ir.OpCGt, "<=": ir.OpCLe, ">=": ir.OpCGe,
}

func (c *Context) bind(t quad.Temp, b binding) { c.temps[t] = b }

func (c *Context) lookup(t quad.Temp) binding {
	b, ok := c.temps[t]
	if !ok { util.Internalf("use of undefined temporary %s in '%s'", t, c.fn.Name) }
	return b
}

// address returns the binding of t, which must designate storage.
func (c *Context) address(t quad.Temp) binding {
	b := c.lookup(t)
	if b.typ != ir.TypePtr || b.fn != "" { util.Internalf("temporary %s in '%s' is not an address", t, c.fn.Name) }
	return b
}

func (c *Context) result(t quad.Temp, typ ir.Type) *ir.Temporary {
	r := &ir.Temporary{Name: "t", ID: int(t)}
	c.bind(t, binding{val: r, typ: typ})
	return r
}

func (c *Context) lowerQuad(q quad.Quad) {
	switch q := q.(type) {
	case *quad.StmtBegin:
		c.line = q.Line

	case *quad.Const:
		c.bind(q.Dst, c.constant(q))

	case *quad.StringLit:
		c.bind(q.Dst, binding{val: c.intern(q.Text), typ: ir.TypePtr, elem: ir.TypeB, array: true})

	case *quad.Ref:
		c.bind(q.Dst, c.ref(q))

	case *quad.Load:
		a := c.address(q.Addr)
		if a.array {
			c.bind(q.Dst, a)
			return
		}
		t := irType(q.Type)
		c.addInstr(&ir.Instruction{Op: ir.OpLoad, Typ: t, Result: c.result(q.Dst, t), Args: []ir.Value{a.val}})

	case *quad.Store:
		a := c.address(q.Addr)
		v := c.lookup(q.Val)
		t := irType(q.Type)
		if val := c.coerce(v, t); val != v.val { v = binding{val: val, typ: t} }
		c.addInstr(&ir.Instruction{Op: ir.OpStore, Typ: t, Args: []ir.Value{v.val, a.val}})
		c.bind(q.Dst, v)

	case *quad.Index:
		c.bind(q.Dst, c.index(q))

	case *quad.Unary:
		switch q.Op {
		case "-":
			t := c.operandType(q.Op, q.Type, q.X)
			x := c.coerce(c.lookup(q.X), t)
			c.addInstr(&ir.Instruction{Op: ir.OpNeg, Typ: t, Result: c.result(q.Dst, t), Args: []ir.Value{x}})
		case "~":
			c.operandType(q.Op, quad.Int, q.X)
			x := c.coerce(c.lookup(q.X), ir.TypeW)
			c.addInstr(&ir.Instruction{Op: ir.OpXor, Typ: ir.TypeW, Result: c.result(q.Dst, ir.TypeW), Args: []ir.Value{x, &ir.Const{Value: -1}}})
		default:
			util.Internalf("unknown unary operator '%s'", q.Op)
		}

	case *quad.Arith:
		t := c.operandType(q.Op, q.Type, q.X, q.Y)
		c.binary(q.Dst, arithOps[q.Op], q.Op, q.X, q.Y, t, t)

	case *quad.Bitwise:
		c.operandType(q.Op, quad.Int, q.X, q.Y)
		c.binary(q.Dst, bitwiseOps[q.Op], q.Op, q.X, q.Y, ir.TypeW, ir.TypeW)

	case *quad.Compare:
		t := c.operandType(q.Op, q.Type, q.X, q.Y)
		c.binary(q.Dst, compareOps[q.Op], q.Op, q.X, q.Y, ir.TypeW, t)

	case *quad.Cast:
		x := c.lookup(q.X)
		to := ir.TypeW
		if q.To.IsDouble() { to = ir.TypeD }
		if x.typ == to {
			c.bind(q.Dst, x)
			return
		}
		if to == ir.TypeD {
			c.addInstr(&ir.Instruction{Op: ir.OpSWToF, Typ: ir.TypeD, OperandType: ir.TypeW, Result: c.result(q.Dst, ir.TypeD), Args: []ir.Value{x.val}})
		} else {
			c.addInstr(&ir.Instruction{Op: ir.OpFToSI, Typ: ir.TypeW, OperandType: ir.TypeD, Result: c.result(q.Dst, ir.TypeW), Args: []ir.Value{x.val}})
		}

	case *quad.Arg:
		c.lookup(q.X)

	case *quad.Call:
		c.call(q)

	case *quad.Branch:
		cond := c.lookup(q.Cond)
		c.addInstr(&ir.Instruction{Op: ir.OpJnz, Args: []ir.Value{
			cond.val, &ir.Label{Name: quad.LabelName(q.True.N)}, &ir.Label{Name: quad.LabelName(q.False.N)},
		}})

	case *quad.Jump:
		c.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{&ir.Label{Name: quad.LabelName(q.Target.N)}}})

	case *quad.Return:
		if !q.HasVal {
			c.addInstr(c.defaultReturn())
			return
		}
		v := c.coerce(c.lookup(q.Val), c.fn.ReturnType)
		c.addInstr(&ir.Instruction{Op: ir.OpRet, Args: []ir.Value{v}})

	case *quad.FuncEnd:
		c.addInstr(c.defaultReturn())

	default:
		util.Internalf("quad '%s' cannot appear inside a basic block", q)
	}
}

func (c *Context) constant(q *quad.Const) binding {
	if q.Type.IsDouble() {
		f, err := strconv.ParseFloat(q.Text, 64)
		if err != nil { util.Internalf("bad floating-point constant '%s'", q.Text) }
		return binding{val: &ir.FloatConst{Value: f, Typ: ir.TypeD}, typ: ir.TypeD}
	}
	n, err := strconv.ParseInt(q.Text, 0, 64)
	if err != nil {
		c.rep.Errorf(c.pos(), "integer constant '%s' is out of range", q.Text)
	}
	return binding{val: &ir.Const{Value: int64(int32(n))}, typ: ir.TypeW}
}

func (c *Context) ref(q *quad.Ref) binding {
	var ent *symtab.Entry
	if q.Scope == quad.Global {
		ent = c.tab.LookupGlobal(q.Name)
		if ent == nil || ent.Kind == symtab.KindFunc || ent.Handle == nil {
			return binding{val: &ir.Global{Name: q.Name}, typ: ir.TypePtr, fn: q.Name}
		}
	} else {
		ent = c.tab.Lookup(q.Name)
		if ent == nil || ent.Handle == nil { util.Internalf("reference to unknown %s '%s' in '%s'", q.Scope, q.Name, c.fn.Name) }
	}
	return binding{val: ent.Handle, typ: ir.TypePtr, elem: ent.Elem, array: ent.Type.IsArray()}
}

// index computes base + sext(i) * elemsize.
func (c *Context) index(q *quad.Index) binding {
	base := c.address(q.Base)
	idx := c.lookup(q.Idx).val
	elem := q.Type.Base()

	if c.cfg.WordSize == 8 {
		wide := c.newTemp()
		c.addInstr(&ir.Instruction{Op: ir.OpExtSW, Typ: ir.TypePtr, OperandType: ir.TypeW, Result: wide, Args: []ir.Value{idx}})
		idx = wide
	}
	scaled := c.newTemp()
	c.addInstr(&ir.Instruction{Op: ir.OpMul, Typ: ir.TypePtr, Result: scaled, Args: []ir.Value{idx, &ir.Const{Value: int64(elem.Size())}}})
	addr := &ir.Temporary{Name: "t", ID: int(q.Dst)}
	c.addInstr(&ir.Instruction{Op: ir.OpAdd, Typ: ir.TypePtr, Result: addr, Args: []ir.Value{base.val, scaled}})
	return binding{val: addr, typ: ir.TypePtr, elem: irType(elem)}
}

// operandType is the type an operator works in: d when any operand lowered
// to a double, w otherwise. A tag that disagrees is an error.
func (c *Context) operandType(lexeme string, tag quad.Type, temps ...quad.Temp) ir.Type {
	t := ir.TypeW
	for _, tmp := range temps {
		if c.lookup(tmp).typ == ir.TypeD { t = ir.TypeD }
	}
	if want := irType(tag.Base()); want != t {
		c.rep.Errorf(c.pos(), "operator '%s' expects %s operands, got %s", lexeme, typeName(want), typeName(t))
	}
	return t
}

func typeName(t ir.Type) string {
	if t == ir.TypeD { return "double" }
	return "int"
}

func (c *Context) binary(dst quad.Temp, op ir.Op, lexeme string, x, y quad.Temp, typ, operand ir.Type) {
	if op == ir.OpAlloc { util.Internalf("unknown binary operator '%s'", lexeme) }
	xv, yv := c.coerce(c.lookup(x), operand), c.coerce(c.lookup(y), operand)
	c.addInstr(&ir.Instruction{
		Op:          op,
		Typ:         typ,
		OperandType: operand,
		Result:      c.result(dst, typ),
		Args:        []ir.Value{xv, yv},
	})
}

// coerce converts v to typ with the int/double conversions.
func (c *Context) coerce(v binding, typ ir.Type) ir.Value {
	switch {
	case v.typ == ir.TypeD && typ == ir.TypeW:
		r := c.newTemp()
		c.addInstr(&ir.Instruction{Op: ir.OpFToSI, Typ: ir.TypeW, OperandType: ir.TypeD, Result: r, Args: []ir.Value{v.val}})
		return r
	case v.typ == ir.TypeW && typ == ir.TypeD:
		r := c.newTemp()
		c.addInstr(&ir.Instruction{Op: ir.OpSWToF, Typ: ir.TypeD, OperandType: ir.TypeW, Result: r, Args: []ir.Value{v.val}})
		return r
	}
	return v.val
}

func (c *Context) call(q *quad.Call) {
	callee := c.lookup(q.Callee)
	if callee.fn == "" { util.Internalf("call through non-function temporary %s in '%s'", q.Callee, c.fn.Name) }

	ent := c.tab.LookupGlobal(callee.fn)
	if ent == nil || ent.Kind != symtab.KindFunc {
		c.rep.Warnf(config.WarnImplicitDecl, c.pos(), "implicit declaration of function '%s'", callee.fn)
		ent = c.tab.InstallAt(callee.fn, 0)
		ent.Kind, ent.Scope, ent.Type, ent.Implicit = symtab.KindFunc, quad.Global, quad.Int, true
		ent.Handle, ent.Elem, ent.Fixed = &ir.Global{Name: callee.fn}, ir.TypeW, len(q.Args)
	}
	if ent.Handle == nil { ent.Handle, ent.Elem = &ir.Global{Name: callee.fn}, irType(ent.Type.Base()) }
	c.extern(ent)

	if c.defined[ent.Name] && !ent.Variadic && len(q.Args) != ent.Fixed {
		c.rep.Errorf(c.pos(), "function '%s' called with %d %s, expects %d", ent.Name, len(q.Args), plural(len(q.Args), "argument"), ent.Fixed)
	}

	args := []ir.Value{ent.Handle}
	var types []ir.Type
	for _, a := range q.Args {
		b := c.lookup(a)
		// arrays and strings decay to their base address
		args = append(args, b.val)
		types = append(types, b.typ)
	}

	instr := &ir.Instruction{Op: ir.OpCall, Typ: ent.Elem, Args: args, ArgTypes: types}
	if ent.Elem == ir.TypeNone {
		c.addInstr(instr)
		c.bind(q.Dst, binding{val: &ir.Const{Value: 0}, typ: ir.TypeW})
		return
	}
	instr.Result = c.result(q.Dst, ent.Elem)
	c.addInstr(instr)
}

func plural(n int, word string) string {
	if n == 1 { return word }
	return word + "s"
}

// Dump renders p for debugging in a compact, backend-independent form.
func Dump(p *ir.Program) string {
	var sb strings.Builder
	for _, f := range p.Funcs {
		sb.WriteString("function " + f.Name + "\n")
		for _, b := range f.Blocks {
			sb.WriteString(b.Label.Name + ":\n")
			for _, in := range b.Instructions {
				sb.WriteString("\t")
				if in.Result != nil { sb.WriteString(in.Result.String() + " = ") }
				sb.WriteString(in.Op.String())
				for i, a := range in.Args {
					if i > 0 { sb.WriteString(",") }
					sb.WriteString(" " + a.String())
				}
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}
