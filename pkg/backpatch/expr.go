package backpatch

import (
	"strings"

	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/quad"
	"github.com/xplshn/quadc/pkg/symtab"
	"github.com/xplshn/quadc/pkg/util"
)

// Con loads a numeric literal.
func (e *Engine) Con(text string) *Value {
	t := quad.Int
	if !strings.HasPrefix(text, "0x") && !strings.HasPrefix(text, "0X") && strings.ContainsAny(text, ".eE") {
		t = quad.Double
	}
	dst := e.newTemp()
	e.emit(&quad.Const{Dst: dst, Text: text, Type: t})
	return &Value{Place: dst, Type: t}
}

// String loads the address of a string literal. lit excludes the quotes.
func (e *Engine) String(lit string) *Value {
	dst := e.newTemp()
	e.emit(&quad.StringLit{Dst: dst, Text: lit})
	return &Value{Place: dst, Type: quad.Str}
}

// ID references a variable. An undeclared name is reported and then treated
// as an int local so later uses do not report again. Inside a function body
// the local gets its own localloc, so the stream still lowers.
func (e *Engine) ID(name string) *Value {
	ent := e.tab.Lookup(name)
	if ent == nil {
		e.rep.Errorf(e.pos(), "undeclared identifier '%s'", name)
		ent = e.tab.Install(name)
		ent.Kind, ent.Scope, ent.Type, ent.Count, ent.Defined = symtab.KindVar, quad.Local, quad.Int, 1, true
		ent.Offset = len(e.locals)
		e.locals = append(e.locals, ent)
		if e.headed {
			e.emit(&quad.LocalAlloc{Name: ent.Name, Type: ent.Type, Width: ent.Type.Size()})
		}
	}

	dst := e.newTemp()
	e.emit(&quad.Ref{Dst: dst, Scope: ent.Scope, Name: ent.Name, Offset: ent.Offset})
	return &Value{Place: dst, Type: ent.Type | quad.Addr}
}

// Index addresses element i of array x.
func (e *Engine) Index(x, i *Value) *Value {
	elem := x.Type.Base()
	if i.Type.IsDouble() { i = e.Cast(i, quad.Int) }
	dst := e.newTemp()
	e.emit(&quad.Index{Dst: dst, Base: x.Place, Idx: i.Place, Type: elem})
	return &Value{Place: dst, Type: elem | quad.Addr}
}

// Op1 applies a unary operator: "@" dereferences an address, "-" negates,
// "~" complements. Arrays are left as addresses by "@".
func (e *Engine) Op1(op string, y *Value) *Value {
	t := y.Type &^ quad.Addr
	switch op {
	case "@":
		if y.Type.IsArray() { return &Value{Place: y.Place, Type: y.Type} }
		dst := e.newTemp()
		e.emit(&quad.Load{Dst: dst, Addr: y.Place, Type: t})
		return &Value{Place: dst, Type: t}
	case "-":
		dst := e.newTemp()
		e.emit(&quad.Unary{Dst: dst, Op: op, X: y.Place, Type: t})
		return &Value{Place: dst, Type: t}
	case "~":
		if t.IsDouble() {
			y = e.Cast(&Value{Place: y.Place, Type: t}, quad.Int)
			t = quad.Int
		}
		dst := e.newTemp()
		e.emit(&quad.Unary{Dst: dst, Op: op, X: y.Place, Type: t})
		return &Value{Place: dst, Type: t}
	}
	util.Internalf("unknown unary operator '%s'", op)
	return nil
}

// promote converts the int side of a mixed int/double pair to double.
func (e *Engine) promote(x, y *Value) (*Value, *Value) {
	switch {
	case x.Type.IsDouble() && !y.Type.IsDouble():
		e.rep.Warnf(config.WarnType, e.pos(), "int operand converted to double")
		y = e.Cast(y, quad.Double)
	case !x.Type.IsDouble() && y.Type.IsDouble():
		e.rep.Warnf(config.WarnType, e.pos(), "int operand converted to double")
		x = e.Cast(x, quad.Double)
	}
	return x, y
}

// Op2 applies an arithmetic operator.
func (e *Engine) Op2(op string, x, y *Value) *Value {
	if !quad.ArithOps[op] { util.Internalf("unknown arithmetic operator '%s'", op) }
	x, y = e.promote(x, y)
	t := x.Type.Base()
	if op == "%" && t.IsDouble() {
		e.rep.Errorf(e.pos(), "cannot %% floating-point values")
	}
	dst := e.newTemp()
	e.emit(&quad.Arith{Dst: dst, Op: op, X: x.Place, Y: y.Place, Type: t})
	return &Value{Place: dst, Type: t}
}

// OpB applies a bitwise operator. Double operands are truncated to int first.
func (e *Engine) OpB(op string, x, y *Value) *Value {
	if !quad.BitwiseOps[op] { util.Internalf("unknown bitwise operator '%s'", op) }
	if x.Type.IsDouble() { x = e.Cast(x, quad.Int) }
	if y.Type.IsDouble() { y = e.Cast(y, quad.Int) }
	dst := e.newTemp()
	e.emit(&quad.Bitwise{Dst: dst, Op: op, X: x.Place, Y: y.Place, Type: quad.Int})
	return &Value{Place: dst, Type: quad.Int}
}

// Rel compares x and y and branches on the result. The returned value carries
// one blank on its true chain and one on its false chain.
func (e *Engine) Rel(op string, x, y *Value) *Value {
	if !quad.CompareOps[op] { util.Internalf("unknown relational operator '%s'", op) }
	x, y = e.promote(x, y)
	dst := e.newTemp()
	e.emit(&quad.Compare{Dst: dst, Op: op, X: x.Place, Y: y.Place, Type: x.Type.Base()})

	tb := e.newBlank()
	e.emit(&quad.CondJump{Cond: dst, Target: quad.BlankTarget(tb)})
	fb := e.newBlank()
	e.emit(&quad.Jump{Target: quad.BlankTarget(fb)})
	return &Value{Place: dst, Type: quad.Int, True: e.single(tb), False: e.single(fb)}
}

// Set assigns y to the location x. A non-empty op makes it a compound
// assignment such as "+=" (op "+").
func (e *Engine) Set(op string, x, y *Value) *Value {
	if op != "" {
		cur := e.Op1("@", &Value{Place: x.Place, Type: x.Type &^ quad.Array})
		if quad.BitwiseOps[op] {
			y = e.OpB(op, cur, y)
		} else {
			y = e.Op2(op, cur, y)
		}
	}

	t := x.Type.Base()
	switch {
	case !t.IsDouble() && y.Type.IsDouble():
		y = e.Cast(y, quad.Int)
	case t.IsDouble() && !y.Type.IsDouble():
		y = e.Cast(y, quad.Double)
	}
	dst := e.newTemp()
	e.emit(&quad.Store{Dst: dst, Addr: x.Place, Val: y.Place, Type: t})
	return &Value{Place: dst, Type: t}
}

// Cast converts x to t, which must be quad.Int or quad.Double.
func (e *Engine) Cast(x *Value, t quad.Type) *Value {
	dst := e.newTemp()
	e.emit(&quad.Cast{Dst: dst, X: x.Place, To: t})
	return &Value{Place: dst, Type: t}
}

// Exprs appends v to an argument list.
func (e *Engine) Exprs(list []*Value, v *Value) []*Value {
	e.guard = true
	return append(list, v)
}

// Call invokes the function name. Calling an undeclared name declares it as
// an int function.
func (e *Engine) Call(name string, args []*Value) *Value {
	ent := e.tab.LookupGlobal(name)
	if ent == nil {
		e.rep.Warnf(config.WarnImplicitDecl, e.pos(), "implicit declaration of function '%s'", name)
		ent = e.tab.InstallAt(name, 0)
		ent.Kind, ent.Scope, ent.Type, ent.Implicit = symtab.KindFunc, quad.Global, quad.Int, true
	}

	temps := make([]quad.Temp, 0, len(args))
	for _, a := range args {
		e.emit(&quad.Arg{X: a.Place, Type: a.Type.Base()})
		temps = append(temps, a.Place)
	}
	fn := e.newTemp()
	e.emit(&quad.Ref{Dst: fn, Scope: quad.Global, Name: ent.Name})

	t := ent.Type.Base()
	dst := e.newTemp()
	e.emit(&quad.Call{Dst: dst, Callee: fn, Type: t, Args: temps})
	return &Value{Place: dst, Type: t}
}

// CCExpr turns an arithmetic value into a condition: e != 0.
func (e *Engine) CCExpr(v *Value) *Value {
	e.guard = true
	return e.Rel("!=", v, e.Con("0"))
}

// CCAnd combines e1 && e2, where m labels the start of e2.
func (e *Engine) CCAnd(e1 *Value, m int, e2 *Value) *Value {
	e.guard = true
	e.resolve(e1.True, m)
	return &Value{True: e2.True, False: e.merge(e1.False, e2.False)}
}

// CCOr combines e1 || e2, where m labels the start of e2.
func (e *Engine) CCOr(e1 *Value, m int, e2 *Value) *Value {
	e.guard = true
	e.resolve(e1.False, m)
	return &Value{True: e.merge(e1.True, e2.True), False: e2.False}
}

func (e *Engine) CCNot(v *Value) *Value {
	e.guard = true
	return &Value{True: v.False, False: v.True}
}
