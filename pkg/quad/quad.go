// Package quad defines the three-address instructions exchanged between the
// backpatch engine, the block builder and lowering.
package quad

import (
	"fmt"
	"strings"
)

// Type is the static type of a value, expressed as bit flags.
type Type int

const (
	Int Type = 1 << iota
	Double
	Str
	Addr
	Array
	LabelType
)

// Base strips the address and array qualifiers.
func (t Type) Base() Type { return t &^ (Addr | Array) }

func (t Type) IsDouble() bool { return t&Double != 0 }
func (t Type) IsArray() bool  { return t&Array != 0 }

// Suffix is the one-letter type tag used in operator lexemes.
func (t Type) Suffix() string {
	if t.IsDouble() { return "f" }
	return "i"
}

// Size is the width in bytes of one element of t.
func (t Type) Size() int {
	if t.IsDouble() { return 8 }
	return 4
}

func (t Type) String() string {
	var s string
	switch {
	case t&LabelType != 0: return "label"
	case t&Double != 0: s = "double"
	case t&Str != 0: s = "string"
	default: s = "int"
	}
	if t&Array != 0 { s += "[]" }
	if t&Addr != 0 { s += "*" }
	return s
}

// Temp names a temporary. Zero means "no temporary".
type Temp int

func (t Temp) String() string { return fmt.Sprintf("t%d", int(t)) }

// Target is a branch destination: either a blank label awaiting a backpatch
// equation or a concrete label.
type Target struct {
	Blank bool
	N     int
}

func BlankTarget(n int) Target    { return Target{Blank: true, N: n} }
func ConcreteTarget(n int) Target { return Target{N: n} }

func (t Target) String() string {
	if t.Blank { return fmt.Sprintf("B%d", t.N) }
	return LabelName(t.N)
}

// LabelName is the block name of concrete label n.
func LabelName(n int) string { return fmt.Sprintf("L%d", n) }

// Scope is the storage class named by a Ref.
type Scope int

const (
	Global Scope = iota
	Param
	Local
)

func (s Scope) String() string {
	switch s {
	case Param: return "param"
	case Local: return "local"
	default: return "global"
	}
}

// Quad is one instruction. The set of implementations is closed.
type Quad interface {
	isQuad()
	String() string
}

type (
	GlobalAlloc struct {
		Name  string
		Type  Type
		Width int
	}
	FuncBegin struct {
		Name string
		Type Type
	}
	Formal struct {
		Name  string
		Type  Type
		Width int
	}
	LocalAlloc struct {
		Name  string
		Type  Type
		Width int
	}
	StmtBegin struct{ Line int }
	Const     struct {
		Dst  Temp
		Text string
		Type Type
	}
	// StringLit carries the literal as written, without the quotes.
	StringLit struct {
		Dst  Temp
		Text string
	}
	Ref struct {
		Dst    Temp
		Scope  Scope
		Name   string
		Offset int
	}
	Load struct {
		Dst, Addr Temp
		Type      Type
	}
	Store struct {
		Dst, Addr, Val Temp
		Type           Type
	}
	Index struct {
		Dst, Base, Idx Temp
		Type           Type
	}
	Unary struct {
		Dst  Temp
		Op   string
		X    Temp
		Type Type
	}
	Arith struct {
		Dst  Temp
		Op   string
		X, Y Temp
		Type Type
	}
	Bitwise struct {
		Dst  Temp
		Op   string
		X, Y Temp
		Type Type
	}
	Compare struct {
		Dst  Temp
		Op   string
		X, Y Temp
		Type Type
	}
	Cast struct {
		Dst, X Temp
		To     Type
	}
	Arg struct {
		X    Temp
		Type Type
	}
	Call struct {
		Dst, Callee Temp
		Type        Type
		Args        []Temp
	}
	CondJump struct {
		Cond   Temp
		Target Target
	}
	Jump struct{ Target Target }
	// Branch is a CondJump fused with the Jump that follows it.
	Branch struct {
		Cond        Temp
		True, False Target
	}
	Label struct{ N int }
	Patch struct{ Blank, Label int }
	Return struct {
		Val    Temp
		HasVal bool
		Type   Type
	}
	FuncEnd struct{}
)

func (*GlobalAlloc) isQuad() {}
func (*FuncBegin) isQuad()   {}
func (*Formal) isQuad()      {}
func (*LocalAlloc) isQuad()  {}
func (*StmtBegin) isQuad()   {}
func (*Const) isQuad()       {}
func (*StringLit) isQuad()   {}
func (*Ref) isQuad()         {}
func (*Load) isQuad()        {}
func (*Store) isQuad()       {}
func (*Index) isQuad()       {}
func (*Unary) isQuad()       {}
func (*Arith) isQuad()       {}
func (*Bitwise) isQuad()     {}
func (*Compare) isQuad()     {}
func (*Cast) isQuad()        {}
func (*Arg) isQuad()         {}
func (*Call) isQuad()        {}
func (*CondJump) isQuad()    {}
func (*Jump) isQuad()        {}
func (*Branch) isQuad()      {}
func (*Label) isQuad()       {}
func (*Patch) isQuad()       {}
func (*Return) isQuad()      {}
func (*FuncEnd) isQuad()     {}

func (q *GlobalAlloc) String() string { return fmt.Sprintf("alloc %s %d %d", q.Name, q.Type, q.Width) }
func (q *FuncBegin) String() string   { return fmt.Sprintf("func %s %d", q.Name, q.Type) }
func (q *Formal) String() string      { return fmt.Sprintf("formal %s %d %d", q.Name, q.Type, q.Width) }
func (q *LocalAlloc) String() string  { return fmt.Sprintf("localloc %s %d %d", q.Name, q.Type, q.Width) }
func (q *StmtBegin) String() string   { return fmt.Sprintf("bgnstmt %d", q.Line) }
func (q *Const) String() string       { return fmt.Sprintf("%s := %s", q.Dst, q.Text) }
func (q *StringLit) String() string   { return fmt.Sprintf("%s := \"%s\"", q.Dst, q.Text) }

func (q *Ref) String() string {
	if q.Scope == Global { return fmt.Sprintf("%s := global %s", q.Dst, q.Name) }
	return fmt.Sprintf("%s := %s %s %d", q.Dst, q.Scope, q.Name, q.Offset)
}

func (q *Load) String() string  { return fmt.Sprintf("%s := @%s %s", q.Dst, q.Type.Suffix(), q.Addr) }
func (q *Store) String() string { return fmt.Sprintf("%s := %s =%s %s", q.Dst, q.Addr, q.Type.Suffix(), q.Val) }
func (q *Index) String() string { return fmt.Sprintf("%s := %s []%s %s", q.Dst, q.Base, q.Type.Suffix(), q.Idx) }
func (q *Unary) String() string { return fmt.Sprintf("%s := %s%s %s", q.Dst, q.Op, q.Type.Suffix(), q.X) }

func (q *Arith) String() string   { return binary(q.Dst, q.X, q.Op, q.Type, q.Y) }
func (q *Bitwise) String() string { return binary(q.Dst, q.X, q.Op, q.Type, q.Y) }
func (q *Compare) String() string { return binary(q.Dst, q.X, q.Op, q.Type, q.Y) }

func binary(dst, x Temp, op string, t Type, y Temp) string {
	return fmt.Sprintf("%s := %s %s%s %s", dst, x, op, t.Suffix(), y)
}

func (q *Cast) String() string { return fmt.Sprintf("%s := cv%s %s", q.Dst, q.To.Suffix(), q.X) }
func (q *Arg) String() string  { return fmt.Sprintf("arg%s %s", q.Type.Suffix(), q.X) }

func (q *Call) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s := f%s %s %d", q.Dst, q.Type.Suffix(), q.Callee, len(q.Args))
	for _, a := range q.Args {
		sb.WriteString(" ")
		sb.WriteString(a.String())
	}
	return sb.String()
}

func (q *CondJump) String() string { return fmt.Sprintf("bt %s %s", q.Cond, q.Target) }
func (q *Jump) String() string     { return fmt.Sprintf("br %s", q.Target) }
func (q *Branch) String() string   { return fmt.Sprintf("bt %s %s\nbr %s", q.Cond, q.True, q.False) }
func (q *Label) String() string    { return fmt.Sprintf("label %s", LabelName(q.N)) }
func (q *Patch) String() string    { return fmt.Sprintf("B%d=L%d", q.Blank, q.Label) }

func (q *Return) String() string {
	if !q.HasVal { return "ret" + q.Type.Suffix() }
	return fmt.Sprintf("ret%s %s", q.Type.Suffix(), q.Val)
}

func (q *FuncEnd) String() string { return "fend" }

// IsTransfer reports whether q ends a basic block.
func IsTransfer(q Quad) bool {
	switch q.(type) {
	case *CondJump, *Jump, *Branch, *Return:
		return true
	}
	return false
}

// ArithOps, BitwiseOps and CompareOps classify binary operator lexemes.
var (
	ArithOps   = map[string]bool{"+": true, "-": true, "*": true, "/": true, "%": true}
	BitwiseOps = map[string]bool{"&": true, "|": true, "^": true, "<<": true, ">>": true}
	CompareOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}
)
