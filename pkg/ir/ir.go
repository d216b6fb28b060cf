package ir

import "fmt"

type Op int

const (
	OpAlloc Op = iota
	OpLoad
	OpStore
	OpCopy
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpSar
	OpNeg
	OpCEq
	OpCNeq
	OpCLt
	OpCGt
	OpCLe
	OpCGe
	OpExtSW
	OpFToSI
	OpSWToF
	OpJmp
	OpJnz
	OpRet
	OpCall
)

var opNames = [...]string{
	OpAlloc: "alloc", OpLoad: "load", OpStore: "store", OpCopy: "copy",
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpRem: "rem",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpShl: "shl", OpSar: "sar", OpNeg: "neg",
	OpCEq: "ceq", OpCNeq: "cne", OpCLt: "clt", OpCGt: "cgt", OpCLe: "cle", OpCGe: "cge",
	OpExtSW: "extsw", OpFToSI: "ftosi", OpSWToF: "swtof",
	OpJmp: "jmp", OpJnz: "jnz", OpRet: "ret", OpCall: "call",
}

func (o Op) String() string {
	if int(o) < len(opNames) { return opNames[o] }
	return fmt.Sprintf("op(%d)", int(o))
}

func (o Op) IsComparison() bool { return o >= OpCEq && o <= OpCGe }

func (o Op) IsTerminator() bool { return o == OpJmp || o == OpJnz || o == OpRet }

type Type int

const (
	TypeNone Type = iota
	TypeB         // byte
	TypeW         // word (32-bit)
	TypeL         // long (64-bit)
	TypeD         // double float (64-bit)
	TypePtr       // address, rendered with the target's word type
)

type Value interface {
	isValue()
	String() string
}

type Const struct{ Value int64 }
type FloatConst struct{ Value float64; Typ Type }
type Global struct{ Name string }
type Temporary struct{ Name string; ID int }
type Label struct{ Name string }

func (c *Const) isValue()      {}
func (f *FloatConst) isValue() {}
func (g *Global) isValue()     {}
func (t *Temporary) isValue()  {}
func (l *Label) isValue()      {}

func (c *Const) String() string      { return fmt.Sprintf("%d", c.Value) }
func (f *FloatConst) String() string { return fmt.Sprintf("%g", f.Value) }
func (g *Global) String() string     { return g.Name }
func (l *Label) String() string      { return l.Name }

func (t *Temporary) String() string {
	if t.ID < 0 { return t.Name }
	return fmt.Sprintf("%s.%d", t.Name, t.ID)
}

type Func struct {
	Name       string
	Params     []*Param
	ReturnType Type
	Blocks     []*BasicBlock
}

type Param struct{ Name string; Typ Type; Val Value }

type BasicBlock struct{ Label *Label; Instructions []*Instruction }

// Terminated reports whether the block already ends in a jump, branch or return.
func (b *BasicBlock) Terminated() bool {
	n := len(b.Instructions)
	return n > 0 && b.Instructions[n-1].Op.IsTerminator()
}

type Instruction struct {
	Op          Op
	Typ         Type
	OperandType Type
	Result      Value
	Args        []Value
	ArgTypes    []Type
	Align       int
}

// Extern is a function the program calls but does not define.
type Extern struct {
	Name       string
	ReturnType Type
	Variadic   bool
	Fixed      int
}

type Program struct {
	Globals  []*Data
	Strings  []*Data
	Funcs    []*Func
	Externs  []*Extern
	WordSize int
}

// Data is a module-level storage definition. Exported data is visible to the
// linker; string literals are private and read-only.
type Data struct {
	Name     string
	Align    int
	Exported bool
	ReadOnly bool
	Items    []DataItem
}

// DataItem is either one typed value or, when Count > 0, Count zero bytes.
type DataItem struct{ Typ Type; Value Value; Count int }

func SizeOfType(t Type, wordSize int) int64 {
	switch t {
	case TypeB: return 1
	case TypeW: return 4
	case TypeL, TypeD: return 8
	case TypePtr: return int64(wordSize)
	default: return int64(wordSize)
	}
}

func (p *Program) FindFunc(name string) *Func {
	for _, f := range p.Funcs {
		if f.Name == name { return f }
	}
	return nil
}

func (p *Program) FindExtern(name string) *Extern {
	for _, e := range p.Externs {
		if e.Name == name { return e }
	}
	return nil
}

// Size is the total byte size of d.
func (d *Data) Size(wordSize int) int64 {
	var n int64
	for _, it := range d.Items {
		if it.Count > 0 {
			n += int64(it.Count)
			continue
		}
		n += SizeOfType(it.Typ, wordSize)
	}
	return n
}
