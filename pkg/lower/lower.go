// Package lower turns the basic-block graph of a quad program into the typed,
// block-structured IR consumed by the code generation backends.
package lower

import (
	"fmt"
	"strings"

	"github.com/xplshn/quadc/pkg/cfg"
	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/ir"
	"github.com/xplshn/quadc/pkg/quad"
	"github.com/xplshn/quadc/pkg/symtab"
	"github.com/xplshn/quadc/pkg/util"
)

// binding is what a quad temporary stands for once lowered.
type binding struct {
	val   ir.Value
	typ   ir.Type // type of val itself
	elem  ir.Type // type stored at val when val is an address
	array bool
	fn    string // callee name when val designates a function
}

type builtin struct {
	name     string
	ret      ir.Type
	variadic bool
	fixed    int
}

var builtins = []builtin{
	{"printf", ir.TypeW, true, 1},
	{"exit", ir.TypeNone, false, 0},
	{"getchar", ir.TypeW, false, 0},
}

type Context struct {
	cfg  *config.Config
	tab  *symtab.Table
	rep  *util.Reporter
	file string

	prog    *ir.Program
	strings map[string]*ir.Data
	defined map[string]bool

	fn       *ir.Func
	block    *ir.BasicBlock
	temps    map[quad.Temp]binding
	tmpCount int
	noops    int
	line     int
}

func New(cfg *config.Config, tab *symtab.Table, rep *util.Reporter) *Context {
	if cfg == nil { cfg = config.NewConfig() }
	if tab == nil { tab = symtab.New() }
	if rep == nil { rep = util.NewReporter(nil, cfg) }
	return &Context{cfg: cfg, tab: tab, rep: rep}
}

// SetFile names the source file used in diagnostics.
func (c *Context) SetFile(name string) { c.file = name }

func (c *Context) pos() util.Pos { return util.Pos{File: c.file, Line: c.line} }

// Lower produces a fresh program for g. g is not modified, so lowering the
// same graph twice yields equal programs.
func (c *Context) Lower(g *cfg.Graph) *ir.Program {
	c.prog = &ir.Program{WordSize: c.cfg.WordSize}
	c.strings = make(map[string]*ir.Data)
	c.defined = make(map[string]bool)

	for _, ga := range g.Globals {
		c.lowerGlobal(ga)
	}
	for _, f := range g.Funcs {
		c.declareFunc(f)
	}
	c.declareBuiltins()

	for _, f := range g.Funcs {
		c.lowerFunc(f)
	}
	return c.prog
}

func irType(t quad.Type) ir.Type {
	switch {
	case t&(quad.Addr|quad.Array|quad.Str) != 0: return ir.TypePtr
	case t.IsDouble(): return ir.TypeD
	default: return ir.TypeW
	}
}

func (c *Context) lowerGlobal(ga *quad.GlobalAlloc) {
	ent := c.tab.LookupGlobal(ga.Name)
	if ent == nil { ent = c.tab.InstallAt(ga.Name, 0) }
	elem := ga.Type.Base()
	ent.Kind, ent.Scope, ent.Type, ent.Defined = symtab.KindVar, quad.Global, ga.Type, true
	ent.Count = max(ga.Width/elem.Size(), 1)
	ent.Handle, ent.Elem = &ir.Global{Name: ga.Name}, irType(elem)

	c.prog.Globals = append(c.prog.Globals, &ir.Data{
		Name:     ga.Name,
		Align:    16,
		Exported: true,
		Items:    []ir.DataItem{{Typ: ir.TypeB, Count: ga.Width}},
	})
}

// declareFunc installs the signature of a defined function so that calls
// appearing before its definition resolve.
func (c *Context) declareFunc(f *cfg.Func) {
	ent := c.tab.LookupGlobal(f.Name)
	if ent == nil { ent = c.tab.InstallAt(f.Name, 0) }
	ent.Kind, ent.Scope, ent.Type = symtab.KindFunc, quad.Global, f.Type.Base()
	ent.Defined, ent.Implicit = true, false
	ent.Handle, ent.Elem = &ir.Global{Name: f.Name}, irType(f.Type.Base())
	ent.Fixed, ent.Variadic = len(f.Formals), false
	c.defined[f.Name] = true
}

func (c *Context) declareBuiltins() {
	for _, b := range builtins {
		if c.defined[b.name] { continue }
		ent := c.tab.LookupGlobal(b.name)
		if ent == nil { ent = c.tab.InstallAt(b.name, 0) }
		ent.Kind, ent.Scope, ent.Type = symtab.KindFunc, quad.Global, quad.Int
		ent.Defined, ent.Implicit = true, false
		ent.Handle, ent.Elem = &ir.Global{Name: b.name}, b.ret
		ent.Variadic, ent.Fixed = b.variadic, b.fixed
	}
}

// extern records name as a function the program calls but does not define.
func (c *Context) extern(ent *symtab.Entry) {
	if c.defined[ent.Name] || c.prog.FindExtern(ent.Name) != nil { return }
	c.prog.Externs = append(c.prog.Externs, &ir.Extern{
		Name:       ent.Name,
		ReturnType: ent.Elem,
		Variadic:   ent.Variadic,
		Fixed:      ent.Fixed,
	})
}

func (c *Context) newTemp() *ir.Temporary {
	c.tmpCount++
	return &ir.Temporary{Name: "x", ID: c.tmpCount}
}

func (c *Context) startBlock(label string) {
	c.block = &ir.BasicBlock{Label: &ir.Label{Name: label}}
	c.fn.Blocks = append(c.fn.Blocks, c.block)
}

func (c *Context) addInstr(instr *ir.Instruction) {
	c.block.Instructions = append(c.block.Instructions, instr)
}

func (c *Context) lowerFunc(f *cfg.Func) {
	c.fn = &ir.Func{Name: f.Name, ReturnType: irType(f.Type.Base())}
	c.prog.Funcs = append(c.prog.Funcs, c.fn)
	c.temps = make(map[quad.Temp]binding)
	c.tmpCount, c.noops, c.line = 0, 0, 0

	c.tab.Enter()
	defer c.tab.Leave()

	c.startBlock(f.Top.Label)
	for i, fm := range f.Formals {
		t := irType(fm.Type)
		in := &ir.Temporary{Name: "arg", ID: i}
		c.fn.Params = append(c.fn.Params, &ir.Param{Name: fm.Name, Typ: t, Val: in})
		slot := c.allocVar(fm.Name, quad.Param, fm.Type, fm.Width, i)
		c.addInstr(&ir.Instruction{Op: ir.OpStore, Typ: t, Args: []ir.Value{in, slot}})
	}
	for i, l := range f.Locals {
		c.allocVar(l.Name, quad.Local, l.Type, l.Width, i)
	}

	for i, b := range f.Blocks {
		if i > 0 { c.startBlock(b.Label) }
		c.lowerBlock(b)
	}

	for _, b := range f.Unreachable() {
		if hasCode(b) {
			c.rep.Warnf(config.WarnUnreachableCode, util.Pos{File: c.file, Line: firstLine(b)}, "unreachable code in block %s of '%s'", b.Label, f.Name)
		}
	}
}

// allocVar reserves stack storage for a formal or local and binds its name.
func (c *Context) allocVar(name string, scope quad.Scope, t quad.Type, width, offset int) *ir.Temporary {
	elem := t.Base()
	slot := &ir.Temporary{Name: name, ID: -1}
	c.addInstr(&ir.Instruction{
		Op:     ir.OpAlloc,
		Typ:    ir.TypePtr,
		Result: slot,
		Args:   []ir.Value{&ir.Const{Value: int64(max(width, elem.Size()))}},
		Align:  elem.Size(),
	})

	ent := c.tab.Install(name)
	ent.Kind, ent.Scope, ent.Type, ent.Defined = symtab.KindVar, scope, t, true
	ent.Count, ent.Offset = max(width/elem.Size(), 1), offset
	ent.Handle, ent.Elem = slot, irType(elem)
	return slot
}

func (c *Context) lowerBlock(b *cfg.Block) {
	if b.IsFendOnly() {
		c.addInstr(c.defaultReturn())
		return
	}
	for _, q := range b.Quads {
		c.lowerQuad(q)
	}
	if len(c.block.Instructions) == 0 {
		c.noops++
		c.addInstr(&ir.Instruction{Op: ir.OpCopy, Typ: ir.TypeW, Result: &ir.Temporary{Name: "noop", ID: c.noops}, Args: []ir.Value{&ir.Const{Value: 0}}})
	}
	if c.block.Terminated() { return }
	if b.Down != nil {
		c.addInstr(&ir.Instruction{Op: ir.OpJmp, Args: []ir.Value{&ir.Label{Name: b.Down.Label}}})
		return
	}
	c.addInstr(c.defaultReturn())
}

func (c *Context) defaultReturn() *ir.Instruction {
	switch c.fn.ReturnType {
	case ir.TypeD: return &ir.Instruction{Op: ir.OpRet, Args: []ir.Value{&ir.FloatConst{Value: 0, Typ: ir.TypeD}}}
	case ir.TypeNone: return &ir.Instruction{Op: ir.OpRet}
	default: return &ir.Instruction{Op: ir.OpRet, Args: []ir.Value{&ir.Const{Value: 0}}}
	}
}

func hasCode(b *cfg.Block) bool {
	for _, q := range b.Quads {
		switch q.(type) {
		case *quad.StmtBegin, *quad.FuncEnd:
		default:
			return true
		}
	}
	return false
}

func firstLine(b *cfg.Block) int {
	for _, q := range b.Quads {
		if s, ok := q.(*quad.StmtBegin); ok { return s.Line }
	}
	return 0
}

// decodeString resolves the escapes of a literal as it appears between quotes.
func decodeString(lit string) string {
	var sb strings.Builder
	for i := 0; i < len(lit); i++ {
		ch := lit[i]
		if ch != '\\' || i+1 == len(lit) {
			sb.WriteByte(ch)
			continue
		}
		i++
		switch lit[i] {
		case 'n': sb.WriteByte('\n')
		case 't': sb.WriteByte('\t')
		case 'r': sb.WriteByte('\r')
		case '0': sb.WriteByte(0)
		default: sb.WriteByte(lit[i])
		}
	}
	return sb.String()
}

// intern returns the private data holding the decoded literal, creating it on
// first use. Equal literals share one definition.
func (c *Context) intern(lit string) *ir.Global {
	s := decodeString(lit)
	if d, ok := c.strings[s]; ok { return &ir.Global{Name: d.Name} }

	d := &ir.Data{Name: fmt.Sprintf("str.%d", len(c.prog.Strings)), Align: 1, ReadOnly: true}
	for i := 0; i < len(s); i++ {
		d.Items = append(d.Items, ir.DataItem{Typ: ir.TypeB, Value: &ir.Const{Value: int64(s[i])}})
	}
	d.Items = append(d.Items, ir.DataItem{Typ: ir.TypeB, Value: &ir.Const{Value: 0}})
	c.strings[s] = d
	c.prog.Strings = append(c.prog.Strings, d)
	return &ir.Global{Name: d.Name}
}
