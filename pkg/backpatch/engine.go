// Package backpatch emits quadruples for expressions and statements and
// resolves forward branch targets as control structure becomes known.
//
// The engine is driven by a parser through one method call per grammar
// reduction. Branches whose targets are not yet known jump to blank labels
// (B<n>); once the target is known an equation B<n>=L<m> is emitted.
package backpatch

import (
	"io"

	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/quad"
	"github.com/xplshn/quadc/pkg/symtab"
	"github.com/xplshn/quadc/pkg/util"
)

// Value is the semantic record of an expression. True and False are only
// set for expressions evaluated for control flow.
type Value struct {
	Place quad.Temp
	Type  quad.Type
	True  Chain
	False Chain
}

type loopScope struct{ cont, brk Chain }

type gotoEntry struct {
	name     string
	blanks   []int
	resolved bool
}

type Engine struct {
	cfg  *config.Config
	tab  *symtab.Table
	rep  *util.Reporter
	file string
	line int

	quads    []quad.Quad
	temps    int
	labelNum int
	blankNum int
	guard    bool

	nodes   []chainNode
	patched map[int]int

	loops  []loopScope
	gotos  []*gotoEntry
	labels map[string]int

	fn      *symtab.Entry
	formals []*symtab.Entry
	locals  []*symtab.Entry
	headed  bool // FHead has emitted the allocations of fn
}

func New(cfg *config.Config, tab *symtab.Table, rep *util.Reporter) *Engine {
	if cfg == nil { cfg = config.NewConfig() }
	if tab == nil { tab = symtab.New() }
	if rep == nil { rep = util.NewReporter(nil, cfg) }
	return &Engine{
		cfg:     cfg,
		tab:     tab,
		rep:     rep,
		guard:   true,
		patched: make(map[int]int),
		labels:  make(map[string]int),
	}
}

// SetFile names the source file used in diagnostics.
func (e *Engine) SetFile(name string) { e.file = name }

func (e *Engine) Quads() []quad.Quad { return e.quads }

func (e *Engine) WriteTo(w io.Writer) error { return quad.Write(w, e.quads) }

func (e *Engine) Symbols() *symtab.Table { return e.tab }

func (e *Engine) pos() util.Pos { return util.Pos{File: e.file, Line: e.line} }

func (e *Engine) emit(q quad.Quad) {
	e.quads = append(e.quads, q)
	switch q.(type) {
	case *quad.Label, *quad.Patch, *quad.StmtBegin:
	default:
		e.guard = true
	}
}

func (e *Engine) newTemp() quad.Temp {
	e.temps++
	return quad.Temp(e.temps)
}

func (e *Engine) newBlank() int {
	e.blankNum++
	return e.blankNum
}

func (e *Engine) patch(blank, label int) {
	if prev, ok := e.patched[blank]; ok {
		util.Internalf("blank label B%d backpatched twice (L%d, then L%d)", blank, prev, label)
	}
	e.patched[blank] = label
	e.emit(&quad.Patch{Blank: blank, Label: label})
}

// BlankCount is the number of blank labels allocated so far.
func (e *Engine) BlankCount() int { return e.blankNum }

// Resolution returns the concrete label blank was patched to.
func (e *Engine) Resolution(blank int) (int, bool) {
	l, ok := e.patched[blank]
	return l, ok
}

// LoopDepth is the depth of the continue and break stacks, which always agree.
func (e *Engine) LoopDepth() int { return len(e.loops) }

// M marks the current program point with a concrete label. Consecutive marks
// with nothing emitted between them share one label.
func (e *Engine) M() int {
	if e.guard {
		e.labelNum++
		e.emit(&quad.Label{N: e.labelNum})
		e.guard = false
	}
	return e.labelNum
}

// N emits a jump to a fresh blank label and returns it as a chain.
func (e *Engine) N() Chain {
	b := e.newBlank()
	e.emit(&quad.Jump{Target: quad.BlankTarget(b)})
	return e.single(b)
}

// BgnStmt records the source line of the statement that follows.
func (e *Engine) BgnStmt(line int) {
	e.line = line
	e.emit(&quad.StmtBegin{Line: line})
}

// DeclareGlobal installs a global variable and emits its storage allocation.
func (e *Engine) DeclareGlobal(name string, t quad.Type, count int) *symtab.Entry {
	if prev := e.tab.LookupGlobal(name); prev != nil {
		e.rep.Errorf(e.pos(), "identifier '%s' previously declared", name)
	}
	ent := e.tab.InstallAt(name, 0)
	e.fillVar(ent, quad.Global, t, count)
	e.emit(&quad.GlobalAlloc{Name: name, Type: ent.Type, Width: count * t.Size()})
	return ent
}

func (e *Engine) DeclareFormal(name string, t quad.Type) *symtab.Entry {
	ent := e.declareInFunc(name)
	e.fillVar(ent, quad.Param, t, 1)
	ent.Offset = len(e.formals)
	e.formals = append(e.formals, ent)
	return ent
}

func (e *Engine) DeclareLocal(name string, t quad.Type, count int) *symtab.Entry {
	ent := e.declareInFunc(name)
	e.fillVar(ent, quad.Local, t, count)
	ent.Offset = len(e.locals)
	e.locals = append(e.locals, ent)
	return ent
}

func (e *Engine) declareInFunc(name string) *symtab.Entry {
	if e.fn == nil { util.Internalf("declaration of '%s' outside a function", name) }
	if e.tab.LookupCurrent(name) != nil {
		e.rep.Errorf(e.pos(), "identifier '%s' previously declared", name)
	}
	return e.tab.Install(name)
}

func (e *Engine) fillVar(ent *symtab.Entry, scope quad.Scope, t quad.Type, count int) {
	if count < 1 { count = 1 }
	ent.Kind, ent.Scope, ent.Count, ent.Defined = symtab.KindVar, scope, count, true
	ent.Type = t.Base()
	if count > 1 { ent.Type |= quad.Array }
}

// FName opens the scope of function name returning t.
func (e *Engine) FName(t quad.Type, name string) *symtab.Entry {
	e.tab.Enter()
	e.labels = make(map[string]int)
	e.gotos = nil
	e.formals, e.locals = nil, nil
	e.headed = false

	t = t.Base()
	ent := e.tab.LookupGlobal(name)
	switch {
	case ent == nil:
		ent = e.tab.InstallAt(name, 0)
	case ent.Kind != symtab.KindFunc:
		e.rep.Errorf(e.pos(), "'%s' redeclared as a procedure", name)
		ent = e.tab.InstallAt(name, 0)
	case ent.Defined:
		e.rep.Errorf(e.pos(), "procedure '%s' previously defined", name)
	case ent.Type != t:
		e.rep.Errorf(e.pos(), "procedure '%s' type does not match", name)
	}
	ent.Kind, ent.Scope, ent.Type = symtab.KindFunc, quad.Global, t
	ent.Defined, ent.Implicit = true, false
	e.fn = ent
	return ent
}

// FHead emits the function header with its formal and local allocations.
func (e *Engine) FHead(fn *symtab.Entry) {
	e.emit(&quad.FuncBegin{Name: fn.Name, Type: fn.Type})
	for _, f := range e.formals {
		e.emit(&quad.Formal{Name: f.Name, Type: f.Type, Width: f.Type.Size()})
	}
	for _, l := range e.locals {
		e.emit(&quad.LocalAlloc{Name: l.Name, Type: l.Type, Width: l.Count * l.Type.Size()})
	}
	e.headed = true
}

// FTail closes the function, reporting gotos whose label never appeared.
func (e *Engine) FTail() {
	e.emit(&quad.FuncEnd{})
	if len(e.loops) != 0 { util.Internalf("function '%s' ends inside %d open loop scopes", e.fnName(), len(e.loops)) }
	e.tab.Leave()
	for _, g := range e.gotos {
		if !g.resolved {
			e.rep.Errorf(e.pos(), "label '%s' referenced in goto, but never declared", g.name)
		}
	}
	e.gotos = nil
	e.labels = make(map[string]int)
	e.fn, e.headed = nil, false
}

func (e *Engine) fnName() string {
	if e.fn == nil { return "" }
	return e.fn.Name
}

// Unresolved lists the goto targets still pending in the current function.
func (e *Engine) Unresolved() []string {
	var out []string
	for _, g := range e.gotos {
		if !g.resolved { out = append(out, g.name) }
	}
	return out
}
