package backpatch

import (
	"github.com/xplshn/quadc/pkg/quad"
	"github.com/xplshn/quadc/pkg/util"
)

// DoIf: if (e) m1 stmt m2
func (e *Engine) DoIf(v *Value, m1, m2 int) {
	e.resolve(v.True, m1)
	e.resolve(v.False, m2)
}

// DoIfElse: if (e) m1 stmt n else m2 stmt m3
func (e *Engine) DoIfElse(v *Value, m1 int, n Chain, m2, m3 int) {
	e.resolve(v.True, m1)
	e.resolve(v.False, m2)
	e.resolve(n, m3)
}

// DoWhile: while m1 (e) m2 stmt n m3
func (e *Engine) DoWhile(m1 int, v *Value, m2 int, n Chain, m3 int) {
	e.resolve(v.True, m2)
	e.resolve(v.False, m3)
	e.resolve(n, m1)
	e.closeLoop(m1, m3)
}

// DoDo: do m1 stmt while m2 (e) m3
func (e *Engine) DoDo(m1, m2 int, v *Value, m3 int) {
	e.resolve(v.True, m1)
	e.resolve(v.False, m3)
	e.closeLoop(m2, m3)
}

// DoFor: for (init; m1 e2; m2 step n1) m3 stmt n2 m4
//
// The parser passes CCExpr(Con("1")) for an omitted condition.
func (e *Engine) DoFor(m1 int, v *Value, m2 int, n1 Chain, m3 int, n2 Chain, m4 int) {
	e.resolve(v.True, m3)
	e.resolve(v.False, m4)
	e.resolve(n1, m1)
	e.resolve(n2, m2)
	e.closeLoop(m2, m4)
}

func (e *Engine) closeLoop(cont, brk int) {
	top := e.topLoop()
	e.resolve(top.cont, cont)
	e.resolve(top.brk, brk)
	e.EndLoopScope()
}

func (e *Engine) topLoop() *loopScope {
	if len(e.loops) == 0 { util.Internalf("loop scope stack is empty") }
	return &e.loops[len(e.loops)-1]
}

// StartLoopScope pushes one level on the continue and break stacks.
func (e *Engine) StartLoopScope() {
	if len(e.loops) >= e.cfg.MaxLoopDepth {
		util.Internalf("loops nested deeper than %d in function '%s'", e.cfg.MaxLoopDepth, e.fnName())
	}
	e.tab.Enter()
	e.loops = append(e.loops, loopScope{})
}

func (e *Engine) EndLoopScope() {
	if len(e.loops) == 0 { util.Internalf("loop scope stack underflow") }
	e.loops = e.loops[:len(e.loops)-1]
	e.tab.Leave()
}

func (e *Engine) DoBreak() {
	if len(e.loops) == 0 {
		e.rep.Errorf(e.pos(), "break statement not inside of a loop")
		return
	}
	top := e.topLoop()
	top.brk = e.merge(top.brk, e.N())
}

func (e *Engine) DoContinue() {
	if len(e.loops) == 0 {
		e.rep.Errorf(e.pos(), "continue statement not inside of a loop")
		return
	}
	top := e.topLoop()
	top.cont = e.merge(top.cont, e.N())
}

// DoGoto jumps to a label, directly when it is already declared, otherwise
// through a blank recorded for the label's declaration to patch.
func (e *Engine) DoGoto(name string) {
	if l, ok := e.labels[name]; ok {
		e.emit(&quad.Jump{Target: quad.ConcreteTarget(l)})
		return
	}

	b := e.newBlank()
	e.emit(&quad.Jump{Target: quad.BlankTarget(b)})

	g := e.findGoto(name)
	if g == nil {
		if len(e.gotos) >= e.cfg.MaxGotoLabels {
			util.Internalf("more than %d forward goto labels in function '%s'", e.cfg.MaxGotoLabels, e.fnName())
		}
		g = &gotoEntry{name: name}
		e.gotos = append(e.gotos, g)
	}
	if len(g.blanks) >= e.cfg.MaxBlanksPerLabel {
		util.Internalf("more than %d gotos to label '%s'", e.cfg.MaxBlanksPerLabel, name)
	}
	g.blanks = append(g.blanks, b)
}

// LabelDcl declares a goto label at the current point. A second declaration
// of the same name is an error and changes nothing.
func (e *Engine) LabelDcl(name string) {
	if _, dup := e.labels[name]; dup {
		e.rep.Errorf(e.pos(), "label '%s' previously declared", name)
		return
	}
	l := e.M()
	e.guard = true
	e.labels[name] = l

	if g := e.findGoto(name); g != nil {
		for _, b := range g.blanks {
			e.patch(b, l)
		}
		g.resolved = true
	}
}

func (e *Engine) findGoto(name string) *gotoEntry {
	for _, g := range e.gotos {
		if g.name == name { return g }
	}
	return nil
}

// DoRet returns v, converted to the function's type, or returns without a
// value when v is nil.
func (e *Engine) DoRet(v *Value) {
	if e.fn == nil { util.Internalf("return outside of a function") }
	ft := e.fn.Type.Base()
	if v == nil {
		e.emit(&quad.Return{Type: ft})
		return
	}
	if ft.IsDouble() != v.Type.IsDouble() { v = e.Cast(v, ft) }
	e.emit(&quad.Return{Val: v.Place, HasVal: true, Type: ft})
}
