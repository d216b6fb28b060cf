package backpatch

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xplshn/quadc/pkg/config"
	"github.com/xplshn/quadc/pkg/quad"
	"github.com/xplshn/quadc/pkg/symtab"
	"github.com/xplshn/quadc/pkg/util"
)

func newEngine(t *testing.T) (*Engine, *util.Reporter) {
	t.Helper()
	cfg := config.NewConfig()
	rep := util.NewReporter(&bytes.Buffer{}, cfg)
	return New(cfg, symtab.New(), rep), rep
}

// beginFunc opens "int name()" with the given int locals.
func beginFunc(e *Engine, name string, locals ...string) {
	fn := e.FName(quad.Int, name)
	for _, l := range locals {
		e.DeclareLocal(l, quad.Int, 1)
	}
	e.FHead(fn)
}

func rvalue(e *Engine, name string) *Value { return e.Op1("@", e.ID(name)) }

func text(t *testing.T, e *Engine) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, e.WriteTo(&buf))
	return buf.String()
}

func assertAllResolved(t *testing.T, e *Engine) {
	t.Helper()
	for b := 1; b <= e.BlankCount(); b++ {
		_, ok := e.Resolution(b)
		assert.True(t, ok, "blank B%d was never backpatched", b)
	}
}

// =============================================================================
// Statements
// =============================================================================

func TestIfElse(t *testing.T) {
	e, rep := newEngine(t)
	beginFunc(e, "f", "a", "b", "x")

	e.BgnStmt(1)
	cond := e.Rel("<", rvalue(e, "a"), rvalue(e, "b"))
	m1 := e.M()
	e.BgnStmt(1)
	e.Set("", e.ID("x"), e.Con("1"))
	n := e.N()
	m2 := e.M()
	e.BgnStmt(1)
	e.Set("", e.ID("x"), e.Con("2"))
	m3 := e.M()
	e.DoIfElse(cond, m1, n, m2, m3)
	e.FTail()

	assert.Equal(t, []int{1, 2, 3}, []int{m1, m2, m3})
	assert.Zero(t, rep.ErrorCount())
	assertAllResolved(t, e)

	want := strings.Join([]string{
		"func f 1",
		"localloc a 1 4",
		"localloc b 1 4",
		"localloc x 1 4",
		"bgnstmt 1",
		"t1 := local a 0",
		"t2 := @i t1",
		"t3 := local b 1",
		"t4 := @i t3",
		"t5 := t2 <i t4",
		"bt t5 B1",
		"br B2",
		"label L1",
		"bgnstmt 1",
		"t6 := local x 2",
		"t7 := 1",
		"t8 := t6 =i t7",
		"br B3",
		"label L2",
		"bgnstmt 1",
		"t9 := local x 2",
		"t10 := 2",
		"t11 := t9 =i t10",
		"label L3",
		"B1=L1",
		"B2=L2",
		"B3=L3",
		"fend",
	}, "\n") + "\n"
	assert.Equal(t, want, text(t, e))
}

func TestWhile(t *testing.T) {
	e, _ := newEngine(t)
	beginFunc(e, "f", "i")

	e.StartLoopScope()
	m1 := e.M()
	cond := e.Rel("<", rvalue(e, "i"), e.Con("10"))
	m2 := e.M()
	e.Set("", e.ID("i"), e.Op2("+", rvalue(e, "i"), e.Con("1")))
	n := e.N()
	m3 := e.M()
	e.DoWhile(m1, cond, m2, n, m3)
	e.FTail()

	assertAllResolved(t, e)
	assert.Equal(t, 0, e.LoopDepth())

	l, _ := e.Resolution(1)
	assert.Equal(t, m2, l, "true branch enters the body")
	l, _ = e.Resolution(2)
	assert.Equal(t, m3, l, "false branch leaves the loop")
	l, _ = e.Resolution(3)
	assert.Equal(t, m1, l, "body jumps back to the condition")
}

func TestDoWhileAndForWithBreakContinue(t *testing.T) {
	e, rep := newEngine(t)
	beginFunc(e, "f", "i")

	// do { if (i) continue; break; } while (i < 3);
	e.StartLoopScope()
	m1 := e.M()
	c := e.CCExpr(rvalue(e, "i"))
	im1 := e.M()
	e.DoContinue()
	im2 := e.M()
	e.DoIf(c, im1, im2)
	e.DoBreak()
	m2 := e.M()
	cond := e.Rel("<", rvalue(e, "i"), e.Con("3"))
	m3 := e.M()
	e.DoDo(m1, m2, cond, m3)

	// for (; i < 9; i = i + 1) break;
	e.StartLoopScope()
	fm1 := e.M()
	fcond := e.Rel("<", rvalue(e, "i"), e.Con("9"))
	fm2 := e.M()
	e.Set("", e.ID("i"), e.Op2("+", rvalue(e, "i"), e.Con("1")))
	n1 := e.N()
	fm3 := e.M()
	e.DoBreak()
	n2 := e.N()
	fm4 := e.M()
	e.DoFor(fm1, fcond, fm2, n1, fm3, n2, fm4)
	e.FTail()

	assert.Zero(t, rep.ErrorCount())
	assertAllResolved(t, e)
	assert.Equal(t, 0, e.LoopDepth())

	byLabel := map[int][]int{}
	for b := 1; b <= e.BlankCount(); b++ {
		l, _ := e.Resolution(b)
		byLabel[l] = append(byLabel[l], b)
	}
	// continue (B3) targets the condition m2, break (B4) the exit m3.
	assert.Contains(t, byLabel[m2], 3)
	assert.Contains(t, byLabel[m3], 4)
	// for: n1 back to the condition, n2 to the step, break to the exit.
	assert.Contains(t, byLabel[fm1], firstBlank(e, n1))
	assert.Contains(t, byLabel[fm2], firstBlank(e, n2))
	assert.NotEmpty(t, byLabel[fm4])
}

func firstBlank(e *Engine, c Chain) int { return e.Blanks(c)[0] }

func TestLoopDepth(t *testing.T) {
	e, _ := newEngine(t)
	beginFunc(e, "f")

	for d := 1; d <= 3; d++ {
		e.StartLoopScope()
		assert.Equal(t, d, e.LoopDepth())
	}
	for d := 2; d >= 0; d-- {
		e.EndLoopScope()
		assert.Equal(t, d, e.LoopDepth())
	}
}

func TestBreakContinueOutsideLoop(t *testing.T) {
	e, rep := newEngine(t)
	beginFunc(e, "f")
	before := len(e.Quads())

	e.DoBreak()
	e.DoContinue()

	assert.Equal(t, before, len(e.Quads()), "no jump may be emitted")
	assert.Equal(t, 0, e.BlankCount())
	assert.Equal(t, []string{
		"break statement not inside of a loop",
		"continue statement not inside of a loop",
	}, rep.Messages(util.SevError))
}

func TestLoopLimits(t *testing.T) {
	e, _ := newEngine(t)
	e.cfg.MaxLoopDepth = 2
	beginFunc(e, "f")

	err := util.Catch(func() {
		e.StartLoopScope()
		e.StartLoopScope()
		e.StartLoopScope()
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nested deeper than 2")

	e2, _ := newEngine(t)
	err = util.Catch(e2.EndLoopScope)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "underflow")
}

// =============================================================================
// Goto and labels
// =============================================================================

func TestForwardGoto(t *testing.T) {
	e, rep := newEngine(t)
	beginFunc(e, "f", "x")

	e.BgnStmt(1)
	e.DoGoto("out")
	assert.Equal(t, []string{"out"}, e.Unresolved())

	e.BgnStmt(2)
	e.Set("", e.ID("x"), e.Con("1"))
	e.LabelDcl("out")
	assert.Empty(t, e.Unresolved())

	l, ok := e.Resolution(1)
	require.True(t, ok)

	e.DoGoto("out")
	quads := e.Quads()
	assert.Equal(t, &quad.Jump{Target: quad.ConcreteTarget(l)}, quads[len(quads)-1],
		"a backward goto jumps straight to the label")

	e.FTail()
	assert.Zero(t, rep.ErrorCount())
}

func TestUnresolvedGoto(t *testing.T) {
	e, rep := newEngine(t)
	beginFunc(e, "f")

	e.DoGoto("nowhere")
	assert.Equal(t, []string{"nowhere"}, e.Unresolved())
	e.FTail()

	assert.Equal(t, []string{"label 'nowhere' referenced in goto, but never declared"}, rep.Messages(util.SevError))
	assert.Empty(t, e.Unresolved(), "the table is cleared at function end")
}

func TestDuplicateLabel(t *testing.T) {
	e, rep := newEngine(t)
	beginFunc(e, "f", "x")

	e.DoGoto("L")
	e.LabelDcl("L")
	first, _ := e.Resolution(1)
	e.Set("", e.ID("x"), e.Con("1"))

	count := len(e.Quads())
	e.LabelDcl("L")
	assert.Equal(t, count, len(e.Quads()), "second declaration emits nothing")
	assert.Equal(t, []string{"label 'L' previously declared"}, rep.Messages(util.SevError))

	e.DoGoto("L")
	quads := e.Quads()
	assert.Equal(t, &quad.Jump{Target: quad.ConcreteTarget(first)}, quads[len(quads)-1])
}

func TestGotoLimit(t *testing.T) {
	e, _ := newEngine(t)
	e.cfg.MaxGotoLabels = 1
	beginFunc(e, "f")

	e.DoGoto("a")
	e.DoGoto("a")
	err := util.Catch(func() { e.DoGoto("b") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forward goto labels")
}

// =============================================================================
// Boolean expressions
// =============================================================================

func TestShortCircuit(t *testing.T) {
	setup := func(t *testing.T) (*Engine, *Value, int, *Value) {
		e, _ := newEngine(t)
		beginFunc(e, "f", "a", "b")
		e1 := e.Rel("<", rvalue(e, "a"), rvalue(e, "b"))
		m := e.M()
		e2 := e.Rel(">", rvalue(e, "a"), rvalue(e, "b"))
		return e, e1, m, e2
	}

	t.Run("and", func(t *testing.T) {
		e, e1, m, e2 := setup(t)
		r := e.CCAnd(e1, m, e2)
		assert.Equal(t, []int{3}, e.Blanks(r.True))
		assert.Equal(t, []int{2, 4}, e.Blanks(r.False))
		l, ok := e.Resolution(1)
		assert.True(t, ok)
		assert.Equal(t, m, l)
	})

	t.Run("or", func(t *testing.T) {
		e, e1, m, e2 := setup(t)
		r := e.CCOr(e1, m, e2)
		assert.Equal(t, []int{1, 3}, e.Blanks(r.True))
		assert.Equal(t, []int{4}, e.Blanks(r.False))
		l, ok := e.Resolution(2)
		assert.True(t, ok)
		assert.Equal(t, m, l)
	})

	t.Run("not", func(t *testing.T) {
		e, e1, _, _ := setup(t)
		before := len(e.Quads())
		r := e.CCNot(e1)
		assert.Equal(t, []int{2}, e.Blanks(r.True))
		assert.Equal(t, []int{1}, e.Blanks(r.False))
		assert.Equal(t, before, len(e.Quads()))
	})
}

func TestCCExprComparesWithZero(t *testing.T) {
	e, _ := newEngine(t)
	beginFunc(e, "f", "a")
	v := e.CCExpr(rvalue(e, "a"))

	quads := e.Quads()
	cmp, ok := quads[len(quads)-3].(*quad.Compare)
	require.True(t, ok)
	assert.Equal(t, "!=", cmp.Op)
	assert.Equal(t, []int{1}, e.Blanks(v.True))
	assert.Equal(t, []int{2}, e.Blanks(v.False))
}

func TestDoubleResolutionIsInternal(t *testing.T) {
	e, _ := newEngine(t)
	beginFunc(e, "f", "a")
	v := e.CCExpr(rvalue(e, "a"))
	m := e.M()
	e.DoIf(v, m, m)

	err := util.Catch(func() { e.DoIf(v, m, m) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backpatched twice")
}

func TestMarkerGuard(t *testing.T) {
	e, _ := newEngine(t)
	beginFunc(e, "f")
	a := e.M()
	e.BgnStmt(4)
	b := e.M()
	assert.Equal(t, a, b, "nothing emitted between the marks")

	e.Con("1")
	assert.Equal(t, a+1, e.M())
}

// =============================================================================
// Expressions and declarations
// =============================================================================

func TestArithmeticPromotion(t *testing.T) {
	e, rep := newEngine(t)
	fn := e.FName(quad.Double, "f")
	e.DeclareLocal("i", quad.Int, 1)
	e.DeclareLocal("d", quad.Double, 1)
	e.FHead(fn)

	r := e.Op2("+", rvalue(e, "i"), rvalue(e, "d"))
	assert.Equal(t, quad.Double, r.Type)
	quads := e.Quads()
	assert.IsType(t, &quad.Cast{}, quads[len(quads)-2])

	e.Op2("%", rvalue(e, "d"), rvalue(e, "d"))
	assert.Equal(t, []string{"cannot % floating-point values"}, rep.Messages(util.SevError))

	b := e.OpB("<<", rvalue(e, "d"), e.Con("2"))
	assert.Equal(t, quad.Int, b.Type)
}

func TestCompoundAssignmentAndArrays(t *testing.T) {
	e, rep := newEngine(t)
	fn := e.FName(quad.Int, "f")
	e.DeclareLocal("v", quad.Int, 10)
	e.FHead(fn)
	before := len(e.Quads())

	el := e.Index(e.ID("v"), e.Con("2.0"))
	assert.Equal(t, quad.Int|quad.Addr, el.Type)
	r := e.Set("+", el, e.Con("1"))
	assert.Equal(t, quad.Int, r.Type)
	assert.Zero(t, rep.ErrorCount())

	// ref, const, cvi, index, const, load, add, store
	assert.Len(t, e.Quads()[before:], 8)

	q := e.Quads()
	assert.Equal(t, "localloc v 17 40", q[1].String())
	assert.IsType(t, &quad.Store{}, q[len(q)-1])
}

func TestUndeclaredIdentifier(t *testing.T) {
	e, rep := newEngine(t)
	beginFunc(e, "f")
	v := e.ID("ghost")
	e.ID("ghost")

	assert.Equal(t, quad.Int|quad.Addr, v.Type)
	assert.Equal(t, []string{"undeclared identifier 'ghost'"}, rep.Messages(util.SevError))

	var allocs []quad.Quad
	for _, q := range e.Quads() {
		if _, ok := q.(*quad.LocalAlloc); ok { allocs = append(allocs, q) }
	}
	assert.Equal(t, []quad.Quad{&quad.LocalAlloc{Name: "ghost", Type: quad.Int, Width: 4}}, allocs)
}

func TestFunctionRedeclaration(t *testing.T) {
	t.Run("defined twice", func(t *testing.T) {
		e, rep := newEngine(t)
		beginFunc(e, "f")
		e.FTail()
		beginFunc(e, "f")
		e.FTail()
		assert.Equal(t, []string{"procedure 'f' previously defined"}, rep.Messages(util.SevError))
	})

	t.Run("implicit call then matching definition", func(t *testing.T) {
		e, rep := newEngine(t)
		beginFunc(e, "main")
		e.Call("g", nil)
		e.FTail()
		beginFunc(e, "g")
		e.FTail()
		assert.Zero(t, rep.ErrorCount())
		assert.Len(t, rep.Messages(util.SevWarning), 1)
	})

	t.Run("implicit call then double definition", func(t *testing.T) {
		e, rep := newEngine(t)
		beginFunc(e, "main")
		e.Call("g", nil)
		e.FTail()
		fn := e.FName(quad.Double, "g")
		e.FHead(fn)
		e.FTail()
		assert.Equal(t, []string{"procedure 'g' type does not match"}, rep.Messages(util.SevError))
	})
}

func TestCall(t *testing.T) {
	e, _ := newEngine(t)
	beginFunc(e, "f", "a")
	args := e.Exprs(nil, rvalue(e, "a"))
	args = e.Exprs(args, e.Con("1.5"))
	r := e.Call("g", args)

	q := e.Quads()
	n := len(q)
	assert.Equal(t, "argi t2", q[n-4].String())
	assert.Equal(t, "argf t3", q[n-3].String())
	assert.Equal(t, "t4 := global g", q[n-2].String())
	assert.Equal(t, "t5 := fi t4 2 t2 t3", q[n-1].String())
	assert.Equal(t, quad.Int, r.Type)
}

func TestReturnCoercion(t *testing.T) {
	e, _ := newEngine(t)
	beginFunc(e, "f")
	e.DoRet(e.Con("2.5"))
	e.DoRet(nil)

	q := e.Quads()
	n := len(q)
	assert.Equal(t, "t2 := cvi t1", q[n-3].String())
	assert.Equal(t, "reti t2", q[n-2].String())
	assert.Equal(t, "reti", q[n-1].String())
}
