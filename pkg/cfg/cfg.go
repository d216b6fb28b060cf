// Package cfg splits a backpatched quad stream into functions and basic
// blocks, resolving every blank branch target through its patch equation.
package cfg

import (
	"fmt"
	"strings"

	"github.com/xplshn/quadc/pkg/quad"
)

type Graph struct {
	Globals []*quad.GlobalAlloc
	Funcs   []*Func
}

type Func struct {
	Name    string
	Type    quad.Type
	Formals []*quad.Formal
	Locals  []*quad.LocalAlloc
	Top     *Block
	Blocks  []*Block
}

// Block is a maximal straight-line run of quads. Down is the block that
// follows it in program order, nil for the last block of a function.
type Block struct {
	Label string
	Quads []quad.Quad
	Succs []*Block
	Down  *Block
}

// Last returns the final quad of b, or nil when b is empty.
func (b *Block) Last() quad.Quad {
	if len(b.Quads) == 0 { return nil }
	return b.Quads[len(b.Quads)-1]
}

// IsFendOnly reports whether b holds nothing but the end of its function.
func (b *Block) IsFendOnly() bool {
	_, ok := b.Last().(*quad.FuncEnd)
	return ok && len(b.Quads) == 1
}

func (f *Func) Block(label string) *Block {
	for _, b := range f.Blocks {
		if b.Label == label { return b }
	}
	return nil
}

// Unreachable lists the blocks no path from Top reaches, in program order.
func (f *Func) Unreachable() []*Block {
	seen := make(map[*Block]bool, len(f.Blocks))
	work := []*Block{f.Top}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if b == nil || seen[b] { continue }
		seen[b] = true
		work = append(work, b.Succs...)
	}
	var out []*Block
	for _, b := range f.Blocks {
		if !seen[b] { out = append(out, b) }
	}
	return out
}

func (f *Func) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "func %s %s\n", f.Name, f.Type)
	for _, b := range f.Blocks {
		names := make([]string, len(b.Succs))
		for i, s := range b.Succs {
			names[i] = s.Label
		}
		fmt.Fprintf(&sb, "%s: %d quads -> [%s]\n", b.Label, len(b.Quads), strings.Join(names, " "))
	}
	return sb.String()
}

type funcBuilder struct {
	fn      *Func
	cur     *Block
	bbNum   int
	labels  map[int]*Block
	patches map[int]int
}

// Build groups quads into per-function control-flow graphs. Quads are shared
// with the input except for branches and jumps, which are rewritten to
// concrete targets.
func Build(quads []quad.Quad) (*Graph, error) {
	patches, err := collectPatches(quads)
	if err != nil { return nil, err }

	g := &Graph{}
	var fb *funcBuilder
	for i := 0; i < len(quads); i++ {
		switch q := quads[i].(type) {
		case *quad.Patch:
			continue
		case *quad.GlobalAlloc:
			if fb != nil { return nil, fmt.Errorf("quad %d: global allocation of '%s' inside function '%s'", i+1, q.Name, fb.fn.Name) }
			g.Globals = append(g.Globals, q)
		case *quad.FuncBegin:
			if fb != nil { return nil, fmt.Errorf("quad %d: function '%s' begins before '%s' ends", i+1, q.Name, fb.fn.Name) }
			fb = newFuncBuilder(q, patches)
		case *quad.FuncEnd:
			if fb == nil { return nil, fmt.Errorf("quad %d: fend outside of a function", i+1) }
			fb.add(q)
			fn, err := fb.finish()
			if err != nil { return nil, err }
			g.Funcs = append(g.Funcs, fn)
			fb = nil
		case *quad.CondJump:
			if fb == nil { return nil, fmt.Errorf("quad %d: %s outside of a function", i+1, q) }
			j, ok := next(quads, i)
			if !ok { return nil, fmt.Errorf("quad %d: conditional jump is not followed by a jump", i+1) }
			fb.add(&quad.Branch{Cond: q.Cond, True: q.Target, False: j.Target})
			i++
		default:
			if fb == nil { return nil, fmt.Errorf("quad %d: %s outside of a function", i+1, q) }
			fb.add(q)
		}
	}
	if fb != nil { return nil, fmt.Errorf("function '%s' has no fend", fb.fn.Name) }
	return g, nil
}

func next(quads []quad.Quad, i int) (*quad.Jump, bool) {
	if i+1 >= len(quads) { return nil, false }
	j, ok := quads[i+1].(*quad.Jump)
	return j, ok
}

func collectPatches(quads []quad.Quad) (map[int]int, error) {
	patches := make(map[int]int)
	for _, q := range quads {
		p, ok := q.(*quad.Patch)
		if !ok { continue }
		if prev, dup := patches[p.Blank]; dup {
			if prev == p.Label { return nil, fmt.Errorf("duplicate equation %s", p) }
			return nil, fmt.Errorf("conflicting equations for B%d: L%d and L%d", p.Blank, prev, p.Label)
		}
		patches[p.Blank] = p.Label
	}
	return patches, nil
}

func newFuncBuilder(q *quad.FuncBegin, patches map[int]int) *funcBuilder {
	fb := &funcBuilder{
		fn:      &Func{Name: q.Name, Type: q.Type},
		labels:  make(map[int]*Block),
		patches: patches,
	}
	fb.startBlock("entry")
	fb.fn.Top = fb.cur
	return fb
}

func (fb *funcBuilder) startBlock(label string) {
	b := &Block{Label: label}
	fb.fn.Blocks = append(fb.fn.Blocks, b)
	fb.cur = b
}

func (fb *funcBuilder) addQuad(q quad.Quad) {
	if fb.cur == nil {
		fb.bbNum++
		fb.startBlock(fmt.Sprintf("bb%d", fb.bbNum))
	}
	fb.cur.Quads = append(fb.cur.Quads, q)
}

func (fb *funcBuilder) add(q quad.Quad) {
	switch q := q.(type) {
	case *quad.Formal:
		fb.fn.Formals = append(fb.fn.Formals, q)
	case *quad.LocalAlloc:
		fb.fn.Locals = append(fb.fn.Locals, q)
	case *quad.Label:
		fb.startBlock(quad.LabelName(q.N))
		if _, dup := fb.labels[q.N]; !dup { fb.labels[q.N] = fb.cur }
	case *quad.Branch, *quad.Jump, *quad.Return:
		fb.addQuad(q)
		fb.cur = nil
	case *quad.FuncEnd:
		if fb.cur != nil && len(fb.cur.Quads) > 0 { fb.cur = nil }
		fb.addQuad(q)
		fb.cur = nil
	default:
		fb.addQuad(q)
	}
}

func (fb *funcBuilder) finish() (*Func, error) {
	fn := fb.fn
	for i, b := range fn.Blocks {
		if i+1 < len(fn.Blocks) { b.Down = fn.Blocks[i+1] }
	}

	for _, b := range fn.Blocks {
		switch last := b.Last().(type) {
		case *quad.Branch:
			t, err := fb.resolve(last.True)
			if err != nil { return nil, err }
			f, err := fb.resolve(last.False)
			if err != nil { return nil, err }
			b.Quads[len(b.Quads)-1] = &quad.Branch{Cond: last.Cond, True: quad.ConcreteTarget(t.n), False: quad.ConcreteTarget(f.n)}
			b.Succs = []*Block{t.b, f.b}
		case *quad.Jump:
			t, err := fb.resolve(last.Target)
			if err != nil { return nil, err }
			b.Quads[len(b.Quads)-1] = &quad.Jump{Target: quad.ConcreteTarget(t.n)}
			b.Succs = []*Block{t.b}
		case *quad.Return, *quad.FuncEnd:
		default:
			if b.Down != nil { b.Succs = []*Block{b.Down} }
		}
	}
	return fn, nil
}

type resolved struct {
	n int
	b *Block
}

func (fb *funcBuilder) resolve(t quad.Target) (resolved, error) {
	n := t.N
	if t.Blank {
		l, ok := fb.patches[t.N]
		if !ok { return resolved{}, fmt.Errorf("function '%s': blank label B%d is never backpatched", fb.fn.Name, t.N) }
		n = l
	}
	b, ok := fb.labels[n]
	if !ok { return resolved{}, fmt.Errorf("function '%s': jump to undefined label %s", fb.fn.Name, quad.LabelName(n)) }
	return resolved{n: n, b: b}, nil
}
