// Package symtab is the block-structured symbol table shared by the backpatch
// engine and lowering.
package symtab

import (
	"github.com/xplshn/quadc/pkg/ir"
	"github.com/xplshn/quadc/pkg/quad"
)

type Kind int

const (
	KindVar Kind = iota
	KindFunc
)

type Entry struct {
	Name     string
	Kind     Kind
	Scope    quad.Scope
	Type     quad.Type
	Count    int // element count, 1 for scalars
	Offset   int // declaration index among formals or locals
	Level    int
	Defined  bool
	Implicit bool

	// Set by lowering.
	Handle   ir.Value
	Elem     ir.Type
	Variadic bool
	Fixed    int
}

type Table struct {
	levels []map[string]*Entry
}

func New() *Table {
	return &Table{levels: []map[string]*Entry{make(map[string]*Entry)}}
}

// Level is the current nesting depth; 0 is the global level.
func (t *Table) Level() int { return len(t.levels) - 1 }

func (t *Table) Enter() { t.levels = append(t.levels, make(map[string]*Entry)) }

// Leave drops the innermost level. The global level is never dropped.
func (t *Table) Leave() {
	if len(t.levels) > 1 { t.levels = t.levels[:len(t.levels)-1] }
}

// Lookup searches from the innermost level outwards.
func (t *Table) Lookup(name string) *Entry {
	for i := len(t.levels) - 1; i >= 0; i-- {
		if e, ok := t.levels[i][name]; ok { return e }
	}
	return nil
}

func (t *Table) LookupGlobal(name string) *Entry { return t.levels[0][name] }

// Install adds name at the current level, replacing any entry of the same
// name at that level.
func (t *Table) Install(name string) *Entry { return t.InstallAt(name, t.Level()) }

func (t *Table) InstallAt(name string, level int) *Entry {
	if level < 0 || level > t.Level() { level = t.Level() }
	e := &Entry{Name: name, Count: 1, Level: level}
	t.levels[level][name] = e
	return e
}

// LookupCurrent searches the innermost level only.
func (t *Table) LookupCurrent(name string) *Entry { return t.levels[t.Level()][name] }
