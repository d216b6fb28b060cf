package quad

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# globals
alloc counter 1 4
alloc table 18 80
func main 1
formal n 1 4
localloc buf 17 40

bgnstmt 3
t1 := local buf 0
t2 := 2.5
t3 := cvi t2
t4 := t1 []i t3
t5 := param n 0
t6 := @i t5
t7 := t4 =i t6
t8 := "a \"quoted\" # not a comment"
argi t6
t9 := global printf
t10 := fi t9 1 t8
t11 := t6 <<i t6
t12 := -f t2
t13 := t6 >=i t11
bt t13 B1
br B2
label L1
B1=L1
B2=L1
reti t6
fend
`

func TestParse(t *testing.T) {
	quads, err := ParseString("sample.q", sample)
	require.NoError(t, err)

	want := []Quad{
		&GlobalAlloc{Name: "counter", Type: Int, Width: 4},
		&GlobalAlloc{Name: "table", Type: Double | Array, Width: 80},
		&FuncBegin{Name: "main", Type: Int},
		&Formal{Name: "n", Type: Int, Width: 4},
		&LocalAlloc{Name: "buf", Type: Int | Array, Width: 40},
		&StmtBegin{Line: 3},
		&Ref{Dst: 1, Scope: Local, Name: "buf"},
		&Const{Dst: 2, Text: "2.5", Type: Double},
		&Cast{Dst: 3, X: 2, To: Int},
		&Index{Dst: 4, Base: 1, Idx: 3, Type: Int},
		&Ref{Dst: 5, Scope: Param, Name: "n"},
		&Load{Dst: 6, Addr: 5, Type: Int},
		&Store{Dst: 7, Addr: 4, Val: 6, Type: Int},
		&StringLit{Dst: 8, Text: `a \"quoted\" # not a comment`},
		&Arg{X: 6, Type: Int},
		&Ref{Dst: 9, Scope: Global, Name: "printf"},
		&Call{Dst: 10, Callee: 9, Type: Int, Args: []Temp{8}},
		&Bitwise{Dst: 11, Op: "<<", X: 6, Y: 6, Type: Int},
		&Unary{Dst: 12, Op: "-", X: 2, Type: Double},
		&Compare{Dst: 13, Op: ">=", X: 6, Y: 11, Type: Int},
		&CondJump{Cond: 13, Target: BlankTarget(1)},
		&Jump{Target: BlankTarget(2)},
		&Label{N: 1},
		&Patch{Blank: 1, Label: 1},
		&Patch{Blank: 2, Label: 1},
		&Return{Val: 6, HasVal: true, Type: Int},
		&FuncEnd{},
	}
	if diff := cmp.Diff(want, quads); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteIsParseable(t *testing.T) {
	quads, err := ParseString("sample.q", sample)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, quads))
	again, err := Parse("rewritten.q", &buf)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(quads, again))
}

func TestNamesShapedLikeTemps(t *testing.T) {
	quads := []Quad{
		&GlobalAlloc{Name: "L2", Type: Int, Width: 4},
		&FuncBegin{Name: "B3", Type: Int},
		&Formal{Name: "t9", Type: Double, Width: 8},
		&LocalAlloc{Name: "t1", Type: Int, Width: 4},
		&Ref{Dst: 1, Scope: Local, Name: "t1"},
		&Ref{Dst: 2, Scope: Global, Name: "L2"},
		&Ref{Dst: 3, Scope: Param, Name: "t9"},
		&Load{Dst: 4, Addr: 2, Type: Int},
		&Return{Val: 4, HasVal: true, Type: Int},
		&FuncEnd{},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, quads))
	assert.Contains(t, buf.String(), "localloc t1 1 4\n")

	again, err := Parse("names.q", &buf)
	require.NoError(t, err)
	if diff := cmp.Diff(quads, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
		msg  string
	}{
		{"unknown instruction", "func f 1\nfrobnicate t1\n", 2, ""},
		{"argument count", "\n\nt3 := fi t1 2 t2\n", 3, "call declares 2 arguments but lists 1"},
		{"store needs two temps", "t1 := t2 =i\n", 1, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseString("bad.q", tt.src)
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tt.line, pe.Line)
			assert.Equal(t, "bad.q", pe.File)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, pe.Msg)
			}
		})
	}
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "int", Int.String())
	assert.Equal(t, "double[]*", (Double | Array | Addr).String())
	assert.Equal(t, "label", LabelType.String())
	assert.Equal(t, 8, (Double | Array).Size())
	assert.Equal(t, Double, (Double | Addr | Array).Base())
}
