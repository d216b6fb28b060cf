package quad

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var quadLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Patch", Pattern: `B\d+=L\d+`},
	{Name: "Op", Pattern: `(<<|>>|<=|>=|==|!=|\[\]|[-+*/%&|^<>=@~])[if]\b`},
	{Name: "Assign", Pattern: `:=`},
	{Name: "Float", Pattern: `-?(\d+\.\d*([eE][-+]?\d+)?|\d+[eE][-+]?\d+)`},
	{Name: "Int", Pattern: `-?\d+`},
	{Name: "Temp", Pattern: `t\d+\b`},
	{Name: "Blank", Pattern: `B\d+\b`},
	{Name: "Label", Pattern: `L\d+\b`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_.]*`},
	{Name: "Whitespace", Pattern: `[ \t\r]+`},
})

type line struct {
	Patch  string      `  @Patch`
	Assign *assignment `| @@`
	Instr  *instr      `| @@`
}

type assignment struct {
	Dst string `@Temp ":="`
	Rhs *rhs   `@@`
}

type rhs struct {
	Ref    *refExpr   `  @@`
	Call   *callExpr  `| @@`
	Cast   *castExpr  `| @@`
	Unary  *unaryExpr `| @@`
	Binary *binExpr   `| @@`
	Float  *string    `| @Float`
	Int    *string    `| @Int`
	String *string    `| @String`
}

type refExpr struct {
	Scope  string `@("global" | "param" | "local")`
	Name   string `@(Ident | Temp | Blank | Label)`
	Offset *int   `@Int?`
}

type callExpr struct {
	Kind   string   `@("fi" | "ff" | "fv")`
	Callee string   `@Temp`
	Count  int      `@Int`
	Args   []string `@Temp*`
}

type castExpr struct {
	Kind string `@("cvi" | "cvf")`
	X    string `@Temp`
}

type unaryExpr struct {
	Op string `@Op`
	X  string `@Temp`
}

type binExpr struct {
	X  string `@Temp`
	Op string `@Op`
	Y  string `@Temp`
}

type instr struct {
	BgnStmt *int       `  "bgnstmt" @Int`
	Label   *string    `| "label" @Label`
	Br      *string    `| "br" @(Label | Blank)`
	Bt      *btInstr   `| @@`
	Arg     *argInstr  `| @@`
	Ret     *retInstr  `| @@`
	Func    *funcInstr `| @@`
	Decl    *declInstr `| @@`
	Fend    bool       `| @"fend"`
}

type btInstr struct {
	Cond   string `"bt" @Temp`
	Target string `@(Label | Blank)`
}

type argInstr struct {
	Kind string `@("argi" | "argf")`
	X    string `@Temp`
}

type retInstr struct {
	Kind string  `@("reti" | "retf")`
	X    *string `@Temp?`
}

type funcInstr struct {
	Name string `"func" @(Ident | Temp | Blank | Label)`
	Type int    `@Int`
}

type declInstr struct {
	Kind  string `@("alloc" | "formal" | "localloc")`
	Name  string `@(Ident | Temp | Blank | Label)`
	Type  int    `@Int`
	Width int    `@Int`
}

var lineParser = participle.MustBuild[line](
	participle.Lexer(quadLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(2),
)

// ParseError locates a malformed line.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg) }

// Parse reads the textual form of a quad stream, one instruction per line.
func Parse(name string, r io.Reader) ([]Quad, error) {
	var quads []Quad
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") { continue }

		ln, err := lineParser.ParseString(name, text)
		if err != nil {
			msg := err.Error()
			if pe, ok := err.(participle.Error); ok { msg = pe.Message() }
			return nil, &ParseError{File: name, Line: lineNo, Msg: msg}
		}
		q, err := ln.quad()
		if err != nil { return nil, &ParseError{File: name, Line: lineNo, Msg: err.Error()} }
		quads = append(quads, q)
	}
	if err := sc.Err(); err != nil { return nil, fmt.Errorf("reading %s: %w", name, err) }
	return quads, nil
}

// ParseString is Parse over an in-memory source.
func ParseString(name, src string) ([]Quad, error) { return Parse(name, strings.NewReader(src)) }

// Write renders quads in the form Parse accepts.
func Write(w io.Writer, quads []Quad) error {
	bw := bufio.NewWriter(w)
	for _, q := range quads {
		if _, err := fmt.Fprintln(bw, q.String()); err != nil { return err }
	}
	return bw.Flush()
}

func (l *line) quad() (Quad, error) {
	switch {
	case l.Patch != "":
		var b, lbl int
		if _, err := fmt.Sscanf(l.Patch, "B%d=L%d", &b, &lbl); err != nil { return nil, fmt.Errorf("bad patch %q", l.Patch) }
		return &Patch{Blank: b, Label: lbl}, nil
	case l.Assign != nil:
		return l.Assign.quad()
	default:
		return l.Instr.quad()
	}
}

func (a *assignment) quad() (Quad, error) {
	dst, err := parseTemp(a.Dst)
	if err != nil { return nil, err }
	r := a.Rhs
	switch {
	case r.Ref != nil:
		q := &Ref{Dst: dst, Name: r.Ref.Name}
		switch r.Ref.Scope {
		case "param": q.Scope = Param
		case "local": q.Scope = Local
		default: q.Scope = Global
		}
		if r.Ref.Offset != nil { q.Offset = *r.Ref.Offset }
		return q, nil
	case r.Call != nil:
		callee, err := parseTemp(r.Call.Callee)
		if err != nil { return nil, err }
		if r.Call.Count != len(r.Call.Args) {
			return nil, fmt.Errorf("call declares %d arguments but lists %d", r.Call.Count, len(r.Call.Args))
		}
		q := &Call{Dst: dst, Callee: callee, Type: Int}
		if r.Call.Kind == "ff" { q.Type = Double }
		for _, s := range r.Call.Args {
			t, err := parseTemp(s)
			if err != nil { return nil, err }
			q.Args = append(q.Args, t)
		}
		return q, nil
	case r.Cast != nil:
		x, err := parseTemp(r.Cast.X)
		if err != nil { return nil, err }
		to := Int
		if r.Cast.Kind == "cvf" { to = Double }
		return &Cast{Dst: dst, X: x, To: to}, nil
	case r.Unary != nil:
		x, err := parseTemp(r.Unary.X)
		if err != nil { return nil, err }
		op, typ := splitOp(r.Unary.Op)
		switch op {
		case "@": return &Load{Dst: dst, Addr: x, Type: typ}, nil
		case "-", "~": return &Unary{Dst: dst, Op: op, X: x, Type: typ}, nil
		}
		return nil, fmt.Errorf("%q is not a unary operator", r.Unary.Op)
	case r.Binary != nil:
		return binaryQuad(dst, r.Binary)
	case r.Float != nil:
		return &Const{Dst: dst, Text: *r.Float, Type: Double}, nil
	case r.Int != nil:
		return &Const{Dst: dst, Text: *r.Int, Type: Int}, nil
	case r.String != nil:
		return &StringLit{Dst: dst, Text: strings.TrimSuffix(strings.TrimPrefix(*r.String, `"`), `"`)}, nil
	}
	return nil, fmt.Errorf("empty assignment")
}

func binaryQuad(dst Temp, b *binExpr) (Quad, error) {
	x, err := parseTemp(b.X)
	if err != nil { return nil, err }
	y, err := parseTemp(b.Y)
	if err != nil { return nil, err }
	op, typ := splitOp(b.Op)
	switch {
	case op == "=": return &Store{Dst: dst, Addr: x, Val: y, Type: typ}, nil
	case op == "[]": return &Index{Dst: dst, Base: x, Idx: y, Type: typ}, nil
	case ArithOps[op]: return &Arith{Dst: dst, Op: op, X: x, Y: y, Type: typ}, nil
	case BitwiseOps[op]: return &Bitwise{Dst: dst, Op: op, X: x, Y: y, Type: typ}, nil
	case CompareOps[op]: return &Compare{Dst: dst, Op: op, X: x, Y: y, Type: typ}, nil
	}
	return nil, fmt.Errorf("%q is not a binary operator", b.Op)
}

func (in *instr) quad() (Quad, error) {
	switch {
	case in.BgnStmt != nil:
		return &StmtBegin{Line: *in.BgnStmt}, nil
	case in.Label != nil:
		t, err := parseTarget(*in.Label)
		if err != nil { return nil, err }
		return &Label{N: t.N}, nil
	case in.Br != nil:
		t, err := parseTarget(*in.Br)
		if err != nil { return nil, err }
		return &Jump{Target: t}, nil
	case in.Bt != nil:
		c, err := parseTemp(in.Bt.Cond)
		if err != nil { return nil, err }
		t, err := parseTarget(in.Bt.Target)
		if err != nil { return nil, err }
		return &CondJump{Cond: c, Target: t}, nil
	case in.Arg != nil:
		x, err := parseTemp(in.Arg.X)
		if err != nil { return nil, err }
		return &Arg{X: x, Type: suffixType(in.Arg.Kind)}, nil
	case in.Ret != nil:
		q := &Return{Type: suffixType(in.Ret.Kind)}
		if in.Ret.X != nil {
			x, err := parseTemp(*in.Ret.X)
			if err != nil { return nil, err }
			q.Val, q.HasVal = x, true
		}
		return q, nil
	case in.Func != nil:
		return &FuncBegin{Name: in.Func.Name, Type: Type(in.Func.Type)}, nil
	case in.Decl != nil:
		d := in.Decl
		switch d.Kind {
		case "alloc": return &GlobalAlloc{Name: d.Name, Type: Type(d.Type), Width: d.Width}, nil
		case "formal": return &Formal{Name: d.Name, Type: Type(d.Type), Width: d.Width}, nil
		default: return &LocalAlloc{Name: d.Name, Type: Type(d.Type), Width: d.Width}, nil
		}
	case in.Fend:
		return &FuncEnd{}, nil
	}
	return nil, fmt.Errorf("empty instruction")
}

func splitOp(lexeme string) (string, Type) {
	return lexeme[:len(lexeme)-1], suffixType(lexeme)
}

func suffixType(s string) Type {
	if strings.HasSuffix(s, "f") { return Double }
	return Int
}

func parseTemp(s string) (Temp, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "t"))
	if err != nil || !strings.HasPrefix(s, "t") { return 0, fmt.Errorf("bad temporary %q", s) }
	return Temp(n), nil
}

func parseTarget(s string) (Target, error) {
	if len(s) < 2 { return Target{}, fmt.Errorf("bad label %q", s) }
	n, err := strconv.Atoi(s[1:])
	if err != nil { return Target{}, fmt.Errorf("bad label %q", s) }
	switch s[0] {
	case 'B': return BlankTarget(n), nil
	case 'L': return ConcreteTarget(n), nil
	}
	return Target{}, fmt.Errorf("bad label %q", s)
}
