package util

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/xplshn/quadc/pkg/config"
)

// Pos locates a diagnostic. Line 0 means the line is unknown.
type Pos struct {
	File string
	Line int
}

func (p Pos) String() string {
	file := p.File
	if file == "" { file = "<input>" }
	if p.Line <= 0 { return file }
	return fmt.Sprintf("%s:%d", file, p.Line)
}

type Severity int

const (
	SevError Severity = iota
	SevWarning
)

type Diagnostic struct {
	Severity Severity
	Pos      Pos
	Msg      string
	Warning  config.Warning
}

var (
	errorTag   = color.New(color.FgRed, color.Bold).SprintFunc()
	warningTag = color.New(color.FgYellow, color.Bold).SprintFunc()
	flagTag    = color.New(color.Faint).SprintFunc()
)

// Reporter prints semantic diagnostics and keeps a record of them. Errors do
// not stop compilation; callers check ErrorCount when a stage is done.
type Reporter struct {
	out   io.Writer
	cfg   *config.Config
	diags []Diagnostic
	errs  int
}

// NewReporter writes to out, or to stderr when out is nil.
func NewReporter(out io.Writer, cfg *config.Config) *Reporter {
	if out == nil { out = os.Stderr }
	return &Reporter{out: out, cfg: cfg}
}

func (r *Reporter) Errorf(pos Pos, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.diags = append(r.diags, Diagnostic{Severity: SevError, Pos: pos, Msg: msg})
	r.errs++
	fmt.Fprintf(r.out, "%s: %s %s\n", pos, errorTag("error:"), msg)
}

// Warnf reports msg unless wt is disabled in the configuration.
func (r *Reporter) Warnf(wt config.Warning, pos Pos, format string, args ...any) {
	if r.cfg != nil && !r.cfg.IsWarningEnabled(wt) { return }
	msg := fmt.Sprintf(format, args...)
	r.diags = append(r.diags, Diagnostic{Severity: SevWarning, Pos: pos, Msg: msg, Warning: wt})
	name := ""
	if r.cfg != nil { name = r.cfg.Warnings[wt].Name }
	fmt.Fprintf(r.out, "%s: %s %s %s\n", pos, warningTag("warning:"), msg, flagTag("[-W"+name+"]"))
}

func (r *Reporter) ErrorCount() int { return r.errs }

func (r *Reporter) Diagnostics() []Diagnostic { return r.diags }

// Messages returns the text of every diagnostic of severity sev.
func (r *Reporter) Messages(sev Severity) []string {
	var out []string
	for _, d := range r.diags {
		if d.Severity == sev { out = append(out, d.Msg) }
	}
	return out
}

// InternalError is raised when an invariant of the compiler itself breaks.
// It is never a property of the input program.
type InternalError struct{ Msg string }

func (e *InternalError) Error() string { return "internal compiler error: " + e.Msg }

// Internalf aborts the current compilation by panicking with an InternalError.
func Internalf(format string, args ...any) {
	panic(&InternalError{Msg: fmt.Sprintf(format, args...)})
}

// Catch runs fn and converts an InternalError panic into a returned error.
// Other panics propagate.
func Catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*InternalError)
			if !ok { panic(r) }
			err = ie
		}
	}()
	fn()
	return nil
}

// Fatal prints err the way the driver reports unrecoverable failures and exits.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s %v\n", errorTag("fatal:"), err)
	os.Exit(2)
}
