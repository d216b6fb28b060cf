// Package cli is the small flag parser and help printer shared by the quadc
// commands. Flags take either -name value, -name=value or --name forms, and a
// "special" prefix such as -W collects everything glued to it.
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/term"
)

type Value interface {
	String() string
	Set(string) error
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }

type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	val, err := strconv.ParseBool(s)
	if err != nil { return fmt.Errorf("invalid boolean value '%s': %w", s, err) }
	*v.p = val
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }

type intValue struct{ p *int }

func (v *intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil { return fmt.Errorf("invalid integer value '%s': %w", s, err) }
	*v.p = n
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(*v.p) }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
}

func (f *Flag) isBool() bool {
	_, ok := f.Value.(*boolValue)
	return ok
}

type FlagSet struct {
	name       string
	flags      map[string]*Flag
	shorthands map[string]*Flag
	special    map[string]*Flag
	args       []string
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:       name,
		flags:      make(map[string]*Flag),
		shorthands: make(map[string]*Flag),
		special:    make(map[string]*Flag),
	}
}

func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

func (f *FlagSet) String(p *string, name, shorthand, value, usage, expectedType string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, expectedType)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) Int(p *int, name, shorthand string, value int, usage string) {
	*p = value
	f.Var(&intValue{p}, name, shorthand, usage, strconv.Itoa(value), "n")
}

func (f *FlagSet) List(p *[]string, name, shorthand string, value []string, usage, expectedType string) {
	*p = value
	f.Var(&listValue{p}, name, shorthand, usage, "", expectedType)
}

// Special registers prefix so that -<prefix><rest> appends <rest> to p.
func (f *FlagSet) Special(p *[]string, prefix, usage, expectedType string) {
	*p = []string{}
	f.Var(&listValue{p}, prefix, "", usage, "", expectedType)
	f.special[prefix] = f.flags[prefix]
}

func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" { panic("flag name cannot be empty") }
	if _, ok := f.flags[name]; ok { panic(fmt.Sprintf("flag redefined: %s", name)) }
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ExpectedType: expectedType}
	f.flags[name] = flag
	if shorthand != "" {
		if _, ok := f.shorthands[shorthand]; ok { panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand)) }
		f.shorthands[shorthand] = flag
	}
}

func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
			continue
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		}

		dashes := "-"
		body := arg[1:]
		if strings.HasPrefix(arg, "--") { dashes, body = "--", arg[2:] }
		name, value, hasValue := strings.Cut(body, "=")

		flag, ok := f.flags[name]
		if !ok && dashes == "-" {
			if err := f.parseShort(arg, arguments, &i); err != nil { return err }
			continue
		}
		if !ok { return fmt.Errorf("unknown flag: %s%s", dashes, name) }

		switch {
		case hasValue:
		case flag.isBool():
			value = ""
		case i+1 < len(arguments):
			i++
			value = arguments[i]
		default:
			return fmt.Errorf("flag needs an argument: %s%s", dashes, name)
		}
		if err := flag.Value.Set(value); err != nil { return err }
	}
	return nil
}

func (f *FlagSet) parseShort(arg string, arguments []string, i *int) error {
	for prefix, flag := range f.special {
		if strings.HasPrefix(arg, "-"+prefix) && len(arg) > len(prefix)+1 {
			return flag.Value.Set(arg[len(prefix)+1:])
		}
	}

	shorthand := arg[1:2]
	flag, ok := f.shorthands[shorthand]
	if !ok { return fmt.Errorf("unknown shorthand flag: -%s", shorthand) }
	if flag.isBool() { return flag.Value.Set("") }

	value := arg[2:]
	if value == "" {
		if *i+1 >= len(arguments) { return fmt.Errorf("flag needs an argument: -%s", shorthand) }
		*i++
		value = arguments[*i]
	}
	return flag.Value.Set(value)
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	FlagSet     *FlagSet
	Action      func(args []string) error
	// Out receives the help page; stdout when nil.
	Out io.Writer
}

func NewApp(name string) *App {
	return &App{Name: name, FlagSet: NewFlagSet(name)}
}

func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintf(os.Stderr, "Run '%s --help' for all available options and flags.\n", a.Name)
		return err
	}
	if help {
		out := a.Out
		if out == nil { out = os.Stdout }
		a.WriteHelp(out)
		return nil
	}
	if a.Action != nil { return a.Action(a.FlagSet.Args()) }
	return nil
}

// WriteHelp prints the synopsis, description and every flag, wrapping usage
// text to the terminal width.
func (a *App) WriteHelp(w io.Writer) {
	var sb strings.Builder
	indent := func(n int) string { return strings.Repeat(" ", 4*n) }

	if len(a.Authors) > 0 {
		fmt.Fprintf(&sb, "\n%sCopyright (c): %s\n", indent(1), strings.Join(a.Authors, ", ")+" and contributors")
	}
	if a.Repository != "" { fmt.Fprintf(&sb, "%sFor more details refer to %s\n", indent(1), a.Repository) }
	if a.Synopsis != "" {
		fmt.Fprintf(&sb, "\n%sSynopsis\n%s%s %s\n", indent(1), indent(2), a.Name, a.Synopsis)
	}
	if a.Description != "" {
		fmt.Fprintf(&sb, "\n%sDescription\n%s%s\n", indent(1), indent(2), a.Description)
	}

	flags := make([]*Flag, 0, len(a.FlagSet.flags))
	width := 0
	for _, flag := range a.FlagSet.flags {
		flags = append(flags, flag)
		width = max(width, len(formatFlag(flag)))
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })

	if len(flags) > 0 { fmt.Fprintf(&sb, "\n%sOptions\n", indent(1)) }
	usageWidth := max(terminalWidth()-len(indent(2))-width-1, 10)
	for _, flag := range flags {
		usage := flag.Usage
		if flag.DefValue != "" && !flag.isBool() { usage += fmt.Sprintf(" |%s|", flag.DefValue) }
		lines := wrapText(usage, usageWidth)
		if len(lines) == 0 { lines = []string{""} }
		fmt.Fprintf(&sb, "%s%-*s %s\n", indent(2), width, formatFlag(flag), lines[0])
		for _, l := range lines[1:] {
			fmt.Fprintf(&sb, "%s%s %s\n", indent(2), strings.Repeat(" ", width), l)
		}
	}
	fmt.Fprint(w, sb.String())
}

func formatFlag(flag *Flag) string {
	if _, ok := flag.Value.(*listValue); ok && flag.Shorthand == "" && flag.DefValue == "" && flag.ExpectedType != "" {
		return fmt.Sprintf("-%s<%s>", flag.Name, flag.ExpectedType)
	}
	var sb strings.Builder
	if flag.Shorthand != "" { fmt.Fprintf(&sb, "-%s, ", flag.Shorthand) }
	fmt.Fprintf(&sb, "--%s", flag.Name)
	if !flag.isBool() && flag.ExpectedType != "" { fmt.Fprintf(&sb, " <%s>", flag.ExpectedType) }
	return sb.String()
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil { return 80 }
	return max(width, 20)
}

func wrapText(text string, maxWidth int) []string {
	words := strings.Fields(text)
	var lines []string
	var line strings.Builder
	for _, word := range words {
		if line.Len() > 0 && line.Len()+len(word)+1 > maxWidth {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 { line.WriteString(" ") }
		line.WriteString(word)
	}
	if line.Len() > 0 { lines = append(lines, line.String()) }
	return lines
}
