package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type opts struct {
	output   string
	verbose  bool
	jobs     int
	libs     []string
	warnings []string
}

func newSet(o *opts) *FlagSet {
	fs := NewFlagSet("quadc")
	fs.String(&o.output, "output", "o", "a.out", "Place the output into <file>", "file")
	fs.Bool(&o.verbose, "verbose", "v", false, "Log each stage")
	fs.Int(&o.jobs, "jobs", "j", 1, "Worker count")
	fs.List(&o.libs, "linker-arg", "L", nil, "Pass an argument to the linker", "arg")
	fs.Special(&o.warnings, "W", "Enable or disable a warning", "warning")
	return fs
}

func TestParse(t *testing.T) {
	var o opts
	fs := newSet(&o)
	err := fs.Parse([]string{"in.q", "-o", "prog", "-v", "--jobs=4", "-L-lm", "-L", "-static", "-Wall", "-Wno-type", "--", "-x.q"})
	require.NoError(t, err)

	assert.Equal(t, "prog", o.output)
	assert.True(t, o.verbose)
	assert.Equal(t, 4, o.jobs)
	assert.Equal(t, []string{"-lm", "-static"}, o.libs)
	assert.Equal(t, []string{"all", "no-type"}, o.warnings)
	assert.Equal(t, []string{"in.q", "-x.q"}, fs.Args())
}

func TestParseLongForms(t *testing.T) {
	var o opts
	fs := newSet(&o)
	require.NoError(t, fs.Parse([]string{"--output", "x", "--verbose=false", "-jobs", "3"}))
	assert.Equal(t, "x", o.output)
	assert.False(t, o.verbose)
	assert.Equal(t, 3, o.jobs)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"--nope"}, "unknown flag: --nope"},
		{[]string{"-z"}, "unknown shorthand flag: -z"},
		{[]string{"-o"}, "flag needs an argument: -o"},
		{[]string{"--output"}, "flag needs an argument: --output"},
		{[]string{"--jobs=many"}, `invalid integer value 'many': strconv.Atoi: parsing "many": invalid syntax`},
	}
	for _, tt := range tests {
		var o opts
		err := newSet(&o).Parse(tt.args)
		assert.EqualError(t, err, tt.want, "%v", tt.args)
	}
}

func TestRedefinitionPanics(t *testing.T) {
	var o opts
	fs := newSet(&o)
	assert.PanicsWithValue(t, "flag redefined: output", func() { fs.String(&o.output, "output", "", "", "", "") })
	assert.PanicsWithValue(t, "shorthand flag redefined: v", func() { fs.Bool(&o.verbose, "version", "v", false, "") })
}

func TestHelp(t *testing.T) {
	var o opts
	var out bytes.Buffer
	app := NewApp("quadc")
	app.Synopsis = "[options] <input.q>"
	app.Out = &out
	app.FlagSet = newSet(&o)
	ran := false
	app.Action = func([]string) error { ran = true; return nil }

	require.NoError(t, app.Run([]string{"--help"}))
	assert.False(t, ran)
	help := out.String()
	assert.Contains(t, help, "quadc [options] <input.q>")
	assert.Contains(t, help, "-o, --output <file>")
	assert.Contains(t, help, "|a.out|")
	assert.Contains(t, help, "-W<warning>")
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, []string{"one two", "three"}, wrapText("one two three", 8))
	assert.Nil(t, wrapText("   ", 8))
}
