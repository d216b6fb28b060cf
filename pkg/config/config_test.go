package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := NewConfig()
	assert.Equal(t, "qbe", c.BackendName)
	assert.Equal(t, 8, c.WordSize)
	assert.Equal(t, DefaultMaxLoopDepth, c.MaxLoopDepth)
	assert.True(t, c.IsWarningEnabled(WarnImplicitDecl))
	assert.False(t, c.IsWarningEnabled(WarnType))
	for w := Warning(0); w < WarnCount; w++ {
		assert.Equal(t, w, c.WarningMap[c.Warnings[w].Name])
	}
}

func TestProcessFlags(t *testing.T) {
	c := NewConfig()
	require.NoError(t, c.ProcessFlags([]string{"-Wno-unreachable-code", "-Wall"}))
	assert.False(t, c.IsWarningEnabled(WarnUnreachableCode), "a specific flag wins over -Wall")
	assert.True(t, c.IsWarningEnabled(WarnType))

	require.NoError(t, c.ProcessFlags([]string{"Wno-all"}))
	for w := Warning(0); w < WarnCount; w++ {
		assert.False(t, c.IsWarningEnabled(w))
	}

	assert.EqualError(t, c.ProcessFlags([]string{"-Wbogus"}), "unknown warning 'bogus'")
}

func TestSetTarget(t *testing.T) {
	tests := []struct {
		goos, goarch, target string
		backend, sub         string
		word                 int
		err                  string
	}{
		{goos: "linux", goarch: "amd64", target: "", backend: "qbe", sub: "amd64_sysv", word: 8},
		{goos: "linux", goarch: "amd64", target: "qbe/arm64", backend: "qbe", sub: "arm64", word: 8},
		{goos: "linux", goarch: "arm", target: "qbe/rv32", backend: "qbe", sub: "rv32", word: 4},
		{goos: "linux", goarch: "amd64", target: "llvm", backend: "llvm", sub: "", word: 8},
		{goos: "linux", goarch: "386", target: "llvm/i686-pc-linux-gnu", backend: "llvm", sub: "i686-pc-linux-gnu", word: 4},
		{goos: "linux", goarch: "amd64", target: "qbe/pdp11", err: "unsupported QBE target 'pdp11'"},
		{goos: "linux", goarch: "amd64", target: "gcc", err: "unsupported backend 'gcc'"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			c := NewConfig()
			err := c.SetTarget(tt.goos, tt.goarch, tt.target)
			if tt.err != "" {
				assert.EqualError(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.backend, c.BackendName)
			assert.Equal(t, tt.sub, c.BackendTarget)
			assert.Equal(t, tt.word, c.WordSize)
		})
	}
}
