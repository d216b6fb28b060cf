package symtab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xplshn/quadc/pkg/quad"
)

func TestScopes(t *testing.T) {
	tab := New()
	g := tab.Install("x")
	g.Type = quad.Int

	tab.Enter()
	assert.Equal(t, 1, tab.Level())
	assert.Same(t, g, tab.Lookup("x"))

	l := tab.Install("x")
	l.Type = quad.Double
	assert.Same(t, l, tab.Lookup("x"), "inner declaration shadows the global")
	assert.Same(t, g, tab.LookupGlobal("x"))

	tab.Leave()
	assert.Same(t, g, tab.Lookup("x"))

	tab.Leave()
	assert.Equal(t, 0, tab.Level(), "global level is never dropped")
}

func TestInstallAt(t *testing.T) {
	tab := New()
	tab.Enter()
	tab.Enter()
	e := tab.InstallAt("f", 0)
	require.NotNil(t, e)
	assert.Equal(t, 0, e.Level)
	assert.Equal(t, 1, e.Count)

	tab.Leave()
	tab.Leave()
	assert.Same(t, e, tab.Lookup("f"))
}
