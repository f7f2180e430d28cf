package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webnode/internal/vfs"
)

func TestSessionStatePersists(t *testing.T) {
	s := NewSession(vfs.New(), Config{})

	_, err := s.Eval("var counter = 1")
	require.NoError(t, err)
	_, err = s.Eval("let doubled = counter * 2")
	require.NoError(t, err)

	val, err := s.Eval("doubled + counter")
	require.NoError(t, err)
	assert.EqualValues(t, 3, val)
}

func TestSessionsAreIsolated(t *testing.T) {
	fsys := vfs.New()
	first := NewSession(fsys, Config{})
	second := NewSession(fsys, Config{})

	_, err := first.Eval("var secret = 'mine'")
	require.NoError(t, err)

	_, err = second.Eval("secret")
	assert.Error(t, err, "declarations must not leak across sessions")

	assert.NotEqual(t, first.ID, second.ID)
}

func TestSessionsShareFilesystem(t *testing.T) {
	fsys := vfs.New()
	first := NewSession(fsys, Config{})
	second := NewSession(fsys, Config{})

	_, err := first.Eval(`require('fs').writeFileSync('/shared.txt', 'from first')`)
	require.NoError(t, err)

	val, err := second.Eval(`require('fs').readFileSync('/shared.txt', 'utf8')`)
	require.NoError(t, err)
	assert.Equal(t, "from first", val)
}

func TestSessionRequireCachesIndependently(t *testing.T) {
	fsys := vfs.New()
	require.NoError(t, fsys.WriteFile("/m.js", []byte("module.exports = { hits: (globalThis.__hits = (globalThis.__hits || 0) + 1) }")))

	first := NewSession(fsys, Config{})
	second := NewSession(fsys, Config{})

	v1, err := first.Eval("require('/m.js').hits")
	require.NoError(t, err)
	v2, err := second.Eval("require('/m.js').hits")
	require.NoError(t, err)

	// Each session evaluates the module once in its own VM; the global
	// hit counter is per-VM, so both observe a first load.
	assert.EqualValues(t, 1, v1)
	assert.EqualValues(t, 1, v2)
}
