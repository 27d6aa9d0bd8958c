package executor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-sandbox/internal/executor"
)

func TestDefaultAllowList(t *testing.T) {
	a := executor.DefaultAllowList()

	for _, name := range []string{"print", "len", "range", "sorted", "Exception", "__build_class__", "math"} {
		assert.True(t, a.Allows(name), name)
	}
	for _, name := range []string{"open", "eval", "exec", "__import__", "getattr", "setattr", "hasattr", "os", "sys"} {
		assert.False(t, a.Allows(name), name)
	}
	assert.Equal(t, []string{"math"}, a.Modules())
}

func TestNewAllowList(t *testing.T) {
	t.Run("dedupes and trims", func(t *testing.T) {
		a, err := executor.NewAllowList([]string{"print", " print ", "len"}, []string{"math", "json", "math"})
		require.NoError(t, err)
		assert.Equal(t, []string{"print", "len"}, a.Builtins())
		assert.Equal(t, []string{"math", "json"}, a.Modules())
	})

	t.Run("dotted modules", func(t *testing.T) {
		a, err := executor.NewAllowList(nil, []string{"collections.abc"})
		require.NoError(t, err)
		assert.True(t, a.Allows("collections.abc"))
	})

	tests := []struct {
		name     string
		builtins []string
		modules  []string
	}{
		{"denied builtin", []string{"open"}, nil},
		{"denied reflective builtin", []string{"getattr"}, nil},
		{"dotted builtin", []string{"os.path"}, nil},
		{"empty builtin", []string{""}, nil},
		{"denied module", nil, []string{"os"}},
		{"denied module root", nil, []string{"os.path"}},
		{"bad module name", nil, []string{"1abc"}},
		{"empty module part", nil, []string{"collections."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executor.NewAllowList(tt.builtins, tt.modules)
			assert.Error(t, err)
		})
	}

	t.Run("accessors return copies", func(t *testing.T) {
		a := executor.DefaultAllowList()
		b := a.Builtins()
		b[0] = "open"
		assert.False(t, a.Allows("open"))
	})
}
