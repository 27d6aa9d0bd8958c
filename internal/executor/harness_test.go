package executor

import (
	"bytes"
	"encoding/json"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarnessArgs(t *testing.T) {
	allow := DefaultAllowList()

	tests := []struct {
		timeLimit time.Duration
		cpu       int
	}{
		{5 * time.Second, 6},
		{1500 * time.Millisecond, 3},
		{100 * time.Millisecond, 2},
	}

	for _, tt := range tests {
		t.Run(tt.timeLimit.String(), func(t *testing.T) {
			limits := Limits{TimeLimit: tt.timeLimit, OutputLimit: 10, MemoryLimit: 1 << 20}
			args, err := harnessArgs("tok", allow, limits)
			require.NoError(t, err)
			require.Len(t, args, 6)

			assert.Equal(t, []string{"-I", "-S", "-u", "-c"}, args[:4])
			assert.Equal(t, harnessSource, args[4])

			var cfg harnessConfig
			require.NoError(t, json.Unmarshal([]byte(args[5]), &cfg))
			assert.Equal(t, "tok", cfg.Token)
			assert.Equal(t, tt.cpu, cfg.CPUSeconds)
			assert.Equal(t, int64(1<<20), cfg.MemoryLimit)
			assert.Equal(t, allow.Builtins(), cfg.Builtins)
			assert.Equal(t, []string{"math"}, cfg.Modules)
		})
	}
}

func TestHarnessSource(t *testing.T) {
	assert.Contains(t, harnessSource, "cell-report:")
	assert.Contains(t, harnessSource, "RLIMIT_AS")
	assert.Contains(t, harnessSource, "guarded_import")
}

func TestParseReport(t *testing.T) {
	r, ok := parseReport([]byte(`{"kind":"ok"}` + "\ntrailing junk"))
	require.True(t, ok)
	assert.Equal(t, reportOK, r.Kind)

	r, ok = parseReport([]byte(`{"kind":"error","type":"ImportError","message":"import of 'os' is not allowed"}`))
	require.True(t, ok)
	assert.Equal(t, "ImportError", r.Type)

	for _, raw := range []string{"", "\n", "{", `{"kind":"party"}`} {
		_, ok := parseReport([]byte(raw))
		assert.False(t, ok, "%q", raw)
	}
}

func TestHarness_UTF8Streams(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not available")
	}
	args, err := harnessArgs("tok", DefaultAllowList(), DefaultLimits())
	require.NoError(t, err)

	// An ASCII locale would make print fail on non-ASCII text without the
	// harness choosing the encoding; PYTHONIOENCODING is ignored under -I.
	cmd := exec.Command(python, args...)
	cmd.Env = []string{"LANG=C", "LC_ALL=C", "PYTHONIOENCODING=ascii"}
	cmd.Stdin = strings.NewReader("print('h\u00e9llo \u2713', len('\u00e9'))\nprint('caf\u00e9')")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	require.NoError(t, cmd.Run(), stderr.String())

	assert.Equal(t, "h\u00e9llo \u2713 1\ncaf\u00e9\n", stdout.String())
}
