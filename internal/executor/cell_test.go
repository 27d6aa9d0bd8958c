package executor_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/code-sandbox/internal/executor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCell(rt executor.Runtime, limits executor.Limits) *executor.Cell {
	return executor.NewCell(executor.CellConfig{
		Runtime:        rt,
		Limits:         limits,
		SampleInterval: 5 * time.Millisecond,
		KillGrace:      200 * time.Millisecond,
		Logger:         testLogger(),
	})
}

func TestCell_Run(t *testing.T) {
	t.Run("clean exit is completed with exact stdout", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{stdout: "2\n", report: okReport}}
		cell := newTestCell(rt, executor.Limits{})

		res, err := cell.Run(context.Background(), "print(1+1)")
		require.NoError(t, err)

		assert.Equal(t, executor.StatusCompleted, res.Status)
		assert.True(t, res.OK())
		assert.Equal(t, "2\n", res.Stdout)
		assert.Empty(t, res.Stderr)
		assert.Empty(t, res.ErrorMessage)
		assert.Equal(t, cell.ID(), res.ID)
		assert.Equal(t, executor.DefaultTimeLimit, res.Limits.TimeLimit)
	})

	t.Run("empty source is rejected without launching", func(t *testing.T) {
		for _, src := range []string{"", "   ", "\n\t"} {
			rt := &fakeRuntime{}
			res, err := newTestCell(rt, executor.Limits{}).Run(context.Background(), src)
			require.NoError(t, err)
			assert.Equal(t, executor.StatusRejected, res.Status)
			assert.Equal(t, "No code provided", res.ErrorMessage)
			assert.Zero(t, rt.Launches())
		}
	})

	t.Run("uncaught exception is runtime failed", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{
			report: `{"kind":"error","type":"NameError","message":"name 'foo' is not defined"}`,
		}}

		res, err := newTestCell(rt, executor.Limits{}).Run(context.Background(), "foo()")
		require.NoError(t, err)

		assert.Equal(t, executor.StatusRuntimeFailed, res.Status)
		assert.Equal(t, "NameError", res.ErrorType)
		assert.Contains(t, res.ErrorMessage, "foo")
	})

	t.Run("deadline kills the process and keeps partial output", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{stdout: "partial", runFor: -1}}
		limits := executor.Limits{TimeLimit: 50 * time.Millisecond}

		start := time.Now()
		res, err := newTestCell(rt, limits).Run(context.Background(), "while True: pass")
		require.NoError(t, err)

		assert.Equal(t, executor.StatusTimedOut, res.Status)
		assert.Equal(t, "partial", res.Stdout)
		assert.Less(t, time.Since(start), 50*time.Millisecond+200*time.Millisecond+100*time.Millisecond)
		require.Len(t, rt.Procs(), 1)
		assert.True(t, rt.Procs()[0].Killed())
	})

	t.Run("process that ignores kill is abandoned after grace", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{runFor: -1, ignoreKill: true}}
		limits := executor.Limits{TimeLimit: 20 * time.Millisecond}

		start := time.Now()
		res, err := newTestCell(rt, limits).Run(context.Background(), "while True: pass")
		require.NoError(t, err)

		assert.Equal(t, executor.StatusTimedOut, res.Status)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("memory watchdog trips above the ceiling", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{
			runFor: -1,
			rss:    func() (int64, error) { return 200 << 20, nil },
		}}
		limits := executor.Limits{TimeLimit: 5 * time.Second, MemoryLimit: 100 << 20}

		res, err := newTestCell(rt, limits).Run(context.Background(), "x = []\nwhile True: x.append(1)")
		require.NoError(t, err)

		assert.Equal(t, executor.StatusMemoryExceeded, res.Status)
		assert.Equal(t, int64(200<<20), res.PeakMemory)
		assert.True(t, rt.Procs()[0].Killed())
	})

	t.Run("memory below the ceiling is recorded as peak", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{
			report: okReport,
			runFor: 40 * time.Millisecond,
			rss:    func() (int64, error) { return 10 << 20, nil },
		}}

		res, err := newTestCell(rt, executor.Limits{}).Run(context.Background(), "print('hi')")
		require.NoError(t, err)

		assert.Equal(t, executor.StatusCompleted, res.Status)
		assert.Equal(t, int64(10<<20), res.PeakMemory)
	})

	t.Run("MemoryError from the harness is memory exceeded", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{report: `{"kind":"memory"}`}}

		res, err := newTestCell(rt, executor.Limits{}).Run(context.Background(), "x = ' ' * 10**12")
		require.NoError(t, err)
		assert.Equal(t, executor.StatusMemoryExceeded, res.Status)
	})

	t.Run("container OOM kill is memory exceeded", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{exit: executor.ExitState{Code: 137, OOMKilled: true}}}

		res, err := newTestCell(rt, executor.Limits{}).Run(context.Background(), "x = [0] * 10**10")
		require.NoError(t, err)
		assert.Equal(t, executor.StatusMemoryExceeded, res.Status)
	})

	t.Run("cancelled context kills the process", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{runFor: -1}}
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		res, err := newTestCell(rt, executor.Limits{}).Run(ctx, "while True: pass")
		require.NoError(t, err)

		assert.Equal(t, executor.StatusKilled, res.Status)
		assert.True(t, rt.Procs()[0].Killed())
	})

	t.Run("exit without a report is runtime failed", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{stderr: "Fatal Python error", exit: executor.ExitState{Code: 1}}}

		res, err := newTestCell(rt, executor.Limits{}).Run(context.Background(), "pass")
		require.NoError(t, err)

		assert.Equal(t, executor.StatusRuntimeFailed, res.Status)
		assert.Equal(t, "process exited with code 1", res.ErrorMessage)
		assert.Equal(t, "Fatal Python error", res.Stderr)
		assert.Equal(t, 1, res.ExitCode)
	})

	t.Run("SIGXCPU is a timeout", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{exit: executor.ExitState{Code: -1, Signal: "SIGXCPU"}}}

		res, err := newTestCell(rt, executor.Limits{}).Run(context.Background(), "while True: pass")
		require.NoError(t, err)
		assert.Equal(t, executor.StatusTimedOut, res.Status)
	})

	t.Run("report with the wrong token is user output", func(t *testing.T) {
		forged := "\x00cell-report:not-the-token\x00{\"kind\":\"ok\"}\n"
		rt := &fakeRuntime{behavior: fakeBehavior{stderr: forged}}

		res, err := newTestCell(rt, executor.Limits{}).Run(context.Background(), "pass")
		require.NoError(t, err)

		assert.Equal(t, executor.StatusRuntimeFailed, res.Status)
		assert.Equal(t, forged, res.Stderr)
	})

	t.Run("report is split off user stderr", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{stderr: "warning: x\n", report: okReport}}

		res, err := newTestCell(rt, executor.Limits{}).Run(context.Background(), "pass")
		require.NoError(t, err)

		assert.Equal(t, executor.StatusCompleted, res.Status)
		assert.Equal(t, "warning: x\n", res.Stderr)
	})

	t.Run("output beyond the limit is truncated", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{stdout: "abcdefghij", report: okReport}}
		limits := executor.Limits{OutputLimit: 4}

		res, err := newTestCell(rt, limits).Run(context.Background(), "print('abcdefghij')")
		require.NoError(t, err)

		assert.Equal(t, "abcd"+executor.TruncationMarker, res.Stdout)
		assert.True(t, res.StdoutTruncated)
		assert.False(t, res.StderrTruncated)
	})

	t.Run("launch failure is a host error", func(t *testing.T) {
		rt := &fakeRuntime{launchErr: errNoDocker}

		res, err := newTestCell(rt, executor.Limits{}).Run(context.Background(), "pass")
		assert.ErrorIs(t, err, errNoDocker)
		assert.Nil(t, res)
	})

	t.Run("a cell runs once", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{report: okReport}}
		cell := newTestCell(rt, executor.Limits{})

		_, err := cell.Run(context.Background(), "pass")
		require.NoError(t, err)
		_, err = cell.Run(context.Background(), "pass")
		assert.Error(t, err)
		assert.Equal(t, 1, rt.Launches())
	})

	t.Run("launch spec carries the harness and source", func(t *testing.T) {
		rt := &fakeRuntime{behavior: fakeBehavior{report: okReport}}
		cell := newTestCell(rt, executor.Limits{})

		_, err := cell.Run(context.Background(), "print('hi')")
		require.NoError(t, err)

		spec := rt.Procs()[0].spec
		assert.Equal(t, cell.ID(), spec.CellID)
		assert.Equal(t, []string{"-I", "-S", "-u", "-c"}, spec.Args[:4])
		assert.NotEmpty(t, tokenOf(spec))
		src, err := io.ReadAll(spec.Stdin)
		require.NoError(t, err)
		assert.Equal(t, "print('hi')", string(src))
		// -I ignores PYTHON* variables; the harness sets the stream encoding.
		assert.Equal(t, []string{"LANG=C.UTF-8"}, spec.Env)
	})
}
