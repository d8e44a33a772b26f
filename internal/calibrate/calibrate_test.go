package calibrate_test

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/signalnine/perffect/internal/calibrate"
	"github.com/signalnine/perffect/internal/compiler"
	"github.com/signalnine/perffect/internal/compiler/compilertest"
	"github.com/signalnine/perffect/internal/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kotlinProgram = `package src.beta

fun main(args: Array<out String>) {
    println(1 + 1)
}
`

func kotlinProject(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.FromCode(kotlinProgram, project.Kotlin)
	require.NoError(t, err)
	return p
}

// timed reports elapsed = f(iterations) for every run.
func timed(f func(n int64) time.Duration) *compilertest.Backend {
	return &compilertest.Backend{
		Lang: project.Kotlin,
		ExecFunc: func(p *project.Project) *compiler.ExecResult {
			return &compiler.ExecResult{Elapsed: f(compilertest.Iterations(p))}
		},
	}
}

func TestCalibrateStable(t *testing.T) {
	tests := []struct {
		name string
		f    func(n int64) time.Duration
		want int64
	}{
		{"one microsecond per iteration", func(n int64) time.Duration { return time.Duration(n) * time.Microsecond }, 100_000},
		{"one tenth ms per iteration", func(n int64) time.Duration { return time.Duration(n) * 100 * time.Microsecond }, 1_000},
		{"slow from the start", func(n int64) time.Duration { return 2 * time.Second }, 1},
		{"just under target", func(n int64) time.Duration {
			if n >= 1_000_000 {
				return time.Second
			}
			return 999 * time.Millisecond
		}, 100_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := timed(tt.f)
			c := calibrate.New(10, time.Second, nil)
			got, err := c.Calibrate(context.Background(), b, kotlinProject(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalibrateFault(t *testing.T) {
	b := &compilertest.Backend{
		Lang: project.Kotlin,
		ExecFunc: func(p *project.Project) *compiler.ExecResult {
			if compilertest.Iterations(p) >= 10_000 {
				return &compiler.ExecResult{Output: "Exception in thread \"main\" java.lang.OutOfMemoryError", ExitCode: 1}
			}
			return &compiler.ExecResult{Elapsed: time.Millisecond}
		},
	}
	res, err := calibrate.New(10, time.Second, nil).Search(context.Background(), b, kotlinProject(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1_000), res.Count)
	assert.Equal(t, calibrate.Faulted, res.State)
	assert.Equal(t, 4, res.Probes)
}

func TestCalibrateCompileFailureHaltsSearch(t *testing.T) {
	b := &compilertest.Backend{
		Lang: project.Kotlin,
		CompileFunc: func(p *project.Project) *compiler.InvokeStatus {
			if compilertest.Iterations(p) >= 100 {
				return &compiler.InvokeStatus{Succeeded: false, CombinedOutput: "error: too large"}
			}
			return &compiler.InvokeStatus{Succeeded: true}
		},
	}
	res, err := calibrate.New(10, time.Second, nil).Search(context.Background(), b, kotlinProject(t))
	require.NoError(t, err)
	assert.Equal(t, calibrate.Faulted, res.State)
	assert.Equal(t, int64(10), res.Count)
	assert.Len(t, b.Executed(), 1, "failed probe is never executed")
}

func TestCalibrateOverflowClamps(t *testing.T) {
	b := timed(func(int64) time.Duration { return 0 })
	res, err := calibrate.New(10, time.Second, nil).Search(context.Background(), b, kotlinProject(t))
	require.NoError(t, err)
	assert.Equal(t, calibrate.Overflow, res.State)
	assert.Equal(t, int64(math.MaxInt64), res.Count)
	assert.Equal(t, 18, res.Probes)
}

func TestCalibrateCleansAfterEveryProbe(t *testing.T) {
	b := timed(func(n int64) time.Duration { return time.Duration(n) * time.Microsecond })
	res, err := calibrate.New(10, time.Second, nil).Search(context.Background(), b, kotlinProject(t))
	require.NoError(t, err)
	assert.Equal(t, res.Probes, b.Cleans())
	assert.Len(t, b.Compiled(), res.Probes)

	counts := make([]int64, 0, res.Probes)
	for _, p := range b.Compiled() {
		counts = append(counts, compilertest.Iterations(p))
	}
	assert.Equal(t, []int64{10, 100, 1_000, 10_000, 100_000, 1_000_000}, counts)
}

func TestSearchLogsLastProbeTime(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	b := timed(func(n int64) time.Duration { return time.Duration(n) * time.Microsecond })

	res, err := calibrate.New(10, time.Second, log).Search(context.Background(), b, kotlinProject(t))
	require.NoError(t, err)
	assert.Equal(t, time.Second, res.LastTime)
	assert.Contains(t, buf.String(), "msg=calibrated")
	assert.Contains(t, buf.String(), "last_ms=1000")
}

func TestCalibrateMalformedSource(t *testing.T) {
	p, err := project.FromCode("package src.beta\n\nfun notMain() {}\n", project.Kotlin)
	require.NoError(t, err)
	_, err = calibrate.New(10, time.Second, nil).Calibrate(context.Background(), timed(nil), p)
	assert.Error(t, err)
}

func TestCalibrateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := calibrate.New(10, time.Second, nil).Calibrate(ctx, timed(func(int64) time.Duration { return 0 }), kotlinProject(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewDefaults(t *testing.T) {
	c := calibrate.New(0, 0, nil)
	assert.Equal(t, calibrate.DefaultInitial, c.Initial)
	assert.Equal(t, calibrate.DefaultTarget, c.Target)
	assert.NotNil(t, c.Logger)
}
