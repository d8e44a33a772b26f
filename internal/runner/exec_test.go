package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalnine/perffect/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "in.txt"), []byte("hello"), 0o644))

	out, err := runner.Local{}.Run(context.Background(), runner.Invocation{
		Args:    []string{"sh", "-c", "cat in.txt; echo \" $GREETING\" >&2"},
		Dir:     dir,
		Env:     map[string]string{"GREETING": "world"},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, out.ExitCode)
	assert.False(t, out.TimedOut)
	assert.Contains(t, out.Output, "hello")
	assert.Contains(t, out.Output, "world")
}

func TestLocalRunExitCode(t *testing.T) {
	out, err := runner.Local{}.Run(context.Background(), runner.Invocation{
		Args: []string{"sh", "-c", "exit 3"},
		Dir:  t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, out.ExitCode)
}

func TestLocalRunTimeout(t *testing.T) {
	out, err := runner.Local{}.Run(context.Background(), runner.Invocation{
		Args:    []string{"sleep", "30"},
		Dir:     t.TempDir(),
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Equal(t, runner.TimeoutExitCode, out.ExitCode)
	assert.Less(t, out.Duration, 10*time.Second)
}

func TestLocalRunMissingBinary(t *testing.T) {
	_, err := runner.Local{}.Run(context.Background(), runner.Invocation{
		Args: []string{"perffect-no-such-binary"},
		Dir:  t.TempDir(),
	})
	assert.Error(t, err)
}

func TestLocalRunEmpty(t *testing.T) {
	_, err := runner.Local{}.Run(context.Background(), runner.Invocation{})
	assert.Error(t, err)
}

type stuckRunner struct{ release chan struct{} }

func (s stuckRunner) Run(ctx context.Context, inv runner.Invocation) (*runner.Outcome, error) {
	<-s.release
	return &runner.Outcome{}, nil
}

func TestPooledHardTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	p := &runner.Pooled{
		Runner: stuckRunner{release: release},
		Pool:   runner.NewPool(1),
		Grace:  10 * time.Millisecond,
	}
	out, err := p.Run(context.Background(), runner.Invocation{Args: []string{"java"}, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, out.TimedOut)
	assert.Equal(t, runner.TimeoutExitCode, out.ExitCode)
}

func TestPooledPassesThrough(t *testing.T) {
	p := &runner.Pooled{Runner: runner.Local{}, Pool: runner.NewPool(2), Grace: time.Second}
	out, err := p.Run(context.Background(), runner.Invocation{
		Args:    []string{"sh", "-c", "echo ok"},
		Dir:     t.TempDir(),
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out.Output)
}
