package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/signalnine/perffect/internal/docker"
)

// TimeoutExitCode is reported for invocations killed at their deadline.
const TimeoutExitCode = 124

// Invocation describes one external toolchain command. Args are resolved
// relative to Dir, which is the host work directory.
type Invocation struct {
	Args    []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// Outcome is what an invocation produced. Output interleaves stdout and
// stderr.
type Outcome struct {
	Output   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, inv Invocation) (*Outcome, error)
}

// Local runs invocations as host processes.
type Local struct{}

func (Local) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	if len(inv.Args) == 0 {
		return nil, errors.New("empty invocation")
	}
	runCtx := ctx
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, inv.Args[0], inv.Args[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = os.Environ()
	for k, v := range inv.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.WaitDelay = time.Second
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	start := time.Now()
	err := cmd.Run()
	out := &Outcome{Output: buf.String(), Duration: time.Since(start)}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		out.ExitCode = TimeoutExitCode
		return out, nil
	}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("running %s: %w", inv.Args[0], err)
	}
	return out, nil
}

// Container runs invocations inside a throwaway container of Image, with
// the invocation's Dir mounted as the container's working directory.
type Container struct {
	Image       string
	CPULimit    float64
	MemoryLimit int64
	Mounts      []docker.Mount
}

func (c *Container) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	if len(inv.Args) == 0 {
		return nil, errors.New("empty invocation")
	}
	res, err := docker.RunContainer(ctx, &docker.RunOpts{
		Image:       c.Image,
		Command:     inv.Args,
		WorkDir:     inv.Dir,
		Env:         inv.Env,
		Timeout:     inv.Timeout,
		ExtraMounts: c.Mounts,
		CPULimit:    c.CPULimit,
		MemoryLimit: c.MemoryLimit,
		UserID:      fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Output:   res.Output,
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Duration: res.Duration,
	}, nil
}

// Pooled dispatches every invocation through a Pool. The pool deadline sits
// a grace period past the invocation's own timeout so the inner runner gets
// the first chance to kill the process and collect its output.
type Pooled struct {
	Runner Runner
	Pool   *Pool
	Grace  time.Duration
}

func (p *Pooled) Run(ctx context.Context, inv Invocation) (*Outcome, error) {
	var out *Outcome
	deadline := time.Duration(0)
	if inv.Timeout > 0 {
		deadline = inv.Timeout + p.Grace
	}
	start := time.Now()
	err := p.Pool.Do(ctx, deadline, func(ctx context.Context) error {
		o, err := p.Runner.Run(ctx, inv)
		out = o
		return err
	})
	if errors.Is(err, ErrTimeout) {
		return &Outcome{ExitCode: TimeoutExitCode, TimedOut: true, Duration: time.Since(start)}, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
