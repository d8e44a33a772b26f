package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrTimeout is returned by Pool.Do when a job outlives its deadline.
var ErrTimeout = errors.New("invocation timed out")

type Job func(ctx context.Context) error

// Pool runs jobs on worker goroutines, at most n at a time. A job that
// overruns its timeout keeps its slot until it returns, so hung toolchains
// can never grow the number of live workers past n.
type Pool struct {
	sem     *semaphore.Weighted
	workers int
}

func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), workers: workers}
}

// Workers is the most invocations the pool runs at once.
func (p *Pool) Workers() int { return p.workers }

// Do runs job on a pooled worker and waits for it. With a positive timeout
// the job's context is cancelled at the deadline and Do returns ErrTimeout
// without waiting for the job to notice.
func (p *Pool) Do(ctx context.Context, timeout time.Duration, job Job) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	var (
		jobCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		jobCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("invocation panicked: %v", r)
			}
		}()
		done <- job(jobCtx)
	}()

	select {
	case err := <-done:
		if expired(ctx, jobCtx) {
			return ErrTimeout
		}
		return err
	case <-jobCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTimeout
	}
}

func expired(parent, job context.Context) bool {
	return parent.Err() == nil && errors.Is(job.Err(), context.DeadlineExceeded)
}
