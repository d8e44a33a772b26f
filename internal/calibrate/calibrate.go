// Package calibrate searches for the repeat count that makes one wrapped run
// of a program take about a second.
//
// The search starts at Initial and multiplies by ten after every probe that
// finishes clean and under Target. It stops at the first probe that faults
// (compile failure or runtime fault) or reaches Target, and returns one
// order of magnitude below the last probed count.
package calibrate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/signalnine/perffect/internal/compiler"
	"github.com/signalnine/perffect/internal/project"
	"github.com/signalnine/perffect/internal/transform"
)

const (
	DefaultInitial int64 = 10
	DefaultTarget        = time.Second
)

// State is where the search ended.
type State string

const (
	Stable   State = "stable"
	Faulted  State = "faulted"
	Overflow State = "overflow"
)

// Result describes a finished calibration.
type Result struct {
	Count    int64
	State    State
	Probes   int
	LastTime time.Duration
}

type Calibrator struct {
	Initial int64
	Target  time.Duration
	Logger  *slog.Logger
}

func New(initial int64, target time.Duration, logger *slog.Logger) *Calibrator {
	if initial < 1 {
		initial = DefaultInitial
	}
	if target <= 0 {
		target = DefaultTarget
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Calibrator{Initial: initial, Target: target, Logger: logger}
}

// Calibrate returns the repeat count for p on backend b.
func (c *Calibrator) Calibrate(ctx context.Context, b compiler.Backend, p *project.Project) (int64, error) {
	res, err := c.Search(ctx, b, p)
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Search runs the probe sequence and reports how it ended. Errors are
// returned only for failures that say nothing about the program: a missing
// entry point, a toolchain that could not be invoked, or cancellation.
func (c *Calibrator) Search(ctx context.Context, b compiler.Backend, p *project.Project) (*Result, error) {
	log := c.Logger.With("language", string(b.Language()))
	res := &Result{}
	count := c.Initial
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Probes++
		elapsed, faulted, err := c.probe(ctx, b, p, count)
		if err != nil {
			return nil, err
		}
		res.LastTime = elapsed
		log.Debug("calibration probe", "count", count, "elapsed_ms", elapsed.Milliseconds(), "faulted", faulted)

		switch {
		case faulted:
			res.State = Faulted
		case elapsed >= c.Target:
			res.State = Stable
		case count > math.MaxInt64/10:
			res.State = Overflow
			res.Count = math.MaxInt64
			log.Warn("calibration overflow", "count", count)
			return res, nil
		default:
			count *= 10
			continue
		}
		res.Count = max(count/10, 1)
		log.Debug("calibrated", "state", string(res.State), "count", res.Count, "probes", res.Probes,
			"last_ms", res.LastTime.Milliseconds())
		return res, nil
	}
}

// probe compiles and runs p wrapped at count. The backend is cleaned
// afterwards whatever happened.
func (c *Calibrator) probe(ctx context.Context, b compiler.Backend, p *project.Project, count int64) (time.Duration, bool, error) {
	wrapped, err := transform.WrapProject(p, count)
	if err != nil {
		return 0, false, err
	}
	defer func() {
		if err := b.Clean(); err != nil {
			c.Logger.Warn("cleaning after probe", "error", err)
		}
	}()

	status, err := b.Compile(ctx, wrapped)
	if err != nil {
		return 0, false, fmt.Errorf("compiling probe at %d: %w", count, err)
	}
	if compiler.Classify(status) != compiler.OK {
		return 0, true, nil
	}

	run, err := b.Execute(ctx, wrapped.EntryID())
	if err != nil {
		return 0, false, fmt.Errorf("running probe at %d: %w", count, err)
	}
	return run.Elapsed, run.Faulted(), nil
}
