package oracle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/signalnine/perffect/internal/result"
	"github.com/signalnine/perffect/internal/stats"
)

// Recorder stores the summary of every finished trial.
type Recorder interface {
	Record(ctx context.Context, rec *result.TrialRecord) error
}

// Loop feeds random seeds to a TrialRunner until its context is done or
// MaxTrials trials have run. Trials run strictly one after another.
type Loop struct {
	Runner    *TrialRunner
	Stats     *stats.Aggregator
	MaxTrials int
	// RunDir receives the trial log and the final statistics snapshots.
	RunDir   string
	Recorder Recorder
	Logger   *slog.Logger
	// Seeds overrides the seed source.
	Seeds func() int64

	shutdownOnce sync.Once
	snapshots    map[string]stats.Snapshot
	shutdownErr  error
}

// Run returns nil once ctx is cancelled or the trial budget is spent.
func (l *Loop) Run(ctx context.Context) error {
	log := l.logger()
	seeds := l.Seeds
	if seeds == nil {
		seeds = func() int64 { return int64(rand.Uint64()) }
	}
	log.Info("oracle started", "max_trials", l.MaxTrials, "run_dir", l.RunDir)
	for n := 0; l.MaxTrials <= 0 || n < l.MaxTrials; n++ {
		if ctx.Err() != nil {
			break
		}
		rep := l.Runner.Run(ctx, seeds())
		if ctx.Err() != nil && errors.Is(rep.Err, ctx.Err()) {
			log.Info("trial interrupted", "seed", rep.Seed)
			break
		}
		l.record(ctx, rep)
	}
	log.Info("oracle stopped")
	return nil
}

func (l *Loop) record(ctx context.Context, rep *Report) {
	log := l.logger()
	rec := rep.Record(l.Runner.RunID)
	if l.RunDir != "" {
		if err := result.AppendTrial(l.RunDir, rec); err != nil {
			log.Warn("writing trial log", "seed", rep.Seed, "error", err)
		}
	}
	if l.Recorder != nil {
		if err := l.Recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
			log.Warn("recording trial", "seed", rep.Seed, "error", err)
		}
	}
}

// Shutdown finalizes the statistics and writes one snapshot per language to
// RunDir. Only the first call does any work; every call returns the same
// snapshots and error.
func (l *Loop) Shutdown() (map[string]stats.Snapshot, error) {
	l.shutdownOnce.Do(func() {
		l.snapshots = l.Stats.Finalize()
		if l.RunDir == "" {
			return
		}
		var errs []error
		for _, lang := range l.Stats.Languages() {
			snap := l.snapshots[string(lang)]
			if err := result.WriteStats(l.RunDir, string(lang), snap); err != nil {
				errs = append(errs, err)
				continue
			}
			l.logger().Info("statistics",
				"language", snap.Language,
				"total_programs", snap.TotalPrograms,
				"correct_programs", snap.CorrectPrograms,
				"percent_incorrect", snap.PercentIncorrect,
				"avg_generation_time_ms", snap.AvgGenerationTimeMs,
				"avg_compile_time_ms", snap.AvgCompileTimeMs,
				"avg_execution_time_ms", snap.AvgExecutionTimeMs)
		}
		l.shutdownErr = errors.Join(errs...)
	})
	return l.snapshots, l.shutdownErr
}

func (l *Loop) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return l.Logger
}
