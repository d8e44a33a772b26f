// Package oracle runs differential performance trials: one seed at a time,
// generate a reference and a candidate program, compile both, calibrate a
// shared repeat count, time both wrapped programs, and keep the pair when
// the candidate is too slow.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/signalnine/perffect/internal/calibrate"
	"github.com/signalnine/perffect/internal/compiler"
	"github.com/signalnine/perffect/internal/generator"
	"github.com/signalnine/perffect/internal/metrics"
	"github.com/signalnine/perffect/internal/project"
	"github.com/signalnine/perffect/internal/result"
	"github.com/signalnine/perffect/internal/stats"
	"github.com/signalnine/perffect/internal/transform"
)

type Phase string

const (
	PhaseClean     Phase = "clean"
	PhaseGenerate  Phase = "generate"
	PhaseCompile   Phase = "compile"
	PhaseCalibrate Phase = "calibrate"
	PhaseWrap      Phase = "wrap"
	PhaseExecute   Phase = "execute"
	PhasePersist   Phase = "persist"
	PhaseDone      Phase = "done"
)

// Generator produces the program for one seed and language.
type Generator interface {
	Generate(ctx context.Context, lang project.Language, seed int64) (*generator.Program, error)
}

// Mirror copies a persisted regression directory somewhere else.
type Mirror interface {
	MirrorDir(ctx context.Context, seed int64, dir string) (int, error)
}

// Side is what a trial learned about one language.
type Side struct {
	Language    project.Language
	Original    *project.Project
	Wrapped     *project.Project
	Outcome     compiler.Outcome
	CompileTime time.Duration
	Calibrated  int64
	Elapsed     time.Duration
}

// Report is the outcome of one trial.
type Report struct {
	Seed        int64
	Status      string
	Phase       Phase
	Err         error
	RepeatCount int64
	Ratio       float64
	Reference   Side
	Candidate   Side
	Dir         string
	StartedAt   time.Time
	Duration    time.Duration
}

// Record flattens the report for the trial log and ledger.
func (r *Report) Record(runID string) *result.TrialRecord {
	rec := &result.TrialRecord{
		RunID:       runID,
		Seed:        r.Seed,
		Status:      r.Status,
		Phase:       string(r.Phase),
		RepeatCount: r.RepeatCount,
		ReferenceMs: ms(r.Reference.Elapsed),
		CandidateMs: ms(r.Candidate.Elapsed),
		Ratio:       r.Ratio,
		DurationMs:  r.Duration.Milliseconds(),
		StartedAt:   r.StartedAt,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

type TrialRunner struct {
	Generator  Generator
	Reference  compiler.Backend
	Candidate  compiler.Backend
	Calibrator *calibrate.Calibrator
	Stats      *stats.Aggregator
	Threshold  float64
	ResultsDir string
	RunID      string
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Mirror     Mirror
}

func (t *TrialRunner) logger() *slog.Logger {
	if t.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return t.Logger
}

// Run executes one trial for seed. It never panics and never returns an
// error: whatever goes wrong ends up in the report.
func (t *TrialRunner) Run(ctx context.Context, seed int64) (rep *Report) {
	rep = &Report{Seed: seed, StartedAt: time.Now(), Phase: PhaseClean}
	rep.Reference.Language = t.Reference.Language()
	rep.Candidate.Language = t.Candidate.Language()
	log := t.logger().With("seed", seed)

	defer func() {
		if r := recover(); r != nil {
			rep.Err = fmt.Errorf("trial panicked in %s: %v", rep.Phase, r)
			log.Error("trial panicked", "phase", string(rep.Phase), "panic", r, "stack", string(debug.Stack()))
		}
		rep.Duration = time.Since(rep.StartedAt)
		rep.Status = statusFor(rep.Err)
		if rep.Err == nil {
			rep.Phase = PhaseDone
			if rep.Dir != "" {
				rep.Status = result.StatusRegression
			}
		}
		t.Metrics.CountTrial(rep.Status)
		switch rep.Status {
		case result.StatusSkipped:
			log.Warn("trial skipped", "phase", string(rep.Phase), "error", rep.Err)
		case result.StatusFailed:
			log.Error("trial failed", "phase", string(rep.Phase), "error", rep.Err)
		default:
			log.Info("trial finished", "status", rep.Status, "ratio", rep.Ratio, "repeat_count", rep.RepeatCount, "duration_ms", rep.Duration.Milliseconds())
		}
	}()

	rep.Err = t.run(ctx, rep, log)
	return rep
}

func (t *TrialRunner) run(ctx context.Context, rep *Report, log *slog.Logger) error {
	for _, b := range []compiler.Backend{t.Reference, t.Candidate} {
		if err := b.Clean(); err != nil {
			return fmt.Errorf("cleaning %s backend: %w", b.Language(), err)
		}
	}

	rep.Phase = PhaseGenerate
	for _, side := range t.sides(rep) {
		p, err := t.generate(ctx, side.backend.Language(), rep.Seed, log)
		if err != nil {
			return err
		}
		side.Original = p
	}

	rep.Phase = PhaseCompile
	var errs []error
	for _, side := range t.sides(rep) {
		if err := t.compileOriginal(ctx, side, log); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	rep.Phase = PhaseCalibrate
	for _, side := range t.sides(rep) {
		start := time.Now()
		n, err := t.Calibrator.Calibrate(ctx, side.backend, side.Original)
		if err != nil {
			return fmt.Errorf("calibrating %s: %w", side.Language, err)
		}
		side.Calibrated = n
		t.Metrics.ObservePhase(string(PhaseCalibrate), string(side.Language), time.Since(start))
		t.Metrics.SetRepeatCount(string(side.Language), n)
		log.Info("calibrated", "language", string(side.Language), "repeat_count", n)
	}
	rep.RepeatCount = max(rep.Reference.Calibrated, rep.Candidate.Calibrated)

	rep.Phase = PhaseWrap
	for _, side := range t.sides(rep) {
		wrapped, err := transform.WrapProject(side.Original, rep.RepeatCount)
		if err != nil {
			return err
		}
		side.Wrapped = wrapped
		status, err := side.backend.Compile(ctx, wrapped)
		if err != nil {
			return fmt.Errorf("compiling wrapped %s: %w", side.Language, err)
		}
		if err := outcomeErr(compiler.Classify(status)); err != nil {
			return fmt.Errorf("wrapped %s program: %w", side.Language, err)
		}
	}

	rep.Phase = PhaseExecute
	for _, side := range t.sides(rep) {
		run, err := side.backend.Execute(ctx, side.Wrapped.EntryID())
		if err != nil {
			return fmt.Errorf("executing %s: %w", side.Language, err)
		}
		if run.Faulted() && !run.TimedOut {
			return fmt.Errorf("%w: %s exited %d", ErrRuntimeFault, side.Language, run.ExitCode)
		}
		if run.TimedOut {
			log.Warn("measurement hit the execution timeout", "language", string(side.Language), "elapsed_ms", run.Elapsed.Milliseconds())
		}
		side.Elapsed = run.Elapsed
		t.Metrics.ObservePhase(string(PhaseExecute), string(side.Language), run.Elapsed)
	}
	for _, side := range t.sides(rep) {
		t.Stats.AddExecution(side.Language, ms(side.Elapsed))
	}
	if rep.Reference.Elapsed <= 0 {
		return fmt.Errorf("%w: reference run measured no time", ErrRuntimeFault)
	}
	rep.Ratio = float64(rep.Candidate.Elapsed) / float64(rep.Reference.Elapsed)
	t.Metrics.ObserveRatio(rep.Ratio)
	log.Info("measured",
		"repeat_count", rep.RepeatCount,
		"reference_ms", ms(rep.Reference.Elapsed),
		"candidate_ms", ms(rep.Candidate.Elapsed),
		"ratio", rep.Ratio)

	if rep.Ratio <= t.Threshold {
		return nil
	}
	rep.Phase = PhasePersist
	log.Warn("performance regression detected", "ratio", rep.Ratio, "threshold", t.Threshold)
	return t.persist(ctx, rep, log)
}

type sideRef struct {
	*Side
	backend compiler.Backend
}

func (t *TrialRunner) sides(rep *Report) []sideRef {
	return []sideRef{{&rep.Reference, t.Reference}, {&rep.Candidate, t.Candidate}}
}

func (t *TrialRunner) generate(ctx context.Context, lang project.Language, seed int64, log *slog.Logger) (*project.Project, error) {
	start := time.Now()
	prog, err := t.Generator.Generate(ctx, lang, seed)
	elapsed := time.Since(start)
	switch {
	case errors.Is(err, generator.ErrTimeout):
		return nil, fmt.Errorf("%w: %s: %w", ErrGenerationTimeout, lang, err)
	case errors.Is(err, generator.ErrEmpty):
		return nil, fmt.Errorf("%w: %s: %w", ErrEmptyProgram, lang, err)
	case err != nil:
		return nil, fmt.Errorf("generating %s: %w", lang, err)
	case prog == nil || strings.TrimSpace(prog.Text) == "":
		return nil, fmt.Errorf("%w: %s", ErrEmptyProgram, lang)
	}
	// Only usable programs count toward the language's total.
	t.Stats.AddGeneration(lang, elapsed)
	t.Metrics.ObservePhase(string(PhaseGenerate), string(lang), elapsed)
	log.Debug("generated", "language", string(lang), "elapsed_ms", elapsed.Milliseconds(), "code", prog.Text)

	p, err := project.FromCode(prog.Text, lang)
	if err != nil {
		return nil, fmt.Errorf("building %s project: %w", lang, err)
	}
	return p, nil
}

func (t *TrialRunner) compileOriginal(ctx context.Context, side sideRef, log *slog.Logger) error {
	status, err := side.backend.Compile(ctx, side.Original)
	if err != nil {
		return fmt.Errorf("compiling %s: %w", side.Language, err)
	}
	side.Outcome = compiler.Classify(status)
	side.CompileTime = status.CompileTime
	t.Stats.AddCompile(side.Language, side.Outcome, status.CompileTime)
	t.Metrics.CountCompile(string(side.Language), side.Outcome.String())
	t.Metrics.ObservePhase(string(PhaseCompile), string(side.Language), status.CompileTime)
	log.Info("compiled", "language", string(side.Language), "outcome", side.Outcome.String(), "compile_ms", status.CompileTime.Milliseconds())

	if err := outcomeErr(side.Outcome); err != nil {
		if side.Outcome == compiler.Bug {
			log.Error("compiler crashed", "language", string(side.Language), "output", status.CombinedOutput)
		}
		return fmt.Errorf("%s program: %w", side.Language, err)
	}
	return nil
}

func (t *TrialRunner) persist(ctx context.Context, rep *Report, log *slog.Logger) error {
	reg := &result.Regression{
		Seed:        rep.Seed,
		RepeatCount: rep.RepeatCount,
		Ratio:       rep.Ratio,
		Threshold:   t.Threshold,
		RunID:       t.RunID,
		FoundAt:     time.Now().UTC(),
		Reference:   execution(&rep.Reference),
		Candidate:   execution(&rep.Candidate),
	}
	dir, err := result.SaveRegression(t.ResultsDir, reg, rep.Reference.Wrapped, rep.Candidate.Wrapped)
	if err != nil {
		return fmt.Errorf("saving regression: %w", err)
	}
	rep.Dir = dir
	log.Info("regression saved", "dir", dir)

	if t.Mirror != nil {
		n, err := t.Mirror.MirrorDir(context.WithoutCancel(ctx), rep.Seed, dir)
		if err != nil {
			log.Warn("mirroring regression", "error", err)
		} else {
			log.Debug("regression mirrored", "objects", n)
		}
	}
	return nil
}

func execution(s *Side) result.Execution {
	return result.Execution{
		Language:      string(s.Language),
		EntryID:       s.Wrapped.EntryID(),
		WallTimeMs:    ms(s.Elapsed),
		CompileTimeMs: s.CompileTime.Milliseconds(),
		Calibrated:    s.Calibrated,
	}
}

func outcomeErr(o compiler.Outcome) error {
	switch o {
	case compiler.OK:
		return nil
	case compiler.Bug:
		return ErrCompilerCrash
	default:
		return ErrCompile
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
