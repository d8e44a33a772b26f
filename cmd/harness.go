package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalnine/perffect/internal/calibrate"
	"github.com/signalnine/perffect/internal/compiler"
	"github.com/signalnine/perffect/internal/config"
	"github.com/signalnine/perffect/internal/generator"
	"github.com/signalnine/perffect/internal/ledger"
	"github.com/signalnine/perffect/internal/metrics"
	"github.com/signalnine/perffect/internal/objectstore"
	"github.com/signalnine/perffect/internal/oracle"
	"github.com/signalnine/perffect/internal/project"
	"github.com/signalnine/perffect/internal/runner"
	"github.com/signalnine/perffect/internal/stats"
)

// poolGrace is how long past an invocation's own timeout the pool waits
// before abandoning it.
const poolGrace = 5 * time.Second

// harness owns everything a trial runner needs plus the optional sinks.
type harness struct {
	trials  *oracle.TrialRunner
	stats   *stats.Aggregator
	client  *generator.Client
	ledger  *ledger.Ledger
	closers []func() error
}

type harnessOpts struct {
	runID    string
	logger   *slog.Logger
	logDir   string
	withSink bool
}

func newHarness(ctx context.Context, cfg *config.Config, opts harnessOpts) (h *harness, err error) {
	h = &harness{}
	defer func() {
		if err != nil {
			h.Close()
		}
	}()
	log := opts.logger

	addr := cfg.Generator.Addr
	if len(cfg.Generator.Command) > 0 {
		proc, err := generator.Launch(ctx, &generator.LaunchOpts{
			Command:      cfg.Generator.Command,
			Addr:         cfg.Generator.Addr,
			EnvFile:      cfg.Generator.EnvFile,
			LogDir:       firstNonEmpty(cfg.Generator.LogDir, opts.logDir),
			StartTimeout: cfg.Generator.StartTimeout,
		})
		if err != nil {
			return h, fmt.Errorf("launching generator: %w", err)
		}
		h.closers = append(h.closers, proc.Stop)
		addr = proc.Addr()
		log.Info("generator launched", "addr", addr)
	}
	h.client, err = generator.NewClient(generator.Options{
		Addr:      addr,
		Protocol:  cfg.Generator.Protocol,
		Timeout:   cfg.Generator.Timeout,
		CacheSize: cfg.Generator.CacheSize,
	})
	if err != nil {
		return h, err
	}

	pool := runner.NewPool(cfg.Compile.Workers)
	log.Debug("invocation pool ready", "workers", pool.Workers(), "mode", cfg.Runner.Mode)
	ref, err := newBackend(cfg, cfg.Languages.Reference, pool)
	if err != nil {
		return h, fmt.Errorf("reference backend: %w", err)
	}
	cand, err := newBackend(cfg, cfg.Languages.Candidate, pool)
	if err != nil {
		return h, fmt.Errorf("candidate backend: %w", err)
	}

	h.stats = stats.New(ref.Language(), cand.Language())
	h.trials = &oracle.TrialRunner{
		Generator:  h.client,
		Reference:  ref,
		Candidate:  cand,
		Calibrator: calibrate.New(cfg.Oracle.InitialRepeat, cfg.Oracle.CalibrationTarget, log),
		Stats:      h.stats,
		Threshold:  cfg.Oracle.RegressionThreshold,
		ResultsDir: cfg.Results.Dir,
		RunID:      opts.runID,
		Logger:     log,
	}
	if !opts.withSink {
		return h, nil
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		h.trials.Metrics = metrics.New(reg)
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, log); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}
	if cfg.ObjectStore.Enabled() {
		store, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			Region:    cfg.ObjectStore.Region,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			UseSSL:    cfg.ObjectStore.UseSSL,
			Prefix:    cfg.ObjectStore.Prefix,
		})
		if err != nil {
			return h, fmt.Errorf("object store: %w", err)
		}
		h.trials.Mirror = store
		log.Info("mirroring regressions", "endpoint", cfg.ObjectStore.Endpoint, "bucket", cfg.ObjectStore.Bucket)
	}
	if cfg.Ledger.Enabled() {
		h.ledger, err = ledger.Open(ctx, cfg.Ledger.DSN, cfg.Ledger.PingTimeout)
		if err != nil {
			return h, fmt.Errorf("ledger: %w", err)
		}
		h.closers = append(h.closers, h.ledger.Close)
		log.Info("recording trials to ledger")
	}
	return h, nil
}

// recorder returns the ledger as an oracle.Recorder, or nil when disabled.
func (h *harness) recorder() oracle.Recorder {
	if h.ledger == nil {
		return nil
	}
	return h.ledger
}

func (h *harness) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		errs = append(errs, h.closers[i]())
	}
	h.closers = nil
	return errors.Join(errs...)
}

func newBackend(cfg *config.Config, l config.Language, pool *runner.Pool) (*compiler.JVM, error) {
	lang, err := project.ParseLanguage(l.Name)
	if err != nil {
		return nil, err
	}
	var base runner.Runner = runner.Local{}
	if cfg.Runner.Mode == "docker" {
		base = &runner.Container{
			Image:       l.Image,
			CPULimit:    cfg.Runner.CPULimit,
			MemoryLimit: cfg.Runner.MemoryLimit,
		}
	}
	tc := compiler.Toolchain{
		Language:  lang,
		Compiler:  l.Compiler,
		Runtime:   l.Runtime,
		Classpath: l.Classpath,
		Args:      l.Args,
	}
	return compiler.NewJVM(tc, filepath.Clean(l.WorkDir),
		&runner.Pooled{Runner: base, Pool: pool, Grace: poolGrace},
		cfg.Compile.Timeout, cfg.Compile.ExecTimeout)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
