package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/signalnine/perffect/internal/oracle"
	"github.com/signalnine/perffect/internal/report"
	"github.com/signalnine/perffect/internal/result"
	"github.com/spf13/cobra"
)

var (
	flagMaxTrials int
	flagThreshold float64
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the oracle until interrupted or the trial budget is spent",
		RunE:  runOracle,
	}
	cmd.Flags().IntVar(&flagMaxTrials, "max-trials", 0, "override oracle.max_trials (0 keeps the config value)")
	cmd.Flags().Float64Var(&flagThreshold, "threshold", 0, "override oracle.regression_threshold")
	return cmd
}

func runOracle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if flagMaxTrials > 0 {
		cfg.Oracle.MaxTrials = flagMaxTrials
	}
	if flagThreshold > 0 {
		cfg.Oracle.RegressionThreshold = flagThreshold
	}

	runID := uuid.NewString()
	logger := newLogger(cfg.Log, os.Stderr).With("run_id", runID)

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	fmt.Printf("Run directory: %s\n", runDir)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHarness(ctx, cfg, harnessOpts{runID: runID, logger: logger, logDir: runDir, withSink: true})
	if err != nil {
		return err
	}
	defer h.Close()

	loop := &oracle.Loop{
		Runner:    h.trials,
		Stats:     h.stats,
		MaxTrials: cfg.Oracle.MaxTrials,
		RunDir:    runDir,
		Recorder:  h.recorder(),
		Logger:    logger,
	}
	defer func() {
		snaps, err := loop.Shutdown()
		if err != nil {
			logger.Error("writing statistics", "error", err)
		}
		fmt.Println("\n--- Statistics ---")
		report.StatsTable(report.SortedSnapshots(snaps), os.Stdout)
	}()

	logger.Info("starting oracle",
		"reference", cfg.Languages.Reference.Name,
		"candidate", cfg.Languages.Candidate.Name,
		"threshold", cfg.Oracle.RegressionThreshold,
		"results_dir", cfg.Results.Dir)
	return loop.Run(ctx)
}
