package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/signalnine/perffect/internal/config"
	"github.com/signalnine/perffect/internal/ledger"
	"github.com/signalnine/perffect/internal/report"
	"github.com/spf13/cobra"
)

var (
	flagFormat string
	flagRunID  string
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run-dir]",
		Short: "Summarize saved regressions and a run's statistics",
		Long: "Summarizes saved regressions and a run's statistics. When a ledger DSN is\n" +
			"configured the per-status trial counts recorded there are included as well.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			runDir, err := resolveRunDir(cfg.Results.Dir, args)
			if err != nil {
				return err
			}
			s, err := report.Build(cfg.Results.Dir, runDir)
			if err != nil {
				return err
			}
			if flagRunID != "" {
				s.RunID = flagRunID
			}
			if cfg.Ledger.Enabled() && s.RunID != "" {
				s.Ledger, err = ledgerCounts(cmd.Context(), cfg.Ledger, s.RunID)
				if err != nil {
					newLogger(cfg.Log, os.Stderr).Warn("reading ledger", "run_id", s.RunID, "error", err)
				}
			}
			return report.Write(s, flagFormat, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", "table", "output format (table, markdown, json)")
	cmd.Flags().StringVar(&flagRunID, "run-id", "", "run to look up in the ledger (defaults to the run dir's)")
	return cmd
}

func ledgerCounts(ctx context.Context, cfg config.Ledger, runID string) (map[string]int, error) {
	l, err := ledger.Open(ctx, cfg.DSN, cfg.PingTimeout)
	if err != nil {
		return nil, err
	}
	defer l.Close()
	return l.StatusCounts(ctx, runID)
}

// resolveRunDir picks the named run dir, or the latest run when there is
// one. No run at all yields "" so the report covers regressions only.
func resolveRunDir(resultsDir string, args []string) (string, error) {
	explicit := len(args) > 0
	runDir := filepath.Join(resultsDir, "latest")
	if explicit {
		runDir = args[0]
	}
	resolved, err := filepath.EvalSymlinks(runDir)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	return resolved, nil
}
