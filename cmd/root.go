package cmd

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/signalnine/perffect/internal/config"
	"github.com/spf13/cobra"
)

const defaultConfig = "perffect.yaml"

var (
	cfgFile      string
	flagLogLevel string
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "perffect",
		Short: "Differential performance oracle for JVM compilers",
		Long: "Generates equivalent Java and Kotlin programs from a seed, calibrates how often each must\n" +
			"repeat to run for a measurable time, and records seeds whose candidate runs slower than\n" +
			"the reference by more than the regression threshold.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", defaultConfig, "config file path")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	root.AddCommand(newRunCmd())
	root.AddCommand(newRerunCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newReportCmd())
	return root
}

// loadConfig reads --config. A missing default file falls back to the
// built-in defaults; an explicitly named file must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		cfg, err = config.Load("")
	}
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	return cfg, nil
}

func newLogger(c config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
