package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/signalnine/perffect/internal/oracle"
	"github.com/signalnine/perffect/internal/report"
	"github.com/spf13/cobra"
)

var flagRounds int

func newRerunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rerun <seed>",
		Short: "Reproduce one seed for several rounds",
		Long: "Runs full trials for a single seed. The generated programs are fetched once and\n" +
			"reused from the cache, so every round measures the same pair of programs.",
		Args: cobra.ExactArgs(1),
		RunE: rerunSeed,
	}
	cmd.Flags().IntVar(&flagRounds, "rounds", 3, "number of trials to run")
	return cmd
}

func rerunSeed(cmd *cobra.Command, args []string) error {
	seed, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid seed %q: %w", args[0], err)
	}
	if flagRounds < 1 {
		return fmt.Errorf("--rounds must be at least 1")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := newHarness(ctx, cfg, harnessOpts{logger: logger})
	if err != nil {
		return err
	}
	defer h.Close()

	reports := make([]*oracle.Report, 0, flagRounds)
	for i := 0; i < flagRounds && ctx.Err() == nil; i++ {
		reports = append(reports, h.trials.Run(ctx, seed))
	}
	writeRounds(os.Stdout, reports, h.client.Cached())

	fmt.Println()
	return report.StatsTable(report.SortedSnapshots(h.stats.Finalize()), os.Stdout)
}

// writeRounds prints one row per round followed by how many generated
// programs the client cache held, which is two when every round reused the
// first round's pair.
func writeRounds(w io.Writer, reports []*oracle.Report, cached int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tSTATUS\tREPEAT\tREFERENCE\tCANDIDATE\tRATIO\tERROR")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for i, r := range reports {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.1fms\t%.1fms\t%.2f\t%s\n",
			i+1, r.Status, r.RepeatCount,
			float64(r.Reference.Elapsed.Microseconds())/1000,
			float64(r.Candidate.Elapsed.Microseconds())/1000,
			r.Ratio, errText)
	}
	tw.Flush()
	fmt.Fprintf(w, "Cached programs: %d\n", cached)
}
