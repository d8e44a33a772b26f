package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/signalnine/perffect/internal/result"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved regressions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			regs, err := result.ListRegressions(cfg.Results.Dir)
			if err != nil {
				return err
			}
			if len(regs) == 0 {
				fmt.Printf("No regressions under %s\n", cfg.Results.Dir)
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEED\tRATIO\tREPEAT\tREFERENCE\tCANDIDATE\tFOUND")
			fmt.Fprintln(tw, strings.Repeat("-", 80))
			for _, r := range regs {
				fmt.Fprintf(tw, "%d\t%.2f\t%d\t%.1fms\t%.1fms\t%s\n",
					r.Seed, r.Ratio, r.RepeatCount,
					r.Reference.WallTimeMs, r.Candidate.WallTimeMs,
					r.FoundAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}
