package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/signalnine/perffect/internal/result"
	"github.com/signalnine/perffect/internal/stats"
)

type RegressionSummary struct {
	Count           int     `json:"count"`
	MeanRatio       float64 `json:"mean_ratio"`
	MaxRatio        float64 `json:"max_ratio"`
	MaxRatioSeed    int64   `json:"max_ratio_seed"`
	MeanRepeatCount float64 `json:"mean_repeat_count"`
}

type Summary struct {
	Regressions RegressionSummary `json:"regressions"`
	RunID       string            `json:"run_id,omitempty"`
	Stats       []stats.Snapshot  `json:"stats,omitempty"`
	Trials      map[string]int    `json:"trials,omitempty"`
	// Ledger holds per-status counts from the trial ledger, when one is
	// configured. It can be ahead of Trials for a run that is still going.
	Ledger map[string]int `json:"ledger,omitempty"`
}

// Build summarizes the regressions saved under resultsDir and, when runDir
// is set, that run's statistics snapshots and trial log.
func Build(resultsDir, runDir string) (*Summary, error) {
	regs, err := result.ListRegressions(resultsDir)
	if err != nil {
		return nil, err
	}
	s := &Summary{Regressions: summarize(regs)}
	if runDir == "" {
		return s, nil
	}
	if s.Stats, err = result.ReadStats(runDir); err != nil {
		return nil, err
	}
	trials, err := result.ReadTrials(runDir)
	if err != nil {
		return nil, err
	}
	if len(trials) > 0 {
		s.Trials = make(map[string]int)
		for _, t := range trials {
			s.Trials[t.Status]++
			if s.RunID == "" {
				s.RunID = t.RunID
			}
		}
	}
	return s, nil
}

// Generate writes the Build summary in the given format.
func Generate(resultsDir, runDir, format string, w io.Writer) error {
	s, err := Build(resultsDir, runDir)
	if err != nil {
		return err
	}
	return Write(s, format, w)
}

// Write renders s as table (default), markdown or json.
func Write(s *Summary, format string, w io.Writer) error {
	switch format {
	case "markdown":
		return writeMarkdown(s, w)
	case "json":
		return writeJSON(s, w)
	default:
		return writeTable(s, w)
	}
}

func summarize(regs []*result.Regression) RegressionSummary {
	var s RegressionSummary
	var ratios, repeats float64
	for _, r := range regs {
		s.Count++
		ratios += r.Ratio
		repeats += float64(r.RepeatCount)
		if r.Ratio > s.MaxRatio {
			s.MaxRatio = r.Ratio
			s.MaxRatioSeed = r.Seed
		}
	}
	if s.Count > 0 {
		s.MeanRatio = ratios / float64(s.Count)
		s.MeanRepeatCount = repeats / float64(s.Count)
	}
	return s
}

// StatsTable prints one row per language snapshot.
func StatsTable(snaps []stats.Snapshot, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LANGUAGE\tPROGRAMS\tCORRECT\tINCORRECT\tAVG GEN\tAVG COMPILE\tAVG EXEC")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%.0fms\t%.0fms\t%.1fms\n",
			s.Language, s.TotalPrograms, s.CorrectPrograms, s.PercentIncorrect*100,
			s.AvgGenerationTimeMs, s.AvgCompileTimeMs, s.AvgExecutionTimeMs)
	}
	return tw.Flush()
}

// SortedSnapshots orders a Finalize result by language.
func SortedSnapshots(m map[string]stats.Snapshot) []stats.Snapshot {
	out := make([]stats.Snapshot, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out
}

func statuses(counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeTable(s *Summary, w io.Writer) error {
	r := s.Regressions
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REGRESSIONS\tMEAN RATIO\tMAX RATIO\tMAX SEED\tMEAN REPEAT")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	fmt.Fprintf(tw, "%d\t%.2f\t%.2f\t%d\t%.0f\n", r.Count, r.MeanRatio, r.MaxRatio, r.MaxRatioSeed, r.MeanRepeatCount)
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(s.Stats) > 0 {
		fmt.Fprintln(w)
		if err := StatsTable(s.Stats, w); err != nil {
			return err
		}
	}
	if err := countsTable(w, "TRIALS", s.Trials); err != nil {
		return err
	}
	return countsTable(w, "LEDGER", s.Ledger)
}

func countsTable(w io.Writer, column string, counts map[string]int) error {
	if len(counts) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "STATUS\t%s\n", column)
	for _, k := range statuses(counts) {
		fmt.Fprintf(tw, "%s\t%d\n", k, counts[k])
	}
	return tw.Flush()
}

func writeMarkdown(s *Summary, w io.Writer) error {
	r := s.Regressions
	fmt.Fprintln(w, "| Regressions | Mean Ratio | Max Ratio | Max Seed | Mean Repeat |")
	fmt.Fprintln(w, "|---|---|---|---|---|")
	fmt.Fprintf(w, "| %d | %.2f | %.2f | %d | %.0f |\n", r.Count, r.MeanRatio, r.MaxRatio, r.MaxRatioSeed, r.MeanRepeatCount)
	if len(s.Stats) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Language | Programs | Correct | Incorrect | Avg Gen | Avg Compile | Avg Exec |")
		fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
		for _, st := range s.Stats {
			fmt.Fprintf(w, "| %s | %d | %d | %.1f%% | %.0fms | %.0fms | %.1fms |\n",
				st.Language, st.TotalPrograms, st.CorrectPrograms, st.PercentIncorrect*100,
				st.AvgGenerationTimeMs, st.AvgCompileTimeMs, st.AvgExecutionTimeMs)
		}
	}
	countsMarkdown(w, "Trials", s.Trials)
	countsMarkdown(w, "Ledger", s.Ledger)
	return nil
}

func countsMarkdown(w io.Writer, column string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "| Status | %s |\n", column)
	fmt.Fprintln(w, "|---|---|")
	for _, k := range statuses(counts) {
		fmt.Fprintf(w, "| %s | %d |\n", k, counts[k])
	}
}

func writeJSON(s *Summary, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
