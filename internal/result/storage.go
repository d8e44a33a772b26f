package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/signalnine/perffect/internal/project"
	"github.com/signalnine/perffect/internal/stats"
)

const (
	metaFile   = "meta.json"
	trialsFile = "trials.jsonl"
)

func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// RegressionDir is where the record for seed lives under root.
func RegressionDir(root string, seed int64) string {
	return filepath.Join(root, "regressions", strconv.FormatInt(seed, 10))
}

// SaveRegression writes both projects' sources and meta.json into the seed's
// directory and returns it. The file lists in reg are filled from the
// projects.
func SaveRegression(root string, reg *Regression, reference, candidate *project.Project) (string, error) {
	dir := RegressionDir(root, reg.Seed)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating regression dir: %w", err)
	}
	for _, side := range []struct {
		exec *Execution
		p    *project.Project
	}{{&reg.Reference, reference}, {&reg.Candidate, candidate}} {
		paths, err := side.p.Save(dir)
		if err != nil {
			return "", fmt.Errorf("saving %s sources: %w", side.p.Language, err)
		}
		side.exec.Files = side.exec.Files[:0]
		for _, p := range paths {
			rel, _ := filepath.Rel(dir, p)
			side.exec.Files = append(side.exec.Files, filepath.ToSlash(rel))
		}
	}
	if err := writeJSON(filepath.Join(dir, metaFile), reg); err != nil {
		return "", fmt.Errorf("writing regression meta: %w", err)
	}
	return dir, nil
}

func ReadRegression(dir string) (*Regression, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return nil, fmt.Errorf("reading meta: %w", err)
	}
	var reg Regression
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing meta: %w", err)
	}
	return &reg, nil
}

// ListRegressions reads every record under root, ordered by seed. A missing
// regressions directory yields no records.
func ListRegressions(root string) ([]*Regression, error) {
	matches, err := filepath.Glob(filepath.Join(root, "regressions", "*", metaFile))
	if err != nil {
		return nil, err
	}
	regs := make([]*Regression, 0, len(matches))
	for _, m := range matches {
		reg, err := ReadRegression(filepath.Dir(m))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Dir(m), err)
		}
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Seed < regs[j].Seed })
	return regs, nil
}

// WriteStats writes one language's snapshot to <runDir>/stats/<lang>.json.
func WriteStats(runDir, lang string, snap stats.Snapshot) error {
	dir := filepath.Join(runDir, "stats")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating stats dir: %w", err)
	}
	return writeJSON(filepath.Join(dir, lang+".json"), snap)
}

// ReadStats loads every snapshot written under runDir, ordered by language.
func ReadStats(runDir string) ([]stats.Snapshot, error) {
	matches, err := filepath.Glob(filepath.Join(runDir, "stats", "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	var snaps []stats.Snapshot
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("reading stats: %w", err)
		}
		var s stats.Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(m), err)
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

// AppendTrial adds rec as one JSON line to the run's trial log.
func AppendTrial(runDir string, rec *TrialRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling trial: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(runDir, trialsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening trial log: %w", err)
	}
	_, werr := f.Write(append(data, '\n'))
	return errors.Join(werr, f.Close())
}

// ReadTrials returns the run's trial log. Lines that do not parse are
// skipped.
func ReadTrials(runDir string) ([]TrialRecord, error) {
	data, err := os.ReadFile(filepath.Join(runDir, trialsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading trial log: %w", err)
	}
	var recs []TrialRecord
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var rec TrialRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}
