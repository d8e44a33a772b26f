package cmd

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/perffect/internal/config"
	"github.com/signalnine/perffect/internal/oracle"
	"github.com/signalnine/perffect/internal/result"
	"github.com/signalnine/perffect/internal/runner"
)

func TestResolveRunDir(t *testing.T) {
	base := t.TempDir()

	got, err := resolveRunDir(base, nil)
	if err != nil || got != "" {
		t.Errorf("no runs: got %q, %v; want empty", got, err)
	}

	run := filepath.Join(base, "runs", "r1")
	if err := os.MkdirAll(run, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(run, filepath.Join(base, "latest")); err != nil {
		t.Fatal(err)
	}
	got, err = resolveRunDir(base, nil)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	want, _ := filepath.EvalSymlinks(run)
	if got != want {
		t.Errorf("latest: got %q, want %q", got, want)
	}

	if _, err := resolveRunDir(base, []string{filepath.Join(base, "missing")}); err == nil {
		t.Error("expected error for an explicit missing run dir")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.Log
		debug   bool
		jsonOut bool
	}{
		{"default text info", config.Log{}, false, false},
		{"debug", config.Log{Level: "debug"}, true, false},
		{"json", config.Log{Level: "info", Format: "json"}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := newLogger(tt.cfg, &buf)
			if got := log.Enabled(t.Context(), slog.LevelDebug); got != tt.debug {
				t.Errorf("debug enabled: got %v, want %v", got, tt.debug)
			}
			log.Info("hello", "k", "v")
			if got := strings.HasPrefix(buf.String(), "{"); got != tt.jsonOut {
				t.Errorf("json output: got %q", buf.String())
			}
		})
	}
}

func TestNewBackend(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Languages.Candidate.WorkDir = t.TempDir()

	b, err := newBackend(cfg, cfg.Languages.Candidate, runner.NewPool(1))
	if err != nil {
		t.Fatalf("newBackend: %v", err)
	}
	if b.Language() != "kotlin" {
		t.Errorf("language: got %q", b.Language())
	}
	if b.WorkDir() != cfg.Languages.Candidate.WorkDir {
		t.Errorf("work dir: got %q, want %q", b.WorkDir(), cfg.Languages.Candidate.WorkDir)
	}

	cfg.Languages.Candidate.Name = "scala"
	if _, err := newBackend(cfg, cfg.Languages.Candidate, runner.NewPool(1)); err == nil {
		t.Error("expected error for unsupported language")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "b", "c"); got != "b" {
		t.Errorf("got %q, want b", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestWriteRounds(t *testing.T) {
	reports := []*oracle.Report{
		{
			Status:      result.StatusPassed,
			RepeatCount: 1000,
			Ratio:       1.25,
			Reference:   oracle.Side{Elapsed: 800 * time.Millisecond},
			Candidate:   oracle.Side{Elapsed: time.Second},
		},
		{Status: result.StatusFailed, Err: errors.New("kotlin crashed")},
	}
	var buf bytes.Buffer
	writeRounds(&buf, reports, 2)
	out := buf.String()
	for _, want := range []string{"ROUND", "800.0ms", "1000.0ms", "1.25", "kotlin crashed", "Cached programs: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestLedgerCountsUnreachable(t *testing.T) {
	cfg := config.Ledger{DSN: "postgres://perffect@127.0.0.1:1/perffect?sslmode=disable", PingTimeout: 500 * time.Millisecond}
	if _, err := ledgerCounts(t.Context(), cfg, "run-1"); err == nil {
		t.Error("expected error for an unreachable ledger")
	}
}
