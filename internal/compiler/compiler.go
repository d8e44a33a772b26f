// Package compiler drives the reference and candidate toolchains. Each
// language gets one Backend; the oracle never branches on which concrete
// toolchain sits behind it.
package compiler

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/signalnine/perffect/internal/project"
)

// Outcome classifies a compile attempt.
type Outcome int

const (
	OK Outcome = iota
	Error
	Bug
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "OK"
	case Error:
		return "ERROR"
	case Bug:
		return "BUG"
	default:
		return "UNKNOWN"
	}
}

// Location points at a diagnostic reported by the compiler.
type Location struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// InvokeStatus is the raw result of one compile attempt.
type InvokeStatus struct {
	CombinedOutput string
	Succeeded      bool
	Crashed        bool
	TimedOut       bool
	CompileTime    time.Duration
	Locations      []Location
}

// Classify maps a compile attempt to its outcome. A compiler crash wins over
// everything else; diagnostics and timeouts are ordinary errors.
func Classify(s *InvokeStatus) Outcome {
	switch {
	case s == nil:
		return Error
	case s.Crashed:
		return Bug
	case !s.Succeeded || s.TimedOut:
		return Error
	default:
		return OK
	}
}

// TimeoutOutput replaces the output of an execution killed at its deadline.
const TimeoutOutput = "Exception timeout"

// ExecResult is one run of a compiled artifact.
type ExecResult struct {
	Output   string
	Elapsed  time.Duration
	ExitCode int
	TimedOut bool
}

// Faulted reports whether the run threw, hung, or exited abnormally.
func (r *ExecResult) Faulted() bool {
	return r.TimedOut || r.ExitCode != 0 || strings.Contains(r.Output, "Exception")
}

// Backend compiles projects of one language and runs what it compiled.
// Compile and Execute share a working directory, so calls on one Backend
// must not overlap.
type Backend interface {
	Language() project.Language
	Compile(ctx context.Context, p *project.Project) (*InvokeStatus, error)
	Execute(ctx context.Context, entryID string) (*ExecResult, error)
	Clean() error
	WorkDir() string
}

var locationRe = regexp.MustCompile(`(?m)^(?:e: )?(?:file://)?(\S+?\.(?:java|kt)):(\d+)(?::(\d+))?: error: (.*)$`)

// ParseLocations extracts error diagnostics in the javac
// (file:line: error: msg) and kotlinc (file:line:col: error: msg) formats.
func ParseLocations(output string) []Location {
	var locs []Location
	for _, m := range locationRe.FindAllStringSubmatch(output, -1) {
		line, _ := strconv.Atoi(m[2])
		col, _ := strconv.Atoi(m[3])
		locs = append(locs, Location{
			File:    m[1],
			Line:    line,
			Column:  col,
			Message: strings.TrimSpace(m[4]),
		})
	}
	return locs
}
