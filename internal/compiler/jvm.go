package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/signalnine/perffect/internal/project"
	"github.com/signalnine/perffect/internal/runner"
)

const (
	srcDir = "src"
	outDir = "out"
)

// Toolchain names the commands that build and run one JVM language.
type Toolchain struct {
	Language  project.Language
	Compiler  string
	Runtime   string
	Classpath []string
	Args      []string
}

// JVM is a Backend for any javac-compatible compiler command. Sources go to
// <workDir>/src and classes to <workDir>/out. Commands use paths relative to
// workDir so the same invocation works on the host and in a container.
type JVM struct {
	tc             Toolchain
	workDir        string
	run            runner.Runner
	compileTimeout time.Duration
	execTimeout    time.Duration
}

func NewJVM(tc Toolchain, workDir string, r runner.Runner, compileTimeout, execTimeout time.Duration) (*JVM, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolving work dir: %w", err)
	}
	if tc.Runtime == "" {
		tc.Runtime = "java"
	}
	b := &JVM{
		tc:             tc,
		workDir:        abs,
		run:            r,
		compileTimeout: compileTimeout,
		execTimeout:    execTimeout,
	}
	if err := b.Clean(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *JVM) Language() project.Language { return b.tc.Language }
func (b *JVM) WorkDir() string            { return b.workDir }

// Clean wipes both the source and class directories.
func (b *JVM) Clean() error {
	for _, d := range []string{srcDir, outDir} {
		path := filepath.Join(b.workDir, d)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("cleaning %s: %w", path, err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

func (b *JVM) Compile(ctx context.Context, p *project.Project) (*InvokeStatus, error) {
	if p.Language != b.tc.Language {
		return nil, fmt.Errorf("%s backend cannot compile %s project", b.tc.Language, p.Language)
	}
	if err := os.RemoveAll(filepath.Join(b.workDir, outDir)); err != nil {
		return nil, fmt.Errorf("cleaning output: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(b.workDir, outDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating output: %w", err)
	}
	src := filepath.Join(b.workDir, srcDir)
	if _, err := p.Save(src); err != nil {
		return nil, fmt.Errorf("saving sources: %w", err)
	}
	defer p.Remove(src)

	args := []string{b.tc.Compiler}
	args = append(args, b.tc.Args...)
	if len(b.tc.Classpath) > 0 {
		args = append(args, "-cp", strings.Join(b.tc.Classpath, ":"))
	}
	args = append(args, "-d", outDir)
	for _, f := range p.Files {
		args = append(args, filepath.ToSlash(filepath.Join(srcDir, f.Name)))
	}

	out, err := b.run.Run(ctx, runner.Invocation{
		Args:    args,
		Dir:     b.workDir,
		Timeout: b.compileTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking %s: %w", b.tc.Compiler, err)
	}

	status := &InvokeStatus{
		CombinedOutput: out.Output,
		TimedOut:       out.TimedOut,
		CompileTime:    out.Duration,
	}
	if !out.TimedOut {
		status.Succeeded = out.ExitCode == 0
		status.Crashed = crashed(b.tc.Language, out.ExitCode, out.Output)
		status.Locations = ParseLocations(out.Output)
	}
	return status, nil
}

func (b *JVM) Execute(ctx context.Context, entryID string) (*ExecResult, error) {
	cp := append([]string{outDir}, b.tc.Classpath...)
	out, err := b.run.Run(ctx, runner.Invocation{
		Args:    []string{b.tc.Runtime, "-cp", strings.Join(cp, ":"), entryID},
		Dir:     b.workDir,
		Timeout: b.execTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", entryID, err)
	}
	res := &ExecResult{
		Output:   out.Output,
		Elapsed:  out.Duration,
		ExitCode: out.ExitCode,
		TimedOut: out.TimedOut,
	}
	if out.TimedOut {
		res.Output = TimeoutOutput
	}
	return res, nil
}

// kotlincCrash matches the banner kotlinc prints at the start of a line when
// the compiler itself throws.
var kotlincCrash = regexp.MustCompile(`(?m)^(?:error: )?(?:exception: |internal error)`)

// crashed recognizes a fault inside the compiler itself. javac exits 3 or 4
// on a system error or abnormal termination; kotlinc exits 2 on an internal
// error. Both print a stack trace when they blow up mid-compile.
func crashed(lang project.Language, exitCode int, output string) bool {
	switch lang {
	case project.Java:
		if exitCode >= 3 {
			return true
		}
		return strings.Contains(output, "An exception has occurred in the compiler")
	case project.Kotlin:
		if exitCode == 2 {
			return true
		}
		return kotlincCrash.MatchString(output)
	}
	return false
}
