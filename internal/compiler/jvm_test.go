package compiler_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalnine/perffect/internal/compiler"
	"github.com/signalnine/perffect/internal/project"
	"github.com/signalnine/perffect/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner records invocations and answers with a fixed outcome. It
// also snapshots the sources visible at compile time.
type scriptedRunner struct {
	outcome *runner.Outcome
	calls   []runner.Invocation
	seen    map[string]string
}

func (s *scriptedRunner) Run(_ context.Context, inv runner.Invocation) (*runner.Outcome, error) {
	s.calls = append(s.calls, inv)
	s.seen = map[string]string{}
	filepath.WalkDir(filepath.Join(inv.Dir, "src"), func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			data, _ := os.ReadFile(path)
			s.seen[filepath.Base(path)] = string(data)
		}
		return nil
	})
	o := *s.outcome
	return &o, nil
}

const javaSource = `package demo;

public class Main {
    static public final void main(String[] args) {
        System.out.println(1);
    }
}`

func newJava(t *testing.T, r runner.Runner) *compiler.JVM {
	t.Helper()
	b, err := compiler.NewJVM(compiler.Toolchain{
		Language:  project.Java,
		Compiler:  "javac",
		Classpath: []string{"/opt/lib/a.jar"},
		Args:      []string{"-nowarn"},
	}, t.TempDir(), r, 10*time.Second, 30*time.Second)
	require.NoError(t, err)
	return b
}

func TestJVMCompileInvocation(t *testing.T) {
	r := &scriptedRunner{outcome: &runner.Outcome{Duration: 250 * time.Millisecond}}
	b := newJava(t, r)
	p, err := project.FromCode(javaSource, project.Java)
	require.NoError(t, err)

	status, err := b.Compile(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, compiler.OK, compiler.Classify(status))
	assert.Equal(t, 250*time.Millisecond, status.CompileTime)

	require.Len(t, r.calls, 1)
	inv := r.calls[0]
	assert.Equal(t, []string{"javac", "-nowarn", "-cp", "/opt/lib/a.jar", "-d", "out", "src/Main.java"}, inv.Args)
	assert.Equal(t, b.WorkDir(), inv.Dir)
	assert.Equal(t, 10*time.Second, inv.Timeout)
	assert.Equal(t, javaSource, r.seen["Main.java"])

	_, err = os.Stat(filepath.Join(b.WorkDir(), "src", "Main.java"))
	assert.True(t, os.IsNotExist(err), "sources are removed after compiling")
}

func TestJVMCompileStatuses(t *testing.T) {
	tests := []struct {
		name    string
		lang    project.Language
		outcome runner.Outcome
		want    compiler.Outcome
		locs    int
	}{
		{"javac error", project.Java, runner.Outcome{ExitCode: 1, Output: "src/Main.java:3: error: ';' expected\n1 error"}, compiler.Error, 1},
		{"javac abnormal", project.Java, runner.Outcome{ExitCode: 4, Output: "An exception has occurred in the compiler (17)"}, compiler.Bug, 0},
		{"javac timeout", project.Java, runner.Outcome{ExitCode: 124, TimedOut: true}, compiler.Error, 0},
		{"kotlinc error", project.Kotlin, runner.Outcome{ExitCode: 1, Output: "src/Main.kt:2:1: error: unresolved reference: x"}, compiler.Error, 1},
		{"kotlinc internal", project.Kotlin, runner.Outcome{ExitCode: 2, Output: "exception: java.lang.IllegalStateException"}, compiler.Bug, 0},
		{"kotlinc exception banner", project.Kotlin, runner.Outcome{ExitCode: 1, Output: "warning: unused variable\nexception: java.lang.IllegalStateException: Backend Internal error"}, compiler.Bug, 0},
		{"kotlinc diagnostic naming an exception", project.Kotlin, runner.Outcome{ExitCode: 1, Output: "src/Main.kt:3:11: error: type mismatch: inferred type is IllegalStateException: but Unit was expected"}, compiler.Error, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scriptedRunner{outcome: &tt.outcome}
			b, err := compiler.NewJVM(compiler.Toolchain{Language: tt.lang, Compiler: "c"}, t.TempDir(), r, time.Second, time.Second)
			require.NoError(t, err)
			code := "package demo;\nfun main(args: Array<out String>) {}"
			p, err := project.FromCode(code, tt.lang)
			require.NoError(t, err)

			status, err := b.Compile(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, compiler.Classify(status))
			assert.Len(t, status.Locations, tt.locs)
		})
	}
}

func TestJVMCompileRejectsOtherLanguage(t *testing.T) {
	b := newJava(t, &scriptedRunner{outcome: &runner.Outcome{}})
	p, err := project.FromCode("package demo\nfun main(args: Array<out String>) {}", project.Kotlin)
	require.NoError(t, err)
	_, err = b.Compile(context.Background(), p)
	assert.Error(t, err)
}

func TestJVMExecute(t *testing.T) {
	r := &scriptedRunner{outcome: &runner.Outcome{Output: "1\n", Duration: 1200 * time.Millisecond}}
	b := newJava(t, r)

	res, err := b.Execute(context.Background(), "demo.Main")
	require.NoError(t, err)
	assert.False(t, res.Faulted())
	assert.Equal(t, 1200*time.Millisecond, res.Elapsed)
	assert.Equal(t, []string{"java", "-cp", "out:/opt/lib/a.jar", "demo.Main"}, r.calls[0].Args)
	assert.Equal(t, 30*time.Second, r.calls[0].Timeout)
}

func TestJVMExecuteTimeout(t *testing.T) {
	r := &scriptedRunner{outcome: &runner.Outcome{Output: "partial", TimedOut: true, ExitCode: 124}}
	b := newJava(t, r)

	res, err := b.Execute(context.Background(), "demo.Main")
	require.NoError(t, err)
	assert.True(t, res.Faulted())
	assert.Equal(t, compiler.TimeoutOutput, res.Output)
}

func TestJVMClean(t *testing.T) {
	b := newJava(t, &scriptedRunner{outcome: &runner.Outcome{}})
	stale := filepath.Join(b.WorkDir(), "out", "demo", "Main.class")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0o755))
	require.NoError(t, os.WriteFile(stale, []byte{0xca, 0xfe}, 0o644))

	require.NoError(t, b.Clean())
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	for _, d := range []string{"src", "out"} {
		info, err := os.Stat(filepath.Join(b.WorkDir(), d))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestJVMRealJavac(t *testing.T) {
	if _, err := exec.LookPath("javac"); err != nil {
		t.Skip("javac not installed")
	}
	b, err := compiler.NewJVM(compiler.Toolchain{Language: project.Java, Compiler: "javac"},
		t.TempDir(), runner.Local{}, time.Minute, time.Minute)
	require.NoError(t, err)
	p, err := project.FromCode(strings.Replace(javaSource, "public class", "class", 1), project.Java)
	require.NoError(t, err)

	status, err := b.Compile(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, compiler.OK, compiler.Classify(status), status.CombinedOutput)

	res, err := b.Execute(context.Background(), p.EntryID())
	require.NoError(t, err)
	assert.False(t, res.Faulted(), res.Output)
	assert.Equal(t, "1", strings.TrimSpace(res.Output))
}
