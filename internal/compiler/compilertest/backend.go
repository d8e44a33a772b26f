// Package compilertest provides a scripted compiler.Backend for tests.
package compilertest

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"sync"

	"github.com/signalnine/perffect/internal/compiler"
	"github.com/signalnine/perffect/internal/project"
)

// Backend compiles nothing. CompileFunc and ExecFunc decide what each call
// reports; a nil CompileFunc succeeds and a nil ExecFunc runs in 1ms.
type Backend struct {
	Lang        project.Language
	Dir         string
	CompileFunc func(p *project.Project) *compiler.InvokeStatus
	ExecFunc    func(p *project.Project) *compiler.ExecResult

	mu       sync.Mutex
	last     *project.Project
	compiled []*project.Project
	executed []string
	cleans   int
}

func (b *Backend) Language() project.Language { return b.Lang }
func (b *Backend) WorkDir() string            { return b.Dir }

func (b *Backend) Compile(_ context.Context, p *project.Project) (*compiler.InvokeStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compiled = append(b.compiled, p.Clone())
	status := &compiler.InvokeStatus{Succeeded: true}
	if b.CompileFunc != nil {
		status = b.CompileFunc(p)
	}
	if compiler.Classify(status) == compiler.OK {
		b.last = p.Clone()
	} else {
		b.last = nil
	}
	return status, nil
}

func (b *Backend) Execute(_ context.Context, entryID string) (*compiler.ExecResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return nil, errors.New("nothing compiled")
	}
	b.executed = append(b.executed, entryID)
	if b.ExecFunc != nil {
		return b.ExecFunc(b.last), nil
	}
	return &compiler.ExecResult{Elapsed: 1e6}, nil
}

func (b *Backend) Clean() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleans++
	b.last = nil
	return nil
}

// Compiled returns every project passed to Compile, in order.
func (b *Backend) Compiled() []*project.Project {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*project.Project(nil), b.compiled...)
}

// Executed returns the entry ids passed to Execute.
func (b *Backend) Executed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.executed...)
}

func (b *Backend) Cleans() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cleans
}

var boundRe = regexp.MustCompile(`<= (\d+);|repeat\((\d+)\)`)

// Iterations multiplies the loop bounds a wrapped project would run. An
// unwrapped project runs once.
func Iterations(p *project.Project) int64 {
	n := int64(1)
	for _, m := range boundRe.FindAllStringSubmatch(p.Text(), -1) {
		s := m[1]
		if s == "" {
			s = m[2]
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		n *= v
	}
	return n
}
