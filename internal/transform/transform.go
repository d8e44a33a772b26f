// Package transform rewrites a generated program's entry point so its body
// runs a fixed number of times inside a fault-absorbing guard.
//
// The rewrite is purely textual. The entry point is located by its signature
// line and delimited by counting braces line by line, so braces inside string
// literals or comments in the entry point will confuse it.
package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/signalnine/perffect/internal/project"
)

// ErrMalformedSource is returned when the entry point cannot be located or
// its block never closes.
var ErrMalformedSource = errors.New("malformed source")

// Extract returns the literal text of the entry point, from its signature
// line through the line holding its closing brace.
func Extract(d Dialect, source string) (string, error) {
	lines := strings.Split(source, "\n")
	start := -1
	for i, line := range lines {
		if strings.Contains(line, d.Signature) {
			start = i
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("%w: %s entry point %q not found", ErrMalformedSource, d.Language, d.Signature)
	}

	depth, opened := 0, false
	for i := start; i < len(lines); i++ {
		open := strings.Count(lines[i], "{")
		depth += open - strings.Count(lines[i], "}")
		if open > 0 {
			opened = true
		}
		if opened && depth <= 0 {
			return strings.Join(lines[start:i+1], "\n"), nil
		}
	}
	return "", fmt.Errorf("%w: %s entry point block is not closed", ErrMalformedSource, d.Language)
}

// Wrap rewrites the entry point of source so that its body executes count
// times. Each iteration runs inside a guard that swallows any Throwable.
func Wrap(d Dialect, source string, count int64) (string, error) {
	if count < 1 {
		return "", fmt.Errorf("repeat count must be positive, got %d", count)
	}
	block, err := Extract(d, source)
	if err != nil {
		return "", err
	}
	brace := strings.Index(block, "{")
	header, body := block[:brace+1], block[brace+1:]

	chunks := Chunks(count)
	var b strings.Builder
	b.WriteString(header)
	for level, bound := range chunks {
		b.WriteString("\n    ")
		b.WriteString(d.loop(level, bound))
	}
	b.WriteString("\n        ")
	b.WriteString(d.guardOpen)
	// body still ends with the entry point's closing brace, which now
	// closes the guard.
	b.WriteString(body)
	b.WriteString(d.guardClose)
	for range chunks {
		b.WriteString("\n    }")
	}
	b.WriteString("\n}")

	return strings.Replace(source, block, b.String(), 1), nil
}

// WrapProject returns a copy of p whose entry point file is wrapped to run
// count times. Other files are carried over untouched.
func WrapProject(p *project.Project, count int64) (*project.Project, error) {
	d, err := DialectFor(p.Language)
	if err != nil {
		return nil, err
	}
	out := p.Clone()
	for i, f := range out.Files {
		if !strings.Contains(f.Text, d.Signature) {
			continue
		}
		wrapped, err := Wrap(d, f.Text, count)
		if err != nil {
			return nil, fmt.Errorf("wrapping %s: %w", f.Name, err)
		}
		out.Files[i].Text = wrapped
		return out, nil
	}
	return nil, fmt.Errorf("%w: no %s file declares an entry point", ErrMalformedSource, p.Language)
}
