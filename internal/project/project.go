package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

type Language string

const (
	Java   Language = "java"
	Kotlin Language = "kotlin"
)

// ErrNoPackage is returned when generated code carries no package clause.
var ErrNoPackage = errors.New("no package declaration")

var packageRe = regexp.MustCompile(`(?m)^\s*package\s+([A-Za-z_][\w.]*)\s*;?`)

func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case Java:
		return Java, nil
	case Kotlin:
		return Kotlin, nil
	default:
		return "", fmt.Errorf("unsupported language %q", s)
	}
}

func (l Language) Extension() string {
	switch l {
	case Java:
		return ".java"
	case Kotlin:
		return ".kt"
	default:
		return ""
	}
}

// entrySuffix is the class holding main: Kotlin synthesizes MainKt for a
// top-level main in Main.kt, Java declares Main explicitly.
func (l Language) entrySuffix() string {
	if l == Kotlin {
		return "MainKt"
	}
	return "Main"
}

type File struct {
	Name string
	Text string
}

// Project is a compilable unit. Files are owned by the project; use Clone
// before handing a project to another trial.
type Project struct {
	Files    []File
	Language Language
	Package  string
}

// FromCode builds a single-file project named Main<ext> from generated code.
func FromCode(code string, lang Language) (*Project, error) {
	if lang.Extension() == "" {
		return nil, fmt.Errorf("unsupported language %q", lang)
	}
	m := packageRe.FindStringSubmatch(code)
	if m == nil {
		return nil, fmt.Errorf("%s program: %w", lang, ErrNoPackage)
	}
	return &Project{
		Files:    []File{{Name: "Main" + lang.Extension(), Text: code}},
		Language: lang,
		Package:  m[1],
	}, nil
}

func (p *Project) EntryID() string {
	if p.Package == "" {
		return p.Language.entrySuffix()
	}
	return p.Package + "." + p.Language.entrySuffix()
}

func (p *Project) Clone() *Project {
	files := make([]File, len(p.Files))
	copy(files, p.Files)
	return &Project{Files: files, Language: p.Language, Package: p.Package}
}

// Text joins all file contents in order.
func (p *Project) Text() string {
	parts := make([]string, len(p.Files))
	for i, f := range p.Files {
		parts[i] = f.Text
	}
	return strings.Join(parts, "\n")
}

func (p *Project) String() string {
	var b strings.Builder
	for i, f := range p.Files {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "// FILE: %s\n\n%s", f.Name, f.Text)
	}
	return b.String()
}

// Save writes every file under dir and returns the written paths.
func (p *Project) Save(dir string) ([]string, error) {
	paths := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		path := filepath.Join(dir, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating dir for %s: %w", f.Name, err)
		}
		if err := os.WriteFile(path, []byte(f.Text), 0o644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", f.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Remove deletes the files Save wrote under dir. Missing files are ignored.
func (p *Project) Remove(dir string) error {
	var errs []error
	for _, f := range p.Files {
		path := filepath.Join(dir, filepath.FromSlash(f.Name))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
