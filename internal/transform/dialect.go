package transform

import (
	"fmt"

	"github.com/signalnine/perffect/internal/project"
)

// Dialect describes how one language spells its entry point and the
// constructs the wrapper needs.
type Dialect struct {
	Language project.Language
	// Signature identifies the entry point line.
	Signature string

	loop       func(level int, bound int64) string
	guardOpen  string
	guardClose string
}

var (
	// Java nests one counted for loop per repeat factor.
	Java = Dialect{
		Language:  project.Java,
		Signature: "static public final void main(String[] args)",
		loop: func(level int, bound int64) string {
			v := fmt.Sprintf("javaIterationVariable_%d", level)
			return fmt.Sprintf("for (int %s = 1; %s <= %d; %s++) {", v, v, bound, v)
		},
		guardOpen:  "try {",
		guardClose: " catch(Throwable t) {}",
	}

	// Kotlin nests repeat blocks.
	Kotlin = Dialect{
		Language:  project.Kotlin,
		Signature: "fun main(args: Array<out String>)",
		loop: func(_ int, bound int64) string {
			return fmt.Sprintf("repeat(%d) {", bound)
		},
		guardOpen:  "try {",
		guardClose: " catch(t: Throwable) {}",
	}
)

// DialectFor returns the dialect for lang, or an error for a language the
// wrapper cannot rewrite.
func DialectFor(lang project.Language) (Dialect, error) {
	switch lang {
	case project.Java:
		return Java, nil
	case project.Kotlin:
		return Kotlin, nil
	default:
		return Dialect{}, fmt.Errorf("no transform dialect for language %q", lang)
	}
}
