package oracle

import (
	"errors"

	"github.com/signalnine/perffect/internal/result"
)

var (
	ErrGenerationTimeout = errors.New("generation timeout")
	ErrEmptyProgram      = errors.New("empty program")
	ErrCompile           = errors.New("compile error")
	ErrCompilerCrash     = errors.New("compiler crash")
	ErrRuntimeFault      = errors.New("runtime fault")
)

// statusFor maps a trial error to the status it is recorded under. The
// expected ways for a random program to be unusable are skips; anything
// else means the oracle itself had a problem.
func statusFor(err error) string {
	switch {
	case err == nil:
		return result.StatusPassed
	case errors.Is(err, ErrGenerationTimeout),
		errors.Is(err, ErrEmptyProgram),
		errors.Is(err, ErrCompile),
		errors.Is(err, ErrCompilerCrash),
		errors.Is(err, ErrRuntimeFault):
		return result.StatusSkipped
	default:
		return result.StatusFailed
	}
}
