// Package stats keeps running per-language sums across an oracle run and
// turns them into averages once, at shutdown.
package stats

import (
	"sync"
	"time"

	"github.com/signalnine/perffect/internal/compiler"
	"github.com/signalnine/perffect/internal/project"
)

// Snapshot is the finalized record for one language.
type Snapshot struct {
	Language            string  `json:"language"`
	TotalPrograms       int64   `json:"total_programs"`
	CorrectPrograms     int64   `json:"correct_programs"`
	PercentIncorrect    float64 `json:"percent_incorrect"`
	AvgGenerationTimeMs float64 `json:"avg_generation_time_ms"`
	AvgCompileTimeMs    float64 `json:"avg_compile_time_ms"`
	AvgExecutionTimeMs  float64 `json:"avg_execution_time_ms"`
}

type sums struct {
	total, correct int64
	generation     time.Duration
	compile        time.Duration
	executionMs    float64
}

// Aggregator accumulates sums until Finalize. Mutations after Finalize are
// dropped.
type Aggregator struct {
	mu        sync.Mutex
	order     []project.Language
	sums      map[project.Language]*sums
	finalized map[string]Snapshot
}

func New(langs ...project.Language) *Aggregator {
	a := &Aggregator{sums: make(map[project.Language]*sums)}
	for _, l := range langs {
		a.get(l)
	}
	return a
}

func (a *Aggregator) get(l project.Language) *sums {
	s, ok := a.sums[l]
	if !ok {
		s = &sums{}
		a.sums[l] = s
		a.order = append(a.order, l)
	}
	return s
}

// AddGeneration counts a successfully generated program.
func (a *Aggregator) AddGeneration(l project.Language, d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized != nil {
		return
	}
	s := a.get(l)
	s.total++
	s.generation += d
}

// AddCompile counts a program as correct when it compiled OK. Other
// outcomes leave the sums alone.
func (a *Aggregator) AddCompile(l project.Language, o compiler.Outcome, d time.Duration) {
	if o != compiler.OK {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized != nil {
		return
	}
	s := a.get(l)
	s.correct++
	s.compile += d
}

func (a *Aggregator) AddExecution(l project.Language, ms float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized != nil {
		return
	}
	a.get(l).executionMs += ms
}

// Finalize normalizes the sums. Only the first call computes; later calls
// return the same snapshots.
func (a *Aggregator) Finalize() map[string]Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized != nil {
		return a.finalized
	}
	a.finalized = make(map[string]Snapshot, len(a.sums))
	for _, l := range a.order {
		s := a.sums[l]
		total := float64(max(s.total, 1))
		correct := float64(max(s.correct, 1))
		a.finalized[string(l)] = Snapshot{
			Language:            string(l),
			TotalPrograms:       s.total,
			CorrectPrograms:     s.correct,
			PercentIncorrect:    float64(s.total-s.correct) / total,
			AvgGenerationTimeMs: ms(s.generation) / total,
			AvgCompileTimeMs:    ms(s.compile) / correct,
			AvgExecutionTimeMs:  s.executionMs / correct,
		}
	}
	return a.finalized
}

// Languages lists the tracked languages in first-seen order.
func (a *Aggregator) Languages() []project.Language {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]project.Language(nil), a.order...)
}

// Counts returns the running total and correct counts for l.
func (a *Aggregator) Counts(l project.Language) (total, correct int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sums[l]; ok {
		return s.total, s.correct
	}
	return 0, 0
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
