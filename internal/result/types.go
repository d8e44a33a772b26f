package result

import "time"

// Execution is one language's side of a measured trial.
type Execution struct {
	Language      string   `json:"language"`
	EntryID       string   `json:"entry_id"`
	Files         []string `json:"files"`
	WallTimeMs    float64  `json:"wall_time_ms"`
	CompileTimeMs int64    `json:"compile_time_ms"`
	Calibrated    int64    `json:"calibrated_count"`
}

// Regression is the metadata persisted next to the sources of a trial whose
// candidate ran slower than the threshold allows.
type Regression struct {
	Seed        int64     `json:"seed"`
	RepeatCount int64     `json:"repeat_count"`
	Ratio       float64   `json:"ratio"`
	Threshold   float64   `json:"threshold"`
	RunID       string    `json:"run_id,omitempty"`
	FoundAt     time.Time `json:"found_at"`
	Reference   Execution `json:"reference"`
	Candidate   Execution `json:"candidate"`
}

// Trial statuses.
const (
	StatusPassed     = "passed"
	StatusRegression = "regression"
	StatusSkipped    = "skipped"
	StatusFailed     = "failed"
)

// TrialRecord is the one-line summary of a trial, whatever its outcome.
type TrialRecord struct {
	RunID       string    `json:"run_id,omitempty"`
	Seed        int64     `json:"seed"`
	Status      string    `json:"status"`
	Phase       string    `json:"phase,omitempty"`
	Error       string    `json:"error,omitempty"`
	RepeatCount int64     `json:"repeat_count,omitempty"`
	ReferenceMs float64   `json:"reference_ms,omitempty"`
	CandidateMs float64   `json:"candidate_ms,omitempty"`
	Ratio       float64   `json:"ratio,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	StartedAt   time.Time `json:"started_at"`
}
