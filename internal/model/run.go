package model

import "time"

// RunMode selects which stages a pipeline run executes.
type RunMode string

const (
	RunModeFull     RunMode = "full"
	RunModeGold     RunMode = "gold"
	RunModeValidate RunMode = "validate"
)

// RunStatus is the orchestrator state recorded on a run.
type RunStatus string

const (
	RunStatusIdle          RunStatus = "idle"
	RunStatusBronzeRunning RunStatus = "bronze_running"
	RunStatusSilverRunning RunStatus = "silver_running"
	RunStatusGoldRunning   RunStatus = "gold_running"
	RunStatusValidating    RunStatus = "validating"
	RunStatusDone          RunStatus = "done"
	RunStatusFailed        RunStatus = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s RunStatus) Terminal() bool {
	return s == RunStatusDone || s == RunStatusFailed
}

// Run is one orchestrator invocation.
type Run struct {
	ID        string     `json:"id"`
	Mode      RunMode    `json:"mode"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SourceOutcome is the Bronze result of one source within a run.
type SourceOutcome struct {
	Source    string   `json:"source"`
	Skipped   bool     `json:"skipped,omitempty"`
	Snapshots []string `json:"snapshots,omitempty"`
	New       int      `json:"new"`
	Error     string   `json:"error,omitempty"`
}

// RunResult is the final report stored with a run.
type RunResult struct {
	ExitCode     int                `json:"exit_code"`
	FailedStage  Stage              `json:"failed_stage,omitempty"`
	Error        string             `json:"error,omitempty"`
	Cancelled    bool               `json:"cancelled,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
	Sources      []SourceOutcome    `json:"sources,omitempty"`
	SilverRows   map[string]int     `json:"silver_rows,omitempty"`
	GoldRows     map[string]int     `json:"gold_rows,omitempty"`
	Reports      []ValidationReport `json:"reports,omitempty"`
	TotalSeconds float64            `json:"total_seconds"`
}

// PhaseStatus is the outcome of one stage.
type PhaseStatus string

const (
	PhaseStatusRunning PhaseStatus = "running"
	PhaseStatusDone    PhaseStatus = "done"
	PhaseStatusFailed  PhaseStatus = "failed"
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// RunPhase records one stage of a run.
type RunPhase struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Stage     Stage        `json:"stage"`
	Status    PhaseStatus  `json:"status"`
	Result    *PhaseResult `json:"result,omitempty"`
	StartedAt time.Time    `json:"started_at"`
}

// PhaseResult is the outcome stored with a phase.
type PhaseResult struct {
	Status     PhaseStatus    `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Records    int            `json:"records"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
