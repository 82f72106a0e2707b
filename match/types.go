// Package match executes adversarial matches: it admits work against the
// concurrency ceiling, drives environment and agents through the step loop,
// scores the outcome and records the replay. The Runner interface abstracts
// where the match actually runs (in-process or as a Kubernetes job).
package match

import "context"

// Status is the terminal outcome of a match.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusTimeout       Status = "timeout"
	StatusQueuedTimeout Status = "queued_timeout"
	StatusError         Status = "error"
	StatusCancelled     Status = "cancelled"
)

// Phase tracks where a running match currently is in its lifecycle. Phases
// are informational (surfaced by the tracker); Status is what callers act on.
type Phase string

const (
	PhasePending      Phase = "pending"
	PhaseAdmitted     Phase = "admitted"
	PhaseEnvReady     Phase = "env_ready"
	PhaseAgentsLoaded Phase = "agents_loaded"
	PhaseStepping     Phase = "stepping"
	PhaseReleased     Phase = "released"
)

// AgentSpec identifies one participant and where its code lives.
type AgentSpec struct {
	AgentID      string            `json:"agent_id"`
	CodeLocation string            `json:"code_location"`
	Version      string            `json:"version,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Spec is everything needed to execute one match. It is serialized as-is
// into the match ConfigMap when running on Kubernetes, so the orchestrator
// sees exactly what the executor was asked to run.
type Spec struct {
	MatchID      string      `json:"match_id"`
	Environment  string      `json:"environment"`
	Agents       []AgentSpec `json:"agents"`
	TimeoutSec   int         `json:"timeout_sec,omitempty"`
	RecordReplay bool        `json:"record_replay"`
	Seed         int64       `json:"seed,omitempty"`
}

// AgentResult is one agent's final line in the score sheet.
type AgentResult struct {
	AgentID      string  `json:"agent_id"`
	Score        float64 `json:"score"`
	Errors       int     `json:"errors"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Result is the terminal record of a match. The orchestrator prints it as
// the last line of stdout and the Kubernetes runner parses it back out of
// the pod log, so the JSON shape is part of the wire contract.
type Result struct {
	MatchID       string                 `json:"match_id"`
	Status        Status                 `json:"status"`
	Winner        *string                `json:"winner,omitempty"`
	AgentResults  map[string]AgentResult `json:"agent_results,omitempty"`
	ReplayPath    *string                `json:"replay_path,omitempty"`
	ViewablePath  *string                `json:"viewable_replay_path,omitempty"`
	Error         *string                `json:"error,omitempty"`
	TotalSteps    int                    `json:"total_steps"`
	ExecutionTime float64                `json:"execution_time"`
}

// Runner executes a match to completion and always returns a Result, even
// on failure; the Status and Error fields carry what went wrong. The
// execution strategy is fixed when the runner is constructed.
type Runner interface {
	Run(ctx context.Context, spec *Spec) *Result
}
