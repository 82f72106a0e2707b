package queues

import "context"

// EnvelopeVersion tags every published result envelope.
const EnvelopeVersion = "1.0"

type AgentRef struct {
	AgentID      string            `json:"agentId"`
	CodeLocation string            `json:"codeLocation"`
	Version      string            `json:"version,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type MatchRequest struct {
	MatchID      string     `json:"matchId"`
	Environment  string     `json:"environment"`
	Agents       []AgentRef `json:"agents"`
	TimeoutSec   int        `json:"timeoutSec,omitempty"`
	RecordReplay bool       `json:"recordReplay"`
}

type AgentResultSummary struct {
	Score        float64 `json:"score"`
	Errors       int     `json:"errors"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

type MatchResultMessage struct {
	EnvelopeVersion  string                        `json:"envelopeVersion"`
	Type             string                        `json:"type"`
	MatchID          string                        `json:"matchId"`
	Status           string                        `json:"status"`
	WinnerAgentID    *string                       `json:"winnerAgentId,omitempty"`
	AgentResults     map[string]AgentResultSummary `json:"agentResults,omitempty"`
	ReplayPath       *string                       `json:"replayPath,omitempty"`
	ViewablePath     *string                       `json:"viewableReplayPath,omitempty"`
	ErrorMessage     *string                       `json:"errorMessage,omitempty"`
	TotalSteps       int                           `json:"totalSteps"`
	ExecutionTimeSec float64                       `json:"executionTimeSec"`
}

type ValidationRequest struct {
	AgentID      string `json:"agentId"`
	CodeLocation string `json:"codeLocation"`
	Environment  string `json:"environment,omitempty"`
}

type ValidationResultMessage struct {
	EnvelopeVersion string   `json:"envelopeVersion"`
	Type            string   `json:"type"`
	AgentID         string   `json:"agentId"`
	Valid           bool     `json:"valid"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

type Subscriber interface {
	Start(ctx context.Context, handler func(context.Context, *MatchRequest) error) error
}

type ValidationSubscriber interface {
	Start(ctx context.Context, handler func(context.Context, *ValidationRequest) error) error
}

type Publisher interface {
	PublishResult(ctx context.Context, res *MatchResultMessage) error
	PublishValidationResult(ctx context.Context, res *ValidationResultMessage) error
}
