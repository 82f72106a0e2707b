package match

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl-arena/rl-arena-executor/config"
	"github.com/rl-arena/rl-arena-executor/metrics"
	"github.com/rl-arena/rl-arena-executor/queues"
	"github.com/rl-arena/rl-arena-executor/validation"
)

// Controller wires queue consumption to match execution: it validates the
// request, delegates to the configured Runner and publishes the result
// envelope. Handler errors mean "retry this message"; bad payloads are
// answered with a failure envelope instead so they are not redelivered.
type Controller struct {
	publisher queues.Publisher
	runner    Runner
	valOpts   validation.Options
}

func NewController(p queues.Publisher, runner Runner, limits *config.Limits) *Controller {
	return &Controller{
		publisher: p,
		runner:    runner,
		valOpts: validation.Options{
			WorkDir:      limits.Sandbox.TmpDir,
			MaxCodeBytes: int64(limits.Sandbox.MaxCodeSizeMB) << 20,
			MaxLines:     limits.Validation.MaxLines,
		},
	}
}

// publishFailure builds and publishes a failure result with metrics.
func (c *Controller) publishFailure(ctx context.Context, req *queues.MatchRequest, start time.Time, message string) error {
	duration := time.Since(start)
	metrics.MatchDuration.Observe(duration.Seconds())
	metrics.MatchesTotal.WithLabelValues(string(StatusError)).Inc()
	res := &queues.MatchResultMessage{
		EnvelopeVersion: queues.EnvelopeVersion,
		Type:            "match-result",
		MatchID:         req.MatchID,
		Status:          string(StatusError),
		ErrorMessage:    &message,
	}
	if err := c.publisher.PublishResult(ctx, res); err != nil {
		log.Error().Err(err).Str("matchId", req.MatchID).Msg("controller: failed to publish failure result")
		return err
	}
	return nil
}

func (c *Controller) Handle(ctx context.Context, req *queues.MatchRequest) error {
	start := time.Now()
	log.Info().Str("matchId", req.MatchID).Str("environment", req.Environment).Int("agents", len(req.Agents)).Msg("controller: handling match request")

	if err := validateRequest(req); err != nil {
		log.Error().Err(err).Str("matchId", req.MatchID).Msg("controller: invalid match request")
		return c.publishFailure(ctx, req, start, fmt.Sprintf("invalid match request: %v", err))
	}

	result := c.runner.Run(ctx, specFromRequest(req))

	duration := time.Since(start)
	metrics.MatchDuration.Observe(duration.Seconds())
	metrics.MatchesTotal.WithLabelValues(string(result.Status)).Inc()

	if err := c.publisher.PublishResult(ctx, resultMessage(result)); err != nil {
		log.Error().Err(err).Str("matchId", req.MatchID).Dur("duration", duration).Msg("controller: failed to publish result")
		return err
	}
	log.Info().Str("matchId", req.MatchID).Str("status", string(result.Status)).Dur("duration", duration).Int("steps", result.TotalSteps).Msg("controller: match handled")
	return nil
}

// HandleValidation answers standalone agent validation requests. Validation
// never retries: whatever it found is the answer.
func (c *Controller) HandleValidation(ctx context.Context, req *queues.ValidationRequest) error {
	log.Info().Str("agentId", req.AgentID).Str("codeLocation", req.CodeLocation).Msg("controller: handling validation request")

	vres := validation.Validate(ctx, req.CodeLocation, c.valOpts)
	msg := &queues.ValidationResultMessage{
		EnvelopeVersion: queues.EnvelopeVersion,
		Type:            "validation-result",
		AgentID:         req.AgentID,
		Valid:           vres.Valid,
		Errors:          vres.Errors,
		Warnings:        vres.Warnings,
	}
	if err := c.publisher.PublishValidationResult(ctx, msg); err != nil {
		log.Error().Err(err).Str("agentId", req.AgentID).Msg("controller: failed to publish validation result")
		return err
	}
	log.Info().Str("agentId", req.AgentID).Bool("valid", vres.Valid).Int("errors", len(vres.Errors)).Int("warnings", len(vres.Warnings)).Msg("controller: validation handled")
	return nil
}

func validateRequest(req *queues.MatchRequest) error {
	if req.MatchID == "" {
		return fmt.Errorf("matchId is required")
	}
	if req.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(req.Agents) < 2 {
		return fmt.Errorf("at least two agents are required")
	}
	seen := make(map[string]bool, len(req.Agents))
	for i, a := range req.Agents {
		if a.AgentID == "" {
			return fmt.Errorf("agent %d: agentId is required", i)
		}
		if a.CodeLocation == "" {
			return fmt.Errorf("agent %s: codeLocation is required", a.AgentID)
		}
		if seen[a.AgentID] {
			return fmt.Errorf("agent %s: duplicate agentId", a.AgentID)
		}
		seen[a.AgentID] = true
	}
	return nil
}

func specFromRequest(req *queues.MatchRequest) *Spec {
	agents := make([]AgentSpec, 0, len(req.Agents))
	for _, a := range req.Agents {
		agents = append(agents, AgentSpec{
			AgentID:      a.AgentID,
			CodeLocation: a.CodeLocation,
			Version:      a.Version,
			Metadata:     a.Metadata,
		})
	}
	return &Spec{
		MatchID:      req.MatchID,
		Environment:  req.Environment,
		Agents:       agents,
		TimeoutSec:   req.TimeoutSec,
		RecordReplay: req.RecordReplay,
	}
}

func resultMessage(res *Result) *queues.MatchResultMessage {
	agentResults := make(map[string]queues.AgentResultSummary, len(res.AgentResults))
	for id, ar := range res.AgentResults {
		agentResults[id] = queues.AgentResultSummary{
			Score:        ar.Score,
			Errors:       ar.Errors,
			ErrorMessage: ar.ErrorMessage,
		}
	}
	return &queues.MatchResultMessage{
		EnvelopeVersion:  queues.EnvelopeVersion,
		Type:             "match-result",
		MatchID:          res.MatchID,
		Status:           string(res.Status),
		WinnerAgentID:    res.Winner,
		AgentResults:     agentResults,
		ReplayPath:       res.ReplayPath,
		ViewablePath:     res.ViewablePath,
		ErrorMessage:     res.Error,
		TotalSteps:       res.TotalSteps,
		ExecutionTimeSec: res.ExecutionTime,
	}
}
