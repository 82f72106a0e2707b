package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl-arena/rl-arena-executor/arena"
	"github.com/rl-arena/rl-arena-executor/config"
	"github.com/rl-arena/rl-arena-executor/metrics"
	"github.com/rl-arena/rl-arena-executor/replay"
	"github.com/rl-arena/rl-arena-executor/sandbox"
	"github.com/rl-arena/rl-arena-executor/semaphore"
)

const (
	matchPool   = "matches"
	busyMessage = "Failed to acquire execution slot (system busy)"
)

// Engine runs matches in-process. A nil semaphore manager means no
// admission control: every match is admitted immediately and the caller
// owns the concurrency ceiling. A nil tracker disables registration and
// external cancellation. The orchestrator runs with both nil.
type Engine struct {
	limits     *config.Limits
	semaphores *semaphore.Manager
	tracker    *Tracker
	replayDir  string
}

func NewEngine(limits *config.Limits, semaphores *semaphore.Manager, tracker *Tracker) *Engine {
	return &Engine{
		limits:     limits,
		semaphores: semaphores,
		tracker:    tracker,
		replayDir:  limits.Sandbox.ReplayDir,
	}
}

// Run executes one match to a terminal status. It always returns a Result;
// failures are reported through Status and Error, never as an error value.
func (e *Engine) Run(ctx context.Context, spec *Spec) *Result {
	start := time.Now()
	res := &Result{
		MatchID:      spec.MatchID,
		Status:       StatusError,
		AgentResults: map[string]AgentResult{},
	}
	defer func() {
		res.ExecutionTime = time.Since(start).Seconds()
		log.Info().
			Str("matchId", spec.MatchID).
			Str("status", string(res.Status)).
			Int("steps", res.TotalSteps).
			Float64("durationSec", res.ExecutionTime).
			Msg("engine: match finished")
	}()

	if len(spec.Agents) < 2 {
		return e.fail(res, StatusError, "match requires at least two agents")
	}

	ctx, err := e.tracker.Add(ctx, spec.MatchID, spec.Environment)
	if err != nil {
		return e.fail(res, StatusError, fmt.Sprintf("match rejected: %v", err))
	}
	defer e.tracker.Remove(spec.MatchID)
	e.tracker.SetPhase(spec.MatchID, PhasePending)

	var holder *semaphore.Holder
	if e.semaphores != nil {
		holder = e.semaphores.Holder(matchPool, e.limits.Concurrency.MaxConcurrentMatches)
		waitStart := time.Now()
		acquired, err := holder.Acquire(ctx)
		metrics.AdmissionWait.Observe(time.Since(waitStart).Seconds())
		if err != nil {
			if ctx.Err() != nil {
				return e.fail(res, StatusCancelled, "match cancelled while waiting for an execution slot")
			}
			return e.fail(res, StatusError, fmt.Sprintf("admission check failed: %v", err))
		}
		if !acquired {
			return e.fail(res, StatusQueuedTimeout, busyMessage)
		}
	}
	metrics.ActiveMatches.Inc()
	e.tracker.SetPhase(spec.MatchID, PhaseAdmitted)
	defer func() {
		if holder != nil {
			holder.Release()
		}
		metrics.ActiveMatches.Dec()
		e.tracker.SetPhase(spec.MatchID, PhaseReleased)
	}()

	// The match clock starts once the slot is held; admission wait does
	// not eat into execution time.
	timeout := e.limits.MatchTimeout()
	if spec.TimeoutSec > 0 {
		timeout = time.Duration(spec.TimeoutSec) * time.Second
	}
	runCtx, cancelRun := context.WithDeadline(ctx, time.Now().Add(timeout))
	defer cancelRun()

	agentIDs := make([]string, 0, len(spec.Agents))
	for _, a := range spec.Agents {
		agentIDs = append(agentIDs, a.AgentID)
	}

	seed := spec.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	env, err := arena.New(spec.Environment, agentIDs, seed)
	if err != nil {
		return e.fail(res, StatusError, fmt.Sprintf("environment setup failed: %v", err))
	}
	defer func() {
		if err := env.Close(); err != nil {
			log.Warn().Err(err).Str("matchId", spec.MatchID).Msg("engine: environment close failed")
		}
	}()
	e.tracker.SetPhase(spec.MatchID, PhaseEnvReady)

	workDir := filepath.Join(e.limits.Sandbox.TmpDir, spec.MatchID)
	hosts := make(map[string]*sandbox.Host, len(spec.Agents))
	defer func() {
		for _, h := range hosts {
			h.Cleanup()
		}
		if err := os.RemoveAll(workDir); err != nil {
			log.Warn().Err(err).Str("matchId", spec.MatchID).Msg("engine: work dir cleanup failed")
		}
	}()

	maxCode := int64(e.limits.Sandbox.MaxCodeSizeMB) << 20
	initCtx, cancelInit := context.WithTimeout(runCtx, e.limits.InitTimeout())
	defer cancelInit()
	for _, a := range spec.Agents {
		h := sandbox.NewHost(a.AgentID, sandbox.Options{WorkDir: workDir, MaxCodeBytes: maxCode})
		hosts[a.AgentID] = h
		if err := h.Prepare(initCtx, a.CodeLocation); err != nil {
			if st, ok := interrupted(ctx, runCtx); ok {
				return e.fail(res, st, fmt.Sprintf("agent %s load interrupted: %v", a.AgentID, err))
			}
			return e.fail(res, StatusError, fmt.Sprintf("agent %s failed to load: %v", a.AgentID, err))
		}
	}
	e.tracker.SetPhase(spec.MatchID, PhaseAgentsLoaded)

	obs, err := env.Reset()
	if err != nil {
		return e.fail(res, StatusError, fmt.Sprintf("environment reset failed: %v", err))
	}

	var rec *replay.Recorder
	if spec.RecordReplay {
		rec = replay.NewRecorder(spec.MatchID, spec.Environment, agentIDs, replay.Options{
			MaxFrames:           e.limits.Replay.MaxFrames,
			IncludeObservations: e.limits.Replay.IncludeObservations,
			IncludeActions:      e.limits.Replay.IncludeActions,
			Compress:            e.limits.Replay.Compress,
		})
	}
	e.tracker.SetPhase(spec.MatchID, PhaseStepping)

	scores := make(map[string]float64, len(agentIDs))
	errCounts := make(map[string]int, len(agentIDs))
	lastErr := make(map[string]string, len(agentIDs))
	for _, id := range agentIDs {
		scores[id] = 0
	}

	stepTimeout := e.limits.StepTimeout()
	maxSteps := e.limits.ResourceLimits.MaxStepsPerMatch
	steps := 0
	status := StatusSuccess
	var fatal string

loop:
	for steps < maxSteps {
		if st, ok := interrupted(ctx, runCtx); ok {
			status = st
			break
		}

		// Collect one action per agent. If the match is interrupted
		// partway through, the half-collected set is never applied.
		actions := make(map[string]any, len(agentIDs))
		for _, id := range agentIDs {
			action, err := hosts[id].ComputeAction(runCtx, obs[id], stepTimeout)
			if err != nil {
				if st, ok := interrupted(ctx, runCtx); ok {
					status = st
					break loop
				}
				reason := "error"
				if errors.Is(err, sandbox.ErrActionTimeout) {
					reason = "timeout"
				}
				metrics.AgentActionFailures.WithLabelValues(reason).Inc()
				errCounts[id]++
				lastErr[id] = err.Error()
				log.Warn().Err(err).
					Str("matchId", spec.MatchID).
					Str("agentId", id).
					Int("step", steps).
					Msg("engine: agent action failed, using fallback action")
				action = env.Sample(id)
			}
			actions[id] = action
		}

		stepRes, err := env.Step(actions)
		if err != nil {
			status = StatusError
			fatal = fmt.Sprintf("environment step failed: %v", err)
			break
		}
		for id, r := range stepRes.Rewards {
			scores[id] += r
		}
		if rec != nil {
			rec.RecordFrame(stepRes.Observations, actions, stepRes.Rewards, stepRes.Done, stepRes.Info)
		}
		steps++
		obs = stepRes.Observations
		if stepRes.Done {
			break
		}
	}

	for _, id := range agentIDs {
		res.AgentResults[id] = AgentResult{
			AgentID:      id,
			Score:        scores[id],
			Errors:       errCounts[id],
			ErrorMessage: lastErr[id],
		}
	}
	res.TotalSteps = steps
	res.Status = status
	switch status {
	case StatusSuccess, StatusTimeout:
		res.Winner = winnerOf(scores)
	}
	switch status {
	case StatusError:
		res.Error = &fatal
	case StatusTimeout:
		msg := fmt.Sprintf("match execution timed out after %s", timeout)
		res.Error = &msg
	case StatusCancelled:
		msg := "match cancelled"
		res.Error = &msg
	}

	if rec != nil && rec.FrameCount() > 0 {
		rec.Finalize(string(status), res.Winner, steps)
		if path, err := rec.Save(e.replayDir); err != nil {
			log.Error().Err(err).Str("matchId", spec.MatchID).Msg("engine: replay save failed")
		} else {
			res.ReplayPath = &path
			if vpath, err := rec.SaveViewable(e.replayDir); err != nil {
				log.Error().Err(err).Str("matchId", spec.MatchID).Msg("engine: viewable replay save failed")
			} else {
				res.ViewablePath = &vpath
			}
		}
	}
	return res
}

func (e *Engine) fail(res *Result, status Status, msg string) *Result {
	res.Status = status
	res.Error = &msg
	evt := log.Error()
	if status == StatusQueuedTimeout || status == StatusCancelled {
		evt = log.Warn()
	}
	evt.Str("matchId", res.MatchID).Str("status", string(status)).Msg("engine: " + msg)
	return res
}

// interrupted classifies why execution should stop early: cancellation of
// the match context wins over the execution deadline.
func interrupted(parent, run context.Context) (Status, bool) {
	if parent.Err() != nil {
		return StatusCancelled, true
	}
	if run.Err() != nil {
		return StatusTimeout, true
	}
	return "", false
}

// winnerOf picks the agent with the strictly highest cumulative score.
// A shared top score is a draw and yields no winner.
func winnerOf(scores map[string]float64) *string {
	best := ""
	bestScore := math.Inf(-1)
	unique := false
	for id, s := range scores {
		switch {
		case s > bestScore:
			bestScore, best, unique = s, id, true
		case s == bestScore:
			unique = false
		}
	}
	if !unique {
		return nil
	}
	return &best
}
