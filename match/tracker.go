package match

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrDuplicateMatch is returned when a match id is already being tracked.
var ErrDuplicateMatch = errors.New("match already running")

type entry struct {
	environment string
	phase       Phase
	cancel      context.CancelFunc
	startedAt   time.Time
}

// Tracker is the registry of in-flight matches. It hands out a cancellable
// context per match so external cancellation reaches the step loop, and it
// feeds the status endpoint with per-environment counts. A nil Tracker is
// valid and tracks nothing, which is how the orchestrator runs.
type Tracker struct {
	mu     sync.RWMutex
	active map[string]*entry
}

func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]*entry)}
}

// Add registers a match and derives the context its execution should run
// under. A second Add for an id still in flight fails with ErrDuplicateMatch.
func (t *Tracker) Add(ctx context.Context, matchID, environment string) (context.Context, error) {
	if t == nil {
		return ctx, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.active[matchID]; ok {
		return nil, ErrDuplicateMatch
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.active[matchID] = &entry{
		environment: environment,
		phase:       PhasePending,
		cancel:      cancel,
		startedAt:   time.Now(),
	}
	log.Debug().Str("matchId", matchID).Str("environment", environment).Msg("tracker: match registered")
	return runCtx, nil
}

// SetPhase records lifecycle progress for an in-flight match.
func (t *Tracker) SetPhase(matchID string, phase Phase) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.active[matchID]; ok {
		e.phase = phase
	}
}

// Cancel signals the match's context. It reports false when the id is not
// tracked, which callers treat as "nothing to do" rather than an error.
func (t *Tracker) Cancel(matchID string) bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	e, ok := t.active[matchID]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	log.Info().Str("matchId", matchID).Msg("tracker: match cancelled")
	e.cancel()
	return true
}

// Remove drops a match from the registry and releases its cancel func.
func (t *Tracker) Remove(matchID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	e, ok := t.active[matchID]
	delete(t.active, matchID)
	t.mu.Unlock()
	if ok {
		e.cancel()
		log.Debug().Str("matchId", matchID).Msg("tracker: match removed")
	}
}

// Count returns how many matches are currently in flight.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.active)
}

// Snapshot returns in-flight match counts keyed by environment name.
func (t *Tracker) Snapshot() map[string]int {
	counts := make(map[string]int)
	if t == nil {
		return counts
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.active {
		counts[e.environment]++
	}
	return counts
}
