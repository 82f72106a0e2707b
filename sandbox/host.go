package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/rs/zerolog/log"
)

const (
	agentGlobal  = "__arena_agent"
	methodGlobal = "__arena_agent_method"
)

// ErrActionTimeout indicates an agent failed to produce an action
// within its per-call budget. Distinct from runtime errors so callers
// can report it separately.
var ErrActionTimeout = errors.New("agent action timed out")

// Entry point and action method candidates, tried in order.
var (
	entryCandidates  = []string{"agent.lua", "main.lua"}
	methodCandidates = []string{"act", "get_action", "predict"}
)

// Options configures a Host.
type Options struct {
	// WorkDir is the root under which agent code is staged.
	WorkDir string
	// MaxCodeBytes caps total staged bytes per agent.
	MaxCodeBytes int64
}

type actionRequest struct {
	observation any
	resp        chan actionResponse
}

type actionResponse struct {
	value any
	err   error
}

// Host stages one agent's code and executes its action method inside
// an embedded Lua state. All Lua execution happens on a single worker
// goroutine, so a call that outlives its timeout delays later calls
// instead of racing them.
type Host struct {
	agentID  string
	opts     Options
	stageDir string
	kind     Kind

	state    *lua.State
	requests chan actionRequest

	prepared bool
	cleanup  sync.Once
}

// NewHost creates an unprepared host for the given agent.
func NewHost(agentID string, opts Options) *Host {
	return &Host{agentID: agentID, opts: opts}
}

// Kind reports the detected code location kind. Valid after Prepare.
func (h *Host) Kind() Kind {
	return h.kind
}

// Prepare stages the agent's code, loads its entry script and resolves
// the agent shape once: a create_agent factory or a global agent
// table, with the first of act, get_action or predict as the action
// method. Image references cannot be prepared locally.
func (h *Host) Prepare(ctx context.Context, codeLocation string) error {
	if h.prepared {
		return fmt.Errorf("agent %s: host already prepared", h.agentID)
	}

	h.kind = DetectKind(codeLocation)
	if h.kind == KindImage {
		return fmt.Errorf("agent %s: image reference %q requires the kubernetes backend", h.agentID, codeLocation)
	}

	stageDir := filepath.Join(h.opts.WorkDir, "agent-"+h.agentID)
	if _, err := Stage(ctx, codeLocation, stageDir, h.opts.MaxCodeBytes); err != nil {
		return fmt.Errorf("agent %s: %w", h.agentID, err)
	}
	h.stageDir = stageDir

	entry, err := FindEntry(stageDir)
	if err != nil {
		return fmt.Errorf("agent %s: %w", h.agentID, err)
	}

	l := lua.NewState()
	lua.OpenLibraries(l)
	if err := lua.LoadFile(l, entry, ""); err != nil {
		return fmt.Errorf("agent %s: load %s: %w", h.agentID, filepath.Base(entry), err)
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("agent %s: run %s: %w", h.agentID, filepath.Base(entry), err)
	}

	if err := resolveAgent(l); err != nil {
		return fmt.Errorf("agent %s: %w", h.agentID, err)
	}
	method, err := resolveMethod(l)
	if err != nil {
		return fmt.Errorf("agent %s: %w", h.agentID, err)
	}

	h.state = l
	h.requests = make(chan actionRequest)
	go h.worker()
	h.prepared = true

	log.Info().Str("agentId", h.agentID).Str("entry", filepath.Base(entry)).Str("method", method).Msg("sandbox: agent prepared")
	return nil
}

// FindEntry locates the agent's entry script: agent.lua, then
// main.lua, then a single root-level .lua file.
func FindEntry(dir string) (string, error) {
	for _, candidate := range entryCandidates {
		p := filepath.Join(dir, candidate)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", errors.New("no lua entry point found")
	default:
		return "", fmt.Errorf("ambiguous entry point: %d lua files and no agent.lua", len(matches))
	}
}

// resolveAgent finds the agent value and pins it to a reserved global.
// A create_agent factory wins over a plain agent table.
func resolveAgent(l *lua.State) error {
	l.Global("create_agent")
	if l.TypeOf(-1) == lua.TypeFunction {
		if err := l.ProtectedCall(0, 1, 0); err != nil {
			return fmt.Errorf("create_agent: %w", err)
		}
		if l.TypeOf(-1) != lua.TypeTable {
			l.Pop(1)
			return errors.New("create_agent did not return a table")
		}
		l.SetGlobal(agentGlobal)
		return nil
	}
	l.Pop(1)

	l.Global("agent")
	if l.TypeOf(-1) != lua.TypeTable {
		l.Pop(1)
		return errors.New("no agent entry point: define create_agent() or a global agent table")
	}
	l.SetGlobal(agentGlobal)
	return nil
}

// resolveMethod picks the agent's action method and pins it to a
// reserved global. The choice is made once; later table mutations do
// not rebind it.
func resolveMethod(l *lua.State) (string, error) {
	l.Global(agentGlobal)
	defer l.Pop(1)
	for _, candidate := range methodCandidates {
		l.Field(-1, candidate)
		if l.TypeOf(-1) == lua.TypeFunction {
			l.SetGlobal(methodGlobal)
			return candidate, nil
		}
		l.Pop(1)
	}
	return "", errors.New("agent has no action method (act, get_action or predict)")
}

func (h *Host) worker() {
	for req := range h.requests {
		value, err := h.callAction(req.observation)
		req.resp <- actionResponse{value: value, err: err}
	}
}

// callAction runs method(agent, observation) on the worker goroutine.
func (h *Host) callAction(observation any) (any, error) {
	l := h.state
	base := l.Top()
	defer l.SetTop(base)

	l.Global(methodGlobal)
	l.Global(agentGlobal)
	if err := pushValue(l, observation); err != nil {
		return nil, err
	}
	if err := l.ProtectedCall(2, 1, 0); err != nil {
		return nil, fmt.Errorf("agent action: %w", err)
	}
	return toGoValue(l, -1), nil
}

// ComputeAction asks the agent for an action. Past timeout it returns
// ErrActionTimeout; the abandoned call keeps the worker busy, so a
// stuck agent times out on later steps too rather than racing the
// state.
func (h *Host) ComputeAction(ctx context.Context, observation any, timeout time.Duration) (any, error) {
	if !h.prepared {
		return nil, fmt.Errorf("agent %s: host not prepared", h.agentID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	req := actionRequest{observation: observation, resp: make(chan actionResponse, 1)}

	select {
	case h.requests <- req:
	case <-timer.C:
		return nil, fmt.Errorf("agent %s: %w after %s", h.agentID, ErrActionTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.resp:
		if resp.err != nil {
			return nil, fmt.Errorf("agent %s: %w", h.agentID, resp.err)
		}
		return resp.value, nil
	case <-timer.C:
		return nil, fmt.Errorf("agent %s: %w after %s", h.agentID, ErrActionTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cleanup stops the worker and removes staged code. It is idempotent
// and never fails; problems are logged and swallowed.
func (h *Host) Cleanup() {
	h.cleanup.Do(func() {
		h.prepared = false
		if h.requests != nil {
			close(h.requests)
		}
		if h.stageDir != "" {
			if err := os.RemoveAll(h.stageDir); err != nil {
				log.Warn().Err(err).Str("agentId", h.agentID).Str("dir", h.stageDir).Msg("sandbox: failed to remove staged code")
			}
		}
		log.Debug().Str("agentId", h.agentID).Msg("sandbox: cleaned up")
	})
}
