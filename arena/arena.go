// Package arena defines the multi-agent environment abstraction that
// matches run in, plus a registry of built-in environments.
package arena

import (
	"errors"
	"fmt"
	"sort"
)

// Space kinds.
const (
	SpaceDiscrete = "discrete"
	SpaceBox      = "box"
)

// Space describes an action or observation space.
type Space struct {
	Type  string  `json:"type"`
	N     int     `json:"n,omitempty"`
	Shape []int   `json:"shape,omitempty"`
	Low   float64 `json:"low,omitempty"`
	High  float64 `json:"high,omitempty"`
}

// Discrete returns a space of n integer choices, 0 through n-1.
func Discrete(n int) Space {
	return Space{Type: SpaceDiscrete, N: n}
}

// Box returns a continuous space bounded by low and high.
func Box(low, high float64, shape ...int) Space {
	return Space{Type: SpaceBox, Low: low, High: high, Shape: shape}
}

// StepResult carries the outcome of one environment step. Rewards are
// per-step deltas keyed by agent identifier.
type StepResult struct {
	Observations map[string]any
	Rewards      map[string]float64
	Done         bool
	Info         map[string]any
}

// Environment is a step-driven match environment. Implementations are
// not safe for concurrent use; the match step loop is the only caller.
type Environment interface {
	// AgentIDs returns the participating agents in seat order.
	AgentIDs() []string
	// Reset starts a fresh episode and returns initial observations.
	Reset() (map[string]any, error)
	// Step advances one tick with one action per agent.
	Step(actions map[string]any) (*StepResult, error)
	// ActionSpace describes the actions the agent may submit.
	ActionSpace(agentID string) Space
	// ObservationSpace describes what the agent observes.
	ObservationSpace(agentID string) Space
	// Sample returns a random valid action for the agent.
	Sample(agentID string) any
	// Close releases environment resources.
	Close() error
}

// Factory builds an environment for the given agents. The seed makes
// environment randomness reproducible.
type Factory func(agentIDs []string, seed int64) (Environment, error)

// ErrUnknownEnvironment indicates the requested environment name is
// not registered.
var ErrUnknownEnvironment = errors.New("unknown environment")

var registry = map[string]Factory{}

// Register makes an environment constructible by name. Later
// registrations replace earlier ones.
func Register(name string, f Factory) {
	registry[name] = f
}

// New builds the named environment for the given agents.
func New(name string, agentIDs []string, seed int64) (Environment, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEnvironment, name)
	}
	return f(agentIDs, seed)
}

// Names lists the registered environments in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
