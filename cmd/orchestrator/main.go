// The orchestrator runs one match inside a Kubernetes Job pod. The
// executor mounts the match spec at /config and the agent code under
// /agent-code; the orchestrator plays the match and prints the Result
// as its final stdout line, where the executor picks it up from the
// pod log. Exit code 1 means no result could be produced at all; a
// failed match still exits 0 because the failure is in the result.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rl-arena/rl-arena-executor/config"
	"github.com/rl-arena/rl-arena-executor/match"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	os.Exit(run())
}

func run() int {
	configPath := getenvDefault("MATCH_CONFIG_PATH", "/config/match-config.json")
	replayDir := getenvDefault("REPLAY_DIR", "/replays")
	agentCodeDir := getenvDefault("AGENT_CODE_DIR", "/agent-code")

	spec, err := loadSpec(configPath)
	if err != nil {
		log.Error().Err(err).Str("path", configPath).Msg("orchestrator: cannot load match spec")
		return 1
	}
	log.Info().Str("matchId", spec.MatchID).Str("environment", spec.Environment).Int("agents", len(spec.Agents)).Msg("orchestrator: match spec loaded")

	// Agents arrive as image references; the init containers have already
	// unpacked each image's code next to us, seat by seat.
	for i := range spec.Agents {
		staged := filepath.Join(agentCodeDir, fmt.Sprintf("agent-%d", i))
		if _, err := os.Stat(staged); err == nil {
			spec.Agents[i].CodeLocation = staged
		}
	}

	limits := config.LoadLimits(os.Getenv("EXECUTOR_LIMITS_FILE"))
	limits.Sandbox.ReplayDir = replayDir

	// The pod owns its own concurrency: no semaphore, no tracker. A
	// SIGTERM from job deletion cancels the match cleanly.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := match.NewEngine(limits, nil, nil)
	res := engine.Run(ctx, spec)

	out, err := json.Marshal(res)
	if err != nil {
		log.Error().Err(err).Str("matchId", spec.MatchID).Msg("orchestrator: cannot encode result")
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func loadSpec(path string) (*match.Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var spec match.Spec
	if err := json.Unmarshal(b, &spec); err != nil {
		return nil, fmt.Errorf("invalid match spec: %w", err)
	}
	if spec.MatchID == "" {
		spec.MatchID = os.Getenv("MATCH_ID")
	}
	if spec.Environment == "" {
		spec.Environment = os.Getenv("ENVIRONMENT")
	}
	if spec.MatchID == "" || spec.Environment == "" || len(spec.Agents) < 2 {
		return nil, fmt.Errorf("match spec incomplete: id=%q environment=%q agents=%d", spec.MatchID, spec.Environment, len(spec.Agents))
	}
	return &spec, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
