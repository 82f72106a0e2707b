package config

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Limits holds the resource-limit surface normally shipped as limits.yaml.
// Absent file or absent keys fall back to the defaults below.
type Limits struct {
	ResourceLimits struct {
		StepTimeoutSec   int `yaml:"step_timeout_sec"`
		MatchTimeoutSec  int `yaml:"match_timeout_sec"`
		InitTimeoutSec   int `yaml:"init_timeout_sec"`
		MaxStepsPerMatch int `yaml:"max_steps_per_match"`
	} `yaml:"resource_limits"`

	Concurrency struct {
		MaxConcurrentMatches  int `yaml:"max_concurrent_matches"`
		AcquireWaitTimeoutSec int `yaml:"acquire_wait_timeout_sec"`
		StaleHolderTimeoutSec int `yaml:"stale_holder_timeout_sec"`
	} `yaml:"concurrency"`

	Sandbox struct {
		TmpDir        string `yaml:"tmp_dir"`
		ReplayDir     string `yaml:"replay_dir"`
		MaxCodeSizeMB int    `yaml:"max_code_size_mb"`
	} `yaml:"sandbox"`

	Replay struct {
		MaxFrames           int  `yaml:"max_frames"`
		Compress            bool `yaml:"compress"`
		IncludeObservations bool `yaml:"include_observations"`
		IncludeActions      bool `yaml:"include_actions"`
	} `yaml:"replay"`

	Validation struct {
		MaxLines int `yaml:"max_lines"`
	} `yaml:"validation"`

	K8s struct {
		Namespace         string `yaml:"namespace"`
		OrchestratorImage string `yaml:"orchestrator_image"`
		ServiceAccount    string `yaml:"service_account"`
		PollIntervalSec   int    `yaml:"poll_interval_sec"`
	} `yaml:"k8s"`
}

func DefaultLimits() *Limits {
	l := &Limits{}
	l.ResourceLimits.StepTimeoutSec = 5
	l.ResourceLimits.MatchTimeoutSec = 300
	l.ResourceLimits.InitTimeoutSec = 30
	l.ResourceLimits.MaxStepsPerMatch = 10000
	l.Concurrency.MaxConcurrentMatches = 10
	l.Concurrency.AcquireWaitTimeoutSec = 30
	l.Concurrency.StaleHolderTimeoutSec = 600
	l.Sandbox.TmpDir = "/tmp/agent_code"
	l.Sandbox.ReplayDir = "/tmp/replays"
	l.Sandbox.MaxCodeSizeMB = 50
	l.Replay.MaxFrames = 10000
	l.Replay.Compress = false
	l.Replay.IncludeObservations = true
	l.Replay.IncludeActions = true
	l.Validation.MaxLines = 5000
	l.K8s.Namespace = "rl-arena"
	l.K8s.OrchestratorImage = "rl-arena-orchestrator:latest"
	l.K8s.ServiceAccount = "rl-arena-executor"
	l.K8s.PollIntervalSec = 5
	return l
}

// LoadLimits parses the limits file at path over the defaults. An empty path
// returns the defaults; an unreadable or malformed file is logged and the
// defaults are kept so the service can still come up.
func LoadLimits(path string) *Limits {
	limits := DefaultLimits()
	if path == "" {
		return limits
	}
	b, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config: limits file unreadable; using defaults")
		return DefaultLimits()
	}
	if err := yaml.Unmarshal(b, limits); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("config: limits file invalid; using defaults")
		return DefaultLimits()
	}
	log.Info().Str("path", path).Msg("config: limits loaded")
	return limits
}

func (l *Limits) StepTimeout() time.Duration {
	return time.Duration(l.ResourceLimits.StepTimeoutSec) * time.Second
}

func (l *Limits) MatchTimeout() time.Duration {
	return time.Duration(l.ResourceLimits.MatchTimeoutSec) * time.Second
}

func (l *Limits) InitTimeout() time.Duration {
	return time.Duration(l.ResourceLimits.InitTimeoutSec) * time.Second
}

func (l *Limits) AcquireWaitTimeout() time.Duration {
	return time.Duration(l.Concurrency.AcquireWaitTimeoutSec) * time.Second
}

func (l *Limits) StaleHolderTimeout() time.Duration {
	return time.Duration(l.Concurrency.StaleHolderTimeoutSec) * time.Second
}

func (l *Limits) PollInterval() time.Duration {
	return time.Duration(l.K8s.PollIntervalSec) * time.Second
}
