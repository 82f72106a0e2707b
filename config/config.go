package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Execution modes for the backend adapter. Selected once at startup.
const (
	ModeLocal      = "local"
	ModeKubernetes = "kubernetes"
)

type Config struct {
	MatchSubscription      string
	ValidationSubscription string
	ResultTopic            string
	GoogleProjectID        string
	MetricsPort            int
	LogLevel               string
	CredentialsFile        string
	Mode                   string
	SemaphoreDB            string
	Limits                 *Limits
}

func Load() *Config {
	cfg := &Config{
		MatchSubscription:      strings.TrimSpace(getEnv("MATCH_REQUEST_SUBSCRIPTION", os.Getenv("EXECUTOR_PUBSUB_SUBSCRIPTION"))),
		ValidationSubscription: strings.TrimSpace(getEnv("VALIDATION_REQUEST_SUBSCRIPTION", "")),
		ResultTopic:            strings.TrimSpace(getEnv("MATCH_RESULT_TOPIC", os.Getenv("EXECUTOR_PUBSUB_TOPIC"))),
		MetricsPort:            getEnvInt("EXECUTOR_METRICS_PORT", 8080),
		LogLevel:               strings.TrimSpace(getEnv("EXECUTOR_LOG_LEVEL", "info")),
		CredentialsFile:        strings.TrimSpace(firstNonEmpty(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), os.Getenv("EXECUTOR_GSA_CREDENTIALS"))),
		Mode:                   strings.TrimSpace(getEnv("EXECUTOR_MODE", ModeLocal)),
		SemaphoreDB:            strings.TrimSpace(getEnv("EXECUTOR_SEMAPHORE_DB", "/tmp/executor-semaphore.db")),
	}

	cfg.Limits = LoadLimits(strings.TrimSpace(getEnv("EXECUTOR_LIMITS_FILE", "")))

	cfg.GoogleProjectID = getGoogleProjectID(cfg.CredentialsFile, strings.TrimSpace(getEnv("EXECUTOR_PUBSUB_PROJECT_ID", "")))
	if cfg.GoogleProjectID == "" {
		log.Warn().Msg("Google project ID not resolved; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or EXECUTOR_PUBSUB_PROJECT_ID")
	}
	if cfg.MatchSubscription == "" {
		log.Warn().Msg("Pub/Sub subscription not set; set MATCH_REQUEST_SUBSCRIPTION or EXECUTOR_PUBSUB_SUBSCRIPTION")
	}
	if cfg.ResultTopic == "" {
		log.Warn().Msg("Pub/Sub topic not set; set MATCH_RESULT_TOPIC or EXECUTOR_PUBSUB_TOPIC")
	}
	if cfg.Mode != ModeLocal && cfg.Mode != ModeKubernetes {
		log.Warn().Str("mode", cfg.Mode).Msg("unknown EXECUTOR_MODE; falling back to local")
		cfg.Mode = ModeLocal
	}
	return cfg
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"projectID":              c.GoogleProjectID,
		"matchSubscription":      c.MatchSubscription,
		"validationSubscription": c.ValidationSubscription,
		"resultTopic":            c.ResultTopic,
		"metricsPort":            c.MetricsPort,
		"logLevel":               c.LogLevel,
		"mode":                   c.Mode,
		"semaphoreDB":            c.SemaphoreDB,
		"credentialsProvided":    c.CredentialsFile != "",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(v)
		if err == nil {
			return iv
		}
		fmt.Printf("invalid int for %s: %s\n", key, v)
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func projectIDFromCredentials(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	var x struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(b, &x); err != nil {
		return "", nil
	}
	return x.ProjectID, nil
}

func getGoogleProjectID(credsFile string, explicit string) string {
	// 1) Prefer GOOGLE_APPLICATION_CREDENTIALS if set
	if p := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); p != "" {
		log.Info().Str("credsFile", p).Msg("GOOGLE_APPLICATION_CREDENTIALS is set; extracting project_id from credentials file")
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			return strings.TrimSpace(pid)
		}
		log.Warn().Str("credsFile", p).Msg("project_id not found in credentials file or unreadable")
	}

	// 2) Explicit override from executor env
	if explicit := strings.TrimSpace(explicit); explicit != "" {
		log.Info().Str("projectID", explicit).Msg("using EXECUTOR_PUBSUB_PROJECT_ID for Google project")
		return explicit
	}

	// 3) External k8s override
	if v := strings.TrimSpace(os.Getenv("GOOGLE_PROJECT_ID")); v != "" {
		log.Info().Str("projectID", v).Msg("using GOOGLE_PROJECT_ID from environment")
		return v
	}

	// 4) Common Google envs
	if v := firstNonEmpty(os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT"), os.Getenv("GCP_PROJECT")); strings.TrimSpace(v) != "" {
		v = strings.TrimSpace(v)
		log.Info().Str("projectID", v).Msg("using Google project from common environment variables")
		return v
	}

	// 5) Fallback to provided credentials file path (EXECUTOR_GSA_CREDENTIALS)
	if p := strings.TrimSpace(credsFile); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			log.Info().Str("credsFile", p).Msg("using project_id from provided credentials file")
			return strings.TrimSpace(pid)
		}
	}
	return ""
}
