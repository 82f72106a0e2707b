package health

import (
	"encoding/json"
	"net/http"
)

// Status is the /statusz payload.
type Status struct {
	Healthy       bool           `json:"healthy"`
	Version       string         `json:"version"`
	ActiveMatches int            `json:"activeMatches"`
	ByEnvironment map[string]int `json:"byEnvironment,omitempty"`
}

// Register mounts the health endpoints. snapshot reports in-flight
// matches per environment; nil means none are tracked.
func Register(mux *http.ServeMux, version string, snapshot func() map[string]int) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		var byEnv map[string]int
		if snapshot != nil {
			byEnv = snapshot()
		}
		total := 0
		for _, n := range byEnv {
			total += n
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(Status{
			Healthy:       true,
			Version:       version,
			ActiveMatches: total,
			ByEnvironment: byEnv,
		})
	})
}
