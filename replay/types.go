// Package replay records match frames and serializes them in the
// canonical replay format plus a lossy viewer-friendly projection.
package replay

// FormatVersion tags every canonical replay document.
const FormatVersion = "1.0"

// Frame is one step of a match. Observations and actions are keyed by
// agent identifier; rewards are the per-step deltas, not totals.
type Frame struct {
	FrameNumber  int                `json:"frame_number"`
	Timestamp    float64            `json:"timestamp"`
	Observations map[string]any     `json:"observations,omitempty"`
	Actions      map[string]any     `json:"actions,omitempty"`
	Rewards      map[string]float64 `json:"rewards,omitempty"`
	Done         bool               `json:"done"`
	Info         map[string]any     `json:"info,omitempty"`
}

// Metadata describes the match a replay belongs to. Times are unix
// seconds; EndTime and Winner stay nil until Finalize.
type Metadata struct {
	MatchID     string   `json:"match_id"`
	Environment string   `json:"environment"`
	Agents      []string `json:"agents"`
	StartTime   float64  `json:"start_time"`
	EndTime     *float64 `json:"end_time,omitempty"`
	TotalSteps  int      `json:"total_steps"`
	Winner      *string  `json:"winner,omitempty"`
	Status      string   `json:"status,omitempty"`
}

// Replay is the canonical on-disk document. It round-trips losslessly.
type Replay struct {
	Metadata Metadata `json:"metadata"`
	Frames   []Frame  `json:"frames"`
	Version  string   `json:"version"`
}

// ViewableMetadata is the trimmed header of the viewer projection.
type ViewableMetadata struct {
	Environment string   `json:"environment"`
	MatchID     string   `json:"match_id"`
	Agents      []string `json:"agents"`
}

// ViewableFrame is one step in the viewer projection. Actions and
// rewards are positional lists in metadata agent order.
type ViewableFrame struct {
	Step    int            `json:"step"`
	State   map[string]any `json:"state,omitempty"`
	Actions []any          `json:"actions,omitempty"`
	Rewards []float64      `json:"rewards,omitempty"`
	Info    map[string]any `json:"info,omitempty"`
}

// ViewableReplay is the lossy projection consumed by the match viewer.
type ViewableReplay struct {
	Metadata  ViewableMetadata `json:"metadata"`
	Frames    []ViewableFrame  `json:"frames"`
	NumFrames int              `json:"num_frames"`
	Duration  *float64         `json:"duration,omitempty"`
	StartTime string           `json:"start_time"`
	EndTime   string           `json:"end_time,omitempty"`
}
