package replay

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rl-arena/rl-arena-executor/metrics"

	"github.com/rs/zerolog/log"
)

// Options tunes what a Recorder keeps and how it is written out.
type Options struct {
	// MaxFrames caps the recording; frames past the cap are dropped.
	// Zero or negative means no cap.
	MaxFrames int
	// IncludeObservations keeps per-frame observations.
	IncludeObservations bool
	// IncludeActions keeps per-frame actions.
	IncludeActions bool
	// Compress gzips saved canonical replays.
	Compress bool
}

// Recorder accumulates frames for one match. Frames are append-only
// and numbered from zero in record order. Not safe for concurrent use;
// the step loop is the only writer.
type Recorder struct {
	meta    Metadata
	frames  []Frame
	opts    Options
	dropped int
	final   bool
}

// NewRecorder starts a recording for the given match.
func NewRecorder(matchID, environment string, agents []string, opts Options) *Recorder {
	return &Recorder{
		meta: Metadata{
			MatchID:     matchID,
			Environment: environment,
			Agents:      agents,
			StartTime:   unixSeconds(time.Now()),
		},
		opts: opts,
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// RecordFrame appends one step. Past MaxFrames it drops the frame,
// warning once and counting the rest.
func (r *Recorder) RecordFrame(observations, actions map[string]any, rewards map[string]float64, done bool, info map[string]any) {
	if r.opts.MaxFrames > 0 && len(r.frames) >= r.opts.MaxFrames {
		if r.dropped == 0 {
			log.Warn().Str("matchId", r.meta.MatchID).Int("maxFrames", r.opts.MaxFrames).Msg("replay: frame limit reached, dropping further frames")
		}
		r.dropped++
		metrics.FramesDropped.Inc()
		return
	}

	f := Frame{
		FrameNumber: len(r.frames),
		Timestamp:   unixSeconds(time.Now()),
		Rewards:     rewards,
		Done:        done,
		Info:        info,
	}
	if r.opts.IncludeObservations {
		f.Observations = observations
	}
	if r.opts.IncludeActions {
		f.Actions = actions
	}
	r.frames = append(r.frames, f)
}

// FrameCount reports how many frames were kept.
func (r *Recorder) FrameCount() int {
	return len(r.frames)
}

// DroppedFrames reports how many frames the cap discarded.
func (r *Recorder) DroppedFrames() int {
	return r.dropped
}

// Finalize stamps the end time, outcome and step total. Calling it
// again overwrites the previous outcome; the last write wins.
func (r *Recorder) Finalize(status string, winner *string, totalSteps int) {
	end := unixSeconds(time.Now())
	r.meta.EndTime = &end
	r.meta.Status = status
	r.meta.Winner = winner
	r.meta.TotalSteps = totalSteps
	r.final = true
}

// Canonical returns the full replay document.
func (r *Recorder) Canonical() *Replay {
	return &Replay{
		Metadata: r.meta,
		Frames:   r.frames,
		Version:  FormatVersion,
	}
}

// Save writes the canonical replay as <matchID>.json (or .json.gz when
// compression is on) under dir and returns the path.
func (r *Recorder) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create replay directory: %w", err)
	}

	name := r.meta.MatchID + ".json"
	if r.opts.Compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create replay file: %w", err)
	}
	defer f.Close()

	if r.opts.Compress {
		gz := gzip.NewWriter(f)
		if err := json.NewEncoder(gz).Encode(r.Canonical()); err != nil {
			gz.Close()
			return "", fmt.Errorf("encode replay: %w", err)
		}
		if err := gz.Close(); err != nil {
			return "", fmt.Errorf("close gzip stream: %w", err)
		}
	} else {
		if err := json.NewEncoder(f).Encode(r.Canonical()); err != nil {
			return "", fmt.Errorf("encode replay: %w", err)
		}
	}

	log.Info().Str("matchId", r.meta.MatchID).Str("path", path).Int("frames", len(r.frames)).Msg("replay: saved")
	return path, nil
}

// SaveViewable writes the viewer projection as <matchID>_viewable.json
// under dir and returns the path.
func (r *Recorder) SaveViewable(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create replay directory: %w", err)
	}

	path := filepath.Join(dir, r.meta.MatchID+"_viewable.json")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create viewable file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(r.Canonical().Viewable()); err != nil {
		return "", fmt.Errorf("encode viewable replay: %w", err)
	}
	return path, nil
}

// Load reads a canonical replay from path, transparently handling
// gzip-compressed files by extension.
func Load(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay: %w", err)
	}
	defer f.Close()

	var rp Replay
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		if err := json.NewDecoder(gz).Decode(&rp); err != nil {
			return nil, fmt.Errorf("decode replay: %w", err)
		}
	} else {
		if err := json.NewDecoder(f).Decode(&rp); err != nil {
			return nil, fmt.Errorf("decode replay: %w", err)
		}
	}
	return &rp, nil
}
