package replay

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestReplay_Viewable(t *testing.T) {
	end := 1700000120.0
	winner := "a2"
	rp := &Replay{
		Metadata: Metadata{
			MatchID:     "m-1",
			Environment: "pong",
			Agents:      []string{"a1", "a2"},
			StartTime:   1700000000.0,
			EndTime:     &end,
			TotalSteps:  2,
			Winner:      &winner,
			Status:      "success",
		},
		Frames: []Frame{
			{
				FrameNumber:  0,
				Timestamp:    1700000001.0,
				Observations: map[string]any{"a1": 0.5, "a2": 0.7},
				Actions:      map[string]any{"a1": 1, "a2": 0},
				Rewards:      map[string]float64{"a1": 0, "a2": 1},
			},
			{
				FrameNumber: 1,
				Timestamp:   1700000002.0,
				Done:        true,
			},
		},
		Version: FormatVersion,
	}

	v := rp.Viewable()

	if v.NumFrames != 2 {
		t.Errorf("NumFrames got=%d want=2", v.NumFrames)
	}
	if v.Metadata.MatchID != "m-1" || v.Metadata.Environment != "pong" {
		t.Errorf("Metadata got=%#v", v.Metadata)
	}
	if v.StartTime != "2023-11-14T22:13:20" {
		t.Errorf("StartTime got=%q want=%q", v.StartTime, "2023-11-14T22:13:20")
	}
	if v.EndTime != "2023-11-14T22:15:20" {
		t.Errorf("EndTime got=%q want=%q", v.EndTime, "2023-11-14T22:15:20")
	}
	if v.Duration == nil || *v.Duration != 120 {
		t.Errorf("Duration got=%v want=120", v.Duration)
	}

	// Actions and rewards follow metadata agent order positionally
	f0 := v.Frames[0]
	if f0.Step != 0 {
		t.Errorf("Frames[0].Step got=%d want=0", f0.Step)
	}
	if len(f0.Actions) != 2 || f0.Actions[0] != 1 || f0.Actions[1] != 0 {
		t.Errorf("Frames[0].Actions got=%#v want=[1 0]", f0.Actions)
	}
	if len(f0.Rewards) != 2 || f0.Rewards[0] != 0 || f0.Rewards[1] != 1 {
		t.Errorf("Frames[0].Rewards got=%#v want=[0 1]", f0.Rewards)
	}

	// Frames without actions or rewards omit the lists entirely
	f1 := v.Frames[1]
	if f1.Actions != nil || f1.Rewards != nil {
		t.Errorf("Frames[1] got actions=%#v rewards=%#v want both nil", f1.Actions, f1.Rewards)
	}

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %#v", err)
	}
	got := string(b)
	for _, want := range []string{`"num_frames":2`, `"start_time":"2023-11-14T22:13:20"`, `"step":0`} {
		if !strings.Contains(got, want) {
			t.Errorf("Marshal() missing %q in %s", want, got)
		}
	}
}

func TestReplay_ViewableUnfinished(t *testing.T) {
	rp := &Replay{
		Metadata: Metadata{MatchID: "m-2", Environment: "pong", Agents: []string{"a1"}, StartTime: 1700000000.0},
		Version:  FormatVersion,
	}

	v := rp.Viewable()
	if v.EndTime != "" {
		t.Errorf("EndTime got=%q want empty", v.EndTime)
	}
	if v.Duration != nil {
		t.Errorf("Duration got=%v want nil", v.Duration)
	}
	if v.NumFrames != 0 {
		t.Errorf("NumFrames got=%d want=0", v.NumFrames)
	}

	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %#v", err)
	}
	if strings.Contains(string(b), "end_time") {
		t.Errorf("Marshal() unexpectedly contains end_time in %s", string(b))
	}
}
