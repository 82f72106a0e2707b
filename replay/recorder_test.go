package replay

import (
	"strings"
	"testing"
)

func TestRecorder_RecordFrame(t *testing.T) {
	r := NewRecorder("m-1", "pong", []string{"a1", "a2"}, Options{IncludeObservations: true, IncludeActions: true})

	r.RecordFrame(
		map[string]any{"a1": []float64{0, 0}, "a2": []float64{1, 1}},
		map[string]any{"a1": 0, "a2": 1},
		map[string]float64{"a1": 0, "a2": 1},
		false,
		nil,
	)
	r.RecordFrame(nil, nil, map[string]float64{"a1": 1, "a2": 0}, true, map[string]any{"reason": "score"})

	if got := r.FrameCount(); got != 2 {
		t.Fatalf("FrameCount() got=%d want=2", got)
	}

	rp := r.Canonical()
	if rp.Version != FormatVersion {
		t.Errorf("Version got=%q want=%q", rp.Version, FormatVersion)
	}
	for i, f := range rp.Frames {
		if f.FrameNumber != i {
			t.Errorf("Frames[%d].FrameNumber got=%d want=%d", i, f.FrameNumber, i)
		}
		if f.Timestamp <= 0 {
			t.Errorf("Frames[%d].Timestamp got=%v want > 0", i, f.Timestamp)
		}
	}
	if rp.Frames[0].Done {
		t.Errorf("Frames[0].Done got=true want=false")
	}
	if !rp.Frames[1].Done {
		t.Errorf("Frames[1].Done got=false want=true")
	}
	if rp.Frames[0].Observations == nil {
		t.Errorf("Frames[0].Observations dropped despite IncludeObservations")
	}
	if got := rp.Frames[1].Rewards["a1"]; got != 1 {
		t.Errorf("Frames[1].Rewards[a1] got=%v want=1", got)
	}
}

func TestRecorder_ExcludeOptions(t *testing.T) {
	r := NewRecorder("m-1", "pong", []string{"a1"}, Options{})
	r.RecordFrame(map[string]any{"a1": 1}, map[string]any{"a1": 2}, nil, false, nil)

	f := r.Canonical().Frames[0]
	if f.Observations != nil {
		t.Errorf("Observations kept despite IncludeObservations=false: %#v", f.Observations)
	}
	if f.Actions != nil {
		t.Errorf("Actions kept despite IncludeActions=false: %#v", f.Actions)
	}
}

func TestRecorder_FrameCap(t *testing.T) {
	r := NewRecorder("m-1", "pong", []string{"a1"}, Options{MaxFrames: 3})

	for i := 0; i < 10; i++ {
		r.RecordFrame(nil, nil, map[string]float64{"a1": float64(i)}, false, nil)
	}

	if got := r.FrameCount(); got != 3 {
		t.Errorf("FrameCount() got=%d want=3", got)
	}
	if got := r.DroppedFrames(); got != 7 {
		t.Errorf("DroppedFrames() got=%d want=7", got)
	}

	// Kept frames are the first three, in record order
	for i, f := range r.Canonical().Frames {
		if got := f.Rewards["a1"]; got != float64(i) {
			t.Errorf("Frames[%d].Rewards[a1] got=%v want=%v", i, got, float64(i))
		}
	}
}

func TestRecorder_Finalize(t *testing.T) {
	r := NewRecorder("m-1", "pong", []string{"a1", "a2"}, Options{})
	r.RecordFrame(nil, nil, nil, true, nil)

	winner := "a1"
	r.Finalize("error", nil, 1)
	r.Finalize("success", &winner, 1)

	meta := r.Canonical().Metadata
	if meta.Status != "success" {
		t.Errorf("Status got=%q want=%q", meta.Status, "success")
	}
	if meta.Winner == nil || *meta.Winner != "a1" {
		t.Errorf("Winner got=%v want=a1", meta.Winner)
	}
	if meta.EndTime == nil {
		t.Fatalf("EndTime got=nil want set")
	}
	if *meta.EndTime < meta.StartTime {
		t.Errorf("EndTime %v before StartTime %v", *meta.EndTime, meta.StartTime)
	}
}

func TestRecorder_SaveLoad(t *testing.T) {
	tests := []struct {
		name       string
		opts       Options
		wantSuffix string
	}{
		{"plain", Options{IncludeObservations: true, IncludeActions: true}, ".json"},
		{"compressed", Options{IncludeObservations: true, IncludeActions: true, Compress: true}, ".json.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecorder("m-save", "pong", []string{"a1", "a2"}, tt.opts)
			r.RecordFrame(
				map[string]any{"a1": map[string]any{"x": 1.0}},
				map[string]any{"a1": 2.0, "a2": 3.0},
				map[string]float64{"a1": 1, "a2": -1},
				true,
				nil,
			)
			winner := "a1"
			r.Finalize("success", &winner, 1)

			path, err := r.Save(t.TempDir())
			if err != nil {
				t.Fatalf("Save() unexpected error: %#v", err)
			}
			if !strings.HasSuffix(path, tt.wantSuffix) {
				t.Errorf("Save() path=%q want suffix %q", path, tt.wantSuffix)
			}

			got, err := Load(path)
			if err != nil {
				t.Fatalf("Load() unexpected error: %#v", err)
			}
			if got.Metadata.MatchID != "m-save" || got.Metadata.Status != "success" {
				t.Errorf("Load() metadata mismatch: %#v", got.Metadata)
			}
			if got.Metadata.Winner == nil || *got.Metadata.Winner != "a1" {
				t.Errorf("Load() winner got=%v want=a1", got.Metadata.Winner)
			}
			if len(got.Frames) != 1 {
				t.Fatalf("Load() frames got=%d want=1", len(got.Frames))
			}
			if got.Frames[0].Rewards["a2"] != -1 {
				t.Errorf("Load() rewards[a2] got=%v want=-1", got.Frames[0].Rewards["a2"])
			}
		})
	}
}
