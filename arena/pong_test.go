package arena

import (
	"reflect"
	"testing"
)

func newTestPong(t *testing.T, seed int64) Environment {
	t.Helper()
	env, err := New("pong", []string{"left", "right"}, seed)
	if err != nil {
		t.Fatalf("New(pong) unexpected error: %#v", err)
	}
	return env
}

func TestPong_RequiresTwoAgents(t *testing.T) {
	tests := []struct {
		name   string
		agents []string
	}{
		{"one agent", []string{"solo"}},
		{"three agents", []string{"a", "b", "c"}},
		{"no agents", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New("pong", tt.agents, 1); err == nil {
				t.Errorf("New(pong) err=nil want arity error")
			}
		})
	}
}

func TestPong_Reset(t *testing.T) {
	env := newTestPong(t, 7)
	obs, err := env.Reset()
	if err != nil {
		t.Fatalf("Reset() unexpected error: %#v", err)
	}

	for _, id := range []string{"left", "right"} {
		vec, ok := obs[id].([]float64)
		if !ok {
			t.Fatalf("Reset() obs[%s] type=%T want []float64", id, obs[id])
		}
		if len(vec) != 6 {
			t.Fatalf("Reset() obs[%s] length=%d want 6", id, len(vec))
		}
		// Ball serves from center; own paddle starts centered
		if vec[0] != 0.5 || vec[1] != 0.5 {
			t.Errorf("obs[%s] ball got=(%v,%v) want=(0.5,0.5)", id, vec[0], vec[1])
		}
		if vec[4] != 0.5 {
			t.Errorf("obs[%s] own paddle got=%v want=0.5", id, vec[4])
		}
	}
}

func TestPong_EgocentricObservations(t *testing.T) {
	env := newTestPong(t, 7)
	obs, err := env.Reset()
	if err != nil {
		t.Fatalf("Reset() unexpected error: %#v", err)
	}

	l := obs["left"].([]float64)
	r := obs["right"].([]float64)
	if l[0] != 1-r[0] {
		t.Errorf("ball x not mirrored: left=%v right=%v", l[0], r[0])
	}
	if l[2] != -r[2] {
		t.Errorf("ball vx not mirrored: left=%v right=%v", l[2], r[2])
	}
}

func TestPong_PaddleMovementAndClamp(t *testing.T) {
	env := newTestPong(t, 7)
	if _, err := env.Reset(); err != nil {
		t.Fatalf("Reset() unexpected error: %#v", err)
	}

	// Drive the left paddle up far past the wall; it must clamp
	var last []float64
	for i := 0; i < 30; i++ {
		res, err := env.Step(map[string]any{"left": PongUp, "right": PongStay})
		if err != nil {
			t.Fatalf("Step() unexpected error: %#v", err)
		}
		last = res.Observations["left"].([]float64)
		if res.Done {
			break
		}
	}
	if got := last[4]; got != pongPaddleHalf {
		t.Errorf("clamped paddle got=%v want=%v", got, pongPaddleHalf)
	}
}

func TestPong_InvalidAction(t *testing.T) {
	env := newTestPong(t, 7)
	if _, err := env.Reset(); err != nil {
		t.Fatalf("Reset() unexpected error: %#v", err)
	}

	tests := []struct {
		name    string
		actions map[string]any
	}{
		{"wrong type", map[string]any{"left": "up", "right": PongStay}},
		{"out of range", map[string]any{"left": 9, "right": PongStay}},
		{"missing action", map[string]any{"right": PongStay}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.Step(tt.actions); err == nil {
				t.Errorf("Step(%v) err=nil want action error", tt.actions)
			}
		})
	}
}

func TestPong_Deterministic(t *testing.T) {
	a := newTestPong(t, 42)
	b := newTestPong(t, 42)
	obsA, _ := a.Reset()
	obsB, _ := b.Reset()
	if !reflect.DeepEqual(obsA, obsB) {
		t.Fatalf("Reset() diverged for equal seeds:\na=%#v\nb=%#v", obsA, obsB)
	}

	actions := map[string]any{"left": PongStay, "right": PongDown}
	for i := 0; i < 50; i++ {
		ra, errA := a.Step(actions)
		rb, errB := b.Step(actions)
		if errA != nil || errB != nil {
			t.Fatalf("Step() unexpected errors: %#v %#v", errA, errB)
		}
		if !reflect.DeepEqual(ra, rb) {
			t.Fatalf("Step() diverged at %d:\na=%#v\nb=%#v", i, ra, rb)
		}
		if ra.Done {
			break
		}
	}
}

func TestPong_PlaysToCompletion(t *testing.T) {
	env := newTestPong(t, 3)
	if _, err := env.Reset(); err != nil {
		t.Fatalf("Reset() unexpected error: %#v", err)
	}

	actions := map[string]any{"left": PongStay, "right": PongStay}
	totals := map[string]float64{}
	done := false
	for i := 0; i < 20000 && !done; i++ {
		res, err := env.Step(actions)
		if err != nil {
			t.Fatalf("Step() unexpected error: %#v", err)
		}
		for id, r := range res.Rewards {
			totals[id] += r
		}
		done = res.Done
	}
	if !done {
		t.Fatalf("episode never finished")
	}

	// A finished episode means someone reached the winning score
	if totals["left"] == totals["right"] {
		t.Errorf("finished episode has tied totals: %v", totals)
	}

	// Stepping a finished episode is an error
	if _, err := env.Step(actions); err == nil {
		t.Errorf("Step() after done err=nil want error")
	}
}

func TestPong_SpacesAndSample(t *testing.T) {
	env := newTestPong(t, 7)

	as := env.ActionSpace("left")
	if as.Type != SpaceDiscrete || as.N != 3 {
		t.Errorf("ActionSpace got=%#v want discrete(3)", as)
	}
	os := env.ObservationSpace("left")
	if os.Type != SpaceBox || len(os.Shape) != 1 || os.Shape[0] != 6 {
		t.Errorf("ObservationSpace got=%#v want box shape [6]", os)
	}

	for i := 0; i < 20; i++ {
		v := env.Sample("left")
		n, ok := v.(int)
		if !ok || n < 0 || n > 2 {
			t.Fatalf("Sample() got=%#v want int in [0,3)", v)
		}
	}
}
