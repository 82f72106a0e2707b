package match

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTracker_AddRemove(t *testing.T) {
	tr := NewTracker()

	ctx, err := tr.Add(context.Background(), "m1", "pong")
	if err != nil {
		t.Fatalf("Add() err = %v", err)
	}
	if ctx == nil {
		t.Fatal("Add() returned nil context")
	}
	if got := tr.Count(); got != 1 {
		t.Errorf("Count() got=%d want=1", got)
	}

	if _, err := tr.Add(context.Background(), "m1", "pong"); !errors.Is(err, ErrDuplicateMatch) {
		t.Errorf("Add() duplicate err=%v want ErrDuplicateMatch", err)
	}

	tr.Remove("m1")
	if got := tr.Count(); got != 0 {
		t.Errorf("Count() after Remove got=%d want=0", got)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Remove() did not cancel the match context")
	}

	// ids are reusable once removed
	if _, err := tr.Add(context.Background(), "m1", "pong"); err != nil {
		t.Errorf("Add() after Remove err = %v", err)
	}
}

func TestTracker_Cancel(t *testing.T) {
	tr := NewTracker()
	ctx, err := tr.Add(context.Background(), "m1", "pong")
	if err != nil {
		t.Fatalf("Add() err = %v", err)
	}

	if !tr.Cancel("m1") {
		t.Fatal("Cancel() got=false want=true")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Error("Cancel() did not cancel the match context")
	}

	// entry remains until the engine removes it
	if got := tr.Count(); got != 1 {
		t.Errorf("Count() after Cancel got=%d want=1", got)
	}

	tr.Remove("m1")
	if tr.Cancel("m1") {
		t.Error("Cancel() after Remove got=true want=false")
	}
}

func TestTracker_CancelUnknown(t *testing.T) {
	tr := NewTracker()
	if tr.Cancel("nope") {
		t.Error("Cancel() unknown id got=true want=false")
	}
}

func TestTracker_Snapshot(t *testing.T) {
	tr := NewTracker()
	for _, m := range []struct{ id, env string }{
		{"m1", "pong"},
		{"m2", "pong"},
		{"m3", "chess"},
	} {
		if _, err := tr.Add(context.Background(), m.id, m.env); err != nil {
			t.Fatalf("Add(%s) err = %v", m.id, err)
		}
	}

	got := tr.Snapshot()
	if got["pong"] != 2 || got["chess"] != 1 || len(got) != 2 {
		t.Errorf("Snapshot() got=%#v want pong:2 chess:1", got)
	}
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker

	base := context.Background()
	ctx, err := tr.Add(base, "m1", "pong")
	if err != nil || ctx != base {
		t.Errorf("nil Add() got=(%v, %v) want passthrough context", ctx, err)
	}
	tr.SetPhase("m1", PhaseStepping)
	tr.Remove("m1")
	if tr.Cancel("m1") {
		t.Error("nil Cancel() got=true want=false")
	}
	if got := tr.Count(); got != 0 {
		t.Errorf("nil Count() got=%d want=0", got)
	}
	if got := tr.Snapshot(); len(got) != 0 {
		t.Errorf("nil Snapshot() got=%#v want empty", got)
	}
}
