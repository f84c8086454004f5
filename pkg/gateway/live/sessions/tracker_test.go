package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTracker_RegisterUnregister_CountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	u1 := tr.Register("s1", Handle{})
	u2 := tr.Register("s2", Handle{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	u1()
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	u2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTracker_CancelAll_CallsCancel(t *testing.T) {
	tr := NewTracker()
	var c1, c2 atomic.Int64
	tr.Register("s1", Handle{Cancel: func() { c1.Add(1) }})
	tr.Register("s2", Handle{Cancel: func() { c2.Add(1) }})

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestTracker_WarnAll_BestEffort(t *testing.T) {
	tr := NewTracker()
	var w1, w2 atomic.Int64
	tr.Register("s1", Handle{Warn: func(code, message string) error {
		_ = code
		_ = message
		w1.Add(1)
		return nil
	}})
	tr.Register("s2", Handle{Warn: func(code, message string) error {
		_ = code
		_ = message
		w2.Add(1)
		return errors.New("nope")
	}})

	if sent := tr.WarnAll("draining", "test"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if w1.Load() != 1 || w2.Load() != 1 {
		t.Fatalf("warn calls=%d/%d, want 1/1", w1.Load(), w2.Load())
	}
}

func TestTracker_ListOldestFirst(t *testing.T) {
	tr := NewTracker()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	tr.Register("s2", Handle{ScenarioKey: "alarm", ActiveAgent: "Josh", StartedAt: base.Add(time.Minute)})
	tr.Register("s1", Handle{ScenarioKey: "house_fire", ActiveAgent: "Domi", StartedAt: base})

	got := tr.List()
	if len(got) != 2 {
		t.Fatalf("len=%d, want 2", len(got))
	}
	if got[0].SessionID != "s1" || got[0].ScenarioKey != "house_fire" || got[0].ActiveAgent != "Domi" {
		t.Fatalf("first=%+v", got[0])
	}
	if got[1].SessionID != "s2" {
		t.Fatalf("second=%+v", got[1])
	}
}

func TestTracker_ReRegisterReplaces(t *testing.T) {
	tr := NewTracker()
	tr.Register("s1", Handle{ScenarioKey: "old"})
	unregister := tr.Register("s1", Handle{ScenarioKey: "new"})
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
	if got := tr.List()[0].ScenarioKey; got != "new" {
		t.Fatalf("scenario=%q, want new", got)
	}
	unregister()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if !tr.Wait(ctx) {
		t.Fatalf("Wait() = false after all sessions unregistered")
	}
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker
	tr.Register("s1", Handle{})()
	if tr.Count() != 0 || tr.List() != nil || tr.CancelAll() != 0 || tr.WarnAll("x", "y") != 0 {
		t.Fatalf("nil tracker should be inert")
	}
	if !tr.Wait(context.Background()) {
		t.Fatalf("nil tracker Wait() = false")
	}
}

func TestTracker_SetActiveAgent(t *testing.T) {
	tr := NewTracker()
	unregister := tr.Register("s1", Handle{ActiveAgent: "Rachel"})
	defer unregister()

	tr.SetActiveAgent("s1", "Arnold")
	tr.SetActiveAgent("missing", "Josh")

	list := tr.List()
	if len(list) != 1 || list[0].ActiveAgent != "Arnold" {
		t.Fatalf("list=%+v, want Arnold", list)
	}
	var nilTracker *Tracker
	nilTracker.SetActiveAgent("s1", "x")
}
