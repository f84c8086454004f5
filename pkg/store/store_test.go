package store

import (
	"testing"
	"time"
)

func TestPrepare_Defaults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	c := &Call{}
	if err := Prepare(c, now); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if c.ID == "" {
		t.Fatalf("ID not assigned")
	}
	if c.CallType != CallTypeOther || c.CallStatus != CallStatusCompleted || c.PriorityLevel != 1 {
		t.Fatalf("defaults=%q/%q/%d", c.CallType, c.CallStatus, c.PriorityLevel)
	}
	if !c.StartTime.Equal(now) || c.StartTime.Location() != time.UTC {
		t.Fatalf("start=%v", c.StartTime)
	}
	if !c.CreatedAt.Equal(now) || !c.UpdatedAt.Equal(now) {
		t.Fatalf("created=%v updated=%v", c.CreatedAt, c.UpdatedAt)
	}
}

func TestPrepare_Rejects(t *testing.T) {
	now := time.Now()
	for name, c := range map[string]*Call{
		"type":     {CallType: "arson"},
		"status":   {CallStatus: "open"},
		"priority": {PriorityLevel: 9},
	} {
		if err := Prepare(c, now); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if err := Prepare(nil, now); err == nil {
		t.Fatalf("nil call: expected error")
	}
}

func TestListLimit(t *testing.T) {
	if got := ListLimit(0); got != 500 {
		t.Fatalf("ListLimit(0)=%d", got)
	}
	if got := ListLimit(20); got != 20 {
		t.Fatalf("ListLimit(20)=%d", got)
	}
	if got := ListLimit(10000); got != 500 {
		t.Fatalf("ListLimit(10000)=%d", got)
	}
}
