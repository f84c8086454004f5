package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vango-go/callsim/pkg/store"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "calls.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func strp(s string) *string { return &s }

func TestStore_CreateAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	lat := 47.3
	end := time.Date(2026, 5, 1, 9, 5, 0, 0, time.UTC)
	call := &store.Call{
		CallerAddress:   "2606 SPRING STREET",
		Latitude:        &lat,
		RecordingURL:    "file:///tmp/rec.mp3",
		StartTime:       time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		EndTime:         &end,
		DurationSeconds: 300,
	}
	if err := s.CreateCall(ctx, call); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}

	got, err := s.GetCall(ctx, call.ID)
	if err != nil {
		t.Fatalf("GetCall() error = %v", err)
	}
	if got.CallerAddress != "2606 SPRING STREET" || got.CallType != store.CallTypeOther || got.CallStatus != store.CallStatusCompleted {
		t.Fatalf("got=%+v", got)
	}
	if got.Latitude == nil || *got.Latitude != lat || got.Longitude != nil {
		t.Fatalf("lat=%v lng=%v", got.Latitude, got.Longitude)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) || got.DurationSeconds != 300 {
		t.Fatalf("end=%v duration=%d", got.EndTime, got.DurationSeconds)
	}
	if !got.StartTime.Equal(call.StartTime) {
		t.Fatalf("start=%v, want %v", got.StartTime, call.StartTime)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	if _, err := s.GetCall(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if _, err := s.LatestCall(context.Background()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("latest err=%v, want ErrNotFound", err)
	}
}

func TestStore_ListAndLatest(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i, status := range []store.CallStatus{store.CallStatusCompleted, store.CallStatusPending, store.CallStatusCompleted} {
		*clock = clock.Add(time.Minute)
		c := &store.Call{CallStatus: status, Description: string(rune('a' + i))}
		if err := s.CreateCall(ctx, c); err != nil {
			t.Fatalf("CreateCall() error = %v", err)
		}
		ids = append(ids, c.ID)
	}

	all, err := s.ListCalls(ctx, store.ListFilter{})
	if err != nil {
		t.Fatalf("ListCalls() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Fatalf("list order wrong: %v", all)
	}

	done, err := s.ListCalls(ctx, store.ListFilter{Status: store.CallStatusCompleted})
	if err != nil {
		t.Fatalf("ListCalls(completed) error = %v", err)
	}
	if len(done) != 2 {
		t.Fatalf("len(completed)=%d, want 2", len(done))
	}

	latest, err := s.LatestCall(ctx)
	if err != nil {
		t.Fatalf("LatestCall() error = %v", err)
	}
	if latest.ID != ids[2] {
		t.Fatalf("latest=%s, want %s", latest.ID, ids[2])
	}
}

func TestStore_UpdateCallerDetails(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	c := &store.Call{CallerPhone: "555-000-1111"}
	if err := s.CreateCall(ctx, c); err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	*clock = clock.Add(time.Hour)

	got, err := s.UpdateCallerDetails(ctx, c.ID, store.CallerDetails{
		CallerName:  strp("Alex Taylor"),
		Description: strp("Abandoned vehicle near farm"),
	})
	if err != nil {
		t.Fatalf("UpdateCallerDetails() error = %v", err)
	}
	if got.CallerName != "Alex Taylor" || got.Description != "Abandoned vehicle near farm" {
		t.Fatalf("got=%+v", got)
	}
	if got.CallerPhone != "555-000-1111" {
		t.Fatalf("nil field overwrote phone: %q", got.CallerPhone)
	}
	if !got.UpdatedAt.Equal(*clock) {
		t.Fatalf("updated_at=%v, want %v", got.UpdatedAt, *clock)
	}

	if _, err := s.UpdateCallerDetails(ctx, "missing", store.CallerDetails{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}
