// Package sessions tracks in-progress live calls so the server can list them
// and drain them on shutdown.
package sessions

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Handle struct {
	ScenarioKey string
	ActiveAgent string
	StartedAt   time.Time

	Cancel func()
	Warn   func(code, message string) error
}

// Summary describes one live call.
type Summary struct {
	SessionID   string    `json:"session_id"`
	ScenarioKey string    `json:"scenario_key,omitempty"`
	ActiveAgent string    `json:"active_agent,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{
		sessions: make(map[string]*trackedSession),
	}
}

// Register adds a call. Registering an id twice replaces the earlier entry.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &trackedSession{handle: h}

	t.mu.Lock()
	if t.sessions == nil {
		t.sessions = make(map[string]*trackedSession)
	}
	old := t.sessions[sessionID]
	t.sessions[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionID, old)
	}

	return func() { t.unregister(sessionID, entry) }
}

func (t *Tracker) unregister(sessionID string, entry *trackedSession) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionID] == entry {
			delete(t.sessions, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// SetActiveAgent records a handoff for a registered call. Unknown ids are
// ignored.
func (t *Tracker) SetActiveAgent(sessionID, agent string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.sessions[sessionID]; ok {
		entry.handle.ActiveAgent = agent
	}
}

// List returns live calls, oldest first.
func (t *Tracker) List() []Summary {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	out := make([]Summary, 0, len(t.sessions))
	for id, entry := range t.sessions {
		out = append(out, Summary{
			SessionID:   id,
			ScenarioKey: entry.handle.ScenarioKey,
			ActiveAgent: entry.handle.ActiveAgent,
			StartedAt:   entry.handle.StartedAt,
		})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// WarnAll sends a warning frame to every live call and reports how many
// were attempted.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(code, message string) error
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll ends every live call. Cancelled calls are still saved.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered call has unregistered or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
