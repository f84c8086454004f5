package transcript

import (
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Seed carries the fields an item is created with. Zero fields take defaults:
// CreatedAt is the store clock, Status is PENDING, Kind is MESSAGE.
type Seed struct {
	Kind       Kind
	Role       Role
	Content    string
	Status     Status
	CreatedAt  time.Time
	Hidden     bool
	Guardrail  *Guardrail
	Annotation *Annotation
}

// Patch is a shallow merge. Nil or empty fields are left untouched.
type Patch struct {
	Status     Status
	Guardrail  *Guardrail
	Hidden     *bool
	Annotation *Annotation
}

// Store is the ordered timeline of one call. It is not safe for concurrent
// use; a single writer owns it and hands out copies.
type Store struct {
	logger *slog.Logger
	now    func() time.Time

	byID  map[string]*Item
	order []*Item
	seq   uint64
}

func NewStore(logger *slog.Logger, now func() time.Time) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Store{
		logger: logger,
		now:    now,
		byID:   make(map[string]*Item),
	}
}

func (s *Store) Len() int {
	return len(s.order)
}

func (s *Store) Has(id string) bool {
	_, ok := s.byID[id]
	return ok
}

func (s *Store) Get(id string) (Item, bool) {
	it, ok := s.byID[id]
	if !ok {
		return Item{}, false
	}
	return it.Clone(), true
}

// Snapshot returns every item in display order.
func (s *Store) Snapshot() []Item {
	out := make([]Item, len(s.order))
	for i, it := range s.order {
		out[i] = it.Clone()
	}
	return out
}

// Last returns the most recently created message with the given role.
func (s *Store) Last(role Role) (Item, bool) {
	for i := len(s.order) - 1; i >= 0; i-- {
		it := s.order[i]
		if it.Kind == KindMessage && it.Role == role {
			return it.Clone(), true
		}
	}
	return Item{}, false
}

// Upsert creates the item if it is absent. An existing item is returned
// unchanged.
func (s *Store) Upsert(id string, seed Seed) (Item, bool) {
	if existing, ok := s.byID[id]; ok {
		return existing.Clone(), false
	}

	it := &Item{
		ID:         id,
		Kind:       seed.Kind,
		Role:       seed.Role,
		Content:    seed.Content,
		CreatedAt:  seed.CreatedAt,
		Status:     seed.Status,
		Hidden:     seed.Hidden,
		Guardrail:  seed.Guardrail,
		Annotation: seed.Annotation,
	}
	if it.Kind == "" {
		it.Kind = KindMessage
	}
	if it.Kind == KindBreadcrumb {
		it.Role = ""
	}
	if it.Status == "" {
		it.Status = StatusPending
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = s.now()
	}
	s.seq++
	it.seq = s.seq
	if it.Guardrail != nil {
		g := *it.Guardrail
		it.Guardrail = &g
	}
	if it.Annotation != nil {
		a := *it.Annotation
		it.Annotation = &a
	}

	s.byID[id] = it
	s.insertOrdered(it)
	return it.Clone(), true
}

func (s *Store) insertOrdered(it *Item) {
	idx := sort.Search(len(s.order), func(i int) bool {
		o := s.order[i]
		if !o.CreatedAt.Equal(it.CreatedAt) {
			return o.CreatedAt.After(it.CreatedAt)
		}
		return o.seq > it.seq
	})
	s.order = append(s.order, nil)
	copy(s.order[idx+1:], s.order[idx:])
	s.order[idx] = it
}

// AppendContent concatenates delta onto the item's content. Appending to an
// unknown id is a logged no-op.
func (s *Store) AppendContent(id, delta string) (Item, bool) {
	it, ok := s.byID[id]
	if !ok {
		s.logger.Warn("append to unknown transcript item", "item_id", id)
		return Item{}, false
	}
	it.Content += delta
	return it.Clone(), true
}

// ReplaceContent overwrites the item's content verbatim.
func (s *Store) ReplaceContent(id, text string) (Item, bool) {
	it, ok := s.byID[id]
	if !ok {
		s.logger.Warn("replace on unknown transcript item", "item_id", id)
		return Item{}, false
	}
	it.Content = text
	return it.Clone(), true
}

// Patch merges the non-empty fields of p into the item. The returned bool is
// false when the id is unknown; changed reports whether anything moved.
func (s *Store) Patch(id string, p Patch) (item Item, ok bool, changed bool) {
	it, found := s.byID[id]
	if !found {
		s.logger.Warn("patch on unknown transcript item", "item_id", id)
		return Item{}, false, false
	}

	if p.Status != "" {
		next := Advance(it.Status, p.Status)
		if next != it.Status {
			it.Status = next
			changed = true
		} else if next != p.Status {
			s.logger.Debug("ignored backward status transition", "item_id", id, "status", it.Status, "requested", p.Status)
		}
	}
	if p.Guardrail != nil {
		if g, moved := MergeGuardrail(it.Guardrail, *p.Guardrail); moved {
			it.Guardrail = g
			changed = true
		}
	}
	if p.Hidden != nil && *p.Hidden != it.Hidden {
		it.Hidden = *p.Hidden
		changed = true
	}
	if p.Annotation != nil {
		if mergeAnnotation(it, *p.Annotation) {
			changed = true
		}
	}
	return it.Clone(), true, changed
}

func mergeAnnotation(it *Item, p Annotation) bool {
	if it.Annotation == nil {
		it.Annotation = &Annotation{}
	}
	a := it.Annotation
	changed := false
	set := func(dst *string, v string) {
		if strings.TrimSpace(v) == "" || *dst == v {
			return
		}
		*dst = v
		changed = true
	}
	set(&a.ToolName, p.ToolName)
	set(&a.Arguments, p.Arguments)
	set(&a.Output, p.Output)
	set(&a.Agent, p.Agent)
	return changed
}
