package reconcile

import (
	"time"

	"github.com/vango-go/callsim/pkg/core/transcript"
)

func (e *Engine) emitAgentBreadcrumb(agent string) {
	e.emitBreadcrumb("Agent: "+agent, transcript.Annotation{Agent: agent}, time.Time{})
}

// emitBreadcrumb appends a non-message entry to the timeline.
func (e *Engine) emitBreadcrumb(title string, annotation transcript.Annotation, createdAt time.Time) {
	seed := transcript.Seed{
		Kind:      transcript.KindBreadcrumb,
		Content:   title,
		Status:    transcript.StatusDone,
		CreatedAt: createdAt,
	}
	if annotation != (transcript.Annotation{}) {
		seed.Annotation = &annotation
	}
	item, created := e.store.Upsert(e.newID(), seed)
	if created {
		e.observer.ItemChanged(item)
	}
}
