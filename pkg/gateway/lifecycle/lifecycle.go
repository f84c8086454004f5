// Package lifecycle holds the server's draining state. Readiness and the live
// call endpoint consult it during graceful shutdown.
package lifecycle

import (
	"sync/atomic"
	"time"
)

type Lifecycle struct {
	draining atomic.Bool
	since    atomic.Int64 // unix nanos when draining began
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	if draining {
		l.since.CompareAndSwap(0, time.Now().UnixNano())
	} else {
		l.since.Store(0)
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// DrainingSince reports when draining began, or the zero time.
func (l *Lifecycle) DrainingSince() time.Time {
	if l == nil {
		return time.Time{}
	}
	ns := l.since.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
