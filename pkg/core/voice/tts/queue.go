package tts

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultMinGap spaces consecutive requests to stay under provider rate
// limits.
const DefaultMinGap = 100 * time.Millisecond

var errQueueClosed = errors.New("tts: queue closed")

type queueJob struct {
	ctx   context.Context
	text  string
	voice string
	reply chan queueResult
}

type queueResult struct {
	audio []byte
	err   error
}

// Queue runs synthesis requests one at a time, in arrival order, with a
// minimum gap between them.
type Queue struct {
	provider Provider
	gap      time.Duration

	jobs chan queueJob
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewQueue(provider Provider, gap time.Duration) *Queue {
	if gap < 0 {
		gap = 0
	}
	q := &Queue{
		provider: provider,
		gap:      gap,
		jobs:     make(chan queueJob),
		done:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

// Synthesize blocks until the request has been served or ctx ends.
func (q *Queue) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	job := queueJob{ctx: ctx, text: text, voice: voiceID, reply: make(chan queueResult, 1)}
	select {
	case q.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.done:
		return nil, errQueueClosed
	}
	select {
	case res := <-job.reply:
		return res.audio, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		var job queueJob
		select {
		case <-q.done:
			return
		case job = <-q.jobs:
		}

		if err := job.ctx.Err(); err != nil {
			job.reply <- queueResult{err: err}
			continue
		}
		out, err := q.provider.Synthesize(job.ctx, job.text, SynthesizeOptions{Voice: job.voice})
		res := queueResult{err: err}
		if out != nil {
			res.audio = out.Audio
		}
		job.reply <- res

		if q.gap <= 0 {
			continue
		}
		t := time.NewTimer(q.gap)
		select {
		case <-t.C:
		case <-q.done:
			t.Stop()
			return
		}
	}
}

// Close stops the worker. Pending callers receive an error.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.done) })
	q.wg.Wait()
}
