package session

import "time"

// inboundLimiter is a token bucket over forwarded realtime events, counting
// both frames and bytes.
type inboundLimiter struct {
	now          func() time.Time
	eventRate    int64
	eventTokens  int64
	byteRate     int64
	byteTokens   int64
	burstSeconds int64
	lastRefill   time.Time
}

func newInboundLimiter(now func() time.Time, eventsPerSecond int, bytesPerSecond int64, burstSeconds int) *inboundLimiter {
	if eventsPerSecond <= 0 && bytesPerSecond <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}

	l := &inboundLimiter{
		now:          now,
		eventRate:    int64(eventsPerSecond),
		byteRate:     bytesPerSecond,
		burstSeconds: int64(burstSeconds),
		lastRefill:   now(),
	}
	if l.eventRate > 0 {
		l.eventTokens = l.eventRate * l.burstSeconds
	}
	if l.byteRate > 0 {
		l.byteTokens = l.byteRate * l.burstSeconds
	}
	return l
}

// Allow consumes one event of frameBytes, reporting false when either budget
// is exhausted. A nil limiter allows everything.
func (l *inboundLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	l.refill()

	if l.eventRate > 0 && l.eventTokens < 1 {
		return false
	}
	if frameBytes < 0 {
		frameBytes = 0
	}
	if l.byteRate > 0 && l.byteTokens < int64(frameBytes) {
		return false
	}
	if l.eventRate > 0 {
		l.eventTokens--
	}
	if l.byteRate > 0 {
		l.byteTokens -= int64(frameBytes)
	}
	return true
}

func (l *inboundLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}
	l.eventTokens = refillBucket(l.eventTokens, l.eventRate, l.burstSeconds, elapsed)
	l.byteTokens = refillBucket(l.byteTokens, l.byteRate, l.burstSeconds, elapsed)
	l.lastRefill = now
}

func refillBucket(tokens, rate, burstSeconds int64, elapsed time.Duration) int64 {
	if rate <= 0 {
		return tokens
	}
	tokens += (elapsed.Nanoseconds() * rate) / int64(time.Second)
	if limit := rate * burstSeconds; tokens > limit {
		tokens = limit
	}
	return tokens
}
