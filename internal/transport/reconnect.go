package transport

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// stableAfter is how long a connection must survive before the backoff
// attempt counter starts over.
const stableAfter = 60 * time.Second

type reconnector struct {
	mu          sync.Mutex
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg Config) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.mu.Lock()
	r.connectedAt = time.Now()
	r.mu.Unlock()
}

// nextDelay returns the wait before the next attempt: exponential in the
// attempt number, plus up to 50% of the base as jitter, capped at maxDelay.
func (r *reconnector) nextDelay() (attempt int, delay time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > stableAfter {
		r.attempt = 0
	}
	r.connectedAt = time.Time{}
	jitter := rand.Float64() * float64(r.baseDelay) * 0.5
	d := math.Min(float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+jitter, float64(r.maxDelay))
	r.attempt++
	return r.attempt, time.Duration(d)
}

func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.connectedAt = time.Time{}
	r.mu.Unlock()
}
