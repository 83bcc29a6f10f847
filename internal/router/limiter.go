package router

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	// DefaultFailureRate is the sustained rate of failed authentications
	// allowed per client, in attempts per second.
	DefaultFailureRate = 1.0

	// DefaultFailureBurst is the number of failed authentications a client
	// may make before being throttled.
	DefaultFailureBurst = 10

	maxTrackedClients = 10000
)

// FailureLimiter throttles clients that repeatedly fail authentication.
// Only failures consume tokens.
type FailureLimiter struct {
	mu      sync.Mutex
	clients map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// NewFailureLimiter creates a limiter allowing burst failures per client,
// refilled at perSecond.
func NewFailureLimiter(perSecond float64, burst int) *FailureLimiter {
	return &FailureLimiter{
		clients: make(map[string]*rate.Limiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
	}
}

// Blocked reports whether client has exhausted its failure budget.
func (l *FailureLimiter) Blocked(client string) bool {
	l.mu.Lock()
	lim, ok := l.clients[client]
	l.mu.Unlock()

	return ok && lim.Tokens() < 1
}

// RecordFailure consumes one token for client. It returns false once the
// client is over its budget.
func (l *FailureLimiter) RecordFailure(client string) bool {
	return l.limiterFor(client).Allow()
}

func (l *FailureLimiter) limiterFor(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.clients[client]
	if !ok {
		// Simple cleanup: forget everyone if too many clients are tracked
		if len(l.clients) >= maxTrackedClients {
			l.clients = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients[client] = lim
	}
	return lim
}
