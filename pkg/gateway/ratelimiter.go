package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRequestsPerMinute = 120
	defaultMaxConcurrent     = 16
)

// ClientRateLimiter bounds one client with a token bucket refilled at
// requestsPerMinute and a cap on requests in flight. The bucket holds a full
// minute of requests, so an idle client may burst.
type ClientRateLimiter struct {
	bucket        *rate.Limiter
	maxConcurrent int
	now           func() time.Time

	mu       sync.Mutex
	inFlight int
}

// NewClientRateLimiter creates a new rate limiter with default limits
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(defaultRequestsPerMinute, defaultMaxConcurrent)
}

// NewClientRateLimiterWithLimits creates a rate limiter with custom limits
func NewClientRateLimiterWithLimits(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		bucket:        rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), requestsPerMinute),
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// Acquire admits one request. The returned release must be called when the
// request completes. A rejected request returns a nil release and the RPC
// error to send back. The concurrency cap is checked first so a rejected
// call never spends a token.
func (r *ClientRateLimiter) Acquire() (func(), *RPCError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inFlight >= r.maxConcurrent {
		return nil, &RPCError{Code: TooManyConcurrent, Message: "too many concurrent requests"}
	}
	if !r.bucket.AllowN(r.now(), 1) {
		return nil, &RPCError{Code: RateLimitExceeded, Message: "rate limit exceeded"}
	}
	r.inFlight++

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.inFlight--
			r.mu.Unlock()
		})
	}, nil
}

// Stats returns the tokens left in the bucket and the requests in flight.
func (r *ClientRateLimiter) Stats() (tokens float64, inFlight int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bucket.TokensAt(r.now()), r.inFlight
}
