package irc

import (
	"context"

	"golang.org/x/time/rate"
)

// Lease is the outcome of one RateLimiter.acquire call: either a grant
// (Acquired true) that the send pipeline proceeds on, or a rejection
// the caller surfaces as ErrRateLimitRejected.
type Lease struct {
	Acquired bool
	Reason   string
}

// RateLimiter gates outbound commands. The send pipeline calls acquire
// once per command before writing it to the transport; implementations
// may block (respecting cancel) or return immediately.
type RateLimiter interface {
	acquire(ctx context.Context, cmd *Command) (Lease, error)
}

// tokenBucketLimiter is the default RateLimiter, wrapping
// golang.org/x/time/rate.Limiter. PRIVMSG/NOTICE/most client commands
// share one bucket; PONG, AUTHENTICATE and CAP bypass the limiter
// entirely since delaying them risks tripping the server's own ping
// timeout or stalling registration.
type tokenBucketLimiter struct {
	limiter *rate.Limiter
}

func newTokenBucketLimiter(perSecond float64, burst int) *tokenBucketLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucketLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (l *tokenBucketLimiter) acquire(ctx context.Context, cmd *Command) (Lease, error) {
	if bypassesRateLimit(cmd.Verb) {
		return Lease{Acquired: true}, nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return Lease{}, cancelled("rate limit wait cancelled")
		}
		return Lease{Acquired: false, Reason: err.Error()}, nil
	}
	return Lease{Acquired: true}, nil
}

func bypassesRateLimit(verb string) bool {
	switch verb {
	case "PONG", "AUTHENTICATE", "CAP":
		return true
	default:
		return false
	}
}

// noRateLimit always grants immediately, for callers that want to
// disable throttling entirely (RateLimitPerSecond <= 0 and
// RateLimitBurst <= 0 together select it).
type noRateLimit struct{}

func (noRateLimit) acquire(ctx context.Context, cmd *Command) (Lease, error) {
	if ctx.Err() != nil {
		return Lease{}, cancelled("context already done")
	}
	return Lease{Acquired: true}, nil
}
