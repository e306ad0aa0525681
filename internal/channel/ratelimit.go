package channel

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Channel and throttles outbound Send calls so a burst
// of queued deliveries can't hammer a chat platform's own rate limit.
type RateLimited struct {
	Channel
	limiter *rate.Limiter
}

// NewRateLimited wraps ch with a token-bucket limiter allowing ratePerSec
// sends per second, up to burst sends at once.
func NewRateLimited(ch Channel, ratePerSec float64, burst int) *RateLimited {
	return &RateLimited{Channel: ch, limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Send blocks until the limiter admits this call (or ctx is cancelled),
// then delegates to the wrapped Channel.
func (r *RateLimited) Send(ctx context.Context, recipient, text string, threadID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.Channel.Send(ctx, recipient, text, threadID)
}

// limiterSet holds one limiter per channel ID, created lazily.
type limiterSet struct {
	mu         sync.Mutex
	limiters   map[string]*RateLimited
	ratePerSec float64
	burst      int
}

// NewLimiterSet returns a limiterSet that wraps each distinct channel the
// first time it's seen, reusing the same wrapper (and its bucket state)
// on every later call.
func NewLimiterSet(ratePerSec float64, burst int) *limiterSet {
	return &limiterSet{limiters: make(map[string]*RateLimited), ratePerSec: ratePerSec, burst: burst}
}

// Wrap returns ch's rate-limited wrapper, creating it on first use.
func (s *limiterSet) Wrap(ch Channel) *RateLimited {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rl, ok := s.limiters[ch.ID()]; ok {
		return rl
	}
	rl := NewRateLimited(ch, s.ratePerSec, s.burst)
	s.limiters[ch.ID()] = rl
	return rl
}
