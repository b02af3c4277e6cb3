// Package rate keeps an upstream HTTP client inside the provider's request
// budget. Calls over budget fail fast with a *LimitError instead of queueing.
package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const DefaultCooldown = time.Minute

// LimitError is returned when a call is blocked locally.
type LimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e *LimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity float64
	tokens   float64
	period   time.Duration
	last     time.Time
}

func (b *bucket) take(now time.Time) (bool, time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed > 0 {
		b.tokens += elapsed.Seconds() * b.capacity / b.period.Seconds()
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, time.Time{}
	}
	wait := time.Duration((1 - b.tokens) * float64(b.period) / b.capacity)
	return false, now.Add(wait)
}

// Guard enforces a Declaration.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu        sync.Mutex
	buckets   map[Window]*bucket
	cooldown  time.Time
	remaining int
}

func NewGuard(decl Declaration) *Guard {
	g := &Guard{
		decl:      decl,
		now:       time.Now,
		buckets:   make(map[Window]*bucket),
		remaining: -1,
	}
	start := g.now()
	for window, limit := range decl.Limits() {
		g.buckets[window] = &bucket{
			capacity: float64(limit),
			tokens:   float64(limit),
			period:   window.duration(),
			last:     start,
		}
	}
	return g
}

// Allow consumes one request from every window, or reports why not.
func (g *Guard) Allow() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()

	if now.Before(g.cooldown) {
		return g.block("cooldown", g.cooldown)
	}
	if g.remaining == 0 {
		return g.block("budget", g.cooldown)
	}
	for window, b := range g.buckets {
		if b.capacity <= 0 {
			return g.block("disabled", time.Time{})
		}
		if ok, retryAt := b.take(now); !ok {
			return g.block(window.String(), retryAt)
		}
	}
	return Decision{Allowed: true}
}

func (g *Guard) block(reason string, retryAt time.Time) Decision {
	blockedTotal.WithLabelValues(g.decl.ProviderName(), reason).Inc()
	return Decision{Reason: reason, RetryAt: retryAt}
}

// Observe records what the provider told us about the budget.
func (g *Guard) Observe(status int, header http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	provider := g.decl.ProviderName()
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))
	responsesTotal.WithLabelValues(provider, statusClass(status)).Inc()

	headers := g.decl.headers
	if v, ok := headerInt(header, headers.Remaining); ok {
		g.remaining = v
		remainingGauge.WithLabelValues(provider).Set(float64(v))
	}
	retryAfter, hasRetry := headerInt(header, headers.RetryAfter)
	switch {
	case hasRetry && retryAfter > 0:
		g.cooldown = now.Add(time.Duration(retryAfter) * time.Second)
	case status == http.StatusTooManyRequests:
		g.cooldown = now.Add(g.decl.cooldown)
	}
	if g.remaining == 0 && !now.Before(g.cooldown) {
		// No reset hint: give the budget one cooldown to recover.
		g.cooldown = now.Add(g.decl.cooldown)
		g.remaining = -1
	}
}

func headerInt(h http.Header, key string) (int, bool) {
	if key == "" {
		return 0, false
	}
	raw := h.Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Transport wraps base with the guard.
func (g *Guard) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &roundTripper{base: base, guard: g}
}

// WrapHTTP returns a copy of base whose transport is guarded by decl.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	client.Transport = NewGuard(decl).Transport(client.Transport)
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.Allow()
	if !decision.Allowed {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, &LimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.Observe(resp.StatusCode, resp.Header)
	return resp, nil
}
