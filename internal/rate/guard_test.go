package rate

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestGuard(decl Declaration) (*Guard, *clock) {
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewGuard(decl)
	g.now = c.now
	for _, b := range g.buckets {
		b.last = c.t
	}
	return g, c
}

func TestGuardMinuteBudget(t *testing.T) {
	g, c := newTestGuard(Provider("test").MaxRequestsPer(Minute, 2))

	for i := 0; i < 2; i++ {
		if d := g.Allow(); !d.Allowed {
			t.Fatalf("call %d should be allowed: %+v", i, d)
		}
	}
	d := g.Allow()
	if d.Allowed || d.Reason != "minute" {
		t.Fatalf("expected minute block, got %+v", d)
	}
	if !d.RetryAt.After(c.t) {
		t.Fatalf("expected retry in the future, got %s", d.RetryAt)
	}

	c.t = c.t.Add(30 * time.Second)
	if d := g.Allow(); !d.Allowed {
		t.Fatalf("expected refill after 30s: %+v", d)
	}
}

func TestGuardRetryAfterCooldown(t *testing.T) {
	g, c := newTestGuard(Provider("test").MaxRequestsPer(Minute, 100).ReadHeaders(StandardHeaders()))

	header := http.Header{}
	header.Set("Retry-After", "10")
	g.Observe(http.StatusTooManyRequests, header)

	if d := g.Allow(); d.Allowed || d.Reason != "cooldown" {
		t.Fatalf("expected cooldown, got %+v", d)
	}
	c.t = c.t.Add(11 * time.Second)
	if d := g.Allow(); !d.Allowed {
		t.Fatalf("expected allowed after cooldown: %+v", d)
	}
}

func TestGuard429WithoutHeader(t *testing.T) {
	g, c := newTestGuard(Provider("test").MaxRequestsPer(Minute, 100).CooldownOn429(5 * time.Second))

	g.Observe(http.StatusTooManyRequests, http.Header{})
	if d := g.Allow(); d.Allowed {
		t.Fatalf("expected cooldown after 429")
	}
	c.t = c.t.Add(6 * time.Second)
	if d := g.Allow(); !d.Allowed {
		t.Fatalf("expected allowed after cooldown: %+v", d)
	}
}

func TestWrapHTTPBlocksOverBudget(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := WrapHTTP(Provider("test").MaxRequestsPer(Minute, 1), srv.Client())

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	resp.Body.Close()

	_, err = client.Get(srv.URL)
	var limitErr *LimitError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected LimitError, got %v", err)
	}
	if limitErr.Provider != "test" {
		t.Fatalf("unexpected provider: %s", limitErr.Provider)
	}
	if calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
}

func TestObserveCountsStatusClass(t *testing.T) {
	g, _ := newTestGuard(Provider("classes").MaxRequestsPer(Minute, 10))
	g.Observe(http.StatusOK, http.Header{})
	g.Observe(http.StatusNoContent, http.Header{})
	g.Observe(http.StatusBadGateway, http.Header{})

	if got := testutil.ToFloat64(responsesTotal.WithLabelValues("classes", "2xx")); got != 2 {
		t.Fatalf("2xx = %v, want 2", got)
	}
	if got := testutil.ToFloat64(responsesTotal.WithLabelValues("classes", "5xx")); got != 1 {
		t.Fatalf("5xx = %v, want 1", got)
	}
	if statusClass(42) != "other" {
		t.Fatalf("out of range status should be other")
	}
}
