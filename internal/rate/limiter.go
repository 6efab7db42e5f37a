// Package rate smooths outgoing cloud traffic: a token bucket caps the
// request rate and a Retry-After response pauses all calls until the
// server's cooldown expires.
package rate

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// LimitError is returned when a call is blocked locally instead of being
// sent to an already throttling server.
type LimitError struct {
	Provider string
	RetryAt  time.Time
}

func (e LimitError) Error() string {
	return fmt.Sprintf("%s rate limited (retry at %s)", e.Provider, e.RetryAt.UTC().Format(time.RFC3339))
}

// Limiter is a per-provider token bucket with server-driven cooldowns.
type Limiter struct {
	provider  string
	perMinute int

	mu       sync.Mutex
	tokens   float64
	last     time.Time
	cooldown time.Time
}

func NewLimiter(provider string, perMinute int) *Limiter {
	return &Limiter{
		provider:  provider,
		perMinute: perMinute,
		tokens:    float64(perMinute),
		last:      time.Now(),
	}
}

// Allow consumes one token. On refusal it returns the earliest time a
// retry can succeed.
func (l *Limiter) Allow(now time.Time) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Before(l.cooldown) {
		return false, l.cooldown
	}

	refill := now.Sub(l.last).Seconds() * float64(l.perMinute) / 60
	l.tokens = minFloat(float64(l.perMinute), l.tokens+refill)
	l.last = now

	if l.tokens < 1 {
		wait := time.Duration((1 - l.tokens) * 60 / float64(l.perMinute) * float64(time.Second))
		return false, now.Add(wait)
	}
	l.tokens--
	return true, time.Time{}
}

// Observe records a response. A 429 or an explicit Retry-After header
// starts a cooldown.
func (l *Limiter) Observe(status int, headers http.Header) {
	lastStatusGauge.WithLabelValues(l.provider).Set(float64(status))

	retryAfter := headerSeconds(headers, "Retry-After")
	if retryAfter <= 0 && status == http.StatusTooManyRequests {
		retryAfter = 60
	}
	if retryAfter <= 0 {
		return
	}

	l.mu.Lock()
	l.cooldown = time.Now().Add(time.Duration(retryAfter) * time.Second)
	l.mu.Unlock()
	retryAfterGauge.WithLabelValues(l.provider).Set(float64(retryAfter))
}

// WrapHTTP returns a copy of base whose transport enforces the limiter.
func WrapHTTP(provider string, perMinute int, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{
		base:    transport,
		limiter: NewLimiter(provider, perMinute),
	}
	return &client
}

type roundTripper struct {
	base    http.RoundTripper
	limiter *Limiter
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if ok, retryAt := rt.limiter.Allow(time.Now()); !ok {
		blockedCounter.WithLabelValues(rt.limiter.provider).Inc()
		return nil, LimitError{Provider: rt.limiter.provider, RetryAt: retryAt}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.limiter.Observe(resp.StatusCode, resp.Header)
	return resp, nil
}

func headerSeconds(h http.Header, key string) int {
	val := h.Get(key)
	if val == "" {
		return -1
	}
	var out int
	if _, err := fmt.Sscanf(val, "%d", &out); err != nil {
		return -1
	}
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
