package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/trellis-ml/trellis/internal/frame"
)

// RetryConfig configures exponential backoff retry behavior.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 100ms)
	MaxInterval         time.Duration // Maximum retry interval (default 10s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 2min)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		MaxElapsedTime:      2 * time.Minute,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// errDrained marks the first missing batch file: the stream has ended.
var errDrained = errors.New("batch file not found")

// breakers holds one circuit breaker per host, so sources sharing a host
// share failure state.
var breakers = &breakerRegistry{byHost: make(map[string]*gobreaker.CircuitBreaker)}

type breakerRegistry struct {
	mu     sync.Mutex
	byHost map[string]*gobreaker.CircuitBreaker
}

// get returns the circuit breaker for the given host, creating it on
// first use.
func (r *breakerRegistry) get(host string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.byHost[host]; ok {
		return cb
	}
	cb := newBreaker(host)
	r.byHost[host] = cb
	return cb
}

// HTTP streams numbered CSV batch files from a base URL, one file per
// Next call. Fetches retry with exponential backoff behind a circuit
// breaker keyed to the host; the first missing file ends the stream.
type HTTP struct {
	base    *url.URL
	pattern string
	label   string
	client  *http.Client
	retry   RetryConfig
	breaker *gobreaker.CircuitBreaker
	next    int
}

// NewHTTP creates a source for files named by pattern (printf verb for
// the batch index, default "batch-%d.csv") under baseURL. labelCol names
// the label column inside each file.
func NewHTTP(baseURL, pattern, labelCol string) (*HTTP, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in base URL %q", u.Scheme, baseURL)
	}
	if pattern == "" {
		pattern = "batch-%d.csv"
	}
	return &HTTP{
		base:    u,
		pattern: pattern,
		label:   labelCol,
		client:  &http.Client{Timeout: 30 * time.Second},
		retry:   DefaultRetryConfig(),
		breaker: breakers.get(u.Host),
	}, nil
}

// newBreaker creates the per-host circuit breaker.
func newBreaker(host string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 3,                // Allow 3 test requests in half-open state
		Interval:    0,                // Don't clear counts automatically
		Timeout:     30 * time.Second, // Stay open for 30s before testing recovery
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip circuit after 5 consecutive failures
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Default().Warn("circuit breaker state change",
				"host", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Neither cancellation nor a drained stream is a host failure
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return errors.Is(err, errDrained)
		},
	})
}

// Next fetches and parses the next batch file, or returns io.EOF once a
// file in the sequence does not exist.
func (h *HTTP) Next(ctx context.Context) (frame.Frame, *frame.Series, error) {
	u := h.base.JoinPath(fmt.Sprintf(h.pattern, h.next)).String()
	body, err := h.fetch(ctx, u)
	if errors.Is(err, errDrained) {
		return nil, nil, io.EOF
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch %q: %w", u, err)
	}
	X, y, err := ReadCSV(bytes.NewReader(body), h.label)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %q: %w", u, err)
	}
	h.next++
	return X, y, nil
}

// fetch downloads one file with exponential backoff retry and circuit
// breaker protection.
func (h *HTTP) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte

	operation := func() error {
		// Check context first - fail fast if cancelled
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		// Execute through circuit breaker
		result, err := h.breaker.Execute(func() (interface{}, error) {
			return h.get(ctx, url)
		})

		if err != nil {
			// Circuit is open - don't retry
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}

			// A missing file ends the stream - don't retry
			if errors.Is(err, errDrained) {
				return backoff.Permanent(err)
			}

			// Context cancelled - stop retrying
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}

			// Other errors will be retried
			return err
		}

		body = result.([]byte)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = h.retry.InitialInterval
	policy.MaxInterval = h.retry.MaxInterval
	policy.MaxElapsedTime = h.retry.MaxElapsedTime
	policy.Multiplier = h.retry.Multiplier
	policy.RandomizationFactor = h.retry.RandomizationFactor

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// get performs one GET attempt.
func (h *HTTP) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errDrained
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
