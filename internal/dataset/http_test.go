package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/trellis-ml/trellis/internal/frame"
)

// fastRetry keeps retry delays test-sized.
func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      250 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0,
	}
}

// TestHTTPSourceStreams verifies that numbered batch files stream in
// order and the first missing file ends the stream.
func TestHTTPSourceStreams(t *testing.T) {
	files := map[string]string{
		"/data/batch-0.csv": "x,label\n1,0\n2,1\n",
		"/data/batch-1.csv": "x,label\n3,0\n4,1\n",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	src, err := NewHTTP(srv.URL+"/data", "", "label")
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	src.retry = fastRetry()
	ctx := context.Background()

	X, y, err := src.Next(ctx)
	if err != nil {
		t.Fatalf("first Next failed: %v", err)
	}
	if X.NumRows() != 2 || y.Len() != 2 {
		t.Fatalf("expected 2 rows and 2 labels, got %d and %d", X.NumRows(), y.Len())
	}
	if got := X.(*frame.Dense).At(0, 0); got != 1 {
		t.Errorf("expected first value 1, got %v", got)
	}
	if y.Vals[1] != 1 {
		t.Errorf("expected second label 1, got %v", y.Vals[1])
	}

	X, _, err = src.Next(ctx)
	if err != nil {
		t.Fatalf("second Next failed: %v", err)
	}
	if got := X.(*frame.Dense).At(0, 0); got != 3 {
		t.Errorf("expected first value 3, got %v", got)
	}

	// The missing third file ends the stream, repeatably
	for i := 0; i < 2; i++ {
		if _, _, err := src.Next(ctx); err != io.EOF {
			t.Fatalf("drained Next %d: expected io.EOF, got %v", i, err)
		}
	}
}

// TestHTTPSourcePattern verifies custom file name patterns.
func TestHTTPSourcePattern(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/part-00.csv" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "x,label\n1,0\n")
	}))
	defer srv.Close()

	src, err := NewHTTP(srv.URL, "part-%02d.csv", "label")
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	src.retry = fastRetry()

	X, _, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if X.NumRows() != 1 {
		t.Errorf("expected 1 row, got %d", X.NumRows())
	}
}

// TestHTTPSourceRetries verifies that transient server failures are
// retried until the fetch succeeds.
func TestHTTPSourceRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "flaky", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "x,label\n1,0\n")
	}))
	defer srv.Close()

	src, err := NewHTTP(srv.URL, "", "label")
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	src.retry = fastRetry()

	X, _, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed after retries: %v", err)
	}
	if X.NumRows() != 1 {
		t.Errorf("expected 1 row, got %d", X.NumRows())
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

// TestHTTPSourceMissingFileNotRetried verifies that a 404 is treated as
// end of stream without burning retries.
func TestHTTPSourceMissingFileNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	src, err := NewHTTP(srv.URL, "", "label")
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	src.retry = fastRetry()

	if _, _, err := src.Next(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

// TestHTTPSourceBreakerOpens verifies that persistent failures trip the
// per-host circuit breaker.
func TestHTTPSourceBreakerOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	src, err := NewHTTP(srv.URL, "", "label")
	if err != nil {
		t.Fatalf("NewHTTP failed: %v", err)
	}
	src.retry = fastRetry()
	src.retry.MaxElapsedTime = 10 * time.Millisecond

	opened := false
	for i := 0; i < 10; i++ {
		_, _, err := src.Next(context.Background())
		if err == nil {
			t.Fatal("expected failure, got nil")
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			opened = true
			break
		}
	}
	if !opened {
		t.Fatal("circuit breaker never opened")
	}
}

// TestNewHTTPValidation verifies base URL validation.
func TestNewHTTPValidation(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		errContains string
	}{
		{
			name:        "unparseable",
			url:         "://nope",
			errContains: "invalid base URL",
		},
		{
			name:        "unsupported scheme",
			url:         "ftp://host/data",
			errContains: `unsupported scheme "ftp"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTP(tt.url, "", "label")
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("expected error containing %q, got %q", tt.errContains, err.Error())
			}
		})
	}
}
