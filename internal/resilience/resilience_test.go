package resilience

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"
	"time"

	"google.golang.org/api/googleapi"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
)

func testBreakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:          true,
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          60 * time.Second,
		MinRequests:      3,
		FailureThreshold: 0.6,
	}
}

func TestIndependentBreakers(t *testing.T) {
	adzuna := NewBreaker[int]("adapter-adzuna", testBreakerConfig(), nil)
	scrape := NewBreaker[int]("adapter-scrape", testBreakerConfig(), nil)

	t.Run("names", func(t *testing.T) {
		if name := adzuna.Stats()["name"]; name != "adapter-adzuna" {
			t.Errorf("Expected breaker name 'adapter-adzuna', got '%v'", name)
		}
		if state := scrape.Stats()["state"]; state != "closed" {
			t.Errorf("Expected initial state 'closed', got '%v'", state)
		}
	})

	t.Run("trips independently", func(t *testing.T) {
		fail := func() (int, error) { return 0, stderrors.New("boom") }
		for range 3 {
			_, _ = adzuna.Execute(fail)
		}
		if adzuna.IsHealthy() {
			t.Error("adzuna breaker should be open after 3 failures")
		}
		if !scrape.IsHealthy() {
			t.Error("scrape breaker should be unaffected")
		}

		_, err := adzuna.Execute(func() (int, error) { return 1, nil })
		if !IsOpen(err) {
			t.Errorf("Execute on open breaker error = %v, want open state", err)
		}
	})
}

func TestBreakerDisabled(t *testing.T) {
	cb := NewBreaker[string]("disabled", config.CircuitBreakerConfig{Enabled: false}, nil)
	if cb != nil {
		t.Fatal("Breaker should be nil when disabled")
	}
	got, err := cb.Execute(func() (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Errorf("nil breaker Execute = %q, %v", got, err)
	}
	if !cb.IsHealthy() {
		t.Error("nil breaker should report healthy")
	}
	if enabled := cb.Stats()["enabled"]; enabled != false {
		t.Errorf("Stats()[enabled] = %v", enabled)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"google 429", &googleapi.Error{Code: http.StatusTooManyRequests}, true},
		{"google 400", &googleapi.Error{Code: http.StatusBadRequest}, false},
		{"status 503", &StatusError{Provider: "openai", Code: 503}, true},
		{"status 401", &StatusError{Provider: "openai", Code: 401}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"cancelled", context.Canceled, false},
		{"plain", stderrors.New("bad payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetry(t *testing.T) {
	policy := Policy{MaxRetries: 2, BaseDelay: time.Millisecond}

	t.Run("succeeds after retryable failures", func(t *testing.T) {
		calls := 0
		got, err := Retry(context.Background(), "embed", policy, errors.NewNop(), func(context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, &StatusError{Provider: "x", Code: 502}
			}
			return 42, nil
		})
		if err != nil || got != 42 || calls != 3 {
			t.Errorf("Retry = %d, %v after %d calls", got, err, calls)
		}
	})

	t.Run("stops on permanent error", func(t *testing.T) {
		calls := 0
		_, err := Retry(context.Background(), "embed", policy, errors.NewNop(), func(context.Context) (int, error) {
			calls++
			return 0, &StatusError{Provider: "x", Code: 401}
		})
		if err == nil || calls != 1 {
			t.Errorf("Retry err = %v after %d calls, want 1 call", err, calls)
		}
		var statusErr *StatusError
		if !stderrors.As(err, &statusErr) {
			t.Error("cause is not preserved")
		}
	})
}

func TestBackoffIsCapped(t *testing.T) {
	if d := Backoff(time.Second, 10); d > maxBackoff {
		t.Errorf("Backoff = %v, exceeds cap", d)
	}
	if d := Backoff(time.Second, 1); d < time.Second || d > 1100*time.Millisecond {
		t.Errorf("Backoff(1) = %v, want about 1s", d)
	}
}
