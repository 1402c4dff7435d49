package server

import (
	"context"
	"net/http"

	"jobpilot/internal/resilience"
)

// Route is one endpoint of a service.
type Route struct {
	// Pattern is a ServeMux pattern with method, e.g. "POST /cv/initiate".
	Pattern string
	Handler http.HandlerFunc
	// Summary is shown in the startup endpoint listing.
	Summary string
}

// Service is a set of routes hosted by a Server. The server adds /health,
// /stats and the service root.
type Service interface {
	Name() string
	Routes() []Route
	// Info is merged into the service root response.
	Info() map[string]any
	// Health is merged into the /health response. A "status" other than
	// "healthy" answers 503.
	Health(ctx context.Context) map[string]any
}

// BreakerSource is implemented by services that call providers through
// circuit breakers. Open breakers are listed on /health, full counts on
// /stats. Providers have fallbacks, so an open breaker does not fail /health.
type BreakerSource interface {
	Breakers() map[string]resilience.Status
}

// BackgroundService is implemented by services with work that runs outside
// requests. Start is called before the listener opens, Stop after it closed.
type BackgroundService interface {
	Start(ctx context.Context) error
	Stop()
}
