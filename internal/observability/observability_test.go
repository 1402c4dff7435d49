package observability

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
)

func TestGetObservabilityConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Observability.ServiceName = "jobpilot"
	cfg.Observability.Enabled = true

	got := GetObservabilityConfig(cfg, "core", "1.2.0")
	if got.ServiceName != "jobpilot-core" || got.ServiceVersion != "1.2.0" || !got.Enabled {
		t.Errorf("config = %+v", got)
	}

	fallback := GetObservabilityConfig(nil, "auth", "dev")
	if fallback.ServiceName != "jobpilot-auth" || fallback.Enabled || fallback.Prometheus.Port != "9090" {
		t.Errorf("nil config = %+v", fallback)
	}
}

func TestDisabledManagerIsInert(t *testing.T) {
	om := NewDisabled("core")
	ctx := context.Background()

	boom := stderrors.New("boom")
	err := om.GetMetrics().TrackExternalCall(ctx, "embedder", "hash", func(context.Context) error { return boom }, om)
	if !stderrors.Is(err, boom) {
		t.Errorf("TrackExternalCall() error = %v, want the call's error", err)
	}
	om.GetMetrics().RecordPipelineMetric(ctx, "ranking", 3, om, attribute.String("service", "core"))
	om.GetMetrics().RecordPipelineMetric(ctx, "rate_limit_hit", 1, om)

	called := false
	h := om.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	if !called {
		t.Error("middleware did not call the handler")
	}
	if err := om.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNilManagerMetrics(t *testing.T) {
	var om *ObservabilityManager
	err := om.GetMetrics().TrackExternalCall(context.Background(), "translator", "glossary", func(context.Context) error { return nil }, om)
	if err != nil {
		t.Errorf("TrackExternalCall() error = %v", err)
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	endpoint, reader, err := newMetricsEndpoint(PrometheusConfig{Enabled: true, Port: "0"}, "jobpilot-core", "1.0.0", errors.NewNop())
	if err != nil {
		t.Fatalf("newMetricsEndpoint() error = %v", err)
	}
	if reader == nil {
		t.Fatal("no otel reader returned")
	}

	rec := httptest.NewRecorder()
	endpoint.server.Handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{`jobpilot_build_info{service="jobpilot-core",version="1.0.0"} 1`, "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}
