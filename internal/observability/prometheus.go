package observability

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusConfig holds Prometheus-specific configuration
type PrometheusConfig struct {
	Enabled  bool
	Endpoint string
	Port     string
}

// metricsEndpoint serves one service's registry on a dedicated port. Each
// service process owns its registry so that several services started from
// one binary never collide on the default registerer.
type metricsEndpoint struct {
	registry *prometheus.Registry
	server   *http.Server
	logger   *errors.Logger
}

// newMetricsEndpoint builds the registry, the otel reader bound to it and the
// scrape server. Nothing listens until start is called.
func newMetricsEndpoint(cfg PrometheusConfig, service, version string, logger *errors.Logger) (*metricsEndpoint, metric.Reader, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "jobpilot_build_info",
		Help: "Service name and version of the running process.",
	}, []string{"service", "version"})
	reg.MustRegister(info)
	info.WithLabelValues(service, version).Set(1)

	reader, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(endpoint, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	return &metricsEndpoint{
		registry: reg,
		server: &http.Server{
			Addr:              net.JoinHostPort("", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}, reader, nil
}

// start binds the port synchronously so a taken port fails startup, then
// serves in the background.
func (e *metricsEndpoint) start() error {
	ln, err := net.Listen("tcp", e.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind Prometheus port %s: %w", e.server.Addr, err)
	}
	e.logger.Info("Prometheus metrics server started", "addr", ln.Addr().String())

	go func() {
		if err := e.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			e.logger.LogError(err, "Prometheus metrics server stopped")
		}
	}()
	return nil
}

func (e *metricsEndpoint) shutdown(ctx context.Context) error {
	return e.server.Shutdown(ctx)
}

// GetPrometheusConfig creates Prometheus configuration from provided config
func GetPrometheusConfig(cfg *config.Config) PrometheusConfig {
	if cfg == nil {
		return PrometheusConfig{Endpoint: "/metrics", Port: "9090"}
	}
	return PrometheusConfig{
		Enabled:  cfg.Observability.Prometheus.Enabled,
		Endpoint: cfg.Observability.Prometheus.Endpoint,
		Port:     cfg.Observability.Prometheus.Port,
	}
}
