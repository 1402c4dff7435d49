package observability

import (
	"jobpilot/internal/config"
)

// GetObservabilityConfig creates observability config for one service of the mesh
func GetObservabilityConfig(cfg *config.Config, service, version string) ObservabilityConfig {
	if cfg == nil {
		return ObservabilityConfig{
			ServiceName:    "jobpilot-" + service,
			ServiceVersion: version,
			Enabled:        false,
			SampleRate:     1.0,
			Prometheus:     GetPrometheusConfig(cfg),
		}
	}

	obsConfig := cfg.Observability

	serviceVersion := obsConfig.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = version
	}
	serviceName := obsConfig.ServiceName
	if service != "" {
		serviceName += "-" + service
	}

	return ObservabilityConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Enabled:        obsConfig.Enabled,
		ConsoleOutput:  obsConfig.ConsoleOutput,
		PrettyPrint:    obsConfig.Console.PrettyPrint,
		SampleRate:     obsConfig.SampleRate,
		Prometheus:     GetPrometheusConfig(cfg),
	}
}

// NewDisabled returns a manager with every exporter off. Handlers still get
// nil-safe metrics and the global noop tracer from it.
func NewDisabled(service string) *ObservabilityManager {
	om, _ := NewObservabilityManager(GetObservabilityConfig(nil, service, "dev"), nil)
	return om
}
