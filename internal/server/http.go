package server

import (
	"time"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/observability"
	"jobpilot/internal/store"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Server hosts one service of the mesh.
type Server struct {
	Host    string
	Port    string
	Version string

	// Full application configuration
	AppConfig *config.Config

	// TLS Configuration
	TLSConfig config.TLSConfig

	// API Authentication
	APIKeys        map[string]bool
	InsecureNoAuth bool

	// Timeout configurations
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	// Request size limit
	MaxRequestSize int64

	// Rate limiting
	RateLimit   *config.RateLimitConfig
	RateLimiter *RateLimiter

	// Per-endpoint request counters persisted to metrics.json
	Counters      *store.Counters
	FlushInterval time.Duration

	Service Service
	Logger  *errors.Logger

	om    *observability.ObservabilityManager
	inbox *store.Collection[MeshMessage]
}

// ServerConfig holds configuration for creating a Server instance
type ServerConfig struct {
	Host           string
	Port           string
	Version        string
	TLSConfig      config.TLSConfig
	APIKeys        []string
	InsecureNoAuth bool
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxRequestSize int64
	RateLimit      *config.RateLimitConfig
	FlushInterval  time.Duration
}

// ConfigFor derives the server settings of service from the application config.
func ConfigFor(appCfg *config.Config, service, version string) ServerConfig {
	rl := appCfg.Server.RateLimit
	return ServerConfig{
		Host:           appCfg.Server.Host,
		Port:           appCfg.ServicePort(service),
		Version:        version,
		TLSConfig:      appCfg.Server.TLS,
		APIKeys:        appCfg.Server.APIKeys,
		InsecureNoAuth: appCfg.Server.InsecureNoAuth,
		ReadTimeout:    appCfg.Server.ReadTimeout,
		WriteTimeout:   appCfg.Server.WriteTimeout,
		IdleTimeout:    appCfg.Server.IdleTimeout,
		RequestTimeout: appCfg.Server.RequestTimeout,
		MaxRequestSize: appCfg.Server.MaxRequestSize,
		RateLimit:      &rl,
		FlushInterval:  appCfg.Storage.MetricsFlushInterval,
	}
}

// NewServer creates a Server for svc. counters and om may be nil.
func NewServer(appCfg *config.Config, cfg ServerConfig, svc Service, counters *store.Counters, om *observability.ObservabilityManager, logger *errors.Logger) *Server {
	if logger == nil {
		logger = errors.NewNop()
	}

	// Convert API keys slice to map for O(1) lookup
	apiKeyMap := make(map[string]bool)
	for _, key := range cfg.APIKeys {
		if key != "" {
			apiKeyMap[key] = true
		}
	}

	var rateLimiter *RateLimiter
	if cfg.RateLimit != nil && cfg.RateLimit.Enabled {
		rateLimiter = NewRateLimiter(
			cfg.RateLimit.RequestsPerMin,
			cfg.RateLimit.BurstCapacity,
			logger,
		)
	}

	return &Server{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Version:        cfg.Version,
		AppConfig:      appCfg,
		TLSConfig:      cfg.TLSConfig,
		APIKeys:        apiKeyMap,
		InsecureNoAuth: cfg.InsecureNoAuth,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		RequestTimeout: cfg.RequestTimeout,
		MaxRequestSize: cfg.MaxRequestSize,
		RateLimit:      cfg.RateLimit,
		RateLimiter:    rateLimiter,
		Counters:       counters,
		FlushInterval:  cfg.FlushInterval,
		Service:        svc,
		Logger:         logger.With("service", svc.Name()),
		om:             om,
	}
}
