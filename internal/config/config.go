package config

import (
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
// Secret precedence order:
// 1. Vault (if configured) - Highest priority
// 2. Config File values
// 3. Environment Variables (JOBPILOT_*, then the legacy names such as API_KEYS)
// 4. Default values - Lowest priority
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	App            AppConfig            `mapstructure:"app"`
	Services       ServicesConfig       `mapstructure:"services"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Providers      ProvidersConfig      `mapstructure:"providers"`
	Ingestion      IngestionConfig      `mapstructure:"ingestion"`
	Parser         ParserConfig         `mapstructure:"parser"`
	Ranker         RankerConfig         `mapstructure:"ranker"`
	Experiment     ExperimentConfig     `mapstructure:"experiment"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Notify         NotifyConfig         `mapstructure:"notify"`
	Translation    TranslationConfig    `mapstructure:"translation"`
	Render         RenderConfig         `mapstructure:"render"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitBreaker"`
	Vault          VaultConfig          `mapstructure:"vault"`
	Observability  ObservabilityConfig  `mapstructure:"observability"`
}

// RenderConfig selects the fonts embedded in generated PDFs. Empty paths
// use the built-in Go fonts, which lack CJK and Indic scripts.
type RenderConfig struct {
	FontFile     string `mapstructure:"fontFile"`
	BoldFontFile string `mapstructure:"boldFontFile"`
}

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`          // Whether circuit breaker is enabled
	MaxRequests      uint32        `mapstructure:"maxRequests"`      // Max requests allowed when half-open
	Interval         time.Duration `mapstructure:"interval"`         // Interval to clear counts
	Timeout          time.Duration `mapstructure:"timeout"`          // Timeout for half-open to open
	MinRequests      uint32        `mapstructure:"minRequests"`      // Minimum requests before tripping
	FailureThreshold float64       `mapstructure:"failureThreshold"` // Failure ratio threshold (0.0-1.0)
}

// ServerConfig holds HTTP server configuration shared by every service
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"` // overrides the per-service default when set
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`

	// RequestTimeout bounds a single handler including its outbound calls
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
	MaxRequestSize int64         `mapstructure:"maxRequestSize"`

	TLS TLSConfig `mapstructure:"tls"`

	// API Authentication. With no keys every request is rejected unless
	// InsecureNoAuth is set.
	APIKeys        []string `mapstructure:"apiKeys"`
	InsecureNoAuth bool     `mapstructure:"insecureNoAuth"`

	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
}

// TLSConfig holds TLS configuration
type TLSConfig struct {
	Mode       string `mapstructure:"mode"` // "disabled" or "server"
	CertFile   string `mapstructure:"certFile"`
	KeyFile    string `mapstructure:"keyFile"`
	MinVersion string `mapstructure:"minVersion"` // "1.2" or "1.3"
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	RequestsPerMin int           `mapstructure:"requestsPerMin"`
	BurstCapacity  int           `mapstructure:"burstCapacity"`
	ByIP           bool          `mapstructure:"byIP"`
	ByAPIKey       bool          `mapstructure:"byAPIKey"`
	Window         time.Duration `mapstructure:"window"`
}

// AppConfig holds general application configuration
type AppConfig struct {
	LogLevel    string `mapstructure:"logLevel"`
	LogFormat   string `mapstructure:"logFormat"` // json or console
	MaxFileSize int64  `mapstructure:"maxFileSize"`
}

// ServiceEndpoint is the listen port and peer URL of one service
type ServiceEndpoint struct {
	Port string `mapstructure:"port"`
	URL  string `mapstructure:"url"`
}

// ServicesConfig lists the five services of the mesh
type ServicesConfig struct {
	Core        ServiceEndpoint `mapstructure:"core"`
	Auth        ServiceEndpoint `mapstructure:"auth"`
	CV          ServiceEndpoint `mapstructure:"cv"`
	Email       ServiceEndpoint `mapstructure:"email"`
	Translation ServiceEndpoint `mapstructure:"translation"`

	// OutboundTimeout applies to each forwarded message
	OutboundTimeout time.Duration `mapstructure:"outboundTimeout"`
}

// Endpoint returns the endpoint of a service by name.
func (s ServicesConfig) Endpoint(name string) (ServiceEndpoint, bool) {
	switch name {
	case "core", "core-intelligence":
		return s.Core, true
	case "auth":
		return s.Auth, true
	case "cv", "cv-generation":
		return s.CV, true
	case "email", "email-communications":
		return s.Email, true
	case "translation":
		return s.Translation, true
	}
	return ServiceEndpoint{}, false
}

// StorageConfig holds JSON persistence configuration
type StorageConfig struct {
	DataDir              string        `mapstructure:"dataDir"`
	RedisURL             string        `mapstructure:"redisURL"` // optional ranking cache backend
	MetricsFlushInterval time.Duration `mapstructure:"metricsFlushInterval"`
}

// ProvidersConfig holds credentials for external providers. Every key is optional.
type ProvidersConfig struct {
	GeminiAPIKey     string `mapstructure:"geminiAPIKey"`
	OpenAIAPIKey     string `mapstructure:"openAIAPIKey"`
	PineconeAPIKey   string `mapstructure:"pineconeAPIKey"`
	FirecrawlAPIKey  string `mapstructure:"firecrawlAPIKey"`
	AdzunaAppID      string `mapstructure:"adzunaAppID"`
	AdzunaAppKey     string `mapstructure:"adzunaAppKey"`
	SendGridAPIKey   string `mapstructure:"sendGridAPIKey"`
	TwilioAccountSID string `mapstructure:"twilioAccountSID"`
	TwilioAuthToken  string `mapstructure:"twilioAuthToken"`
	TwilioFromNumber string `mapstructure:"twilioFromNumber"`
}

// IngestionConfig holds job ingestion configuration
type IngestionConfig struct {
	AdapterTimeout     time.Duration `mapstructure:"adapterTimeout"`
	TotalDeadline      time.Duration `mapstructure:"totalDeadline"`
	SyntheticThreshold int           `mapstructure:"syntheticThreshold"`
	SyntheticEnabled   bool          `mapstructure:"syntheticEnabled"`
	MaxParallel        int           `mapstructure:"maxParallel"`
	ScrapeURLs         []string      `mapstructure:"scrapeURLs"`
	FirecrawlEndpoint  string        `mapstructure:"firecrawlEndpoint"`
	AdzunaEndpoint     string        `mapstructure:"adzunaEndpoint"`
	AdzunaCountry      string        `mapstructure:"adzunaCountry"`
	ResultsPerPage     int           `mapstructure:"resultsPerPage"`
}

// ParserConfig holds job description parser configuration
type ParserConfig struct {
	LexiconFile      string        `mapstructure:"lexiconFile"`
	WatchLexicon     bool          `mapstructure:"watchLexicon"`
	DebounceDelay    time.Duration `mapstructure:"debounceDelay"`
	MaxInputBytes    int           `mapstructure:"maxInputBytes"`
	KeywordMinCount  int           `mapstructure:"keywordMinCount"`
	KeywordMinWeight float64       `mapstructure:"keywordMinWeight"`
	MaxKeywords      int           `mapstructure:"maxKeywords"`
}

// RankerConfig holds ranking and embedder configuration
type RankerConfig struct {
	EmbedderProvider string        `mapstructure:"embedderProvider"` // fallback, gemini, openai
	EmbeddingModel   string        `mapstructure:"embeddingModel"`
	Dimensions       int           `mapstructure:"dimensions"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"maxRetries"`
	CacheBackend     string        `mapstructure:"cacheBackend"` // file or redis
	CacheTTL         time.Duration `mapstructure:"cacheTTL"`
}

// ExperimentConfig holds A/B orchestration configuration
type ExperimentConfig struct {
	TargetPerVariant  int           `mapstructure:"targetPerVariant"`
	MaxDuration       time.Duration `mapstructure:"maxDuration"`
	EarlyStopMinTotal int           `mapstructure:"earlyStopMinTotal"`
	EarlyStopSpread   float64       `mapstructure:"earlyStopSpread"`
	Seed              int64         `mapstructure:"seed"`
}

// SchedulerConfig holds application scheduler defaults
type SchedulerConfig struct {
	MaxPerDay            int      `mapstructure:"maxPerDay"`
	MaxPerPlatformPerDay int      `mapstructure:"maxPerPlatformPerDay"`
	MaxPerCompanyPerDay  int      `mapstructure:"maxPerCompanyPerDay"`
	WindowDays           int      `mapstructure:"windowDays"`
	Platforms            []string `mapstructure:"platforms"`
	FollowUpSweep        string   `mapstructure:"followUpSweep"` // cron spec
}

// AuthConfig holds session token configuration
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
	Issuer    string        `mapstructure:"issuer"`
}

// NotifyConfig holds outbound delivery configuration
type NotifyConfig struct {
	FromEmail        string        `mapstructure:"fromEmail"`
	FromName         string        `mapstructure:"fromName"`
	SMTPAddr         string        `mapstructure:"smtpAddr"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SendGridEndpoint string        `mapstructure:"sendGridEndpoint"`
	TwilioEndpoint   string        `mapstructure:"twilioEndpoint"`
}

// TranslationConfig holds translation backend configuration
type TranslationConfig struct {
	Provider string        `mapstructure:"provider"` // glossary or gemini
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ObservabilityConfig holds observability configuration
type ObservabilityConfig struct {
	Enabled         bool                `mapstructure:"enabled"`
	ServiceName     string              `mapstructure:"serviceName"`
	ServiceVersion  string              `mapstructure:"serviceVersion"`
	ServiceInstance string              `mapstructure:"serviceInstance"`
	ConsoleOutput   bool                `mapstructure:"consoleOutput"`
	SampleRate      float64             `mapstructure:"sampleRate"`
	Tracing         TracingConfig       `mapstructure:"tracing"`
	Metrics         MetricsConfig       `mapstructure:"metrics"`
	CustomMetrics   CustomMetricsConfig `mapstructure:"customMetrics"`
	Console         ConsoleConfig       `mapstructure:"console"`
	Prometheus      PrometheusConfig    `mapstructure:"prometheus"`
	OTLP            OTLPConfig          `mapstructure:"otlp"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	SampleRate float64 `mapstructure:"sampleRate"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	CollectionInterval time.Duration `mapstructure:"collectionInterval"`
}

// ConsoleConfig holds console output configuration
type ConsoleConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	PrettyPrint bool `mapstructure:"prettyPrint"`
}

// CustomMetricsConfig holds fine-grained custom metrics configuration
type CustomMetricsConfig struct {
	Pipeline       PipelineMetricsConfig       `mapstructure:"pipeline"`
	Infrastructure InfrastructureMetricsConfig `mapstructure:"infrastructure"`
}

// PipelineMetricsConfig covers ingestion, ranking, adaptation, experiments and scheduling
type PipelineMetricsConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	TrackDuration bool `mapstructure:"trackDuration"`
}

// InfrastructureMetricsConfig holds infrastructure metrics configuration
type InfrastructureMetricsConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	TrackRateLimits bool `mapstructure:"trackRateLimits"`
}

// PrometheusConfig holds Prometheus configuration
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Port     string `mapstructure:"port"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Headers  map[string]string `mapstructure:"headers"`
}

var (
	validEmbedderProviders    = []string{"fallback", "gemini", "openai"}
	validTranslationProviders = []string{"glossary", "gemini"}
	validCacheBackends        = []string{"file", "redis"}
)

// LoadConfig loads configuration from environment variables and a config file
func LoadConfig() (*Config, error) {
	log.Println("[CONFIG] Starting configuration loading process")

	v := viper.New()
	setDefaults(v)
	log.Println("[CONFIG] Applied default configuration values")

	v.SetEnvPrefix("JOBPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment variables: %w", err)
	}
	log.Println("[CONFIG] Configured environment variable handling with prefix 'JOBPILOT'")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/jobpilot/")
	v.AddConfigPath("$HOME/.jobpilot")
	v.AddConfigPath(".")
	log.Println("[CONFIG] Configured config file search paths: /etc/jobpilot/, $HOME/.jobpilot, .")

	configFileUsed := ""
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Println("[CONFIG] No config file found, using defaults and environment variables")
	} else {
		configFileUsed = v.ConfigFileUsed()
		log.Printf("[CONFIG] Successfully loaded config file: %s", configFileUsed)
	}

	return finishLoad(v, configFileUsed)
}

// finishLoad unmarshals and post-processes a prepared viper instance.
func finishLoad(v *viper.Viper, configFileUsed string) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	log.Println("[CONFIG] Successfully unmarshaled configuration")

	config.applyFallbacks()
	log.Println("[CONFIG] Applied configuration fallbacks and environment variable overrides")

	config.logConfigurationSources(configFileUsed)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Println("[CONFIG] Configuration loading completed successfully")
	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Ingestion.AdapterTimeout <= 0 || c.Ingestion.TotalDeadline <= 0 {
		return fmt.Errorf("ingestion timeouts must be positive")
	}
	if c.Ingestion.SyntheticThreshold < 0 {
		return fmt.Errorf("ingestion synthetic threshold must not be negative")
	}
	if c.Ingestion.MaxParallel < 1 || c.Ingestion.MaxParallel > 8 {
		return fmt.Errorf("ingestion maxParallel must be between 1 and 8, got %d", c.Ingestion.MaxParallel)
	}

	if !slices.Contains(validEmbedderProviders, c.Ranker.EmbedderProvider) {
		return fmt.Errorf("invalid embedder provider: %s (must be one of %s)",
			c.Ranker.EmbedderProvider, strings.Join(validEmbedderProviders, ", "))
	}
	if !slices.Contains(validCacheBackends, c.Ranker.CacheBackend) {
		return fmt.Errorf("invalid ranking cache backend: %s", c.Ranker.CacheBackend)
	}
	if c.Ranker.CacheBackend == "redis" && c.Storage.RedisURL == "" {
		return fmt.Errorf("ranking cache backend redis requires storage.redisURL")
	}
	if c.Ranker.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}

	if !slices.Contains(validTranslationProviders, c.Translation.Provider) {
		return fmt.Errorf("invalid translation provider: %s", c.Translation.Provider)
	}
	if c.Render.BoldFontFile != "" && c.Render.FontFile == "" {
		return fmt.Errorf("render.boldFontFile requires render.fontFile")
	}

	if c.Parser.MaxInputBytes <= 0 {
		return fmt.Errorf("parser maxInputBytes must be positive")
	}

	s := c.Scheduler
	if s.MaxPerDay <= 0 || s.MaxPerPlatformPerDay <= 0 || s.MaxPerCompanyPerDay <= 0 {
		return fmt.Errorf("scheduler caps must be positive")
	}
	if s.WindowDays <= 0 {
		return fmt.Errorf("scheduler window must be at least one day")
	}

	e := c.Experiment
	if e.TargetPerVariant <= 0 || e.MaxDuration <= 0 {
		return fmt.Errorf("experiment target and duration must be positive")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage dataDir is required")
	}

	if err := c.ValidateTLSConfig(); err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	return nil
}

// ServicePort returns the listen port for a service: the explicit server port
// when one is configured, otherwise the service default.
func (c *Config) ServicePort(service string) string {
	if c.Server.Port != "" {
		return c.Server.Port
	}
	if ep, ok := c.Services.Endpoint(service); ok && ep.Port != "" {
		return ep.Port
	}
	return "8000"
}
