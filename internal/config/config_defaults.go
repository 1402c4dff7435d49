package config

import (
	"time"

	"github.com/spf13/viper"
)

// legacyEnv maps config keys to the bare environment names older deployments use.
var legacyEnv = map[string]string{
	"server.port":                "PORT",
	"ranker.embedderProvider":    "EMBEDDER_PROVIDER",
	"providers.geminiAPIKey":     "GEMINI_API_KEY",
	"providers.openAIAPIKey":     "OPENAI_API_KEY",
	"providers.pineconeAPIKey":   "PINECONE_API_KEY",
	"providers.firecrawlAPIKey":  "FIRECRAWL_API_KEY",
	"providers.adzunaAppID":      "ADZUNA_APP_ID",
	"providers.adzunaAppKey":     "ADZUNA_APP_KEY",
	"providers.sendGridAPIKey":   "SENDGRID_API_KEY",
	"providers.twilioAccountSID": "TWILIO_ACCOUNT_SID",
	"providers.twilioAuthToken":  "TWILIO_AUTH_TOKEN",
	"providers.twilioFromNumber": "TWILIO_FROM_NUMBER",
	"storage.redisURL":           "REDIS_URL",
	"auth.jwtSecret":             "JWT_SECRET",
}

// bindLegacyEnv binds each key to its prefixed name first, then the legacy name.
func bindLegacyEnv(v *viper.Viper) error {
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, envName(key), env); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server Configuration. server.port has no default so the per-service port applies.
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.readTimeout", 30*time.Second)
	v.SetDefault("server.writeTimeout", 60*time.Second)
	v.SetDefault("server.idleTimeout", 120*time.Second)
	v.SetDefault("server.requestTimeout", 45*time.Second)
	v.SetDefault("server.maxRequestSize", 2*1024*1024)
	v.SetDefault("server.tls.mode", "disabled")
	v.SetDefault("server.tls.minVersion", "1.2")
	v.SetDefault("server.apiKeys", []string{})
	v.SetDefault("server.insecureNoAuth", false)
	v.SetDefault("server.rateLimit.enabled", false)
	v.SetDefault("server.rateLimit.requestsPerMin", 120)
	v.SetDefault("server.rateLimit.burstCapacity", 20)
	v.SetDefault("server.rateLimit.byIP", true)
	v.SetDefault("server.rateLimit.byAPIKey", false)
	v.SetDefault("server.rateLimit.window", time.Minute)

	// App Configuration
	v.SetDefault("app.logLevel", "info")
	v.SetDefault("app.logFormat", "json")
	v.SetDefault("app.maxFileSize", 5*1024*1024)

	// Services
	v.SetDefault("services.core.port", "8001")
	v.SetDefault("services.core.url", "http://localhost:8001")
	v.SetDefault("services.auth.port", "8002")
	v.SetDefault("services.auth.url", "http://localhost:8002")
	v.SetDefault("services.cv.port", "8003")
	v.SetDefault("services.cv.url", "http://localhost:8003")
	v.SetDefault("services.email.port", "8004")
	v.SetDefault("services.email.url", "http://localhost:8004")
	v.SetDefault("services.translation.port", "8005")
	v.SetDefault("services.translation.url", "http://localhost:8005")
	v.SetDefault("services.outboundTimeout", 10*time.Second)

	// Storage
	v.SetDefault("storage.dataDir", "data")
	v.SetDefault("storage.redisURL", "")
	v.SetDefault("storage.metricsFlushInterval", 5*time.Second)

	// Ingestion
	v.SetDefault("ingestion.adapterTimeout", 10*time.Second)
	v.SetDefault("ingestion.totalDeadline", 30*time.Second)
	v.SetDefault("ingestion.syntheticThreshold", 5)
	v.SetDefault("ingestion.syntheticEnabled", true)
	v.SetDefault("ingestion.maxParallel", 8)
	v.SetDefault("ingestion.scrapeURLs", []string{})
	v.SetDefault("ingestion.firecrawlEndpoint", "https://api.firecrawl.dev/v1/scrape")
	v.SetDefault("ingestion.adzunaEndpoint", "https://api.adzuna.com/v1/api/jobs")
	v.SetDefault("ingestion.adzunaCountry", "gb")
	v.SetDefault("ingestion.resultsPerPage", 20)

	// Parser
	v.SetDefault("parser.lexiconFile", "")
	v.SetDefault("parser.watchLexicon", false)
	v.SetDefault("parser.debounceDelay", time.Second)
	v.SetDefault("parser.maxInputBytes", 50*1024)
	v.SetDefault("parser.keywordMinCount", 2)
	v.SetDefault("parser.keywordMinWeight", 0.01)
	v.SetDefault("parser.maxKeywords", 25)

	// Ranker
	v.SetDefault("ranker.embedderProvider", "fallback")
	v.SetDefault("ranker.embeddingModel", "")
	v.SetDefault("ranker.dimensions", 256)
	v.SetDefault("ranker.timeout", 10*time.Second)
	v.SetDefault("ranker.maxRetries", 2)
	v.SetDefault("ranker.cacheBackend", "file")
	v.SetDefault("ranker.cacheTTL", 24*time.Hour)

	// Experiment
	v.SetDefault("experiment.targetPerVariant", 50)
	v.SetDefault("experiment.maxDuration", 30*24*time.Hour)
	v.SetDefault("experiment.earlyStopMinTotal", 10)
	v.SetDefault("experiment.earlyStopSpread", 0.1)
	v.SetDefault("experiment.seed", 1)

	// Scheduler
	v.SetDefault("scheduler.maxPerDay", 15)
	v.SetDefault("scheduler.maxPerPlatformPerDay", 8)
	v.SetDefault("scheduler.maxPerCompanyPerDay", 2)
	v.SetDefault("scheduler.windowDays", 5)
	v.SetDefault("scheduler.platforms", []string{"linkedin", "indeed", "glassdoor", "monster"})
	v.SetDefault("scheduler.followUpSweep", "@every 1h")

	// Auth
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.tokenTTL", 24*time.Hour)
	v.SetDefault("auth.issuer", "jobpilot-auth")

	// Notify
	v.SetDefault("notify.fromEmail", "noreply@jobpilot.local")
	v.SetDefault("notify.fromName", "JobPilot")
	v.SetDefault("notify.smtpAddr", "")
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.sendGridEndpoint", "https://api.sendgrid.com/v3/mail/send")
	v.SetDefault("notify.twilioEndpoint", "https://api.twilio.com/2010-04-01")

	// Translation
	v.SetDefault("translation.provider", "glossary")
	v.SetDefault("translation.model", "gemini-2.0-flash")
	v.SetDefault("translation.timeout", 20*time.Second)

	// PDF fonts
	v.SetDefault("render.fontFile", "")
	v.SetDefault("render.boldFontFile", "")

	// Circuit breaker shared by every external call site
	v.SetDefault("circuitBreaker.enabled", true)
	v.SetDefault("circuitBreaker.maxRequests", 3)
	v.SetDefault("circuitBreaker.interval", 60*time.Second)
	v.SetDefault("circuitBreaker.timeout", 60*time.Second)
	v.SetDefault("circuitBreaker.minRequests", 3)
	v.SetDefault("circuitBreaker.failureThreshold", 0.6)

	// Vault Configuration
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.tokenFile", "")
	v.SetDefault("vault.namespace", "")
	v.SetDefault("vault.mount", "secret")
	v.SetDefault("vault.secrets.apiKeys", "")
	v.SetDefault("vault.secrets.providers", "")

	// Observability Configuration
	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.serviceName", "jobpilot")
	v.SetDefault("observability.serviceVersion", "")
	v.SetDefault("observability.serviceInstance", "")
	v.SetDefault("observability.consoleOutput", false)
	v.SetDefault("observability.sampleRate", 1.0)
	v.SetDefault("observability.tracing.enabled", true)
	v.SetDefault("observability.tracing.sampleRate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.collectionInterval", 15*time.Second)
	v.SetDefault("observability.customMetrics.pipeline.enabled", true)
	v.SetDefault("observability.customMetrics.pipeline.trackDuration", true)
	v.SetDefault("observability.customMetrics.infrastructure.enabled", true)
	v.SetDefault("observability.customMetrics.infrastructure.trackRateLimits", true)
	v.SetDefault("observability.console.enabled", false)
	v.SetDefault("observability.console.prettyPrint", true)
	v.SetDefault("observability.prometheus.enabled", false)
	v.SetDefault("observability.prometheus.endpoint", "/metrics")
	v.SetDefault("observability.prometheus.port", "9090")
	v.SetDefault("observability.otlp.enabled", false)
	v.SetDefault("observability.otlp.endpoint", "http://localhost:4318")
	v.SetDefault("observability.otlp.insecure", true)
	v.SetDefault("observability.otlp.headers", map[string]string{})
}
