package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
)

func envName(key string) string {
	return "JOBPILOT_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// applyFallbacks applies environment variable fallbacks
func (c *Config) applyFallbacks() {
	c.applyServerAPIKeyFallbacks()
	c.applyTLSDefaults()
	c.applyAuthDefaults()
	c.applyObservabilityDefaults()
}

// applyServerAPIKeyFallbacks parses comma-separated key lists from the environment
func (c *Config) applyServerAPIKeyFallbacks() {
	if len(c.Server.APIKeys) == 1 && strings.Contains(c.Server.APIKeys[0], ",") {
		c.Server.APIKeys = ParseKeyList(c.Server.APIKeys[0])
	}
	if len(c.Server.APIKeys) > 0 {
		return
	}
	for _, env := range []string{"JOBPILOT_SERVER_APIKEYS", "API_KEYS"} {
		if value := os.Getenv(env); value != "" {
			c.Server.APIKeys = ParseKeyList(value)
			return
		}
	}
}

// ParseKeyList splits a comma-separated key list, dropping blanks
func ParseKeyList(value string) []string {
	var keys []string
	for key := range strings.SplitSeq(value, ",") {
		if key = strings.TrimSpace(key); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *Config) applyTLSDefaults() {
	if c.Server.TLS.Mode == "" {
		c.Server.TLS.Mode = "disabled"
	}
	if c.Server.TLS.MinVersion == "" && c.Server.TLS.Mode != "disabled" {
		c.Server.TLS.MinVersion = "1.2"
	}
}

// applyAuthDefaults generates a per-process signing secret when none is configured.
// Tokens issued with it do not survive a restart.
func (c *Config) applyAuthDefaults() {
	if c.Auth.JWTSecret != "" {
		return
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		c.Auth.JWTSecret = "jobpilot-insecure-default"
		return
	}
	c.Auth.JWTSecret = hex.EncodeToString(buf)
	log.Println("[CONFIG] auth.jwtSecret not set, generated an ephemeral signing secret")
}

func (c *Config) applyObservabilityDefaults() {
	if c.Observability.ServiceInstance == "" {
		c.Observability.ServiceInstance = generateServiceInstanceID(c.Observability.ServiceName)
	}
	if c.App.LogLevel == "debug" && !c.Observability.ConsoleOutput {
		c.Observability.ConsoleOutput = true
	}
}

func generateServiceInstanceID(serviceName string) string {
	if hostname, err := os.Hostname(); err == nil {
		return fmt.Sprintf("%s-%s", serviceName, hostname)
	}
	return fmt.Sprintf("%s-1", serviceName)
}

func mask(value string) string {
	if value == "" {
		return "***NOT SET***"
	}
	return "***CONFIGURED***"
}

// logConfigurationSources logs a summary of configuration sources being used
func (c *Config) logConfigurationSources(configFileUsed string) {
	log.Println("[CONFIG] === Configuration Sources Summary ===")

	if configFileUsed != "" {
		log.Printf("[CONFIG] Config file: %s", configFileUsed)
	} else {
		log.Println("[CONFIG] Config file: None (using defaults)")
	}

	envVars := []string{
		"JOBPILOT_SERVER_PORT",
		"JOBPILOT_SERVER_HOST",
		"JOBPILOT_APP_LOGLEVEL",
		"JOBPILOT_STORAGE_DATADIR",
		"JOBPILOT_VAULT_ENABLED",
		"API_KEYS",
		"PORT",
		"EMBEDDER_PROVIDER",
	}
	for _, env := range legacyEnv {
		if strings.Contains(env, "KEY") || strings.Contains(env, "TOKEN") || strings.Contains(env, "SID") ||
			strings.Contains(env, "SECRET") || strings.Contains(env, "URL") || strings.Contains(env, "APP_ID") {
			envVars = append(envVars, env)
		}
	}

	log.Println("[CONFIG] Environment variables:")
	hasEnvVars := false
	for _, envVar := range envVars {
		value := os.Getenv(envVar)
		if value == "" {
			continue
		}
		lower := strings.ToLower(envVar)
		if strings.Contains(lower, "key") || strings.Contains(lower, "token") ||
			strings.Contains(lower, "secret") || strings.Contains(lower, "sid") || strings.Contains(lower, "url") {
			log.Printf("[CONFIG]   %s=***MASKED***", envVar)
		} else {
			log.Printf("[CONFIG]   %s=%s", envVar, value)
		}
		hasEnvVars = true
	}
	if !hasEnvVars {
		log.Println("[CONFIG]   None set")
	}

	p := c.Providers
	log.Println("[CONFIG] === Key Configuration Values ===")
	log.Printf("[CONFIG] Server Host: %s", c.Server.Host)
	log.Printf("[CONFIG] Server Port override: %q", c.Server.Port)
	log.Printf("[CONFIG] API keys configured: %d (insecureNoAuth: %t)", len(c.Server.APIKeys), c.Server.InsecureNoAuth)
	log.Printf("[CONFIG] Log Level: %s", c.App.LogLevel)
	log.Printf("[CONFIG] Data dir: %s", c.Storage.DataDir)
	log.Printf("[CONFIG] Embedder: %s (cache: %s)", c.Ranker.EmbedderProvider, c.Ranker.CacheBackend)
	log.Printf("[CONFIG] Translation provider: %s", c.Translation.Provider)
	log.Printf("[CONFIG] Gemini key: %s, OpenAI key: %s, Pinecone key: %s", mask(p.GeminiAPIKey), mask(p.OpenAIAPIKey), mask(p.PineconeAPIKey))
	log.Printf("[CONFIG] Firecrawl key: %s, Adzuna: %s", mask(p.FirecrawlAPIKey), mask(p.AdzunaAppKey))
	log.Printf("[CONFIG] SendGrid key: %s, Twilio: %s", mask(p.SendGridAPIKey), mask(p.TwilioAuthToken))
	log.Printf("[CONFIG] TLS Mode: %s", c.Server.TLS.Mode)
	log.Printf("[CONFIG] Vault Enabled: %t", c.Vault.Enabled)
	log.Printf("[CONFIG] Observability Enabled: %t", c.Observability.Enabled)
	log.Println("[CONFIG] =====================================")
}
