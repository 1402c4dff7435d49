package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadForTest(t *testing.T, overrides map[string]any) (*Config, error) {
	t.Helper()
	v := viper.New()
	setDefaults(v)
	require.NoError(t, bindLegacyEnv(v))
	for key, value := range overrides {
		v.Set(key, value)
	}
	return finishLoad(v, "")
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := loadForTest(t, nil)
	require.NoError(t, err)

	assert.Equal(t, "fallback", cfg.Ranker.EmbedderProvider)
	assert.Equal(t, 5, cfg.Ingestion.SyntheticThreshold)
	assert.Equal(t, 50*1024, cfg.Parser.MaxInputBytes)
	assert.Equal(t, 50, cfg.Experiment.TargetPerVariant)
	assert.Equal(t, 15, cfg.Scheduler.MaxPerDay)
	assert.NotEmpty(t, cfg.Auth.JWTSecret, "an ephemeral secret is generated")
	assert.Equal(t, "8002", cfg.ServicePort("auth"))
	assert.Equal(t, "8001", cfg.ServicePort("core-intelligence"))
	assert.Empty(t, cfg.Server.APIKeys)
	assert.False(t, cfg.Server.InsecureNoAuth, "authentication stays on without an explicit opt-out")
}

func TestLegacyEnvironmentNames(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("EMBEDDER_PROVIDER", "gemini")
	t.Setenv("FIRECRAWL_API_KEY", "fc-key")
	t.Setenv("API_KEYS", "alpha, beta,,gamma ")

	cfg, err := loadForTest(t, nil)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.ServicePort("translation"))
	assert.Equal(t, "gemini", cfg.Ranker.EmbedderProvider)
	assert.Equal(t, "fc-key", cfg.Providers.FirecrawlAPIKey)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, cfg.Server.APIKeys)
}

func TestPrefixedEnvironmentWins(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("JOBPILOT_SERVER_PORT", "9200")

	cfg, err := loadForTest(t, nil)
	require.NoError(t, err)
	assert.Equal(t, "9200", cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		wantErr   string
	}{
		{"unknown embedder", map[string]any{"ranker.embedderProvider": "word2vec"}, "invalid embedder provider"},
		{"redis without url", map[string]any{"ranker.cacheBackend": "redis"}, "requires storage.redisURL"},
		{"zero day cap", map[string]any{"scheduler.maxPerDay": 0}, "scheduler caps must be positive"},
		{"too many parallel adapters", map[string]any{"ingestion.maxParallel": 9}, "maxParallel"},
		{"bad translation provider", map[string]any{"translation.provider": "babelfish"}, "invalid translation provider"},
		{"tls without files", map[string]any{"server.tls.mode": "server"}, "TLS certificate and key files are required"},
		{"tls missing cert file", map[string]any{"server.tls.mode": "server", "server.tls.certFile": "/nonexistent/cert.pem", "server.tls.keyFile": "/nonexistent/key.pem"}, "is not readable"},
		{"tls bad version", map[string]any{"server.tls.minVersion": "1.1"}, "invalid TLS minVersion"},
		{"empty data dir", map[string]any{"storage.dataDir": ""}, "dataDir is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadForTest(t, tt.overrides)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseKeyList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, ParseKeyList(" a ,b, "))
	assert.Nil(t, ParseKeyList(""))
}

func TestServicesEndpoint(t *testing.T) {
	s := ServicesConfig{Email: ServiceEndpoint{Port: "8004", URL: "http://email"}}
	ep, ok := s.Endpoint("email-communications")
	require.True(t, ok)
	assert.Equal(t, "http://email", ep.URL)

	_, ok = s.Endpoint("billing")
	assert.False(t, ok)
}
