package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"jobpilot/internal/errors"

	"github.com/hashicorp/vault/api"
)

const vaultTimeout = 10 * time.Second

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"tokenFile"`
	Namespace string `mapstructure:"namespace"`

	// Mount is the KV v2 engine mount; secret paths are relative to it.
	Mount string `mapstructure:"mount"`

	Secrets VaultSecrets `mapstructure:"secrets"`
}

// VaultSecrets names the secrets read at startup.
type VaultSecrets struct {
	// APIKeys holds a comma-separated list under the field "keys".
	APIKeys string `mapstructure:"apiKeys"`

	// Providers holds provider credentials, one field per providerSecretKeys entry.
	Providers string `mapstructure:"providers"`
}

// VaultClient reads KV v2 secrets from one mount.
type VaultClient struct {
	kv     *api.KVv2
	mount  string
	logger *errors.Logger
}

// NewVaultClient connects to Vault and checks that it is reachable and
// unsealed. It returns nil when Vault is disabled.
func NewVaultClient(ctx context.Context, cfg VaultConfig, logger *errors.Logger) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	apiCfg := api.DefaultConfig()
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	apiCfg.Timeout = vaultTimeout

	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "invalid vault client configuration", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	token, err := vaultToken(cfg)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	health, err := client.Sys().HealthWithContext(ctx)
	if err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "vault is unreachable", err).
			WithContext("address", apiCfg.Address)
	}
	if health.Sealed {
		return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "vault is sealed", nil).
			WithContext("address", apiCfg.Address)
	}
	logger.Info("Connected to Vault", "address", apiCfg.Address, "version", health.Version)

	mount := cfg.Mount
	if mount == "" {
		mount = "secret"
	}
	return &VaultClient{kv: client.KVv2(mount), mount: mount, logger: logger}, nil
}

// vaultToken takes the configured token, else the first line of TokenFile.
func vaultToken(cfg VaultConfig) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if cfg.TokenFile != "" {
		data, err := os.ReadFile(cfg.TokenFile)
		if err != nil {
			return "", errors.NewConfigError(errors.ErrCodeInvalidConfig, "cannot read vault token file", err).
				WithContext("file", cfg.TokenFile)
		}
		if token := strings.TrimSpace(string(data)); token != "" {
			return token, nil
		}
	}
	return "", errors.NewConfigError(errors.ErrCodeInvalidConfig, "vault token is required when vault is enabled", nil)
}

// Secret returns the latest version of the secret at path and its version.
func (vc *VaultClient) Secret(ctx context.Context, path string) (map[string]any, int, error) {
	secret, err := vc.kv.Get(ctx, path)
	if err != nil {
		return nil, 0, errors.NewConfigError(errors.ErrCodeInvalidConfig, "cannot read vault secret", err).
			WithContext("mount", vc.mount).
			WithContext("path", path)
	}
	version := 0
	if secret.VersionMetadata != nil {
		version = secret.VersionMetadata.Version
	}
	vc.logger.Debug("Vault secret read", "mount", vc.mount, "path", path, "version", version, "fields", len(secret.Data))
	return secret.Data, version, nil
}

// String returns one string field of the secret at path.
func (vc *VaultClient) String(ctx context.Context, path, key string) (string, error) {
	data, _, err := vc.Secret(ctx, path)
	if err != nil {
		return "", err
	}
	value, ok := data[key].(string)
	if !ok {
		return "", errors.NewConfigError(errors.ErrCodeInvalidConfig, fmt.Sprintf("vault secret has no string field %q", key), nil).
			WithContext("path", path)
	}
	return value, nil
}

// providerSecretKeys maps field names inside the providers secret to config targets
var providerSecretKeys = map[string]func(*Config) *string{
	"gemini_api_key":     func(c *Config) *string { return &c.Providers.GeminiAPIKey },
	"openai_api_key":     func(c *Config) *string { return &c.Providers.OpenAIAPIKey },
	"pinecone_api_key":   func(c *Config) *string { return &c.Providers.PineconeAPIKey },
	"firecrawl_api_key":  func(c *Config) *string { return &c.Providers.FirecrawlAPIKey },
	"adzuna_app_id":      func(c *Config) *string { return &c.Providers.AdzunaAppID },
	"adzuna_app_key":     func(c *Config) *string { return &c.Providers.AdzunaAppKey },
	"sendgrid_api_key":   func(c *Config) *string { return &c.Providers.SendGridAPIKey },
	"twilio_account_sid": func(c *Config) *string { return &c.Providers.TwilioAccountSID },
	"twilio_auth_token":  func(c *Config) *string { return &c.Providers.TwilioAuthToken },
	"twilio_from_number": func(c *Config) *string { return &c.Providers.TwilioFromNumber },
	"jwt_secret":         func(c *Config) *string { return &c.Auth.JWTSecret },
}

// ApplyVaultSecrets overlays API keys and provider credentials from Vault
// onto cfg. Values already loaded from file or env are replaced only by
// non-empty secrets.
func ApplyVaultSecrets(cfg *Config, logger *errors.Logger) error {
	if !cfg.Vault.Enabled {
		logger.Debug("Vault integration disabled, skipping secret loading")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), vaultTimeout)
	defer cancel()

	client, err := NewVaultClient(ctx, cfg.Vault, logger)
	if err != nil {
		return err
	}

	if path := cfg.Vault.Secrets.APIKeys; path != "" {
		raw, err := client.String(ctx, path, "keys")
		if err != nil {
			return err
		}
		if keys := ParseKeyList(raw); len(keys) > 0 {
			cfg.Server.APIKeys = keys
			logger.Info("API keys loaded from Vault", "count", len(keys))
		} else {
			logger.Warn("Vault API key secret is empty", "path", path)
		}
	}

	if path := cfg.Vault.Secrets.Providers; path != "" {
		data, version, err := client.Secret(ctx, path)
		if err != nil {
			return err
		}
		loaded := applyProviderSecrets(cfg, data)
		logger.Info("Provider secrets loaded from Vault", "path", path, "count", loaded, "version", version)
	}
	return nil
}

// applyProviderSecrets copies every known non-empty string field onto cfg.
func applyProviderSecrets(cfg *Config, data map[string]any) int {
	loaded := 0
	for key, target := range providerSecretKeys {
		value, ok := data[key].(string)
		if !ok || value == "" {
			continue
		}
		*target(cfg) = value
		loaded++
	}
	return loaded
}
