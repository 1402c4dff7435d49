package config

import (
	"crypto/tls"
	"fmt"
	"os"
)

// ValidateTLSConfig checks the TLS mode, that server mode has readable
// certificate and key files, and the minimum version.
func (c *Config) ValidateTLSConfig() error {
	t := c.Server.TLS

	switch t.Mode {
	case "", "disabled":
	case "server":
		if t.CertFile == "" || t.KeyFile == "" {
			return fmt.Errorf("TLS certificate and key files are required for server mode")
		}
		for _, f := range []string{t.CertFile, t.KeyFile} {
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("TLS file %s is not readable: %w", f, err)
			}
		}
	default:
		return fmt.Errorf("invalid TLS mode: %s (must be 'disabled' or 'server')", t.Mode)
	}

	if t.MinVersion != "" && t.MinVersion != "1.2" && t.MinVersion != "1.3" {
		return fmt.Errorf("invalid TLS minVersion: %s (must be '1.2' or '1.3')", t.MinVersion)
	}
	return nil
}

// MinTLSVersion maps MinVersion to its crypto/tls constant. Anything but
// "1.3" means TLS 1.2.
func (t TLSConfig) MinTLSVersion() uint16 {
	if t.MinVersion == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
