package server

import (
	"crypto/tls"
	"fmt"
	"net/http"
)

// configureTLS loads the static server certificate when TLS is enabled.
func (s *Server) configureTLS(httpServer *http.Server) error {
	if s.TLSConfig.Mode != "server" {
		return nil
	}
	tlsConfig, err := s.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}
	httpServer.TLSConfig = tlsConfig
	return nil
}

func (s *Server) buildTLSConfig() (*tls.Config, error) {
	if s.TLSConfig.CertFile == "" || s.TLSConfig.KeyFile == "" {
		return nil, fmt.Errorf("TLS certificate and key files are required")
	}
	cert, err := tls.LoadX509KeyPair(s.TLSConfig.CertFile, s.TLSConfig.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load server cert/key from files: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   s.TLSConfig.MinTLSVersion(),
	}, nil
}
