package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/notify"
	"jobpilot/internal/observability"
	"jobpilot/internal/render"
	"jobpilot/internal/server"
	"jobpilot/internal/service/auth"
	"jobpilot/internal/service/core"
	"jobpilot/internal/service/cvgen"
	"jobpilot/internal/service/email"
	"jobpilot/internal/service/translation"
	"jobpilot/internal/store"
	"jobpilot/internal/translate"
)

var serviceNames = []string{auth.Name, core.Name, cvgen.Name, email.Name, translation.Name}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one HTTP service of the mesh",
	Long: `Run one of the five HTTP services until interrupted.

Services:
- auth: registration, login and session tokens
- core: profiles, ranked job search, CV experiments, scheduling, message routing
- cv: CV generation sessions, uploads and downloads
- email: templated email, SMS and WhatsApp delivery
- translation: text translation and language detection

Every service also answers GET /, GET /health, GET /stats and POST /message/inbox.

TLS Configuration:
- Use --tls-mode to set TLS mode: disabled, server
- Use --cert-file and --key-file for TLS certificates`,
	RunE: runServe,
}

var serveFlags struct {
	service  string
	port     string
	host     string
	tlsMode  string
	certFile string
	keyFile  string
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.service, "service", core.Name, "Service to run: "+strings.Join(serviceNames, ", "))
	serveCmd.Flags().StringVarP(&serveFlags.port, "port", "p", "", "Port to listen on (default from config)")
	serveCmd.Flags().StringVar(&serveFlags.host, "host", "", "Host to bind to (default from config)")
	serveCmd.Flags().StringVar(&serveFlags.tlsMode, "tls-mode", "", "TLS mode: disabled, server (overrides config)")
	serveCmd.Flags().StringVar(&serveFlags.certFile, "cert-file", "", "Server certificate file (PEM, overrides config)")
	serveCmd.Flags().StringVar(&serveFlags.keyFile, "key-file", "", "Server private key file (PEM, overrides config)")

	_ = serveCmd.RegisterFlagCompletionFunc("service", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return serviceNames, cobra.ShellCompDirectiveNoFileComp
	})
}

// applyServeFlags copies the flags that were set onto cfg.
func applyServeFlags(cfg *config.Config) {
	if serveFlags.port != "" {
		cfg.Server.Port = serveFlags.port
	}
	if serveFlags.host != "" {
		cfg.Server.Host = serveFlags.host
	}
	if serveFlags.tlsMode != "" {
		cfg.Server.TLS.Mode = serveFlags.tlsMode
	}
	if serveFlags.certFile != "" {
		cfg.Server.TLS.CertFile = serveFlags.certFile
	}
	if serveFlags.keyFile != "" {
		cfg.Server.TLS.KeyFile = serveFlags.keyFile
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := getConfigFromContext(ctx)
	name := strings.ToLower(strings.TrimSpace(serveFlags.service))
	logger := getLoggerFromContext(ctx).With("service", name)

	applyServeFlags(cfg)
	if err := cfg.ValidateTLSConfig(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if err := config.ApplyVaultSecrets(cfg, logger); err != nil {
		return err
	}

	om, err := observability.NewObservabilityManager(observability.GetObservabilityConfig(cfg, name, Version), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := om.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Observability shutdown failed", "error", err.Error())
		}
	}()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	counters := store.NewCounters(st, name)

	svc, err := buildService(ctx, name, cfg, st, counters, om, logger)
	if err != nil {
		return err
	}
	srv := server.NewServer(cfg, server.ConfigFor(cfg, name, Version), svc, counters, om, logger).WithInbox(st)
	return srv.Start(ctx)
}

func buildService(ctx context.Context, name string, cfg *config.Config, st *store.Store, counters *store.Counters, om *observability.ObservabilityManager, logger *errors.Logger) (server.Service, error) {
	switch name {
	case auth.Name:
		return auth.New(cfg, st, counters, om, logger)
	case core.Name:
		return core.NewFromConfig(ctx, cfg, st, counters, om, logger)
	case cvgen.Name:
		p, err := newParser(cfg, logger)
		if err != nil {
			return nil, err
		}
		registry := render.NewRegistry(render.WithPDFFonts(cfg.Render.FontFile, cfg.Render.BoldFontFile))
		return cvgen.New(st, p, registry, counters, om, logger)
	case email.Name:
		return email.New(st, notify.New(cfg, logger, notify.WithObservability(om)), counters, om, logger)
	case translation.Name:
		tr, err := translate.NewFromConfig(ctx, cfg, logger, translate.WithCache(st), translate.WithObservability(om))
		if err != nil {
			return nil, err
		}
		return translation.New(tr, st, om, logger)
	}
	return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, fmt.Sprintf("unknown service %q", name), nil).
		WithContext("services", serviceNames)
}
