package cli

import (
	"context"

	"github.com/spf13/cobra"

	"jobpilot/internal/config"
	"jobpilot/internal/errors"
	"jobpilot/internal/parser"
	"jobpilot/internal/store"
)

// Define custom private types for context keys.
type configKeyType struct{}
type loggerKeyType struct{}

// Use variables of these types as the keys.
var configKey = configKeyType{}
var loggerKey = loggerKeyType{}

var rootCmd = &cobra.Command{
	Use:   "jobpilot",
	Short: "Job search automation: ingestion, ranking, CV experiments and scheduling",
	Long: `Jobpilot ingests job postings, ranks them against a candidate profile,
adapts CVs to each job, runs experiments over CV variants and plans when to
send applications. "serve" runs one of the HTTP services; the other commands
run the same pipeline steps from the terminal.`,
	SilenceUsage: true,
}

func Execute(ctx context.Context, cfg *config.Config, logger *errors.Logger) error {
	// Attach the config and logger to the context, making them available to all subcommands
	ctx = context.WithValue(ctx, configKey, cfg)
	ctx = context.WithValue(ctx, loggerKey, logger)
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}

// getConfigFromContext is a helper function to get config from context
func getConfigFromContext(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
		return cfg
	}
	panic("config not found in context") // Should not happen if properly initialized
}

// getLoggerFromContext is a helper function to get logger from context
func getLoggerFromContext(ctx context.Context) *errors.Logger {
	if logger, ok := ctx.Value(loggerKey).(*errors.Logger); ok {
		return logger
	}
	panic("logger not found in context") // Should not happen if properly initialized
}

func openStore(cfg *config.Config, logger *errors.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.Storage.DataDir, logger)
	if err != nil {
		return nil, errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed, "cannot open data directory", err).
			WithContext("dir", cfg.Storage.DataDir)
	}
	return st, nil
}

// newParser loads the configured lexicon, or the built-in one.
func newParser(cfg *config.Config, logger *errors.Logger) (*parser.Parser, error) {
	lex := parser.DefaultLexicon()
	if cfg.Parser.LexiconFile != "" {
		l, err := parser.LoadLexicon(cfg.Parser.LexiconFile)
		if err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "cannot load parser lexicon", err)
		}
		lex = l
	}
	return parser.New(lex, parser.OptionsFromConfig(cfg.Parser), logger), nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(rankCmd)
	rootCmd.AddCommand(adaptCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}
