package cli

import (
	"github.com/spf13/cobra"

	"jobpilot/internal/common"
	"jobpilot/internal/ingestion"
	"jobpilot/internal/observability"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch, normalize and deduplicate job postings",
	Long: `Query every configured job source, deduplicate the postings by
fingerprint and store them in jobs.json. When the sources return too few
postings, synthetic ones fill the gap if enabled in the config.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

var (
	ingestQuery  ingestion.Query
	ingestOutput common.CommandConfig
)

func init() {
	ingestCmd.Flags().StringVarP(&ingestQuery.Keywords, "keywords", "k", "", "Search keywords (required)")
	ingestCmd.Flags().StringVarP(&ingestQuery.Location, "location", "l", "", "Location filter")
	ingestCmd.Flags().StringVar(&ingestQuery.ExperienceBand, "band", "", "Experience band: entry, junior, mid, senior, lead, executive")
	ingestCmd.Flags().IntVar(&ingestQuery.Limit, "limit", 0, "Maximum postings per source")
	ingestCmd.Flags().StringVarP(&ingestOutput.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	_ = ingestCmd.MarkFlagRequired("keywords")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg := getConfigFromContext(cmd.Context())
	logger := getLoggerFromContext(cmd.Context())

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	om := observability.NewDisabled("cli")
	mgr := ingestion.NewFromConfig(cfg, logger, ingestion.WithStore(st), ingestion.WithObservability(om))

	logger.Info("Starting ingestion", "keywords", ingestQuery.Keywords, "location", ingestQuery.Location, "sources", mgr.Sources())
	res, err := mgr.Ingest(cmd.Context(), ingestQuery)
	if err != nil {
		return err
	}
	for _, e := range res.AdapterErrors {
		logger.Warn("Job source failed", "adapter", e.Adapter, "error", e.Error)
	}
	logger.Info("Ingestion completed", "jobs", len(res.Jobs), "synthetic_used", res.SyntheticUsed)

	ingestOutput.OutputFormat = "json"
	return common.NewOutputHandler(logger).HandleOutput(res, ingestOutput)
}
