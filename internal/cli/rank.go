package cli

import (
	"github.com/spf13/cobra"

	"jobpilot/internal/common"
	"jobpilot/internal/ingestion"
	"jobpilot/internal/models"
	"jobpilot/internal/observability"
	"jobpilot/internal/service/core"
	"jobpilot/internal/store"
)

var rankCmd = &cobra.Command{
	Use:   "rank [profile-file]",
	Short: "Ingest jobs and rank them against a candidate profile",
	Long: `Read a candidate profile (JSON), ingest postings for it, extract their
requirements and print the jobs ranked by fit. Keywords default to the first
target role of the profile, the location to the profile's location.`,
	Args: cobra.ExactArgs(1),
	RunE: runRank,
}

var (
	rankQuery  ingestion.Query
	rankLimit  int
	rankOutput common.CommandConfig
)

func init() {
	rankCmd.Flags().StringVarP(&rankQuery.Keywords, "keywords", "k", "", "Search keywords (default from the profile)")
	rankCmd.Flags().StringVarP(&rankQuery.Location, "location", "l", "", "Location filter (default from the profile)")
	rankCmd.Flags().IntVarP(&rankLimit, "top", "n", 10, "Number of ranked jobs to print")
	rankCmd.Flags().StringVarP(&rankOutput.OutputFile, "output", "o", "", "Output file path (default: stdout)")
}

func runRank(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := getConfigFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	var profile models.CandidateProfile
	if err := common.NewFileProcessor(logger).ReadJSON(args[0], &profile); err != nil {
		return err
	}
	profile.Normalize()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	svc, err := core.NewFromConfig(ctx, cfg, st, store.NewCounters(st, "cli"), observability.NewDisabled("cli"), logger)
	if err != nil {
		return err
	}
	defer svc.Stop()

	res, err := svc.Search(ctx, profile, rankQuery, rankLimit)
	if err != nil {
		return err
	}
	logger.Info("Ranking completed", "candidates", res.Candidates, "returned", len(res.Jobs),
		"embedder_version", res.EmbedderVersion, "semantic_degraded", res.SemanticDegraded)

	rankOutput.OutputFormat = "json"
	return common.NewOutputHandler(logger).HandleOutput(res, rankOutput)
}
