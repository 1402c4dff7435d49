package cli

import (
	"github.com/spf13/cobra"

	"jobpilot/internal/common"
	"jobpilot/internal/cvadapt"
	"jobpilot/internal/experiment"
	"jobpilot/internal/render"
)

var exportCmd = &cobra.Command{
	Use:   "export [experiment-id]",
	Short: "Export an experiment with its variants and applications",
	Long: `Read an experiment from the data directory and write it with its
variants and applications. xlsx writes a workbook with one sheet per record
type; json prints the same report.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if exportOutput.OutputFormat == "" {
			exportOutput.OutputFormat = render.FormatXLSX
		}
		return nil
	},
	RunE: runExport,
}

var exportOutput common.CommandConfig

func init() {
	exportCmd.Flags().StringVarP(&exportOutput.OutputFile, "output", "o", "", "Output file path (required for xlsx)")
	exportCmd.Flags().StringVar(&exportOutput.OutputFormat, "format", "", "Output format: xlsx or json")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg := getConfigFromContext(cmd.Context())
	logger := getLoggerFromContext(cmd.Context())

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	orch := experiment.New(st, cvadapt.New(logger), cfg.Experiment, logger)
	exp, variants, err := orch.Get(args[0])
	if err != nil {
		return err
	}
	apps, err := orch.Applications(exp.ID)
	if err != nil {
		return err
	}
	logger.Info("Exporting experiment", "experiment_id", exp.ID, "status", exp.Status, "applications", len(apps))
	return common.NewOutputHandler(logger).HandleOutput(render.ExperimentReport{Experiment: exp, Variants: variants, Applications: apps}, exportOutput)
}
