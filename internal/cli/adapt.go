package cli

import (
	"github.com/spf13/cobra"

	"jobpilot/internal/common"
	"jobpilot/internal/cvadapt"
	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/observability"
	"jobpilot/internal/render"
)

var adaptCmd = &cobra.Command{
	Use:   "adapt [cv-file] [job-description-file]",
	Short: "Adapt a CV to a job description",
	Long: `Adapt an authored CV (JSON) to a job description (plain text). The
variant reorders and injects only skills the CV already contains, rewrites the
summary around the overlap and moves matching experience first. The result is
audited against the original before it is written.

Formats: json (the full variant), txt, md, docx and pdf (the adapted CV).`,
	Args: cobra.ExactArgs(2),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if adaptOutput.OutputFormat == "" {
			adaptOutput.OutputFormat = render.FormatJSON
		}
		return nil
	},
	RunE: runAdapt,
}

var (
	adaptOutput common.CommandConfig
	adaptTitle  string
	adaptKnobs  = cvadapt.DefaultKnobs()
)

func init() {
	adaptCmd.Flags().StringVarP(&adaptOutput.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	adaptCmd.Flags().StringVar(&adaptOutput.OutputFormat, "format", "", "Output format: json, txt, md, docx, pdf")
	adaptCmd.Flags().StringVar(&adaptTitle, "title", "", "Job title, improves seniority and domain detection")
	adaptCmd.Flags().BoolVar(&adaptKnobs.RewriteSummary, "rewrite-summary", adaptKnobs.RewriteSummary, "Rewrite the summary around matching skills")
	adaptCmd.Flags().BoolVar(&adaptKnobs.ReorderSkills, "reorder-skills", adaptKnobs.ReorderSkills, "Put job-relevant skills first")
	adaptCmd.Flags().BoolVar(&adaptKnobs.InjectSkills, "inject-skills", adaptKnobs.InjectSkills, "Surface required skills found elsewhere in the CV")
	adaptCmd.Flags().BoolVar(&adaptKnobs.EmphasizeExperience, "emphasize-experience", adaptKnobs.EmphasizeExperience, "Move matching experience entries first")
	adaptCmd.Flags().IntVar(&adaptKnobs.SummarySkills, "summary-skills", adaptKnobs.SummarySkills, "Skills named in the rewritten summary")

	_ = adaptCmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{render.FormatJSON, render.FormatText, render.FormatMarkdown, render.FormatDOCX, render.FormatPDF}, cobra.ShellCompDirectiveNoFileComp
	})
}

func runAdapt(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := getConfigFromContext(ctx)
	logger := getLoggerFromContext(ctx)
	files := common.NewFileProcessor(logger)

	var cv models.CV
	if err := files.ReadJSON(args[0], &cv); err != nil {
		return err
	}
	if cv.IsEmpty() {
		return errors.NewValidationError(errors.ErrCodeMissingField, "CV content required", nil)
	}
	description, err := files.ReadText(args[1])
	if err != nil {
		return err
	}

	p, err := newParser(cfg, logger)
	if err != nil {
		return err
	}
	req := p.ParseJob(adaptTitle, description)
	logger.Info("Adapting CV", "required_skills", req.RequiredSkills, "seniority", req.Seniority, "domain", req.Domain)

	adapter := cvadapt.New(logger, cvadapt.WithObservability(observability.NewDisabled("cli")))
	variant, err := adapter.Adapt(ctx, cv, models.Fingerprint(adaptTitle, "", "", description), req, adaptKnobs)
	if err != nil {
		return err
	}
	if violations := cvadapt.Audit(cv, variant.Content); len(violations) > 0 {
		return errors.NewInternalError(errors.ErrCodeInternal, "adapted CV contains content absent from the original", nil).
			WithContext("violations", violations)
	}
	logger.Info("CV adapted", "variant_id", variant.ID, "alignment_score", variant.AlignmentScore, "modifications", len(variant.Modifications))

	return common.NewOutputHandler(logger).HandleOutput(variant, adaptOutput)
}
