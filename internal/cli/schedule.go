package cli

import (
	"time"

	"github.com/spf13/cobra"

	"jobpilot/internal/common"
	"jobpilot/internal/errors"
	"jobpilot/internal/observability"
	"jobpilot/internal/render"
	"jobpilot/internal/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule [intents-file]",
	Short: "Plan send slots for a batch of applications",
	Long: `Read application intents (a JSON array of {variant_id, job_fingerprint,
platform, company, priority}) and place them into morning and afternoon
slots of the coming weekdays under the configured daily caps. Intents that do
not fit are listed with the reason.

--xlsx writes the plan as a workbook to --output.`,
	Args: cobra.ExactArgs(1),
	RunE: runSchedule,
}

var (
	scheduleOutput common.CommandConfig
	scheduleStart  string
	scheduleXLSX   bool
	scheduleCaps   scheduler.Constraints
)

func init() {
	scheduleCmd.Flags().StringVarP(&scheduleOutput.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	scheduleCmd.Flags().BoolVar(&scheduleXLSX, "xlsx", false, "Write an Excel workbook (needs --output)")
	scheduleCmd.Flags().StringVar(&scheduleStart, "start", "", "First day of the window, YYYY-MM-DD (default: today)")
	scheduleCmd.Flags().IntVar(&scheduleCaps.MaxPerDay, "max-per-day", 0, "Applications per day (default from config)")
	scheduleCmd.Flags().IntVar(&scheduleCaps.MaxPerPlatformPerDay, "max-per-platform", 0, "Applications per platform and day (default from config)")
	scheduleCmd.Flags().IntVar(&scheduleCaps.MaxPerCompanyPerDay, "max-per-company", 0, "Applications per company and day (default from config)")
	scheduleCmd.Flags().IntVar(&scheduleCaps.WindowDays, "days", 0, "Weekdays in the window (default from config)")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := getConfigFromContext(ctx)
	logger := getLoggerFromContext(ctx)

	var intents []scheduler.Intent
	if err := common.NewFileProcessor(logger).ReadJSON(args[0], &intents); err != nil {
		return err
	}

	start := time.Now()
	if scheduleStart != "" {
		t, err := time.ParseInLocation(time.DateOnly, scheduleStart, time.Local)
		if err != nil {
			return errors.NewValidationError(errors.ErrCodeInvalidRequest, "start must be YYYY-MM-DD", err)
		}
		start = t
	}

	s := scheduler.New(scheduler.DefaultConstraints(cfg.Scheduler), observability.NewDisabled("cli"), logger)
	res, err := s.Plan(ctx, intents, scheduleCaps, start)
	if err != nil {
		return err
	}
	logger.Info("Schedule planned", "placed", res.Metrics.Placed, "dropped", len(res.Dropped), "days", len(res.Days))

	scheduleOutput.OutputFormat = render.FormatJSON
	if scheduleXLSX {
		scheduleOutput.OutputFormat = render.FormatXLSX
	}
	return common.NewOutputHandler(logger).HandleOutput(res, scheduleOutput)
}
