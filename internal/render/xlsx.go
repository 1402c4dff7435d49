package render

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"jobpilot/internal/models"
	"jobpilot/internal/scheduler"
)

// ExperimentReport is an experiment with its variants and applications.
type ExperimentReport struct {
	Experiment   models.Experiment    `json:"experiment"`
	Variants     []models.CVVariant   `json:"variants"`
	Applications []models.Application `json:"applications"`
}

var thinBorder = []excelize.Border{
	{Type: "left", Color: "000000", Style: 1},
	{Type: "right", Color: "000000", Style: 1},
	{Type: "top", Color: "000000", Style: 1},
	{Type: "bottom", Color: "000000", Style: 1},
}

type sheetStyles struct {
	title  int
	header int
	label  int
	winner int
}

func newStyles(f *excelize.File) (sheetStyles, error) {
	var s sheetStyles
	var err error
	if s.title, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "left", Vertical: "center"},
	}); err != nil {
		return s, err
	}
	if s.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    thinBorder,
	}); err != nil {
		return s, err
	}
	if s.label, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return s, err
	}
	if s.winner, err = f.NewStyle(&excelize.Style{
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"C6EFCE"}, Pattern: 1},
		Border: thinBorder,
	}); err != nil {
		return s, err
	}
	return s, nil
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

// writeTable writes headers in row 1 and rows below, freezes the header and
// enables the auto filter.
func writeTable(f *excelize.File, sheet string, st sheetStyles, headers []string, rows [][]any) error {
	for i, h := range headers {
		if err := f.SetCellValue(sheet, cell(i+1, 1), h); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell(i+1, 1), cell(i+1, 1), st.header); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for c, v := range row {
			if err := f.SetCellValue(sheet, cell(c+1, r+2), v); err != nil {
				return err
			}
		}
	}
	last, _ := excelize.ColumnNumberToName(len(headers))
	if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
		return err
	}
	if len(rows) > 0 {
		if err := f.AutoFilter(sheet, fmt.Sprintf("A1:%s%d", last, len(rows)+1), []excelize.AutoFilterOptions{}); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writePairs(f *excelize.File, sheet string, st sheetStyles, title string, pairs [][2]any) error {
	if err := f.SetColWidth(sheet, "A", "A", 26); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "B", "B", 40); err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, "A1", title); err != nil {
		return err
	}
	if err := f.MergeCell(sheet, "A1", "B1"); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "B1", st.title); err != nil {
		return err
	}
	for i, p := range pairs {
		row := i + 3
		if err := f.SetCellValue(sheet, cell(1, row), p[0]); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, cell(1, row), cell(1, row), st.label); err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell(2, row), p[1]); err != nil {
			return err
		}
	}
	return nil
}

func workbook(build func(f *excelize.File, st sheetStyles) error) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	st, err := newStyles(f)
	if err != nil {
		return nil, err
	}
	if err := build(f, st); err != nil {
		return nil, err
	}
	f.SetActiveSheet(0)
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newSheet(f *excelize.File, name string) error {
	_, err := f.NewSheet(name)
	return err
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// ExperimentXLSXFormatter writes a summary, per-variant counters and the
// application log of an experiment.
type ExperimentXLSXFormatter struct{}

func (x *ExperimentXLSXFormatter) Format(data any) ([]byte, error) {
	var rep ExperimentReport
	switch v := data.(type) {
	case ExperimentReport:
		rep = v
	case *ExperimentReport:
		rep = *v
	default:
		return nil, fmt.Errorf("expected ExperimentReport, got %T", data)
	}
	exp := rep.Experiment

	return workbook(func(f *excelize.File, st sheetStyles) error {
		if err := f.SetSheetName("Sheet1", "Summary"); err != nil {
			return err
		}
		ended := formatTime(exp.EndedAt)
		if err := writePairs(f, "Summary", st, "Experiment "+exp.ID, [][2]any{
			{"Candidate", exp.CandidateID},
			{"Parent CV", exp.ParentCVID},
			{"Job fingerprint", exp.JobFingerprint},
			{"Status", string(exp.Status)},
			{"Target per variant", exp.ApplicationsTarget},
			{"Winner", exp.Winner},
			{"Confidence", exp.Confidence},
			{"Completion reason", exp.CompletionReason},
			{"Created", exp.CreatedAt.UTC().Format(time.RFC3339)},
			{"Ended", ended},
		}); err != nil {
			return err
		}

		alignment := make(map[string]float64, len(rep.Variants))
		for _, v := range rep.Variants {
			alignment[v.ID] = v.AlignmentScore
		}
		var rows [][]any
		winnerRow := 0
		for i, s := range exp.Stats {
			rows = append(rows, []any{s.VariantID, alignment[s.VariantID], s.ApplicationsSent, s.Responses, s.Interviews, s.Offers, s.PerformanceScore})
			if s.VariantID == exp.Winner {
				winnerRow = i + 2
			}
		}
		if err := newSheet(f, "Variants"); err != nil {
			return err
		}
		if err := writeTable(f, "Variants", st, []string{"Variant", "Alignment", "Sent", "Responses", "Interviews", "Offers", "Performance"}, rows); err != nil {
			return err
		}
		if winnerRow > 0 {
			if err := f.SetCellStyle("Variants", cell(1, winnerRow), cell(7, winnerRow), st.winner); err != nil {
				return err
			}
		}

		apps := append([]models.Application(nil), rep.Applications...)
		sort.Slice(apps, func(i, j int) bool {
			if !apps[i].SubmittedAt.Equal(apps[j].SubmittedAt) {
				return apps[i].SubmittedAt.Before(apps[j].SubmittedAt)
			}
			return apps[i].ID < apps[j].ID
		})
		rows = rows[:0]
		for _, a := range apps {
			submitted := a.SubmittedAt
			rows = append(rows, []any{a.ID, a.VariantID, a.Platform, a.Company, formatTime(&submitted),
				a.ResponseReceived, a.InterviewScheduled, a.OfferReceived, formatTime(a.FollowUpAt)})
		}
		if err := newSheet(f, "Applications"); err != nil {
			return err
		}
		return writeTable(f, "Applications", st,
			[]string{"Application", "Variant", "Platform", "Company", "Submitted", "Response", "Interview", "Offer", "Follow-up"}, rows)
	})
}

func (x *ExperimentXLSXFormatter) SupportedType() string { return "ExperimentReport" }

// ScheduleXLSXFormatter writes the placements, drops, follow-ups and
// metrics of a schedule.
type ScheduleXLSXFormatter struct{}

func (x *ScheduleXLSXFormatter) Format(data any) ([]byte, error) {
	var res scheduler.Result
	switch v := data.(type) {
	case scheduler.Result:
		res = v
	case *scheduler.Result:
		res = *v
	default:
		return nil, fmt.Errorf("expected schedule result, got %T", data)
	}

	return workbook(func(f *excelize.File, st sheetStyles) error {
		if err := f.SetSheetName("Sheet1", "Schedule"); err != nil {
			return err
		}
		var rows [][]any
		for _, p := range res.Placements() {
			rows = append(rows, []any{p.Day, res.Schedule[p.Day].Weekday, p.Slot, p.SendAt.Format("15:04"),
				p.VariantID, p.Platform, p.Company, p.Priority, p.Score})
		}
		if err := writeTable(f, "Schedule", st,
			[]string{"Day", "Weekday", "Slot", "Send at", "Variant", "Platform", "Company", "Priority", "Score"}, rows); err != nil {
			return err
		}

		rows = nil
		for _, d := range res.Dropped {
			rows = append(rows, []any{d.VariantID, d.Platform, d.Company, d.Priority, d.Reason})
		}
		if err := newSheet(f, "Dropped"); err != nil {
			return err
		}
		if err := writeTable(f, "Dropped", st, []string{"Variant", "Platform", "Company", "Priority", "Reason"}, rows); err != nil {
			return err
		}

		rows = nil
		for _, fu := range res.FollowUps {
			rows = append(rows, []any{fu.VariantID, fu.Platform, fu.Class, fu.Purpose, fu.Date.Format("2006-01-02 15:04")})
		}
		if err := newSheet(f, "Follow-ups"); err != nil {
			return err
		}
		if err := writeTable(f, "Follow-ups", st, []string{"Variant", "Platform", "Class", "Purpose", "Date"}, rows); err != nil {
			return err
		}

		if err := newSheet(f, "Metrics"); err != nil {
			return err
		}
		pairs := [][2]any{
			{"Placed", res.Metrics.Placed},
			{"Dropped", res.Metrics.Dropped},
			{"Slot utilization", res.Metrics.Utilization},
			{"Average quality", res.Metrics.AverageQuality},
		}
		platforms := make([]string, 0, len(res.Metrics.PlatformBalance))
		for p := range res.Metrics.PlatformBalance {
			platforms = append(platforms, p)
		}
		sort.Strings(platforms)
		for _, p := range platforms {
			pairs = append(pairs, [2]any{"Share " + p, res.Metrics.PlatformBalance[p]})
		}
		return writePairs(f, "Metrics", st, "Schedule metrics", pairs)
	})
}

func (x *ScheduleXLSXFormatter) SupportedType() string { return "Schedule" }
