package render

import (
	"archive/zip"
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/scheduler"
)

func sampleCV() models.CV {
	return models.CV{
		ID:      "cv-1",
		Summary: "Analyst with 6 years of experience in retail reporting.",
		Skills:  []string{"Power BI", "Python", "Excel"},
		Experience: []models.ExperienceEntry{
			{Role: "Data Analyst", Company: "Globex R&D", Duration: "2019-2025", Description: "Built dashboards for 40 stores.\nAutomated reports with Python."},
		},
		Education: []string{"BSc Economics, University of Zurich"},
		Misc:      map[string]string{"name": "Anna Keller", "email": "anna@example.com", "languages": "German, English"},
	}
}

func TestTextAndMarkdown(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		format string
		want   []string
	}{
		{"txt", []string{"ANNA KELLER\n", "anna@example.com", "=== SKILLS ===\nPower BI, Python, Excel", "Data Analyst, Globex R&D (2019-2025)", "  Built dashboards for 40 stores.", "- languages: German, English"}},
		{"markdown", []string{"# Anna Keller\n", "## Experience", "### Data Analyst, Globex R&D (2019-2025)", "- BSc Economics, University of Zurich"}},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := r.Format(sampleCV(), tt.format)
			if err != nil {
				t.Fatalf("Format: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(string(out), w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestVariantRendersContent(t *testing.T) {
	v := models.CVVariant{ID: "v1", Content: sampleCV()}
	out, err := NewRegistry().Format(&v, FormatText)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "Power BI, Python, Excel") {
		t.Errorf("variant content not rendered:\n%s", out)
	}
}

func TestUnsupportedFormat(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Format(sampleCV(), "html"); err == nil {
		t.Error("html accepted")
	}
	if _, err := r.Format(map[string]int{"a": 1}, FormatPDF); err == nil {
		t.Error("pdf of a map accepted")
	}
	if !r.Supports(sampleCV(), "docx") || r.Supports(sampleCV(), "xlsx") {
		t.Error("Supports disagrees with registered formatters")
	}
	if got := ContentType("markdown"); got != "text/markdown; charset=utf-8" {
		t.Errorf("content type = %s", got)
	}
}

// nonLatinCV carries Cyrillic, Greek and CJK text.
func nonLatinCV() models.CV {
	cv := sampleCV()
	cv.Misc["name"] = "Дмитрий Ковалёв"
	cv.Summary = "Инженер данных, Αθήνα, 東京"
	return cv
}

func TestDocx(t *testing.T) {
	out, err := NewRegistry().Format(nonLatinCV(), FormatDOCX)
	if err != nil {
		t.Fatal(err)
	}
	zr, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	if err != nil {
		t.Fatalf("not a zip: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, name := range []string{"[Content_Types].xml", "_rels/.rels", "word/document.xml", "word/styles.xml"} {
		if !names[name] {
			t.Errorf("missing part %s", name)
		}
	}

	back, err := docx.ReadDocxFromMemory(bytes.NewReader(out), int64(len(out)))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	defer back.Close()
	doc := back.Editable().GetContent()
	for _, want := range []string{
		`<w:pStyle w:val="Title"/></w:pPr><w:r><w:t xml:space="preserve">Дмитрий Ковалёв</w:t>`,
		"Инженер данных, Αθήνα, 東京",
		"Globex R&amp;D",
		`<w:pStyle w:val="Heading1"/>`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document.xml missing %q", want)
		}
	}
	if strings.Contains(doc, "{{cv}}") {
		t.Error("template placeholder left in document")
	}
}

// pdfText inflates every Flate stream of a PDF and concatenates them.
func pdfText(t *testing.T, data []byte) []byte {
	t.Helper()
	var all []byte
	rest := data
	for {
		i := bytes.Index(rest, []byte("stream\n"))
		if i < 0 {
			return all
		}
		rest = rest[i+len("stream\n"):]
		j := bytes.Index(rest, []byte("endstream"))
		if j < 0 {
			return all
		}
		if zr, err := zlib.NewReader(bytes.NewReader(rest[:j])); err == nil {
			b, _ := io.ReadAll(zr)
			all = append(all, b...)
		}
		rest = rest[j+len("endstream"):]
	}
}

// utf16BE is how text drawn with a UTF-8 font appears in a content stream.
func utf16BE(s string) []byte {
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		out = append(out, byte(u>>8), byte(u))
	}
	return out
}

func TestPDF(t *testing.T) {
	cv := nonLatinCV()
	for i := 0; i < 30; i++ {
		cv.Experience = append(cv.Experience, models.ExperienceEntry{
			Role: fmt.Sprintf("Role %d", i), Company: "Initech",
			Description: "Led (cross-team) reporting\nwith a rather long sentence that needs to wrap across more than one line of the page body.",
		})
	}
	out, err := NewRegistry().Format(cv, FormatPDF)
	if err != nil {
		t.Fatal(err)
	}
	s := string(out)
	if !strings.HasPrefix(s, "%PDF-") || !strings.Contains(s, "%EOF") {
		t.Fatal("missing PDF header or trailer")
	}
	if !strings.Contains(s, "/FontFile2") {
		t.Error("TrueType font not embedded")
	}
	if c := regexp.MustCompile(`/Count (\d+)`).FindStringSubmatch(s); c == nil || c[1] == "1" {
		t.Errorf("long CV should span pages, got %v", c)
	}

	text := pdfText(t, out)
	for _, want := range []string{"Дмитрий", "Инженер данных", "Αθήνα", "Initech"} {
		if !bytes.Contains(text, utf16BE(want)) {
			t.Errorf("content streams do not carry %q", want)
		}
	}
}

func TestPDFFontFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.ttf")
	_, err := NewRegistry(WithPDFFonts(missing, "")).Format(sampleCV(), FormatPDF)
	if !errors.HasCode(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("missing font file error = %v", err)
	}
	if _, err := NewRegistry(WithPDFFonts("", missing)).Format(sampleCV(), FormatPDF); err != nil {
		t.Errorf("bold font without a regular font should keep the defaults: %v", err)
	}
}

func TestExperimentReport(t *testing.T) {
	ended := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	rep := ExperimentReport{
		Experiment: models.Experiment{
			ID: "exp-1", CandidateID: "cand-1", Status: models.ExperimentCompleted,
			Winner: "exp-1-v1", Confidence: "medium", CompletionReason: "early_stop",
			EndedAt: &ended,
			Stats: []models.VariantStats{
				{VariantID: "exp-1-v0", ApplicationsSent: 20, Interviews: 1},
				{VariantID: "exp-1-v1", ApplicationsSent: 20, Interviews: 4},
			},
		},
		Variants: []models.CVVariant{{ID: "exp-1-v0", AlignmentScore: 0.5}, {ID: "exp-1-v1", AlignmentScore: 0.7}},
		Applications: []models.Application{
			{ID: "app-2", VariantID: "exp-1-v1", Platform: "linkedin", SubmittedAt: ended.Add(-time.Hour), InterviewScheduled: true},
			{ID: "app-1", VariantID: "exp-1-v0", Platform: "indeed", SubmittedAt: ended.Add(-2 * time.Hour)},
		},
	}
	out, err := NewRegistry().Format(rep, "xlsx")
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	if got := strings.Join(f.GetSheetList(), ","); got != "Summary,Variants,Applications" {
		t.Errorf("sheets = %s", got)
	}
	if v, _ := f.GetCellValue("Summary", "B8"); v != "exp-1-v1" {
		t.Errorf("winner cell = %q", v)
	}
	if v, _ := f.GetCellValue("Variants", "E3"); v != "4" {
		t.Errorf("v1 interviews = %q", v)
	}
	if v, _ := f.GetCellValue("Applications", "A2"); v != "app-1" {
		t.Errorf("applications not sorted by submission: first = %q", v)
	}
}

func TestScheduleReport(t *testing.T) {
	s := scheduler.New(scheduler.Constraints{MaxPerDay: 15, MaxPerPlatformPerDay: 8, MaxPerCompanyPerDay: 2, WindowDays: 5}, nil, nil)
	intents := []scheduler.Intent{
		{VariantID: "v1", JobFingerprint: "j1", Platform: "linkedin", Company: "Globex", Priority: 0.9, SuccessProbability: 0.85},
		{VariantID: "v2", JobFingerprint: "j2", Platform: "indeed", Company: "Initech", Priority: 0.5},
	}
	res, err := s.Plan(context.Background(), intents, scheduler.Constraints{}, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	out, err := NewRegistry().Format(res, FormatXLSX)
	if err != nil {
		t.Fatal(err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	if got := strings.Join(f.GetSheetList(), ","); got != "Schedule,Dropped,Follow-ups,Metrics" {
		t.Errorf("sheets = %s", got)
	}
	rows, err := f.GetRows("Schedule")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("schedule rows = %d, want header + 2", len(rows))
	}
	if v, _ := f.GetCellValue("Follow-ups", "C2"); v == "" {
		t.Error("follow-up class missing")
	}
}
