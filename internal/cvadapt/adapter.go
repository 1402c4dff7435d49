// Package cvadapt derives job-specific CV variants from an authored CV.
//
// An adapter only reorders, surfaces and rephrases material that is already in
// the parent CV. Every change is recorded as a Modification so that the variant
// can be rebuilt from its parent with Apply.
package cvadapt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/observability"
	"jobpilot/internal/parser"
)

// DefaultSummarySkills is the number of overlapping skills named in a rewritten summary.
const DefaultSummarySkills = 5

// Section and change names used in modifications.
const (
	SectionSummary    = "summary"
	SectionSkills     = "skills"
	SectionExperience = "experience"

	ChangeRewrite   = "rewrite"
	ChangeInject    = "inject"
	ChangeReorder   = "reorder"
	ChangeEmphasize = "emphasize"
)

var variantNamespace = uuid.MustParse("6f1c2d4e-8a3b-5c7d-9e0f-1a2b3c4d5e6f")

// DefaultKnobs enables every modification step.
func DefaultKnobs() models.AdaptKnobs {
	return models.AdaptKnobs{
		RewriteSummary:      true,
		ReorderSkills:       true,
		InjectSkills:        true,
		EmphasizeExperience: true,
		SummarySkills:       DefaultSummarySkills,
	}
}

// Adapter produces CV variants.
type Adapter struct {
	om     *observability.ObservabilityManager
	logger *errors.Logger
	now    func() time.Time
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithObservability records variant counters on om.
func WithObservability(om *observability.ObservabilityManager) Option {
	return func(a *Adapter) { a.om = om }
}

// WithClock overrides the created-at clock.
func WithClock(now func() time.Time) Option { return func(a *Adapter) { a.now = now } }

// New returns an Adapter.
func New(logger *errors.Logger, opts ...Option) *Adapter {
	if logger == nil {
		logger = errors.NewNop()
	}
	a := &Adapter{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Adapt builds a variant of parent aligned to req. Thin input (an empty CV or
// no required skills) yields the parent unchanged with a zero alignment score.
func (a *Adapter) Adapt(ctx context.Context, parent models.CV, jobFingerprint string, req models.JobRequirements, knobs models.AdaptKnobs) (models.CVVariant, error) {
	_, span := otel.Tracer("jobpilot/cvadapt").Start(ctx, "cvadapt.adapt")
	defer span.End()

	variant := models.CVVariant{
		ID:             VariantID(parent.ID, jobFingerprint, knobs),
		ParentCVID:     parent.ID,
		JobFingerprint: jobFingerprint,
		Knobs:          knobs,
		Modifications:  []models.Modification{},
		Content:        parent.Clone(),
		CreatedAt:      a.now().UTC(),
	}

	required := models.NormalizeTerms(req.RequiredSkills)
	if parent.IsEmpty() || len(required) == 0 {
		a.logger.Debug("Thin adaptation input, returning parent unchanged",
			"cv_id", parent.ID, "empty_cv", parent.IsEmpty(), "required_skills", len(required))
		return variant, nil
	}

	content := parent.Clone()
	var mods []models.Modification

	if knobs.RewriteSummary {
		if m, ok := rewriteSummary(&content, req, knobs.SummarySkills); ok {
			mods = append(mods, m)
		}
	}
	if knobs.InjectSkills {
		mods = append(mods, injectSkills(&content, required)...)
	}
	if knobs.ReorderSkills {
		if m, ok := reorderSkills(&content, required); ok {
			mods = append(mods, m)
		}
	}
	if knobs.EmphasizeExperience {
		mods = append(mods, emphasizeExperience(&content, required)...)
	}

	if violations := Audit(parent, content); len(violations) > 0 {
		return models.CVVariant{}, errors.NewInternalError(errors.ErrCodeInternal,
			fmt.Sprintf("variant introduces content absent from the parent CV: %s", strings.Join(violations, "; ")), nil).
			WithContext("cv_id", parent.ID)
	}

	if mods == nil {
		mods = []models.Modification{}
	}
	variant.Modifications = mods
	variant.Content = content
	variant.SkillsAlignment, variant.AlignmentScore = Alignment(content, required)

	span.SetAttributes(attribute.Int("modifications", len(mods)), attribute.Float64("alignment", variant.AlignmentScore))
	a.om.GetMetrics().RecordPipelineMetric(ctx, "variant_generated", 1, a.om)
	a.logger.Debug("CV variant generated", "cv_id", parent.ID, "job", jobFingerprint,
		"modifications", len(mods), "alignment_score", variant.AlignmentScore)
	return variant, nil
}

// VariantID derives a stable id from the parent, the job and the knobs.
func VariantID(parentID, jobFingerprint string, knobs models.AdaptKnobs) string {
	k, _ := json.Marshal(knobs)
	return uuid.NewSHA1(variantNamespace, []byte(parentID+"|"+jobFingerprint+"|"+string(k))).String()
}

// Alignment returns skills_alignment and alignment_score of cv against required.
func Alignment(cv models.CV, required []string) (skills, score float64) {
	required = models.NormalizeTerms(required)
	if len(required) == 0 {
		return 0, 0
	}

	held := map[string]bool{}
	for _, s := range cv.Skills {
		held[models.NormalizeText(s)] = true
	}
	text := Text(cv)
	inSkills, mentioned := 0, 0
	for _, r := range required {
		if held[r] {
			inSkills++
		}
		if parser.ContainsTerm(text, r) {
			mentioned++
		}
	}

	leading := 0
	for _, e := range cv.Experience {
		sentences := splitSentences(e.Description)
		if len(sentences) > 0 && containsAnyTerm(sentences[0], required) {
			leading++
		}
	}

	n := float64(len(required))
	skills = float64(inSkills) / n
	mentionFrac := float64(mentioned) / n
	leadFrac := 0.0
	if len(cv.Experience) > 0 {
		leadFrac = float64(leading) / float64(len(cv.Experience))
	}
	score = 0.5*skills + 0.3*mentionFrac + 0.2*leadFrac
	return round4(skills), round4(score)
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}

var yearsClaim = regexp.MustCompile(`(?i)\b\d{1,2}\+?\s+years?\b`)

var seniorityLabels = map[models.Seniority]string{
	models.SeniorityEntry: "entry-level",
	models.SeniorityMid:   "mid-level",
}

// rewriteSummary prefixes the summary with a headline naming the overlapping
// skills, the target seniority and domain. The previous summary is kept verbatim.
func rewriteSummary(cv *models.CV, req models.JobRequirements, k int) (models.Modification, bool) {
	if k <= 0 {
		k = DefaultSummarySkills
	}
	var top []string
	for _, want := range append(models.NormalizeTerms(req.RequiredSkills), models.NormalizeTerms(req.NiceToHaveSkills)...) {
		if len(top) == k {
			break
		}
		for _, have := range cv.Skills {
			if models.NormalizeText(have) == want && !containsFold(top, have) {
				top = append(top, strings.TrimSpace(have))
				break
			}
		}
	}
	if len(top) == 0 {
		return models.Modification{}, false
	}

	role := "Professional"
	if len(cv.Experience) > 0 && strings.TrimSpace(cv.Experience[0].Role) != "" {
		role = models.CollapseSpace(cv.Experience[0].Role)
	}
	var b strings.Builder
	b.WriteString(role)
	if years := yearsClaim.FindString(cv.Summary); years != "" {
		b.WriteString(" with " + years + " of experience")
	}
	b.WriteString(" targeting ")
	if req.Seniority != "" {
		label, ok := seniorityLabels[req.Seniority]
		if !ok {
			label = string(req.Seniority)
		}
		b.WriteString(label + " ")
	}
	if req.Domain != "" && req.Domain != parser.DomainUnknown {
		b.WriteString(strings.ReplaceAll(req.Domain, "_", " ") + " ")
	}
	b.WriteString("roles. Core skills: " + strings.Join(top, ", ") + ".")
	if old := strings.TrimSpace(cv.Summary); old != "" {
		b.WriteString(" " + old)
	}

	m := models.Modification{Section: SectionSummary, Change: ChangeRewrite, Before: cv.Summary, After: b.String()}
	cv.Summary = m.After
	return m, true
}

// injectSkills surfaces required skills that the experience text evidences
// but the skills list omits. The injected spelling is copied from the text.
func injectSkills(cv *models.CV, required []string) []models.Modification {
	var mods []models.Modification
	for _, r := range required {
		if containsFold(cv.Skills, r) {
			continue
		}
		for _, e := range cv.Experience {
			i := parser.IndexTerm(e.Description, r)
			if i < 0 {
				continue
			}
			found := r
			if lower := strings.ToLower(e.Description); len(lower) == len(e.Description) {
				found = e.Description[i : i+len(r)]
			}
			cv.Skills = append(cv.Skills, found)
			mods = append(mods, models.Modification{Section: SectionSkills, Change: ChangeInject, After: found})
			break
		}
	}
	return mods
}

// reorderSkills moves held required skills to the front in requirement order.
func reorderSkills(cv *models.CV, required []string) (models.Modification, bool) {
	front := make([]string, 0, len(cv.Skills))
	used := make([]bool, len(cv.Skills))
	for _, r := range required {
		for i, s := range cv.Skills {
			if !used[i] && models.NormalizeText(s) == r {
				front = append(front, s)
				used[i] = true
				break
			}
		}
	}
	out := front
	for i, s := range cv.Skills {
		if !used[i] {
			out = append(out, s)
		}
	}
	if equalStrings(out, cv.Skills) {
		return models.Modification{}, false
	}
	m := models.Modification{
		Section: SectionSkills,
		Change:  ChangeReorder,
		Before:  encodeList(cv.Skills),
		After:   encodeList(out),
	}
	cv.Skills = out
	return m, true
}

var quantified = regexp.MustCompile(`\d`)

// emphasizeExperience moves sentences with a required skill or a number to the
// front of each entry, keeping relative order within both groups.
func emphasizeExperience(cv *models.CV, required []string) []models.Modification {
	var mods []models.Modification
	for i, e := range cv.Experience {
		sentences := splitSentences(e.Description)
		if len(sentences) < 2 {
			continue
		}
		var strong, rest []string
		for _, s := range sentences {
			if containsAnyTerm(s, required) || quantified.MatchString(s) {
				strong = append(strong, s)
			} else {
				rest = append(rest, s)
			}
		}
		reordered := append(strong, rest...)
		if equalStrings(reordered, sentences) {
			continue
		}
		sep := " "
		if strings.Contains(e.Description, "\n") {
			sep = "\n"
		}
		after := strings.Join(reordered, sep)
		mods = append(mods, models.Modification{
			Section: SectionExperience,
			Index:   i,
			Change:  ChangeEmphasize,
			Before:  e.Description,
			After:   after,
		})
		cv.Experience[i].Description = after
	}
	return mods
}

// splitSentences splits on sentence punctuation followed by whitespace and on line breaks.
func splitSentences(text string) []string {
	var out []string
	start := 0
	flush := func(end int) {
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			flush(i)
		case '.', '!', '?':
			if i+1 == len(text) || text[i+1] == ' ' || text[i+1] == '\t' || text[i+1] == '\n' || text[i+1] == '\r' {
				flush(i + 1)
			}
		}
	}
	flush(len(text))
	return out
}

func containsAnyTerm(text string, terms []string) bool {
	for _, t := range terms {
		if parser.ContainsTerm(text, t) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	n := models.NormalizeText(s)
	for _, v := range list {
		if models.NormalizeText(v) == n {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}
