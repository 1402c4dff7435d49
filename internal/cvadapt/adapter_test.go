package cvadapt

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/parser"
)

func analystCV() models.CV {
	return models.CV{
		ID:      "cv-analyst",
		Summary: "Analyst with 6 years of experience in retail reporting.",
		Skills:  []string{"Python", "Excel", "SAP", "Power BI"},
		Experience: []models.ExperienceEntry{{
			Role:        "BI Analyst",
			Company:     "Globex",
			Duration:    "2019-2024",
			Description: "Maintained SAP month-end close. Built Power BI dashboards for 40 stores. Automated reports with Python.",
		}},
		Education: []string{"BSc Economics"},
	}
}

func engineerCV() models.CV {
	return models.CV{
		ID:      "cv-engineer",
		Summary: "Backend engineer.",
		Skills:  []string{"Java", "Docker"},
		Experience: []models.ExperienceEntry{
			{
				Role:        "Software Engineer",
				Company:     "Initech",
				Duration:    "3 years",
				Description: "Owned the billing service.\nMigrated workloads to Kubernetes and cut costs by 30%.\nWrote Terraform modules.",
			},
			{
				Role:        "Intern",
				Company:     "Hooli",
				Description: "Helped the data team. Wrote PostgreSQL queries.",
			},
		},
		Misc: map[string]string{"languages": "English, German"},
	}
}

func newAdapter() *Adapter {
	fixed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return New(errors.NewNop(), WithClock(func() time.Time { return fixed }))
}

func TestScenarioAdaptCV(t *testing.T) {
	req := models.JobRequirements{
		RequiredSkills: []string{"Power BI", "SQL", "Python"},
		Seniority:      models.SenioritySenior,
		Domain:         "data",
	}
	v, err := newAdapter().Adapt(context.Background(), analystCV(), "job-1", req, DefaultKnobs())
	if err != nil {
		t.Fatalf("Adapt() error = %v", err)
	}

	if len(v.Content.Skills) < 2 || v.Content.Skills[0] != "Power BI" || v.Content.Skills[1] != "Python" {
		t.Errorf("skills = %v, want Power BI, Python first", v.Content.Skills)
	}
	for _, s := range v.Content.Skills {
		if strings.EqualFold(s, "sql") {
			t.Errorf("SQL was added without evidence: %v", v.Content.Skills)
		}
	}
	if v.AlignmentScore < 0.55 || v.AlignmentScore > 0.80 {
		t.Errorf("alignment_score = %v, want within [0.55, 0.80]", v.AlignmentScore)
	}
	if v.SkillsAlignment != 0.6667 {
		t.Errorf("skills_alignment = %v, want 0.6667", v.SkillsAlignment)
	}
	if violations := Audit(analystCV(), v.Content); len(violations) > 0 {
		t.Errorf("variant fabricates content: %v", violations)
	}
	if !strings.HasPrefix(v.Content.Summary, "BI Analyst with 6 years of experience targeting senior data roles. Core skills: Power BI, Python.") {
		t.Errorf("summary = %q", v.Content.Summary)
	}
	if !strings.HasPrefix(v.Content.Experience[0].Description, "Built Power BI dashboards") {
		t.Errorf("experience not emphasized: %q", v.Content.Experience[0].Description)
	}
}

func knobCombinations() []models.AdaptKnobs {
	var out []models.AdaptKnobs
	for mask := 0; mask < 16; mask++ {
		out = append(out, models.AdaptKnobs{
			RewriteSummary:      mask&1 != 0,
			ReorderSkills:       mask&2 != 0,
			InjectSkills:        mask&4 != 0,
			EmphasizeExperience: mask&8 != 0,
			SummarySkills:       1 + mask%5,
		})
	}
	return out
}

func TestVariantsNeverFabricate(t *testing.T) {
	p := parser.New(parser.DefaultLexicon(), parser.DefaultOptions(), nil)
	reqs := []models.JobRequirements{
		{RequiredSkills: []string{"power bi", "sql", "python"}, Seniority: models.SeniorityMid},
		{RequiredSkills: []string{"kubernetes", "terraform", "golang"}, NiceToHaveSkills: []string{"docker"}, Seniority: models.SeniorityLead, Domain: "infrastructure"},
		{RequiredSkills: []string{"postgresql", "java"}, Domain: "software"},
	}

	for _, parent := range []models.CV{analystCV(), engineerCV()} {
		parentSkills := map[string]bool{}
		pr := p.Parse(Text(parent))
		for _, s := range append(pr.RequiredSkills, pr.NiceToHaveSkills...) {
			parentSkills[s] = true
		}
		for _, req := range reqs {
			for _, knobs := range knobCombinations() {
				v, err := newAdapter().Adapt(context.Background(), parent, "job", req, knobs)
				if err != nil {
					t.Fatalf("Adapt(%s, %+v) error = %v", parent.ID, knobs, err)
				}
				if violations := Audit(parent, v.Content); len(violations) > 0 {
					t.Errorf("%s %+v: %v", parent.ID, knobs, violations)
				}
				vr := p.Parse(Text(v.Content))
				for _, s := range append(vr.RequiredSkills, vr.NiceToHaveSkills...) {
					if !parentSkills[s] {
						t.Errorf("%s %+v: skill %q not in parent", parent.ID, knobs, s)
					}
				}
			}
		}
	}
}

func TestModificationsReplay(t *testing.T) {
	reqs := []models.JobRequirements{
		{RequiredSkills: []string{"power bi", "sql", "python"}, Seniority: models.SenioritySenior, Domain: "data"},
		{RequiredSkills: []string{"kubernetes", "terraform", "postgresql"}, Seniority: models.SeniorityEntry},
	}
	for _, parent := range []models.CV{analystCV(), engineerCV()} {
		for _, req := range reqs {
			for _, knobs := range knobCombinations() {
				v, err := newAdapter().Adapt(context.Background(), parent, "job", req, knobs)
				if err != nil {
					t.Fatal(err)
				}
				rebuilt, err := Apply(parent, v.Modifications)
				if err != nil {
					t.Fatalf("Apply() error = %v", err)
				}
				got, _ := Canonical(rebuilt)
				want, _ := Canonical(v.Content)
				if !bytes.Equal(got, want) {
					t.Errorf("%s %+v: replay mismatch\n got %s\nwant %s", parent.ID, knobs, got, want)
				}
			}
		}
	}
}

func TestInjectEvidencedSkills(t *testing.T) {
	req := models.JobRequirements{RequiredSkills: []string{"Kubernetes", "Terraform", "Rust"}}
	v, err := newAdapter().Adapt(context.Background(), engineerCV(), "job", req, DefaultKnobs())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Kubernetes", "Terraform", "Java", "Docker"}
	if strings.Join(v.Content.Skills, "|") != strings.Join(want, "|") {
		t.Errorf("skills = %v, want %v", v.Content.Skills, want)
	}
	injected := 0
	for _, m := range v.Modifications {
		if m.Change == ChangeInject {
			injected++
		}
	}
	if injected != 2 {
		t.Errorf("inject modifications = %d, want 2", injected)
	}
	if first := v.Content.Experience[0].Description; !strings.HasPrefix(first, "Migrated workloads to Kubernetes") {
		t.Errorf("emphasis kept line order: %q", first)
	}
	if !strings.Contains(v.Content.Experience[0].Description, "\n") {
		t.Error("line separated description lost its line breaks")
	}
}

func TestThinInputReturnsParent(t *testing.T) {
	tests := []struct {
		name string
		cv   models.CV
		req  models.JobRequirements
	}{
		{"empty cv", models.CV{ID: "empty"}, models.JobRequirements{RequiredSkills: []string{"python"}}},
		{"no required skills", analystCV(), models.JobRequirements{NiceToHaveSkills: []string{"python"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := newAdapter().Adapt(context.Background(), tt.cv, "job", tt.req, DefaultKnobs())
			if err != nil {
				t.Fatalf("Adapt() error = %v", err)
			}
			if v.AlignmentScore != 0 || len(v.Modifications) != 0 {
				t.Errorf("got score %v with %d modifications", v.AlignmentScore, len(v.Modifications))
			}
			got, _ := Canonical(v.Content)
			want, _ := Canonical(tt.cv)
			if !bytes.Equal(got, want) {
				t.Errorf("content changed: %s", got)
			}
		})
	}
}

func TestDeterministicOutput(t *testing.T) {
	req := models.JobRequirements{RequiredSkills: []string{"python", "power bi"}, Seniority: models.SeniorityMid}
	a, _ := newAdapter().Adapt(context.Background(), analystCV(), "job", req, DefaultKnobs())
	b, _ := newAdapter().Adapt(context.Background(), analystCV(), "job", req, DefaultKnobs())
	ca, _ := Canonical(a.Content)
	cb, _ := Canonical(b.Content)
	if !bytes.Equal(ca, cb) || a.ID != b.ID {
		t.Error("identical inputs produced different variants")
	}

	other := DefaultKnobs()
	other.RewriteSummary = false
	c, _ := newAdapter().Adapt(context.Background(), analystCV(), "job", req, other)
	if c.ID == a.ID {
		t.Error("different knobs produced the same variant id")
	}
}

func TestApplyRejectsStaleModification(t *testing.T) {
	mods := []models.Modification{{Section: SectionSummary, Change: ChangeRewrite, Before: "something else", After: "new"}}
	if _, err := Apply(analystCV(), mods); errors.HTTPStatus(err) != 400 {
		t.Errorf("Apply() error = %v, want validation error", err)
	}
	if _, err := Apply(analystCV(), []models.Modification{{Section: "education", Change: "rewrite"}}); err == nil {
		t.Error("unknown modification accepted")
	}
}

func TestAuditFlagsFabrication(t *testing.T) {
	parent := analystCV()
	forged := parent.Clone()
	forged.Skills = append(forged.Skills, "Kubernetes")
	forged.Experience[0].Company = "Acme"
	forged.Summary += " Grew revenue by 75%."

	violations := Audit(parent, forged)
	if len(violations) != 3 {
		t.Errorf("violations = %v, want skill, employer and number", violations)
	}
}
