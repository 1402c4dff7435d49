package cvadapt

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/parser"
)

// Canonical serializes cv with stable key order. Nil and empty lists encode
// the same way so a rebuilt CV compares equal byte for byte.
func Canonical(cv models.CV) ([]byte, error) {
	c := cv.Clone()
	if c.Skills == nil {
		c.Skills = []string{}
	}
	if c.Experience == nil {
		c.Experience = []models.ExperienceEntry{}
	}
	if c.Education == nil {
		c.Education = []string{}
	}
	if c.Misc == nil {
		c.Misc = map[string]string{}
	}
	return json.Marshal(c)
}

// Apply replays mods onto parent. Every modification must find the parent in
// the state it recorded as Before.
func Apply(parent models.CV, mods []models.Modification) (models.CV, error) {
	cv := parent.Clone()
	for n, m := range mods {
		if err := applyOne(&cv, m); err != nil {
			return models.CV{}, errors.NewValidationError(errors.ErrCodeInvalidRequest,
				fmt.Sprintf("modification %d (%s/%s) does not apply", n, m.Section, m.Change), err)
		}
	}
	return cv, nil
}

func applyOne(cv *models.CV, m models.Modification) error {
	switch {
	case m.Section == SectionSummary && m.Change == ChangeRewrite:
		if cv.Summary != m.Before {
			return fmt.Errorf("summary differs from recorded state")
		}
		cv.Summary = m.After

	case m.Section == SectionSkills && m.Change == ChangeInject:
		if containsFold(cv.Skills, m.After) {
			return fmt.Errorf("skill %q already listed", m.After)
		}
		cv.Skills = append(cv.Skills, m.After)

	case m.Section == SectionSkills && m.Change == ChangeReorder:
		if encodeList(cv.Skills) != m.Before {
			return fmt.Errorf("skills differ from recorded state")
		}
		var after []string
		if err := json.Unmarshal([]byte(m.After), &after); err != nil {
			return err
		}
		cv.Skills = after

	case m.Section == SectionExperience && m.Change == ChangeEmphasize:
		if m.Index < 0 || m.Index >= len(cv.Experience) {
			return fmt.Errorf("experience index %d out of range", m.Index)
		}
		if cv.Experience[m.Index].Description != m.Before {
			return fmt.Errorf("experience %d differs from recorded state", m.Index)
		}
		cv.Experience[m.Index].Description = m.After

	default:
		return fmt.Errorf("unknown modification %s/%s", m.Section, m.Change)
	}
	return nil
}

// Text renders cv as plain text for matching and auditing.
func Text(cv models.CV) string {
	var b strings.Builder
	b.WriteString(cv.Summary)
	b.WriteString("\n")
	b.WriteString(strings.Join(cv.Skills, ", "))
	for _, e := range cv.Experience {
		fmt.Fprintf(&b, "\n%s\n%s\n%s\n%s", e.Role, e.Company, e.Duration, e.Description)
	}
	for _, e := range cv.Education {
		b.WriteString("\n" + e)
	}
	keys := make([]string, 0, len(cv.Misc))
	for k := range cv.Misc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n" + k + ": " + cv.Misc[k])
	}
	return b.String()
}

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d+)*`)

// Audit lists content of variant that has no case-insensitive counterpart in
// parent: skills, employers and numeric claims. An empty result means the
// variant is clean.
func Audit(parent, variant models.CV) []string {
	source := strings.ToLower(Text(parent))
	var violations []string

	for _, s := range variant.Skills {
		if !parser.ContainsTerm(source, s) {
			violations = append(violations, fmt.Sprintf("skill %q", s))
		}
	}

	employers := map[string]bool{}
	for _, e := range parent.Experience {
		employers[models.NormalizeText(e.Company)] = true
	}
	for _, e := range variant.Experience {
		if !employers[models.NormalizeText(e.Company)] {
			violations = append(violations, fmt.Sprintf("employer %q", e.Company))
		}
	}
	if len(variant.Experience) != len(parent.Experience) {
		violations = append(violations, "experience entry count changed")
	}

	for _, n := range numberPattern.FindAllString(Text(variant), -1) {
		if !strings.Contains(source, n) {
			violations = append(violations, fmt.Sprintf("number %q", n))
		}
	}
	return violations
}
