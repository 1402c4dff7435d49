package render

import (
	"fmt"
	"sort"
	"strings"

	"jobpilot/internal/models"
)

var contactKeys = []string{"email", "phone", "location", "linkedin", "website"}

// block is one section of a rendered CV, shared by every layout.
type block struct {
	heading string
	lines   []string
	bullets bool
}

type cvLayout struct {
	name    string
	contact string
	blocks  []block
}

func layoutCV(cv models.CV) cvLayout {
	l := cvLayout{name: strings.TrimSpace(cv.Misc["name"])}
	if l.name == "" {
		l.name = "Curriculum Vitae"
	}

	var contact []string
	for _, k := range contactKeys {
		if v := strings.TrimSpace(cv.Misc[k]); v != "" {
			contact = append(contact, v)
		}
	}
	l.contact = strings.Join(contact, " | ")

	if s := strings.TrimSpace(cv.Summary); s != "" {
		l.blocks = append(l.blocks, block{heading: "Summary", lines: []string{s}})
	}
	if len(cv.Skills) > 0 {
		l.blocks = append(l.blocks, block{heading: "Skills", lines: []string{strings.Join(cv.Skills, ", ")}})
	}
	if len(cv.Experience) > 0 {
		b := block{heading: "Experience"}
		for _, e := range cv.Experience {
			head := e.Role
			if e.Company != "" {
				head += ", " + e.Company
			}
			if e.Duration != "" {
				head += " (" + e.Duration + ")"
			}
			b.lines = append(b.lines, head)
			for _, line := range strings.Split(e.Description, "\n") {
				if line = strings.TrimSpace(line); line != "" {
					b.lines = append(b.lines, "  "+line)
				}
			}
		}
		l.blocks = append(l.blocks, b)
	}
	if len(cv.Education) > 0 {
		l.blocks = append(l.blocks, block{heading: "Education", lines: cv.Education, bullets: true})
	}

	var extra []string
	for k, v := range cv.Misc {
		if k == "name" || contains(contactKeys, k) || strings.TrimSpace(v) == "" {
			continue
		}
		extra = append(extra, fmt.Sprintf("%s: %s", k, v))
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		l.blocks = append(l.blocks, block{heading: "Additional Information", lines: extra, bullets: true})
	}
	return l
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CVTextFormatter renders a CV as plain text.
type CVTextFormatter struct{}

func (f *CVTextFormatter) Format(data any) ([]byte, error) {
	cv, err := cvOf(data)
	if err != nil {
		return nil, err
	}
	return []byte(plainText(layoutCV(cv))), nil
}

func (f *CVTextFormatter) SupportedType() string { return "CV" }

func plainText(l cvLayout) string {
	var out strings.Builder
	out.WriteString(strings.ToUpper(l.name))
	out.WriteString("\n")
	if l.contact != "" {
		out.WriteString(l.contact)
		out.WriteString("\n")
	}
	for _, b := range l.blocks {
		out.WriteString("\n=== ")
		out.WriteString(strings.ToUpper(b.heading))
		out.WriteString(" ===\n")
		for _, line := range b.lines {
			if b.bullets {
				out.WriteString("- ")
			}
			out.WriteString(line)
			out.WriteString("\n")
		}
	}
	return out.String()
}

// CVMarkdownFormatter renders a CV as markdown.
type CVMarkdownFormatter struct{}

func (f *CVMarkdownFormatter) Format(data any) ([]byte, error) {
	cv, err := cvOf(data)
	if err != nil {
		return nil, err
	}
	l := layoutCV(cv)

	var out strings.Builder
	out.WriteString("# " + l.name + "\n\n")
	if l.contact != "" {
		out.WriteString(l.contact + "\n\n")
	}
	for _, b := range l.blocks {
		out.WriteString("## " + b.heading + "\n\n")
		for _, line := range b.lines {
			switch {
			case b.bullets:
				out.WriteString("- " + line + "\n")
			case b.heading == "Experience" && !strings.HasPrefix(line, "  "):
				out.WriteString("### " + line + "\n\n")
			default:
				out.WriteString(strings.TrimSpace(line) + "\n\n")
			}
		}
		if b.bullets {
			out.WriteString("\n")
		}
	}
	return []byte(strings.TrimRight(out.String(), "\n") + "\n"), nil
}

func (f *CVMarkdownFormatter) SupportedType() string { return "CV" }
