package email

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// Template is a campaign message skeleton. Subject and Body may reference
// {{name}}, {{company}} and {{role}}.
type Template struct {
	Type    string `json:"type"`
	Title   string `json:"title"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

var templates = map[string]Template{
	"application": {
		Title:   "Application",
		Subject: "Application for {{role}}",
		Body: "Dear {{name}},\n\nI am writing to apply for the {{role}} position at {{company}}.%s\n\n" +
			"My CV is attached. I would welcome the chance to discuss how I can contribute to your team.\n\nKind regards",
	},
	"follow_up": {
		Title:   "Follow-up",
		Subject: "Following up on my application for {{role}}",
		Body: "Dear {{name}},\n\nI recently applied for the {{role}} position at {{company}} and wanted to confirm my continued interest.%s\n\n" +
			"Please let me know if any further information would help.\n\nKind regards",
	},
	"thank_you": {
		Title:   "Thank you",
		Subject: "Thank you for the conversation about {{role}}",
		Body: "Dear {{name}},\n\nThank you for taking the time to discuss the {{role}} position at {{company}}.%s\n\n" +
			"I look forward to hearing about the next steps.\n\nKind regards",
	},
	"networking": {
		Title:   "Networking",
		Subject: "Introduction regarding opportunities at {{company}}",
		Body: "Dear {{name}},\n\nI am exploring opportunities as {{role}} and {{company}} stands out to me.%s\n\n" +
			"Would you be open to a short call in the coming weeks?\n\nKind regards",
	},
	"inquiry": {
		Title:   "Inquiry",
		Subject: "Status of my application for {{role}}",
		Body: "Dear {{name}},\n\nI would like to ask about the status of my application for the {{role}} position at {{company}}.%s\n\n" +
			"Thank you for your time.\n\nKind regards",
	},
}

// TemplateTypes lists the known template types in order.
func TemplateTypes() []string {
	out := make([]string, 0, len(templates))
	for k := range templates {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func themeSentence(theme string) string {
	theme = strings.TrimSpace(strings.ReplaceAll(theme, "_", " "))
	if theme == "" {
		return ""
	}
	return fmt.Sprintf(" I am particularly interested in %s.", theme)
}

// Generate fills template t with the campaign theme. Recipient placeholders
// stay in place until Personalize.
func Generate(templateType, theme string) (Content, bool) {
	t, ok := templates[templateType]
	if !ok {
		return Content{}, false
	}
	return Content{
		TemplateType: templateType,
		Theme:        theme,
		Subject:      t.Subject,
		Body:         fmt.Sprintf(t.Body, themeSentence(theme)),
	}, true
}

// Personalize substitutes recipient fields. Missing fields fall back to
// neutral phrases.
func Personalize(text string, r Recipient) string {
	name, company, role := r.Name, r.Company, r.Role
	if name == "" {
		name = "Hiring Team"
	}
	if company == "" {
		company = "your company"
	}
	if role == "" {
		role = "open"
	}
	return strings.NewReplacer("{{name}}", name, "{{company}}", company, "{{role}}", role).Replace(text)
}

const shortMessageLimit = 480

// Compact shortens body for SMS and WhatsApp at a word boundary.
func Compact(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if utf8.RuneCountInString(body) <= shortMessageLimit {
		return body
	}
	runes := []rune(body)[:shortMessageLimit]
	cut := string(runes)
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "…"
}

func wordCount(c Content) int {
	return len(strings.Fields(c.Subject)) + len(strings.Fields(c.Body))
}
