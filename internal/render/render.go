// Package render turns CVs, experiment results and schedules into files.
package render

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/scheduler"
)

// Output formats.
const (
	FormatJSON     = "json"
	FormatText     = "txt"
	FormatMarkdown = "md"
	FormatDOCX     = "docx"
	FormatPDF      = "pdf"
	FormatXLSX     = "xlsx"
)

var formatAliases = map[string]string{
	"text":     FormatText,
	"markdown": FormatMarkdown,
	"excel":    FormatXLSX,
}

var contentTypes = map[string]string{
	FormatJSON:     "application/json",
	FormatText:     "text/plain; charset=utf-8",
	FormatMarkdown: "text/markdown; charset=utf-8",
	FormatDOCX:     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	FormatPDF:      "application/pdf",
	FormatXLSX:     "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// Formatter renders one data type into one format.
type Formatter interface {
	Format(data any) ([]byte, error)
	SupportedType() string
}

// Registry manages all available formatters.
type Registry struct {
	formatters map[string]map[string]Formatter // format -> type -> formatter
}

// RegistryOption customizes the default formatters.
type RegistryOption func(*Registry)

// WithPDFFonts renders CV PDFs with the TrueType fonts at regular and bold
// instead of the built-in Go fonts. An empty regular path keeps the default.
func WithPDFFonts(regular, bold string) RegistryOption {
	return func(r *Registry) {
		if regular != "" {
			r.Register(FormatPDF, "CV", &CVPDFFormatter{FontFile: regular, BoldFontFile: bold})
		}
	}
}

// NewRegistry creates a registry with the default formatters.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{formatters: make(map[string]map[string]Formatter)}

	r.Register(FormatJSON, "any", &JSONFormatter{})
	r.Register(FormatText, "CV", &CVTextFormatter{})
	r.Register(FormatMarkdown, "CV", &CVMarkdownFormatter{})
	r.Register(FormatDOCX, "CV", &CVDocxFormatter{})
	r.Register(FormatPDF, "CV", &CVPDFFormatter{})
	r.Register(FormatXLSX, "ExperimentReport", &ExperimentXLSXFormatter{})
	r.Register(FormatXLSX, "Schedule", &ScheduleXLSXFormatter{})

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a formatter for a format and data type.
func (r *Registry) Register(format, dataType string, f Formatter) {
	if r.formatters[format] == nil {
		r.formatters[format] = make(map[string]Formatter)
	}
	r.formatters[format][dataType] = f
}

// Normalize resolves a format alias and lowercases it.
func Normalize(format string) string {
	format = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
	if alias, ok := formatAliases[format]; ok {
		return alias
	}
	return format
}

// Format renders data with the formatter registered for its type.
func (r *Registry) Format(data any, format string) ([]byte, error) {
	format = Normalize(format)
	dataType := dataTypeOf(data)

	if fs, ok := r.formatters[format]; ok {
		if f, ok := fs[dataType]; ok {
			return f.Format(data)
		}
		if f, ok := fs["any"]; ok {
			return f.Format(data)
		}
	}
	return nil, errors.NewValidationError(errors.ErrCodeInvalidRequest,
		fmt.Sprintf("no formatter for format '%s' and type '%s'", format, dataType), nil)
}

// Supports reports whether format can render data.
func (r *Registry) Supports(data any, format string) bool {
	fs, ok := r.formatters[Normalize(format)]
	if !ok {
		return false
	}
	_, typed := fs[dataTypeOf(data)]
	_, generic := fs["any"]
	return typed || generic
}

// SupportedFormats lists the registered formats in sorted order.
func (r *Registry) SupportedFormats() []string {
	out := make([]string, 0, len(r.formatters))
	for f := range r.formatters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ContentType returns the MIME type of a format.
func ContentType(format string) string {
	if ct, ok := contentTypes[Normalize(format)]; ok {
		return ct
	}
	return "application/octet-stream"
}

func dataTypeOf(data any) string {
	switch data.(type) {
	case models.CV, *models.CV, models.CVVariant, *models.CVVariant:
		return "CV"
	case ExperimentReport, *ExperimentReport:
		return "ExperimentReport"
	case scheduler.Result, *scheduler.Result:
		return "Schedule"
	default:
		return "any"
	}
}

func cvOf(data any) (models.CV, error) {
	switch v := data.(type) {
	case models.CV:
		return v, nil
	case *models.CV:
		return *v, nil
	case models.CVVariant:
		return v.Content, nil
	case *models.CVVariant:
		return v.Content, nil
	}
	return models.CV{}, fmt.Errorf("expected CV, got %T", data)
}

// JSONFormatter handles JSON formatting for any data type.
type JSONFormatter struct{}

func (jf *JSONFormatter) Format(data any) ([]byte, error) {
	return json.MarshalIndent(data, "", "  ")
}

func (jf *JSONFormatter) SupportedType() string { return "any" }
