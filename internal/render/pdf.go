package render

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-pdf/fpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"jobpilot/internal/errors"
)

const (
	pdfFamily     = "cv"
	pdfMargin     = 20.0 // mm
	pdfLineHeight = 5.5
	pdfIndent     = 5.0
)

// CVPDFFormatter renders a CV as an A4 PDF with an embedded UTF-8 TrueType
// font. The built-in Go fonts cover Latin, Greek and Cyrillic. CJK or
// Devanagari text needs FontFile (and optionally BoldFontFile) pointing at a
// font that has those glyphs.
type CVPDFFormatter struct {
	FontFile     string
	BoldFontFile string
}

func (f *CVPDFFormatter) Format(data any) ([]byte, error) {
	cv, err := cvOf(data)
	if err != nil {
		return nil, err
	}
	regular, bold, err := f.fonts()
	if err != nil {
		return nil, err
	}
	l := layoutCV(cv)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.AddUTF8FontFromBytes(pdfFamily, "", regular)
	pdf.AddUTF8FontFromBytes(pdfFamily, "B", bold)
	pdf.SetTitle(l.name, true)
	pdf.SetCreator("jobpilot", true)
	pdf.AddPage()

	pdf.SetFont(pdfFamily, "B", 18)
	pdf.MultiCell(0, 9, l.name, "", "L", false)
	if l.contact != "" {
		pdf.SetFont(pdfFamily, "", 10)
		pdf.MultiCell(0, pdfLineHeight, l.contact, "", "L", false)
	}

	for _, b := range l.blocks {
		pdf.Ln(3)
		pdf.SetFont(pdfFamily, "B", 13)
		pdf.MultiCell(0, 7, b.heading, "", "L", false)
		for _, line := range b.lines {
			style, x := "", pdfMargin
			switch {
			case strings.HasPrefix(line, "  "):
				x += pdfIndent
			case b.heading == "Experience":
				style = "B"
			}
			if b.bullets {
				line = "• " + line
			}
			pdf.SetFont(pdfFamily, style, 11)
			pdf.SetX(x)
			pdf.MultiCell(0, pdfLineHeight, strings.TrimSpace(line), "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *CVPDFFormatter) SupportedType() string { return "CV" }

// fonts returns the regular and bold TrueType data. A configured regular
// font without a bold face is used for both.
func (f *CVPDFFormatter) fonts() ([]byte, []byte, error) {
	if f.FontFile == "" {
		return goregular.TTF, gobold.TTF, nil
	}
	regular, err := os.ReadFile(f.FontFile)
	if err != nil {
		return nil, nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "cannot read pdf font", err).
			WithContext("file", f.FontFile)
	}
	if f.BoldFontFile == "" {
		return regular, regular, nil
	}
	bold, err := os.ReadFile(f.BoldFontFile)
	if err != nil {
		return nil, nil, errors.NewConfigError(errors.ErrCodeInvalidConfig, "cannot read pdf bold font", err).
			WithContext("file", f.BoldFontFile)
	}
	return regular, bold, nil
}
