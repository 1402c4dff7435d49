package render

import (
	"bytes"
	_ "embed"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// cvTemplate carries the package parts and paragraph styles (Title,
// Heading1, Contact, Detail). Its body is a single {{cv}} paragraph.
//
//go:embed templates/cv.docx
var cvTemplate []byte

const cvPlaceholder = `<w:p><w:r><w:t>{{cv}}</w:t></w:r></w:p>`

// CVDocxFormatter renders a CV as a Word document.
type CVDocxFormatter struct{}

func (f *CVDocxFormatter) Format(data any) ([]byte, error) {
	cv, err := cvOf(data)
	if err != nil {
		return nil, err
	}
	l := layoutCV(cv)

	var body strings.Builder
	writeParagraph(&body, "Title", l.name, false)
	if l.contact != "" {
		writeParagraph(&body, "Contact", l.contact, false)
	}
	for _, b := range l.blocks {
		writeParagraph(&body, "Heading1", b.heading, false)
		for _, line := range b.lines {
			style, bold := "", false
			switch {
			case strings.HasPrefix(line, "  "):
				style = "Detail"
			case b.heading == "Experience":
				bold = true
			}
			if b.bullets {
				line = "• " + line
			}
			writeParagraph(&body, style, strings.TrimSpace(line), bold)
		}
	}

	tpl, err := docx.ReadDocxFromMemory(bytes.NewReader(cvTemplate), int64(len(cvTemplate)))
	if err != nil {
		return nil, fmt.Errorf("open cv template: %w", err)
	}
	defer tpl.Close()

	doc := tpl.Editable()
	doc.SetContent(strings.Replace(doc.GetContent(), cvPlaceholder, body.String(), 1))

	var buf bytes.Buffer
	if err := doc.Write(&buf); err != nil {
		return nil, fmt.Errorf("render docx: %w", err)
	}
	return buf.Bytes(), nil
}

func (f *CVDocxFormatter) SupportedType() string { return "CV" }

// writeParagraph appends one w:p with a single run in the given style.
func writeParagraph(body *strings.Builder, style, text string, bold bool) {
	body.WriteString("<w:p>")
	if style != "" {
		fmt.Fprintf(body, `<w:pPr><w:pStyle w:val="%s"/></w:pPr>`, style)
	}
	body.WriteString("<w:r>")
	if bold {
		body.WriteString("<w:rPr><w:b/></w:rPr>")
	}
	body.WriteString(`<w:t xml:space="preserve">`)
	_ = xml.EscapeText(body, []byte(text))
	body.WriteString("</w:t></w:r></w:p>")
}
