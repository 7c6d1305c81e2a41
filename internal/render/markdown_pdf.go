package render

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// MarkdownPDF renders extracted markdown into a PDF document. It is the
// fallback snapshot when no browser capability is configured: headings get
// scaled fonts, code blocks a monospace face, lists bullet glyphs.
type MarkdownPDF struct{}

func NewMarkdownPDF() *MarkdownPDF {
	return &MarkdownPDF{}
}

var reNumbered = regexp.MustCompile(`^\d+\.\s`)

// Render converts a title, source URL, and markdown body into PDF bytes
// at A4 with half-inch margins.
func (r *MarkdownPDF) Render(title, sourceURL, markdown string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	const margin = 12.7 // 0.5in
	pdf.SetMargins(margin, margin, margin)
	pdf.SetAutoPageBreak(true, margin)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Helvetica", "B", 18)
		pdf.MultiCell(0, 8, title, "", "L", false)
		pdf.Ln(4)
	}
	if sourceURL != "" {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.SetTextColor(100, 100, 100)
		pdf.MultiCell(0, 5, "Source: "+sourceURL, "", "L", false)
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(6)
	}

	lines := strings.Split(markdown, "\n")
	inCodeBlock := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeBlock = !inCodeBlock
			pdf.Ln(2)
			continue
		}

		if inCodeBlock {
			pdf.SetFont("Courier", "", 9)
			pdf.SetFillColor(245, 245, 245)
			pdf.MultiCell(0, 4.5, line, "", "L", true)
			continue
		}

		if strings.TrimSpace(line) == "" {
			pdf.Ln(3)
			continue
		}

		if strings.HasPrefix(line, "#") {
			level := 0
			for _, ch := range line {
				if ch != '#' {
					break
				}
				level++
			}
			writeHeading(pdf, strings.TrimSpace(strings.TrimLeft(line, "# ")), level)
			continue
		}

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, "• "+stripInline(strings.TrimSpace(trimmed[2:])), "", "L", false)
			continue
		}
		if reNumbered.MatchString(trimmed) {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, stripInline(trimmed), "", "L", false)
			continue
		}

		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 5, stripInline(line), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHeading(pdf *gofpdf.Fpdf, text string, level int) {
	sizes := map[int]float64{1: 18, 2: 15, 3: 13, 4: 12, 5: 11, 6: 10}
	size, ok := sizes[level]
	if !ok {
		size = 10
	}
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", size)
	pdf.MultiCell(0, size*0.6, stripInline(text), "", "L", false)
	pdf.Ln(2)
}

var (
	reItalic     = regexp.MustCompile(`(?:^|\s)\*([^*]+)\*(?:\s|$)`)
	reInlineCode = regexp.MustCompile("`([^`]+)`")
	reLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]+\)`)
)

// stripInline removes inline markdown markers that gofpdf cannot style.
func stripInline(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	text = reItalic.ReplaceAllString(text, " $1 ")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reLink.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}
