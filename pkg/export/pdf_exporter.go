package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders datasets into a landscape eligibility report.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF with the title, the summary block and the check table.
// Long cells are wrapped by splitting them across lines of the row.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(title), "", 1, "L", false, 0, "")
		pdf.Ln(2)
	}

	if len(data.Summary) > 0 {
		for _, field := range data.Summary {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(50, 6, tr(field.Label), "", 0, "", false, 0, "")
			pdf.SetFont("Arial", "", 10)
			pdf.MultiCell(0, 6, tr(field.Value), "", "", false)
		}
		pdf.Ln(4)
	}

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right) / float64(len(data.Headers))
	const lineHeight = 5.0

	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for _, header := range data.Headers {
		pdf.CellFormat(colWidth, 7, tr(header), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range data.Rows {
		lines := make([][]string, len(data.Headers))
		height := 1
		for i, header := range data.Headers {
			lines[i] = pdf.SplitText(tr(row[header]), colWidth-2)
			if len(lines[i]) == 0 {
				lines[i] = []string{""}
			}
			if len(lines[i]) > height {
				height = len(lines[i])
			}
		}
		rowHeight := float64(height) * lineHeight
		_, pageHeight := pdf.GetPageSize()
		_, _, _, bottom := pdf.GetMargins()
		if pdf.GetY()+rowHeight > pageHeight-bottom {
			pdf.AddPage()
		}
		x, y := pdf.GetXY()
		for i := range data.Headers {
			pdf.Rect(x+float64(i)*colWidth, y, colWidth, rowHeight, "D")
			for j, line := range lines[i] {
				pdf.SetXY(x+float64(i)*colWidth+1, y+float64(j)*lineHeight)
				pdf.CellFormat(colWidth-2, lineHeight, line, "", 0, "", false, 0, "")
			}
		}
		pdf.SetXY(x, y+rowHeight)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
