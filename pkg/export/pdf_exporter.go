package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidth  = 277.0
	lineHeight = 6.0
)

// PDFExporter renders tables into a landscape A4 document.
type PDFExporter struct {
	// Weights sets relative column widths; missing entries count as 1.
	Weights []float64
}

// NewPDFExporter constructs a PDF exporter with optional column weights.
func NewPDFExporter(weights ...float64) *PDFExporter {
	return &PDFExporter{Weights: weights}
}

// ContentType reports the MIME type of rendered output.
func (e *PDFExporter) ContentType() string {
	return "application/pdf"
}

// Render creates a PDF document with a title block and a bordered table body.
func (e *PDFExporter) Render(table Table) ([]byte, error) {
	if len(table.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	if table.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(table.Title), "", 1, "L", false, 0, "")
	}
	if table.Subtitle != "" {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, tr(table.Subtitle), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)

	widths := e.columnWidths(len(table.Headers))
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, header := range table.Headers {
		pdf.CellFormat(widths[i], 8, tr(header), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range table.Rows {
		cells := fit(row, len(table.Headers))
		height := lineHeight
		for i, cell := range cells {
			lines := pdf.SplitLines([]byte(tr(cell)), widths[i]-2)
			if h := float64(len(lines)) * lineHeight; h > height {
				height = h
			}
		}
		x, y := pdf.GetXY()
		for i, cell := range cells {
			pdf.Rect(x, y, widths[i], height, "D")
			pdf.MultiCell(widths[i], lineHeight, tr(cell), "", "L", false)
			x += widths[i]
			pdf.SetXY(x, y)
		}
		pdf.SetXY(10, y+height)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) columnWidths(n int) []float64 {
	total := 0.0
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1
		if i < len(e.Weights) && e.Weights[i] > 0 {
			weights[i] = e.Weights[i]
		}
		total += weights[i]
	}
	widths := make([]float64, n)
	for i, w := range weights {
		widths[i] = pageWidth * w / total
	}
	return widths
}
