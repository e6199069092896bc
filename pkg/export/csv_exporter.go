package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Table is a titled grid of string cells shared by every renderer.
type Table struct {
	Title    string
	Subtitle string
	Headers  []string
	Rows     [][]string
}

// CSVExporter renders tables into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// ContentType reports the MIME type of rendered output.
func (e *CSVExporter) ContentType() string {
	return "text/csv"
}

// Render produces CSV encoded bytes. Short rows are padded and long rows truncated to the header width.
func (e *CSVExporter) Render(table Table) ([]byte, error) {
	if len(table.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(table.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for i, row := range table.Rows {
		if err := writer.Write(fit(row, len(table.Headers))); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func fit(row []string, width int) []string {
	record := make([]string, width)
	copy(record, row)
	return record
}
