package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Field is one labelled value of a report summary.
type Field struct {
	Label string
	Value string
}

// Dataset is a report: an optional summary block followed by a table of checks.
type Dataset struct {
	Summary []Field
	Headers []string
	Rows    []map[string]string
}

// CSVExporter renders datasets into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render produces CSV bytes. Summary fields come first as label/value pairs,
// separated from the table by an empty record.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	if len(data.Summary) > 0 {
		for _, field := range data.Summary {
			if err := writer.Write([]string{field.Label, field.Value}); err != nil {
				return nil, fmt.Errorf("write csv summary: %w", err)
			}
		}
		if err := writer.Write([]string{""}); err != nil {
			return nil, fmt.Errorf("write csv separator: %w", err)
		}
	}

	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
