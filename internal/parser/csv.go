package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docenrich/internal/schema"
)

// csvBatchSize is the number of data rows grouped under one heading.
const csvBatchSize = 20

// CSVParser handles CSV files. Each row is written as "header: cell" pairs
// so a chunk cut from the middle of the file still names its columns.
type CSVParser struct{}

func (p *CSVParser) Parse(r io.Reader, filename string) (*schema.Document, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	o := &outline{title: baseName(filename, ".csv")}
	if len(records) == 0 {
		return o.document(filename, "csv"), nil
	}

	headers := records[0]
	dataRows := records[1:]
	o.rows = len(dataRows)

	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := min(i+csvBatchSize, len(dataRows))

		var text strings.Builder
		for _, row := range dataRows[i:end] {
			cells := make([]string, len(row))
			for j, cell := range row {
				if j < len(headers) && headers[j] != "" {
					cells[j] = headers[j] + ": " + cell
				} else {
					cells[j] = cell
				}
			}
			text.WriteString(strings.Join(cells, ", "))
			text.WriteString("\n")
		}

		o.sections = append(o.sections, &section{
			title: fmt.Sprintf("Rows %d-%d", i+2, end+1), // 1-indexed, skip header
			text:  strings.TrimRight(text.String(), "\n"),
		})
	}

	return o.document(filename, "csv"), nil
}
