// Package csvsource parses recipient CSVs into records.
package csvsource

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/certpipe/certpipe/internal/domain"
)

// Parse reads a CSV with a header row into records. Field values keep the
// header's original casing as column names; fully empty rows are skipped.
// A file with a header but no data rows is a validation error, since a
// batch of zero records would silently deduct nothing and send nothing.
func Parse(r io.Reader) ([]domain.Record, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: csv reader is required", domain.ErrValidation)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: csv is empty", domain.ErrValidation)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read csv header: %v", domain.ErrValidation, err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}
	if !hasNamedColumn(columns) {
		return nil, fmt.Errorf("%w: csv header has no named columns", domain.ErrValidation)
	}

	var records []domain.Record
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read csv line %d: %v", domain.ErrValidation, line, err)
		}

		values := make(map[string]string, len(columns))
		empty := true
		for i, col := range columns {
			if col == "" {
				continue
			}
			var value string
			if i < len(row) {
				value = strings.TrimSpace(row[i])
			}
			if value != "" {
				empty = false
			}
			values[col] = value
		}
		if empty {
			continue
		}

		records = append(records, domain.Record{Columns: columns, Values: values})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: csv has no data rows", domain.ErrValidation)
	}

	return records, nil
}

// Chunk splits records into fixed-size groups, preserving order. The last
// chunk may be short.
func Chunk(records []domain.Record, size int) [][]domain.Record {
	if len(records) == 0 || size <= 0 {
		return nil
	}

	chunks := make([][]domain.Record, 0, domain.ChunkCount(len(records), size))
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

func hasNamedColumn(columns []string) bool {
	for _, c := range columns {
		if c != "" {
			return true
		}
	}
	return false
}
