package tabular

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// DefaultMaxRows caps how many data rows one batch may carry.
const DefaultMaxRows = 1000

// Row is a single spreadsheet row: the recipient address plus all remaining
// columns keyed by header.
type Row struct {
	Recipient string
	Columns   map[string]string
}

// ParseRows parses CSV input into rows keyed by column header. The header row
// must contain recipientColumn (case-insensitive); that column becomes the
// recipient address and the rest feed template fields. Blank recipients and
// rows whose width differs from the header are skipped.
func ParseRows(r io.Reader, recipientColumn string, maxRows int) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// Width mismatches are handled here so one short row skips instead of
	// failing the whole batch.
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, errors.New("tabular input must contain a header row")
	}

	recipientIdx := -1
	normalized := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		normalized[i] = h
		if strings.EqualFold(h, recipientColumn) {
			recipientIdx = i
		}
	}
	if recipientIdx == -1 {
		return nil, errors.New("tabular input must contain the recipient column " + recipientColumn)
	}

	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	rows := make([]Row, 0)
	for len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) != len(headers) {
			// skip malformed row
			continue
		}

		recipient := strings.TrimSpace(record[recipientIdx])
		if recipient == "" {
			continue
		}

		columns := make(map[string]string, len(headers)-1)
		for i := range record {
			if i == recipientIdx || normalized[i] == "" {
				continue
			}
			columns[normalized[i]] = strings.TrimSpace(record[i])
		}

		rows = append(rows, Row{Recipient: recipient, Columns: columns})
	}

	if len(rows) == 0 {
		return nil, errors.New("tabular input must contain at least one data row")
	}

	return rows, nil
}
