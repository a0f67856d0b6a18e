package processor

import (
	"errors"
	"strings"

	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// ErrNoHeader is returned when the text has no usable column header line.
var ErrNoHeader = errors.New("log has no column header")

// ParseResult holds the rows of one log file.
type ParseResult struct {
	// Columns are the header's column names in positional order.
	Columns []string

	// Rows are the data rows that carry an event payload.
	Rows []model.LogRow

	// Dropped counts rows whose query string was the no-query marker.
	Dropped int
}

// ParseLog splits decompressed access log text into rows.
//
// The first line is a format marker and the second lists the column names
// after a leading "#Fields:" token. Rows run from the third line up to but
// excluding the last line. Each row is tab-delimited and maps positionally to
// the columns; a short row simply lacks its trailing columns.
func ParseLog(text string) (ParseResult, error) {
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return ParseResult{}, ErrNoHeader
	}

	header := strings.Fields(strings.TrimRight(lines[1], "\r"))
	if len(header) < 2 {
		return ParseResult{}, ErrNoHeader
	}

	res := ParseResult{Columns: header[1:]}
	if len(lines) < 3 {
		return res, nil
	}

	for _, line := range lines[2 : len(lines)-1] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		row := make(model.LogRow, len(res.Columns))
		for i, col := range res.Columns {
			if i >= len(fields) {
				break
			}
			row[col] = fields[i]
		}

		if q, ok := row.Get(model.ColumnQuery); ok && q == model.NoQuery {
			res.Dropped++
			continue
		}
		res.Rows = append(res.Rows, row)
	}

	return res, nil
}
