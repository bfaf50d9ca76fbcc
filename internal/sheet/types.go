package sheet

import (
	"context"
	"errors"
	"strings"
)

// ErrFetch wraps any failure to read the sheet (unreachable, unauthorized,
// bad range). Callers match it with errors.Is.
var ErrFetch = errors.New("sheet fetch failed")

// Row is one record from the spreadsheet: ordered cell values plus the row's
// 1-based position within the fetched range (matching what the spreadsheet
// UI shows as the row number).
type Row struct {
	Index int64
	Cells []string
}

// Blank reports whether every cell is empty or whitespace.
func (r Row) Blank() bool {
	for _, c := range r.Cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Cell returns the cell at position i, or "" when the row is shorter.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r.Cells) {
		return ""
	}
	return r.Cells[i]
}

// Fetcher reads all rows currently present in the configured range.
// Implementations must return rows in sheet order with ascending Index.
type Fetcher interface {
	Fetch(ctx context.Context) ([]Row, error)
}
