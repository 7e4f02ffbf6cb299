// Package importers implements the bulk CSV importer skeleton shared by
// the sign-up, event, and budget/actuals importers: hash + log,
// hand-written quote-aware tokenizing, header auto-detection, field
// normalization, entity resolution, duplicate detection, transactional
// apply with audit trail, and preview/rollback modes.
package importers

import (
	"strings"
)

// TokenizeCSV is a hand-written CSV tokenizer respecting double-quote
// escaping. It does not depend on encoding/csv so the importer can
// tolerate the ragged, copy-pasted-from-Excel rows typical of these
// uploads (inconsistent quoting, stray commas inside quoted fields).
func TokenizeCSV(content string) [][]string {
	var rows [][]string
	var row []string
	var field strings.Builder
	inQuotes := false

	runes := []rune(content)
	n := len(runes)
	for i := 0; i < n; i++ {
		c := runes[i]
		switch {
		case inQuotes:
			if c == '"' {
				if i+1 < n && runes[i+1] == '"' {
					field.WriteRune('"')
					i++
				} else {
					inQuotes = false
				}
			} else {
				field.WriteRune(c)
			}
		case c == '"':
			inQuotes = true
		case c == ',':
			row = append(row, field.String())
			field.Reset()
		case c == '\r':
			// swallow; \n (or EOF) ends the row
		case c == '\n':
			row = append(row, field.String())
			field.Reset()
			if !isBlankRow(row) {
				rows = append(rows, row)
			}
			row = nil
		default:
			field.WriteRune(c)
		}
	}
	// last row if the file doesn't end with a newline
	if field.Len() > 0 || len(row) > 0 {
		row = append(row, field.String())
		if !isBlankRow(row) {
			rows = append(rows, row)
		}
	}
	return rows
}

func isBlankRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// DetectHeader scans the first maxRows rows for one containing at least
// minMatches of the expected keywords (case-insensitive substring match per
// cell), returning its index and a column-name -> index map. Returns
// ok=false if no such row is found within maxRows.
func DetectHeader(rows [][]string, keywords []string, minMatches, maxRows int) (headerIdx int, columns map[string]int, ok bool) {
	limit := maxRows
	if limit > len(rows) {
		limit = len(rows)
	}
	for i := 0; i < limit; i++ {
		matches := 0
		for _, cell := range rows[i] {
			lower := strings.ToLower(strings.TrimSpace(cell))
			for _, kw := range keywords {
				if strings.Contains(lower, strings.ToLower(kw)) {
					matches++
					break
				}
			}
		}
		if matches >= minMatches {
			cols := make(map[string]int, len(rows[i]))
			for idx, cell := range rows[i] {
				cols[strings.ToLower(strings.TrimSpace(cell))] = idx
			}
			return i, cols, true
		}
	}
	return 0, nil, false
}

// cellAt safely reads column col from row, returning "" if out of range.
func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}
