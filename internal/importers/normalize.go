package importers

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var nullTokens = map[string]bool{
	"#DIV/0!": true, "N/A": true, "-": true, "": true,
}

// NormalizeDate accepts YYYY-MM-DD, MM/DD/YYYY, MM/DD/YY (years >50 => 1900s,
// else 2000s), and MM/DD with a caller-supplied default year.
func NormalizeDate(raw string, defaultYear int) (*time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}

	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("01/02/2006", s); err == nil {
		return &t, nil
	}
	if t, err := time.Parse("01/02/06", s); err == nil {
		year := t.Year()
		if year%100 > 50 {
			year = 1900 + year%100
		} else {
			year = 2000 + year%100
		}
		adjusted := time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &adjusted, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) == 2 {
		month, errM := strconv.Atoi(parts[0])
		day, errD := strconv.Atoi(parts[1])
		if errM == nil && errD == nil && defaultYear > 0 {
			t := time.Date(defaultYear, time.Month(month), day, 0, 0, 0, 0, time.UTC)
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date format: %q", raw)
}

// NormalizeCurrency strips $ and , and treats common spreadsheet null
// sentinels as nil.
func NormalizeCurrency(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if nullTokens[s] {
		return nil, nil
	}
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid currency value: %q", raw)
	}
	return &v, nil
}

// NormalizePercent strips a trailing % and applies the same null-sentinel
// rule as currency.
func NormalizePercent(raw string) (*float64, error) {
	s := strings.TrimSpace(raw)
	if nullTokens[s] {
		return nil, nil
	}
	s = strings.TrimSuffix(s, "%")
	s = strings.NewReplacer(",", "").Replace(s)
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid percent value: %q", raw)
	}
	return &v, nil
}

var ambassadorSeparators = []string{";", ",", "|", "\n"}

// ParseAmbassadorList splits a free-text ambassador list field on the first
// separator found, in order [; , | \n].
func ParseAmbassadorList(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	sep := ""
	for _, candidate := range ambassadorSeparators {
		if strings.Contains(s, candidate) {
			sep = candidate
			break
		}
	}
	if sep == "" {
		return []string{s}
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
