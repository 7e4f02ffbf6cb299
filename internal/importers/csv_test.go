package importers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeCSV_BasicRows(t *testing.T) {
	rows := TokenizeCSV("date,venue,city\n2025-06-15,Main St,Denver\n")
	assert.Equal(t, [][]string{
		{"date", "venue", "city"},
		{"2025-06-15", "Main St", "Denver"},
	}, rows)
}

func TestTokenizeCSV_QuotedFieldWithComma(t *testing.T) {
	rows := TokenizeCSV(`name,note` + "\n" + `"Doe, Jane","says ""hi"""` + "\n")
	assert.Equal(t, [][]string{
		{"name", "note"},
		{"Doe, Jane", `says "hi"`},
	}, rows)
}

func TestTokenizeCSV_SkipsBlankLines(t *testing.T) {
	rows := TokenizeCSV("a,b\n\n1,2\n   ,  \n3,4\n")
	assert.Equal(t, [][]string{
		{"a", "b"},
		{"1", "2"},
		{"3", "4"},
	}, rows)
}

func TestTokenizeCSV_LastRowWithoutTrailingNewline(t *testing.T) {
	rows := TokenizeCSV("a,b\n1,2")
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestTokenizeCSV_CRLF(t *testing.T) {
	rows := TokenizeCSV("a,b\r\n1,2\r\n")
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestDetectHeader_FindsRowWithEnoughKeywordMatches(t *testing.T) {
	rows := [][]string{
		{"imported from excel on 2025-01-01"},
		{"Date", "Venue", "City", "State"},
		{"2025-06-15", "Main St", "Denver", "CO"},
	}
	idx, cols, ok := DetectHeader(rows, []string{"date", "venue", "city"}, 3, 10)
	assert.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 0, cols["date"])
	assert.Equal(t, 2, cols["city"])
}

func TestDetectHeader_FallsBackWhenNoRowQualifies(t *testing.T) {
	rows := [][]string{{"a", "b"}, {"c", "d"}}
	_, _, ok := DetectHeader(rows, []string{"date", "venue", "city"}, 3, 10)
	assert.False(t, ok)
}

func TestDetectHeader_RespectsMaxRows(t *testing.T) {
	rows := [][]string{
		{"junk"}, {"junk"}, {"junk"},
		{"Date", "Venue", "City"},
	}
	_, _, ok := DetectHeader(rows, []string{"date", "venue", "city"}, 3, 3)
	assert.False(t, ok)
}
