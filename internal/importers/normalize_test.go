package importers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDate(t *testing.T) {
	t.Run("ISO", func(t *testing.T) {
		d, err := NormalizeDate("2025-06-15", 0)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), *d)
	})
	t.Run("MM/DD/YYYY", func(t *testing.T) {
		d, err := NormalizeDate("06/15/2025", 0)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), *d)
	})
	t.Run("MM/DD/YY low maps to 2000s", func(t *testing.T) {
		d, err := NormalizeDate("06/15/25", 0)
		require.NoError(t, err)
		assert.Equal(t, 2025, d.Year())
	})
	t.Run("MM/DD/YY high maps to 1900s", func(t *testing.T) {
		d, err := NormalizeDate("06/15/88", 0)
		require.NoError(t, err)
		assert.Equal(t, 1988, d.Year())
	})
	t.Run("MM/DD with default year", func(t *testing.T) {
		d, err := NormalizeDate("06/15", 2025)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC), *d)
	})
	t.Run("blank is nil, no error", func(t *testing.T) {
		d, err := NormalizeDate("  ", 0)
		require.NoError(t, err)
		assert.Nil(t, d)
	})
	t.Run("unparseable", func(t *testing.T) {
		_, err := NormalizeDate("not-a-date", 0)
		assert.Error(t, err)
	})
}

func TestNormalizeCurrency(t *testing.T) {
	for _, tok := range []string{"#DIV/0!", "N/A", "-", ""} {
		v, err := NormalizeCurrency(tok)
		require.NoError(t, err)
		assert.Nil(t, v, "token %q should normalize to nil", tok)
	}

	v, err := NormalizeCurrency("$1,234.56")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.InDelta(t, 1234.56, *v, 0.001)

	_, err = NormalizeCurrency("not-a-number")
	assert.Error(t, err)
}

func TestNormalizePercent(t *testing.T) {
	v, err := NormalizePercent("42.5%")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.InDelta(t, 42.5, *v, 0.001)

	v, err = NormalizePercent("N/A")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestParseAmbassadorList(t *testing.T) {
	assert.Equal(t, []string{"Alice", "Bob", "Carol"}, ParseAmbassadorList("Alice; Bob; Carol"))
	assert.Equal(t, []string{"Alice", "Bob"}, ParseAmbassadorList("Alice, Bob"))
	assert.Equal(t, []string{"Alice", "Bob"}, ParseAmbassadorList("Alice | Bob"))
	assert.Equal(t, []string{"Solo"}, ParseAmbassadorList("Solo"))
	assert.Nil(t, ParseAmbassadorList(""))
}
