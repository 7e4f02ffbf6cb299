package importers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetActualsImporter_ParseItems(t *testing.T) {
	b := &BudgetActualsImporter{}
	_, columns := b.Columns()

	row := make([]string, len(columns))
	row[columns["staff"]] = "100.50"
	row[columns["reimbursements"]] = "20"
	row[columns["rewards"]] = ""
	row[columns["base"]] = "500"
	row[columns["bonus/kickback"]] = "30"
	row[columns["parking"]] = "15.25"
	row[columns["setup"]] = "10"
	row[columns["additional1"]] = "5"
	row[columns["additional2"]] = "0"
	row[columns["additional3"]] = ""
	row[columns["additional4"]] = ""

	items, err := b.parseItems(row, columns)
	require.NoError(t, err)
	assert.Equal(t, 100.50, items.Staff)
	assert.Equal(t, 20.0, items.Reimbursements)
	assert.Equal(t, 0.0, items.Rewards)
	assert.Equal(t, 500.0, items.Base)
	assert.Equal(t, 30.0, items.BonusKickback)
	assert.Equal(t, 15.25, items.Parking)
	assert.Equal(t, 10.0, items.Setup)
	assert.Equal(t, 5.0, items.Additional1)
	assert.Equal(t, 0.0, items.Additional2)
}

func TestBudgetActualsImporter_ParseItems_InvalidCurrency(t *testing.T) {
	b := &BudgetActualsImporter{}
	_, columns := b.Columns()

	row := make([]string, len(columns))
	row[columns["staff"]] = "not-a-number"

	_, err := b.parseItems(row, columns)
	assert.Error(t, err)
}

func TestNormalizeRequiredCurrency(t *testing.T) {
	t.Run("blank defaults to zero", func(t *testing.T) {
		v, err := normalizeRequiredCurrency("")
		require.NoError(t, err)
		assert.Equal(t, 0.0, v)
	})
	t.Run("parses currency string", func(t *testing.T) {
		v, err := normalizeRequiredCurrency("$1,250.00")
		require.NoError(t, err)
		assert.Equal(t, 1250.0, v)
	})
}
