package signup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/control-plane/internal/models"
)

func rateDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestBestMatchingRate_PicksMaxEffectiveDateAmongMatches(t *testing.T) {
	rates := []models.CpaRate{
		{ID: "r1", OperatorID: "op-1", StateCode: "NJ", IsActive: true, EffectiveDate: rateDate(2026, 1, 1), CPAAmount: 50},
		{ID: "r2", OperatorID: "op-1", StateCode: "NJ", IsActive: true, EffectiveDate: rateDate(2026, 3, 1), CPAAmount: 75},
		{ID: "r3", OperatorID: "op-1", StateCode: "NJ", IsActive: true, EffectiveDate: rateDate(2026, 2, 1), CPAAmount: 60},
	}
	best := BestMatchingRate(rates, "op-1", "NJ", rateDate(2026, 6, 1))
	require.NotNil(t, best)
	assert.Equal(t, "r2", best.ID)
	assert.Equal(t, 75.0, best.CPAAmount)
}

func TestBestMatchingRate_IgnoresNonMatchingRates(t *testing.T) {
	rates := []models.CpaRate{
		{ID: "r1", OperatorID: "op-2", StateCode: "NJ", IsActive: true, EffectiveDate: rateDate(2026, 1, 1)},
		{ID: "r2", OperatorID: "op-1", StateCode: "NY", IsActive: true, EffectiveDate: rateDate(2026, 1, 1)},
	}
	best := BestMatchingRate(rates, "op-1", "NJ", rateDate(2026, 6, 1))
	assert.Nil(t, best)
}

func TestBestMatchingRate_ReturnsNilWhenNoneMatch(t *testing.T) {
	best := BestMatchingRate(nil, "op-1", "NJ", rateDate(2026, 6, 1))
	assert.Nil(t, best)
}

func TestBestMatchingRate_IgnoresRateNotYetEffective(t *testing.T) {
	rates := []models.CpaRate{
		{ID: "r1", OperatorID: "op-1", StateCode: "NJ", IsActive: true, EffectiveDate: rateDate(2026, 1, 1), CPAAmount: 40},
		{ID: "r2", OperatorID: "op-1", StateCode: "NJ", IsActive: true, EffectiveDate: rateDate(2027, 1, 1), CPAAmount: 90},
	}
	best := BestMatchingRate(rates, "op-1", "NJ", rateDate(2026, 6, 1))
	require.NotNil(t, best)
	assert.Equal(t, "r1", best.ID)
}
