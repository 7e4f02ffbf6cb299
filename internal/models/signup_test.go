package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignUp_HasImage(t *testing.T) {
	var su SignUp
	assert.False(t, su.HasImage())

	empty := ""
	su.ImageKey = &empty
	assert.False(t, su.HasImage())

	key := "slips/abc.png"
	su.ImageKey = &key
	assert.True(t, su.HasImage())
}

func TestCpaRate_Matches_RejectsWrongOperatorOrState(t *testing.T) {
	r := CpaRate{OperatorID: "op-1", StateCode: "NJ", IsActive: true, EffectiveDate: date(2026, 1, 1)}
	at := date(2026, 3, 1)
	assert.False(t, r.Matches("op-2", "NJ", at))
	assert.False(t, r.Matches("op-1", "NY", at))
}

func TestCpaRate_Matches_RejectsInactiveRate(t *testing.T) {
	r := CpaRate{OperatorID: "op-1", StateCode: "NJ", IsActive: false, EffectiveDate: date(2026, 1, 1)}
	assert.False(t, r.Matches("op-1", "NJ", date(2026, 3, 1)))
}

func TestCpaRate_Matches_RejectsBeforeEffectiveDate(t *testing.T) {
	r := CpaRate{OperatorID: "op-1", StateCode: "NJ", IsActive: true, EffectiveDate: date(2026, 6, 1)}
	assert.False(t, r.Matches("op-1", "NJ", date(2026, 3, 1)))
}

func TestCpaRate_Matches_RejectsAfterEndDate(t *testing.T) {
	end := date(2026, 2, 1)
	r := CpaRate{OperatorID: "op-1", StateCode: "NJ", IsActive: true, EffectiveDate: date(2026, 1, 1), EndDate: &end}
	assert.False(t, r.Matches("op-1", "NJ", date(2026, 3, 1)))
}

func TestCpaRate_Matches_AcceptsWithinWindowAndNoEndDate(t *testing.T) {
	r := CpaRate{OperatorID: "op-1", StateCode: "NJ", IsActive: true, EffectiveDate: date(2026, 1, 1)}
	assert.True(t, r.Matches("op-1", "NJ", date(2026, 3, 1)))
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
