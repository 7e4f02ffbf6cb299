package kpi

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldops/control-plane/internal/models"
)

func TestCompare(t *testing.T) {
	cases := []struct {
		name      string
		cond      models.Condition
		current   float64
		threshold float64
		prior     float64
		want      bool
	}{
		{"gt breach", models.CondGT, 120, 100, 0, true},
		{"gt no breach", models.CondGT, 90, 100, 0, false},
		{"lt breach", models.CondLT, 5, 10, 0, true},
		{"gte equal breaches", models.CondGTE, 100, 100, 0, true},
		{"lte equal breaches", models.CondLTE, 100, 100, 0, true},
		{"eq breach", models.CondEQ, 7, 7, 0, true},
		{"neq breach", models.CondNEQ, 8, 7, 0, true},
		{"pct change above", models.CondPctChangeAbove, 150, 20, 100, true},
		{"pct change below", models.CondPctChangeBelow, 50, -20, 100, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, compare(tc.cond, tc.current, tc.threshold, tc.prior))
		})
	}
}

func TestDeviationPercent(t *testing.T) {
	assert.InDelta(t, 20.0, deviationPercent(120, 100), 0.0001)
	assert.Equal(t, 0.0, deviationPercent(120, 0))
	assert.InDelta(t, -50.0, deviationPercent(50, 100), 0.0001)
}

func TestBuildMessage(t *testing.T) {
	th := models.KPIThreshold{KPIName: "signup_rate", Condition: models.CondGT, ThresholdValue: 100}
	msg := buildMessage(th, 120)
	assert.Contains(t, msg, "signup_rate")
	assert.Contains(t, msg, "120.00")
	assert.Contains(t, msg, "100.00")
}
