package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_AllowsValidTransitions(t *testing.T) {
	assert.True(t, CanTransition(EventPlanned, EventConfirmed))
	assert.True(t, CanTransition(EventPlanned, EventCancelled))
	assert.True(t, CanTransition(EventConfirmed, EventActive))
	assert.True(t, CanTransition(EventActive, EventCompleted))
}

func TestCanTransition_RejectsInvalidTransitions(t *testing.T) {
	assert.False(t, CanTransition(EventPlanned, EventActive))
	assert.False(t, CanTransition(EventPlanned, EventCompleted))
	assert.False(t, CanTransition(EventCompleted, EventActive))
	assert.False(t, CanTransition(EventCancelled, EventPlanned))
}

func TestBudgetLineItems_Total(t *testing.T) {
	items := BudgetLineItems{
		Staff: 100, Reimbursements: 50, Rewards: 25, Base: 200,
		BonusKickback: 10, Parking: 15, Setup: 5,
		Additional1: 1, Additional2: 2, Additional3: 3, Additional4: 4,
	}
	assert.Equal(t, 415.0, items.Total())
}

func TestEventBudget_Reconcile(t *testing.T) {
	b := &EventBudget{
		Items:   BudgetLineItems{Staff: 100, Base: 200},
		Revenue: 500,
	}
	b.Reconcile()
	assert.Equal(t, 300.0, b.Total)
	assert.Equal(t, 200.0, b.Profit)
	assert.InDelta(t, 40.0, b.Margin, 0.0001)
}

func TestEventBudget_Reconcile_ZeroRevenueLeavesMarginZero(t *testing.T) {
	b := &EventBudget{Items: BudgetLineItems{Staff: 50}, Revenue: 0}
	b.Reconcile()
	assert.Equal(t, 50.0, b.Total)
	assert.Equal(t, -50.0, b.Profit)
	assert.Equal(t, 0.0, b.Margin)
}

func TestEventActuals_Reconcile(t *testing.T) {
	a := &EventActuals{Items: BudgetLineItems{Base: 100}, Revenue: 150}
	a.Reconcile()
	assert.Equal(t, 100.0, a.Total)
	assert.Equal(t, 50.0, a.Profit)
	assert.InDelta(t, 33.333, a.Margin, 0.01)
}
