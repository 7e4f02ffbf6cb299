package models

import "time"

type EventStatus string

const (
	EventPlanned   EventStatus = "planned"
	EventConfirmed EventStatus = "confirmed"
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// validEventTransitions encodes the Event lifecycle state machine.
var validEventTransitions = map[EventStatus][]EventStatus{
	EventPlanned:   {EventConfirmed, EventCancelled},
	EventConfirmed: {EventActive, EventCancelled},
	EventActive:    {EventCompleted, EventCancelled},
	EventCompleted: {},
	EventCancelled: {},
}

// CanTransition reports whether `to` is a legal next status from `from`.
func CanTransition(from, to EventStatus) bool {
	for _, s := range validEventTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Event struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Venue     string      `json:"venue"`
	EventDate time.Time   `json:"eventDate"`
	StartTime *string     `json:"startTime,omitempty"`
	EndTime   *string     `json:"endTime,omitempty"`
	Timezone  string      `json:"timezone"`
	City      string      `json:"city"`
	State     string      `json:"state"`
	Latitude  *float64    `json:"latitude,omitempty"`
	Longitude *float64    `json:"longitude,omitempty"`
	Status    EventStatus `json:"status"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type EventStatusHistory struct {
	ID     string      `json:"id"`
	EventID string     `json:"eventId"`
	From   EventStatus `json:"from"`
	To     EventStatus `json:"to"`
	Actor  string      `json:"actor"`
	Reason *string     `json:"reason,omitempty"`
	At     time.Time   `json:"at"`
}

// BudgetLineItems is the fixed set of line items shared by EventBudget and
// EventActuals: staff, reimbursements, rewards, base, bonus / kickback,
// parking, setup, plus 4 additional caller-named items.
type BudgetLineItems struct {
	Staff          float64 `json:"staff"`
	Reimbursements float64 `json:"reimbursements"`
	Rewards        float64 `json:"rewards"`
	Base           float64 `json:"base"`
	BonusKickback  float64 `json:"bonusKickback"`
	Parking        float64 `json:"parking"`
	Setup          float64 `json:"setup"`
	Additional1    float64 `json:"additional1"`
	Additional2    float64 `json:"additional2"`
	Additional3    float64 `json:"additional3"`
	Additional4    float64 `json:"additional4"`
}

// Total sums the line items.
func (b BudgetLineItems) Total() float64 {
	return b.Staff + b.Reimbursements + b.Rewards + b.Base + b.BonusKickback +
		b.Parking + b.Setup + b.Additional1 + b.Additional2 + b.Additional3 + b.Additional4
}

type EventBudget struct {
	EventID string          `json:"eventId"`
	Items   BudgetLineItems `json:"items"`
	Total   float64         `json:"total"`
	Revenue float64         `json:"revenue"`
	Profit  float64         `json:"profit"`
	Margin  float64         `json:"margin"`
}

type EventActuals struct {
	EventID string          `json:"eventId"`
	Items   BudgetLineItems `json:"items"`
	Total   float64         `json:"total"`
	Revenue float64         `json:"revenue"`
	Profit  float64         `json:"profit"`
	Margin  float64         `json:"margin"`
}

// Reconcile recomputes Total/Profit/Margin from Items and Revenue,
// enforcing the invariant that total equals the sum of line items and
// profit equals revenue minus total.
func (b *EventBudget) Reconcile() {
	b.Total = b.Items.Total()
	b.Profit = b.Revenue - b.Total
	if b.Revenue != 0 {
		b.Margin = b.Profit / b.Revenue * 100
	}
}

func (a *EventActuals) Reconcile() {
	a.Total = a.Items.Total()
	a.Profit = a.Revenue - a.Total
	if a.Revenue != 0 {
		a.Margin = a.Profit / a.Revenue * 100
	}
}

// AssignmentStatus is the Assignment state machine.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentConfirmed AssignmentStatus = "confirmed"
	AssignmentDeclined  AssignmentStatus = "declined"
	AssignmentCompleted AssignmentStatus = "completed"
)

type Assignment struct {
	ID           string           `json:"id"`
	EventID      string           `json:"eventId"`
	AmbassadorID string           `json:"ambassadorId"`
	Status       AssignmentStatus `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

type Ambassador struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	FullName  string `json:"fullName"`
	Email     string `json:"email"`
}

type Operator struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	ShortName   string `json:"shortName"`
}
