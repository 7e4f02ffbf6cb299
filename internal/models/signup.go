// Package models holds the entity schema shared by every package. All
// internal data structures use this schema rather than raw DB rows or
// untyped maps. Column names are spelled in snake_case in each package's
// explicit SQL and scanned into these structs; internal/store itself does
// no name translation.
package models

import "time"

type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationRejected  ValidationStatus = "rejected"
	ValidationDuplicate ValidationStatus = "duplicate"
)

type ExtractionStatus string

const (
	ExtractionNotRequired ExtractionStatus = "not_required"
	ExtractionPending     ExtractionStatus = "pending"
	ExtractionNeedsReview ExtractionStatus = "needs_review"
	ExtractionConfirmed   ExtractionStatus = "confirmed"
	ExtractionSkipped     ExtractionStatus = "skipped"
	ExtractionFailed      ExtractionStatus = "failed"
)

// SyncPhase identifies which slice of a sign-up is being pushed to a
// partner CRM: identity-only, or identity + commission/wager fields.
type SyncPhase string

const (
	SyncPhaseInitial  SyncPhase = "initial"
	SyncPhaseEnriched SyncPhase = "enriched"
)

type SignUp struct {
	ID                   string           `json:"id"`
	EventID              *string          `json:"eventId,omitempty"`
	SoloChatID           *string          `json:"soloChatId,omitempty"`
	AmbassadorID         string           `json:"ambassadorId"`
	OperatorID           string           `json:"operatorId"`
	CustomerEmail        string           `json:"customerEmail"`
	CustomerName         string           `json:"customerName"`
	CustomerState        *string          `json:"customerState,omitempty"`
	SubmittedAt          time.Time        `json:"submittedAt"`
	ValidationStatus     ValidationStatus `json:"validationStatus"`
	ExtractionStatus     ExtractionStatus `json:"extractionStatus"`
	BetAmount            *float64         `json:"betAmount,omitempty"`
	TeamBetOn            *string          `json:"teamBetOn,omitempty"`
	Odds                 *string          `json:"odds,omitempty"`
	ExtractionConfidence *float64         `json:"extractionConfidence,omitempty"`
	CPAAmount            *float64         `json:"cpaAmount,omitempty"`
	PayPeriodID          *string          `json:"payPeriodId,omitempty"`
	IdempotencyKey       string           `json:"idempotencyKey"`
	ImageKey             *string          `json:"imageKey,omitempty"`
	CreatedAt            time.Time        `json:"createdAt"`
	UpdatedAt            time.Time        `json:"updatedAt"`
}

// HasImage reports whether an uploaded bet-slip image was provided.
func (s *SignUp) HasImage() bool { return s.ImageKey != nil && *s.ImageKey != "" }

// SyncFailure records a permanent failure of one fan-out leg.
type SyncFailure struct {
	ID            string    `json:"id"`
	SignUpID      string    `json:"signUpId"`
	SyncPhase     SyncPhase `json:"syncPhase"`
	ErrorType     string    `json:"errorType"` // rate_limit, server_error, network, other
	ErrorMessage  string    `json:"errorMessage"`
	LastAttemptAt time.Time `json:"lastAttemptAt"`
	AttemptCount  int       `json:"attemptCount"`
	Resolved      bool      `json:"resolved"`
}

// CpaRate is the commission-per-(operator,state) row.
type CpaRate struct {
	ID            string     `json:"id"`
	OperatorID    string     `json:"operatorId"`
	StateCode     string     `json:"stateCode"`
	CPAAmount     float64    `json:"cpaAmount"`
	EffectiveDate time.Time  `json:"effectiveDate"`
	EndDate       *time.Time `json:"endDate,omitempty"`
	IsActive      bool       `json:"isActive"`
}

// CpaAttribution records which CpaRate, if any, priced a given sign-up
// at import time.
type CpaAttribution struct {
	ID        string    `json:"id"`
	SignUpID  string    `json:"signUpId"`
	CpaRateID string    `json:"cpaRateId"`
	Amount    float64   `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// Matches reports whether the rate applies to a sign-up submitted at `at`.
func (r *CpaRate) Matches(operatorID, state string, at time.Time) bool {
	if r.OperatorID != operatorID || r.StateCode != state || !r.IsActive {
		return false
	}
	if r.EffectiveDate.After(at) {
		return false
	}
	if r.EndDate != nil && r.EndDate.Before(at) {
		return false
	}
	return true
}
