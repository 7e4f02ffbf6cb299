// Package mapping holds the pure toInternal/toExternal/validate triples
// used to translate between partner wire shapes and internal rows. Every
// function here returns a verdict-carrying Outcome instead of panicking,
// so a batch transform can report one failure per record without
// aborting the rest.
package mapping

import "fmt"

// Outcome is the per-record result of a mapping attempt.
type Outcome struct {
	Record interface{} `json:"record,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func ok(record interface{}) Outcome  { return Outcome{Record: record} }
func fail(err string) Outcome        { return Outcome{Error: err} }
func (o Outcome) Failed() bool       { return o.Error != "" }

// CentsToMajor converts minor-unit (cents) wire amounts to a float64
// major unit, used by the expense partner mapper.
func CentsToMajor(cents int64) float64 { return float64(cents) / 100.0 }

// MajorToCents is the inverse, used on egress.
func MajorToCents(major float64) int64 { return int64(major*100 + 0.5) }

// CRMCustomer is the partner wire shape for a customer/contact record.
type CRMCustomer struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Email       string  `json:"email"`
	Balance     float64 `json:"balance"` // major units
}

// CRMCustomerInternal is the internal projection stored against
// (provider, externalId).
type CRMCustomerInternal struct {
	ExternalID   string `json:"externalId"`
	DisplayName  string `json:"displayName"`
	Email        string `json:"email"`
	BalanceCents int64  `json:"balanceCents"`
}

func ValidateCRMCustomer(c CRMCustomer) error {
	if c.ID == "" {
		return fmt.Errorf("missing id")
	}
	if c.Email == "" {
		return fmt.Errorf("missing email")
	}
	return nil
}

// CRMCustomerToInternal converts a CRM partner customer to the internal
// representation. CRM amounts are major-unit on the wire; the internal
// CRM row stores cents. (The expense partner's internal row keeps a
// major-unit float instead; see ExpenseTransactionInternal.)
func CRMCustomerToInternal(c CRMCustomer) Outcome {
	if err := ValidateCRMCustomer(c); err != nil {
		return fail("validation failed: " + err.Error())
	}
	return ok(CRMCustomerInternal{
		ExternalID:   c.ID,
		DisplayName:  c.DisplayName,
		Email:        c.Email,
		BalanceCents: MajorToCents(c.Balance),
	})
}

func CRMCustomerToExternal(c CRMCustomerInternal) Outcome {
	return ok(CRMCustomer{
		ID:          c.ExternalID,
		DisplayName: c.DisplayName,
		Email:       c.Email,
		Balance:     CentsToMajor(c.BalanceCents),
	})
}

// ExpenseTransaction is the expense partner wire shape; amounts are
// minor-unit (cents) on the wire.
type ExpenseTransaction struct {
	ID           string `json:"id"`
	CardID       string `json:"cardId"`
	AmountCents  int64  `json:"amountCents"`
	MerchantName string `json:"merchantName"`
	Department   string `json:"department"`
	OccurredAt   string `json:"occurredAt"` // RFC3339
}

type ExpenseTransactionInternal struct {
	ExternalID   string  `json:"externalId"`
	CardID       string  `json:"cardId"`
	AmountMajor  float64 `json:"amountMajor"`
	MerchantName string  `json:"merchantName"`
	Department   string  `json:"department"`
	OccurredAt   string  `json:"occurredAt"`
}

func ValidateExpenseTransaction(t ExpenseTransaction) error {
	if t.ID == "" {
		return fmt.Errorf("missing id")
	}
	if t.AmountCents == 0 {
		return fmt.Errorf("missing amount")
	}
	return nil
}

func ExpenseTransactionToInternal(t ExpenseTransaction) Outcome {
	if err := ValidateExpenseTransaction(t); err != nil {
		return fail("validation failed: " + err.Error())
	}
	return ok(ExpenseTransactionInternal{
		ExternalID:   t.ID,
		CardID:       t.CardID,
		AmountMajor:  CentsToMajor(t.AmountCents),
		MerchantName: t.MerchantName,
		Department:   t.Department,
		OccurredAt:   t.OccurredAt,
	})
}

func ExpenseTransactionToExternal(t ExpenseTransactionInternal) Outcome {
	return ok(ExpenseTransaction{
		ID:           t.ExternalID,
		CardID:       t.CardID,
		AmountCents:  MajorToCents(t.AmountMajor),
		MerchantName: t.MerchantName,
		Department:   t.Department,
		OccurredAt:   t.OccurredAt,
	})
}

// BatchCRMCustomers runs a toInternal mapper over every item, never
// stopping at the first failure, and returns a per-record outcome list.
func BatchCRMCustomers(items []CRMCustomer) []Outcome {
	out := make([]Outcome, len(items))
	for i, it := range items {
		out[i] = CRMCustomerToInternal(it)
	}
	return out
}

func BatchExpenseTransactions(items []ExpenseTransaction) []Outcome {
	out := make([]Outcome, len(items))
	for i, it := range items {
		out[i] = ExpenseTransactionToInternal(it)
	}
	return out
}
