package sync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fieldops/control-plane/internal/integrations"
	"github.com/fieldops/control-plane/internal/integrations/mapping"
	"github.com/fieldops/control-plane/internal/store"
)

// CRMCustomerFetcher adapts CRMClient's offset pagination to a Fetcher:
// the checkpoint's LastProcessedID carries the decimal offset reached
// so far, nil meaning "from the start".
func CRMCustomerFetcher(c *integrations.CRMClient) Fetcher {
	return func(ctx context.Context, cursorOrOffset *string) (Page, error) {
		customers, nextOffset, total, err := c.FetchCustomersPage(ctx, cursorOrOffset)
		if err != nil {
			return Page{}, err
		}
		last := "0"
		if nextOffset != nil {
			last = *nextOffset
		} else if cursorOrOffset != nil {
			last = *cursorOrOffset
		}
		base := 0
		if cursorOrOffset != nil {
			base, _ = strconv.Atoi(*cursorOrOffset)
		}
		ids := make([]string, len(customers))
		for i := range customers {
			ids[i] = strconv.Itoa(base + i + 1)
		}
		return Page{
			Outcomes:        mapping.BatchCRMCustomers(customers),
			RecordIDs:       ids,
			NextCursor:      nextOffset,
			TotalCount:      total,
			LastProcessedID: last,
		}, nil
	}
}

// ExpenseTransactionFetcher adapts ExpenseClient's cursor pagination to
// a Fetcher: the checkpoint's LastProcessedID carries the partner's
// opaque cursor itself.
func ExpenseTransactionFetcher(c *integrations.ExpenseClient) Fetcher {
	return func(ctx context.Context, cursorOrOffset *string) (Page, error) {
		transactions, nextCursor, err := c.FetchTransactionsPage(ctx, cursorOrOffset)
		if err != nil {
			return Page{}, err
		}
		last := ""
		if nextCursor != nil {
			last = *nextCursor
		} else if cursorOrOffset != nil {
			last = *cursorOrOffset
		}
		return Page{
			Outcomes:        mapping.BatchExpenseTransactions(transactions),
			NextCursor:      nextCursor,
			LastProcessedID: last,
		}, nil
	}
}

// CRMCustomerUpserter persists a mapped CRM customer keyed by external
// id, overwriting whatever was previously synced for that id.
func CRMCustomerUpserter(ctx context.Context, tx *store.Tx, record interface{}) error {
	c, ok := record.(mapping.CRMCustomerInternal)
	if !ok {
		return fmt.Errorf("crm upsert: unexpected record type %T", record)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO crm_customers (external_id, display_name, email, balance_cents, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (external_id) DO UPDATE SET
			display_name = EXCLUDED.display_name, email = EXCLUDED.email,
			balance_cents = EXCLUDED.balance_cents, updated_at = now()`,
		c.ExternalID, c.DisplayName, c.Email, c.BalanceCents)
	return err
}

// ExpenseTransactionUpserter persists a mapped expense transaction keyed
// by external id.
func ExpenseTransactionUpserter(ctx context.Context, tx *store.Tx, record interface{}) error {
	t, ok := record.(mapping.ExpenseTransactionInternal)
	if !ok {
		return fmt.Errorf("expense upsert: unexpected record type %T", record)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO expense_transactions (external_id, card_id, amount_major, merchant_name, department, occurred_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (external_id) DO UPDATE SET
			card_id = EXCLUDED.card_id, amount_major = EXCLUDED.amount_major,
			merchant_name = EXCLUDED.merchant_name, department = EXCLUDED.department,
			occurred_at = EXCLUDED.occurred_at, updated_at = now()`,
		t.ExternalID, t.CardID, t.AmountMajor, t.MerchantName, t.Department, t.OccurredAt)
	return err
}

// The SyncType* constants name the syncType checkpoint value for each supported
// integration; exported so callers triggering a run and callers
// inspecting checkpoint history agree on the same constant.
const (
	SyncTypeCRMCustomers        = "customers"
	SyncTypeExpenseTransactions = "transactions"
)
