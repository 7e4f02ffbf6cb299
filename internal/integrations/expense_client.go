package integrations

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldops/control-plane/internal/circuitbreaker"
	"github.com/fieldops/control-plane/internal/integrations/mapping"
	"github.com/fieldops/control-plane/internal/metrics"
	"github.com/fieldops/control-plane/internal/retry"
	"github.com/fieldops/control-plane/internal/vault"
)

// ExpenseClient talks to the expense partner: cursor pagination
// ({data, nextCursor}), minor-unit money.
type ExpenseClient struct {
	*partnerClient
	pageSize int
}

func NewExpenseClient(baseURL string, pageSize int, timeout time.Duration, v *vault.Vault, breaker *circuitbreaker.CircuitBreaker, retryCfg retry.Config) *ExpenseClient {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &ExpenseClient{
		partnerClient: newPartnerClient("expense", baseURL, timeout, v, breaker, retryCfg),
		pageSize:      pageSize,
	}
}

// WithMetrics attaches Prometheus instrumentation; omit in tests.
func (c *ExpenseClient) WithMetrics(m *metrics.Metrics) *ExpenseClient {
	c.instrument(m)
	return c
}

type expenseTransactionsPage struct {
	Data       []mapping.ExpenseTransaction `json:"data"`
	NextCursor *string                      `json:"nextCursor"`
}

// ListTransactions pages through every transaction using cursor pagination:
// hasMore = nextCursor != nil; the opaque cursor is passed back unchanged.
func (c *ExpenseClient) ListTransactions(ctx context.Context) ([]mapping.Outcome, error) {
	var all []mapping.Outcome
	var cursor *string
	for {
		path := fmt.Sprintf("/transactions?limit=%d", c.pageSize)
		if cursor != nil {
			path += "&cursor=" + *cursor
		}
		var page expenseTransactionsPage
		if err := c.doJSON(ctx, "GET", path, nil, &page); err != nil {
			return all, err
		}
		all = append(all, mapping.BatchExpenseTransactions(page.Data)...)
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}
	return all, nil
}

// FetchTransactionsPage fetches one page of transactions for a
// checkpointed sync run. cursor is the opaque checkpoint cursor handed
// back unchanged to the partner; it returns the partner's nextCursor,
// or nil once exhausted.
func (c *ExpenseClient) FetchTransactionsPage(ctx context.Context, cursor *string) ([]mapping.ExpenseTransaction, *string, error) {
	path := fmt.Sprintf("/transactions?limit=%d", c.pageSize)
	if cursor != nil {
		path += "&cursor=" + *cursor
	}
	var page expenseTransactionsPage
	if err := c.doJSON(ctx, "GET", path, nil, &page); err != nil {
		return nil, nil, err
	}
	return page.Data, page.NextCursor, nil
}

// SuspendCard suspends a corporate card.
func (c *ExpenseClient) SuspendCard(ctx context.Context, cardID string) error {
	return c.doJSON(ctx, "POST", "/cards/"+cardID+"/suspend", nil, nil)
}

// UnsuspendCard lifts a suspension on a corporate card.
func (c *ExpenseClient) UnsuspendCard(ctx context.Context, cardID string) error {
	return c.doJSON(ctx, "POST", "/cards/"+cardID+"/unsuspend", nil, nil)
}

// DepartmentSpend returns partner-aggregated spend by department for a
// period.
func (c *ExpenseClient) DepartmentSpend(ctx context.Context, from, to string) (map[string]float64, error) {
	var raw map[string]int64 // wire is minor-unit
	path := fmt.Sprintf("/reports/department-spend?startDate=%s&endDate=%s", from, to)
	if err := c.doJSON(ctx, "GET", path, nil, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for dept, cents := range raw {
		out[dept] = mapping.CentsToMajor(cents)
	}
	return out, nil
}

// Receipts fetches receipt metadata for a transaction.
func (c *ExpenseClient) Receipts(ctx context.Context, transactionID string) ([]map[string]interface{}, error) {
	var receipts []map[string]interface{}
	if err := c.doJSON(ctx, "GET", "/transactions/"+transactionID+"/receipts", nil, &receipts); err != nil {
		return nil, err
	}
	return receipts, nil
}

// Users fetches the partner's user directory (for card-holder lookups).
func (c *ExpenseClient) Users(ctx context.Context) ([]map[string]interface{}, error) {
	var users []map[string]interface{}
	if err := c.doJSON(ctx, "GET", "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}
