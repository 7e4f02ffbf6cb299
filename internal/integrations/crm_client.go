package integrations

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fieldops/control-plane/internal/circuitbreaker"
	"github.com/fieldops/control-plane/internal/integrations/mapping"
	"github.com/fieldops/control-plane/internal/metrics"
	"github.com/fieldops/control-plane/internal/retry"
	"github.com/fieldops/control-plane/internal/vault"
)

// CRMClient talks to the CRM/accounting partner: offset pagination
// (startPosition/maxResults, totalCount), major-unit money.
type CRMClient struct {
	*partnerClient
	pageSize int
}

func NewCRMClient(baseURL string, pageSize int, timeout time.Duration, v *vault.Vault, breaker *circuitbreaker.CircuitBreaker, retryCfg retry.Config) *CRMClient {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &CRMClient{
		partnerClient: newPartnerClient("crm", baseURL, timeout, v, breaker, retryCfg),
		pageSize:      pageSize,
	}
}

// WithMetrics attaches Prometheus instrumentation; omit in tests.
func (c *CRMClient) WithMetrics(m *metrics.Metrics) *CRMClient {
	c.instrument(m)
	return c
}

type crmCustomersPage struct {
	Customers  []mapping.CRMCustomer `json:"customers"`
	TotalCount int                   `json:"totalCount"`
}

// ListCustomers pages through every customer using offset pagination,
// iterating until processed >= totalCount.
func (c *CRMClient) ListCustomers(ctx context.Context) ([]mapping.Outcome, error) {
	var all []mapping.Outcome
	processed := 0
	startPosition := 0
	for {
		var page crmCustomersPage
		path := fmt.Sprintf("/customers?startPosition=%d&maxResults=%d", startPosition, c.pageSize)
		if err := c.doJSON(ctx, "GET", path, nil, &page); err != nil {
			return all, err
		}
		all = append(all, mapping.BatchCRMCustomers(page.Customers)...)
		processed += len(page.Customers)
		startPosition += len(page.Customers)
		if len(page.Customers) == 0 || processed >= page.TotalCount {
			break
		}
	}
	return all, nil
}

// FetchCustomersPage fetches one page of customers for a checkpointed
// sync run. offset is the opaque checkpoint cursor (the decimal offset
// as a string, nil meaning "from the start"); it returns the next
// offset to resume from, or nil once the partner reports no more rows.
func (c *CRMClient) FetchCustomersPage(ctx context.Context, offset *string) ([]mapping.CRMCustomer, *string, *int, error) {
	startPosition := 0
	if offset != nil {
		v, err := strconv.Atoi(*offset)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("crm: invalid offset checkpoint %q: %w", *offset, err)
		}
		startPosition = v
	}

	var page crmCustomersPage
	path := fmt.Sprintf("/customers?startPosition=%d&maxResults=%d", startPosition, c.pageSize)
	if err := c.doJSON(ctx, "GET", path, nil, &page); err != nil {
		return nil, nil, nil, err
	}

	next := startPosition + len(page.Customers)
	var nextOffset *string
	if len(page.Customers) > 0 && next < page.TotalCount {
		s := strconv.Itoa(next)
		nextOffset = &s
	}
	total := page.TotalCount
	return page.Customers, nextOffset, &total, nil
}

// GetCustomer fetches a single customer by external id.
func (c *CRMClient) GetCustomer(ctx context.Context, externalID string) (mapping.Outcome, error) {
	var raw mapping.CRMCustomer
	if err := c.doJSON(ctx, "GET", "/customers/"+externalID, nil, &raw); err != nil {
		return mapping.Outcome{}, err
	}
	return mapping.CRMCustomerToInternal(raw), nil
}

// UpsertCustomer creates or updates a customer record on the partner side.
func (c *CRMClient) UpsertCustomer(ctx context.Context, internal mapping.CRMCustomerInternal) error {
	outcome := mapping.CRMCustomerToExternal(internal)
	if outcome.Failed() {
		return fmt.Errorf("crm: %s", outcome.Error)
	}
	return c.doJSON(ctx, "POST", "/customers", outcome.Record, nil)
}

// UpsertCustomerAttributes pushes enrichment fields (commission, wager
// details) onto an already-synced customer profile.
func (c *CRMClient) UpsertCustomerAttributes(ctx context.Context, externalID string, attrs map[string]interface{}) error {
	return c.doJSON(ctx, "PUT", "/customers/"+externalID+"/attributes", attrs, nil)
}

// ProfitAndLoss fetches the P&L report for a date range.
func (c *CRMClient) ProfitAndLoss(ctx context.Context, from, to string) (map[string]interface{}, error) {
	var report map[string]interface{}
	path := fmt.Sprintf("/reports/profit-and-loss?startDate=%s&endDate=%s", from, to)
	if err := c.doJSON(ctx, "GET", path, nil, &report); err != nil {
		return nil, err
	}
	return report, nil
}

// BalanceSheet fetches the partner's balance-sheet report as of a date.
func (c *CRMClient) BalanceSheet(ctx context.Context, asOf string) (map[string]interface{}, error) {
	var report map[string]interface{}
	if err := c.doJSON(ctx, "GET", "/reports/balance-sheet?asOf="+asOf, nil, &report); err != nil {
		return nil, err
	}
	return report, nil
}
