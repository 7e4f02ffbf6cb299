// Package integrations holds one HTTP adapter per external partner: a
// CRM/accounting partner (offset pagination, major-unit money) and an
// expense partner (cursor pagination, minor-unit money).
// Every call obtains a token from the vault, wraps the round trip in a
// retry budget and a per-partner circuit breaker, and passes the response
// through a mapping.Outcome-returning mapper (internal/integrations/mapping).
package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/circuitbreaker"
	"github.com/fieldops/control-plane/internal/metrics"
	"github.com/fieldops/control-plane/internal/retry"
	"github.com/fieldops/control-plane/internal/vault"
)

// partnerClient is the shared skeleton both concrete clients embed:
// token acquisition, the 401-invalidate-and-retry-once rule, the retry
// wrapper, and the circuit breaker call.
type partnerClient struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	vault      *vault.Vault
	breaker    *circuitbreaker.CircuitBreaker
	retryCfg   retry.Config
}

func newPartnerClient(provider, baseURL string, timeout time.Duration, v *vault.Vault, cb *circuitbreaker.CircuitBreaker, retryCfg retry.Config) *partnerClient {
	return &partnerClient{
		provider:   provider,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		vault:      v,
		breaker:    cb,
		retryCfg:   retryCfg,
	}
}

// instrument wires the partner's circuit breaker state changes into m,
// replacing whatever OnStateChange the breaker's Config carried.
func (c *partnerClient) instrument(m *metrics.Metrics) {
	provider := c.provider
	m.SetCircuitState(provider, int(c.breaker.State()))
	c.breaker.SetOnStateChange(func(name string, from, to circuitbreaker.State) {
		m.SetCircuitState(provider, int(to))
	})
}

// doJSON performs method+path against the partner through the breaker,
// retrying on a retryable classification, applying the bearer token from
// the vault and the 401 invalidate-and-retry-once rule. An open breaker's
// ErrCircuitOpen classifies as unknown, so it ends the retry loop at once.
func (c *partnerClient) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	result := retry.WithRetry(ctx, c.retryCfg, func(ctx context.Context) error {
		return c.breaker.Do(ctx, func(ctx context.Context) error {
			return c.attempt(ctx, method, path, body, out, false)
		})
	})
	if !result.Success {
		if result.Err != nil {
			return result.Err
		}
		return apierr.New(apierr.UpstreamUnavailable, fmt.Sprintf("%s: request failed after %d attempts", c.provider, result.Attempts))
	}
	return nil
}

func (c *partnerClient) attempt(ctx context.Context, method, path string, body interface{}, out interface{}, retriedAfterReauth bool) error {
	token, err := c.vault.EnsureValidToken(ctx, c.provider)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apierr.Wrap(apierr.Internal, "marshal request body", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &partnerError{category: retry.CategoryNetwork, cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && !retriedAfterReauth {
		// Force-expire the token so EnsureValidToken refreshes, then retry
		// exactly once before bubbling out.
		c.vault.InvalidateToken(ctx, c.provider)
		return c.attempt(ctx, method, path, body, out, true)
	}

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return classifyPartnerStatus(resp.StatusCode, string(respBody))
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return apierr.Wrap(apierr.Internal, "decode partner response", err)
		}
	}
	return nil
}

// partnerError carries a pre-classified category so retry.WithRetry's
// ClassifiableError path skips message-based classification for responses
// we've already inspected directly.
type partnerError struct {
	category retry.Category
	cause    error
}

func (e *partnerError) Error() string          { return fmt.Sprintf("partner call failed: %v", e.cause) }
func (e *partnerError) Unwrap() error          { return e.cause }
func (e *partnerError) Category() retry.Category { return e.category }

func classifyPartnerStatus(status int, body string) error {
	cat := retry.ClassifyMessage(fmt.Sprintf("status %d", status))
	return &partnerError{category: cat, cause: fmt.Errorf("partner returned %d: %s", status, body)}
}
