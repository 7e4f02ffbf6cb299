package integrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/control-plane/internal/retry"
)

func TestClassifyPartnerStatus_MapsStatusToCategory(t *testing.T) {
	err := classifyPartnerStatus(429, "slow down")
	pe, ok := err.(*partnerError)
	require.True(t, ok)
	assert.Equal(t, retry.CategoryRateLimit, pe.category)
}

func TestClassifyPartnerStatus_ServerError(t *testing.T) {
	err := classifyPartnerStatus(503, "unavailable")
	pe := err.(*partnerError)
	assert.Equal(t, retry.CategoryServerError, pe.category)
}

func TestClassifyPartnerStatus_NotFound(t *testing.T) {
	err := classifyPartnerStatus(404, "missing")
	pe := err.(*partnerError)
	assert.Equal(t, retry.CategoryNotFound, pe.category)
}

func TestPartnerError_ErrorAndUnwrap(t *testing.T) {
	err := classifyPartnerStatus(500, "boom")
	assert.Contains(t, err.Error(), "partner call failed")
	pe := err.(*partnerError)
	assert.Error(t, pe.Unwrap())
}
