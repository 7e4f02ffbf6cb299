package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/control-plane/internal/apierr"
)

func TestWriteJSON_WritesSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusCreated, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)
	assert.Contains(t, rec.Body.String(), `"id":"abc"`)
}

func TestWriteList_IncludesMeta(t *testing.T) {
	rec := httptest.NewRecorder()
	total := 42
	writeList(rec, []int{1, 2, 3}, &meta{Total: &total})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":42`)
}

func TestWriteErr_TranslatesApierrKind(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErr(rec, apierr.NotFoundf("sign-up %s not found", "su-1"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "su-1 not found")
}

func TestWriteErr_WrapsPlainErrorAsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	writeErr(rec, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWriteErr_SetsRetryAfterOnRateLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	e := apierr.New(apierr.RateLimited, "slow down")
	e.RetryAfter = 30
	writeErr(rec, e)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
}

func TestQueryInt_ParsesValidDigits(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=25", nil)
	assert.Equal(t, 25, queryInt(req, "limit", 10))
}

func TestQueryInt_FallsBackOnMissingParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, 10, queryInt(req, "limit", 10))
}

func TestQueryInt_FallsBackOnNonNumeric(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=abc", nil)
	assert.Equal(t, 10, queryInt(req, "limit", 10))
}

func TestDecodeJSON_DecodesBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"jane"}`))
	var dst struct {
		Name string `json:"name"`
	}
	require.NoError(t, decodeJSON(req, &dst))
	assert.Equal(t, "jane", dst.Name)
}
