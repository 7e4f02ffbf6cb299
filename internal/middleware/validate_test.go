package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequired_FlagsMissingAndEmptyFields(t *testing.T) {
	body := map[string]interface{}{
		"email":    "a@b.com",
		"operator": "   ",
	}
	errs := Required(body, "email", "operator", "name")
	assert.NotContains(t, errs, "email")
	assert.Equal(t, "required", errs["operator"])
	assert.Equal(t, "required", errs["name"])
}

func TestValidate_PassesThroughValidBody(t *testing.T) {
	validator := func(body map[string]interface{}) map[string]string {
		return Required(body, "email")
	}
	called := false
	h := Validate(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{"email":"a@b.com"}`))
	req.ContentLength = int64(len(`{"email":"a@b.com"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestValidate_RejectsOnFieldError(t *testing.T) {
	validator := func(body map[string]interface{}) map[string]string {
		return Required(body, "email")
	}
	called := false
	h := Validate(validator)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{}`))
	req.ContentLength = int64(len(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidate_RejectsMalformedJSON(t *testing.T) {
	h := Validate(func(map[string]interface{}) map[string]string { return nil })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`not json`))
	req.ContentLength = int64(len(`not json`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidate_SkipsEmptyBody(t *testing.T) {
	called := false
	h := Validate(func(map[string]interface{}) map[string]string { return nil })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
