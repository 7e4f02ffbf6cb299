package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// FieldValidator inspects a decoded JSON body and returns one message per
// invalid field. An empty/nil result means the body is valid.
type FieldValidator func(body map[string]interface{}) map[string]string

// Validate decodes the JSON body, runs it through validator, and rejects
// with ValidationError (400) on any field message. The body is restored
// onto the request so downstream handlers can decode it again into their
// own concrete struct without this middleware owning that shape.
func Validate(validator FieldValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.ContentLength == 0 {
				next.ServeHTTP(w, r)
				return
			}
			raw, err := io.ReadAll(r.Body)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "ValidationError", "could not read request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))

			var body map[string]interface{}
			if err := json.Unmarshal(raw, &body); err != nil {
				WriteError(w, http.StatusBadRequest, "ValidationError", "malformed JSON body")
				return
			}

			if fieldErrs := validator(body); len(fieldErrs) > 0 {
				var parts []string
				for field, msg := range fieldErrs {
					parts = append(parts, field+": "+msg)
				}
				WriteError(w, http.StatusBadRequest, "ValidationError", strings.Join(parts, "; "))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(raw))
			next.ServeHTTP(w, r)
		})
	}
}

// Required is a small helper for the common "field must be a non-empty
// string" rule used by most Validate schemas in this package.
func Required(body map[string]interface{}, fields ...string) map[string]string {
	errs := map[string]string{}
	for _, f := range fields {
		v, ok := body[f]
		if !ok {
			errs[f] = "required"
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			errs[f] = "required"
		}
	}
	return errs
}
