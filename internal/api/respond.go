// Package api is the HTTP surface: a gorilla/mux router, the
// auth/role/validate middleware chain from internal/middleware, and one
// handler file per subsystem, all answering in the shared envelope
// shape.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fieldops/control-plane/internal/apierr"
	"github.com/fieldops/control-plane/internal/middleware"
)

type meta struct {
	Total  *int `json:"total,omitempty"`
	Page   *int `json:"page,omitempty"`
	Limit  *int `json:"limit,omitempty"`
	Offset *int `json:"offset,omitempty"`
}

type successEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data})
}

func writeList(w http.ResponseWriter, data interface{}, m *meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(successEnvelope{Success: true, Data: data, Meta: m})
}

// writeErr translates a domain error into the envelope's {code, message}
// shape via apierr's Kind → HTTP status mapping.
func writeErr(w http.ResponseWriter, err error) {
	e, ok := apierr.As(err)
	if !ok {
		e = apierr.Wrap(apierr.Internal, "unexpected error", err)
	}
	if e.Kind == apierr.RateLimited && e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfter))
	}
	middleware.WriteError(w, e.Kind.HTTPStatus(), e.Code(), e.Message)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	return n
}
