package middleware

import "net/http"

// RoleGate allows only the listed roles through; it must run after Auth.
// A mismatch is AuthorizationError (403), distinct from Auth's 401.
func RoleGate(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := Role(r.Context())
			if !ok || !allowed[role] {
				WriteError(w, http.StatusForbidden, "AuthorizationError", "role not permitted for this route")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
