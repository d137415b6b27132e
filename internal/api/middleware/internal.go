package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/lidorpahima/llmshield/internal/api/response"
)

// InternalSecretHeader carries the shared secret on gateway-facing routes.
const InternalSecretHeader = "Internal-Secret"

// InternalAuth guards the routes the remote gateway calls (resolve, activity
// log). The gateway authenticates with a pre-shared secret, compared in
// constant time.
type InternalAuth struct {
	secret []byte
}

// NewInternalAuth creates the shared-secret middleware.
func NewInternalAuth(secret string) *InternalAuth {
	return &InternalAuth{secret: []byte(secret)}
}

// Authenticate rejects requests whose Internal-Secret header does not match.
// An empty configured secret rejects everything rather than allowing all.
func (a *InternalAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := []byte(r.Header.Get(InternalSecretHeader))
		if len(a.secret) == 0 ||
			subtle.ConstantTimeCompare(presented, a.secret) != 1 {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Missing or invalid internal secret", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
