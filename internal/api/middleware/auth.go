package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lidorpahima/llmshield/internal/api/response"
)

// Auth validates bearer tokens issued by the external identity provider and
// puts the token subject into the request context as the owner identity. The
// core never manages sessions itself; it only consumes a verified identity.
type Auth struct {
	secret []byte
}

// NewAuth creates the Auth middleware with the shared JWT signing secret.
func NewAuth(secret []byte) *Auth {
	return &Auth{secret: secret}
}

// Authenticate verifies the Bearer token and sets the owner id in context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHORIZED", "Missing or invalid Authorization header", nil)
			return
		}

		subject, err := a.verify(raw)
		if err != nil {
			code := "UNAUTHORIZED"
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token has expired"
			}
			response.Error(w, http.StatusUnauthorized, code, msg, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetOwnerID(r.Context(), subject)))
	})
}

// verify parses and validates the token and returns its subject claim.
func (a *Auth) verify(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", err
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return subject, nil
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
