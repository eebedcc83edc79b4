package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims AdminClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims(scopes ...string) AdminClaims {
	return AdminClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}
}

func serveAdmin(secret, scope, header string) (*httptest.ResponseRecorder, *AdminClaims) {
	var seen *AdminClaims
	h := AdminJWT(secret, scope)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := AdminClaimsFromContext(r.Context()); ok {
			seen = &claims
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPost, "/admin/knowledge", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestAdminJWTRejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	cases := map[string]struct {
		secret string
		header string
	}{
		"disabled":       {"", "Bearer " + signToken(t, "secret", validClaims())},
		"missing header": {"secret", ""},
		"not bearer":     {"secret", "Basic abc"},
		"wrong secret":   {"secret", "Bearer " + signToken(t, "other", validClaims())},
		"expired":        {"secret", "Bearer " + signToken(t, "secret", expired)},
		"no expiry":      {"secret", "Bearer " + signToken(t, "secret", noExpiry)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec, seen := serveAdmin(tc.secret, ScopeKnowledgeWrite, tc.header)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Nil(t, seen)
		})
	}
}

func TestAdminJWTScopes(t *testing.T) {
	rec, _ := serveAdmin("secret", ScopeKnowledgeWrite, "Bearer "+signToken(t, "secret", validClaims("audit:read")))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, seen := serveAdmin("secret", ScopeKnowledgeWrite, "Bearer "+signToken(t, "secret", validClaims(ScopeKnowledgeWrite)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "ops", seen.Subject)

	rec, _ = serveAdmin("secret", ScopeKnowledgeWrite, "Bearer "+signToken(t, "secret", validClaims()))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
