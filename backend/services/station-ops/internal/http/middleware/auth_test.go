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

const secret = "test-secret"

func sign(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return tok
}

func echoActor() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := ActorIDFromContext(r.Context())
		_, _ = w.Write([]byte(id))
	})
}

func TestAuth(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	cases := []struct {
		name   string
		header string
		code   int
		actor  string
	}{
		{"user_id claim", "Bearer " + sign(t, jwt.MapClaims{"user_id": "admin-7", "exp": exp}, secret), http.StatusOK, "admin-7"},
		{"numeric user_id", "Bearer " + sign(t, jwt.MapClaims{"user_id": float64(42), "exp": exp}, secret), http.StatusOK, "42"},
		{"subject fallback", "Bearer " + sign(t, jwt.MapClaims{"sub": "op-3", "exp": exp}, secret), http.StatusOK, "op-3"},
		{"missing header", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"bad signature", "Bearer " + sign(t, jwt.MapClaims{"user_id": "x", "exp": exp}, "other"), http.StatusUnauthorized, ""},
		{"expired", "Bearer " + sign(t, jwt.MapClaims{"user_id": "x", "exp": time.Now().Add(-time.Hour).Unix()}, secret), http.StatusUnauthorized, ""},
		{"no identity", "Bearer " + sign(t, jwt.MapClaims{"exp": exp}, secret), http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			Auth(secret)(echoActor()).ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, tc.actor, rec.Body.String())
			}
		})
	}
}

func TestChainSkipsNil(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }), mw("a"), nil, mw("b"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}
