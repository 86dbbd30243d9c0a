package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockVerifier returns a canned token or error
type mockVerifier struct {
	token *auth.Token
	err   error
}

func (m *mockVerifier) VerifyIDToken(_ context.Context, _ string) (*auth.Token, error) {
	return m.token, m.err
}

func protected(m *AuthMiddleware) http.Handler {
	return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ := GetAuth(r)
		fmt.Fprint(w, info.UserID)
	}))
}

func TestRequireAuth_ValidToken(t *testing.T) {
	m := NewAuthMiddleware(&mockVerifier{token: &auth.Token{
		UID:    "user-1",
		Claims: map[string]interface{}{"email": "u@example.com"},
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	req.Header.Set("Authorization", "Bearer valid")
	rec := httptest.NewRecorder()

	protected(m).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", rec.Body.String())
}

func TestRequireAuth_MissingHeader(t *testing.T) {
	m := NewAuthMiddleware(&mockVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	rec := httptest.NewRecorder()

	protected(m).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_InvalidHeaderFormat(t *testing.T) {
	m := NewAuthMiddleware(&mockVerifier{})

	for _, header := range []string{"valid", "Basic dXNlcg==", "Bearer a b"} {
		req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()

		protected(m).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "header %q", header)
	}
}

func TestRequireAuth_InvalidToken(t *testing.T) {
	m := NewAuthMiddleware(&mockVerifier{err: fmt.Errorf("token expired")})

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := httptest.NewRecorder()

	protected(m).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetAuth(t *testing.T) {
	_, ok := GetAuth(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)

	info := AuthInfo{UserID: "user-1", Email: "u@example.com"}
	ctx := context.WithValue(context.Background(), AuthKey, info)
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)

	got, ok := GetAuth(req)
	require.True(t, ok)
	assert.Equal(t, info, got)
}

func TestCORS_Preflight(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/transactions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
