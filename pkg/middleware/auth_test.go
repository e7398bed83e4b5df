package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

// fakeToken implements Token
type fakeToken struct {
	data map[string]interface{}
}

func (t *fakeToken) Claims(v interface{}) error {
	if mm, ok := v.(*map[string]interface{}); ok {
		*mm = t.data
		return nil
	}
	return fmt.Errorf("unsupported claims type")
}

// fakeVerifier implements Verifier
type fakeVerifier struct{}

func (f *fakeVerifier) Verify(ctx context.Context, raw string) (Token, error) {
	switch raw {
	case "goodtoken":
		return &fakeToken{data: map[string]interface{}{"sub": "alice"}}, nil
	case "nosub":
		return &fakeToken{data: map[string]interface{}{"iat": 1}}, nil
	}
	return nil, fmt.Errorf("signature is invalid")
}

func serve(t *testing.T, header string) *httptest.ResponseRecorder {
	t.Helper()
	g := gin.New()
	g.GET("/", AuthMiddleware(&fakeVerifier{}), func(c *gin.Context) {
		claims, ok := c.Get(ClaimsKey)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"claims": claims, "user": Username(c)})
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rw := httptest.NewRecorder()
	g.ServeHTTP(rw, req)
	return rw
}

func TestAuthMiddleware_NoHeader(t *testing.T) {
	rw := serve(t, "")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_InvalidHeader(t *testing.T) {
	rw := serve(t, "BadHeader")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	rw := serve(t, "Bearer goodtoken")
	require.Equal(t, http.StatusOK, rw.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rw.Body.Bytes(), &got))
	require.Contains(t, got, "claims")
	require.Equal(t, "alice", got["user"])
}

func TestAuthMiddleware_DoesNotLeakFailureCause(t *testing.T) {
	rw := serve(t, "Bearer forged")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
	require.NotContains(t, rw.Body.String(), "signature")
	require.JSONEq(t, `{"error":"invalid token"}`, rw.Body.String())
}

func TestAuthMiddleware_RejectsMissingSubject(t *testing.T) {
	rw := serve(t, "Bearer nosub")
	require.Equal(t, http.StatusUnauthorized, rw.Code)
}
