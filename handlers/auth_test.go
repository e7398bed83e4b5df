package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaragautier/microservices/internal/refreshtokens"
	"github.com/klaragautier/microservices/internal/sessions"
	"github.com/klaragautier/microservices/internal/tokens"
	"github.com/klaragautier/microservices/pkg/middleware"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeIdentity struct{}

func (fakeIdentity) Username(ctx context.Context, raw string) (string, error) {
	if raw == "good-id-token" {
		return "oidc-user", nil
	}
	return "", errors.New("bad signature")
}

// brokenRepo fails every write
type brokenRepo struct{ *refreshtokens.MemoryRepository }

func (brokenRepo) Append(context.Context, *refreshtokens.Record) error {
	return errors.New("connection refused")
}

func newRouter(t *testing.T, repo refreshtokens.Repository) *gin.Engine {
	t.Helper()
	iss, err := tokens.NewIssuer("handler-test-secret", 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	store := refreshtokens.NewStore(repo, iss)
	svc := sessions.NewService(iss, store, sessions.Options{})
	h := NewAuthHandler(svc, iss, fakeIdentity{})

	r := gin.New()
	r.Use(middleware.CORS())
	h.Register(r.Group("/"))
	return r
}

func doJSON(r *gin.Engine, method, path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	return got
}

func login(t *testing.T, r *gin.Engine, user string) (access, refresh string) {
	t.Helper()
	w := doJSON(r, http.MethodPost, "/auth/login", `{"username":"`+user+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode(t, w)
	return got["access_token"].(string), got["refresh_token"].(string)
}

func TestLogin_IssuesPair(t *testing.T) {
	r := newRouter(t, refreshtokens.NewMemoryRepository())
	w := doJSON(r, http.MethodPost, "/auth/login", `{"username":"alice"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)
	assert.Equal(t, "alice", got["user"])
	assert.NotEmpty(t, got["access_token"])
	assert.NotEmpty(t, got["refresh_token"])
	assert.EqualValues(t, 900, got["expires_in"])
}

func TestRegister_FormBody(t *testing.T) {
	r := newRouter(t, refreshtokens.NewMemoryRepository())
	form := url.Values{"username": {"bob"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "bob", decode(t, w)["user"])
}

func TestLogin_MissingUsername(t *testing.T) {
	r := newRouter(t, refreshtokens.NewMemoryRepository())
	w := doJSON(r, http.MethodPost, "/auth/login", `{"username":""}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_OIDC(t *testing.T) {
	r := newRouter(t, refreshtokens.NewMemoryRepository())

	w := doJSON(r, http.MethodPost, "/auth/login", `{"mode":"oidc","id_token":"good-id-token"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "oidc-user", decode(t, w)["user"])

	w = doJSON(r, http.MethodPost, "/auth/login", `{"mode":"oidc","id_token":"forged"}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid id token", decode(t, w)["error"])

	w = doJSON(r, http.MethodPost, "/auth/login", `{"mode":"oidc"}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/login", `{"mode":"password","username":"x"}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefresh_RotationAndUniformRejection(t *testing.T) {
	r := newRouter(t, refreshtokens.NewMemoryRepository())
	_, refresh := login(t, r, "alice")

	w := doJSON(r, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	next := decode(t, w)["refresh_token"].(string)
	require.NotEqual(t, refresh, next)

	// reused and never-issued tokens get the same answer
	reused := doJSON(r, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	unknown := doJSON(r, http.MethodPost, "/auth/refresh", `{"refresh_token":"nope"}`, "")
	require.Equal(t, http.StatusUnauthorized, reused.Code)
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, reused.Body.String(), unknown.Body.String())

	w = doJSON(r, http.MethodPost, "/auth/refresh", `{}`, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefresh_StorageFailureIs503(t *testing.T) {
	r := newRouter(t, brokenRepo{refreshtokens.NewMemoryRepository()})
	w := doJSON(r, http.MethodPost, "/auth/login", `{"username":"alice"}`, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestLogout(t *testing.T) {
	r := newRouter(t, refreshtokens.NewMemoryRepository())
	_, refresh := login(t, r, "alice")

	w := doJSON(r, http.MethodPost, "/auth/logout", `{"refresh_token":"`+refresh+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(r, http.MethodPost, "/auth/logout", `{"refresh_token":"never-issued"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+refresh+`"}`, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerifyAndSessions(t *testing.T) {
	r := newRouter(t, refreshtokens.NewMemoryRepository())
	access, refresh := login(t, r, "alice")

	w := doJSON(r, http.MethodGet, "/auth/verify", "", access)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode(t, w)["user"])

	w = doJSON(r, http.MethodGet, "/auth/verify", "", access+"x")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "invalid token", decode(t, w)["error"])

	w = doJSON(r, http.MethodGet, "/auth/sessions", "", access)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), refresh)
	var body struct {
		Sessions []sessions.SessionInfo `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Sessions, 1)
	require.Equal(t, "active", body.Sessions[0].State)
}

func TestLogoutAll(t *testing.T) {
	r := newRouter(t, refreshtokens.NewMemoryRepository())
	access, r1 := login(t, r, "alice")
	_, r2 := login(t, r, "alice")

	w := doJSON(r, http.MethodPost, "/auth/logout-all", "", access)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["revoked"])

	for _, tok := range []string{r1, r2} {
		w = doJSON(r, http.MethodPost, "/auth/refresh", `{"refresh_token":"`+tok+`"}`, "")
		require.Equal(t, http.StatusUnauthorized, w.Code)
	}

	w = doJSON(r, http.MethodPost, "/auth/logout-all", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter(t, refreshtokens.NewMemoryRepository())
	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
