package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/klaragautier/microservices/internal/refreshtokens"
	"github.com/klaragautier/microservices/internal/sessions"
	"github.com/klaragautier/microservices/pkg/logger"
	"github.com/klaragautier/microservices/pkg/middleware"
)

// IdentityVerifier resolves an upstream ID token to a username.
// *oidc.Verifier satisfies it.
type IdentityVerifier interface {
	Username(ctx context.Context, rawIDToken string) (string, error)
}

// CredentialsRequest is accepted by register and login, as JSON or form data.
type CredentialsRequest struct {
	Username string `json:"username" form:"username"`
	Mode     string `json:"mode" form:"mode"` // "" | "oidc"
	IDToken  string `json:"id_token" form:"id_token"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token" binding:"required"`
}

type tokenResponse struct {
	User         string `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// AuthHandler holds dependencies
type AuthHandler struct {
	sessions *sessions.Service
	bearer   middleware.Verifier
	identity IdentityVerifier
}

// NewAuthHandler wires the session service. identity may be nil, in which case
// login mode "oidc" is rejected.
func NewAuthHandler(s *sessions.Service, bearer middleware.Verifier, identity IdentityVerifier) *AuthHandler {
	return &AuthHandler{sessions: s, bearer: bearer, identity: identity}
}

// Register routes under /auth
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	a.POST("/register", h.RegisterUser)
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.POST("/logout", h.Logout)

	authed := a.Group("", middleware.AuthMiddleware(h.bearer))
	authed.POST("/logout-all", h.LogoutAll)
	authed.GET("/verify", h.Verify)
	authed.GET("/sessions", h.Sessions)
}

func (h *AuthHandler) pairResponse(p *sessions.Pair) tokenResponse {
	return tokenResponse{
		User:         p.Username,
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		ExpiresIn:    int(h.sessions.AccessTTL() / time.Second),
	}
}

// writeError maps service errors to responses. Rotation rejections share one
// message so a client cannot tell unknown, revoked and expired tokens apart.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, sessions.ErrInvalidUsername):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, refreshtokens.ErrUnknownToken),
		errors.Is(err, refreshtokens.ErrAlreadyRevoked),
		errors.Is(err, refreshtokens.ErrExpired):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
	case errors.Is(err, refreshtokens.ErrStorage):
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token store unavailable"})
	default:
		logger.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// RegisterUser issues the first token pair for a freshly registered user.
// Credential storage lives in the user service.
func (h *AuthHandler) RegisterUser(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.issue(c, req.Username)
}

// Login issues a pair for a username verified upstream, or for the identity
// carried by an OIDC ID token when mode is "oidc".
func (h *AuthHandler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch strings.ToLower(req.Mode) {
	case "":
		h.issue(c, req.Username)
	case "oidc":
		if h.identity == nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "oidc login not configured"})
			return
		}
		if req.IDToken == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id_token required for oidc mode"})
			return
		}
		username, err := h.identity.Username(c.Request.Context(), req.IDToken)
		if err != nil {
			logger.Warnf("oidc login rejected: %v", err)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid id token"})
			return
		}
		h.issue(c, username)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported mode"})
	}
}

func (h *AuthHandler) issue(c *gin.Context, username string) {
	p, err := h.sessions.Issue(c.Request.Context(), username)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.pairResponse(p))
}

// Refresh exchanges a refresh token for a new pair; the presented token is
// revoked.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	p, err := h.sessions.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.pairResponse(p))
}

// Logout revokes the refresh token. Unknown tokens are reported as logged out.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	if err := h.sessions.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

func (h *AuthHandler) LogoutAll(c *gin.Context) {
	n, err := h.sessions.LogoutAll(c.Request.Context(), middleware.Username(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (h *AuthHandler) Verify(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": middleware.Username(c)})
}

func (h *AuthHandler) Sessions(c *gin.Context) {
	list, err := h.sessions.Sessions(c.Request.Context(), middleware.Username(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}
