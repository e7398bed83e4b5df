package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/klaragautier/microservices/pkg/middleware"
)

var (
	// ErrInvalidToken covers every access-token rejection: bad signature,
	// unexpected algorithm, malformed input, expiry or missing subject.
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingSecret = errors.New("jwt secret is not configured")
	ErrInvalidTTL    = errors.New("token ttl must be positive")
)

// refreshTokenBytes gives 256 bits of entropy per refresh token.
const refreshTokenBytes = 32

// Issuer mints signed access tokens and opaque refresh tokens. It holds no
// mutable state besides its configuration and is safe for concurrent use.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer validates the signing configuration. Errors here are meant to be
// fatal at startup.
func NewIssuer(secret string, accessTTL, refreshTTL time.Duration) (*Issuer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, ErrInvalidTTL
	}
	return &Issuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}, nil
}

// WithClock replaces the time source, used by tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// IssueAccessToken creates a signed JWT access token for the user
func (i *Issuer) IssueAccessToken(username string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	// exp is encoded with second precision
	return signed, claims.ExpiresAt.Time, nil
}

// IssueRefreshToken generates an opaque URL-safe refresh token and its expiry.
// Persistence is the caller's job.
func (i *Issuer) IssueRefreshToken() (string, time.Time, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", time.Time{}, fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), i.now().UTC().Add(i.refreshTTL), nil
}

func (i *Issuer) parse(raw string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyAccessToken returns the subject of a valid access token. The cause of
// a rejection is deliberately not exposed.
func (i *Issuer) VerifyAccessToken(raw string) (string, error) {
	claims, err := i.parse(raw)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// verifiedToken exposes registered claims through the middleware.Token interface.
type verifiedToken struct {
	claims *jwt.RegisteredClaims
}

func (t *verifiedToken) Claims(v interface{}) error {
	b, err := json.Marshal(t.claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Verify lets the issuer back middleware.AuthMiddleware.
func (i *Issuer) Verify(ctx context.Context, raw string) (middleware.Token, error) {
	claims, err := i.parse(raw)
	if err != nil {
		return nil, err
	}
	return &verifiedToken{claims: claims}, nil
}
