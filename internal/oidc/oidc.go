package oidc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

var ErrNoIdentity = errors.New("id token carries no usable identity")

// IDToken is a minimal interface for token payloads that allows extracting claims
// It is satisfied by *oidc.IDToken and by test fakes.
type IDToken interface {
	Claims(v interface{}) error
}

// TokenVerifier verifies a raw ID token. *oidc.IDTokenVerifier is adapted to it
// by NewVerifier; tests plug in fakes.
type TokenVerifier func(ctx context.Context, raw string) (IDToken, error)

// Verifier turns an upstream ID token into the username tokens are issued for.
type Verifier struct {
	verify TokenVerifier
}

// NewVerifier discovers the provider at issuer and verifies tokens for clientID.
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	v := provider.Verifier(&oidc.Config{ClientID: clientID})
	return NewVerifierFunc(func(ctx context.Context, raw string) (IDToken, error) {
		tok, err := v.Verify(ctx, raw)
		if err != nil {
			return nil, err
		}
		return tok, nil
	}), nil
}

func NewVerifierFunc(fn TokenVerifier) *Verifier {
	return &Verifier{verify: fn}
}

type identityClaims struct {
	Subject           string `json:"sub"`
	PreferredUsername string `json:"preferred_username"`
	Email             string `json:"email"`
}

// Username verifies raw and returns preferred_username, falling back to email
// and then sub.
func (v *Verifier) Username(ctx context.Context, raw string) (string, error) {
	tok, err := v.verify(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("verify id token: %w", err)
	}
	var c identityClaims
	if err := tok.Claims(&c); err != nil {
		return "", fmt.Errorf("decode id token claims: %w", err)
	}
	for _, s := range []string{c.PreferredUsername, c.Email, c.Subject} {
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	}
	return "", ErrNoIdentity
}
