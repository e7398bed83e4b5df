package tokens

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-32-bytes-should-be-long-enough"

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestIssuer(t *testing.T) (*Issuer, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	iss, err := NewIssuer(testSecret, 15*time.Minute, 7*24*time.Hour)
	require.NoError(t, err)
	return iss.WithClock(clk.Now), clk
}

func TestNewIssuer_Misconfiguration(t *testing.T) {
	_, err := NewIssuer("", time.Minute, time.Hour)
	require.ErrorIs(t, err, ErrMissingSecret)
	_, err = NewIssuer("s", 0, time.Hour)
	require.ErrorIs(t, err, ErrInvalidTTL)
	_, err = NewIssuer("s", time.Minute, -time.Hour)
	require.ErrorIs(t, err, ErrInvalidTTL)
}

func TestIssueThenVerify_RoundTrip(t *testing.T) {
	iss, _ := newTestIssuer(t)
	for _, u := range []string{"alice", "bob", "user with spaces", "émile"} {
		tok, exp, err := iss.IssueAccessToken(u)
		require.NoError(t, err)
		require.False(t, exp.IsZero())

		got, err := iss.VerifyAccessToken(tok)
		require.NoError(t, err)
		require.Equal(t, u, got)
	}
}

func TestIssueAccessToken_Claims(t *testing.T) {
	iss, clk := newTestIssuer(t)
	tok, exp, err := iss.IssueAccessToken("alice")
	require.NoError(t, err)
	require.Equal(t, clk.Now().Add(15*time.Minute), exp)

	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(tok, claims)
	require.NoError(t, err)
	require.Equal(t, "alice", claims["sub"])
	require.EqualValues(t, clk.Now().Unix(), claims["iat"])
	require.EqualValues(t, exp.Unix(), claims["exp"])
	require.NotEmpty(t, claims["jti"])
}

func TestVerifyAccessToken_Expired(t *testing.T) {
	iss, clk := newTestIssuer(t)
	tok, _, err := iss.IssueAccessToken("alice")
	require.NoError(t, err)

	clk.Advance(15*time.Minute - time.Second)
	_, err = iss.VerifyAccessToken(tok)
	require.NoError(t, err)

	// now == exp is already expired
	clk.Advance(time.Second)
	_, err = iss.VerifyAccessToken(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAccessToken_WrongSecretFails(t *testing.T) {
	iss, _ := newTestIssuer(t)
	tok, _, err := iss.IssueAccessToken("alice")
	require.NoError(t, err)

	other, err := NewIssuer("different-secret-xxxxxxxxxxxxxxxx", time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = other.VerifyAccessToken(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAccessToken_Malformed(t *testing.T) {
	iss, _ := newTestIssuer(t)
	for _, raw := range []string{"", "not.a.jwt", "abc", "a.b.c.d"} {
		_, err := iss.VerifyAccessToken(raw)
		require.ErrorIs(t, err, ErrInvalidToken, raw)
	}
}

// Rejected when alg=none (unsigned token)
func TestVerifyAccessToken_AlgNoneRejected(t *testing.T) {
	iss, _ := newTestIssuer(t)
	headerEnc := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payloadEnc := base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"mallory","exp":9999999999}`))
	_, err := iss.VerifyAccessToken(headerEnc + "." + payloadEnc + ".")
	require.ErrorIs(t, err, ErrInvalidToken)
}

// Tampering with payload must fail signature verification
func TestVerifyAccessToken_TamperedPayload(t *testing.T) {
	iss, _ := newTestIssuer(t)
	tok, _, err := iss.IssueAccessToken("user-t")
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	parts[1] = base64.RawURLEncoding.EncodeToString([]byte(strings.Replace(string(payload), "user-t", "attacker", 1)))

	_, err = iss.VerifyAccessToken(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyAccessToken_MissingSubject(t *testing.T) {
	iss, clk := newTestIssuer(t)
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(clk.Now().Add(time.Hour))}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = iss.VerifyAccessToken(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRefreshToken_EntropyAndEncoding(t *testing.T) {
	iss, clk := newTestIssuer(t)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		tok, exp, err := iss.IssueRefreshToken()
		require.NoError(t, err)
		require.Equal(t, clk.Now().Add(7*24*time.Hour), exp)

		raw, err := base64.RawURLEncoding.DecodeString(tok)
		require.NoError(t, err, "token must be URL-safe base64")
		require.GreaterOrEqual(t, len(raw)*8, 256)
		require.False(t, seen[tok], "refresh token repeated")
		seen[tok] = true
	}
}

func TestVerify_ExposesClaimsForMiddleware(t *testing.T) {
	iss, _ := newTestIssuer(t)
	tok, _, err := iss.IssueAccessToken("alice")
	require.NoError(t, err)

	vt, err := iss.Verify(context.Background(), tok)
	require.NoError(t, err)
	var claims map[string]interface{}
	require.NoError(t, vt.Claims(&claims))
	require.Equal(t, "alice", claims["sub"])

	_, err = iss.Verify(context.Background(), "garbage")
	require.ErrorIs(t, err, ErrInvalidToken)
}
