package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/klaragautier/microservices/internal/refreshtokens"
	"github.com/klaragautier/microservices/internal/tokens"
	"github.com/klaragautier/microservices/pkg/logger"
	"github.com/klaragautier/microservices/pkg/metrics"
)

var ErrInvalidUsername = errors.New("username is required")

// Pair is what a client receives after login, registration or refresh.
type Pair struct {
	Username         string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// SessionInfo describes one refresh record for diagnostics. The token is
// reduced to a short prefix.
type SessionInfo struct {
	ID          string    `json:"id"`
	TokenPrefix string    `json:"token_prefix"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	State       string    `json:"state"`
}

type Options struct {
	// RevokeFamilyOnReuse revokes every active token of a user when one of
	// their revoked tokens is presented again.
	RevokeFamilyOnReuse bool
	Replay              ReplayTracker
}

// Service ties the issuer and the refresh-token store into the session flows.
type Service struct {
	issuer *tokens.Issuer
	store  *refreshtokens.Store
	replay ReplayTracker
	family bool
}

func NewService(issuer *tokens.Issuer, store *refreshtokens.Store, opts Options) *Service {
	replay := opts.Replay
	if replay == nil {
		replay = NoopReplayTracker{}
	}
	return &Service{issuer: issuer, store: store, replay: replay, family: opts.RevokeFamilyOnReuse}
}

// Issue creates a fresh access/refresh pair for a user whose credentials were
// verified elsewhere.
func (s *Service) Issue(ctx context.Context, username string) (*Pair, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	access, accessExp, err := s.issuer.IssueAccessToken(username)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshExp, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	if err := s.store.Append(ctx, username, refresh, refreshExp); err != nil {
		return nil, err
	}
	metrics.TokensIssued.WithLabelValues("access").Inc()
	metrics.TokensIssued.WithLabelValues("refresh").Inc()
	logger.Infow("session issued", "user", username, "refresh", logger.TokenPrefix(refresh))
	return &Pair{
		Username:         username,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func rotationResult(err error) string {
	switch {
	case err == nil:
		return "rotated"
	case errors.Is(err, refreshtokens.ErrUnknownToken):
		return "unknown"
	case errors.Is(err, refreshtokens.ErrAlreadyRevoked):
		return "revoked"
	case errors.Is(err, refreshtokens.ErrExpired):
		return "expired"
	case errors.Is(err, refreshtokens.ErrStorage):
		return "storage"
	default:
		return "error"
	}
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked whether or not the access token can be minted afterwards.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Pair, error) {
	rot, err := s.store.Rotate(ctx, refreshToken)
	metrics.RefreshRotations.WithLabelValues(rotationResult(err)).Inc()
	if err != nil {
		if errors.Is(err, refreshtokens.ErrAlreadyRevoked) {
			s.onReuse(ctx, refreshToken)
		} else {
			logger.Warnw("refresh rejected", "refresh", logger.TokenPrefix(refreshToken), "reason", err.Error())
		}
		return nil, err
	}

	access, accessExp, err := s.issuer.IssueAccessToken(rot.Username)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	metrics.TokensIssued.WithLabelValues("access").Inc()
	metrics.TokensIssued.WithLabelValues("refresh").Inc()
	logger.Debugf("refresh rotated for %s: %s -> %s", rot.Username, logger.TokenPrefix(refreshToken), logger.TokenPrefix(rot.Token))
	return &Pair{
		Username:         rot.Username,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     rot.Token,
		RefreshExpiresAt: rot.ExpiresAt,
	}, nil
}

// onReuse handles a revoked token being presented again. Failures here are
// logged only; the caller already gets a rejection.
func (s *Service) onReuse(ctx context.Context, refreshToken string) {
	metrics.RefreshReuseDetected.Inc()
	rec, err := s.store.Find(ctx, refreshToken)
	if err != nil {
		logger.Warnf("reuse lookup failed for %s: %v", logger.TokenPrefix(refreshToken), err)
		return
	}
	logger.Warnw("revoked refresh token presented", "user", rec.Username, "refresh", logger.TokenPrefix(refreshToken))
	if err := s.replay.RecordReuse(ctx, rec.Username); err != nil {
		logger.Warnf("record replay for %s: %v", rec.Username, err)
	}
	if !s.family {
		return
	}
	n, err := s.store.RevokeAll(ctx, rec.Username)
	if err != nil {
		logger.Errorf("revoke family of %s: %v", rec.Username, err)
		return
	}
	logger.Warnw("revoked token family after reuse", "user", rec.Username, "revoked", n)
}

// Logout revokes the refresh token. An unknown token is treated as already
// logged out.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	err := s.store.Revoke(ctx, refreshToken)
	if errors.Is(err, refreshtokens.ErrUnknownToken) {
		logger.Debugf("logout with unknown token %s", logger.TokenPrefix(refreshToken))
		return nil
	}
	return err
}

// LogoutAll revokes every active refresh token of username.
func (s *Service) LogoutAll(ctx context.Context, username string) (int, error) {
	n, err := s.store.RevokeAll(ctx, username)
	if err != nil {
		return n, err
	}
	logger.Infow("logged out everywhere", "user", username, "revoked", n)
	return n, nil
}

// Authenticate verifies an access token and returns its subject.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (string, error) {
	return s.issuer.VerifyAccessToken(accessToken)
}

func (s *Service) Sessions(ctx context.Context, username string) ([]SessionInfo, error) {
	recs, err := s.store.History(ctx, username)
	if err != nil {
		return nil, err
	}
	now := s.store.Now()
	out := make([]SessionInfo, 0, len(recs))
	for _, r := range recs {
		out = append(out, SessionInfo{
			ID:          r.ID,
			TokenPrefix: logger.TokenPrefix(r.Token),
			IssuedAt:    r.IssuedAt,
			ExpiresAt:   r.ExpiresAt,
			State:       string(r.State(now)),
		})
	}
	return out, nil
}

func (s *Service) AccessTTL() time.Duration { return s.issuer.AccessTTL() }

// ReuseCount reports how many replays were recorded for username.
func (s *Service) ReuseCount(ctx context.Context, username string) (int64, error) {
	return s.replay.ReuseCount(ctx, username)
}
