package refreshtokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Rotation rejections. They stay distinct internally; the HTTP boundary
// collapses them into one unauthorized response.
var (
	ErrUnknownToken   = errors.New("unknown refresh token")
	ErrAlreadyRevoked = errors.New("refresh token already revoked")
	ErrExpired        = errors.New("refresh token expired")
	// ErrStorage wraps any failure of the backing repository.
	ErrStorage = errors.New("refresh token storage failure")
)

// Generator produces fresh refresh tokens. *tokens.Issuer satisfies it.
type Generator interface {
	IssueRefreshToken() (string, time.Time, error)
}

// Rotation is the result of a successful Rotate.
type Rotation struct {
	Username  string
	Token     string
	ExpiresAt time.Time
}

// Store is the single source of truth for refresh-token validity. Every
// operation runs under one store-wide mutex, so a rotate never observes or
// leaves an intermediate state visible to another call.
type Store struct {
	mu   sync.Mutex
	repo Repository
	gen  Generator
	now  func() time.Time
}

func NewStore(repo Repository, gen Generator) *Store {
	return &Store{repo: repo, gen: gen, now: time.Now}
}

// WithClock replaces the time source, used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// Append records a new active token for username.
func (s *Store) Append(ctx context.Context, username, token string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(ctx, username, token, expiresAt)
}

func (s *Store) append(ctx context.Context, username, token string, expiresAt time.Time) error {
	rec := &Record{
		ID:        uuid.NewString(),
		Token:     token,
		Username:  username,
		IssuedAt:  s.now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	if err := s.repo.Append(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicateToken) {
			return err
		}
		return storageErr("append", err)
	}
	return nil
}

// Find looks a token up across all users.
func (s *Store) Find(ctx context.Context, token string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(ctx, token)
}

func (s *Store) find(ctx context.Context, token string) (*Record, error) {
	rec, err := s.repo.Find(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUnknownToken
		}
		return nil, storageErr("find", err)
	}
	return rec, nil
}

// Revoke marks token revoked. Revoking an already revoked token succeeds
// without further effect.
func (s *Store) Revoke(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoke(ctx, token)
}

func (s *Store) revoke(ctx context.Context, token string) error {
	if err := s.repo.MarkRevoked(ctx, token, s.now().UTC()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrUnknownToken
		}
		return storageErr("revoke", err)
	}
	return nil
}

// Rotate validates token, revokes it and appends a freshly generated
// successor for the same user.
//
// If the append fails the old token stays revoked and the error wraps
// ErrStorage; the caller has to re-authenticate.
func (s *Store) Rotate(ctx context.Context, token string) (*Rotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.find(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.Revoked {
		return nil, ErrAlreadyRevoked
	}
	if !s.now().Before(rec.ExpiresAt) {
		return nil, ErrExpired
	}

	next, exp, err := s.gen.IssueRefreshToken()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	if err := s.revoke(ctx, token); err != nil {
		return nil, err
	}
	if err := s.append(ctx, rec.Username, next, exp); err != nil {
		return nil, fmt.Errorf("rotation incomplete, old token revoked: %w", err)
	}
	return &Rotation{Username: rec.Username, Token: next, ExpiresAt: exp.UTC()}, nil
}

// RevokeAll revokes every active record of username and reports how many
// were flipped.
func (s *Store) RevokeAll(ctx context.Context, username string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.repo.ListByUser(ctx, username)
	if err != nil {
		return 0, storageErr("list", err)
	}
	n := 0
	for _, r := range recs {
		if r.Revoked {
			continue
		}
		if err := s.revoke(ctx, r.Token); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// History returns the user's records in issue order.
func (s *Store) History(ctx context.Context, username string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.repo.ListByUser(ctx, username)
	if err != nil {
		return nil, storageErr("list", err)
	}
	return recs, nil
}

// Snapshot returns the full log.
func (s *Store) Snapshot(ctx context.Context) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs, err := s.repo.All(ctx)
	if err != nil {
		return nil, storageErr("snapshot", err)
	}
	return recs, nil
}

// Restore loads records into the repository as they are, revoked flags
// included. Tokens already present are skipped so a restore can be repeated.
func (s *Store) Restore(ctx context.Context, recs []*Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range recs {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if err := s.repo.Append(ctx, r); err != nil {
			if errors.Is(err, ErrDuplicateToken) {
				continue
			}
			return n, storageErr("restore", err)
		}
		n++
	}
	return n, nil
}

// Now exposes the store clock so callers compute derived states consistently.
func (s *Store) Now() time.Time { return s.now() }
