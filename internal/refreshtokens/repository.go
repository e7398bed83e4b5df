package refreshtokens

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("refresh token record not found")
	ErrDuplicateToken = errors.New("refresh token already recorded")
)

// Repository is the durable append-only log behind a Store. Implementations
// must make each single-record write atomic; multi-step sequences are
// serialized by the Store.
type Repository interface {
	// Append stores rec as given. It fails with ErrDuplicateToken when the
	// token string is already present for any user.
	Append(ctx context.Context, rec *Record) error
	// Find returns the record for token or ErrNotFound.
	Find(ctx context.Context, token string) (*Record, error)
	// MarkRevoked flips the revoked flag. Already revoked records are left
	// untouched. Missing tokens yield ErrNotFound.
	MarkRevoked(ctx context.Context, token string, at time.Time) error
	// ListByUser returns the user's records in issue order.
	ListByUser(ctx context.Context, username string) ([]*Record, error)
	// All returns every record, used for snapshots.
	All(ctx context.Context) ([]*Record, error)
}
