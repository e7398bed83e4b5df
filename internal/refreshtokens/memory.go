package refreshtokens

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps the log in process memory. It is used for tests and
// for the memory backend, where durability comes from snapshots.
type MemoryRepository struct {
	mu      sync.RWMutex
	byToken map[string]*Record
	byUser  map[string][]*Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byToken: make(map[string]*Record),
		byUser:  make(map[string][]*Record),
	}
}

func (m *MemoryRepository) Append(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byToken[rec.Token]; ok {
		return ErrDuplicateToken
	}
	c := rec.clone()
	m.byToken[c.Token] = c
	m.byUser[c.Username] = append(m.byUser[c.Username], c)
	return nil
}

func (m *MemoryRepository) Find(ctx context.Context, token string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.byToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	return r.clone(), nil
}

func (m *MemoryRepository) MarkRevoked(ctx context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byToken[token]
	if !ok {
		return ErrNotFound
	}
	if !r.Revoked {
		r.Revoked = true
		r.RevokedAt = at
	}
	return nil
}

func (m *MemoryRepository) ListByUser(ctx context.Context, username string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.byUser[username]
	out := make([]*Record, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.clone())
	}
	return out, nil
}

func (m *MemoryRepository) All(ctx context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.byToken))
	for _, recs := range m.byUser {
		for _, r := range recs {
			out = append(out, r.clone())
		}
	}
	sortByIssue(out)
	return out, nil
}

func sortByIssue(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].IssuedAt.Equal(recs[j].IssuedAt) {
			return recs[i].Username < recs[j].Username
		}
		return recs[i].IssuedAt.Before(recs[j].IssuedAt)
	})
}
