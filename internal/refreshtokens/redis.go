package refreshtokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements Repository using Redis as the backing store.
// Layout (no TTLs, the log is an audit trail):
//
//	<prefix>token:<token>   hash with the record fields
//	<prefix>user:<username> list of tokens in issue order
//	<prefix>log             list of every token in issue order
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a Redis-based refresh token repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "refresh:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) tokenKey(token string) string { return r.prefix + "token:" + token }
func (r *RedisRepository) userKey(username string) string { return r.prefix + "user:" + username }
func (r *RedisRepository) logKey() string               { return r.prefix + "log" }

func encodeRecord(rec *Record) map[string]interface{} {
	revoked, revokedAt := "0", ""
	if rec.Revoked {
		revoked = "1"
		revokedAt = rec.RevokedAt.UTC().Format(time.RFC3339Nano)
	}
	return map[string]interface{}{
		"id":        rec.ID,
		"username":  rec.Username,
		"issuedAt":  rec.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expiresAt": rec.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"revoked":   revoked,
		"revokedAt": revokedAt,
	}
}

func decodeRecord(token string, h map[string]string) (*Record, error) {
	rec := &Record{
		ID:       h["id"],
		Token:    token,
		Username: h["username"],
		Revoked:  h["revoked"] == "1",
	}
	var err error
	if rec.IssuedAt, err = time.Parse(time.RFC3339Nano, h["issuedAt"]); err != nil {
		return nil, fmt.Errorf("decode issuedAt: %w", err)
	}
	if rec.ExpiresAt, err = time.Parse(time.RFC3339Nano, h["expiresAt"]); err != nil {
		return nil, fmt.Errorf("decode expiresAt: %w", err)
	}
	if v := h["revokedAt"]; v != "" {
		if rec.RevokedAt, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return nil, fmt.Errorf("decode revokedAt: %w", err)
		}
	}
	return rec, nil
}

func (r *RedisRepository) Append(ctx context.Context, rec *Record) error {
	key := r.tokenKey(rec.Token)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateToken
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, encodeRecord(rec))
			p.RPush(ctx, r.userKey(rec.Username), rec.Token)
			p.RPush(ctx, r.logKey(), rec.Token)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, ErrDuplicateToken) {
		return fmt.Errorf("append refresh token: %w", err)
	}
	return err
}

func (r *RedisRepository) Find(ctx context.Context, token string) (*Record, error) {
	h, err := r.client.HGetAll(ctx, r.tokenKey(token)).Result()
	if err != nil {
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if len(h) == 0 {
		return nil, ErrNotFound
	}
	return decodeRecord(token, h)
}

func (r *RedisRepository) MarkRevoked(ctx context.Context, token string, at time.Time) error {
	key := r.tokenKey(token)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		v, err := tx.HGet(ctx, key, "revoked").Result()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if v == "1" {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, "revoked", "1", "revokedAt", at.UTC().Format(time.RFC3339Nano))
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return err
}

func (r *RedisRepository) ListByUser(ctx context.Context, username string) ([]*Record, error) {
	return r.load(ctx, r.userKey(username))
}

func (r *RedisRepository) All(ctx context.Context) ([]*Record, error) {
	return r.load(ctx, r.logKey())
}

// load resolves a list of tokens into records with one pipelined round trip.
func (r *RedisRepository) load(ctx context.Context, listKey string) ([]*Record, error) {
	toks, err := r.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}
	if len(toks) == 0 {
		return []*Record{}, nil
	}
	cmds := make([]*redis.MapStringStringCmd, len(toks))
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, t := range toks {
			cmds[i] = p.HGetAll(ctx, r.tokenKey(t))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load refresh tokens: %w", err)
	}
	out := make([]*Record, 0, len(toks))
	for i, cmd := range cmds {
		h := cmd.Val()
		if len(h) == 0 {
			continue
		}
		rec, err := decodeRecord(toks[i], h)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
