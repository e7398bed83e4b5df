package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klaragautier/microservices/internal/refreshtokens"
)

// ObjectStore is the subset of object storage the archive needs.
// *MinIOStorage satisfies it.
type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

const DefaultSnapshotKey = "refresh-tokens/snapshot.jsonl"

// SnapshotArchive writes the refresh-token log as JSON lines, one record per
// line in issue order, and reads it back.
type SnapshotArchive struct {
	store ObjectStore
	key   string
}

func NewSnapshotArchive(store ObjectStore, key string) *SnapshotArchive {
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SnapshotArchive{store: store, key: key}
}

func (a *SnapshotArchive) Key() string { return a.key }

// Save replaces the stored snapshot with recs.
func (a *SnapshotArchive) Save(ctx context.Context, recs []*refreshtokens.Record) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode record %s: %w", r.ID, err)
		}
	}
	if err := a.store.Put(ctx, a.key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}
	return nil
}

// Load reads the stored snapshot. A missing snapshot yields no records and no error.
func (a *SnapshotArchive) Load(ctx context.Context) ([]*refreshtokens.Record, error) {
	rc, err := a.store.Get(ctx, a.key)
	if errors.Is(err, ErrObjectNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("download snapshot: %w", err)
	}
	defer rc.Close()

	var out []*refreshtokens.Record
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var r refreshtokens.Record
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("decode snapshot line %d: %w", line, err)
		}
		out = append(out, &r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return out, nil
}
