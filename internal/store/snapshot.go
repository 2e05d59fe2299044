// Package store is the agent's bounded local persistence: one record per
// snapshot kind, upserted in place. Storage use is constant regardless of
// how often reconciliation runs, which matters on SD-card class media.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

// Kind names a snapshot slot. Exactly one record exists per kind.
type Kind string

const (
	// KindTarget caches the last adopted target state across restarts.
	KindTarget Kind = "target"
	// KindCurrent caches the last observed current state as a cold-start
	// hint; the runtime remains the source of truth.
	KindCurrent Kind = "current"
)

var bucketSnapshots = []byte("snapshots")

const dbFileName = "edge-agent.db"

// Snapshot is the persisted record for one kind.
type Snapshot struct {
	StateJSON json.RawMessage `json:"state"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SnapshotStore persists snapshots in a local bbolt database. Writes are
// suppressed when the payload hash matches the last written one, so steady
// state produces no disk I/O at all.
type SnapshotStore struct {
	db     *bolt.DB
	logger zerolog.Logger

	mu         sync.Mutex
	lastHashes map[Kind]string
}

// Open creates or opens the snapshot database under dataDir.
func Open(dataDir string, logger zerolog.Logger) (*SnapshotStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dataDir, dbFileName), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSnapshots)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create snapshot bucket: %w", err)
	}

	return &SnapshotStore{
		db:         db,
		logger:     logger,
		lastHashes: make(map[Kind]string),
	}, nil
}

// Save upserts the payload under its kind. Unchanged payloads are a no-op;
// the returned flag reports whether a write actually happened.
func (s *SnapshotStore) Save(ctx context.Context, kind Kind, payload []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	hash := hashPayload(payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastHashes[kind] == hash {
		return false, nil
	}

	record := Snapshot{
		StateJSON: json.RawMessage(payload),
		UpdatedAt: time.Now().UTC(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("encode %s snapshot: %w", kind, err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put([]byte(kind), encoded)
	})
	if err != nil {
		return false, fmt.Errorf("write %s snapshot: %w", kind, err)
	}

	s.lastHashes[kind] = hash
	s.logger.Debug().Str("kind", string(kind)).Int("bytes", len(payload)).Msg("snapshot written")
	return true, nil
}

// Load returns the stored snapshot for the kind, or ok=false when none
// exists. A successful load primes the change detector so an identical
// Save after restart stays a no-op.
func (s *SnapshotStore) Load(ctx context.Context, kind Kind) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	var encoded []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketSnapshots).Get([]byte(kind))
		if value != nil {
			encoded = append([]byte(nil), value...)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read %s snapshot: %w", kind, err)
	}
	if encoded == nil {
		return Snapshot{}, false, nil
	}

	var record Snapshot
	if err := json.Unmarshal(encoded, &record); err != nil {
		s.logger.Warn().Str("kind", string(kind)).Err(err).Msg("snapshot corrupt, ignoring")
		return Snapshot{}, false, nil
	}

	s.mu.Lock()
	s.lastHashes[kind] = hashPayload(record.StateJSON)
	s.mu.Unlock()

	return record, true, nil
}

// Count returns the number of stored snapshot records.
func (s *SnapshotStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(_, _ []byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// Close closes the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

func hashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
