package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voyra/relay/pkg/schema"
)

// snapshotKeyPrefix namespaces paused-run snapshots in Redis.
const snapshotKeyPrefix = "relay:snapshot:"

// RedisSnapshotStore implements SnapshotStore on Redis, for deployments
// that keep paused-run state out of the relational store. Each snapshot
// lives under its own key, so save/load/delete for distinct run IDs never
// contend.
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshotStore creates a store backed by the given Redis client.
// ttl of 0 means snapshots never expire; a paused run can be resumed
// arbitrarily later.
func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, ttl: ttl}
}

func snapshotKey(runID string) string {
	return snapshotKeyPrefix + runID
}

func (s *RedisSnapshotStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "marshal snapshot: %s", err.Error()).WithCause(err)
	}
	if err := s.client.Set(ctx, snapshotKey(snap.RunID), data, s.ttl).Err(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "save snapshot: %s", err.Error()).WithCause(err)
	}
	return nil
}

func (s *RedisSnapshotStore) LoadSnapshot(ctx context.Context, runID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, snapshotKey(runID)).Bytes()
	if err == redis.Nil {
		return nil, storeNotFound("snapshot", runID)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load snapshot: %s", err.Error()).WithCause(err)
	}
	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode snapshot %s: %s", runID, err.Error()).WithCause(err)
	}
	return snap, nil
}

func (s *RedisSnapshotStore) DeleteSnapshot(ctx context.Context, runID string) error {
	// DEL on a missing key is a no-op, which gives us idempotent delete.
	if err := s.client.Del(ctx, snapshotKey(runID)).Err(); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "delete snapshot: %s", err.Error()).WithCause(err)
	}
	return nil
}
