package workload

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/boosty-org/assignment-engine/internal/domain"
)

const snapshotTTL = 10 * time.Minute

// RedisSnapshotCache mirrors workload snapshots into redis for the
// reporting side. Writes are best-effort.
type RedisSnapshotCache struct {
	client *redis.Client
}

// NewRedisSnapshotCache wraps the given client. A nil client yields a
// nil cache, which the tracker tolerates.
func NewRedisSnapshotCache(client *redis.Client) *RedisSnapshotCache {
	if client == nil {
		return nil
	}
	return &RedisSnapshotCache{client: client}
}

// Store writes the snapshot under workload:agent:<id> with a TTL.
func (c *RedisSnapshotCache) Store(ctx context.Context, snap domain.WorkloadSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, snapshotKey(snap.AgentID), payload, snapshotTTL).Err()
}

// Load reads a previously stored snapshot, redis.Nil when absent.
func (c *RedisSnapshotCache) Load(ctx context.Context, agentID string) (*domain.WorkloadSnapshot, error) {
	payload, err := c.client.Get(ctx, snapshotKey(agentID)).Bytes()
	if err != nil {
		return nil, err
	}
	var snap domain.WorkloadSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func snapshotKey(agentID string) string {
	return fmt.Sprintf("workload:agent:%s", agentID)
}
