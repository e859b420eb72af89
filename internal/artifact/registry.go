package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Registry provides instance-scoped Redis operations for artifacts.
// Thread-safe; the dedup index is claimed atomically so concurrent
// registrations of the same content converge on one artifact id.
type Registry struct {
	rdb          *redis.Client
	instanceName string
}

// NewRegistry creates an artifact registry for the specified instance.
func NewRegistry(redisOpts *redis.Options, instanceName string) (*Registry, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Registry{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
func (r *Registry) Close() error {
	return r.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (r *Registry) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Register stores an artifact and its index entries. When the artifact
// carries a content hash that an earlier artifact already claimed, the
// earlier artifact's id is returned with deduped=true and no new entry is
// created; the caller's record may be discarded.
func (r *Registry) Register(ctx context.Context, a *Artifact) (id string, deduped bool, err error) {
	if err := a.Validate(); err != nil {
		return "", false, fmt.Errorf("invalid artifact: %w", err)
	}

	if a.ContentHash != "" {
		// HSetNX atomically claims the hash; losing the race means a prior
		// artifact with the same content already exists.
		claimed, err := r.rdb.HSetNX(ctx, DedupKey(r.instanceName), a.ContentHash, a.ID).Result()
		if err != nil {
			return "", false, fmt.Errorf("failed to claim content hash: %w", err)
		}
		if !claimed {
			existingID, err := r.rdb.HGet(ctx, DedupKey(r.instanceName), a.ContentHash).Result()
			if err != nil {
				return "", false, fmt.Errorf("failed to resolve deduplicated artifact: %w", err)
			}
			return existingID, true, nil
		}
	}

	hash, err := toHash(a)
	if err != nil {
		return "", false, fmt.Errorf("failed to serialize artifact: %w", err)
	}
	if err := r.rdb.HSet(ctx, Key(r.instanceName, a.ID), hash).Err(); err != nil {
		return "", false, fmt.Errorf("failed to write artifact to Redis: %w", err)
	}

	if err := r.rdb.SAdd(ctx, ByTaskKey(r.instanceName, a.Provenance.TaskID), a.ID).Err(); err != nil {
		return "", false, fmt.Errorf("failed to index artifact by task: %w", err)
	}
	if err := r.rdb.SAdd(ctx, ByTypeKey(r.instanceName, a.Type), a.ID).Err(); err != nil {
		return "", false, fmt.Errorf("failed to index artifact by type: %w", err)
	}

	return a.ID, false, nil
}

// Get retrieves an artifact by id.
// Returns (nil, redis.Nil) if the artifact doesn't exist.
// Use IsNotFound() to check for not-found errors.
func (r *Registry) Get(ctx context.Context, artifactID string) (*Artifact, error) {
	hashData, err := r.rdb.HGetAll(ctx, Key(r.instanceName, artifactID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact from Redis: %w", err)
	}
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	artifact, err := fromHash(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize artifact: %w", err)
	}
	return artifact, nil
}

// ListByTask returns the artifacts produced by one task, sorted by id.
func (r *Registry) ListByTask(ctx context.Context, taskID string) ([]*Artifact, error) {
	return r.listFromSet(ctx, ByTaskKey(r.instanceName, taskID))
}

// ListByType returns the artifacts of one type, sorted by id.
func (r *Registry) ListByType(ctx context.Context, artifactType string) ([]*Artifact, error) {
	return r.listFromSet(ctx, ByTypeKey(r.instanceName, artifactType))
}

func (r *Registry) listFromSet(ctx context.Context, setKey string) ([]*Artifact, error) {
	ids, err := r.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact index: %w", err)
	}

	artifacts := make([]*Artifact, 0, len(ids))
	for _, id := range ids {
		artifact, err := r.Get(ctx, id)
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].ID < artifacts[j].ID })
	return artifacts, nil
}

// ListAll returns every artifact in the instance, sorted by id. Uses SCAN
// rather than KEYS so large registries do not block Redis. Intended for the
// CLI; the daemon always goes through the indexes.
func (r *Registry) ListAll(ctx context.Context) ([]*Artifact, error) {
	pattern := fmt.Sprintf("warren:%s:artifact:*", r.instanceName)

	var artifacts []*Artifact
	var cursor uint64
	for {
		keys, nextCursor, err := r.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifacts: %w", err)
		}

		for _, key := range keys {
			hashData, err := r.rdb.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to read artifact %s: %w", key, err)
			}
			if len(hashData) == 0 {
				continue
			}
			artifact, err := fromHash(hashData)
			if err != nil {
				return nil, fmt.Errorf("failed to deserialize artifact %s: %w", key, err)
			}
			artifacts = append(artifacts, artifact)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].ID < artifacts[j].ID })
	return artifacts, nil
}

// UpdateValidation appends a validator result to an artifact's validator
// list. Read-modify-write is safe here: validation updates for one artifact
// come from a single validator pipeline.
func (r *Registry) UpdateValidation(ctx context.Context, artifactID string, result ValidatorResult) error {
	artifact, err := r.Get(ctx, artifactID)
	if err != nil {
		return fmt.Errorf("failed to load artifact for validation update: %w", err)
	}

	if result.CheckedAtMs == 0 {
		result.CheckedAtMs = time.Now().UnixMilli()
	}
	artifact.Validators = append(artifact.Validators, result)

	validatorsJSON, err := json.Marshal(artifact.Validators)
	if err != nil {
		return fmt.Errorf("failed to marshal validators: %w", err)
	}
	if err := r.rdb.HSet(ctx, Key(r.instanceName, artifactID), "validators", string(validatorsJSON)).Err(); err != nil {
		return fmt.Errorf("failed to write validators to Redis: %w", err)
	}
	return nil
}

// Bless publishes the artifact to the instance's artifact events channel,
// notifying subscribers that it is ready for consumption.
func (r *Registry) Bless(ctx context.Context, artifactID string) error {
	artifact, err := r.Get(ctx, artifactID)
	if err != nil {
		return fmt.Errorf("failed to load artifact for blessing: %w", err)
	}

	artifactJSON, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact for event: %w", err)
	}
	if err := r.rdb.Publish(ctx, EventsChannel(r.instanceName), artifactJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish artifact event: %w", err)
	}
	return nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
