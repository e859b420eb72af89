package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client provides instance-scoped Redis operations for the signal board.
// All keys and channels are automatically namespaced with the instance name.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates a blackboard client for the specified instance.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - instanceName: Warren instance identifier (must not be empty)
//
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Publish overwrites the signal stored under key and fans the new value out
// to the key's subscribers and to the instance broadcast channel.
//
// publisherID is recorded but not authorized: any client may write any key.
// The stored hash lives at warren:{instance}:signal:{key}.
func (c *Client) Publish(ctx context.Context, key, value, publisherID string) error {
	signal := &Signal{
		Key:           key,
		Value:         value,
		PublisherID:   publisherID,
		LastUpdatedMs: time.Now().UnixMilli(),
	}
	if err := signal.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}

	redisKey := SignalKey(c.instanceName, key)
	if err := c.rdb.HSet(ctx, redisKey, SignalToHash(signal)).Err(); err != nil {
		return fmt.Errorf("failed to write signal to Redis: %w", err)
	}

	signalJSON, err := json.Marshal(signal)
	if err != nil {
		return fmt.Errorf("failed to marshal signal for event: %w", err)
	}

	if err := c.rdb.Publish(ctx, SignalEventsChannel(c.instanceName, key), signalJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish signal event: %w", err)
	}
	if err := c.rdb.Publish(ctx, BroadcastChannel(c.instanceName), signalJSON).Err(); err != nil {
		return fmt.Errorf("failed to publish broadcast event: %w", err)
	}

	return nil
}

// Get retrieves the current signal under key.
// Returns (nil, redis.Nil) if no value has been published.
// Use IsNotFound() to check for not-found errors.
func (c *Client) Get(ctx context.Context, key string) (*Signal, error) {
	redisKey := SignalKey(c.instanceName, key)

	hashData, err := c.rdb.HGetAll(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read signal from Redis: %w", err)
	}

	// HGetAll returns an empty map for non-existent keys.
	if len(hashData) == 0 {
		return nil, redis.Nil
	}

	signal, err := HashToSignal(hashData)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize signal: %w", err)
	}

	return signal, nil
}

// ListSignals returns every signal whose key starts with prefix, sorted by
// key. An empty prefix lists all signals for the instance. Uses SCAN rather
// than KEYS so large boards do not block Redis.
func (c *Client) ListSignals(ctx context.Context, prefix string) ([]*Signal, error) {
	pattern := SignalKeyPattern(c.instanceName, prefix)
	strip := signalKeyPrefix(c.instanceName)

	var signals []*Signal
	var cursor uint64
	for {
		keys, nextCursor, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan signals: %w", err)
		}

		for _, redisKey := range keys {
			hashData, err := c.rdb.HGetAll(ctx, redisKey).Result()
			if err != nil {
				return nil, fmt.Errorf("failed to read signal %s: %w", redisKey, err)
			}
			// Key deleted between SCAN and HGetAll.
			if len(hashData) == 0 {
				continue
			}
			signal, err := HashToSignal(hashData)
			if err != nil {
				return nil, fmt.Errorf("failed to deserialize signal %s: %w", redisKey, err)
			}
			// Stored key field wins; fall back to stripping the namespace.
			if signal.Key == "" && len(redisKey) > len(strip) {
				signal.Key = redisKey[len(strip):]
			}
			signals = append(signals, signal)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	sort.Slice(signals, func(i, j int) bool { return signals[i].Key < signals[j].Key })
	return signals, nil
}

// Subscription represents an active Pub/Sub subscription to signal updates.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan *Signal
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of signal updates.
// The channel is closed when the subscription is closed or the context is cancelled.
func (s *Subscription) Events() <-chan *Signal {
	return s.events
}

// Errors returns the channel of subscription errors.
// Errors include JSON unmarshaling failures and other non-fatal issues.
// The subscription continues after errors - messages are skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription and cleans up resources. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe subscribes to updates of one signal key. If a value is already
// published under the key it is delivered first, before any update that
// arrives after the subscription was established.
//
// Events are delivered on a buffered channel (size 10) to prevent blocking.
// If the subscriber is too slow, events may be dropped by Redis Pub/Sub
// (at-most-once delivery). Caller must call subscription.Close() when done;
// context cancellation also stops the subscription.
func (c *Client) Subscribe(ctx context.Context, key string) (*Subscription, error) {
	// Subscribe before reading the current value so no update published in
	// between is lost; a duplicate of the current value is possible instead,
	// which last-value consumers tolerate.
	pubsub := c.rdb.Subscribe(ctx, SignalEventsChannel(c.instanceName, key))

	current, err := c.Get(ctx, key)
	if err != nil && !IsNotFound(err) {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to read current signal value: %w", err)
	}

	return c.newSubscription(ctx, pubsub, current), nil
}

// SubscribeBroadcast subscribes to every signal published in the instance.
// No current values are pre-delivered; use ListSignals for a snapshot.
func (c *Client) SubscribeBroadcast(ctx context.Context) (*Subscription, error) {
	pubsub := c.rdb.Subscribe(ctx, BroadcastChannel(c.instanceName))
	return c.newSubscription(ctx, pubsub, nil), nil
}

func (c *Client) newSubscription(ctx context.Context, pubsub *redis.PubSub, initial *Signal) *Subscription {
	eventsChan := make(chan *Signal, 10)
	errorsChan := make(chan error, 10)
	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(eventsChan)
		defer close(errorsChan)
		defer pubsub.Close()

		if initial != nil {
			select {
			case eventsChan <- initial:
			case <-subCtx.Done():
				return
			}
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}

				var signal Signal
				if err := json.Unmarshal([]byte(msg.Payload), &signal); err != nil {
					select {
					case errorsChan <- fmt.Errorf("failed to unmarshal signal event: %w", err):
					case <-subCtx.Done():
						return
					}
					continue
				}

				select {
				case eventsChan <- &signal:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{
		events: eventsChan,
		errors: errorsChan,
		cancel: cancelFunc,
	}
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
// Use this to check if Get returned "not found".
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
