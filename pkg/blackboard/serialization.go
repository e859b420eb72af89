package blackboard

import (
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Signal values are
// opaque strings (callers JSON-encode structured payloads themselves), so no
// field needs nested encoding here.

// SignalToHash converts a Signal to Redis hash format.
func SignalToHash(s *Signal) map[string]interface{} {
	return map[string]interface{}{
		"key":             s.Key,
		"value":           s.Value,
		"publisher_id":    s.PublisherID,
		"last_updated_ms": s.LastUpdatedMs,
	}
}

// HashToSignal converts a Redis hash back to a Signal.
func HashToSignal(hash map[string]string) (*Signal, error) {
	lastUpdated, err := strconv.ParseInt(hash["last_updated_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid last_updated_ms field: %w", err)
	}

	return &Signal{
		Key:           hash["key"],
		Value:         hash["value"],
		PublisherID:   hash["publisher_id"],
		LastUpdatedMs: lastUpdated,
	}, nil
}
