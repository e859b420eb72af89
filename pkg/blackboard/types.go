package blackboard

import (
	"fmt"
	"time"
)

// Signal is the latest value published under a blackboard key.
// PublisherID is advisory: it records who wrote the value but no
// authorization is enforced on writes.
type Signal struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	PublisherID string `json:"publisher_id"`
	// LastUpdatedMs is the publish time in Unix milliseconds.
	LastUpdatedMs int64 `json:"last_updated_ms"`
}

// Validate checks that the signal carries the required fields.
func (s *Signal) Validate() error {
	if s.Key == "" {
		return fmt.Errorf("signal key cannot be empty")
	}
	if s.PublisherID == "" {
		return fmt.Errorf("signal publisher_id cannot be empty")
	}
	if s.LastUpdatedMs < 0 {
		return fmt.Errorf("signal last_updated_ms cannot be negative")
	}
	return nil
}

// LastUpdated returns the publish time as a time.Time.
func (s *Signal) LastUpdated() time.Time {
	return time.UnixMilli(s.LastUpdatedMs)
}
