// Package artifact implements Warren's content-hash-deduplicated artifact
// registry. Artifacts are immutable references to produced outputs with full
// provenance; validator results accumulate on them after creation.
package artifact

import (
	"fmt"
	"time"
)

// Provenance records where an artifact came from.
type Provenance struct {
	TaskID           string   `json:"task_id"`
	AgentID          string   `json:"agent_id"`
	CreatedAtMs      int64    `json:"created_at_ms"`
	InputArtifactIDs []string `json:"input_artifact_ids"`
}

// ValidatorResult is one validator's verdict on an artifact.
type ValidatorResult struct {
	ValidatorID string `json:"validator_id"`
	Passed      bool   `json:"passed"`
	Details     string `json:"details,omitempty"`
	CheckedAtMs int64  `json:"checked_at_ms"`
}

// Artifact is a content-addressable reference to a produced output.
// The URI points at the content; the registry never stores content itself.
// ContentHash is optional; when present it drives deduplication.
type Artifact struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Format      string            `json:"format"`
	URI         string            `json:"uri"`
	ContentHash string            `json:"content_hash,omitempty"`
	Provenance  Provenance        `json:"provenance"`
	Validators  []ValidatorResult `json:"validators"`
}

// Validate checks that the artifact carries the required fields.
func (a *Artifact) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("artifact id cannot be empty")
	}
	if a.Type == "" {
		return fmt.Errorf("artifact type cannot be empty")
	}
	if a.URI == "" {
		return fmt.Errorf("artifact uri cannot be empty")
	}
	if a.Provenance.TaskID == "" {
		return fmt.Errorf("artifact provenance task_id cannot be empty")
	}
	if a.Provenance.AgentID == "" {
		return fmt.Errorf("artifact provenance agent_id cannot be empty")
	}
	return nil
}

// CreatedAt returns the creation time as a time.Time.
func (a *Artifact) CreatedAt() time.Time {
	return time.UnixMilli(a.Provenance.CreatedAtMs)
}
