package artifact

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Redis key pattern helpers
//
// Same namespacing scheme as the blackboard: warren:{instance_name}:...
// Secondary indexes are plain sets; the dedup index is a single hash mapping
// content hash to the winning artifact id.

// Key returns the Redis key holding an artifact's hash.
// Pattern: warren:{instance_name}:artifact:{artifact_id}
func Key(instanceName, artifactID string) string {
	return fmt.Sprintf("warren:%s:artifact:%s", instanceName, artifactID)
}

// ByTaskKey returns the Redis set indexing artifact ids by producing task.
// Pattern: warren:{instance_name}:artifact_by_task:{task_id}
func ByTaskKey(instanceName, taskID string) string {
	return fmt.Sprintf("warren:%s:artifact_by_task:%s", instanceName, taskID)
}

// ByTypeKey returns the Redis set indexing artifact ids by type.
// Pattern: warren:{instance_name}:artifact_by_type:{artifact_type}
func ByTypeKey(instanceName, artifactType string) string {
	return fmt.Sprintf("warren:%s:artifact_by_type:%s", instanceName, artifactType)
}

// DedupKey returns the Redis hash mapping content hash to artifact id.
// Pattern: warren:{instance_name}:artifact_by_hash
func DedupKey(instanceName string) string {
	return fmt.Sprintf("warren:%s:artifact_by_hash", instanceName)
}

// EventsChannel returns the Pub/Sub channel for blessed-artifact events.
// Pattern: warren:{instance_name}:artifact_events
func EventsChannel(instanceName string) string {
	return fmt.Sprintf("warren:%s:artifact_events", instanceName)
}

// toHash converts an Artifact to Redis hash format. Structured fields
// (provenance, validators) are JSON-encoded into single hash fields.
func toHash(a *Artifact) (map[string]interface{}, error) {
	provenanceJSON, err := json.Marshal(a.Provenance)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal provenance: %w", err)
	}

	validators := a.Validators
	if validators == nil {
		validators = []ValidatorResult{}
	}
	validatorsJSON, err := json.Marshal(validators)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal validators: %w", err)
	}

	return map[string]interface{}{
		"id":           a.ID,
		"type":         a.Type,
		"format":       a.Format,
		"uri":          a.URI,
		"content_hash": a.ContentHash,
		"provenance":   string(provenanceJSON),
		"validators":   string(validatorsJSON),
		"created_at_ms": strconv.FormatInt(a.Provenance.CreatedAtMs, 10),
	}, nil
}

// fromHash converts a Redis hash back to an Artifact.
func fromHash(hash map[string]string) (*Artifact, error) {
	var provenance Provenance
	if provenanceJSON := hash["provenance"]; provenanceJSON != "" {
		if err := json.Unmarshal([]byte(provenanceJSON), &provenance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provenance: %w", err)
		}
	}

	var validators []ValidatorResult
	if validatorsJSON := hash["validators"]; validatorsJSON != "" {
		if err := json.Unmarshal([]byte(validatorsJSON), &validators); err != nil {
			return nil, fmt.Errorf("failed to unmarshal validators: %w", err)
		}
	}
	if validators == nil {
		validators = []ValidatorResult{}
	}

	return &Artifact{
		ID:          hash["id"],
		Type:        hash["type"],
		Format:      hash["format"],
		URI:         hash["uri"],
		ContentHash: hash["content_hash"],
		Provenance:  provenance,
		Validators:  validators,
	}, nil
}
