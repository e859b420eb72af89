// Package filter narrows artifact listings for the CLI.
package filter

import (
	"path/filepath"

	"github.com/dyluth/warren/internal/artifact"
)

// Criteria defines filtering criteria for artifacts. All filters are ANDed
// together; empty/zero values match everything for that criterion.
type Criteria struct {
	SinceTimestampMs int64  // Unix milliseconds, 0 = no filter
	UntilTimestampMs int64  // Unix milliseconds, 0 = no filter
	TypeGlob         string // glob pattern for artifact type, empty = no filter
	AgentID          string // exact match on the producing agent, empty = no filter
}

// Matches reports whether the artifact passes every active criterion.
func (c *Criteria) Matches(a *artifact.Artifact) bool {
	if c.SinceTimestampMs > 0 && a.Provenance.CreatedAtMs < c.SinceTimestampMs {
		return false
	}
	if c.UntilTimestampMs > 0 && a.Provenance.CreatedAtMs > c.UntilTimestampMs {
		return false
	}

	if c.TypeGlob != "" {
		matched, err := filepath.Match(c.TypeGlob, a.Type)
		if err != nil || !matched {
			return false
		}
	}

	if c.AgentID != "" && a.Provenance.AgentID != c.AgentID {
		return false
	}

	return true
}

// Apply returns the artifacts that match the criteria, preserving order.
func (c *Criteria) Apply(artifacts []*artifact.Artifact) []*artifact.Artifact {
	out := make([]*artifact.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		if c.Matches(a) {
			out = append(out, a)
		}
	}
	return out
}
