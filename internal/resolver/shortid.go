// Package resolver expands short artifact ID prefixes to full UUIDs for
// CLI convenience.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dyluth/warren/internal/artifact"
)

// MinShortIDLength is the minimum required length for short ID prefixes.
// Set to 6 characters to balance usability with collision avoidance.
const MinShortIDLength = 6

// ResolveArtifactID resolves a short ID prefix to a full UUID.
//
// Three cases:
//  1. Input is already a full UUID (36 chars, 4 hyphens) - validates existence
//  2. Input is too short (< 6 chars) - returns validation error
//  3. Input is a short prefix - scans for matches and returns the unique one
func ResolveArtifactID(ctx context.Context, reg *artifact.Registry, shortID string) (string, error) {
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		if _, err := reg.Get(ctx, shortID); err != nil {
			if artifact.IsNotFound(err) {
				return "", fmt.Errorf("artifact not found: %s", shortID)
			}
			return "", fmt.Errorf("failed to verify artifact existence: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	all, err := reg.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to search for artifact: %w", err)
	}

	var matches []string
	for _, a := range all {
		if strings.HasPrefix(a.ID, shortID) {
			matches = append(matches, a.ID)
		}
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no artifacts matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no artifacts found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple artifacts matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d artifacts", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError creates a user-friendly message for ambiguous short
// IDs, listing up to 10 matching UUIDs.
func FormatAmbiguousError(err *AmbiguousError) string {
	msg := fmt.Sprintf("Error: ambiguous short ID '%s' matches %d artifacts:\n", err.ShortID, len(err.Matches))

	displayCount := len(err.Matches)
	if displayCount > 10 {
		displayCount = 10
	}
	for i := 0; i < displayCount; i++ {
		msg += fmt.Sprintf("  %s\n", err.Matches[i])
	}
	if len(err.Matches) > 10 {
		msg += fmt.Sprintf("  ...and %d more\n", len(err.Matches)-10)
	}

	msg += "\nUse a longer prefix to uniquely identify the artifact."
	return msg
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
