// Package instance validates fleet instance names. The name namespaces
// every Redis key, Pub/Sub channel and container the fleet creates, so it
// must stay DNS-compatible.
package instance

import (
	"fmt"
	"regexp"
)

// MaxNameLength is the maximum length for an instance name (DNS-compatible).
const MaxNameLength = 63

// NamePattern matches valid instance names: lowercase alphanumeric with
// hyphens allowed, but not at the start or end.
var NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// ValidateName checks an instance name against DNS naming rules.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("instance name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("instance name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}
	if !NamePattern.MatchString(name) {
		return fmt.Errorf("invalid instance name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}
