package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRFC3339(t *testing.T) {
	ms, err := Parse("2026-08-24T13:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC).UnixMilli(), ms)
}

func TestParseDuration(t *testing.T) {
	before := time.Now().Add(-time.Hour).UnixMilli()
	ms, err := Parse("1h")
	after := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ms, before)
	assert.LessOrEqual(t, ms, after)
}

func TestParseInvalid(t *testing.T) {
	for _, spec := range []string{"", "yesterday", "1 hour"} {
		_, err := Parse(spec)
		assert.Error(t, err, "spec %q", spec)
	}
}

func TestParseRange(t *testing.T) {
	since, until, err := ParseRange("2h", "1h")
	require.NoError(t, err)
	assert.Less(t, since, until)

	_, _, err = ParseRange("1h", "2h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--since must be before --until")

	since, until, err = ParseRange("", "")
	require.NoError(t, err)
	assert.Zero(t, since)
	assert.Zero(t, until)
}
