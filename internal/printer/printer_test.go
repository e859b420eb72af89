package printer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		err := Error("Daemon not running", "No fleet daemon answered", []string{})
		require.Error(t, err)
		require.Equal(t, "Daemon not running", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		err := Error("Daemon not running", "No fleet daemon answered", []string{"Start it with 'warren up'"})
		require.Error(t, err)
		require.Equal(t, "Daemon not running", err.Error())
	})

	t.Run("returns error with title for multiple suggestions", func(t *testing.T) {
		err := Error("Invalid task graph", "The graph file could not be parsed", []string{
			"Check the JSON syntax",
			"Validate ids are unique",
		})
		require.Error(t, err)
		require.Equal(t, "Invalid task graph", err.Error())
	})
}

func TestErrorWithContext(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		context := map[string]string{
			"Instance": "fleet-1",
			"Graph":    "graph-42",
		}
		err := ErrorWithContext("Submission rejected", "The orchestrator refused the graph", context, []string{})
		require.Error(t, err)
		require.Equal(t, "Submission rejected", err.Error())
	})

	t.Run("returns error with title when including suggestions", func(t *testing.T) {
		context := map[string]string{"Agent": "fixer"}
		err := ErrorWithContext("Agent unavailable", "", context, []string{"Spawn the agent first"})
		require.Error(t, err)
		require.Equal(t, "Agent unavailable", err.Error())
	})
}

// Note: Error and ErrorWithContext print formatted output to stderr with
// colors. The returned error only carries the title so Cobra's SilenceErrors
// avoids duplicate output.

func TestTable(t *testing.T) {
	var sb strings.Builder
	Table(&sb, []string{"ID", "RUNTIME"}, [][]string{
		{"fixer", "claude"},
		{"reviewer-1", "shell"},
		{"short"},
	})

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, "ID          RUNTIME", lines[0])
	assert.Equal(t, "----------  -------", lines[1])
	assert.Equal(t, "fixer       claude", lines[2])
	assert.Equal(t, "reviewer-1  shell", lines[3])
	assert.Equal(t, "short       ", lines[4])
}
