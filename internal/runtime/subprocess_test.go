package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, events <-chan string, timeout time.Duration) []string {
	t.Helper()
	var lines []string
	deadline := time.After(timeout)
	for {
		select {
		case line, ok := <-events:
			if !ok {
				return lines
			}
			lines = append(lines, line)
		case <-deadline:
			t.Fatalf("timed out waiting for event stream to close; got %d lines", len(lines))
		}
	}
}

func TestSubprocessDriver_StreamsLinesAndExits(t *testing.T) {
	spec := CLISpec{
		Executable: "sh",
		Args:       []string{"-c", `echo "got: {prompt}"; echo line2`},
	}
	d := NewSubprocessDriver("sh", spec, nil, t.TempDir())

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Send("hello"))

	lines := collectEvents(t, d.Events(), 5*time.Second)
	assert.Equal(t, []string{"got: hello", "line2"}, lines)

	assert.False(t, d.IsRunning())
	result := d.LastResult()
	require.NotNil(t, result)
	assert.Equal(t, 0, result.ExitCode)
	assert.NoError(t, result.Err)
	assert.Contains(t, result.Stdout, "got: hello")
}

func TestSubprocessDriver_InterleavesStderr(t *testing.T) {
	spec := CLISpec{
		Executable: "sh",
		Args:       []string{"-c", `echo out; echo err >&2`},
	}
	d := NewSubprocessDriver("sh", spec, nil, t.TempDir())

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Send(""))

	lines := collectEvents(t, d.Events(), 5*time.Second)
	assert.ElementsMatch(t, []string{"out", "err"}, lines)
}

func TestSubprocessDriver_NonZeroExit(t *testing.T) {
	spec := CLISpec{
		Executable: "sh",
		Args:       []string{"-c", `echo failing >&2; exit 3`},
	}
	d := NewSubprocessDriver("sh", spec, nil, t.TempDir())

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Send(""))
	collectEvents(t, d.Events(), 5*time.Second)

	result := d.LastResult()
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.Error(t, result.Err)
	assert.Contains(t, result.Stderr, "failing")
}

func TestSubprocessDriver_StopCancelsChild(t *testing.T) {
	// The sleep is a grandchild of the driver sharing the shell's stdout:
	// stopping the run must take it down too, or the line readers would
	// block on the pipe it holds open.
	spec := CLISpec{
		Executable: "sh",
		Args:       []string{"-c", `echo started; sleep 30 & wait`},
	}
	d := NewSubprocessDriver("sh", spec, nil, t.TempDir())

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Send(""))

	events := d.Events()
	select {
	case line := <-events:
		assert.Equal(t, "started", line)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for first line")
	}

	require.NoError(t, d.Stop())
	collectEvents(t, events, 5*time.Second)

	assert.False(t, d.IsRunning())
	result := d.LastResult()
	require.NotNil(t, result)
	assert.Error(t, result.Err)
}

func TestSubprocessDriver_SendBeforeStart(t *testing.T) {
	d := NewSubprocessDriver("sh", CLISpec{Executable: "sh"}, nil, t.TempDir())
	assert.ErrorIs(t, d.Send("p"), ErrNotStarted)
}

func TestSubprocessDriver_SpawnFailureClosesStream(t *testing.T) {
	d := NewSubprocessDriver("bogus", CLISpec{Executable: "/no/such/binary"}, nil, t.TempDir())

	require.NoError(t, d.Start(context.Background()))
	err := d.Send("p")
	require.Error(t, err)

	// The stream still closes so a consumer loop terminates.
	collectEvents(t, d.Events(), time.Second)

	result := d.LastResult()
	require.NotNil(t, result)
	assert.Equal(t, -1, result.ExitCode)
}

func TestSubprocessDriver_RestartForSecondRun(t *testing.T) {
	spec := CLISpec{
		Executable: "sh",
		Args:       []string{"-c", `echo "run: {prompt}"`},
	}
	d := NewSubprocessDriver("sh", spec, nil, t.TempDir())

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Send("one"))
	first := collectEvents(t, d.Events(), 5*time.Second)
	assert.Equal(t, []string{"run: one"}, first)

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Send("two"))
	second := collectEvents(t, d.Events(), 5*time.Second)
	assert.Equal(t, []string{"run: two"}, second)
}

func TestSubprocessDriver_ModelPlaceholders(t *testing.T) {
	spec := CLISpec{
		Executable: "sh",
		Args:       []string{"-c", `echo "{provider}/{model} fmt={format}"`},
		Defaults:   map[string]string{"format": "stream-json"},
	}
	model := &ModelSpec{Provider: "anthropic", ModelID: "large"}
	d := NewSubprocessDriver("sh", spec, model, t.TempDir())

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Send(""))

	lines := collectEvents(t, d.Events(), 5*time.Second)
	assert.Equal(t, []string{"anthropic/large fmt=stream-json"}, lines)
}
