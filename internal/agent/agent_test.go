package agent

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/internal/message"
	"github.com/dyluth/warren/internal/runtime"
	"github.com/dyluth/warren/internal/sidecar"
	"github.com/dyluth/warren/internal/viewport"
)

// fakeDriver is a scriptable runtime: tests push lines with emit and end
// the run with finish. Stop ends the run with exit -1, like a cancelled
// subprocess.
type fakeDriver struct {
	mu      sync.Mutex
	ch      chan string
	done    bool
	prompts []string
	stops   int
	result  *runtime.RunResult
}

func (d *fakeDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ch = make(chan string, 64)
	d.done = false
	return nil
}

func (d *fakeDriver) Send(prompt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompts = append(d.prompts, prompt)
	return nil
}

func (d *fakeDriver) Events() <-chan string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch
}

func (d *fakeDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	if !d.done {
		d.done = true
		d.result = &runtime.RunResult{ExitCode: -1}
		close(d.ch)
	}
	return nil
}

func (d *fakeDriver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ch != nil && !d.done
}

func (d *fakeDriver) LastResult() *runtime.RunResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.result
}

func (d *fakeDriver) emit(line string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ch <- line
}

func (d *fakeDriver) finish(exitCode int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return
	}
	d.done = true
	d.result = &runtime.RunResult{ExitCode: exitCode}
	close(d.ch)
}

func (d *fakeDriver) promptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.prompts)
}

func (d *fakeDriver) prompt(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prompts[i]
}

type harness struct {
	t            *testing.T
	router       *message.Router
	agent        *Agent
	driver       *fakeDriver
	dispatcher   *message.Mailbox
	orchestrator *message.Mailbox
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	router := message.NewRouter()

	dispatcher := message.NewMailbox()
	router.Register(message.AddrDispatcher, dispatcher)
	orchestrator := message.NewMailbox()
	router.Register(message.AddrOrchestrator, orchestrator)

	driver := &fakeDriver{}
	if cfg.ID == "" {
		cfg.ID = "agent-1"
	}
	cfg.Driver = driver
	cfg.RuntimeID = "fake"

	a := New(router, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go a.Run(ctx)
	t.Cleanup(cancel)

	return &harness{
		t:            t,
		router:       router,
		agent:        a,
		driver:       driver,
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
	}
}

func (h *harness) announce(taskID string, capabilities ...string) {
	h.t.Helper()
	require.NoError(h.t, h.router.Send(message.AddrDispatcher, h.agent.cfg.ID,
		message.TaskAvailable{TaskID: taskID, Description: "task " + taskID, Capabilities: capabilities}))
}

func (h *harness) assign(taskID, description string, capabilities ...string) {
	h.t.Helper()
	require.NoError(h.t, h.router.Send(message.AddrDispatcher, h.agent.cfg.ID,
		message.TaskAssigned{
			Task: message.TaskSpec{
				GraphID:      "g",
				TaskID:       taskID,
				Description:  description,
				Capabilities: capabilities,
			},
			AgentID: h.agent.cfg.ID,
		}))
	// The run launches once the assignment is processed.
	require.Eventually(h.t, func() bool { return h.driver.promptCount() > 0 }, 2*time.Second, 10*time.Millisecond)
}

func recv(t *testing.T, mb *message.Mailbox) message.Envelope {
	t.Helper()
	select {
	case env, ok := <-mb.C:
		require.True(t, ok, "mailbox closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return message.Envelope{}
	}
}

func expectNone(t *testing.T, mb *message.Mailbox) {
	t.Helper()
	select {
	case env := <-mb.C:
		t.Fatalf("unexpected message %s", env.Msg.Kind())
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBidEvaluation(t *testing.T) {
	tests := []struct {
		name     string
		caps     []string
		required []string
		wantBid  bool
	}{
		{
			name:     "full capability match bids",
			caps:     []string{"go", "git"},
			required: []string{"go"},
			wantBid:  true,
		},
		{
			name:     "partial match stays silent",
			caps:     []string{"go"},
			required: []string{"go", "rust"},
			wantBid:  false,
		},
		{
			name:     "empty requirement is a full match",
			caps:     []string{"go"},
			required: nil,
			wantBid:  true,
		},
		{
			name:     "no overlap stays silent",
			caps:     []string{"python"},
			required: []string{"go"},
			wantBid:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{Capabilities: tt.caps})
			h.announce("t1", tt.required...)

			if !tt.wantBid {
				expectNone(t, h.dispatcher)
				return
			}
			env := recv(t, h.dispatcher)
			bid, ok := env.Msg.(message.Bid)
			require.True(t, ok, "expected Bid, got %s", env.Msg.Kind())
			assert.Equal(t, "t1", bid.TaskID)
			assert.Equal(t, "agent-1", bid.AgentID)
			assert.Equal(t, 1.0, bid.Fitness)
			assert.Equal(t, 0, bid.ActiveTaskCount)
			assert.Equal(t, DefaultEstimate, bid.EstimatedDuration)
		})
	}
}

func TestNoBidAtCapacity(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"go"}, Capacity: 1})

	h.assign("t1", "busy work", "go")
	h.announce("t2", "go")
	expectNone(t, h.dispatcher)
}

func TestEstimateMedian(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"go"}, Estimate: time.Minute})

	assert.Equal(t, time.Minute, h.agent.estimate(), "no history falls back to default")

	h.agent.durations = []time.Duration{time.Minute, 3 * time.Minute, 10 * time.Minute}
	assert.Equal(t, 3*time.Minute, h.agent.estimate())

	h.agent.durations = []time.Duration{time.Minute, 3 * time.Minute}
	assert.Equal(t, 2*time.Minute, h.agent.estimate(), "even counts average the middle pair")
}

func TestExecutionSuccess(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"go"}})

	h.assign("t1", "fix the build", "go")
	assert.Equal(t, "fix the build", h.driver.prompt(0))

	h.driver.emit("working on it")
	h.driver.emit(`{"type":"task_result","success":true,"summary":"build fixed"}`)
	h.driver.finish(0)

	env := recv(t, h.orchestrator)
	done, ok := env.Msg.(message.TaskCompleted)
	require.True(t, ok, "expected TaskCompleted, got %s", env.Msg.Kind())
	assert.Equal(t, "t1", done.TaskID)
	assert.True(t, done.Success)
	assert.Equal(t, "build fixed", done.Summary)
	assert.Nil(t, done.Subplan)
}

func TestExecutionCleanExitWithoutTerminator(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"go"}})

	h.assign("t1", "quick job", "go")
	h.driver.emit("did the thing")
	h.driver.finish(0)

	env := recv(t, h.orchestrator)
	done, ok := env.Msg.(message.TaskCompleted)
	require.True(t, ok, "expected TaskCompleted, got %s", env.Msg.Kind())
	assert.True(t, done.Success)
}

func TestExecutionBadExitFails(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"go"}})

	h.assign("t1", "doomed job", "go")
	h.driver.emit("oh no")
	h.driver.finish(2)

	env := recv(t, h.orchestrator)
	failed, ok := env.Msg.(message.TaskFailed)
	require.True(t, ok, "expected TaskFailed, got %s", env.Msg.Kind())
	assert.Equal(t, "t1", failed.TaskID)
	require.NotNil(t, failed.Failure)
	assert.Equal(t, 2, failed.Failure.ExitCode)
}

func TestExplicitUnsuccessfulResult(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"go"}})

	h.assign("t1", "tricky job", "go")
	h.driver.emit(`{"type":"task_result","success":false,"summary":"could not reproduce"}`)
	h.driver.finish(0)

	env := recv(t, h.orchestrator)
	done, ok := env.Msg.(message.TaskCompleted)
	require.True(t, ok, "expected TaskCompleted, got %s", env.Msg.Kind())
	assert.False(t, done.Success)
	assert.Equal(t, "could not reproduce", done.Summary)
}

func TestDecompositionAndSynthesis(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"go"}})

	h.assign("t1", "big job", "go")
	h.driver.emit(`{"type":"task_result","subplan":{"reason":"too big","subtasks":[{"description":"part one"},{"description":"part two","depends_on":[0]}]}}`)
	h.driver.finish(0)

	env := recv(t, h.orchestrator)
	done, ok := env.Msg.(message.TaskCompleted)
	require.True(t, ok, "expected TaskCompleted, got %s", env.Msg.Kind())
	require.NotNil(t, done.Subplan)
	assert.Equal(t, "t1", done.Subplan.ParentTaskID)
	assert.Len(t, done.Subplan.Subtasks, 2)

	// Synthesis: the collated child results become a fresh prompt.
	require.NoError(t, h.router.Send(message.AddrOrchestrator, "agent-1",
		message.SubtasksCompleted{
			ParentTaskID: "t1",
			Results: []message.SubtaskResult{
				{TaskID: "t1/sub-0", Success: true, Summary: "one done"},
				{TaskID: "t1/sub-1", Success: true, Summary: "two done"},
			},
		}))
	require.Eventually(t, func() bool { return h.driver.promptCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	synthPrompt := h.driver.prompt(1)
	assert.Contains(t, synthPrompt, "one done")
	assert.Contains(t, synthPrompt, "two done")
	assert.Contains(t, synthPrompt, "big job")

	h.driver.emit(`{"type":"task_result","success":true,"summary":"synthesized"}`)
	h.driver.finish(0)

	env = recv(t, h.orchestrator)
	final, ok := env.Msg.(message.TaskCompleted)
	require.True(t, ok, "expected TaskCompleted, got %s", env.Msg.Kind())
	assert.Equal(t, "t1", final.TaskID)
	assert.True(t, final.Success)
	assert.Equal(t, "synthesized", final.Summary)
	assert.Nil(t, final.Subplan)
}

func TestDecompositionRejectedFailsTask(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"go"}})

	h.assign("t1", "big job", "go")
	h.driver.emit(`{"type":"task_result","subplan":{"subtasks":[{"description":"part"}]}}`)
	h.driver.finish(0)
	recv(t, h.orchestrator) // the proposal

	require.NoError(t, h.router.Send(message.AddrOrchestrator, "agent-1",
		message.TaskDecompositionRejected{TaskID: "t1", Reason: "too deep"}))

	env := recv(t, h.orchestrator)
	failed, ok := env.Msg.(message.TaskFailed)
	require.True(t, ok, "expected TaskFailed, got %s", env.Msg.Kind())
	assert.Contains(t, failed.Reason, "too deep")
}

func TestStopTaskCancelsRuntime(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"go"}})

	h.assign("t1", "long job", "go")
	h.driver.emit("still going")

	require.NoError(t, h.router.Send(message.AddrOrchestrator, "agent-1",
		message.StopTask{TaskID: "t1", Reason: "deadline"}))

	env := recv(t, h.orchestrator)
	failed, ok := env.Msg.(message.TaskFailed)
	require.True(t, ok, "expected TaskFailed, got %s", env.Msg.Kind())
	assert.Equal(t, "t1", failed.TaskID)
	assert.Contains(t, failed.Reason, "deadline")
}

func TestStopUnknownTaskIgnored(t *testing.T) {
	h := newHarness(t, Config{Capabilities: []string{"go"}})

	require.NoError(t, h.router.Send(message.AddrOrchestrator, "agent-1",
		message.StopTask{TaskID: "ghost"}))
	expectNone(t, h.orchestrator)
}

// writeSidecarScript creates a fake sidecar binary that answers query with
// fixed knowledge entries.
func writeSidecarScript(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "memory-sidecar")
	script := `#!/bin/sh
if [ "$1" = "query" ]; then
  echo '[{"content":"use table tests","category":"pattern","relevance":0.9}]'
fi
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestKnowledgePreamble(t *testing.T) {
	h := newHarness(t, Config{
		Capabilities: []string{"go"},
		Sidecar:      sidecar.NewClientWith(writeSidecarScript(t), 2*time.Second),
	})

	h.assign("t1", "add tests", "go")

	prompt := h.driver.prompt(0)
	assert.Contains(t, prompt, "Context from prior work:")
	assert.Contains(t, prompt, "[pattern] use table tests")
	assert.Contains(t, prompt, "add tests")
}

// recordBridge captures the activity transitions published during a run.
type recordBridge struct {
	viewport.NopBridge
	mu         sync.Mutex
	activities []string
}

func (b *recordBridge) PublishAgentStateChanged(agentID string, activity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activities = append(b.activities, activity)
}

func (b *recordBridge) states() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.activities...)
}

func TestActivityFollowsLifecycleEvents(t *testing.T) {
	bridge := &recordBridge{}
	h := newHarness(t, Config{Capabilities: []string{"go"}, Bridge: bridge})
	h.assign("t1", "refactor", "go")

	h.driver.emit(`{"type":"tool_use","name":"Bash","input":{}}`)
	// Tool output mentioning classifier keywords must not flip the state.
	h.driver.emit("grep matched 3 lines, read them all")
	h.driver.emit(`{"type":"tool_result","content":"ok"}`)
	h.driver.emit("waiting for the build")
	h.driver.finish(0)

	env := recv(t, h.orchestrator)
	_, ok := env.Msg.(message.TaskCompleted)
	require.True(t, ok, "expected TaskCompleted, got %s", env.Msg.Kind())

	states := bridge.states()
	require.GreaterOrEqual(t, len(states), 2)
	assert.Equal(t, []string{"Typing", "Waiting"}, states[:2])
}

func TestActivityClassifier(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		line string
		want Activity
	}{
		{"Write src/main.go", ActivityTyping},
		{"running bash command", ActivityTyping},
		{"grep for usages", ActivityReading},
		{"ls -la", ActivityReading},
		{"thinking about the approach", ActivityThinking},
		{"waiting for input", ActivityWaiting},
		{"hello world", ActivityIdle},
		{"write then read", ActivityTyping}, // typing takes precedence
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Classify(tt.line), "line %q", tt.line)
	}

	custom := NewClassifier(map[Activity][]string{ActivityReading: {"peruse"}})
	assert.Equal(t, ActivityReading, custom.Classify("peruse the docs"))
	assert.Equal(t, ActivityIdle, custom.Classify("grep for usages"), "override replaces the default set")
}
