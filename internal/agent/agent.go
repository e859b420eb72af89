// Package agent implements the per-agent actor: bid evaluation against
// announced tasks, pre-task knowledge retrieval, runtime execution with
// line-oriented activity reporting, decomposition proposals, synthesis
// re-prompts and post-task knowledge write-back.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/warren/internal/artifact"
	"github.com/dyluth/warren/internal/message"
	"github.com/dyluth/warren/internal/protocol"
	"github.com/dyluth/warren/internal/runtime"
	"github.com/dyluth/warren/internal/sidecar"
	"github.com/dyluth/warren/internal/viewport"
)

const (
	// DefaultCapacity is how many tasks an agent holds concurrently before
	// it stops bidding.
	DefaultCapacity = 1

	// DefaultEstimate is the bid duration estimate before any history
	// exists.
	DefaultEstimate = 5 * time.Minute

	// retrievalTimeout bounds the pre-task knowledge query. On expiry the
	// agent proceeds with the raw task description.
	retrievalTimeout = 5 * time.Second

	// retrievalTopK is how many knowledge entries are pulled per task.
	retrievalTopK = 5
)

// Config describes one agent.
type Config struct {
	ID           string
	Capabilities []string
	Capacity     int
	Estimate     time.Duration

	// RuntimeID names the catalog entry the Driver was built from; used
	// for viewport reporting only.
	RuntimeID string
	Driver    runtime.Driver

	// Sidecar and Artifacts are optional; a nil sidecar skips retrieval
	// and write-back, a nil artifact registry skips artifact registration.
	Sidecar   *sidecar.Client
	Artifacts *artifact.Registry

	Bridge viewport.Bridge
	Visual viewport.Visual

	// ActivityKeywords overrides the activity classifier's keyword lists.
	ActivityKeywords map[Activity][]string
}

// execDone is the agent's internal message posted by a run goroutine when
// the runtime's event stream closes.
type execDone struct {
	taskID    string
	synthesis bool
	result    *resultDecl
	artifacts []message.ArtifactDecl
	run       *runtime.RunResult
	startErr  error
}

func (execDone) Kind() string { return "ExecDone" }

// task tracks one assignment the agent holds.
type task struct {
	spec      message.TaskSpec
	startedAt time.Time

	// stopReason is set when a StopTask arrives while the run is in
	// flight; the eventual execDone then reports failure instead.
	stopReason string

	// decomposed marks a task whose subplan was accepted; the agent is
	// waiting for SubtasksCompleted.
	decomposed bool
}

// Agent is the actor.
type Agent struct {
	cfg        Config
	router     *message.Router
	mailbox    *message.Mailbox
	classifier *Classifier

	tasks     map[string]*task
	active    int
	durations []time.Duration // successful run durations, for estimates
}

// New creates the agent and registers its mailbox under its id.
func New(router *message.Router, cfg Config) *Agent {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Estimate <= 0 {
		cfg.Estimate = DefaultEstimate
	}
	if cfg.Bridge == nil {
		cfg.Bridge = viewport.NopBridge{}
	}

	a := &Agent{
		cfg:        cfg,
		router:     router,
		mailbox:    message.NewMailbox(),
		classifier: NewClassifier(cfg.ActivityKeywords),
		tasks:      make(map[string]*task),
	}
	router.Register(cfg.ID, a.mailbox)
	return a
}

// Run processes mailbox messages until ctx is cancelled or the mailbox
// closes.
func (a *Agent) Run(ctx context.Context) error {
	a.cfg.Bridge.PublishAgentSpawned(a.cfg.ID, a.cfg.Visual)
	defer a.cfg.Bridge.PublishAgentDespawned(a.cfg.ID)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-a.mailbox.C:
			if !ok {
				return nil
			}
			a.handle(env)
		}
	}
}

// Stop closes the mailbox; Run drains and returns.
func (a *Agent) Stop() {
	a.mailbox.Close()
}

func (a *Agent) handle(env message.Envelope) {
	switch msg := env.Msg.(type) {
	case message.TaskAvailable:
		a.handleTaskAvailable(msg)
	case message.TaskAwardedTo:
		log.Printf("[Agent %s] won auction for task %s", a.cfg.ID, msg.TaskID)
	case message.TaskBidRejected:
		log.Printf("[Agent %s] lost auction for task %s: %s", a.cfg.ID, msg.TaskID, msg.Reason)
	case message.TaskAssigned:
		a.handleTaskAssigned(msg)
	case message.SubtasksCompleted:
		a.handleSubtasksCompleted(msg)
	case message.TaskDecompositionRejected:
		a.handleDecompositionRejected(msg)
	case message.StopTask:
		a.handleStopTask(msg)
	case execDone:
		a.handleExecDone(msg)
	default:
		log.Printf("[Agent %s] ignoring %s from %s", a.cfg.ID, env.Msg.Kind(), env.Source)
	}
}

// handleTaskAvailable evaluates an auction announcement and submits at most
// one bid. Silence is a valid answer: at capacity or below full fitness the
// agent simply does not bid.
func (a *Agent) handleTaskAvailable(msg message.TaskAvailable) {
	if a.active >= a.cfg.Capacity {
		return
	}
	fitness := a.fitness(msg.Capabilities)
	if fitness < 1.0 {
		return
	}

	bid := message.Bid{
		TaskID:            msg.TaskID,
		AgentID:           a.cfg.ID,
		Fitness:           fitness,
		ActiveTaskCount:   a.active,
		EstimatedDuration: a.estimate(),
	}
	if err := a.router.Send(a.cfg.ID, message.AddrDispatcher, bid); err != nil {
		log.Printf("[Agent %s] failed to bid on task %s: %v", a.cfg.ID, msg.TaskID, err)
	}
}

// fitness is the fraction of required capabilities this agent holds. An
// empty requirement set is a full match.
func (a *Agent) fitness(required []string) float64 {
	if len(required) == 0 {
		return 1.0
	}
	held := 0
	for _, req := range required {
		for _, capability := range a.cfg.Capabilities {
			if req == capability {
				held++
				break
			}
		}
	}
	return float64(held) / float64(len(required))
}

// estimate is the median of prior successful run durations, or the
// configured default before any history exists.
func (a *Agent) estimate() time.Duration {
	if len(a.durations) == 0 {
		return a.cfg.Estimate
	}
	sorted := append([]time.Duration(nil), a.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// handleTaskAssigned pulls prior context (bounded, loss-tolerant), composes
// the prompt and launches the runtime. The retrieval wait is the only
// suspension here; everything after the launch happens on the run goroutine.
func (a *Agent) handleTaskAssigned(msg message.TaskAssigned) {
	taskID := msg.Task.TaskID
	if _, exists := a.tasks[taskID]; exists {
		log.Printf("[Agent %s] already holds task %s", a.cfg.ID, taskID)
		return
	}

	a.tasks[taskID] = &task{spec: msg.Task, startedAt: time.Now()}
	a.active++

	prompt := a.composePrompt(msg.Task)
	a.launchRun(taskID, prompt, false)
}

// composePrompt prepends retrieved knowledge to the task description. A
// missing or slow sidecar degrades to the raw description.
func (a *Agent) composePrompt(spec message.TaskSpec) string {
	if a.cfg.Sidecar == nil {
		return spec.Description
	}
	ctx, cancel := context.WithTimeout(context.Background(), retrievalTimeout)
	defer cancel()

	entries := a.cfg.Sidecar.Query(ctx, spec.Description, a.cfg.ID, retrievalTopK)
	if len(entries) == 0 {
		return spec.Description
	}

	var b strings.Builder
	b.WriteString("Context from prior work:\n")
	for _, entry := range entries {
		fmt.Fprintf(&b, "- [%s] %s\n", entry.Category, entry.Content)
	}
	b.WriteString("\nTask:\n")
	b.WriteString(spec.Description)
	return b.String()
}

// launchRun starts the driver and consumes its event stream on a goroutine.
// The goroutine owns the adapter and all stream state; it reports back with
// a single execDone posted to the mailbox.
func (a *Agent) launchRun(taskID, prompt string, synthesis bool) {
	driver := a.cfg.Driver
	if err := driver.Start(context.Background()); err != nil {
		a.post(execDone{taskID: taskID, synthesis: synthesis, startErr: err})
		return
	}
	if err := driver.Send(prompt); err != nil {
		a.post(execDone{taskID: taskID, synthesis: synthesis, startErr: err})
		return
	}
	a.cfg.Bridge.PublishRuntimeStarted(a.cfg.ID, a.cfg.RuntimeID)

	go a.consumeRun(taskID, synthesis, driver)
}

func (a *Agent) consumeRun(taskID string, synthesis bool, driver runtime.Driver) {
	adapter := protocol.NewAdapter(a.cfg.ID)
	done := execDone{taskID: taskID, synthesis: synthesis}
	lastActivity := ActivityIdle

	for line := range driver.Events() {
		a.cfg.Bridge.PublishRuntimeOutput(a.cfg.ID, line)

		if ctl, ok := parseControlLine(line); ok {
			switch ctl.Type {
			case controlTypeResult:
				decl := ctl.resultDecl
				done.result = &decl
			case controlTypeArtifact:
				done.artifacts = append(done.artifacts, *ctl.Artifact)
			}
			continue
		}

		for _, ev := range adapter.ProcessLine(line) {
			lastActivity = a.trackActivity(ev, lastActivity)
		}
	}
	for _, ev := range adapter.Flush() {
		lastActivity = a.trackActivity(ev, lastActivity)
	}

	if reporter, ok := driver.(runtime.ResultReporter); ok {
		done.run = reporter.LastResult()
	}
	exitCode := 0
	if done.run != nil {
		exitCode = done.run.ExitCode
	}
	a.cfg.Bridge.PublishRuntimeExited(a.cfg.ID, a.cfg.RuntimeID, exitCode)

	a.post(done)
}

// trackActivity derives the agent's visible activity from one lifecycle
// event. Only message text and tool invocations reach the classifier; tool
// output never does, the adapter suppresses it.
func (a *Agent) trackActivity(ev protocol.Event, last Activity) Activity {
	var line string
	switch ev.Type {
	case protocol.TextMessageContent:
		line = ev.Delta
	case protocol.ToolCallStart:
		line = ev.ToolName
	default:
		return last
	}
	if activity := a.classifier.Classify(line); activity != last {
		a.cfg.Bridge.PublishAgentStateChanged(a.cfg.ID, string(activity))
		return activity
	}
	return last
}

// handleExecDone turns a finished run into the task's outcome message.
func (a *Agent) handleExecDone(msg execDone) {
	t, ok := a.tasks[msg.taskID]
	if !ok {
		return
	}

	if t.stopReason != "" {
		a.finishTask(msg.taskID)
		a.sendOrchestrator(message.TaskFailed{
			TaskID:  msg.taskID,
			Reason:  "stopped: " + t.stopReason,
			Failure: failureData("stopped", msg.run),
		})
		return
	}

	if msg.startErr != nil {
		a.finishTask(msg.taskID)
		a.sendOrchestrator(message.TaskFailed{
			TaskID: msg.taskID,
			Reason: fmt.Sprintf("runtime failed to start: %v", msg.startErr),
		})
		return
	}

	// A decomposition proposal is not a terminal outcome: the task stays
	// held until the orchestrator accepts (SubtasksCompleted will follow)
	// or rejects it.
	if !msg.synthesis && msg.result != nil && msg.result.Subplan != nil {
		subplan := *msg.result.Subplan
		subplan.ParentTaskID = msg.taskID
		t.decomposed = true
		a.logEvent("decomposition_proposed", map[string]interface{}{
			"task_id":  msg.taskID,
			"subtasks": len(subplan.Subtasks),
		})
		a.sendOrchestrator(message.TaskCompleted{
			TaskID:  msg.taskID,
			AgentID: a.cfg.ID,
			Subplan: &subplan,
		})
		return
	}

	success, summary := runOutcome(msg)
	if !success && msg.result == nil {
		// No explicit terminator and a bad exit: report as a failure with
		// diagnostics rather than an unsuccessful completion.
		a.finishTask(msg.taskID)
		a.sendOrchestrator(message.TaskFailed{
			TaskID:  msg.taskID,
			Reason:  summary,
			Failure: failureData(summary, msg.run),
		})
		return
	}

	artifactIDs := a.registerArtifacts(msg.taskID, msg.artifacts)

	duration := time.Since(t.startedAt)
	a.finishTask(msg.taskID)
	a.logEvent("task_finished", map[string]interface{}{
		"task_id":     msg.taskID,
		"success":     success,
		"duration_ms": duration.Milliseconds(),
		"artifacts":   len(artifactIDs),
	})
	a.sendOrchestrator(message.TaskCompleted{
		TaskID:      msg.taskID,
		AgentID:     a.cfg.ID,
		Success:     success,
		Summary:     summary,
		ArtifactIDs: artifactIDs,
	})

	if success {
		a.durations = append(a.durations, duration)
		a.writeBack(msg.taskID, summary)
	}
}

// runOutcome derives (success, summary) from the explicit terminator when
// present, otherwise from the exit code.
func runOutcome(msg execDone) (bool, string) {
	if msg.result != nil {
		success := true
		if msg.result.Success != nil {
			success = *msg.result.Success
		}
		summary := msg.result.Summary
		if summary == "" {
			summary = "task finished"
		}
		return success, summary
	}
	if msg.run != nil && msg.run.ExitCode != 0 {
		return false, fmt.Sprintf("runtime exited with code %d", msg.run.ExitCode)
	}
	return true, "runtime exited cleanly"
}

func failureData(reason string, run *runtime.RunResult) *message.FailureData {
	if run == nil {
		return &message.FailureData{Reason: reason}
	}
	return &message.FailureData{
		Reason:   reason,
		ExitCode: run.ExitCode,
		Stdout:   run.Stdout,
		Stderr:   run.Stderr,
	}
}

// registerArtifacts writes declared artifacts to the registry, tolerating a
// missing registry and individual failures.
func (a *Agent) registerArtifacts(taskID string, decls []message.ArtifactDecl) []string {
	if a.cfg.Artifacts == nil || len(decls) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var ids []string
	for _, decl := range decls {
		id, deduped, err := a.cfg.Artifacts.Register(ctx, &artifact.Artifact{
			ID:          uuid.New().String(),
			Type:        decl.Type,
			Format:      decl.Format,
			URI:         decl.URI,
			ContentHash: decl.ContentHash,
			Provenance: artifact.Provenance{
				TaskID:      taskID,
				AgentID:     a.cfg.ID,
				CreatedAtMs: time.Now().UnixMilli(),
			},
		})
		if err != nil {
			log.Printf("[Agent %s] failed to register artifact for task %s: %v", a.cfg.ID, taskID, err)
			continue
		}
		if deduped {
			log.Printf("[Agent %s] artifact deduplicated to %s", a.cfg.ID, id)
		}
		ids = append(ids, id)
	}
	return ids
}

// writeBack stores the outcome with the knowledge sidecar, fire-and-forget.
func (a *Agent) writeBack(taskID, summary string) {
	if a.cfg.Sidecar == nil {
		return
	}
	agentID := a.cfg.ID
	client := a.cfg.Sidecar
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), retrievalTimeout)
		defer cancel()
		client.Store(ctx, summary, agentID, "outcome", map[string]string{"task": taskID})
	}()
}

// handleSubtasksCompleted re-prompts the runtime with the collated child
// results; the follow-up run produces the parent's synthesized completion.
func (a *Agent) handleSubtasksCompleted(msg message.SubtasksCompleted) {
	t, ok := a.tasks[msg.ParentTaskID]
	if !ok || !t.decomposed {
		log.Printf("[Agent %s] unexpected synthesis request for task %s", a.cfg.ID, msg.ParentTaskID)
		return
	}

	var b strings.Builder
	b.WriteString("The subtasks of this task have finished. Synthesize the final result.\n\nSubtask results:\n")
	for _, res := range msg.Results {
		fmt.Fprintf(&b, "- %s: success=%t %s\n", res.TaskID, res.Success, res.Summary)
	}
	b.WriteString("\nOriginal task:\n")
	b.WriteString(t.spec.Description)

	a.launchRun(msg.ParentTaskID, b.String(), true)
}

// handleDecompositionRejected fails the task: retrying a normal completion
// after a refused subplan would need a fresh run against a task the runtime
// already decided to split.
func (a *Agent) handleDecompositionRejected(msg message.TaskDecompositionRejected) {
	t, ok := a.tasks[msg.TaskID]
	if !ok || !t.decomposed {
		return
	}
	a.finishTask(msg.TaskID)
	a.sendOrchestrator(message.TaskFailed{
		TaskID: msg.TaskID,
		Reason: "decomposition rejected: " + msg.Reason,
	})
}

// handleStopTask cancels the runtime; the drained run goroutine's execDone
// then reports the terminal failure. A stop for a task not in flight is
// ignored.
func (a *Agent) handleStopTask(msg message.StopTask) {
	t, ok := a.tasks[msg.TaskID]
	if !ok {
		return
	}
	reason := msg.Reason
	if reason == "" {
		reason = "stop requested"
	}
	t.stopReason = reason

	if t.decomposed {
		// No run in flight; answer directly.
		a.finishTask(msg.TaskID)
		a.sendOrchestrator(message.TaskFailed{
			TaskID: msg.TaskID,
			Reason: "stopped: " + reason,
		})
		return
	}
	if err := a.cfg.Driver.Stop(); err != nil {
		log.Printf("[Agent %s] failed to stop runtime: %v", a.cfg.ID, err)
	}
}

func (a *Agent) finishTask(taskID string) {
	delete(a.tasks, taskID)
	a.active--
	if a.active < 0 {
		a.active = 0
	}
	a.cfg.Bridge.PublishAgentStateChanged(a.cfg.ID, string(ActivityIdle))
}

func (a *Agent) sendOrchestrator(msg message.Message) {
	if err := a.router.Send(a.cfg.ID, message.AddrOrchestrator, msg); err != nil {
		log.Printf("[Agent %s] orchestrator unreachable: %v", a.cfg.ID, err)
	}
}

func (a *Agent) post(msg message.Message) {
	if err := a.mailbox.Post(message.Envelope{Source: a.cfg.ID, Msg: msg}); err != nil {
		log.Printf("[Agent %s] dropped %s: %v", a.cfg.ID, msg.Kind(), err)
	}
}

// logEvent emits a structured JSON event. Kept alongside Printf logging for
// machine-readable milestones.
func (a *Agent) logEvent(eventType string, fields map[string]interface{}) {
	payload := map[string]interface{}{"event": eventType, "agent_id": a.cfg.ID}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Agent %s] event=%s (marshal failed: %v)", a.cfg.ID, eventType, err)
		return
	}
	log.Printf("[Agent %s] %s", a.cfg.ID, data)
}
