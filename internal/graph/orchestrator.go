package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/warren/internal/message"
	"github.com/dyluth/warren/internal/viewport"
	"github.com/dyluth/warren/pkg/blackboard"
)

// Config carries the orchestrator's collaborators and bounds.
type Config struct {
	Caps   Caps
	Bridge viewport.Bridge

	// Board is optional; when set, graph and node status are published as
	// blackboard signals for external observers.
	Board *blackboard.Client

	// NotifyAddr is an optional actor that receives TaskGraphCompleted.
	NotifyAddr string
}

// submitGraph is the orchestrator's internal submission request, carrying a
// reply channel so Submit can return a synchronous verdict.
type submitGraph struct {
	spec  Spec
	reply chan submitReply
}

func (submitGraph) Kind() string { return "SubmitGraph" }

type submitReply struct {
	accepted Accepted
	err      error
}

// Orchestrator is the task-graph actor: it owns all graph state and
// processes one message at a time from its mailbox. Timers never mutate
// state directly; they post timeout messages back into the mailbox.
type Orchestrator struct {
	cfg     Config
	router  *message.Router
	mailbox *message.Mailbox

	graphs map[string]*graphState
	// taskIndex resolves a task id to its graph. Task ids are therefore
	// required to be unique across concurrently active graphs; Submit
	// rejects collisions.
	taskIndex map[string]string
}

// New creates the orchestrator and registers its mailbox on the router.
func New(router *message.Router, cfg Config) *Orchestrator {
	if cfg.Caps == (Caps{}) {
		cfg.Caps = DefaultCaps()
	}
	if cfg.Bridge == nil {
		cfg.Bridge = viewport.NopBridge{}
	}

	o := &Orchestrator{
		cfg:       cfg,
		router:    router,
		mailbox:   message.NewMailbox(),
		graphs:    make(map[string]*graphState),
		taskIndex: make(map[string]string),
	}
	router.Register(message.AddrOrchestrator, o.mailbox)
	return o
}

// Run processes mailbox messages until ctx is cancelled or the mailbox
// closes. Exactly one goroutine runs this.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logEvent("orchestrator_started", map[string]interface{}{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-o.mailbox.C:
			if !ok {
				return nil
			}
			o.handle(env)
		}
	}
}

// Stop closes the mailbox; Run drains and returns.
func (o *Orchestrator) Stop() {
	o.mailbox.Close()
}

// Submit validates and accepts a graph, returning synchronously. Validation
// errors wrap ErrGraphRejected.
func (o *Orchestrator) Submit(ctx context.Context, spec Spec) (Accepted, error) {
	reply := make(chan submitReply, 1)
	if err := o.mailbox.Post(message.Envelope{Source: "submitter", Msg: submitGraph{spec: spec, reply: reply}}); err != nil {
		return Accepted{}, fmt.Errorf("orchestrator unavailable: %w", err)
	}
	select {
	case <-ctx.Done():
		return Accepted{}, ctx.Err()
	case r := <-reply:
		return r.accepted, r.err
	}
}

func (o *Orchestrator) handle(env message.Envelope) {
	switch msg := env.Msg.(type) {
	case submitGraph:
		msg.reply <- o.handleSubmit(msg.spec)
	case message.TaskReadyForDispatch:
		o.handleTaskReadyForDispatch(msg)
	case message.TaskCompleted:
		o.handleTaskCompleted(msg)
	case message.TaskFailed:
		o.handleTaskFailed(msg)
	case message.GraphDeadline:
		o.handleGraphDeadline(msg)
	case message.TaskDeadline:
		o.handleTaskDeadline(msg)
	case message.UserDecision:
		o.handleUserDecision(msg)
	default:
		log.Printf("[Orchestrator] ignoring %s from %s", env.Msg.Kind(), env.Source)
	}
}

func (o *Orchestrator) handleSubmit(spec Spec) submitReply {
	graphID := spec.ID
	if graphID == "" {
		graphID = uuid.New().String()
	}
	if _, exists := o.graphs[graphID]; exists {
		return submitReply{err: fmt.Errorf("%w: graph id %q already active", ErrGraphRejected, graphID)}
	}
	for _, ns := range spec.Nodes {
		if owner, taken := o.taskIndex[ns.ID]; taken {
			return submitReply{err: fmt.Errorf("%w: task id %q already in use by active graph %s", ErrGraphRejected, ns.ID, owner)}
		}
	}

	g, err := buildState(graphID, spec)
	if err != nil {
		o.logEvent("graph_rejected", map[string]interface{}{"graph_id": graphID, "reason": err.Error()})
		return submitReply{err: err}
	}

	o.graphs[graphID] = g
	for _, id := range g.order {
		o.taskIndex[id] = graphID
	}

	o.cfg.Bridge.PublishTaskGraphSubmitted(graphID, len(g.order), g.edgeCount())
	o.publishGraphStatus(g, "running")
	o.logEvent("graph_accepted", map[string]interface{}{
		"graph_id": graphID,
		"nodes":    len(g.order),
		"edges":    g.edgeCount(),
	})

	if g.budget != nil && g.budget.Deadline > 0 {
		deadline := g.budget.Deadline
		time.AfterFunc(deadline, func() {
			o.post(message.GraphDeadline{GraphID: graphID})
		})
	}

	for _, id := range g.order {
		if g.nodes[id].status == StatusReady {
			o.dispatchNode(g, g.nodes[id])
		}
	}

	// An empty graph is terminal immediately.
	o.checkCompletion(g)

	return submitReply{accepted: Accepted{GraphID: graphID, NodeCount: len(g.order), EdgeCount: g.edgeCount()}}
}

// dispatchNode asks the dispatcher to auction a Ready node. The node stays
// Ready until the dispatcher reports the award via TaskReadyForDispatch.
func (o *Orchestrator) dispatchNode(g *graphState, n *node) {
	o.publishNodeStatus(g, n)
	req := message.TaskDispatchRequest{
		Task: message.TaskSpec{
			GraphID:      g.id,
			TaskID:       n.spec.ID,
			Description:  n.spec.Description,
			Capabilities: n.spec.Capabilities,
			Budget:       n.spec.Budget,
		},
		BidWindow: bidWindow(g, n),
	}
	if err := o.router.Send(message.AddrOrchestrator, message.AddrDispatcher, req); err != nil {
		log.Printf("[Orchestrator] failed to dispatch task %s: %v", n.spec.ID, err)
		o.finalize(g, n.spec.ID, StatusFailed)
		o.checkCompletion(g)
	}
}

// bidWindow resolves a task's auction window: the node's budget wins over
// the graph's; zero leaves the dispatcher default in force.
func bidWindow(g *graphState, n *node) time.Duration {
	if n.spec.Budget != nil && n.spec.Budget.BidWindow != 0 {
		return n.spec.Budget.BidWindow
	}
	if g.budget != nil && g.budget.BidWindow != 0 {
		return g.budget.BidWindow
	}
	return 0
}

func (o *Orchestrator) handleTaskReadyForDispatch(msg message.TaskReadyForDispatch) {
	g, n, ok := o.lookup(msg.TaskID)
	if !ok {
		return
	}
	if n.status != StatusReady {
		log.Printf("[Orchestrator] ignoring award for task %s in status %s", msg.TaskID, n.status)
		return
	}
	n.status = StatusDispatched
	n.agentID = msg.AgentID
	o.publishNodeStatus(g, n)

	if n.spec.Budget != nil && n.spec.Budget.Deadline > 0 {
		graphID, taskID := g.id, n.spec.ID
		time.AfterFunc(n.spec.Budget.Deadline, func() {
			o.post(message.TaskDeadline{GraphID: graphID, TaskID: taskID})
		})
	}
}

func (o *Orchestrator) handleTaskCompleted(msg message.TaskCompleted) {
	g, n, ok := o.lookup(msg.TaskID)
	if !ok {
		return
	}
	if n.status.Terminal() {
		log.Printf("[Orchestrator] ignoring completion for terminal task %s", msg.TaskID)
		return
	}

	if msg.Subplan != nil && n.status == StatusDispatched {
		o.handleDecomposition(g, n, msg)
		return
	}

	if n.status != StatusDispatched && n.status != StatusSynthesizing {
		log.Printf("[Orchestrator] ignoring completion for task %s in status %s", msg.TaskID, n.status)
		return
	}

	n.summary = msg.Summary
	status := StatusCompleted
	if !msg.Success {
		status = StatusFailed
	}
	o.finalize(g, msg.TaskID, status)
	o.checkCompletion(g)
}

func (o *Orchestrator) handleDecomposition(g *graphState, n *node, msg message.TaskCompleted) {
	if err := validateSubplan(g, n, msg.Subplan, o.cfg.Caps); err != nil {
		o.logEvent("decomposition_rejected", map[string]interface{}{
			"graph_id": g.id,
			"task_id":  n.spec.ID,
			"reason":   err.Error(),
		})
		if sendErr := o.router.Send(message.AddrOrchestrator, msg.AgentID, message.TaskDecompositionRejected{
			TaskID: n.spec.ID,
			Reason: err.Error(),
		}); sendErr != nil {
			log.Printf("[Orchestrator] failed to notify agent %s of rejection: %v", msg.AgentID, sendErr)
		}
		return
	}

	ready := insertSubplan(g, n.spec.ID, msg.Subplan, msg.AgentID)
	for _, child := range n.children {
		o.taskIndex[child] = g.id
	}

	o.logEvent("decomposition_accepted", map[string]interface{}{
		"graph_id": g.id,
		"task_id":  n.spec.ID,
		"subtasks": len(n.children),
		"depth":    n.depth + 1,
	})
	o.publishNodeStatus(g, n)

	for _, subID := range ready {
		o.dispatchNode(g, g.nodes[subID])
	}
}

func (o *Orchestrator) handleTaskFailed(msg message.TaskFailed) {
	g, n, ok := o.lookup(msg.TaskID)
	if !ok {
		return
	}
	if n.status.Terminal() {
		return
	}
	o.logEvent("task_failed", map[string]interface{}{
		"graph_id": g.id,
		"task_id":  msg.TaskID,
		"reason":   msg.Reason,
	})
	o.finalize(g, msg.TaskID, StatusFailed)
	o.checkCompletion(g)
}

// handleGraphDeadline fails all in-flight work and cancels everything not
// yet started. Fires at most once per graph.
func (o *Orchestrator) handleGraphDeadline(msg message.GraphDeadline) {
	g, ok := o.graphs[msg.GraphID]
	if !ok || g.deadlineFired {
		return
	}
	g.deadlineFired = true
	o.logEvent("graph_deadline", map[string]interface{}{"graph_id": g.id})

	for _, id := range append([]string(nil), g.order...) {
		n := g.nodes[id]
		switch n.status {
		case StatusDispatched, StatusSynthesizing, StatusWaitingForSubtasks:
			o.stopAgent(n, "graph deadline exceeded")
			o.finalize(g, id, StatusFailed)
		case StatusPending, StatusReady:
			o.finalize(g, id, StatusCancelled)
		}
	}
	o.checkCompletion(g)
}

func (o *Orchestrator) handleTaskDeadline(msg message.TaskDeadline) {
	g, n, ok := o.lookup(msg.TaskID)
	if !ok || g.id != msg.GraphID || n.status.Terminal() {
		return
	}
	o.logEvent("task_deadline", map[string]interface{}{"graph_id": g.id, "task_id": msg.TaskID})
	o.stopAgent(n, "task deadline exceeded")
	o.finalize(g, msg.TaskID, StatusFailed)
	o.checkCompletion(g)
}

func (o *Orchestrator) handleUserDecision(msg message.UserDecision) {
	g, n, ok := o.lookup(msg.ParentTaskID)
	if !ok {
		return
	}
	if n.waitingUser {
		n.waitingUser = false
		o.startSynthesis(g, n)
		o.checkCompletion(g)
		return
	}
	// Decision arrived before the subtasks finished; remember it.
	n.userDecided = true
}

// finalize transitions a node to a terminal status and performs the
// consequences: readiness of dependents, cancellation propagation, subtask
// teardown and parent progress. Safe to call on already-terminal nodes.
func (o *Orchestrator) finalize(g *graphState, taskID string, status Status) {
	n := g.nodes[taskID]
	if n == nil || n.status.Terminal() {
		return
	}
	prev := n.status

	if status == StatusCancelled && n.agentID != "" &&
		(prev == StatusDispatched || prev == StatusSynthesizing) {
		o.stopAgent(n, "task cancelled")
	}

	n.status = status
	g.ledger[taskID] = status == StatusCompleted
	o.publishNodeStatus(g, n)

	// Cancelling or failing a waiting parent takes its subtasks down too.
	if prev == StatusWaitingForSubtasks && status != StatusCompleted {
		for _, child := range n.children {
			o.finalize(g, child, StatusCancelled)
		}
	}

	switch status {
	case StatusCompleted:
		for _, to := range g.out[taskID] {
			o.maybeReady(g, to)
		}
	case StatusFailed:
		o.cancelDependents(g, taskID)
	}

	if n.parent != "" {
		o.checkParent(g, n.parent)
	}
}

// maybeReady promotes a Pending node whose dependencies are all Completed,
// and dispatches it.
func (o *Orchestrator) maybeReady(g *graphState, taskID string) {
	n := g.nodes[taskID]
	if n.status != StatusPending || !g.depsSatisfied(taskID) {
		return
	}
	n.status = StatusReady
	o.dispatchNode(g, n)
}

// cancelDependents walks the outgoing-edge closure of root breadth-first and
// cancels every non-terminal node it reaches. The synthetic tail edge from a
// subtask to its own parent is not followed; sibling completion logic owns
// the parent's fate.
func (o *Orchestrator) cancelDependents(g *graphState, rootID string) {
	visited := map[string]bool{rootID: true}
	queue := []string{rootID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, to := range g.out[cur] {
			if visited[to] {
				continue
			}
			visited[to] = true
			if g.nodes[cur].parent == to {
				continue
			}
			o.finalize(g, to, StatusCancelled)
			queue = append(queue, to)
		}
	}
}

// checkParent advances a WaitingForSubtasks parent when its stop condition
// is met.
func (o *Orchestrator) checkParent(g *graphState, parentID string) {
	parent := g.nodes[parentID]
	if parent == nil || parent.status != StatusWaitingForSubtasks {
		return
	}

	if parent.stop == message.StopFirstSuccess {
		for _, child := range parent.children {
			if g.nodes[child].status == StatusCompleted {
				o.startSynthesis(g, parent)
				return
			}
		}
	}

	for _, child := range parent.children {
		if !g.nodes[child].status.Terminal() {
			return
		}
	}

	if parent.stop == message.StopUserDecision && !parent.userDecided {
		parent.waitingUser = true
		o.logEvent("awaiting_user_decision", map[string]interface{}{
			"graph_id": g.id,
			"task_id":  parentID,
		})
		return
	}
	o.startSynthesis(g, parent)
}

// startSynthesis transitions the parent to Synthesizing, cancels any still
// running children (FirstSuccess losers) and hands the collated child
// results to the agent that proposed the decomposition. That agent's
// follow-up TaskCompleted finishes the parent.
//
// The status flip happens before the cancellations so that the nested
// checkParent calls they trigger see a parent already past
// WaitingForSubtasks and return without re-entering synthesis.
func (o *Orchestrator) startSynthesis(g *graphState, parent *node) {
	parent.status = StatusSynthesizing
	o.publishNodeStatus(g, parent)

	for _, child := range parent.children {
		if !g.nodes[child].status.Terminal() {
			o.finalize(g, child, StatusCancelled)
			o.cancelDependents(g, child)
		}
	}

	results := make([]message.SubtaskResult, 0, len(parent.children))
	for _, child := range parent.children {
		results = append(results, message.SubtaskResult{
			TaskID:  child,
			Success: g.ledger[child],
			Summary: g.nodes[child].summary,
		})
	}

	if err := o.router.Send(message.AddrOrchestrator, parent.proposer, message.SubtasksCompleted{
		ParentTaskID: parent.spec.ID,
		Results:      results,
	}); err != nil {
		log.Printf("[Orchestrator] synthesis agent %s unreachable for task %s: %v", parent.proposer, parent.spec.ID, err)
		o.finalize(g, parent.spec.ID, StatusFailed)
	}
}

// checkCompletion emits TaskGraphCompleted once every node is terminal, then
// forgets the graph.
func (o *Orchestrator) checkCompletion(g *graphState) {
	if g.done || !g.allTerminal() {
		return
	}
	g.done = true

	results := make(map[string]bool, len(g.ledger))
	for id, success := range g.ledger {
		results[id] = success
	}

	o.logEvent("graph_completed", map[string]interface{}{"graph_id": g.id, "tasks": len(results)})
	o.cfg.Bridge.PublishTaskGraphCompleted(g.id, results)
	o.publishGraphStatus(g, "completed")

	if o.cfg.NotifyAddr != "" {
		if err := o.router.Send(message.AddrOrchestrator, o.cfg.NotifyAddr, message.TaskGraphCompleted{
			GraphID: g.id,
			Results: results,
		}); err != nil {
			log.Printf("[Orchestrator] completion listener unreachable: %v", err)
		}
	}

	for _, id := range g.order {
		delete(o.taskIndex, id)
	}
	delete(o.graphs, g.id)
}

func (o *Orchestrator) stopAgent(n *node, reason string) {
	if n.agentID == "" {
		return
	}
	if err := o.router.Send(message.AddrOrchestrator, n.agentID, message.StopTask{
		TaskID: n.spec.ID,
		Reason: reason,
	}); err != nil {
		log.Printf("[Orchestrator] failed to stop agent %s: %v", n.agentID, err)
	}
}

func (o *Orchestrator) lookup(taskID string) (*graphState, *node, bool) {
	graphID, ok := o.taskIndex[taskID]
	if !ok {
		log.Printf("[Orchestrator] ignoring message for unknown task %s", taskID)
		return nil, nil, false
	}
	g := o.graphs[graphID]
	n := g.nodes[taskID]
	return g, n, true
}

func (o *Orchestrator) post(msg message.Message) {
	if err := o.mailbox.Post(message.Envelope{Source: message.AddrOrchestrator, Msg: msg}); err != nil {
		log.Printf("[Orchestrator] dropped %s: %v", msg.Kind(), err)
	}
}

func (o *Orchestrator) publishNodeStatus(g *graphState, n *node) {
	o.cfg.Bridge.PublishTaskNodeStatusChanged(g.id, n.spec.ID, string(n.status), n.agentID)
	if o.cfg.Board != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		key := fmt.Sprintf("graph/%s/task/%s", g.id, n.spec.ID)
		if err := o.cfg.Board.Publish(ctx, key, string(n.status), message.AddrOrchestrator); err != nil {
			log.Printf("[Orchestrator] failed to publish node signal: %v", err)
		}
	}
}

func (o *Orchestrator) publishGraphStatus(g *graphState, status string) {
	if o.cfg.Board == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	key := fmt.Sprintf("graph/%s/status", g.id)
	if err := o.cfg.Board.Publish(ctx, key, status, message.AddrOrchestrator); err != nil {
		log.Printf("[Orchestrator] failed to publish graph signal: %v", err)
	}
}

// logEvent emits a structured JSON event for machine-readable logs.
func (o *Orchestrator) logEvent(eventType string, fields map[string]interface{}) {
	payload := map[string]interface{}{"event": eventType}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Orchestrator] event=%s (marshal failed: %v)", eventType, err)
		return
	}
	log.Printf("[Orchestrator] %s", data)
}
