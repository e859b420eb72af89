// Package dispatch runs sealed-bid auctions that match ready tasks to
// capable agents. The dispatcher announces each task to every agent whose
// registered skills cover it, collects bids for a fixed window, ranks them
// and awards the task. Critical-risk awards are held for explicit approval
// before the winner is told anything.
package dispatch

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/dyluth/warren/internal/message"
	"github.com/dyluth/warren/internal/skills"
)

const (
	// DefaultBidWindow is how long an auction stays open for bids.
	DefaultBidWindow = 250 * time.Millisecond

	// DefaultApprovalTimeout bounds how long a Critical award waits for the
	// approver before the task fails.
	DefaultApprovalTimeout = 60 * time.Second
)

// Config carries the dispatcher's collaborators and timing knobs.
type Config struct {
	Skills          *skills.Registry
	BidWindow       time.Duration
	ApprovalTimeout time.Duration

	// ApproverAddr receives RiskApprovalRequired for Critical tasks.
	// RiskApproved and RiskDenied are honoured only when their envelope
	// source matches this address; anything else claiming to approve is
	// ignored.
	ApproverAddr string
}

// auction is the dispatcher's state for one open task.
type auction struct {
	task       message.TaskSpec
	candidates []string // capable agents, sorted by id
	bids       map[string]message.Bid
	bidOrder   []string // agent ids in bid-arrival order
	closed     bool

	// winner and awaitingApproval are set once the window closes on a
	// Critical task that needs sign-off.
	winner           string
	awaitingApproval bool
}

// Dispatcher is the auction actor.
type Dispatcher struct {
	cfg     Config
	router  *message.Router
	mailbox *message.Mailbox

	auctions map[string]*auction
}

// New creates the dispatcher and registers its mailbox on the router.
func New(router *message.Router, cfg Config) *Dispatcher {
	if cfg.BidWindow == 0 {
		cfg.BidWindow = DefaultBidWindow
	}
	if cfg.ApprovalTimeout == 0 {
		cfg.ApprovalTimeout = DefaultApprovalTimeout
	}
	if cfg.Skills == nil {
		cfg.Skills = skills.NewRegistry()
	}

	d := &Dispatcher{
		cfg:      cfg,
		router:   router,
		mailbox:  message.NewMailbox(),
		auctions: make(map[string]*auction),
	}
	router.Register(message.AddrDispatcher, d.mailbox)
	return d
}

// Run processes mailbox messages until ctx is cancelled or the mailbox
// closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logEvent("dispatcher_started", map[string]interface{}{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-d.mailbox.C:
			if !ok {
				return nil
			}
			d.handle(env)
		}
	}
}

// Stop closes the mailbox; Run drains and returns.
func (d *Dispatcher) Stop() {
	d.mailbox.Close()
}

func (d *Dispatcher) handle(env message.Envelope) {
	switch msg := env.Msg.(type) {
	case message.TaskDispatchRequest:
		d.handleRequest(msg)
	case message.Bid:
		d.handleBid(env.Source, msg)
	case message.BidWindowExpired:
		d.handleWindowExpired(msg)
	case message.RiskApproved:
		d.handleRiskApproved(env.Source, msg)
	case message.RiskDenied:
		d.handleRiskDenied(env.Source, msg)
	case message.RiskApprovalTimeout:
		d.handleApprovalTimeout(msg)
	default:
		log.Printf("[Dispatcher] ignoring %s from %s", env.Msg.Kind(), env.Source)
	}
}

func (d *Dispatcher) handleRequest(msg message.TaskDispatchRequest) {
	task := msg.Task
	if _, exists := d.auctions[task.TaskID]; exists {
		log.Printf("[Dispatcher] auction for task %s already open", task.TaskID)
		return
	}

	candidates := d.cfg.Skills.FindCapable(task.Capabilities)
	if len(candidates) == 0 {
		unmet := d.unmetCapabilities(task.Capabilities)
		d.logEvent("no_capable_agents", map[string]interface{}{
			"task_id": task.TaskID,
			"unmet":   unmet,
		})
		d.sendOrchestrator(message.TaskFailed{
			TaskID:            task.TaskID,
			Reason:            "no capable agents",
			UnmetCapabilities: unmet,
		})
		return
	}

	window := msg.BidWindow
	if window == 0 {
		window = d.cfg.BidWindow
	}

	a := &auction{task: task, candidates: candidates, bids: make(map[string]message.Bid)}
	d.auctions[task.TaskID] = a

	d.logEvent("auction_opened", map[string]interface{}{
		"task_id":    task.TaskID,
		"candidates": len(candidates),
		"window_ms":  window.Milliseconds(),
	})

	announce := message.TaskAvailable{
		TaskID:       task.TaskID,
		Description:  task.Description,
		Capabilities: task.Capabilities,
		BidWindow:    window,
	}
	for _, agentID := range candidates {
		if err := d.router.Send(message.AddrDispatcher, agentID, announce); err != nil {
			log.Printf("[Dispatcher] failed to announce task %s to %s: %v", task.TaskID, agentID, err)
		}
	}

	if window > 0 {
		taskID := task.TaskID
		time.AfterFunc(window, func() {
			d.post(message.BidWindowExpired{TaskID: taskID})
		})
	} else {
		// A non-positive window closes on the next mailbox pass, before any
		// bid can arrive, which forces the first-match fallback.
		d.post(message.BidWindowExpired{TaskID: task.TaskID})
	}
}

func (d *Dispatcher) handleBid(source string, bid message.Bid) {
	a, ok := d.auctions[bid.TaskID]
	if !ok || a.closed {
		d.rejectBid(bid, "bid window closed")
		return
	}
	if source != bid.AgentID {
		log.Printf("[Dispatcher] dropping bid for task %s: source %s claims to be %s", bid.TaskID, source, bid.AgentID)
		return
	}
	if !containsAgent(a.candidates, bid.AgentID) {
		d.rejectBid(bid, "not capable of this task")
		return
	}
	if _, dup := a.bids[bid.AgentID]; dup {
		d.rejectBid(bid, "duplicate bid")
		return
	}
	a.bids[bid.AgentID] = bid
	a.bidOrder = append(a.bidOrder, bid.AgentID)
}

// handleWindowExpired closes the auction and picks the winner: best bid by
// ranking, or the first capable agent when nobody bid in time.
func (d *Dispatcher) handleWindowExpired(msg message.BidWindowExpired) {
	a, ok := d.auctions[msg.TaskID]
	if !ok || a.closed {
		return
	}
	a.closed = true

	winner := a.candidates[0]
	if len(a.bids) > 0 {
		ranked := make([]message.Bid, 0, len(a.bids))
		for _, agentID := range a.bidOrder {
			ranked = append(ranked, a.bids[agentID])
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return lessBid(ranked[i], ranked[j])
		})
		winner = ranked[0].AgentID
	} else {
		d.logEvent("no_bids_fallback", map[string]interface{}{
			"task_id": msg.TaskID,
			"agent":   winner,
		})
	}

	if a.task.Budget.RiskOrDefault() == message.RiskCritical {
		d.holdForApproval(a, winner)
		return
	}
	d.award(a, winner)
}

// lessBid is the auction ranking: higher fitness wins, then fewer active
// tasks, then shorter estimated duration, then lexicographic agent id.
func lessBid(a, b message.Bid) bool {
	if a.Fitness != b.Fitness {
		return a.Fitness > b.Fitness
	}
	if a.ActiveTaskCount != b.ActiveTaskCount {
		return a.ActiveTaskCount < b.ActiveTaskCount
	}
	if a.EstimatedDuration != b.EstimatedDuration {
		return a.EstimatedDuration < b.EstimatedDuration
	}
	return a.AgentID < b.AgentID
}

// holdForApproval parks a Critical award until the approver answers or the
// approval window elapses. The winner is not told anything while held.
func (d *Dispatcher) holdForApproval(a *auction, winner string) {
	if d.cfg.ApproverAddr == "" {
		d.failAuction(a, "critical task has no configured approver")
		return
	}
	a.winner = winner
	a.awaitingApproval = true

	d.logEvent("risk_approval_requested", map[string]interface{}{
		"task_id": a.task.TaskID,
		"risk":    string(message.RiskCritical),
		"agent":   winner,
	})
	if err := d.router.Send(message.AddrDispatcher, d.cfg.ApproverAddr, message.RiskApprovalRequired{
		TaskID:      a.task.TaskID,
		Risk:        message.RiskCritical,
		Description: a.task.Description,
	}); err != nil {
		log.Printf("[Dispatcher] approver unreachable: %v", err)
		d.failAuction(a, "risk approver unreachable")
		return
	}

	taskID := a.task.TaskID
	time.AfterFunc(d.cfg.ApprovalTimeout, func() {
		d.post(message.RiskApprovalTimeout{TaskID: taskID})
	})
}

func (d *Dispatcher) handleRiskApproved(source string, msg message.RiskApproved) {
	a, ok := d.auctions[msg.TaskID]
	if !ok || !a.awaitingApproval {
		return
	}
	if source != d.cfg.ApproverAddr {
		log.Printf("[Dispatcher] ignoring approval for task %s from untrusted source %s", msg.TaskID, source)
		return
	}
	a.awaitingApproval = false
	d.award(a, a.winner)
}

func (d *Dispatcher) handleRiskDenied(source string, msg message.RiskDenied) {
	a, ok := d.auctions[msg.TaskID]
	if !ok || !a.awaitingApproval {
		return
	}
	if source != d.cfg.ApproverAddr {
		log.Printf("[Dispatcher] ignoring denial for task %s from untrusted source %s", msg.TaskID, source)
		return
	}
	reason := "risk approval denied"
	if msg.Reason != "" {
		reason = "risk approval denied: " + msg.Reason
	}
	d.failAuction(a, reason)
}

func (d *Dispatcher) handleApprovalTimeout(msg message.RiskApprovalTimeout) {
	a, ok := d.auctions[msg.TaskID]
	if !ok || !a.awaitingApproval {
		return
	}
	d.failAuction(a, "risk approval timed out")
}

// award notifies the winner, the losers and the orchestrator, then forgets
// the auction. Exactly one TaskAssigned is ever sent per task.
func (d *Dispatcher) award(a *auction, winner string) {
	delete(d.auctions, a.task.TaskID)

	d.logEvent("task_awarded", map[string]interface{}{
		"task_id": a.task.TaskID,
		"agent":   winner,
		"bids":    len(a.bids),
	})

	if err := d.router.Send(message.AddrDispatcher, winner, message.TaskAwardedTo{
		TaskID:  a.task.TaskID,
		AgentID: winner,
	}); err != nil {
		log.Printf("[Dispatcher] winner %s unreachable for task %s: %v", winner, a.task.TaskID, err)
		d.sendOrchestrator(message.TaskFailed{TaskID: a.task.TaskID, Reason: "awarded agent unreachable"})
		return
	}
	for _, agentID := range a.bidOrder {
		if agentID == winner {
			continue
		}
		d.rejectBid(a.bids[agentID], "outbid")
	}

	if err := d.router.Send(message.AddrDispatcher, winner, message.TaskAssigned{
		Task:    a.task,
		AgentID: winner,
	}); err != nil {
		log.Printf("[Dispatcher] failed to assign task %s: %v", a.task.TaskID, err)
		d.sendOrchestrator(message.TaskFailed{TaskID: a.task.TaskID, Reason: "awarded agent unreachable"})
		return
	}
	d.sendOrchestrator(message.TaskReadyForDispatch{TaskID: a.task.TaskID, AgentID: winner})
}

// failAuction reports the task failed, tells every bidder it lost and
// forgets the auction.
func (d *Dispatcher) failAuction(a *auction, reason string) {
	delete(d.auctions, a.task.TaskID)
	d.logEvent("auction_failed", map[string]interface{}{
		"task_id": a.task.TaskID,
		"reason":  reason,
	})
	for _, agentID := range a.bidOrder {
		d.rejectBid(a.bids[agentID], reason)
	}
	d.sendOrchestrator(message.TaskFailed{TaskID: a.task.TaskID, Reason: reason})
}

func (d *Dispatcher) rejectBid(bid message.Bid, reason string) {
	if err := d.router.Send(message.AddrDispatcher, bid.AgentID, message.TaskBidRejected{
		TaskID:  bid.TaskID,
		AgentID: bid.AgentID,
		Reason:  reason,
	}); err != nil {
		log.Printf("[Dispatcher] failed to reject bid from %s: %v", bid.AgentID, err)
	}
}

// unmetCapabilities returns the required capabilities that no registered
// agent holds, for the failure report.
func (d *Dispatcher) unmetCapabilities(required []string) []string {
	agents := d.cfg.Skills.FindCapable(nil)
	var unmet []string
	for _, capability := range required {
		held := false
		for _, agentID := range agents {
			if d.cfg.Skills.IsCapable(agentID, []string{capability}) {
				held = true
				break
			}
		}
		if !held {
			unmet = append(unmet, capability)
		}
	}
	return unmet
}

func containsAgent(agents []string, id string) bool {
	for _, a := range agents {
		if a == id {
			return true
		}
	}
	return false
}

func (d *Dispatcher) sendOrchestrator(msg message.Message) {
	if err := d.router.Send(message.AddrDispatcher, message.AddrOrchestrator, msg); err != nil {
		log.Printf("[Dispatcher] orchestrator unreachable: %v", err)
	}
}

func (d *Dispatcher) post(msg message.Message) {
	if err := d.mailbox.Post(message.Envelope{Source: message.AddrDispatcher, Msg: msg}); err != nil {
		log.Printf("[Dispatcher] dropped %s: %v", msg.Kind(), err)
	}
}

func (d *Dispatcher) logEvent(eventType string, fields map[string]interface{}) {
	payload := map[string]interface{}{"event": eventType}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Dispatcher] event=%s (marshal failed: %v)", eventType, err)
		return
	}
	log.Printf("[Dispatcher] %s", data)
}
