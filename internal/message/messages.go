// Package message defines the typed messages exchanged between Warren's
// actors, and the mailbox/router plumbing that carries them. Every message is
// a plain-data record: transporting one never shares mutable state between
// actors.
package message

import "time"

// Message is implemented by every record that can travel through a Mailbox.
// Kind returns the wire name of the message, which matches the orchestration
// contract name (e.g. "TaskAvailable", "RiskApproved").
type Message interface {
	Kind() string
}

// RiskLevel classifies how dangerous a task is to execute.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskNormal   RiskLevel = "Normal"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Validate checks that the RiskLevel is a known value.
func (r RiskLevel) Validate() bool {
	switch r {
	case RiskLow, RiskNormal, RiskHigh, RiskCritical:
		return true
	}
	return false
}

// TaskBudget carries the optional execution constraints of a task or graph.
// A zero Deadline or TokenCap means "no limit".
type TaskBudget struct {
	Deadline time.Duration `json:"deadline,omitempty"`
	TokenCap int           `json:"token_cap,omitempty"`
	Risk     RiskLevel     `json:"risk,omitempty"`

	// BidWindow overrides the dispatcher's auction window for this task;
	// zero keeps the dispatcher default.
	BidWindow time.Duration `json:"bid_window,omitempty"`
}

// RiskOrDefault returns the budget's risk level, defaulting to Normal when
// the budget is nil or carries no risk.
func (b *TaskBudget) RiskOrDefault() RiskLevel {
	if b == nil || b.Risk == "" {
		return RiskNormal
	}
	return b.Risk
}

// TaskSpec is the immutable description of one task, carried inside dispatch
// and assignment messages.
type TaskSpec struct {
	GraphID      string      `json:"graph_id"`
	TaskID       string      `json:"task_id"`
	Description  string      `json:"description"`
	Capabilities []string    `json:"capabilities"`
	Budget       *TaskBudget `json:"budget,omitempty"`
}

// TaskDispatchRequest asks the dispatcher to run an auction for a task.
// Sent by the orchestrator when a node becomes Ready.
type TaskDispatchRequest struct {
	Task      TaskSpec
	BidWindow time.Duration // zero means "use the dispatcher default"
}

func (TaskDispatchRequest) Kind() string { return "TaskDispatchRequest" }

// TaskAvailable announces an open auction to a capable agent.
type TaskAvailable struct {
	TaskID       string
	Description  string
	Capabilities []string
	BidWindow    time.Duration
}

func (TaskAvailable) Kind() string { return "TaskAvailable" }

// Bid is an agent's self-assessment for an open auction.
type Bid struct {
	TaskID            string
	AgentID           string
	Fitness           float64 // [0,1]: fraction of required capabilities held
	ActiveTaskCount   int
	EstimatedDuration time.Duration
	EstimatedTokens   int
}

func (Bid) Kind() string { return "Bid" }

// BidWindowExpired is the dispatcher's own timer tick closing an auction.
type BidWindowExpired struct {
	TaskID string
}

func (BidWindowExpired) Kind() string { return "BidWindowExpired" }

// TaskAwardedTo notifies the auction winner that it won.
type TaskAwardedTo struct {
	TaskID  string
	AgentID string
}

func (TaskAwardedTo) Kind() string { return "TaskAwardedTo" }

// TaskBidRejected notifies a losing bidder that its bid did not win.
type TaskBidRejected struct {
	TaskID  string
	AgentID string
	Reason  string
}

func (TaskBidRejected) Kind() string { return "TaskBidRejected" }

// TaskAssigned hands the full task to the winning agent for execution.
type TaskAssigned struct {
	Task    TaskSpec
	AgentID string
}

func (TaskAssigned) Kind() string { return "TaskAssigned" }

// TaskReadyForDispatch tells the orchestrator which agent was awarded a task,
// so the node can transition Ready -> Dispatched.
type TaskReadyForDispatch struct {
	TaskID  string
	AgentID string
}

func (TaskReadyForDispatch) Kind() string { return "TaskReadyForDispatch" }

// SubtaskProposal is one entry of a proposed decomposition. DependsOn holds
// indices into the same proposal list and may only reference earlier entries.
type SubtaskProposal struct {
	Description  string      `json:"description"`
	Capabilities []string    `json:"capabilities"`
	DependsOn    []int       `json:"depends_on,omitempty"`
	Budget       *TaskBudget `json:"budget,omitempty"`
}

// StopCondition controls when a decomposed parent stops waiting for its
// subtasks.
type StopCondition string

const (
	StopAllSubtasksComplete StopCondition = "AllSubtasksComplete"
	StopFirstSuccess        StopCondition = "FirstSuccess"
	StopUserDecision        StopCondition = "UserDecision"
)

// ProposedSubplan is a runtime decomposition proposal emitted by an executing
// agent instead of a normal completion.
type ProposedSubplan struct {
	ParentTaskID  string            `json:"parent_task_id"`
	Reason        string            `json:"reason"`
	Subtasks      []SubtaskProposal `json:"subtasks"`
	StopCondition StopCondition     `json:"stop_condition,omitempty"`
}

// ArtifactDecl is an artifact declared by a runtime during execution, before
// it is registered with the artifact registry.
type ArtifactDecl struct {
	Type        string `json:"type"`
	Format      string `json:"format"`
	URI         string `json:"uri"`
	ContentHash string `json:"content_hash,omitempty"`
}

// FailureData carries the diagnostics of a runtime execution failure.
type FailureData struct {
	Reason   string `json:"reason"`
	ExitCode int    `json:"exit_code,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// TaskCompleted reports the outcome of an executed task. When Subplan is
// non-nil the agent is proposing decomposition instead of completing.
type TaskCompleted struct {
	TaskID      string
	AgentID     string
	Success     bool
	Summary     string
	ArtifactIDs []string
	Subplan     *ProposedSubplan
}

func (TaskCompleted) Kind() string { return "TaskCompleted" }

// TaskFailed reports a task that cannot be completed. Emitted by the
// dispatcher (no capable agents, denied risk) or by an agent (runtime
// failure, stop signal).
type TaskFailed struct {
	TaskID            string
	Reason            string
	UnmetCapabilities []string
	Failure           *FailureData
}

func (TaskFailed) Kind() string { return "TaskFailed" }

// TaskDecompositionRejected tells the proposing agent that its subplan was
// refused; the parent task remains dispatched to it.
type TaskDecompositionRejected struct {
	TaskID string
	Reason string
}

func (TaskDecompositionRejected) Kind() string { return "TaskDecompositionRejected" }

// SubtaskResult is one child outcome inside SubtasksCompleted.
type SubtaskResult struct {
	TaskID  string
	Success bool
	Summary string
}

// SubtasksCompleted asks the decomposing agent to synthesize its children's
// results into the parent's final output.
type SubtasksCompleted struct {
	ParentTaskID string
	Results      []SubtaskResult
}

func (SubtasksCompleted) Kind() string { return "SubtasksCompleted" }

// StopTask orders an agent to abandon an in-flight task. The agent cancels
// its runtime and answers with a terminal TaskFailed.
type StopTask struct {
	TaskID string
	Reason string
}

func (StopTask) Kind() string { return "StopTask" }

// RiskApprovalRequired is sent to the configured approver channel before a
// Critical task may be awarded.
type RiskApprovalRequired struct {
	TaskID      string
	Risk        RiskLevel
	Description string
}

func (RiskApprovalRequired) Kind() string { return "RiskApprovalRequired" }

// RiskApproved releases a held Critical award. Only honoured when it arrives
// from the configured approver channel.
type RiskApproved struct {
	TaskID string
}

func (RiskApproved) Kind() string { return "RiskApproved" }

// RiskDenied refuses a held Critical award.
type RiskDenied struct {
	TaskID string
	Reason string
}

func (RiskDenied) Kind() string { return "RiskDenied" }

// RiskApprovalTimeout is the dispatcher's own timer tick failing a held
// Critical task after the approval window elapses.
type RiskApprovalTimeout struct {
	TaskID string
}

func (RiskApprovalTimeout) Kind() string { return "RiskApprovalTimeout" }

// GraphDeadline is the orchestrator's own timer tick firing a graph-wide
// deadline.
type GraphDeadline struct {
	GraphID string
}

func (GraphDeadline) Kind() string { return "GraphDeadline" }

// TaskDeadline is the orchestrator's own timer tick firing a per-task
// deadline.
type TaskDeadline struct {
	GraphID string
	TaskID  string
}

func (TaskDeadline) Kind() string { return "TaskDeadline" }

// UserDecision resumes a parent held under the UserDecision stop condition.
type UserDecision struct {
	ParentTaskID string
}

func (UserDecision) Kind() string { return "UserDecision" }

// TaskGraphCompleted reports the final per-task outcome of a whole graph.
type TaskGraphCompleted struct {
	GraphID string
	Results map[string]bool
}

func (TaskGraphCompleted) Kind() string { return "TaskGraphCompleted" }

// ChildTerminated reports an agent actor exiting, cleanly or not. Handled by
// the supervisor like any other message.
type ChildTerminated struct {
	AgentID string
	Err     string
}

func (ChildTerminated) Kind() string { return "ChildTerminated" }
