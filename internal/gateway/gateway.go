// Package gateway carries task-graph submissions from the CLI to the fleet
// daemon over the blackboard. The CLI publishes a graph spec under a
// one-shot request key and waits for the daemon's verdict on the matching
// result key; the daemon side listens on the broadcast channel and feeds
// accepted graphs to the orchestrator.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dyluth/warren/internal/graph"
	"github.com/dyluth/warren/pkg/blackboard"
)

const (
	// requestPrefix namespaces submission request keys: submit/<token>.
	requestPrefix = "submit/"

	// resultSuffix marks the daemon's reply key: submit/<token>/result.
	resultSuffix = "/result"
)

// Result is the daemon's verdict on one submission.
type Result struct {
	Accepted bool   `json:"accepted"`
	GraphID  string `json:"graph_id,omitempty"`
	Nodes    int    `json:"nodes,omitempty"`
	Edges    int    `json:"edges,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Submitter is the orchestrator surface the listener needs.
type Submitter interface {
	Submit(ctx context.Context, spec graph.Spec) (graph.Accepted, error)
}

// Listener is the daemon side of the gateway.
type Listener struct {
	board *blackboard.Client
	orch  Submitter
}

// NewListener builds a listener that forwards submissions to orch.
func NewListener(board *blackboard.Client, orch Submitter) *Listener {
	return &Listener{board: board, orch: orch}
}

// Run consumes submission requests until ctx is cancelled. Each request is
// answered exactly once on its result key, acceptance and rejection alike.
func (l *Listener) Run(ctx context.Context) error {
	sub, err := l.board.SubscribeBroadcast(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe for submissions: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if sig == nil || !isRequestKey(sig.Key) {
				continue
			}
			l.handle(ctx, sig)
		}
	}
}

func isRequestKey(key string) bool {
	return strings.HasPrefix(key, requestPrefix) && !strings.HasSuffix(key, resultSuffix)
}

func (l *Listener) handle(ctx context.Context, sig *blackboard.Signal) {
	var res Result

	var spec graph.Spec
	if err := json.Unmarshal([]byte(sig.Value), &spec); err != nil {
		res.Error = fmt.Sprintf("invalid graph spec: %v", err)
	} else if accepted, err := l.orch.Submit(ctx, spec); err != nil {
		res.Error = err.Error()
	} else {
		res = Result{
			Accepted: true,
			GraphID:  accepted.GraphID,
			Nodes:    accepted.NodeCount,
			Edges:    accepted.EdgeCount,
		}
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	// Best effort: a lost reply means the submitter times out, the graph
	// itself is already accepted or rejected either way.
	_ = l.board.Publish(ctx, sig.Key+resultSuffix, string(payload), "orchestrator")
}

// Submit publishes spec as a submission request and waits for the daemon's
// verdict. The returned Result is meaningful only when err is nil; a
// rejected graph comes back as a Result with Accepted false and the
// rejection reason in Error.
func Submit(ctx context.Context, board *blackboard.Client, spec graph.Spec, timeout time.Duration) (Result, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode graph spec: %w", err)
	}

	token := uuid.New().String()
	resultKey := requestPrefix + token + resultSuffix

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Subscribe to the reply key before publishing the request so the
	// verdict cannot slip past between publish and subscribe.
	sub, err := board.Subscribe(ctx, resultKey)
	if err != nil {
		return Result{}, fmt.Errorf("failed to subscribe for verdict: %w", err)
	}
	defer sub.Close()

	if err := board.Publish(ctx, requestPrefix+token, string(payload), "cli"); err != nil {
		return Result{}, fmt.Errorf("failed to publish submission: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return Result{}, fmt.Errorf("no response from fleet daemon: %w", ctx.Err())
		case err := <-sub.Errors():
			return Result{}, fmt.Errorf("submission subscription failed: %w", err)
		case sig, ok := <-sub.Events():
			if !ok {
				return Result{}, fmt.Errorf("submission subscription closed")
			}
			if sig == nil {
				continue
			}
			var res Result
			if err := json.Unmarshal([]byte(sig.Value), &res); err != nil {
				return Result{}, fmt.Errorf("malformed verdict: %w", err)
			}
			return res, nil
		}
	}
}
