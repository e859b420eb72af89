// Package watch streams blackboard signals for the CLI: live fleet
// observation and waiting on a submitted graph's outcome.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dyluth/warren/pkg/blackboard"
)

// Options controls what Stream renders.
type Options struct {
	// Prefix keeps only signals whose key starts with it; empty keeps all.
	Prefix string

	// JSON renders each signal as one JSON object per line instead of the
	// human-readable form.
	JSON bool
}

// Stream subscribes to the instance broadcast channel and writes one line
// per signal to w until ctx is cancelled. Cancellation is a clean stop, not
// an error.
func Stream(ctx context.Context, client *blackboard.Client, w io.Writer, opts Options) error {
	sub, err := client.SubscribeBroadcast(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to broadcast: %w", err)
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Errors():
			fmt.Fprintf(w, "warning: %v\n", err)
		case sig, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if sig == nil || !strings.HasPrefix(sig.Key, opts.Prefix) {
				continue
			}
			writeSignal(w, sig, opts.JSON)
		}
	}
}

func writeSignal(w io.Writer, sig *blackboard.Signal, asJSON bool) {
	if asJSON {
		data, err := json.Marshal(sig)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "%s\n", data)
		return
	}
	fmt.Fprintf(w, "%s  %s = %s  (%s)\n",
		sig.LastUpdated().Format("15:04:05"), sig.Key, sig.Value, sig.PublisherID)
}

// WaitForGraph polls the graph's status signal until it leaves "running"
// and returns the final value ("completed" once every task is terminal).
// Polls every 200ms for at most timeout.
func WaitForGraph(ctx context.Context, client *blackboard.Client, graphID string, timeout time.Duration) (string, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)
	key := fmt.Sprintf("graph/%s/status", graphID)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case <-timeoutCh:
			return "", fmt.Errorf("timeout waiting for graph %s after %v", graphID, timeout)

		case <-ticker.C:
			sig, err := client.Get(ctx, key)
			if err != nil {
				if blackboard.IsNotFound(err) {
					// Completion deletes nothing, so not-found means the
					// daemon has not accepted the graph yet.
					continue
				}
				return "", fmt.Errorf("failed to query graph status: %w", err)
			}
			if sig.Value != "running" {
				return sig.Value, nil
			}
		}
	}
}
