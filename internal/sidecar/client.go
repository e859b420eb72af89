// Package sidecar shells out to the memory-sidecar command for knowledge
// retrieval and storage. The sidecar owns embedding and ranking; Warren only
// speaks its CLI protocol.
//
// All operations degrade gracefully: a missing binary, non-zero exit or
// malformed JSON yields an empty result (retrieval) or a no-op (storage),
// never an error the caller must handle. Agents treat retrieved context as a
// bonus, not a dependency.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"time"
)

// DefaultBinary is the sidecar command name resolved via PATH.
const DefaultBinary = "memory-sidecar"

// DefaultTimeout bounds one sidecar invocation.
const DefaultTimeout = 5 * time.Second

// Knowledge categories accepted by the sidecar's store verb.
var validCategories = map[string]bool{
	"pattern":    true,
	"pitfall":    true,
	"codebase":   true,
	"preference": true,
	"outcome":    true,
}

// KnowledgeEntry is one result of a query invocation.
type KnowledgeEntry struct {
	Content   string            `json:"content"`
	Category  string            `json:"category"`
	Tags      map[string]string `json:"tags"`
	StoredAt  string            `json:"stored_at"`
	Relevance float64           `json:"relevance"`
}

// CodeMatch is one result of a search invocation.
type CodeMatch struct {
	Filename string  `json:"filename"`
	Location string  `json:"location"`
	Language string  `json:"language"`
	Code     string  `json:"code"`
	Score    float64 `json:"score"`
}

// Client invokes the memory-sidecar CLI. Safe for concurrent use; the
// sidecar serializes concurrent invocations itself.
type Client struct {
	binary  string
	timeout time.Duration
}

// NewClient creates a client for the default binary and timeout.
func NewClient() *Client {
	return &Client{binary: DefaultBinary, timeout: DefaultTimeout}
}

// NewClientWith creates a client with an explicit binary path and timeout.
// Zero values fall back to the defaults.
func NewClientWith(binary string, timeout time.Duration) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{binary: binary, timeout: timeout}
}

// Query retrieves knowledge entries relevant to text for one agent.
// Returns nil on any sidecar failure.
func (c *Client) Query(ctx context.Context, text, agentID string, topK int) []KnowledgeEntry {
	args := []string{"query", text, "--agent", agentID, "--top-k", strconv.Itoa(topK), "--json-output"}

	stdout, ok := c.run(ctx, args)
	if !ok {
		return nil
	}

	var entries []KnowledgeEntry
	if err := json.Unmarshal(stdout, &entries); err != nil {
		log.Printf("[Sidecar] invalid query output, treating as empty: %v", err)
		return nil
	}
	return entries
}

// Search retrieves code matches for text across the indexed codebase.
// Returns nil on any sidecar failure.
func (c *Client) Search(ctx context.Context, text string) []CodeMatch {
	stdout, ok := c.run(ctx, []string{"search", text, "--json-output"})
	if !ok {
		return nil
	}

	var matches []CodeMatch
	if err := json.Unmarshal(stdout, &matches); err != nil {
		log.Printf("[Sidecar] invalid search output, treating as empty: %v", err)
		return nil
	}
	return matches
}

// Store writes one knowledge entry for an agent. Tags are passed as
// key:value pairs. Failures, including an unknown category, are logged and
// swallowed: storage is loss-tolerant.
func (c *Client) Store(ctx context.Context, content, agentID, category string, tags map[string]string) {
	if !validCategories[category] {
		log.Printf("[Sidecar] unknown category %q, dropping store", category)
		return
	}

	args := []string{"store", content, "--agent", agentID, "--category", category}
	for k, v := range tags {
		args = append(args, "--tag", fmt.Sprintf("%s:%s", k, v))
	}

	c.run(ctx, args)
}

// run executes one sidecar invocation. Returns stdout and whether the
// invocation succeeded; failures are logged, not returned.
func (c *Client) run(ctx context.Context, args []string) ([]byte, bool) {
	execCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, c.binary, args...)
	// Once the deadline kills the binary, a helper it forked could still
	// hold stdout open; WaitDelay bounds how long Run waits on the pipes.
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			log.Printf("[Sidecar] %s timed out after %s", args[0], c.timeout)
		} else {
			log.Printf("[Sidecar] %s failed: %v (stderr: %s)", args[0], err, truncate(stderr.String(), 200))
		}
		return nil, false
	}
	return stdout.Bytes(), true
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
