package commands

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/gateway"
	"github.com/dyluth/warren/internal/graph"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/watch"
)

var (
	submitTimeout     time.Duration
	submitWait        bool
	submitWaitTimeout time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit GRAPH_FILE",
	Short: "Submit a task graph to the fleet daemon",
	Long: `Submit a task graph for execution.

The graph file is JSON with task nodes and dependency edges:

  {
    "nodes": [
      {"id": "build", "description": "Build the service", "capabilities": ["go"]},
      {"id": "test", "description": "Run the test suite", "capabilities": ["go"]}
    ],
    "edges": [{"from": "build", "to": "test"}]
  }

The daemon validates the graph (acyclic, unique ids, resolvable edges)
before accepting it; rejections are reported with the reason.

Examples:
  # Submit and return immediately
  warren submit release.json

  # Submit and block until every task is terminal
  warren submit release.json --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 10*time.Second, "How long to wait for the daemon's verdict")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Block until the graph completes")
	submitCmd.Flags().DurationVar(&submitWaitTimeout, "wait-timeout", 10*time.Minute, "How long --wait blocks before giving up")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return printer.Error("Cannot read graph file", err.Error(), nil)
	}

	var spec graph.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return printer.ErrorWithContext(
			"Invalid task graph",
			"The graph file is not valid JSON.",
			map[string]string{"File": args[0], "Parse error": err.Error()},
			nil,
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	board, err := newBoard(ctx, cfg)
	if err != nil {
		return err
	}
	defer board.Close()

	res, err := gateway.Submit(ctx, board, spec, submitTimeout)
	if err != nil {
		return printer.Error(
			"Submission failed",
			err.Error(),
			[]string{"Check that the fleet daemon is running for this instance"},
		)
	}
	if !res.Accepted {
		return printer.ErrorWithContext(
			"Graph rejected",
			res.Error,
			map[string]string{"Instance": cfg.Instance},
			nil,
		)
	}

	printer.Success("Graph %s accepted (%d tasks, %d edges)\n", res.GraphID, res.Nodes, res.Edges)

	if !submitWait {
		printer.Info("Follow progress with: warren watch --prefix graph/%s\n", res.GraphID)
		return nil
	}

	printer.Step("Waiting for graph %s to complete...\n", res.GraphID)
	status, err := watch.WaitForGraph(ctx, board, res.GraphID, submitWaitTimeout)
	if err != nil {
		return printer.Error("Wait failed", err.Error(), nil)
	}
	printer.Success("Graph %s %s\n", res.GraphID, status)
	return nil
}
