package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/watch"
)

var (
	watchPrefix string
	watchJSON   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream blackboard signals for the instance",
	Long: `Stream every signal the fleet publishes, live.

Graph progress, per-task status changes and submissions all flow over the
blackboard; watch renders them one line per signal until interrupted.

Examples:
  # Everything the fleet publishes
  warren watch

  # One graph's signals only
  warren watch --prefix graph/4f2a

  # Machine-readable stream for jq
  warren watch --json | jq 'select(.key | startswith("graph/"))'`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchPrefix, "prefix", "", "Keep only signals whose key starts with this prefix")
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Output one JSON object per signal")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	board, err := newBoard(ctx, cfg)
	if err != nil {
		return err
	}
	defer board.Close()

	if !watchJSON {
		printer.Step("Watching instance '%s' (Ctrl-C to stop)\n", cfg.Instance)
	}

	if err := watch.Stream(ctx, board, os.Stdout, watch.Options{Prefix: watchPrefix, JSON: watchJSON}); err != nil {
		return printer.Error("Watch failed", err.Error(), nil)
	}
	return nil
}
