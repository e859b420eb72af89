package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/artifact"
	"github.com/dyluth/warren/internal/filter"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/internal/resolver"
	"github.com/dyluth/warren/internal/timespec"
)

var (
	artifactsTask   string
	artifactsType   string
	artifactsAgent  string
	artifactsSince  string
	artifactsUntil  string
	artifactsOutput string
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts [ARTIFACT_ID]",
	Short: "Inspect registered artifacts",
	Long: `Inspect the artifact registry in list or get mode.

List Mode (no ARTIFACT_ID):
  Displays artifacts as a table or JSONL stream, optionally filtered.

Filters (list mode only, ANDed together):
  --task   - Producing task id (exact match)
  --type   - Artifact type (glob pattern: "diff", "report*")
  --agent  - Producing agent id (exact match)
  --since  - Created after this time (duration like "2h" or RFC3339)
  --until  - Created before this time

Get Mode (with ARTIFACT_ID):
  Displays one artifact as pretty-printed JSON, validator results included.
  Supports short IDs (e.g., "abc123" instead of the full UUID).

Examples:
  # All artifacts of the instance
  warren artifacts

  # Artifacts a single task produced
  warren artifacts --task build

  # Recent diff artifacts only, as JSONL for jq
  warren artifacts --type diff --since 2h --output jsonl

  # One artifact by short ID
  warren artifacts 4f2a91`,
	Args: cobra.MaximumNArgs(1),
	RunE: runArtifacts,
}

func init() {
	artifactsCmd.Flags().StringVar(&artifactsTask, "task", "", "Filter by producing task id (list mode)")
	artifactsCmd.Flags().StringVar(&artifactsType, "type", "", "Filter by artifact type, glob pattern (list mode)")
	artifactsCmd.Flags().StringVar(&artifactsAgent, "agent", "", "Filter by producing agent id (list mode)")
	artifactsCmd.Flags().StringVar(&artifactsSince, "since", "", "Show artifacts created after this time (list mode)")
	artifactsCmd.Flags().StringVar(&artifactsUntil, "until", "", "Show artifacts created before this time (list mode)")
	artifactsCmd.Flags().StringVarP(&artifactsOutput, "output", "o", "default", "Output format: default or jsonl (list mode)")
	rootCmd.AddCommand(artifactsCmd)
}

func runArtifacts(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts, err := redisOptions(cfg)
	if err != nil {
		return err
	}
	registry, err := artifact.NewRegistry(opts, cfg.Instance)
	if err != nil {
		return printer.Error("Failed to open artifact registry", err.Error(), nil)
	}
	defer registry.Close()

	if len(args) > 0 {
		return getArtifact(ctx, registry, args[0])
	}
	return listArtifacts(ctx, registry, cfg.Instance)
}

func getArtifact(ctx context.Context, registry *artifact.Registry, shortID string) error {
	id, err := resolver.ResolveArtifactID(ctx, registry, shortID)
	if err != nil {
		var ambiguous *resolver.AmbiguousError
		if errors.As(err, &ambiguous) {
			fmt.Fprintln(os.Stderr, resolver.FormatAmbiguousError(ambiguous))
			return fmt.Errorf("ambiguous artifact id")
		}
		return printer.Error("Artifact not found", err.Error(), nil)
	}

	a, err := registry.Get(ctx, id)
	if err != nil {
		return printer.Error("Failed to fetch artifact", err.Error(), nil)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return printer.Error("Failed to encode artifact", err.Error(), nil)
	}
	printer.Println(string(data))
	return nil
}

func listArtifacts(ctx context.Context, registry *artifact.Registry, instance string) error {
	sinceMS, untilMS, err := timespec.ParseRange(artifactsSince, artifactsUntil)
	if err != nil {
		return printer.Error("Invalid time filter", err.Error(), nil)
	}

	var artifacts []*artifact.Artifact
	if artifactsTask != "" {
		artifacts, err = registry.ListByTask(ctx, artifactsTask)
	} else {
		artifacts, err = registry.ListAll(ctx)
	}
	if err != nil {
		return printer.Error("Failed to list artifacts", err.Error(), nil)
	}

	criteria := filter.Criteria{
		SinceTimestampMs: sinceMS,
		UntilTimestampMs: untilMS,
		TypeGlob:         artifactsType,
		AgentID:          artifactsAgent,
	}
	artifacts = criteria.Apply(artifacts)

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Provenance.CreatedAtMs < artifacts[j].Provenance.CreatedAtMs
	})

	if artifactsOutput == "jsonl" {
		for _, a := range artifacts {
			data, err := json.Marshal(a)
			if err != nil {
				return printer.Error("Failed to encode artifact", err.Error(), nil)
			}
			fmt.Println(string(data))
		}
		return nil
	}

	if len(artifacts) == 0 {
		printer.Info("No artifacts found for instance '%s'\n", instance)
		return nil
	}

	rows := make([][]string, 0, len(artifacts))
	for _, a := range artifacts {
		rows = append(rows, []string{
			shortenID(a.ID),
			a.Type,
			a.Provenance.TaskID,
			a.Provenance.AgentID,
			formatAge(a.CreatedAt()),
			a.URI,
		})
	}
	printer.Table(os.Stdout, []string{"ID", "TYPE", "TASK", "AGENT", "AGE", "URI"}, rows)
	printer.Printf("\n%d artifact(s) found\n", len(artifacts))
	return nil
}

func shortenID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatAge(created time.Time) string {
	if created.IsZero() || created.UnixMilli() == 0 {
		return "-"
	}
	age := time.Since(created)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
