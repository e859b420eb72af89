package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/printer"
	"github.com/dyluth/warren/pkg/blackboard"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath       string
	instanceOverride string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "warren",
	Short: "Warren - multi-agent coding fleet orchestrator",
	Long: `Warren runs a fleet of specialized AI coding agents against task graphs.

The fleet daemon validates submitted graphs, auctions ready tasks to capable
agents, runs each task in the agent's configured runtime and synthesizes
decomposed work back together. This CLI submits graphs, watches the
blackboard and inspects registered artifacts.`,
	Version: version,
	// Show help when invoked without a subcommand instead of succeeding
	// silently.
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "warren.yml", "Path to the fleet configuration")
	rootCmd.PersistentFlags().StringVar(&instanceOverride, "instance", "", "Override the configured instance name")
}

// loadConfig reads the fleet configuration and applies CLI/env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, printer.Error(
			"Invalid configuration",
			err.Error(),
			[]string{fmt.Sprintf("Check %s, or point --config at the fleet configuration", configPath)},
		)
	}
	if instanceOverride != "" {
		cfg.Instance = instanceOverride
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}
	return cfg, nil
}

// redisOptions parses the configured Redis URL.
func redisOptions(cfg *config.Config) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"Invalid Redis URL",
			err.Error(),
			map[string]string{"Redis URL": cfg.RedisURL},
			nil,
		)
	}
	return opts, nil
}

// newBoard connects a blackboard client and verifies Redis is reachable.
func newBoard(ctx context.Context, cfg *config.Config) (*blackboard.Client, error) {
	opts, err := redisOptions(cfg)
	if err != nil {
		return nil, err
	}
	board, err := blackboard.NewClient(opts, cfg.Instance)
	if err != nil {
		return nil, printer.Error("Failed to create blackboard client", err.Error(), nil)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := board.Ping(pingCtx); err != nil {
		board.Close()
		return nil, printer.ErrorWithContext(
			"Cannot reach Redis",
			err.Error(),
			map[string]string{
				"Redis URL": cfg.RedisURL,
				"Instance":  cfg.Instance,
			},
			[]string{
				"Start the fleet's Redis instance",
				"Set REDIS_URL or redis_url in warren.yml to the right address",
			},
		)
	}
	return board, nil
}
