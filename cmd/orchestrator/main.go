// The orchestrator daemon runs the whole fleet in one process: the
// task-graph orchestrator, the auction dispatcher, the supervisor with its
// agents, the blackboard submission gateway and the health/metrics listener.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/artifact"
	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/dispatch"
	"github.com/dyluth/warren/internal/gateway"
	"github.com/dyluth/warren/internal/graph"
	"github.com/dyluth/warren/internal/message"
	"github.com/dyluth/warren/internal/metrics"
	"github.com/dyluth/warren/internal/runtime"
	"github.com/dyluth/warren/internal/sidecar"
	"github.com/dyluth/warren/internal/skills"
	"github.com/dyluth/warren/internal/supervisor"
	"github.com/dyluth/warren/internal/viewport"
	"github.com/dyluth/warren/pkg/blackboard"
)

func main() {
	// 1. Load .env (best effort), then the fleet configuration
	_ = godotenv.Load()

	configPath := os.Getenv("WARREN_CONFIG")
	if configPath == "" {
		configPath = "warren.yml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Environment overrides for containerized deployments
	if name := os.Getenv("WARREN_INSTANCE_NAME"); name != "" {
		cfg.Instance = name
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.RedisURL = url
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid redis_url: %v\n", err)
		os.Exit(1)
	}

	// 3. Create blackboard client and verify connectivity
	board, err := blackboard.NewClient(redisOpts, cfg.Instance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create blackboard client: %v\n", err)
		os.Exit(1)
	}
	defer board.Close()

	ctx := context.Background()
	if err := board.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 4. Artifact registry shares the Redis instance
	artifacts, err := artifact.NewRegistry(redisOpts, cfg.Instance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create artifact registry: %v\n", err)
		os.Exit(1)
	}
	defer artifacts.Close()

	// 5. Load the runtime catalog
	runtimes := runtime.NewRegistry()
	if cfg.Runtimes != nil {
		if cfg.Runtimes.Catalog != "" {
			if err := runtimes.LoadCatalogFile(cfg.Runtimes.Catalog); err != nil {
				fmt.Fprintf(os.Stderr, "Error: Failed to load runtime catalog: %v\n", err)
				os.Exit(1)
			}
		}
		if cfg.Runtimes.LegacyCatalog != "" {
			if err := runtimes.LoadLegacyCatalogFile(cfg.Runtimes.LegacyCatalog); err != nil {
				fmt.Fprintf(os.Stderr, "Error: Failed to load legacy runtime catalog: %v\n", err)
				os.Exit(1)
			}
		}
	}

	// 6. Docker is needed only for container runtimes; its absence degrades
	// the daemon rather than stopping it
	var dockerAPI runtime.ContainerAPI
	if dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Docker unavailable, container runtimes disabled: %v\n", err)
	} else {
		dockerAPI = dockerClient
		defer dockerClient.Close()
	}

	// 7. Knowledge sidecar client
	side := sidecar.NewClient()
	if cfg.Sidecar != nil {
		binary := cfg.Sidecar.Binary
		if binary == "" {
			binary = sidecar.DefaultBinary
		}
		timeout := sidecar.DefaultTimeout
		if cfg.Sidecar.TimeoutS != nil {
			timeout = time.Duration(*cfg.Sidecar.TimeoutS) * time.Second
		}
		side = sidecar.NewClientWith(binary, timeout)
	}

	// 8. Viewport bridge with metric counting layered on top
	m := metrics.New(prometheus.DefaultRegisterer)
	bridge := metrics.NewBridge(viewport.NewLogBridge(), m)

	// 9. Build the actors
	router := message.NewRouter()
	skillsReg := skills.NewRegistry()

	orch := graph.New(router, graph.Config{
		Caps: graph.Caps{
			MaxDepth:      *cfg.Orchestrator.MaxDepth,
			MaxSubtasks:   *cfg.Orchestrator.MaxSubtasks,
			MaxTotalNodes: *cfg.Orchestrator.MaxTotalNodes,
		},
		Bridge: bridge,
		Board:  board,
	})

	bidWindow := cfg.Dispatcher.BidWindow()
	if bidWindow == 0 {
		// Configured zero closes every auction immediately (first capable
		// agent wins); negative is how the dispatcher spells that.
		bidWindow = -1
	}
	disp := dispatch.New(router, dispatch.Config{
		Skills:          skillsReg,
		BidWindow:       bidWindow,
		ApprovalTimeout: cfg.Dispatcher.ApprovalTimeout(),
		ApproverAddr:    cfg.Dispatcher.Approver,
	})

	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}
	sup := supervisor.New(router, supervisor.Config{
		Skills:       skillsReg,
		Runtimes:     runtimes,
		Bridge:       bridge,
		Sidecar:      side,
		Artifacts:    artifacts,
		Docker:       dockerAPI,
		InstanceName: cfg.Instance,
		WorkDir:      workDir,
	})

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go orch.Run(runCtx)
	go disp.Run(runCtx)
	go sup.Run(runCtx)
	go gateway.NewListener(board, orch).Run(runCtx)

	// 10. Spawn the configured agents in a deterministic order
	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := sup.Spawn(runCtx, agentSpec(name, cfg.Agents[name])); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to spawn agent '%s': %v\n", name, err)
			os.Exit(1)
		}
	}

	// 11. Health/metrics listener, when configured
	if cfg.Health != nil && cfg.Health.Addr != "" {
		srv := metrics.NewServer(cfg.Health.Addr, prometheus.DefaultGatherer, board)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "Error: Health listener failed: %v\n", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Printf("Fleet daemon running for instance '%s' with %d agents\n", cfg.Instance, len(cfg.Agents))

	<-runCtx.Done()
	fmt.Println("Shutting down")
}

var activityNames = map[string]agent.Activity{
	"typing":   agent.ActivityTyping,
	"reading":  agent.ActivityReading,
	"thinking": agent.ActivityThinking,
	"waiting":  agent.ActivityWaiting,
}

// agentSpec converts one validated agent config entry into a spawn spec.
func agentSpec(name string, ac config.AgentConfig) supervisor.AgentSpec {
	spec := supervisor.AgentSpec{
		ID:           name,
		Capabilities: ac.Capabilities,
		Capacity:     *ac.Capacity,
		Estimate:     ac.Estimate(),
		RuntimeID:    ac.Runtime,
		WorkDir:      ac.WorkDir,
	}
	if ac.Model != nil {
		spec.Model = &runtime.ModelSpec{
			Provider:   ac.Model.Provider,
			ModelID:    ac.Model.ModelID,
			Parameters: ac.Model.Parameters,
		}
	}
	if ac.Visual != nil {
		spec.Visual = viewport.Visual{
			Archetype: ac.Visual.Archetype,
			Color:     ac.Visual.Color,
			Label:     ac.Visual.Label,
		}
	}
	if len(ac.ActivityKeywords) > 0 {
		spec.ActivityKeywords = make(map[agent.Activity][]string, len(ac.ActivityKeywords))
		for activity, words := range ac.ActivityKeywords {
			spec.ActivityKeywords[activityNames[activity]] = words
		}
	}
	return spec
}
