// Package supervisor owns the agent fleet: it builds each agent's runtime
// driver from the catalog, registers its capabilities, runs the agent actor
// and cleans up when a child terminates.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/artifact"
	"github.com/dyluth/warren/internal/message"
	"github.com/dyluth/warren/internal/runtime"
	"github.com/dyluth/warren/internal/sidecar"
	"github.com/dyluth/warren/internal/skills"
	"github.com/dyluth/warren/internal/viewport"
)

// AgentSpec describes one agent to spawn.
type AgentSpec struct {
	ID           string
	Capabilities []string
	Capacity     int
	Estimate     time.Duration

	RuntimeID string
	Model     *runtime.ModelSpec
	WorkDir   string

	Visual           viewport.Visual
	ActivityKeywords map[agent.Activity][]string
}

// Config carries the shared collaborators handed to every spawned agent.
type Config struct {
	Skills   *skills.Registry
	Runtimes *runtime.Registry
	Bridge   viewport.Bridge

	Sidecar   *sidecar.Client
	Artifacts *artifact.Registry

	// Docker and InstanceName are needed only for container runtimes.
	Docker       runtime.ContainerAPI
	InstanceName string

	// WorkDir is the default working directory for subprocess runtimes;
	// AgentSpec.WorkDir overrides per agent.
	WorkDir string
}

type spawnRequest struct {
	spec  AgentSpec
	reply chan error
}

func (spawnRequest) Kind() string { return "SpawnAgent" }

type stopRequest struct {
	agentID string
	reply   chan error
}

func (stopRequest) Kind() string { return "StopAgent" }

type child struct {
	agent  *agent.Agent
	cancel context.CancelFunc
}

// Supervisor is the fleet-management actor.
type Supervisor struct {
	cfg     Config
	router  *message.Router
	mailbox *message.Mailbox

	children map[string]*child
}

// New creates the supervisor and registers its mailbox on the router.
func New(router *message.Router, cfg Config) *Supervisor {
	if cfg.Skills == nil {
		cfg.Skills = skills.NewRegistry()
	}
	if cfg.Bridge == nil {
		cfg.Bridge = viewport.NopBridge{}
	}

	s := &Supervisor{
		cfg:      cfg,
		router:   router,
		mailbox:  message.NewMailbox(),
		children: make(map[string]*child),
	}
	router.Register(message.AddrSupervisor, s.mailbox)
	return s
}

// Run processes mailbox messages until ctx is cancelled or the mailbox
// closes. Cancelling ctx stops every child.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.stopAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-s.mailbox.C:
			if !ok {
				return nil
			}
			s.handle(env)
		}
	}
}

// Stop closes the mailbox; Run stops all children and returns.
func (s *Supervisor) Stop() {
	s.mailbox.Close()
}

// Spawn starts an agent, returning once it is registered and bidding.
func (s *Supervisor) Spawn(ctx context.Context, spec AgentSpec) error {
	reply := make(chan error, 1)
	if err := s.mailbox.Post(message.Envelope{Source: "operator", Msg: spawnRequest{spec: spec, reply: reply}}); err != nil {
		return fmt.Errorf("supervisor unavailable: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-reply:
		return err
	}
}

// StopAgent shuts one agent down and removes it from the fleet.
func (s *Supervisor) StopAgent(ctx context.Context, agentID string) error {
	reply := make(chan error, 1)
	if err := s.mailbox.Post(message.Envelope{Source: "operator", Msg: stopRequest{agentID: agentID, reply: reply}}); err != nil {
		return fmt.Errorf("supervisor unavailable: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-reply:
		return err
	}
}

func (s *Supervisor) handle(env message.Envelope) {
	switch msg := env.Msg.(type) {
	case spawnRequest:
		msg.reply <- s.handleSpawn(msg.spec)
	case stopRequest:
		msg.reply <- s.handleStop(msg.agentID)
	case message.ChildTerminated:
		s.handleChildTerminated(msg)
	default:
		log.Printf("[Supervisor] ignoring %s from %s", env.Msg.Kind(), env.Source)
	}
}

func (s *Supervisor) handleSpawn(spec AgentSpec) error {
	if spec.ID == "" {
		return fmt.Errorf("agent id cannot be empty")
	}
	if _, exists := s.children[spec.ID]; exists {
		return fmt.Errorf("agent %q already running", spec.ID)
	}
	if s.cfg.Runtimes == nil {
		return fmt.Errorf("no runtime registry configured")
	}

	workDir := spec.WorkDir
	if workDir == "" {
		workDir = s.cfg.WorkDir
	}
	driver, err := s.cfg.Runtimes.NewDriver(spec.RuntimeID, spec.Model, runtime.DriverOptions{
		WorkDir:      workDir,
		Docker:       s.cfg.Docker,
		InstanceName: s.cfg.InstanceName,
	})
	if err != nil {
		return fmt.Errorf("failed to build runtime for agent %s: %w", spec.ID, err)
	}

	a := agent.New(s.router, agent.Config{
		ID:               spec.ID,
		Capabilities:     spec.Capabilities,
		Capacity:         spec.Capacity,
		Estimate:         spec.Estimate,
		RuntimeID:        spec.RuntimeID,
		Driver:           driver,
		Sidecar:          s.cfg.Sidecar,
		Artifacts:        s.cfg.Artifacts,
		Bridge:           s.cfg.Bridge,
		Visual:           spec.Visual,
		ActivityKeywords: spec.ActivityKeywords,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.children[spec.ID] = &child{agent: a, cancel: cancel}
	s.cfg.Skills.Register(spec.ID, spec.Capabilities)

	agentID := spec.ID
	go func() {
		err := a.Run(ctx)
		errText := ""
		if err != nil && err != context.Canceled {
			errText = err.Error()
		}
		if postErr := s.mailbox.Post(message.Envelope{
			Source: agentID,
			Msg:    message.ChildTerminated{AgentID: agentID, Err: errText},
		}); postErr != nil {
			log.Printf("[Supervisor] lost termination report for %s: %v", agentID, postErr)
		}
	}()

	log.Printf("[Supervisor] spawned agent %s (runtime %s, capabilities %v)", spec.ID, spec.RuntimeID, spec.Capabilities)
	return nil
}

func (s *Supervisor) handleStop(agentID string) error {
	c, ok := s.children[agentID]
	if !ok {
		return fmt.Errorf("unknown agent %q", agentID)
	}
	c.cancel()
	// Cleanup happens when the ChildTerminated report arrives.
	return nil
}

// handleChildTerminated removes a dead agent from routing and skills so the
// dispatcher stops offering it work.
func (s *Supervisor) handleChildTerminated(msg message.ChildTerminated) {
	if msg.Err != "" {
		log.Printf("[Supervisor] agent %s terminated with error: %s", msg.AgentID, msg.Err)
	} else {
		log.Printf("[Supervisor] agent %s terminated", msg.AgentID)
	}
	if c, ok := s.children[msg.AgentID]; ok {
		c.cancel()
		delete(s.children, msg.AgentID)
	}
	s.cfg.Skills.Deregister(msg.AgentID)
	s.router.Deregister(msg.AgentID)
}

func (s *Supervisor) stopAll() {
	for id, c := range s.children {
		c.cancel()
		s.cfg.Skills.Deregister(id)
		s.router.Deregister(id)
	}
	s.children = make(map[string]*child)
}
