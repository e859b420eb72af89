package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ContainerAPI is the slice of the Docker client the container driver needs.
// *client.Client satisfies it; tests substitute a fake.
type ContainerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options types.ContainerLogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
}

// ContainerDriver runs a container runtime variant: each Send launches an
// ephemeral Docker container with the prompt resolved into its command, and
// the container's log stream becomes the event stream. Tty is enabled so
// logs arrive as plain interleaved lines rather than a multiplexed stream.
type ContainerDriver struct {
	runtimeID    string
	spec         ContainerSpec
	model        *ModelSpec
	docker       ContainerAPI
	instanceName string

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	events      chan string
	containerID string
	running     bool
	armed       bool
	last        *RunResult
}

// NewContainerDriver creates a driver for one container catalog entry.
// model is the already-merged effective model spec.
func NewContainerDriver(runtimeID string, spec ContainerSpec, model *ModelSpec, docker ContainerAPI, instanceName string) *ContainerDriver {
	return &ContainerDriver{
		runtimeID:    runtimeID,
		spec:         spec,
		model:        model,
		docker:       docker,
		instanceName: instanceName,
	}
}

// Start arms a run, mirroring the subprocess driver's lifecycle.
func (d *ContainerDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return ErrAlreadyRunning
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.events = make(chan string, eventBufferSize)
	d.armed = true
	return nil
}

// Send creates and starts the runtime container with the prompt resolved
// into its command, then streams its logs into the event stream until the
// container exits. The container is removed after exit.
func (d *ContainerDriver) Send(prompt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed {
		return ErrNotStarted
	}
	if d.running {
		return ErrAlreadyRunning
	}

	cmd := ResolvePlaceholders(d.spec.Cmd, placeholderValues(d.spec.Defaults, d.model, prompt))

	env := make([]string, 0, len(d.spec.Env))
	for k, v := range d.spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	containerName := fmt.Sprintf("warren-%s-%s-%s", d.instanceName, d.runtimeID, uuid.New().String()[:8])

	containerConfig := &container.Config{
		Image: d.spec.Image,
		Cmd:   cmd,
		Env:   env,
		Tty:   true,
		Labels: map[string]string{
			"warren.instance": d.instanceName,
			"warren.runtime":  d.runtimeID,
		},
	}
	hostConfig := &container.HostConfig{
		AutoRemove: false, // removed explicitly after the exit code is read
	}

	resp, err := d.docker.ContainerCreate(d.ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return fmt.Errorf("failed to create runtime container: %w", err)
	}

	if err := d.docker.ContainerStart(d.ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		_ = d.docker.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})
		return fmt.Errorf("failed to start runtime container: %w", err)
	}

	// Register the waiter before streaming logs so the exit status is never
	// missed.
	statusCh, errCh := d.docker.ContainerWait(d.ctx, resp.ID, container.WaitConditionNotRunning)

	logs, err := d.docker.ContainerLogs(d.ctx, resp.ID, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		_ = d.docker.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})
		return fmt.Errorf("failed to stream runtime container logs: %w", err)
	}

	d.containerID = resp.ID
	d.running = true
	d.armed = false
	events := d.events

	go d.monitor(resp.ID, logs, statusCh, errCh, events)

	return nil
}

// monitor drains the log stream, collects the exit status, removes the
// container and closes the event stream.
func (d *ContainerDriver) monitor(containerID string, logs io.ReadCloser, statusCh <-chan container.WaitResponse, errCh <-chan error, events chan<- string) {
	capture := &bytes.Buffer{}

	scanner := bufio.NewScanner(logs)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if capture.Len() < maxCaptureSize {
			capture.WriteString(line)
			capture.WriteByte('\n')
		}
		select {
		case events <- line:
		case <-d.ctx.Done():
			for scanner.Scan() {
			}
		}
	}
	_ = logs.Close()

	result := &RunResult{Stdout: capture.String()}
	select {
	case err := <-errCh:
		result.ExitCode = -1
		result.Err = fmt.Errorf("failed waiting for runtime container: %w", err)
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
		if status.StatusCode != 0 {
			result.Err = fmt.Errorf("runtime container exited with code %d", status.StatusCode)
		}
	case <-d.ctx.Done():
		result.ExitCode = -1
		result.Err = d.ctx.Err()
	}

	// Use a fresh context: the run context may already be cancelled.
	_ = d.docker.ContainerRemove(context.Background(), containerID, types.ContainerRemoveOptions{Force: true})

	d.mu.Lock()
	d.running = false
	d.containerID = ""
	d.last = result
	d.mu.Unlock()

	close(events)
}

// Events returns the current run's line stream. Nil before the first Start.
func (d *ContainerDriver) Events() <-chan string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events
}

// Stop cancels the run and asks Docker to stop the container. The monitor
// goroutine handles removal and stream closure.
func (d *ContainerDriver) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	containerID := d.containerID
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if containerID != "" {
		timeout := 5
		if err := d.docker.ContainerStop(context.Background(), containerID, container.StopOptions{Timeout: &timeout}); err != nil {
			return fmt.Errorf("failed to stop runtime container: %w", err)
		}
	}
	return nil
}

// IsRunning reports whether a runtime container is currently alive.
func (d *ContainerDriver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// LastResult returns how the most recent run ended, or nil if no run has
// finished yet.
func (d *ContainerDriver) LastResult() *RunResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
