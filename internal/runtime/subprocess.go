package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
)

const (
	// eventBufferSize is the depth of a run's line channel.
	eventBufferSize = 64

	// maxLineSize bounds a single runtime output line (1MB).
	maxLineSize = 1024 * 1024

	// maxCaptureSize bounds the per-stream head capture kept for
	// diagnostics (64KB). The full output still flows through Events.
	maxCaptureSize = 64 * 1024
)

// SubprocessDriver runs a cli runtime as a local child process. One run at a
// time: Start arms the run, Send spawns the process with the prompt resolved
// into the argument template, and the event stream closes when the process
// exits or the run is stopped.
type SubprocessDriver struct {
	runtimeID string
	spec      CLISpec
	model     *ModelSpec
	workDir   string

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	events  chan string
	running bool
	armed   bool
	last    *RunResult
}

// NewSubprocessDriver creates a driver for one cli catalog entry.
// model is the already-merged effective model spec.
func NewSubprocessDriver(runtimeID string, spec CLISpec, model *ModelSpec, workDir string) *SubprocessDriver {
	return &SubprocessDriver{
		runtimeID: runtimeID,
		spec:      spec,
		model:     model,
		workDir:   workDir,
	}
}

// Start arms a run: allocates the event stream and links cancellation to
// ctx. Returns ErrAlreadyRunning while a previous run's process is alive.
func (d *SubprocessDriver) Start(ctx context.Context) error {
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

// Send resolves the prompt into the argument template and spawns the
// runtime process. Stdout and stderr are line-buffered and interleaved into
// the event stream, which closes when the process exits.
func (d *SubprocessDriver) Send(prompt string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.armed {
		return ErrNotStarted
	}
	if d.running {
		return ErrAlreadyRunning
	}

	args := ResolvePlaceholders(d.spec.Args, placeholderValues(d.spec.Defaults, d.model, prompt))

	cmd := exec.CommandContext(d.ctx, d.spec.Executable, args...)
	cmd.Dir = d.workDir
	cmd.Env = os.Environ()
	for k, v := range d.spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	// The runtime gets its own process group and cancellation kills the
	// whole group. Killing only the direct child would leave any helper it
	// forked holding the output pipes open, and the line readers would
	// never see EOF.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if err == syscall.ESRCH {
			return os.ErrProcessDone
		}
		return err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		d.armed = false
		close(d.events)
		d.last = &RunResult{ExitCode: -1, Err: fmt.Errorf("failed to start runtime %s: %w", d.runtimeID, err)}
		return fmt.Errorf("failed to start runtime %s: %w", d.runtimeID, err)
	}

	d.running = true
	d.armed = false

	stdoutCapture := &bytes.Buffer{}
	stderrCapture := &bytes.Buffer{}
	events := d.events

	var wg sync.WaitGroup
	wg.Add(2)
	go d.streamLines(stdout, events, stdoutCapture, &wg)
	go d.streamLines(stderr, events, stderrCapture, &wg)

	go func() {
		wg.Wait()
		err := cmd.Wait()

		exitCode := 0
		if err != nil {
			exitCode = -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			}
		}

		d.mu.Lock()
		d.running = false
		d.last = &RunResult{
			ExitCode: exitCode,
			Err:      err,
			Stdout:   stdoutCapture.String(),
			Stderr:   stderrCapture.String(),
		}
		d.mu.Unlock()

		close(events)
	}()

	return nil
}

// streamLines copies one pipe into the event stream line by line, keeping a
// bounded head capture for diagnostics. Read errors (including the pipe
// closing on cancellation) end the stream without panicking.
func (d *SubprocessDriver) streamLines(r io.Reader, events chan<- string, capture *bytes.Buffer, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
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
			// Drain the rest of the pipe so cmd.Wait can reap the child.
			for scanner.Scan() {
			}
			return
		}
	}
}

// Events returns the current run's line stream. Nil before the first Start.
func (d *SubprocessDriver) Events() <-chan string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events
}

// Stop cancels the current run. The child is killed via the command context
// and the event stream closes once the pipes drain. Safe to call when
// nothing is running.
func (d *SubprocessDriver) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// IsRunning reports whether a runtime process is currently alive.
func (d *SubprocessDriver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// LastResult returns how the most recent run ended, or nil if no run has
// finished yet.
func (d *SubprocessDriver) LastResult() *RunResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
