package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Driver errors.
var (
	// ErrRuntimeNotImplemented is returned by the factory for catalog
	// variants that are parsed but not yet executable (api, sdk).
	ErrRuntimeNotImplemented = errors.New("runtime variant not implemented")

	// ErrNotStarted is returned by Send before Start has armed a run.
	ErrNotStarted = errors.New("driver not started")

	// ErrAlreadyRunning is returned by Send while a process is in flight.
	ErrAlreadyRunning = errors.New("runtime process already running")
)

// Driver is the contract every runtime variant implements. Lifecycle:
//
//	Start(ctx)  arms a run and allocates a fresh event stream
//	Send(p)     launches the runtime with prompt p resolved into its argv
//	Events()    yields interleaved stdout/stderr lines; closes on exit
//	Stop()      cancels the run; the stream closes gracefully
//
// After the stream closes a driver is restartable: a new Start begins the
// next run (synthesis re-prompts reuse the same driver this way).
type Driver interface {
	Start(ctx context.Context) error
	Send(prompt string) error
	Events() <-chan string
	Stop() error
	IsRunning() bool
}

// RunResult describes how the most recent run ended.
// Stdout and Stderr hold bounded head captures for diagnostics, not the
// full output; the full output was already streamed through Events.
type RunResult struct {
	ExitCode int
	Err      error
	Stdout   string
	Stderr   string
}

// ResultReporter is implemented by drivers that can report how their last
// run ended. Callers type-assert; absence just means no diagnostics.
type ResultReporter interface {
	LastResult() *RunResult
}

// DriverOptions carries the environment a driver runs in.
type DriverOptions struct {
	// WorkDir is the working directory for subprocess runtimes.
	WorkDir string

	// Docker is required for container runtimes.
	Docker ContainerAPI

	// InstanceName namespaces container names.
	InstanceName string
}

// NewDriver builds a driver for the identified catalog entry, merging the
// explicit model spec with the entry's default. API and SDK entries resolve
// but return ErrRuntimeNotImplemented.
func (r *Registry) NewDriver(id string, explicitModel *ModelSpec, opts DriverOptions) (Driver, error) {
	entry, ok := r.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("unknown runtime %q", id)
	}

	model := MergeModelSpec(explicitModel, entry.DefaultModel)

	switch entry.Type {
	case TypeCLI:
		return NewSubprocessDriver(entry.ID, *entry.CLI, model, opts.WorkDir), nil
	case TypeContainer:
		if opts.Docker == nil {
			return nil, fmt.Errorf("container runtime %q requires a Docker client", entry.ID)
		}
		return NewContainerDriver(entry.ID, *entry.Container, model, opts.Docker, opts.InstanceName), nil
	case TypeAPI, TypeSDK:
		return nil, fmt.Errorf("runtime %q: %w", entry.ID, ErrRuntimeNotImplemented)
	default:
		return nil, fmt.Errorf("runtime %q has unknown type %q", entry.ID, entry.Type)
	}
}
