package runtime

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDocker is a minimal in-memory ContainerAPI.
type fakeDocker struct {
	mu sync.Mutex

	logs     string
	exitCode int64

	createdCmd  []string
	createdName string
	stopped     bool
	removed     bool
}

func (f *fakeDocker) ContainerCreate(_ context.Context, config *container.Config, _ *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, name string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdCmd = config.Cmd
	f.createdName = name
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeDocker) ContainerStart(context.Context, string, types.ContainerStartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	return statusCh, make(chan error, 1)
}

func (f *fakeDocker) ContainerLogs(context.Context, string, types.ContainerLogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.logs)), nil
}

func (f *fakeDocker) ContainerStop(context.Context, string, container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeDocker) ContainerRemove(context.Context, string, types.ContainerRemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = true
	return nil
}

func TestContainerDriver_StreamsLogsAndExits(t *testing.T) {
	docker := &fakeDocker{logs: "hello\nworld\n"}
	spec := ContainerSpec{Image: "example/agent:latest", Cmd: []string{"run", "{prompt}"}}
	d := NewContainerDriver("sandboxed", spec, nil, docker, "test")

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Send("fix it"))

	lines := collectEvents(t, d.Events(), 5*time.Second)
	assert.Equal(t, []string{"hello", "world"}, lines)

	docker.mu.Lock()
	assert.Equal(t, []string{"run", "fix it"}, docker.createdCmd)
	assert.Contains(t, docker.createdName, "warren-test-sandboxed-")
	assert.True(t, docker.removed)
	docker.mu.Unlock()

	assert.False(t, d.IsRunning())
	result := d.LastResult()
	require.NotNil(t, result)
	assert.Equal(t, 0, result.ExitCode)
	assert.NoError(t, result.Err)
}

func TestContainerDriver_NonZeroExit(t *testing.T) {
	docker := &fakeDocker{logs: "boom\n", exitCode: 7}
	spec := ContainerSpec{Image: "example/agent:latest", Cmd: []string{"run"}}
	d := NewContainerDriver("sandboxed", spec, nil, docker, "test")

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Send(""))
	collectEvents(t, d.Events(), 5*time.Second)

	result := d.LastResult()
	require.NotNil(t, result)
	assert.Equal(t, 7, result.ExitCode)
	assert.Error(t, result.Err)
	assert.Contains(t, result.Stdout, "boom")
}

func TestContainerDriver_SendBeforeStart(t *testing.T) {
	d := NewContainerDriver("sandboxed", ContainerSpec{Image: "i"}, nil, &fakeDocker{}, "test")
	assert.ErrorIs(t, d.Send("p"), ErrNotStarted)
}

func TestContainerDriver_StopStopsContainer(t *testing.T) {
	docker := &fakeDocker{logs: "line\n"}
	d := NewContainerDriver("sandboxed", ContainerSpec{Image: "i", Cmd: []string{"run"}}, nil, docker, "test")

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Send(""))
	collectEvents(t, d.Events(), 5*time.Second)

	// Stream already ended; Stop with no live container is a no-op.
	require.NoError(t, d.Stop())
}
