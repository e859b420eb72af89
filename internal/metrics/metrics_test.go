package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/warren/internal/viewport"
)

func TestBridgeCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	b := NewBridge(viewport.NopBridge{}, m)

	b.PublishAgentSpawned("agent-1", viewport.Visual{})
	b.PublishAgentSpawned("agent-2", viewport.Visual{})
	b.PublishAgentDespawned("agent-1")

	b.PublishTaskGraphSubmitted("g1", 3, 2)
	b.PublishTaskNodeStatusChanged("g1", "t1", "Dispatched", "agent-1")
	b.PublishTaskNodeStatusChanged("g1", "t1", "Completed", "agent-1")
	b.PublishTaskNodeStatusChanged("g1", "t2", "Completed", "agent-1")
	b.PublishTaskGraphCompleted("g1", map[string]bool{"t1": true, "t2": true})

	b.PublishRuntimeStarted("agent-1", "shell")
	b.PublishRuntimeOutput("agent-1", "line")
	b.PublishRuntimeExited("agent-1", "shell", 0)
	b.PublishRuntimeExited("agent-1", "shell", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AgentsSpawned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AgentsDespawned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GraphsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GraphsCompleted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TaskStatusChanges.WithLabelValues("Completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskStatusChanges.WithLabelValues("Dispatched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuntimeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuntimeExits.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RuntimeExits.WithLabelValues("failure")))
}

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	reg := prometheus.NewRegistry()

	t.Run("healthy", func(t *testing.T) {
		srv := httptest.NewServer(Handler(reg, fakePinger{}))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("backend down", func(t *testing.T) {
		srv := httptest.NewServer(Handler(reg, fakePinger{err: errors.New("redis gone")}))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("metrics endpoint serves", func(t *testing.T) {
		m := New(reg)
		m.GraphsSubmitted.Inc()

		srv := httptest.NewServer(Handler(reg, nil))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
