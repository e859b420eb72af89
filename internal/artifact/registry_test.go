package artifact

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	registry, err := NewRegistry(&redis.Options{Addr: mr.Addr()}, "test")
	require.NoError(t, err)
	t.Cleanup(func() { registry.Close() })
	return registry
}

func testArtifact(taskID string) *Artifact {
	return &Artifact{
		ID:     uuid.New().String(),
		Type:   "diff",
		Format: "text/x-patch",
		URI:    "file:///tmp/out.patch",
		Provenance: Provenance{
			TaskID:           taskID,
			AgentID:          "agent-a1",
			CreatedAtMs:      1724500000000,
			InputArtifactIDs: []string{},
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	a := testArtifact("t1")
	id, deduped, err := registry.Register(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
	assert.False(t, deduped)

	got, err := registry.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, a.Type, got.Type)
	assert.Equal(t, a.URI, got.URI)
	assert.Equal(t, a.Provenance, got.Provenance)
	assert.Empty(t, got.Validators)
}

func TestRegistry_GetNotFound(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRegistry_RegisterValidation(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*Artifact)
	}{
		{"missing id", func(a *Artifact) { a.ID = "" }},
		{"missing type", func(a *Artifact) { a.Type = "" }},
		{"missing uri", func(a *Artifact) { a.URI = "" }},
		{"missing task", func(a *Artifact) { a.Provenance.TaskID = "" }},
		{"missing agent", func(a *Artifact) { a.Provenance.AgentID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testArtifact("t1")
			tt.mutate(a)
			_, _, err := registry.Register(ctx, a)
			assert.Error(t, err)
		})
	}
}

func TestRegistry_DedupByContentHash(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	first := testArtifact("t1")
	first.ContentHash = "sha256:abc"
	firstID, deduped, err := registry.Register(ctx, first)
	require.NoError(t, err)
	require.False(t, deduped)

	second := testArtifact("t2")
	second.ContentHash = "sha256:abc"
	secondID, deduped, err := registry.Register(ctx, second)
	require.NoError(t, err)
	assert.True(t, deduped)
	assert.Equal(t, firstID, secondID)

	// The losing artifact was never stored.
	_, err = registry.Get(ctx, second.ID)
	assert.True(t, IsNotFound(err))

	// The loser's task index was not written either.
	byTask, err := registry.ListByTask(ctx, "t2")
	require.NoError(t, err)
	assert.Empty(t, byTask)
}

func TestRegistry_NoDedupWithoutHash(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	first := testArtifact("t1")
	second := testArtifact("t1")

	_, deduped, err := registry.Register(ctx, first)
	require.NoError(t, err)
	assert.False(t, deduped)

	_, deduped, err = registry.Register(ctx, second)
	require.NoError(t, err)
	assert.False(t, deduped)

	byTask, err := registry.ListByTask(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, byTask, 2)
}

func TestRegistry_Indexes(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	diff := testArtifact("t1")
	report := testArtifact("t1")
	report.Type = "report"
	other := testArtifact("t2")

	for _, a := range []*Artifact{diff, report, other} {
		_, _, err := registry.Register(ctx, a)
		require.NoError(t, err)
	}

	byTask, err := registry.ListByTask(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	byType, err := registry.ListByType(ctx, "diff")
	require.NoError(t, err)
	require.Len(t, byType, 2)
	for _, a := range byType {
		assert.Equal(t, "diff", a.Type)
	}

	all, err := registry.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRegistry_UpdateValidation(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	a := testArtifact("t1")
	id, _, err := registry.Register(ctx, a)
	require.NoError(t, err)

	require.NoError(t, registry.UpdateValidation(ctx, id, ValidatorResult{
		ValidatorID: "lint",
		Passed:      true,
	}))
	require.NoError(t, registry.UpdateValidation(ctx, id, ValidatorResult{
		ValidatorID: "tests",
		Passed:      false,
		Details:     "2 failures",
	}))

	got, err := registry.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Validators, 2)
	assert.Equal(t, "lint", got.Validators[0].ValidatorID)
	assert.True(t, got.Validators[0].Passed)
	assert.Greater(t, got.Validators[0].CheckedAtMs, int64(0))
	assert.Equal(t, "tests", got.Validators[1].ValidatorID)
	assert.False(t, got.Validators[1].Passed)
}

func TestRegistry_UpdateValidationMissingArtifact(t *testing.T) {
	registry := newTestRegistry(t)

	err := registry.UpdateValidation(context.Background(), "missing", ValidatorResult{ValidatorID: "lint"})
	assert.Error(t, err)
}

func TestRegistry_Bless(t *testing.T) {
	registry := newTestRegistry(t)
	ctx := context.Background()

	a := testArtifact("t1")
	id, _, err := registry.Register(ctx, a)
	require.NoError(t, err)

	// Publishing to a channel with no subscribers is still a success.
	require.NoError(t, registry.Bless(ctx, id))

	assert.Error(t, registry.Bless(ctx, "missing"))
}
