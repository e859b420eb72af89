package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCatalog = `{
  "runtimes": [
    {
      "type": "cli",
      "id": "claude",
      "displayName": "Claude CLI",
      "defaultModel": {"provider": "anthropic", "modelId": "large", "parameters": {"temperature": "0.2"}},
      "executable": "claude",
      "args": ["-p", "{prompt}", "--model", "{model}"],
      "env": {"NO_COLOR": "1"},
      "defaults": {"format": "stream-json"}
    },
    {
      "type": "api",
      "id": "hosted",
      "baseUrl": "https://api.example.com/v1",
      "apiKeyEnvVar": "EXAMPLE_API_KEY"
    },
    {
      "type": "sdk",
      "id": "embedded",
      "sdkName": "example-sdk",
      "options": {"region": "eu"}
    },
    {
      "type": "container",
      "id": "sandboxed",
      "image": "example/agent:latest",
      "cmd": ["run", "{prompt}"]
    }
  ]
}`

func TestRegistry_LoadCatalog(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadCatalog([]byte(sampleCatalog)))

	entries := r.Entries()
	require.Len(t, entries, 4)

	cli, ok := r.Lookup("claude")
	require.True(t, ok)
	assert.Equal(t, TypeCLI, cli.Type)
	require.NotNil(t, cli.CLI)
	assert.Equal(t, "claude", cli.CLI.Executable)
	assert.Equal(t, []string{"-p", "{prompt}", "--model", "{model}"}, cli.CLI.Args)
	assert.Equal(t, "stream-json", cli.CLI.Defaults["format"])
	require.NotNil(t, cli.DefaultModel)
	assert.Equal(t, "anthropic", cli.DefaultModel.Provider)
	assert.Nil(t, cli.API)
	assert.Nil(t, cli.SDK)

	api, ok := r.Lookup("hosted")
	require.True(t, ok)
	require.NotNil(t, api.API)
	assert.Equal(t, "https://api.example.com/v1", api.API.BaseURL)

	sdk, ok := r.Lookup("embedded")
	require.True(t, ok)
	require.NotNil(t, sdk.SDK)
	assert.Equal(t, "example-sdk", sdk.SDK.SDKName)

	cont, ok := r.Lookup("sandboxed")
	require.True(t, ok)
	require.NotNil(t, cont.Container)
	assert.Equal(t, "example/agent:latest", cont.Container.Image)
}

func TestRegistry_LookupCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadCatalog([]byte(sampleCatalog)))

	for _, id := range []string{"claude", "CLAUDE", "Claude"} {
		_, ok := r.Lookup(id)
		assert.True(t, ok, "lookup %q", id)
	}
}

func TestRegistry_LoadCatalogErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad json", `{"runtimes": [`},
		{"unknown type", `{"runtimes": [{"type": "quantum", "id": "x"}]}`},
		{"missing id", `{"runtimes": [{"type": "cli", "executable": "x"}]}`},
		{"cli missing executable", `{"runtimes": [{"type": "cli", "id": "x"}]}`},
		{"api missing baseUrl", `{"runtimes": [{"type": "api", "id": "x"}]}`},
		{"sdk missing sdkName", `{"runtimes": [{"type": "sdk", "id": "x"}]}`},
		{"container missing image", `{"runtimes": [{"type": "container", "id": "x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, NewRegistry().LoadCatalog([]byte(tt.data)))
		})
	}
}

func TestRegistry_DuplicateIDRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadCatalog([]byte(`{"runtimes": [{"type": "cli", "id": "dup", "executable": "a"}]}`)))
	// Case-insensitive duplicate.
	assert.Error(t, r.LoadCatalog([]byte(`{"runtimes": [{"type": "cli", "id": "DUP", "executable": "b"}]}`)))
}

func TestRegistry_LegacyCatalog(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadLegacyCatalog([]byte(`{
	  "providers": [
	    {"id": "legacy", "displayName": "Legacy", "executable": "legacy-cli", "args": ["{prompt}"]}
	  ]
	}`)))

	entry, ok := r.Lookup("legacy")
	require.True(t, ok)
	assert.Equal(t, TypeCLI, entry.Type)
	require.NotNil(t, entry.CLI)
	assert.Equal(t, "legacy-cli", entry.CLI.Executable)
}

func TestRegistry_LegacyCatalogErrors(t *testing.T) {
	assert.Error(t, NewRegistry().LoadLegacyCatalog([]byte(`{"providers": [{"id": "x"}]}`)))
	assert.Error(t, NewRegistry().LoadLegacyCatalog([]byte(`{"providers": [{"executable": "x"}]}`)))
}

// Loading, emitting, then loading again must yield structurally equal
// entries.
func TestRegistry_EmitRoundTrip(t *testing.T) {
	first := NewRegistry()
	require.NoError(t, first.LoadCatalog([]byte(sampleCatalog)))

	emitted, err := first.Emit()
	require.NoError(t, err)

	second := NewRegistry()
	require.NoError(t, second.LoadCatalog(emitted))

	assert.Equal(t, first.Entries(), second.Entries())
}

func TestRegistry_NewDriver(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadCatalog([]byte(sampleCatalog)))

	t.Run("cli", func(t *testing.T) {
		d, err := r.NewDriver("claude", nil, DriverOptions{WorkDir: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &SubprocessDriver{}, d)
	})

	t.Run("container requires docker", func(t *testing.T) {
		_, err := r.NewDriver("sandboxed", nil, DriverOptions{})
		assert.Error(t, err)
	})

	t.Run("api deferred", func(t *testing.T) {
		_, err := r.NewDriver("hosted", nil, DriverOptions{})
		assert.ErrorIs(t, err, ErrRuntimeNotImplemented)
	})

	t.Run("sdk deferred", func(t *testing.T) {
		_, err := r.NewDriver("embedded", nil, DriverOptions{})
		assert.ErrorIs(t, err, ErrRuntimeNotImplemented)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := r.NewDriver("nope", nil, DriverOptions{})
		assert.Error(t, err)
	})
}
