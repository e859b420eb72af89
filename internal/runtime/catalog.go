// Package runtime loads the runtime catalog and drives agent runtime
// processes. A runtime is the external program (or container) implementing a
// single agent's reasoning; the catalog describes how to launch each one.
package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// Runtime variant discriminators.
const (
	TypeCLI       = "cli"
	TypeAPI       = "api"
	TypeSDK       = "sdk"
	TypeContainer = "container"
)

// ModelSpec selects a model and its parameters. All fields are optional;
// missing fields fall through to the registry default at merge time.
type ModelSpec struct {
	Provider   string            `json:"provider,omitempty"`
	ModelID    string            `json:"modelId,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// CLISpec describes a runtime launched as a local subprocess.
type CLISpec struct {
	Executable string            `json:"executable"`
	Args       []string          `json:"args"`
	Env        map[string]string `json:"env,omitempty"`
	Defaults   map[string]string `json:"defaults,omitempty"`
}

// APISpec describes a runtime reached over HTTP. Parsed for catalog
// round-tripping; the driver factory does not implement this variant yet.
type APISpec struct {
	BaseURL      string `json:"baseUrl"`
	APIKeyEnvVar string `json:"apiKeyEnvVar,omitempty"`
}

// SDKSpec describes a runtime embedded via a vendor SDK. Parsed for catalog
// round-tripping; the driver factory does not implement this variant yet.
type SDKSpec struct {
	SDKName string            `json:"sdkName"`
	Options map[string]string `json:"options,omitempty"`
}

// ContainerSpec describes a runtime launched as a Docker container.
type ContainerSpec struct {
	Image    string            `json:"image"`
	Cmd      []string          `json:"cmd"`
	Env      map[string]string `json:"env,omitempty"`
	Defaults map[string]string `json:"defaults,omitempty"`
}

// Entry is one catalog entry: a tagged variant selected by Type, with the
// matching spec pointer populated and the others nil.
type Entry struct {
	Type         string
	ID           string
	DisplayName  string
	DefaultModel *ModelSpec

	CLI       *CLISpec
	API       *APISpec
	SDK       *SDKSpec
	Container *ContainerSpec
}

// rawEntry is the flat JSON shape of an entry; Entry's marshaling maps
// between the flat wire form and the tagged variant.
type rawEntry struct {
	Type         string     `json:"type"`
	ID           string     `json:"id"`
	DisplayName  string     `json:"displayName,omitempty"`
	DefaultModel *ModelSpec `json:"defaultModel,omitempty"`

	// cli / container fields
	Executable string            `json:"executable,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Defaults   map[string]string `json:"defaults,omitempty"`
	Image      string            `json:"image,omitempty"`
	Cmd        []string          `json:"cmd,omitempty"`

	// api fields
	BaseURL      string `json:"baseUrl,omitempty"`
	APIKeyEnvVar string `json:"apiKeyEnvVar,omitempty"`

	// sdk fields
	SDKName string            `json:"sdkName,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

// UnmarshalJSON decodes the flat wire form and populates the variant
// matching the type discriminator.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw rawEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("runtime entry missing id")
	}

	e.Type = raw.Type
	e.ID = raw.ID
	e.DisplayName = raw.DisplayName
	e.DefaultModel = raw.DefaultModel
	e.CLI, e.API, e.SDK, e.Container = nil, nil, nil, nil

	switch raw.Type {
	case TypeCLI:
		if raw.Executable == "" {
			return fmt.Errorf("cli runtime %q missing executable", raw.ID)
		}
		e.CLI = &CLISpec{
			Executable: raw.Executable,
			Args:       raw.Args,
			Env:        raw.Env,
			Defaults:   raw.Defaults,
		}
	case TypeAPI:
		if raw.BaseURL == "" {
			return fmt.Errorf("api runtime %q missing baseUrl", raw.ID)
		}
		e.API = &APISpec{BaseURL: raw.BaseURL, APIKeyEnvVar: raw.APIKeyEnvVar}
	case TypeSDK:
		if raw.SDKName == "" {
			return fmt.Errorf("sdk runtime %q missing sdkName", raw.ID)
		}
		e.SDK = &SDKSpec{SDKName: raw.SDKName, Options: raw.Options}
	case TypeContainer:
		if raw.Image == "" {
			return fmt.Errorf("container runtime %q missing image", raw.ID)
		}
		e.Container = &ContainerSpec{
			Image:    raw.Image,
			Cmd:      raw.Cmd,
			Env:      raw.Env,
			Defaults: raw.Defaults,
		}
	default:
		return fmt.Errorf("runtime %q has unknown type %q", raw.ID, raw.Type)
	}
	return nil
}

// MarshalJSON emits the flat wire form. Loading the emitted catalog yields
// structurally equal entries.
func (e Entry) MarshalJSON() ([]byte, error) {
	raw := rawEntry{
		Type:         e.Type,
		ID:           e.ID,
		DisplayName:  e.DisplayName,
		DefaultModel: e.DefaultModel,
	}
	switch {
	case e.CLI != nil:
		raw.Executable = e.CLI.Executable
		raw.Args = e.CLI.Args
		raw.Env = e.CLI.Env
		raw.Defaults = e.CLI.Defaults
	case e.API != nil:
		raw.BaseURL = e.API.BaseURL
		raw.APIKeyEnvVar = e.API.APIKeyEnvVar
	case e.SDK != nil:
		raw.SDKName = e.SDK.SDKName
		raw.Options = e.SDK.Options
	case e.Container != nil:
		raw.Image = e.Container.Image
		raw.Cmd = e.Container.Cmd
		raw.Env = e.Container.Env
		raw.Defaults = e.Container.Defaults
	}
	return json.Marshal(raw)
}

// catalog is the top-level runtimes.json shape.
type catalog struct {
	Runtimes []Entry `json:"runtimes"`
}

// legacyProvider is one entry of the legacy cli-providers.json format,
// semantically a cli runtime.
type legacyProvider struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"displayName,omitempty"`
	Executable  string            `json:"executable"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env,omitempty"`
	Defaults    map[string]string `json:"defaults,omitempty"`
}

type legacyCatalog struct {
	Providers []legacyProvider `json:"providers"`
}

// Registry holds the loaded runtime catalog and builds drivers from it.
// Lookups are case-insensitive on entry id. Thread-safe.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry // keyed by lowercase id
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// LoadCatalog parses a runtimes.json document and adds its entries.
// Duplicate ids (case-insensitive) are rejected.
func (r *Registry) LoadCatalog(data []byte) error {
	var cat catalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("failed to parse runtime catalog: %w", err)
	}
	return r.add(cat.Runtimes)
}

// LoadCatalogFile loads a runtimes.json file from disk.
func (r *Registry) LoadCatalogFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read runtime catalog: %w", err)
	}
	if err := r.LoadCatalog(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// LoadLegacyCatalog parses a cli-providers.json document; every provider
// becomes a cli entry.
func (r *Registry) LoadLegacyCatalog(data []byte) error {
	var cat legacyCatalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return fmt.Errorf("failed to parse legacy provider catalog: %w", err)
	}

	entries := make([]Entry, 0, len(cat.Providers))
	for _, p := range cat.Providers {
		if p.ID == "" {
			return fmt.Errorf("legacy provider missing id")
		}
		if p.Executable == "" {
			return fmt.Errorf("legacy provider %q missing executable", p.ID)
		}
		entries = append(entries, Entry{
			Type:        TypeCLI,
			ID:          p.ID,
			DisplayName: p.DisplayName,
			CLI: &CLISpec{
				Executable: p.Executable,
				Args:       p.Args,
				Env:        p.Env,
				Defaults:   p.Defaults,
			},
		})
	}
	return r.add(entries)
}

// LoadLegacyCatalogFile loads a cli-providers.json file from disk.
func (r *Registry) LoadLegacyCatalogFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read legacy provider catalog: %w", err)
	}
	if err := r.LoadLegacyCatalog(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (r *Registry) add(entries []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		key := strings.ToLower(e.ID)
		if _, exists := r.entries[key]; exists {
			return fmt.Errorf("duplicate runtime id %q", e.ID)
		}
		r.entries[key] = e
	}
	return nil
}

// Lookup finds an entry by id, case-insensitively.
func (r *Registry) Lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[strings.ToLower(id)]
	return e, ok
}

// Entries returns all loaded entries sorted by id.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Emit serializes the registry back to the runtimes.json wire form.
func (r *Registry) Emit() ([]byte, error) {
	data, err := json.MarshalIndent(catalog{Runtimes: r.Entries()}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to emit runtime catalog: %w", err)
	}
	return data, nil
}
