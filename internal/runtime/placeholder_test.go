package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePlaceholders(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		values map[string]string
		want   []string
	}{
		{
			name:   "simple substitution",
			args:   []string{"-p", "{prompt}"},
			values: map[string]string{"prompt": "fix the bug"},
			want:   []string{"-p", "fix the bug"},
		},
		{
			name:   "case insensitive",
			args:   []string{"--model", "{MODEL}", "{Provider}"},
			values: map[string]string{"model": "large", "provider": "anthropic"},
			want:   []string{"--model", "large", "anthropic"},
		},
		{
			name:   "unresolved token left intact",
			args:   []string{"{prompt}", "{missing}"},
			values: map[string]string{"prompt": "hi"},
			want:   []string{"hi", "{missing}"},
		},
		{
			name:   "multiple tokens in one arg",
			args:   []string{"{provider}/{model}"},
			values: map[string]string{"provider": "anthropic", "model": "large"},
			want:   []string{"anthropic/large"},
		},
		{
			name:   "single pass: resolved value not rescanned",
			args:   []string{"{prompt}"},
			values: map[string]string{"prompt": "{model}", "model": "leak"},
			want:   []string{"{model}"},
		},
		{
			name: "no placeholders",
			args: []string{"run", "--json"},
			want: []string{"run", "--json"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePlaceholders(tt.args, tt.values))
		})
	}
}

func TestPlaceholderValues_MergeOrder(t *testing.T) {
	defaults := map[string]string{"format": "json", "prompt": "default-overridden", "provider": "default-overridden"}
	model := &ModelSpec{
		Provider:   "anthropic",
		ModelID:    "large",
		Parameters: map[string]string{"temperature": "0.2"},
	}

	values := placeholderValues(defaults, model, "do the thing")

	// Literal defaults < model spec < prompt.
	assert.Equal(t, "json", values["format"])
	assert.Equal(t, "anthropic", values["provider"])
	assert.Equal(t, "large", values["model"])
	assert.Equal(t, "0.2", values["temperature"])
	assert.Equal(t, "do the thing", values["prompt"])
}

func TestPlaceholderValues_NilModel(t *testing.T) {
	values := placeholderValues(nil, nil, "p")
	assert.Equal(t, map[string]string{"prompt": "p"}, values)
}
