package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeModelSpec(t *testing.T) {
	tests := []struct {
		name     string
		explicit *ModelSpec
		def      *ModelSpec
		want     *ModelSpec
	}{
		{
			name: "both nil",
		},
		{
			name: "explicit only",
			explicit: &ModelSpec{Provider: "anthropic", ModelID: "large"},
			want:     &ModelSpec{Provider: "anthropic", ModelID: "large"},
		},
		{
			name: "default only",
			def:  &ModelSpec{Provider: "anthropic", ModelID: "large"},
			want: &ModelSpec{Provider: "anthropic", ModelID: "large"},
		},
		{
			name:     "explicit fields win",
			explicit: &ModelSpec{ModelID: "small"},
			def:      &ModelSpec{Provider: "anthropic", ModelID: "large"},
			want:     &ModelSpec{Provider: "anthropic", ModelID: "small"},
		},
		{
			name:     "parameters merge key by key",
			explicit: &ModelSpec{Parameters: map[string]string{"temperature": "0.9"}},
			def: &ModelSpec{
				Provider:   "anthropic",
				Parameters: map[string]string{"temperature": "0.2", "max_tokens": "4096"},
			},
			want: &ModelSpec{
				Provider:   "anthropic",
				Parameters: map[string]string{"temperature": "0.9", "max_tokens": "4096"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeModelSpec(tt.explicit, tt.def))
		})
	}
}

func TestMergeModelSpec_DoesNotAliasInputs(t *testing.T) {
	def := &ModelSpec{Parameters: map[string]string{"temperature": "0.2"}}
	merged := MergeModelSpec(nil, def)

	merged.Parameters["temperature"] = "1.0"
	assert.Equal(t, "0.2", def.Parameters["temperature"])
}
