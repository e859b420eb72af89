package instance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"simple", "fleet-1", ""},
		{"single char", "a", ""},
		{"numeric", "42", ""},
		{"empty", "", "cannot be empty"},
		{"uppercase", "Fleet", "invalid instance name"},
		{"leading hyphen", "-fleet", "invalid instance name"},
		{"trailing hyphen", "fleet-", "invalid instance name"},
		{"underscore", "my_fleet", "invalid instance name"},
		{"too long", strings.Repeat("a", 64), "too long"},
		{"max length ok", strings.Repeat("a", 63), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
