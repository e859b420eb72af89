package runtime

import (
	"regexp"
	"strings"
)

// placeholderPattern matches {name} tokens in argument templates.
var placeholderPattern = regexp.MustCompile(`\{[A-Za-z0-9_.-]+\}`)

// ResolvePlaceholders substitutes {name} tokens in an argument template.
// Matching is case-insensitive on the placeholder name and resolution is
// single-pass: a substituted value is never re-scanned for placeholders.
// Tokens with no matching value are left untouched so a missing value is
// visible in the spawned command rather than silently blank.
func ResolvePlaceholders(args []string, values map[string]string) []string {
	lowered := make(map[string]string, len(values))
	for k, v := range values {
		lowered[strings.ToLower(k)] = v
	}

	resolved := make([]string, len(args))
	for i, arg := range args {
		resolved[i] = placeholderPattern.ReplaceAllStringFunc(arg, func(token string) string {
			name := strings.ToLower(token[1 : len(token)-1])
			if v, ok := lowered[name]; ok {
				return v
			}
			return token
		})
	}
	return resolved
}

// placeholderValues builds the substitution map for one Send: literal
// defaults from the runtime entry, overlaid by the effective model spec,
// overlaid by the prompt.
func placeholderValues(defaults map[string]string, model *ModelSpec, prompt string) map[string]string {
	values := make(map[string]string, len(defaults)+3)
	for k, v := range defaults {
		values[k] = v
	}
	if model != nil {
		if model.Provider != "" {
			values["provider"] = model.Provider
		}
		if model.ModelID != "" {
			values["model"] = model.ModelID
		}
		for k, v := range model.Parameters {
			values[k] = v
		}
	}
	values["prompt"] = prompt
	return values
}
