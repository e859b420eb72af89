package runtime

// MergeModelSpec combines an explicit per-agent model spec with a registry
// default. Provider and model id fall through to the default when the
// explicit value is empty; parameter maps merge key-by-key with explicit
// entries winning. Both nil yields nil.
func MergeModelSpec(explicit, def *ModelSpec) *ModelSpec {
	if explicit == nil && def == nil {
		return nil
	}
	if explicit == nil {
		return cloneModelSpec(def)
	}
	if def == nil {
		return cloneModelSpec(explicit)
	}

	merged := &ModelSpec{
		Provider: explicit.Provider,
		ModelID:  explicit.ModelID,
	}
	if merged.Provider == "" {
		merged.Provider = def.Provider
	}
	if merged.ModelID == "" {
		merged.ModelID = def.ModelID
	}

	if explicit.Parameters != nil || def.Parameters != nil {
		merged.Parameters = make(map[string]string, len(def.Parameters)+len(explicit.Parameters))
		for k, v := range def.Parameters {
			merged.Parameters[k] = v
		}
		for k, v := range explicit.Parameters {
			merged.Parameters[k] = v
		}
	}
	return merged
}

func cloneModelSpec(spec *ModelSpec) *ModelSpec {
	clone := &ModelSpec{
		Provider: spec.Provider,
		ModelID:  spec.ModelID,
	}
	if spec.Parameters != nil {
		clone.Parameters = make(map[string]string, len(spec.Parameters))
		for k, v := range spec.Parameters {
			clone.Parameters[k] = v
		}
	}
	return clone
}
