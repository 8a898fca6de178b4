// Package prompts manages the prompt templates sent to the inference service.
//
// Templates use {placeholder} variables. Rendering with an unresolved
// variable is a programming error and fails loudly rather than degrading.
package prompts

import (
	"fmt"
	"regexp"
)

// Template is a named prompt with optional default variable values.
type Template struct {
	ID       string
	Text     string
	Defaults map[string]any
}

// Registry holds prompt templates and renders them with variable substitution.
type Registry struct {
	templates map[string]Template
}

// NewRegistry constructs a Registry preloaded with the pipeline's templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	r.Register(Template{ID: BatchAnalysisID, Text: batchAnalysisText})
	r.Register(Template{
		ID:   LensDiscoveryID,
		Text: lensDiscoveryText,
		Defaults: map[string]any{
			"year_range":    "unknown period",
			"total_count":   0,
			"all_summaries": "",
		},
	})
	r.Register(Template{ID: LensAnnotationID, Text: lensAnnotationText})
	return r
}

// Register adds or replaces a template.
func (r *Registry) Register(t Template) {
	r.templates[t.ID] = t
}

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Render substitutes vars into the named template. Defaults fill variables
// the caller omits; a variable with neither a value nor a default is an error.
func (r *Registry) Render(id string, vars map[string]any) (string, error) {
	t, ok := r.templates[id]
	if !ok {
		return "", fmt.Errorf("template not found: %s", id)
	}

	merged := make(map[string]any, len(t.Defaults)+len(vars))
	for k, v := range t.Defaults {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}

	var missing string
	out := placeholderRe.ReplaceAllStringFunc(t.Text, func(match string) string {
		name := match[1 : len(match)-1]
		val, ok := merged[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return fmt.Sprintf("%v", val)
	})
	if missing != "" {
		return "", fmt.Errorf("missing required variable for template %q: %s", id, missing)
	}
	return out, nil
}
