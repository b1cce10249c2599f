package services

import (
	"fmt"
	"sort"
	"sync"

	"skillhub/backend/pkg/models"
)

// TemplateRegistry lists the workflow kinds the service can materialize. It
// is built once at startup and passed to whoever needs it.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[models.WorkflowKind]models.SkillTemplate
}

// DefaultTemplates returns the built-in clone and generate templates.
func DefaultTemplates() []models.SkillTemplate {
	return []models.SkillTemplate{
		{
			Kind:        models.WorkflowKindClone,
			Name:        "Canvas clone",
			Description: "Copies the published source canvas into the user's workspace.",
		},
		{
			Kind:        models.WorkflowKindGenerate,
			Name:        "Generated workflow",
			Description: "Builds a new workflow for the user from the package's template definition.",
		},
	}
}

// NewTemplateRegistry creates a registry holding templates.
func NewTemplateRegistry(templates ...models.SkillTemplate) *TemplateRegistry {
	r := &TemplateRegistry{templates: make(map[models.WorkflowKind]models.SkillTemplate)}
	for _, t := range templates {
		_ = r.Register(t)
	}
	return r
}

// Register adds a template. Registering a kind twice replaces it; an empty
// kind is rejected.
func (r *TemplateRegistry) Register(t models.SkillTemplate) error {
	if t.Kind == "" {
		return fmt.Errorf("register template %q: %w", t.Name, ErrUnknownWorkflowKind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Kind] = t
	return nil
}

// Lookup returns the template for kind.
func (r *TemplateRegistry) Lookup(kind models.WorkflowKind) (models.SkillTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[kind]
	return t, ok
}

// List returns every template sorted by kind.
func (r *TemplateRegistry) List() []models.SkillTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.SkillTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}
