package services

import (
	"context"
	"fmt"
	"time"

	"skillhub/backend/internal/telemetry"
	"skillhub/backend/pkg/models"
)

// MaterializeRequest describes one workflow to create for a user.
type MaterializeRequest struct {
	UID            string
	SkillWorkflow  string
	SourceCanvasID *string
	Name           string
	Description    string
	Kind           models.WorkflowKind
}

// WorkflowMaterializer turns a package workflow definition into a concrete
// workflow owned by the user and returns its id.
type WorkflowMaterializer interface {
	Materialize(ctx context.Context, req MaterializeRequest) (string, error)
}

// WorkflowStore deletes materialized workflows.
type WorkflowStore interface {
	Delete(ctx context.Context, uid, workflowID string) error
}

// CanvasCloner copies an existing canvas for a user.
type CanvasCloner interface {
	Clone(ctx context.Context, uid, sourceCanvasID, name string) (string, error)
}

// WorkflowGenerator synthesizes a workflow from a template definition.
type WorkflowGenerator interface {
	Generate(ctx context.Context, req MaterializeRequest) (string, error)
}

// KindMaterializer dispatches on the workflow kind.
type KindMaterializer struct {
	registry  *TemplateRegistry
	cloner    CanvasCloner
	generator WorkflowGenerator
	metrics   *telemetry.Metrics
}

// NewKindMaterializer creates a KindMaterializer. metrics may be nil.
func NewKindMaterializer(registry *TemplateRegistry, cloner CanvasCloner, generator WorkflowGenerator, metrics *telemetry.Metrics) *KindMaterializer {
	return &KindMaterializer{
		registry:  registry,
		cloner:    cloner,
		generator: generator,
		metrics:   metrics,
	}
}

// Materialize creates the workflow described by req.
func (m *KindMaterializer) Materialize(ctx context.Context, req MaterializeRequest) (string, error) {
	if _, ok := m.registry.Lookup(req.Kind); !ok {
		return "", fmt.Errorf("materialize %s: %w: %q", req.SkillWorkflow, ErrUnknownWorkflowKind, req.Kind)
	}

	start := time.Now()
	var (
		id  string
		err error
	)
	switch req.Kind {
	case models.WorkflowKindClone:
		if req.SourceCanvasID == nil || *req.SourceCanvasID == "" {
			err = fmt.Errorf("workflow %s has no source canvas to clone", req.SkillWorkflow)
			break
		}
		id, err = m.cloner.Clone(ctx, req.UID, *req.SourceCanvasID, req.Name)
	case models.WorkflowKindGenerate:
		id, err = m.generator.Generate(ctx, req)
	default:
		return "", fmt.Errorf("materialize %s: %w: %q", req.SkillWorkflow, ErrUnknownWorkflowKind, req.Kind)
	}
	if err == nil && id == "" {
		err = fmt.Errorf("materialize %s: empty workflow id returned", req.SkillWorkflow)
	}
	m.metrics.ObserveMaterialization(string(req.Kind), err == nil, time.Since(start))

	if err != nil {
		return "", err
	}
	return id, nil
}
