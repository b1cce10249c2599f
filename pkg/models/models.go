// Package models defines the domain models for the skill installation service
package models

import (
	"fmt"
	"time"
)

// WorkflowKind selects how a package workflow is materialized for a user.
type WorkflowKind string

const (
	// WorkflowKindClone copies the source canvas verbatim.
	WorkflowKindClone WorkflowKind = "clone"
	// WorkflowKindGenerate synthesizes a new workflow from the source template.
	WorkflowKindGenerate WorkflowKind = "generate"
)

// ParseWorkflowKind converts a stored kind string into a WorkflowKind.
// An empty string maps to WorkflowKindGenerate.
func ParseWorkflowKind(s string) (WorkflowKind, error) {
	switch WorkflowKind(s) {
	case "", WorkflowKindGenerate:
		return WorkflowKindGenerate, nil
	case WorkflowKindClone:
		return WorkflowKindClone, nil
	default:
		return "", fmt.Errorf("unknown workflow kind %q", s)
	}
}

// SkillPackage is a versioned bundle of workflow templates.
type SkillPackage struct {
	ID            string               `json:"id" db:"id"`
	Name          string               `json:"name" db:"name"`
	Description   string               `json:"description" db:"description"`
	Version       string               `json:"version" db:"version"`
	OwnerUID      string               `json:"owner_uid" db:"owner_uid"`
	IsPublic      bool                 `json:"is_public" db:"is_public"`
	ShareID       *string              `json:"share_id,omitempty" db:"share_id"`
	DownloadCount int64                `json:"download_count" db:"download_count"`
	Workflows     []WorkflowDefinition `json:"workflows,omitempty"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at" db:"updated_at"`
}

// VisibleTo reports whether uid may read the package, either as owner, because
// it is public, or through a matching share link.
func (p *SkillPackage) VisibleTo(uid, shareID string) bool {
	if p.IsPublic || p.OwnerUID == uid {
		return true
	}
	return shareID != "" && p.ShareID != nil && *p.ShareID == shareID
}

// WorkflowDefinition is one workflow template inside a package.
type WorkflowDefinition struct {
	SkillWorkflowID       string       `json:"skill_workflow_id" yaml:"id" db:"skill_workflow_id"`
	SourceCanvasID        *string      `json:"source_canvas_id,omitempty" yaml:"source_canvas_id" db:"source_canvas_id"`
	Name                  string       `json:"name" yaml:"name" db:"name"`
	Description           string       `json:"description" yaml:"description" db:"description"`
	Kind                  WorkflowKind `json:"kind" yaml:"kind" db:"kind"`
	DependencyWorkflowIDs []string     `json:"dependency_workflow_ids,omitempty" yaml:"depends_on" db:"dependency_workflow_ids"`
}

// SkillTemplate describes a kind of workflow the service knows how to
// materialize.
type SkillTemplate struct {
	Kind        WorkflowKind `json:"kind"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}
