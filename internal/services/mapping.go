package services

import (
	"sort"

	"skillhub/backend/pkg/models"
)

// NewPendingMapping returns one pending entry per workflow definition.
func NewPendingMapping(workflows []models.WorkflowDefinition) models.WorkflowMapping {
	mapping := make(models.WorkflowMapping, len(workflows))
	for _, wf := range workflows {
		mapping[wf.SkillWorkflowID] = models.WorkflowMappingEntry{Status: models.MappingStatusPending}
	}
	return mapping
}

// CloneMapping deep copies a mapping.
func CloneMapping(m models.WorkflowMapping) models.WorkflowMapping {
	return m.Clone()
}

// ReadyEntry records a successful materialization.
func ReadyEntry(workflowID string) models.WorkflowMappingEntry {
	return models.WorkflowMappingEntry{
		WorkflowID: &workflowID,
		Status:     models.MappingStatusReady,
	}
}

// FailedEntry records a failed materialization.
func FailedEntry(message string) models.WorkflowMappingEntry {
	return models.WorkflowMappingEntry{
		Status: models.MappingStatusFailed,
		Error:  &message,
	}
}

// AggregateStatus folds per-workflow outcomes into an installation status:
// ready with no failures, failed with no ready entries, partial_failed
// otherwise. An empty mapping is ready.
func AggregateStatus(m models.WorkflowMapping) models.InstallationStatus {
	var ready, failed int
	for _, entry := range m {
		switch entry.Status {
		case models.MappingStatusReady:
			ready++
		case models.MappingStatusFailed:
			failed++
		}
	}

	switch {
	case failed == 0:
		return models.InstallationStatusReady
	case ready == 0:
		return models.InstallationStatusFailed
	default:
		return models.InstallationStatusPartialFailed
	}
}

// ReadyWorkflowIDs lists the materialized workflow ids in key order.
func ReadyWorkflowIDs(m models.WorkflowMapping) []string {
	keys := make([]string, 0, len(m))
	for k, entry := range m {
		if entry.Status == models.MappingStatusReady && entry.WorkflowID != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	ids := make([]string, len(keys))
	for i, k := range keys {
		ids[i] = *m[k].WorkflowID
	}
	return ids
}

// CanInitialize reports whether an installation in status may be initialized.
// A ready installation returns proceed=false with no error.
func CanInitialize(status models.InstallationStatus) (proceed bool, err error) {
	switch status {
	case models.InstallationStatusDownloaded,
		models.InstallationStatusInitializing,
		models.InstallationStatusPartialFailed,
		models.InstallationStatusFailed:
		return true, nil
	case models.InstallationStatusReady:
		return false, nil
	default:
		return false, ErrInvalidStateTransition
	}
}

// CanUpgrade reports whether an installation in status may be upgraded.
func CanUpgrade(status models.InstallationStatus) error {
	switch status {
	case models.InstallationStatusReady, models.InstallationStatusPartialFailed:
		return nil
	default:
		return ErrInvalidStateTransition
	}
}
