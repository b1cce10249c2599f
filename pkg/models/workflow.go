package models

import (
	"time"
)

// InstallationStatus is the aggregate lifecycle state of an installation.
type InstallationStatus string

const (
	InstallationStatusDownloaded    InstallationStatus = "downloaded"
	InstallationStatusInitializing  InstallationStatus = "initializing"
	InstallationStatusReady         InstallationStatus = "ready"
	InstallationStatusPartialFailed InstallationStatus = "partial_failed"
	InstallationStatusFailed        InstallationStatus = "failed"
)

// MappingStatus is the materialization outcome of a single package workflow.
type MappingStatus string

const (
	MappingStatusPending MappingStatus = "pending"
	MappingStatusReady   MappingStatus = "ready"
	MappingStatusFailed  MappingStatus = "failed"
)

// WorkflowMappingEntry records how one package workflow was materialized.
// Ready entries carry a WorkflowID; pending and failed entries do not.
type WorkflowMappingEntry struct {
	WorkflowID *string       `json:"workflowId"`
	Status     MappingStatus `json:"status"`
	Error      *string       `json:"error,omitempty"`
}

// WorkflowMapping is keyed by skill workflow id.
type WorkflowMapping map[string]WorkflowMappingEntry

// Clone returns a deep copy of m. A nil mapping stays nil.
func (m WorkflowMapping) Clone() WorkflowMapping {
	if m == nil {
		return nil
	}
	out := make(WorkflowMapping, len(m))
	for k, v := range m {
		v.WorkflowID = cloneString(v.WorkflowID)
		v.Error = cloneString(v.Error)
		out[k] = v
	}
	return out
}

// Installation is a user's installed copy of a skill package.
type Installation struct {
	ID               string             `json:"id"`
	PackageID        string             `json:"package_id"`
	UID              string             `json:"uid"`
	Status           InstallationStatus `json:"status"`
	WorkflowMapping  WorkflowMapping    `json:"workflow_mapping"`
	InstalledVersion string             `json:"installed_version"`
	HasUpdate        bool               `json:"has_update"`
	AvailableVersion *string            `json:"available_version,omitempty"`
	DeletedAt        *time.Time         `json:"-"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Clone returns a deep copy of the installation.
func (i *Installation) Clone() *Installation {
	out := *i
	out.WorkflowMapping = i.WorkflowMapping.Clone()
	if out.WorkflowMapping == nil {
		out.WorkflowMapping = WorkflowMapping{}
	}
	out.AvailableVersion = cloneString(i.AvailableVersion)
	if i.DeletedAt != nil {
		at := *i.DeletedAt
		out.DeletedAt = &at
	}
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Deleted reports whether the installation has been soft deleted.
func (i *Installation) Deleted() bool {
	return i.DeletedAt != nil
}
