package resolver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCircularDependency is matched by every CircularDependencyError.
	ErrCircularDependency = errors.New("circular dependency")

	// ErrDependencyNotFound is matched by every MissingDependencyError.
	ErrDependencyNotFound = errors.New("dependency not found")

	// ErrDuplicateWorkflow indicates two definitions share a skill workflow id.
	ErrDuplicateWorkflow = errors.New("duplicate skill workflow id")
)

// CircularDependencyError reports the workflows that could not be ordered.
type CircularDependencyError struct {
	PackageID string
	Residual  []string
}

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("package %s: circular dependency among workflows [%s]", e.PackageID, strings.Join(e.Residual, ", "))
}

func (e *CircularDependencyError) Is(target error) bool {
	return target == ErrCircularDependency
}

// MissingDependencyError reports a dependency on a workflow the package does
// not declare.
type MissingDependencyError struct {
	PackageID    string
	WorkflowID   string
	DependencyID string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("package %s: dependency %s referenced by %s not declared", e.PackageID, e.DependencyID, e.WorkflowID)
}

func (e *MissingDependencyError) Is(target error) bool {
	return target == ErrDependencyNotFound
}
