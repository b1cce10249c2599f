package resolver

import (
	"fmt"

	"skillhub/backend/pkg/models"
)

// Resolve returns the workflows in an order where every workflow follows all of
// its dependencies. Among workflows that become ready at the same time the
// input order is kept, so the result is deterministic.
func Resolve(packageID string, workflows []models.WorkflowDefinition) ([]models.WorkflowDefinition, error) {
	index := make(map[string]int, len(workflows))
	for i, wf := range workflows {
		if _, dup := index[wf.SkillWorkflowID]; dup {
			return nil, fmt.Errorf("package %s: %w: %s", packageID, ErrDuplicateWorkflow, wf.SkillWorkflowID)
		}
		index[wf.SkillWorkflowID] = i
	}

	// dependents[i] lists the workflows that depend on workflows[i], in input order.
	inDegree := make([]int, len(workflows))
	dependents := make([][]int, len(workflows))
	for i, wf := range workflows {
		seen := make(map[string]struct{}, len(wf.DependencyWorkflowIDs))
		for _, depID := range wf.DependencyWorkflowIDs {
			if _, ok := seen[depID]; ok {
				continue
			}
			seen[depID] = struct{}{}

			dep, ok := index[depID]
			if !ok {
				return nil, &MissingDependencyError{
					PackageID:    packageID,
					WorkflowID:   wf.SkillWorkflowID,
					DependencyID: depID,
				}
			}
			dependents[dep] = append(dependents[dep], i)
			inDegree[i]++
		}
	}

	queue := make([]int, 0, len(workflows))
	for i := range workflows {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	ordered := make([]models.WorkflowDefinition, 0, len(workflows))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		ordered = append(ordered, workflows[current])

		for _, next := range dependents[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(ordered) < len(workflows) {
		var residual []string
		for i, wf := range workflows {
			if inDegree[i] > 0 {
				residual = append(residual, wf.SkillWorkflowID)
			}
		}
		return nil, &CircularDependencyError{PackageID: packageID, Residual: residual}
	}

	return ordered, nil
}
