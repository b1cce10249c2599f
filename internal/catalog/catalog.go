// Package catalog loads skill packages from YAML manifests. Manifests seed
// the package table and back the in-memory store used for local runs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"skillhub/backend/internal/logging"
	"skillhub/backend/internal/repository"
	"skillhub/backend/internal/resolver"
	"skillhub/backend/pkg/models"
)

// Manifest is the top-level document of a catalog file.
type Manifest struct {
	Packages []PackageManifest `yaml:"packages"`
}

// PackageManifest describes one package and its workflows.
type PackageManifest struct {
	ID          string                      `yaml:"id"`
	Name        string                      `yaml:"name"`
	Description string                      `yaml:"description"`
	Version     string                      `yaml:"version"`
	Owner       string                      `yaml:"owner"`
	Public      bool                        `yaml:"public"`
	ShareID     string                      `yaml:"share_id"`
	Workflows   []models.WorkflowDefinition `yaml:"workflows"`
}

// Parse decodes a manifest and converts it into packages. Unknown fields are
// rejected and every package must resolve to a valid installation order.
func Parse(r io.Reader) ([]*models.SkillPackage, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	seen := make(map[string]struct{}, len(m.Packages))
	pkgs := make([]*models.SkillPackage, 0, len(m.Packages))
	for i, pm := range m.Packages {
		pkg, err := pm.toPackage()
		if err != nil {
			return nil, fmt.Errorf("package %d: %w", i, err)
		}
		if _, dup := seen[pkg.ID]; dup {
			return nil, fmt.Errorf("package %q declared twice", pkg.ID)
		}
		seen[pkg.ID] = struct{}{}
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

// LoadFile parses the manifest at path.
func LoadFile(path string) ([]*models.SkillPackage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

func (pm PackageManifest) toPackage() (*models.SkillPackage, error) {
	id := strings.TrimSpace(pm.ID)
	if id == "" {
		return nil, errors.New("id is required")
	}
	if strings.TrimSpace(pm.Version) == "" {
		return nil, fmt.Errorf("package %q: version is required", id)
	}

	workflows := make([]models.WorkflowDefinition, len(pm.Workflows))
	for i, wf := range pm.Workflows {
		if wf.SkillWorkflowID == "" {
			return nil, fmt.Errorf("package %q: workflow %d has no id", id, i)
		}
		kind, err := models.ParseWorkflowKind(string(wf.Kind))
		if err != nil {
			return nil, fmt.Errorf("package %q: workflow %q: %w", id, wf.SkillWorkflowID, err)
		}
		if kind == models.WorkflowKindClone && (wf.SourceCanvasID == nil || *wf.SourceCanvasID == "") {
			return nil, fmt.Errorf("package %q: workflow %q: clone requires source_canvas_id", id, wf.SkillWorkflowID)
		}
		wf.Kind = kind
		if wf.Name == "" {
			wf.Name = wf.SkillWorkflowID
		}
		workflows[i] = wf
	}

	if _, err := resolver.Resolve(id, workflows); err != nil {
		return nil, err
	}

	pkg := &models.SkillPackage{
		ID:          id,
		Name:        pm.Name,
		Description: pm.Description,
		Version:     pm.Version,
		OwnerUID:    pm.Owner,
		IsPublic:    pm.Public,
		Workflows:   workflows,
	}
	if pkg.Name == "" {
		pkg.Name = id
	}
	if pm.ShareID != "" {
		share := pm.ShareID
		pkg.ShareID = &share
	}
	return pkg, nil
}

// Seed saves every package into store. Existing packages are replaced, which
// bumps their version when the manifest does.
func Seed(ctx context.Context, store repository.PackageRepository, pkgs []*models.SkillPackage, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	for _, pkg := range pkgs {
		if err := store.SavePackage(ctx, pkg); err != nil {
			return fmt.Errorf("saving package %q: %w", pkg.ID, err)
		}
		logger.Info("seeded package", "package_id", pkg.ID, "version", pkg.Version, "workflows", len(pkg.Workflows))
	}
	return nil
}
