package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"skillhub/backend/pkg/models"
)

// MemoryStore is an in-process Repository used by tests and by the server's
// in-memory mode. Records are copied on the way in and out so callers never
// share state with the store.
type MemoryStore struct {
	mu            sync.RWMutex
	packages      map[string]*models.SkillPackage
	installations map[string]*models.Installation
	users         map[string]*models.User
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		packages:      make(map[string]*models.SkillPackage),
		installations: make(map[string]*models.Installation),
		users:         make(map[string]*models.User),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func copyPackage(pkg *models.SkillPackage, includeWorkflows bool) *models.SkillPackage {
	out := *pkg
	if pkg.ShareID != nil {
		share := *pkg.ShareID
		out.ShareID = &share
	}
	out.Workflows = nil
	if includeWorkflows {
		out.Workflows = make([]models.WorkflowDefinition, len(pkg.Workflows))
		for i, wf := range pkg.Workflows {
			if wf.SourceCanvasID != nil {
				src := *wf.SourceCanvasID
				wf.SourceCanvasID = &src
			}
			wf.DependencyWorkflowIDs = append([]string(nil), wf.DependencyWorkflowIDs...)
			out.Workflows[i] = wf
		}
	}
	return &out
}

func copyInstallation(inst *models.Installation) *models.Installation {
	return inst.Clone()
}

func (s *MemoryStore) GetPackage(ctx context.Context, packageID string, opts GetPackageOptions) (*models.SkillPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, ok := s.packages[packageID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyPackage(pkg, opts.IncludeWorkflows), nil
}

func (s *MemoryStore) SavePackage(ctx context.Context, pkg *models.SkillPackage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	pkg.UpdatedAt = now
	if existing, ok := s.packages[pkg.ID]; ok {
		pkg.DownloadCount = existing.DownloadCount
	}
	s.packages[pkg.ID] = copyPackage(pkg, true)
	return nil
}

func (s *MemoryStore) IncrementDownloadCount(ctx context.Context, packageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkg, ok := s.packages[packageID]
	if !ok {
		return ErrNotFound
	}
	pkg.DownloadCount++
	return nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*models.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.installations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyInstallation(inst), nil
}

func (s *MemoryStore) FindByPackageAndUser(ctx context.Context, packageID, uid string, includeDeleted bool) (*models.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inst := range s.installations {
		if inst.PackageID != packageID || inst.UID != uid {
			continue
		}
		if inst.Deleted() && !includeDeleted {
			continue
		}
		return copyInstallation(inst), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) sorted(filter func(*models.Installation) bool) []*models.Installation {
	out := make([]*models.Installation, 0)
	for _, inst := range s.installations {
		if filter(inst) {
			out = append(out, copyInstallation(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryStore) ListByUser(ctx context.Context, uid string, opts ListInstallationsOptions) ([]*models.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.sorted(func(inst *models.Installation) bool {
		if inst.UID != uid || inst.Deleted() {
			return false
		}
		return opts.Status == nil || inst.Status == *opts.Status
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []*models.Installation{}, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListLive(ctx context.Context) ([]*models.Installation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sorted(func(inst *models.Installation) bool { return !inst.Deleted() }), nil
}

func (s *MemoryStore) Create(ctx context.Context, installation *models.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range s.installations {
		if inst.ID == installation.ID || (inst.PackageID == installation.PackageID && inst.UID == installation.UID) {
			return ErrConflict
		}
	}
	s.installations[installation.ID] = copyInstallation(installation)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, installation *models.Installation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.installations[installation.ID]; !ok {
		return ErrNotFound
	}
	s.installations[installation.ID] = copyInstallation(installation)
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status models.InstallationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.installations[id]
	if !ok {
		return ErrNotFound
	}
	inst.Status = status
	inst.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) UpdateMappingAndStatus(ctx context.Context, id string, mapping models.WorkflowMapping, status models.InstallationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.installations[id]
	if !ok {
		return ErrNotFound
	}
	inst.WorkflowMapping = mapping.Clone()
	if inst.WorkflowMapping == nil {
		inst.WorkflowMapping = models.WorkflowMapping{}
	}
	inst.Status = status
	inst.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.installations[id]
	if !ok || inst.Deleted() {
		return ErrNotFound
	}
	inst.DeletedAt = &at
	inst.UpdatedAt = at
	return nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[email]
	if !ok {
		return nil, ErrNotFound
	}
	out := *user
	return &out, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.Email]; ok {
		return ErrConflict
	}
	prepareUser(user)
	stored := *user
	s.users[user.Email] = &stored
	return nil
}
