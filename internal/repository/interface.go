package repository

import (
	"context"
	"errors"
	"time"

	"skillhub/backend/pkg/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write would violate a uniqueness rule.
	ErrConflict = errors.New("record already exists")
)

// GetPackageOptions controls how much of a package is loaded.
type GetPackageOptions struct {
	IncludeWorkflows bool
}

// ListInstallationsOptions filters and pages a user's installations.
type ListInstallationsOptions struct {
	Status *models.InstallationStatus
	Limit  int
	Offset int
}

// PackageRepository reads skill packages.
type PackageRepository interface {
	// GetPackage returns the current version of a package.
	GetPackage(ctx context.Context, packageID string, opts GetPackageOptions) (*models.SkillPackage, error)
	// SavePackage creates or replaces a package and its workflow definitions.
	SavePackage(ctx context.Context, pkg *models.SkillPackage) error
	// IncrementDownloadCount bumps the download counter of a package.
	IncrementDownloadCount(ctx context.Context, packageID string) error
}

// InstallationRepository stores installations. Update and
// UpdateMappingAndStatus replace the whole workflow mapping in one write.
type InstallationRepository interface {
	// FindByID returns an installation, including soft deleted ones.
	FindByID(ctx context.Context, id string) (*models.Installation, error)
	// FindByPackageAndUser returns the installation of packageID owned by uid.
	FindByPackageAndUser(ctx context.Context, packageID, uid string, includeDeleted bool) (*models.Installation, error)
	// ListByUser returns the live installations of uid, newest first.
	ListByUser(ctx context.Context, uid string, opts ListInstallationsOptions) ([]*models.Installation, error)
	// ListLive returns every installation that is not soft deleted.
	ListLive(ctx context.Context) ([]*models.Installation, error)
	// Create inserts a new installation.
	Create(ctx context.Context, installation *models.Installation) error
	// Update writes every mutable column of an installation.
	Update(ctx context.Context, installation *models.Installation) error
	// UpdateStatus changes only the status.
	UpdateStatus(ctx context.Context, id string, status models.InstallationStatus) error
	// UpdateMappingAndStatus replaces the mapping and status atomically.
	UpdateMappingAndStatus(ctx context.Context, id string, mapping models.WorkflowMapping, status models.InstallationStatus) error
	// SoftDelete marks the installation deleted.
	SoftDelete(ctx context.Context, id string, at time.Time) error
}

// UserRepository resolves authenticated identities to users.
type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
}

// Repository aggregates every store the service needs.
type Repository interface {
	PackageRepository
	InstallationRepository
	UserRepository
	Ping(ctx context.Context) error
}
