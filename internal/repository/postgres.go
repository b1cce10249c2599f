package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillhub/backend/internal/logging"
	"skillhub/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Repository interface.
type PostgresStore struct {
	db     *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, logger *logging.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger.WithComponent("postgres")}
}

// Ping verifies the database connection is healthy.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// GetPackage returns a package, optionally with its workflow definitions in
// declaration order.
func (s *PostgresStore) GetPackage(ctx context.Context, packageID string, opts GetPackageOptions) (*models.SkillPackage, error) {
	var pkg models.SkillPackage
	err := s.db.QueryRow(ctx, `
		SELECT id, name, description, version, owner_uid, is_public, share_id, download_count, created_at, updated_at
		FROM skill_packages
		WHERE id = $1`, packageID).
		Scan(&pkg.ID, &pkg.Name, &pkg.Description, &pkg.Version, &pkg.OwnerUID, &pkg.IsPublic,
			&pkg.ShareID, &pkg.DownloadCount, &pkg.CreatedAt, &pkg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load package %s: %w", packageID, err)
	}

	if !opts.IncludeWorkflows {
		return &pkg, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT skill_workflow_id, source_canvas_id, name, description, kind, dependency_workflow_ids
		FROM skill_workflows
		WHERE package_id = $1
		ORDER BY position`, packageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows of package %s: %w", packageID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			wf   models.WorkflowDefinition
			kind string
		)
		if err := rows.Scan(&wf.SkillWorkflowID, &wf.SourceCanvasID, &wf.Name, &wf.Description, &kind, &wf.DependencyWorkflowIDs); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		if wf.Kind, err = models.ParseWorkflowKind(kind); err != nil {
			return nil, fmt.Errorf("package %s workflow %s: %w", packageID, wf.SkillWorkflowID, err)
		}
		pkg.Workflows = append(pkg.Workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return &pkg, nil
}

// SavePackage upserts a package and replaces its workflow definitions.
func (s *PostgresStore) SavePackage(ctx context.Context, pkg *models.SkillPackage) (err error) {
	now := time.Now().UTC()
	if pkg.CreatedAt.IsZero() {
		pkg.CreatedAt = now
	}
	pkg.UpdatedAt = now

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error("failed to roll back package save", "package_id", pkg.ID, "error", rbErr)
			}
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO skill_packages (id, name, description, version, owner_uid, is_public, share_id, download_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			version = EXCLUDED.version,
			owner_uid = EXCLUDED.owner_uid,
			is_public = EXCLUDED.is_public,
			share_id = EXCLUDED.share_id,
			updated_at = EXCLUDED.updated_at`,
		pkg.ID, pkg.Name, pkg.Description, pkg.Version, pkg.OwnerUID, pkg.IsPublic, pkg.ShareID,
		pkg.DownloadCount, pkg.CreatedAt, pkg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save package %s: %w", pkg.ID, err)
	}

	if _, err = tx.Exec(ctx, "DELETE FROM skill_workflows WHERE package_id = $1", pkg.ID); err != nil {
		return fmt.Errorf("failed to delete existing workflows: %w", err)
	}

	for i, wf := range pkg.Workflows {
		deps := wf.DependencyWorkflowIDs
		if deps == nil {
			deps = []string{}
		}
		kind := wf.Kind
		if kind == "" {
			kind = models.WorkflowKindGenerate
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO skill_workflows (package_id, skill_workflow_id, position, source_canvas_id, name, description, kind, dependency_workflow_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			pkg.ID, wf.SkillWorkflowID, i, wf.SourceCanvasID, wf.Name, wf.Description, string(kind), deps)
		if err != nil {
			return fmt.Errorf("failed to save workflow %s: %w", wf.SkillWorkflowID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit package %s: %w", pkg.ID, err)
	}
	return nil
}

// IncrementDownloadCount bumps the download counter of a package.
func (s *PostgresStore) IncrementDownloadCount(ctx context.Context, packageID string) error {
	tag, err := s.db.Exec(ctx, "UPDATE skill_packages SET download_count = download_count + 1 WHERE id = $1", packageID)
	if err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const installationColumns = `id, package_id, uid, status, workflow_mapping, installed_version,
	has_update, available_version, deleted_at, created_at, updated_at`

func scanInstallation(row pgx.Row) (*models.Installation, error) {
	var (
		inst    models.Installation
		status  string
		mapping []byte
	)
	err := row.Scan(&inst.ID, &inst.PackageID, &inst.UID, &status, &mapping, &inst.InstalledVersion,
		&inst.HasUpdate, &inst.AvailableVersion, &inst.DeletedAt, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.Status = models.InstallationStatus(status)
	inst.WorkflowMapping = models.WorkflowMapping{}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &inst.WorkflowMapping); err != nil {
			return nil, fmt.Errorf("failed to decode workflow mapping of installation %s: %w", inst.ID, err)
		}
	}
	return &inst, nil
}

func encodeMapping(mapping models.WorkflowMapping) ([]byte, error) {
	if mapping == nil {
		mapping = models.WorkflowMapping{}
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow mapping: %w", err)
	}
	return data, nil
}

func (s *PostgresStore) queryInstallations(ctx context.Context, query string, args ...any) ([]*models.Installation, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installations: %w", err)
	}
	defer rows.Close()

	installations := make([]*models.Installation, 0)
	for rows.Next() {
		inst, err := scanInstallation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installation: %w", err)
		}
		installations = append(installations, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating installations: %w", err)
	}
	return installations, nil
}

// FindByID returns an installation, including soft deleted ones.
func (s *PostgresStore) FindByID(ctx context.Context, id string) (*models.Installation, error) {
	inst, err := scanInstallation(s.db.QueryRow(ctx,
		"SELECT "+installationColumns+" FROM skill_installations WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load installation %s: %w", id, err)
	}
	return inst, nil
}

// FindByPackageAndUser returns the installation of packageID owned by uid.
func (s *PostgresStore) FindByPackageAndUser(ctx context.Context, packageID, uid string, includeDeleted bool) (*models.Installation, error) {
	query := "SELECT " + installationColumns + " FROM skill_installations WHERE package_id = $1 AND uid = $2"
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}
	inst, err := scanInstallation(s.db.QueryRow(ctx, query, packageID, uid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load installation of package %s: %w", packageID, err)
	}
	return inst, nil
}

// ListByUser returns the live installations of uid, newest first.
func (s *PostgresStore) ListByUser(ctx context.Context, uid string, opts ListInstallationsOptions) ([]*models.Installation, error) {
	query := "SELECT " + installationColumns + " FROM skill_installations WHERE uid = $1 AND deleted_at IS NULL"
	args := []any{uid}
	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return s.queryInstallations(ctx, query, args...)
}

// ListLive returns every installation that is not soft deleted.
func (s *PostgresStore) ListLive(ctx context.Context) ([]*models.Installation, error) {
	return s.queryInstallations(ctx,
		"SELECT "+installationColumns+" FROM skill_installations WHERE deleted_at IS NULL ORDER BY created_at")
}

// Create inserts a new installation.
func (s *PostgresStore) Create(ctx context.Context, inst *models.Installation) error {
	mapping, err := encodeMapping(inst.WorkflowMapping)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO skill_installations (`+installationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inst.ID, inst.PackageID, inst.UID, string(inst.Status), mapping, inst.InstalledVersion,
		inst.HasUpdate, inst.AvailableVersion, inst.DeletedAt, inst.CreatedAt, inst.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create installation: %w", err)
	}
	return nil
}

// Update writes every mutable column of an installation.
func (s *PostgresStore) Update(ctx context.Context, inst *models.Installation) error {
	mapping, err := encodeMapping(inst.WorkflowMapping)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE skill_installations SET
			status = $2,
			workflow_mapping = $3,
			installed_version = $4,
			has_update = $5,
			available_version = $6,
			deleted_at = $7,
			updated_at = $8
		WHERE id = $1`,
		inst.ID, string(inst.Status), mapping, inst.InstalledVersion, inst.HasUpdate,
		inst.AvailableVersion, inst.DeletedAt, inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update installation %s: %w", inst.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus changes only the status.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.InstallationStatus) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE skill_installations SET status = $2, updated_at = $3 WHERE id = $1",
		id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update status of installation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMappingAndStatus replaces the mapping and status in a single statement.
func (s *PostgresStore) UpdateMappingAndStatus(ctx context.Context, id string, mapping models.WorkflowMapping, status models.InstallationStatus) error {
	data, err := encodeMapping(mapping)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx,
		"UPDATE skill_installations SET workflow_mapping = $2, status = $3, updated_at = $4 WHERE id = $1",
		id, data, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update mapping of installation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks the installation deleted.
func (s *PostgresStore) SoftDelete(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE skill_installations SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL",
		id, at)
	if err != nil {
		return fmt.Errorf("failed to delete installation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserByEmail resolves a user by email address.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.QueryRow(ctx, "SELECT uid, email, created_at, updated_at FROM users WHERE email = $1", email).
		Scan(&user.UID, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// CreateUser inserts a user, assigning a uid when none is set.
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	prepareUser(user)
	_, err := s.db.Exec(ctx,
		"INSERT INTO users (uid, email, created_at, updated_at) VALUES ($1, $2, $3, $4)",
		user.UID, user.Email, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
