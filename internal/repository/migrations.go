package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillhub/backend/internal/logging"
)

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE users (
				uid TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE TABLE skill_packages (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version TEXT NOT NULL,
				owner_uid TEXT NOT NULL,
				is_public BOOLEAN NOT NULL DEFAULT false,
				share_id TEXT,
				download_count BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_skill_packages_owner ON skill_packages(owner_uid);
			CREATE UNIQUE INDEX idx_skill_packages_share_id ON skill_packages(share_id) WHERE share_id IS NOT NULL;

			CREATE TABLE skill_workflows (
				package_id TEXT NOT NULL REFERENCES skill_packages(id) ON DELETE CASCADE,
				skill_workflow_id TEXT NOT NULL,
				position INT NOT NULL,
				source_canvas_id TEXT,
				name TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				kind TEXT NOT NULL DEFAULT 'generate' CHECK (kind IN ('clone', 'generate')),
				dependency_workflow_ids TEXT[] NOT NULL DEFAULT '{}',
				PRIMARY KEY (package_id, skill_workflow_id)
			);
		`,
		2: `
			CREATE TABLE skill_installations (
				id TEXT PRIMARY KEY,
				package_id TEXT NOT NULL REFERENCES skill_packages(id),
				uid TEXT NOT NULL,
				status TEXT NOT NULL CHECK (status IN ('downloaded', 'initializing', 'ready', 'partial_failed', 'failed')),
				workflow_mapping JSONB NOT NULL DEFAULT '{}',
				installed_version TEXT NOT NULL,
				has_update BOOLEAN NOT NULL DEFAULT false,
				available_version TEXT,
				deleted_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- soft deleted rows are resurrected, never duplicated
			CREATE UNIQUE INDEX idx_skill_installations_package_uid ON skill_installations(package_id, uid);
			CREATE INDEX idx_skill_installations_uid ON skill_installations(uid) WHERE deleted_at IS NULL;
		`,
	}
}

// MigrationManager applies numbered schema migrations.
type MigrationManager struct {
	db         *pgxpool.Pool
	logger     *logging.Logger
	migrations map[int]string
}

// NewMigrationManager creates a migration manager for the service schema.
func NewMigrationManager(db *pgxpool.Pool, logger *logging.Logger) *MigrationManager {
	return &MigrationManager{
		db:         db,
		logger:     logger.WithComponent("migrations"),
		migrations: migrations(),
	}
}

// RunMigrations applies, in ascending order, every migration newer than the
// recorded schema version. Each migration runs in its own transaction.
func (m *MigrationManager) RunMigrations(ctx context.Context) error {
	_, err := m.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	m.logger.Info("current schema version", "version", current)

	versions := make([]int, 0, len(m.migrations))
	for version := range m.migrations {
		if version > current {
			versions = append(versions, version)
		}
	}
	sort.Ints(versions)

	for _, version := range versions {
		if err := m.apply(ctx, version); err != nil {
			return err
		}
		m.logger.Info("migration applied", "version", version)
	}

	return nil
}

// CurrentVersion returns the highest applied migration, or zero.
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	var version int
	if err := m.db.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to query current schema version: %w", err)
	}
	return version, nil
}

func (m *MigrationManager) apply(ctx context.Context, version int) (err error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", version, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				m.logger.Error("failed to roll back migration", "version", version, "error", rbErr)
			}
		}
	}()

	if _, err = tx.Exec(ctx, m.migrations[version]); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", version, err)
	}
	if _, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", version, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", version, err)
	}
	return nil
}
