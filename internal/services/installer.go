package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"skillhub/backend/internal/logging"
	"skillhub/backend/internal/repository"
	"skillhub/backend/internal/resolver"
	"skillhub/backend/internal/telemetry"
	"skillhub/backend/pkg/models"
)

const (
	// DefaultMaterializeTimeout bounds a single materializer call.
	DefaultMaterializeTimeout = 5 * time.Minute

	defaultListLimit = 20

	// persistTimeout bounds writes that must land after the caller went away.
	persistTimeout = 10 * time.Second
)

// InstallerDeps are the collaborators of an Installer. Locker, Metrics,
// Logger and Tracer are optional.
type InstallerDeps struct {
	Packages      repository.PackageRepository
	Installations repository.InstallationRepository
	Materializer  WorkflowMaterializer
	Workflows     WorkflowStore
	Locker        Locker
	Metrics       *telemetry.Metrics
	Logger        *logging.Logger
	Tracer        trace.Tracer
}

// InstallerConfig tunes the Installer.
type InstallerConfig struct {
	MaterializeTimeout time.Duration
}

// UninstallOptions controls what uninstall removes besides the installation.
type UninstallOptions struct {
	DeleteWorkflows bool
}

// ListInstallationsRequest filters and pages a user's installations.
type ListInstallationsRequest struct {
	Status string `validate:"omitempty,oneof=downloaded initializing ready partial_failed failed"`
	Limit  int    `validate:"gte=0,lte=100"`
	Offset int    `validate:"gte=0"`
}

// Installer drives the installation lifecycle of skill packages.
type Installer struct {
	packages      repository.PackageRepository
	installations repository.InstallationRepository
	materializer  WorkflowMaterializer
	workflows     WorkflowStore
	locker        Locker
	metrics       *telemetry.Metrics
	logger        *logging.Logger
	tracer        trace.Tracer
	validate      *validator.Validate

	materializeTimeout time.Duration
	now                func() time.Time
}

// NewInstaller creates a new Installer.
func NewInstaller(deps InstallerDeps, cfg InstallerConfig) *Installer {
	s := &Installer{
		packages:           deps.Packages,
		installations:      deps.Installations,
		materializer:       deps.Materializer,
		workflows:          deps.Workflows,
		locker:             deps.Locker,
		metrics:            deps.Metrics,
		logger:             deps.Logger,
		tracer:             deps.Tracer,
		validate:           validator.New(validator.WithRequiredStructEnabled()),
		materializeTimeout: cfg.MaterializeTimeout,
		now:                func() time.Time { return time.Now().UTC() },
	}
	if s.locker == nil {
		s.locker = NewKeyedMutex()
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	s.logger = s.logger.WithComponent("installer")
	if s.tracer == nil {
		s.tracer = telemetry.NoopTracer()
	}
	if s.materializeTimeout <= 0 {
		s.materializeTimeout = DefaultMaterializeTimeout
	}
	return s
}

func (s *Installer) withLock(ctx context.Context, key string, fn func(context.Context) error) error {
	unlock, err := s.locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// persistContext detaches ctx from cancellation so materialization results and
// rollbacks are saved even when the request is abandoned.
func persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (s *Installer) observe(op string, inst *models.Installation, err error) {
	switch {
	case err != nil:
		s.metrics.ObserveOperation(op, "error")
	case inst != nil:
		s.metrics.ObserveOperation(op, string(inst.Status))
	default:
		s.metrics.ObserveOperation(op, "ok")
	}
}

func (s *Installer) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, s.tracer, "installer."+op, attrs...)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		telemetry.SetError(span, err)
	}
	span.End()
}

func (s *Installer) loadPackage(ctx context.Context, op, packageID string) (*models.SkillPackage, error) {
	pkg, err := s.packages.GetPackage(ctx, packageID, repository.GetPackageOptions{IncludeWorkflows: true})
	if errors.Is(err, repository.ErrNotFound) {
		return nil, newError(op, "PACKAGE_NOT_FOUND", ErrPackageNotFound, "skill package %s not found", packageID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: load package %s: %w", op, packageID, err)
	}
	return pkg, nil
}

// loadOwned returns a live installation owned by uid. Installations of other
// users are reported as not found.
func (s *Installer) loadOwned(ctx context.Context, op, uid, id string) (*models.Installation, error) {
	inst, err := s.installations.FindByID(ctx, id)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: load installation %s: %w", op, id, err)
	}
	if err != nil || inst.UID != uid || inst.Deleted() {
		return nil, newError(op, "INSTALLATION_NOT_FOUND", ErrInstallationNotFound, "installation %s not found", id)
	}
	return inst, nil
}

// Download records an installation of packageID for uid without
// materializing any workflow. A soft deleted installation is revived in
// place.
func (s *Installer) Download(ctx context.Context, uid, packageID, shareID string) (inst *models.Installation, err error) {
	const op = "download"
	ctx, span := s.startSpan(ctx, op,
		attribute.String(telemetry.PackageIDKey, packageID),
		attribute.String(telemetry.UserIDKey, uid))
	defer func() { endSpan(span, err); s.observe(op, inst, err) }()

	err = s.withLock(ctx, installKey(uid, packageID), func(ctx context.Context) error {
		var lockedErr error
		inst, lockedErr = s.download(ctx, uid, packageID, shareID)
		return lockedErr
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Installer) download(ctx context.Context, uid, packageID, shareID string) (*models.Installation, error) {
	const op = "download"

	pkg, err := s.loadPackage(ctx, op, packageID)
	if err != nil {
		return nil, err
	}
	if !pkg.VisibleTo(uid, shareID) {
		return nil, newError(op, "ACCESS_DENIED", ErrAccessDenied, "skill package %s is not shared with you", packageID)
	}

	existing, err := s.installations.FindByPackageAndUser(ctx, packageID, uid, true)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%s: find installation: %w", op, err)
	}

	now := s.now()
	var inst *models.Installation
	switch {
	case existing == nil:
		inst = &models.Installation{
			ID:               uuid.New().String(),
			PackageID:        packageID,
			UID:              uid,
			Status:           models.InstallationStatusDownloaded,
			WorkflowMapping:  NewPendingMapping(pkg.Workflows),
			InstalledVersion: pkg.Version,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.installations.Create(ctx, inst); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return nil, newError(op, "ALREADY_INSTALLED", ErrAlreadyInstalled, "skill package %s is already installed", packageID)
			}
			return nil, fmt.Errorf("%s: create installation: %w", op, err)
		}
	case existing.Deleted():
		inst = existing
		inst.DeletedAt = nil
		inst.Status = models.InstallationStatusDownloaded
		inst.WorkflowMapping = NewPendingMapping(pkg.Workflows)
		inst.InstalledVersion = pkg.Version
		inst.HasUpdate = false
		inst.AvailableVersion = nil
		inst.UpdatedAt = now
		if err := s.installations.Update(ctx, inst); err != nil {
			return nil, fmt.Errorf("%s: restore installation %s: %w", op, inst.ID, err)
		}
		s.logger.InfoContext(ctx, "restored deleted installation", "installation_id", inst.ID, "package_id", packageID)
	default:
		return nil, newError(op, "ALREADY_INSTALLED", ErrAlreadyInstalled, "skill package %s is already installed", packageID)
	}

	bestEffort(ctx, s.logger, "increment_download_count", func(ctx context.Context) error {
		return s.packages.IncrementDownloadCount(ctx, packageID)
	}, "package_id", packageID)

	s.logger.InfoContext(ctx, "skill package downloaded", "installation_id", inst.ID, "package_id", packageID, "uid", uid)
	return inst, nil
}

// Install downloads packageID and initializes the resulting installation.
func (s *Installer) Install(ctx context.Context, uid, packageID, shareID string) (*models.Installation, error) {
	inst, err := s.Download(ctx, uid, packageID, shareID)
	if err != nil {
		return nil, err
	}
	return s.Initialize(ctx, uid, inst.ID)
}

// Initialize materializes every workflow of the installation that is not yet
// ready, in dependency order. A ready installation is returned unchanged.
func (s *Installer) Initialize(ctx context.Context, uid, installationID string) (inst *models.Installation, err error) {
	const op = "initialize"
	ctx, span := s.startSpan(ctx, op,
		attribute.String(telemetry.InstallationIDKey, installationID),
		attribute.String(telemetry.UserIDKey, uid))
	defer func() { endSpan(span, err); s.observe(op, inst, err) }()

	err = s.withLock(ctx, installationKey(installationID), func(ctx context.Context) error {
		var lockedErr error
		inst, lockedErr = s.initialize(ctx, uid, installationID)
		return lockedErr
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(telemetry.StatusKey, string(inst.Status)))
	return inst, nil
}

func (s *Installer) initialize(ctx context.Context, uid, installationID string) (*models.Installation, error) {
	const op = "initialize"

	inst, err := s.loadOwned(ctx, op, uid, installationID)
	if err != nil {
		return nil, err
	}

	proceed, err := CanInitialize(inst.Status)
	if err != nil {
		return nil, newError(op, "INVALID_STATE", err, "cannot initialize installation in status %s", inst.Status)
	}
	if !proceed {
		return inst, nil
	}

	if err := s.installations.UpdateStatus(ctx, inst.ID, models.InstallationStatusInitializing); err != nil {
		return nil, fmt.Errorf("%s: mark installation %s initializing: %w", op, inst.ID, err)
	}
	inst.Status = models.InstallationStatusInitializing

	pkg, err := s.loadPackage(ctx, op, inst.PackageID)
	if err != nil {
		return nil, err
	}

	mapping, status, err := s.materializeAll(ctx, inst, pkg.Workflows)
	if err != nil {
		s.logger.ErrorContext(ctx, "installation cannot be initialized", "installation_id", inst.ID, "error", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	saveCtx, cancel := persistContext(ctx)
	defer cancel()
	if err := s.installations.UpdateMappingAndStatus(saveCtx, inst.ID, mapping, status); err != nil {
		return nil, fmt.Errorf("%s: save installation %s: %w", op, inst.ID, err)
	}
	inst.WorkflowMapping = mapping
	inst.Status = status
	inst.UpdatedAt = s.now()

	s.logger.InfoContext(ctx, "installation initialized", "installation_id", inst.ID, "status", status)
	return inst, nil
}

// materializeAll resolves the workflow order and materializes every entry
// that is not ready. Failures are recorded per entry and do not stop the
// loop. Only a structural package error is returned.
func (s *Installer) materializeAll(ctx context.Context, inst *models.Installation, workflows []models.WorkflowDefinition) (models.WorkflowMapping, models.InstallationStatus, error) {
	ordered, err := resolver.Resolve(inst.PackageID, workflows)
	if err != nil {
		return nil, "", err
	}

	// Entries for workflows the package no longer declares are dropped.
	previous := CloneMapping(inst.WorkflowMapping)
	mapping := make(models.WorkflowMapping, len(ordered))
	for _, wf := range ordered {
		if entry, ok := previous[wf.SkillWorkflowID]; ok && entry.Status == models.MappingStatusReady {
			mapping[wf.SkillWorkflowID] = entry
			continue
		}
		mapping[wf.SkillWorkflowID] = s.materializeOne(ctx, inst, wf)
	}

	return mapping, AggregateStatus(mapping), nil
}

func (s *Installer) materializeOne(ctx context.Context, inst *models.Installation, wf models.WorkflowDefinition) models.WorkflowMappingEntry {
	ctx, span := s.startSpan(ctx, "materialize",
		attribute.String(telemetry.InstallationIDKey, inst.ID),
		attribute.String(telemetry.WorkflowIDKey, wf.SkillWorkflowID),
		attribute.String(telemetry.WorkflowKindKey, string(wf.Kind)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.materializeTimeout)
	defer cancel()

	kind := wf.Kind
	if kind == "" {
		kind = models.WorkflowKindGenerate
	}

	workflowID, err := s.materializer.Materialize(ctx, MaterializeRequest{
		UID:            inst.UID,
		SkillWorkflow:  wf.SkillWorkflowID,
		SourceCanvasID: wf.SourceCanvasID,
		Name:           wf.Name,
		Description:    wf.Description,
		Kind:           kind,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("materialization timed out after %s: %w", s.materializeTimeout, err)
		}
		telemetry.SetError(span, err)
		s.logger.WarnContext(ctx, "workflow materialization failed",
			"installation_id", inst.ID, "skill_workflow_id", wf.SkillWorkflowID, "error", err)
		return FailedEntry(err.Error())
	}
	return ReadyEntry(workflowID)
}

// Uninstall soft deletes the installation. With DeleteWorkflows set, the
// materialized workflows are removed first; failures there are logged only.
func (s *Installer) Uninstall(ctx context.Context, uid, installationID string, opts UninstallOptions) (err error) {
	const op = "uninstall"
	ctx, span := s.startSpan(ctx, op,
		attribute.String(telemetry.InstallationIDKey, installationID),
		attribute.String(telemetry.UserIDKey, uid))
	defer func() { endSpan(span, err); s.observe(op, nil, err) }()

	return s.withLock(ctx, installationKey(installationID), func(ctx context.Context) error {
		inst, err := s.loadOwned(ctx, op, uid, installationID)
		if err != nil {
			return err
		}

		if opts.DeleteWorkflows {
			s.deleteWorkflows(ctx, inst.UID, ReadyWorkflowIDs(inst.WorkflowMapping))
		}

		if err := s.installations.SoftDelete(ctx, inst.ID, s.now()); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return newError(op, "INSTALLATION_NOT_FOUND", ErrInstallationNotFound, "installation %s not found", inst.ID)
			}
			return fmt.Errorf("%s: delete installation %s: %w", op, inst.ID, err)
		}

		s.logger.InfoContext(ctx, "installation removed", "installation_id", inst.ID, "delete_workflows", opts.DeleteWorkflows)
		return nil
	})
}

func (s *Installer) deleteWorkflows(ctx context.Context, uid string, workflowIDs []string) {
	for _, id := range workflowIDs {
		bestEffort(ctx, s.logger, "delete_workflow", func(ctx context.Context) error {
			return s.workflows.Delete(ctx, uid, id)
		}, "workflow_id", id)
	}
}

// Upgrade re-materializes the installation against the latest package
// version. When a structural error or a failed write aborts the upgrade, the
// previous mapping and status are restored. A partially failed upgrade is
// kept as is.
func (s *Installer) Upgrade(ctx context.Context, uid, installationID string) (inst *models.Installation, err error) {
	const op = "upgrade"
	ctx, span := s.startSpan(ctx, op,
		attribute.String(telemetry.InstallationIDKey, installationID),
		attribute.String(telemetry.UserIDKey, uid))
	defer func() { endSpan(span, err); s.observe(op, inst, err) }()

	err = s.withLock(ctx, installationKey(installationID), func(ctx context.Context) error {
		var lockedErr error
		inst, lockedErr = s.upgrade(ctx, uid, installationID)
		return lockedErr
	})
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *Installer) upgrade(ctx context.Context, uid, installationID string) (*models.Installation, error) {
	const op = "upgrade"

	inst, err := s.loadOwned(ctx, op, uid, installationID)
	if err != nil {
		return nil, err
	}
	if err := CanUpgrade(inst.Status); err != nil {
		return nil, newError(op, "INVALID_STATE", err, "cannot upgrade installation in status %s", inst.Status)
	}

	snapshotMapping := CloneMapping(inst.WorkflowMapping)
	snapshotStatus := inst.Status

	pkg, err := s.loadPackage(ctx, op, inst.PackageID)
	if err != nil {
		return nil, err
	}

	fresh := NewPendingMapping(pkg.Workflows)
	if err := s.installations.UpdateMappingAndStatus(ctx, inst.ID, fresh, models.InstallationStatusInitializing); err != nil {
		return nil, fmt.Errorf("%s: reset installation %s: %w", op, inst.ID, err)
	}
	inst.WorkflowMapping = fresh
	inst.Status = models.InstallationStatusInitializing

	// Results and the rollback are written even if ctx is cancelled mid-run.
	saveCtx, cancel := persistContext(ctx)
	defer cancel()

	rollback := func(cause error) error {
		if rbErr := s.installations.UpdateMappingAndStatus(saveCtx, inst.ID, snapshotMapping, snapshotStatus); rbErr != nil {
			s.logger.ErrorContext(ctx, "upgrade rollback failed", "installation_id", inst.ID, "error", rbErr)
			return fmt.Errorf("%s: %w", op, errors.Join(cause, rbErr))
		}
		s.logger.WarnContext(ctx, "upgrade rolled back", "installation_id", inst.ID, "error", cause)
		return fmt.Errorf("%s: %w", op, cause)
	}

	mapping, status, err := s.materializeAll(ctx, inst, pkg.Workflows)
	if err != nil {
		return nil, rollback(err)
	}

	inst.WorkflowMapping = mapping
	inst.Status = status
	inst.UpdatedAt = s.now()

	if status != models.InstallationStatusReady {
		if err := s.installations.UpdateMappingAndStatus(saveCtx, inst.ID, mapping, status); err != nil {
			return nil, rollback(err)
		}
		s.logger.WarnContext(ctx, "upgrade finished with failures", "installation_id", inst.ID, "status", status)
		return inst, nil
	}

	inst.InstalledVersion = pkg.Version
	inst.HasUpdate = false
	inst.AvailableVersion = nil
	if err := s.installations.Update(saveCtx, inst); err != nil {
		return nil, rollback(err)
	}

	s.deleteWorkflows(ctx, inst.UID, ReadyWorkflowIDs(snapshotMapping))

	s.logger.InfoContext(ctx, "installation upgraded", "installation_id", inst.ID, "version", pkg.Version)
	return inst, nil
}

// GetInstallation returns a live installation owned by uid.
func (s *Installer) GetInstallation(ctx context.Context, uid, installationID string) (*models.Installation, error) {
	return s.loadOwned(ctx, "get_installation", uid, installationID)
}

// ListInstallations returns uid's live installations, newest first.
func (s *Installer) ListInstallations(ctx context.Context, uid string, req ListInstallationsRequest) ([]*models.Installation, error) {
	const op = "list_installations"

	if err := s.validate.Struct(req); err != nil {
		return nil, NewValidationError(op, "INVALID_REQUEST", describeValidation(err), ErrInvalidRequest)
	}

	opts := repository.ListInstallationsOptions{Limit: req.Limit, Offset: req.Offset}
	if opts.Limit == 0 {
		opts.Limit = defaultListLimit
	}
	if req.Status != "" {
		status := models.InstallationStatus(req.Status)
		opts.Status = &status
	}

	list, err := s.installations.ListByUser(ctx, uid, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// IsInstalled reports whether uid has a live installation of packageID.
func (s *Installer) IsInstalled(ctx context.Context, uid, packageID string) (bool, error) {
	_, err := s.installations.FindByPackageAndUser(ctx, packageID, uid, false)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("is_installed: %w", err)
	}
	return true, nil
}

// RefreshUpdates flags every live installation whose package has moved past
// the installed version. It returns the number of installations changed.
func (s *Installer) RefreshUpdates(ctx context.Context) (updated int, err error) {
	const op = "refresh_updates"
	ctx, span := s.startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	live, err := s.installations.ListLive(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	versions := make(map[string]string)
	for _, inst := range live {
		version, ok := versions[inst.PackageID]
		if !ok {
			pkg, err := s.packages.GetPackage(ctx, inst.PackageID, repository.GetPackageOptions{})
			if err != nil {
				s.logger.WarnContext(ctx, "cannot check package for updates", "package_id", inst.PackageID, "error", err)
				continue
			}
			version = pkg.Version
			versions[inst.PackageID] = version
		}

		if version == inst.InstalledVersion {
			continue
		}
		if inst.HasUpdate && inst.AvailableVersion != nil && *inst.AvailableVersion == version {
			continue
		}

		if err := s.withLock(ctx, installationKey(inst.ID), func(ctx context.Context) error {
			current, err := s.installations.FindByID(ctx, inst.ID)
			if err != nil {
				return err
			}
			if current.Deleted() || current.InstalledVersion == version {
				return nil
			}
			current.HasUpdate = true
			current.AvailableVersion = &version
			current.UpdatedAt = s.now()
			if err := s.installations.Update(ctx, current); err != nil {
				return err
			}
			updated++
			return nil
		}); err != nil {
			s.logger.WarnContext(ctx, "cannot flag installation update", "installation_id", inst.ID, "error", err)
		}
	}

	if updated > 0 {
		s.logger.InfoContext(ctx, "installations with available updates", "count", updated)
	}
	return updated, nil
}

func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		msgs = append(msgs, fmt.Sprintf("%s failed on %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}
