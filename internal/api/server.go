// Package api contains the HTTP handlers for the skill installation service
package api

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"skillhub/backend/internal/auth"
	"skillhub/backend/internal/logging"
	"skillhub/backend/internal/services"
	"skillhub/backend/pkg/models"
)

// InstallationService is the lifecycle surface the HTTP handlers drive.
type InstallationService interface {
	Download(ctx context.Context, uid, packageID, shareID string) (*models.Installation, error)
	Install(ctx context.Context, uid, packageID, shareID string) (*models.Installation, error)
	Initialize(ctx context.Context, uid, installationID string) (*models.Installation, error)
	Upgrade(ctx context.Context, uid, installationID string) (*models.Installation, error)
	Uninstall(ctx context.Context, uid, installationID string, opts services.UninstallOptions) error
	GetInstallation(ctx context.Context, uid, installationID string) (*models.Installation, error)
	ListInstallations(ctx context.Context, uid string, req services.ListInstallationsRequest) ([]*models.Installation, error)
	IsInstalled(ctx context.Context, uid, packageID string) (bool, error)
}

// DownloadRequest is the optional body of download and install.
type DownloadRequest struct {
	ShareID string `json:"share_id" validate:"omitempty,max=256,printascii"`
}

// InstallationList is a page of installations.
type InstallationList struct {
	Items  []*models.Installation `json:"items"`
	Limit  int                    `json:"limit"`
	Offset int                    `json:"offset"`
}

// InstalledResponse answers whether a package is installed.
type InstalledResponse struct {
	Installed bool `json:"installed"`
}

// Server implements ServerInterface.
type Server struct {
	installer InstallationService
	templates *services.TemplateRegistry
	validate  *validator.Validate
	logger    *logging.Logger
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates a new Server.
func NewServer(installer InstallationService, templates *services.TemplateRegistry, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		installer: installer,
		templates: templates,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.WithComponent("api"),
	}
}

func userID(c echo.Context) (string, bool) {
	return auth.UserIDFromContext(c.Request().Context())
}

// ListSkillTemplates returns the workflow kinds the service can materialize
// (GET /api/v1/skill-templates)
func (s *Server) ListSkillTemplates(c echo.Context) error {
	return c.JSON(http.StatusOK, s.templates.List())
}

func (s *Server) bindDownload(c echo.Context) (DownloadRequest, error) {
	var req DownloadRequest
	if err := c.Bind(&req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return req, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return req, nil
}

// DownloadSkillPackage records an installation without materializing it
// (POST /api/v1/skill-packages/{packageId}/download)
func (s *Server) DownloadSkillPackage(c echo.Context, packageID string) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}
	req, err := s.bindDownload(c)
	if err != nil {
		return err
	}

	inst, err := s.installer.Download(c.Request().Context(), uid, packageID, req.ShareID)
	if err != nil {
		return s.handleServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// InstallSkillPackage downloads and initializes a package
// (POST /api/v1/skill-packages/{packageId}/install)
func (s *Server) InstallSkillPackage(c echo.Context, packageID string) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}
	req, err := s.bindDownload(c)
	if err != nil {
		return err
	}

	inst, err := s.installer.Install(c.Request().Context(), uid, packageID, req.ShareID)
	if err != nil {
		return s.handleServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, inst)
}

// GetPackageInstallStatus reports whether the caller has a package installed
// (GET /api/v1/skill-packages/{packageId}/installed)
func (s *Server) GetPackageInstallStatus(c echo.Context, packageID string) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	installed, err := s.installer.IsInstalled(c.Request().Context(), uid, packageID)
	if err != nil {
		return s.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, InstalledResponse{Installed: installed})
}

// ListInstallations pages through the caller's installations
// (GET /api/v1/installations)
func (s *Server) ListInstallations(c echo.Context, params ListInstallationsParams) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	req := services.ListInstallationsRequest{}
	if params.Status != nil {
		req.Status = *params.Status
	}
	if params.Limit != nil {
		req.Limit = *params.Limit
	}
	if params.Offset != nil {
		req.Offset = *params.Offset
	}

	items, err := s.installer.ListInstallations(c.Request().Context(), uid, req)
	if err != nil {
		return s.handleServiceError(c, err)
	}

	limit := req.Limit
	if limit == 0 {
		limit = 20
	}
	return c.JSON(http.StatusOK, InstallationList{Items: items, Limit: limit, Offset: req.Offset})
}

// GetInstallation returns one installation
// (GET /api/v1/installations/{installationId})
func (s *Server) GetInstallation(c echo.Context, installationID string) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	inst, err := s.installer.GetInstallation(c.Request().Context(), uid, installationID)
	if err != nil {
		return s.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// UninstallInstallation removes an installation
// (DELETE /api/v1/installations/{installationId})
func (s *Server) UninstallInstallation(c echo.Context, installationID string, params UninstallInstallationParams) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	opts := services.UninstallOptions{DeleteWorkflows: params.DeleteWorkflows != nil && *params.DeleteWorkflows}
	if err := s.installer.Uninstall(c.Request().Context(), uid, installationID, opts); err != nil {
		return s.handleServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// InitializeInstallation materializes the pending workflows of an installation
// (POST /api/v1/installations/{installationId}/initialize)
func (s *Server) InitializeInstallation(c echo.Context, installationID string) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	inst, err := s.installer.Initialize(c.Request().Context(), uid, installationID)
	if err != nil {
		return s.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}

// UpgradeInstallation moves an installation to the latest package version
// (POST /api/v1/installations/{installationId}/upgrade)
func (s *Server) UpgradeInstallation(c echo.Context, installationID string) error {
	uid, ok := userID(c)
	if !ok {
		return unauthorized(c)
	}

	inst, err := s.installer.Upgrade(c.Request().Context(), uid, installationID)
	if err != nil {
		return s.handleServiceError(c, err)
	}
	return c.JSON(http.StatusOK, inst)
}
