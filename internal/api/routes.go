package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// ListInstallationsParams defines parameters for ListInstallations.
type ListInstallationsParams struct {
	Status *string `form:"status,omitempty" json:"status,omitempty"`
	Limit  *int    `form:"limit,omitempty" json:"limit,omitempty"`
	Offset *int    `form:"offset,omitempty" json:"offset,omitempty"`
}

// UninstallInstallationParams defines parameters for UninstallInstallation.
type UninstallInstallationParams struct {
	DeleteWorkflows *bool `form:"delete_workflows,omitempty" json:"delete_workflows,omitempty"`
}

// ServerInterface represents all server handlers of the /api/v1 surface.
type ServerInterface interface {
	// (GET /skill-templates)
	ListSkillTemplates(ctx echo.Context) error
	// (POST /skill-packages/{packageId}/download)
	DownloadSkillPackage(ctx echo.Context, packageID string) error
	// (POST /skill-packages/{packageId}/install)
	InstallSkillPackage(ctx echo.Context, packageID string) error
	// (GET /skill-packages/{packageId}/installed)
	GetPackageInstallStatus(ctx echo.Context, packageID string) error
	// (GET /installations)
	ListInstallations(ctx echo.Context, params ListInstallationsParams) error
	// (GET /installations/{installationId})
	GetInstallation(ctx echo.Context, installationID string) error
	// (DELETE /installations/{installationId})
	UninstallInstallation(ctx echo.Context, installationID string, params UninstallInstallationParams) error
	// (POST /installations/{installationId}/initialize)
	InitializeInstallation(ctx echo.Context, installationID string) error
	// (POST /installations/{installationId}/upgrade)
	UpgradeInstallation(ctx echo.Context, installationID string) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func bindPathParam(ctx echo.Context, name string, dest *string) error {
	err := runtime.BindStyledParameterWithOptions("simple", name, ctx.Param(name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
	}
	return nil
}

// ListSkillTemplates converts echo context to params.
func (w *ServerInterfaceWrapper) ListSkillTemplates(ctx echo.Context) error {
	return w.Handler.ListSkillTemplates(ctx)
}

// DownloadSkillPackage converts echo context to params.
func (w *ServerInterfaceWrapper) DownloadSkillPackage(ctx echo.Context) error {
	var packageID string
	if err := bindPathParam(ctx, "packageId", &packageID); err != nil {
		return err
	}
	return w.Handler.DownloadSkillPackage(ctx, packageID)
}

// InstallSkillPackage converts echo context to params.
func (w *ServerInterfaceWrapper) InstallSkillPackage(ctx echo.Context) error {
	var packageID string
	if err := bindPathParam(ctx, "packageId", &packageID); err != nil {
		return err
	}
	return w.Handler.InstallSkillPackage(ctx, packageID)
}

// GetPackageInstallStatus converts echo context to params.
func (w *ServerInterfaceWrapper) GetPackageInstallStatus(ctx echo.Context) error {
	var packageID string
	if err := bindPathParam(ctx, "packageId", &packageID); err != nil {
		return err
	}
	return w.Handler.GetPackageInstallStatus(ctx, packageID)
}

// ListInstallations converts echo context to params.
func (w *ServerInterfaceWrapper) ListInstallations(ctx echo.Context) error {
	var params ListInstallationsParams

	if err := runtime.BindQueryParameter("form", true, false, "status", ctx.QueryParams(), &params.Status); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter status: %s", err))
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", ctx.QueryParams(), &params.Limit); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter limit: %s", err))
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", ctx.QueryParams(), &params.Offset); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter offset: %s", err))
	}

	return w.Handler.ListInstallations(ctx, params)
}

// GetInstallation converts echo context to params.
func (w *ServerInterfaceWrapper) GetInstallation(ctx echo.Context) error {
	var installationID string
	if err := bindPathParam(ctx, "installationId", &installationID); err != nil {
		return err
	}
	return w.Handler.GetInstallation(ctx, installationID)
}

// UninstallInstallation converts echo context to params.
func (w *ServerInterfaceWrapper) UninstallInstallation(ctx echo.Context) error {
	var installationID string
	if err := bindPathParam(ctx, "installationId", &installationID); err != nil {
		return err
	}

	var params UninstallInstallationParams
	if err := runtime.BindQueryParameter("form", true, false, "delete_workflows", ctx.QueryParams(), &params.DeleteWorkflows); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter delete_workflows: %s", err))
	}

	return w.Handler.UninstallInstallation(ctx, installationID, params)
}

// InitializeInstallation converts echo context to params.
func (w *ServerInterfaceWrapper) InitializeInstallation(ctx echo.Context) error {
	var installationID string
	if err := bindPathParam(ctx, "installationId", &installationID); err != nil {
		return err
	}
	return w.Handler.InitializeInstallation(ctx, installationID)
}

// UpgradeInstallation converts echo context to params.
func (w *ServerInterfaceWrapper) UpgradeInstallation(ctx echo.Context) error {
	var installationID string
	if err := bindPathParam(ctx, "installationId", &installationID); err != nil {
		return err
	}
	return w.Handler.UpgradeInstallation(ctx, installationID)
}

// EchoRouter is satisfied by both *echo.Echo and *echo.Group.
type EchoRouter interface {
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the EchoRouter.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	RegisterHandlersWithBaseURL(router, si, "")
}

// RegisterHandlersWithBaseURL registers the handlers, prefixing every path
// with baseURL.
func RegisterHandlersWithBaseURL(router EchoRouter, si ServerInterface, baseURL string) {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
	}

	router.GET(baseURL+"/skill-templates", wrapper.ListSkillTemplates)
	router.POST(baseURL+"/skill-packages/:packageId/download", wrapper.DownloadSkillPackage)
	router.POST(baseURL+"/skill-packages/:packageId/install", wrapper.InstallSkillPackage)
	router.GET(baseURL+"/skill-packages/:packageId/installed", wrapper.GetPackageInstallStatus)
	router.GET(baseURL+"/installations", wrapper.ListInstallations)
	router.GET(baseURL+"/installations/:installationId", wrapper.GetInstallation)
	router.DELETE(baseURL+"/installations/:installationId", wrapper.UninstallInstallation)
	router.POST(baseURL+"/installations/:installationId/initialize", wrapper.InitializeInstallation)
	router.POST(baseURL+"/installations/:installationId/upgrade", wrapper.UpgradeInstallation)
}
