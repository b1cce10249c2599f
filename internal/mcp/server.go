// Package mcp exposes the installation lifecycle as MCP tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"skillhub/backend/internal/auth"
	"skillhub/backend/internal/services"
	"skillhub/backend/pkg/models"
)

// Installer is the lifecycle surface the tools drive.
type Installer interface {
	Install(ctx context.Context, uid, packageID, shareID string) (*models.Installation, error)
	Initialize(ctx context.Context, uid, installationID string) (*models.Installation, error)
	Upgrade(ctx context.Context, uid, installationID string) (*models.Installation, error)
	Uninstall(ctx context.Context, uid, installationID string, opts services.UninstallOptions) error
	ListInstallations(ctx context.Context, uid string, req services.ListInstallationsRequest) ([]*models.Installation, error)
}

type Server struct {
	mcpServer *server.MCPServer
	installer Installer
	templates *services.TemplateRegistry
}

func NewServer(installer Installer, templates *services.TemplateRegistry, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Skill Hub",
			version,
			server.WithToolCapabilities(true),
		),
		installer: installer,
		templates: templates,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"install_skill",
			mcp.WithDescription("Download a skill package and materialize its workflows"),
			mcp.WithString("package_id", mcp.Required(), mcp.Description("The ID of the skill package")),
			mcp.WithString("share_id", mcp.Description("Share link ID for private packages")),
		),
		s.handleInstall,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"initialize_installation",
			mcp.WithDescription("Retry materialization of the pending or failed workflows of an installation"),
			mcp.WithString("installation_id", mcp.Required(), mcp.Description("The ID of the installation")),
		),
		s.handleInitialize,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"upgrade_installation",
			mcp.WithDescription("Upgrade an installation to the latest package version"),
			mcp.WithString("installation_id", mcp.Required(), mcp.Description("The ID of the installation")),
		),
		s.handleUpgrade,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"uninstall_skill",
			mcp.WithDescription("Remove an installation"),
			mcp.WithString("installation_id", mcp.Required(), mcp.Description("The ID of the installation")),
			mcp.WithBoolean("delete_workflows", mcp.Description("Also delete the workflows created by the installation")),
		),
		s.handleUninstall,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_installations",
			mcp.WithDescription("List your skill installations"),
			mcp.WithString("status", mcp.Description("Only return installations in this status")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20, max 100)")),
			mcp.WithNumber("offset", mcp.Description("Number of results to skip")),
		),
		s.handleListInstallations,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_skill_templates",
			mcp.WithDescription("List the workflow kinds skills can be built from"),
		),
		s.handleListTemplates,
	)
}

func userID(ctx context.Context) (string, *mcp.CallToolResult) {
	uid, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return "", mcp.NewToolResultError("Unauthenticated: no user in request context")
	}
	return uid, nil
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, *mcp.CallToolResult) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, mcp.NewToolResultError("Invalid arguments type")
	}
	return args, nil
}

func requiredString(args map[string]interface{}, name string) (string, *mcp.CallToolResult) {
	v, ok := args[name].(string)
	if !ok || v == "" {
		return "", mcp.NewToolResultError("Missing required parameter: " + name)
	}
	return v, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleInstall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, res := userID(ctx)
	if res != nil {
		return res, nil
	}
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	packageID, res := requiredString(args, "package_id")
	if res != nil {
		return res, nil
	}
	shareID, _ := args["share_id"].(string)

	inst, err := s.installer.Install(ctx, uid, packageID, shareID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to install: %v", err)), nil
	}
	return jsonResult(inst)
}

func (s *Server) handleInitialize(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, res := userID(ctx)
	if res != nil {
		return res, nil
	}
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	id, res := requiredString(args, "installation_id")
	if res != nil {
		return res, nil
	}

	inst, err := s.installer.Initialize(ctx, uid, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to initialize: %v", err)), nil
	}
	return jsonResult(inst)
}

func (s *Server) handleUpgrade(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, res := userID(ctx)
	if res != nil {
		return res, nil
	}
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	id, res := requiredString(args, "installation_id")
	if res != nil {
		return res, nil
	}

	inst, err := s.installer.Upgrade(ctx, uid, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to upgrade: %v", err)), nil
	}
	return jsonResult(inst)
}

func (s *Server) handleUninstall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, res := userID(ctx)
	if res != nil {
		return res, nil
	}
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}
	id, res := requiredString(args, "installation_id")
	if res != nil {
		return res, nil
	}
	deleteWorkflows, _ := args["delete_workflows"].(bool)

	if err := s.installer.Uninstall(ctx, uid, id, services.UninstallOptions{DeleteWorkflows: deleteWorkflows}); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to uninstall: %v", err)), nil
	}
	return mcp.NewToolResultText("Installation removed"), nil
}

func (s *Server) handleListInstallations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid, res := userID(ctx)
	if res != nil {
		return res, nil
	}
	args, res := arguments(request)
	if res != nil {
		return res, nil
	}

	req := services.ListInstallationsRequest{}
	req.Status, _ = args["status"].(string)
	// JSON numbers arrive as float64
	if limit, ok := args["limit"].(float64); ok {
		req.Limit = int(limit)
	}
	if offset, ok := args["offset"].(float64); ok {
		req.Offset = int(offset)
	}

	list, err := s.installer.ListInstallations(ctx, uid, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list installations: %v", err)), nil
	}
	return jsonResult(list)
}

func (s *Server) handleListTemplates(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.templates.List())
}

// MountHTTPHandlers serves the MCP SSE transport under /mcp. The
// authenticated user id is carried from the HTTP request into tool calls.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if uid, ok := auth.UserIDFromContext(r.Context()); ok {
				return auth.WithUserID(ctx, uid)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
