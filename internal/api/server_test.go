package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillhub/backend/internal/auth"
	"skillhub/backend/internal/logging"
	"skillhub/backend/internal/repository"
	"skillhub/backend/internal/services"
	"skillhub/backend/pkg/models"
)

type fakeMaterializer struct{}

func (fakeMaterializer) Materialize(ctx context.Context, req services.MaterializeRequest) (string, error) {
	if req.SkillWorkflow == "bad" {
		return "", errors.New("generation failed")
	}
	return "wf-" + req.SkillWorkflow, nil
}

type recordingStore struct {
	deleted []string
}

func (r *recordingStore) Delete(ctx context.Context, uid, workflowID string) error {
	r.deleted = append(r.deleted, workflowID)
	return nil
}

type apiFixture struct {
	echo      *echo.Echo
	store     *repository.MemoryStore
	workflows *recordingStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	workflows := &recordingStore{}
	installer := services.NewInstaller(services.InstallerDeps{
		Packages:      store,
		Installations: store,
		Materializer:  fakeMaterializer{},
		Workflows:     workflows,
	}, services.InstallerConfig{})

	e := echo.New()
	e.HTTPErrorHandler = ProblemErrorHandler(logging.Discard())
	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if uid := c.Request().Header.Get("X-Test-User"); uid != "" {
				c.SetRequest(c.Request().WithContext(auth.WithUserID(c.Request().Context(), uid)))
			}
			return next(c)
		}
	})
	RegisterHandlers(g, NewServer(installer, services.NewTemplateRegistry(services.DefaultTemplates()...), logging.Discard()))

	ctx := context.Background()
	share := "secret-link"
	require.NoError(t, store.SavePackage(ctx, &models.SkillPackage{
		ID: "public", Version: "1.0.0", IsPublic: true,
		Workflows: []models.WorkflowDefinition{
			{SkillWorkflowID: "A", Name: "A"},
			{SkillWorkflowID: "B", Name: "B", DependencyWorkflowIDs: []string{"A"}},
		},
	}))
	require.NoError(t, store.SavePackage(ctx, &models.SkillPackage{
		ID: "partial", Version: "1.0.0", IsPublic: true,
		Workflows: []models.WorkflowDefinition{{SkillWorkflowID: "A"}, {SkillWorkflowID: "bad"}},
	}))
	require.NoError(t, store.SavePackage(ctx, &models.SkillPackage{
		ID: "private", Version: "1.0.0", OwnerUID: "owner", ShareID: &share,
	}))
	require.NoError(t, store.SavePackage(ctx, &models.SkillPackage{
		ID: "cyclic", Version: "1.0.0", IsPublic: true,
		Workflows: []models.WorkflowDefinition{
			{SkillWorkflowID: "A", DependencyWorkflowIDs: []string{"B"}},
			{SkillWorkflowID: "B", DependencyWorkflowIDs: []string{"A"}},
		},
	}))

	return &apiFixture{echo: e, store: store, workflows: workflows}
}

func (f *apiFixture) do(t *testing.T, method, path, uid, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if uid != "" {
		req.Header.Set("X-Test-User", uid)
	}
	rec := httptest.NewRecorder()
	f.echo.ServeHTTP(rec, req)
	return rec
}

type problemBody struct {
	Type     string `json:"type"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance"`
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problemBody {
	t.Helper()
	assert.Equal(t, problemContentType, rec.Header().Get(echo.HeaderContentType))
	var p problemBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestInstallLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/skill-packages/public/install", "u1", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var inst models.Installation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inst))
	assert.Equal(t, models.InstallationStatusReady, inst.Status)
	assert.Equal(t, "wf-A", *inst.WorkflowMapping["A"].WorkflowID)

	rec = f.do(t, http.MethodGet, "/api/v1/skill-packages/public/installed", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"installed":true}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/installations/"+inst.ID, "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/installations/"+inst.ID+"/initialize", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/installations?limit=5", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list InstallationList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Items, 1)
	assert.Equal(t, 5, list.Limit)

	rec = f.do(t, http.MethodDelete, "/api/v1/installations/"+inst.ID+"?delete_workflows=true", "u1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.ElementsMatch(t, []string{"wf-A", "wf-B"}, f.workflows.deleted)

	rec = f.do(t, http.MethodGet, "/api/v1/installations/"+inst.ID, "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeProblem(t, rec).Type)
}

func TestDownloadOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/skill-packages/public/download", "u1", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var inst models.Installation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inst))
	assert.Equal(t, models.InstallationStatusDownloaded, inst.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/skill-packages/public/download", "u1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, "conflict", p.Type)
	assert.Equal(t, "/api/v1/skill-packages/public/download", p.Instance)

	rec = f.do(t, http.MethodPost, "/api/v1/skill-packages/private/download", "u1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/skill-packages/private/download", "u1", `{"share_id":"secret-link"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/skill-packages/missing/download", "u1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/skill-packages/public/download", "u2", `{"share_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeProblem(t, rec).Type)
}

func TestErrorMappingOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/skill-packages/cyclic/install", "u1", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_package", decodeProblem(t, rec).Type)

	rec = f.do(t, http.MethodPost, "/api/v1/skill-packages/partial/install", "u1", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var inst models.Installation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inst))
	assert.Equal(t, models.InstallationStatusPartialFailed, inst.Status)

	rec = f.do(t, http.MethodPost, "/api/v1/skill-packages/public/download", "u1", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inst))
	rec = f.do(t, http.MethodPost, "/api/v1/installations/"+inst.ID+"/upgrade", "u1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/installations?status=bogus", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", decodeProblem(t, rec).Type)

	rec = f.do(t, http.MethodGet, "/api/v1/installations?limit=abc", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeProblem(t, rec).Detail, "limit")

	rec = f.do(t, http.MethodDelete, "/api/v1/installations/"+inst.ID+"?delete_workflows=maybe", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/installations", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListSkillTemplates(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/skill-templates", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var templates []models.SkillTemplate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &templates))
	require.Len(t, templates, 2)
	assert.Equal(t, models.WorkflowKindClone, templates[0].Kind)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHandleHealth(t *testing.T) {
	e := echo.New()

	healthy := NewHandler(pingFunc(func(context.Context) error { return nil }), "1.2.3")
	rec := httptest.NewRecorder()
	require.NoError(t, healthy.HandleHealth(e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	var status models.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "1.2.3", status.Version)

	broken := NewHandler(pingFunc(func(context.Context) error { return errors.New("connection refused") }), "1.2.3")
	rec = httptest.NewRecorder()
	require.NoError(t, broken.HandleHealth(e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestSpecAndSwaggerHandlers(t *testing.T) {
	rec := httptest.NewRecorder()
	SpecHandler("https://issuer.example.com/oauth2/default")(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "https://issuer.example.com/oauth2/default/v1/authorize")
	assert.NotContains(t, rec.Body.String(), "{oktaIssuer}")

	rec = httptest.NewRecorder()
	SwaggerHandler("https://issuer.example.com", "client-42")(rec, httptest.NewRequest(http.MethodGet, "/docs", nil))
	assert.Contains(t, rec.Body.String(), `clientId: "client-42"`)
	assert.Contains(t, rec.Body.String(), "http://example.com/docs/oauth2-redirect.html")
	assert.Contains(t, rec.Body.String(), "skills:write")
}
