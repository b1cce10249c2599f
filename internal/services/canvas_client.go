package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// HTTPCanvasClient talks to the canvas service. It clones canvases and
// deletes workflows.
type HTTPCanvasClient struct {
	url    string
	client *http.Client
}

// NewHTTPCanvasClient creates a new HTTPCanvasClient. A nil client uses
// http.DefaultClient.
func NewHTTPCanvasClient(baseURL string, client *http.Client) *HTTPCanvasClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCanvasClient{url: baseURL, client: client}
}

type workflowResponse struct {
	WorkflowID string `json:"workflow_id"`
}

// Clone copies sourceCanvasID into a new workflow owned by uid.
func (c *HTTPCanvasClient) Clone(ctx context.Context, uid, sourceCanvasID, name string) (string, error) {
	body := map[string]string{"uid": uid, "name": name}
	var out workflowResponse
	if err := postJSON(ctx, c.client, c.url+"/canvases/"+url.PathEscape(sourceCanvasID)+"/clone", body, &out); err != nil {
		return "", fmt.Errorf("clone canvas %s: %w", sourceCanvasID, err)
	}
	return out.WorkflowID, nil
}

// Delete removes a workflow owned by uid. A workflow that is already gone is
// not an error.
func (c *HTTPCanvasClient) Delete(ctx context.Context, uid, workflowID string) error {
	endpoint := c.url + "/workflows/" + url.PathEscape(workflowID) + "?uid=" + url.QueryEscape(uid)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return fmt.Errorf("failed to delete workflow %s: status code %d", workflowID, resp.StatusCode)
	}
}

// HTTPGeneratorClient asks the generator service to build workflows.
type HTTPGeneratorClient struct {
	url    string
	client *http.Client
}

// NewHTTPGeneratorClient creates a new HTTPGeneratorClient.
func NewHTTPGeneratorClient(baseURL string, client *http.Client) *HTTPGeneratorClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPGeneratorClient{url: baseURL, client: client}
}

type generateRequest struct {
	UID            string  `json:"uid"`
	SkillWorkflow  string  `json:"skill_workflow_id"`
	SourceCanvasID *string `json:"source_canvas_id,omitempty"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
}

// Generate builds a workflow for req.UID and returns its id.
func (c *HTTPGeneratorClient) Generate(ctx context.Context, req MaterializeRequest) (string, error) {
	body := generateRequest{
		UID:            req.UID,
		SkillWorkflow:  req.SkillWorkflow,
		SourceCanvasID: req.SourceCanvasID,
		Name:           req.Name,
		Description:    req.Description,
	}
	var out workflowResponse
	if err := postJSON(ctx, c.client, c.url+"/workflows/generate", body, &out); err != nil {
		return "", fmt.Errorf("generate workflow %s: %w", req.SkillWorkflow, err)
	}
	return out.WorkflowID, nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, in, out any) error {
	requestBody, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(requestBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}
