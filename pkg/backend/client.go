package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError is returned for any non-2xx backend response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client calls the agent/workflow backend over JSON HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for baseURL. A zero timeout disables the client timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Query asks the agent to turn a prompt into a workflow.
func (c *Client) Query(ctx context.Context, prompt string) (*QueryResponse, error) {
	var out QueryResponse
	if err := c.doJSON(ctx, http.MethodPost, "/agents/query", QueryRequest{Prompt: prompt}, &out); err != nil {
		return nil, fmt.Errorf("query agent: %w", err)
	}
	return &out, nil
}

// ListWorkflows returns all workflows known to the backend.
func (c *Client) ListWorkflows(ctx context.Context) ([]WorkflowSummary, error) {
	var out []WorkflowSummary
	if err := c.doJSON(ctx, http.MethodGet, "/agents/workflows", nil, &out); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return out, nil
}

// GetWorkflow fetches one workflow with its raw steps.
func (c *Client) GetWorkflow(ctx context.Context, id string) (*WorkflowDetail, error) {
	var out WorkflowDetail
	if err := c.doJSON(ctx, http.MethodGet, "/agents/workflows/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return &out, nil
}

// StartRun starts a workflow run and returns its job handle immediately.
func (c *Client) StartRun(ctx context.Context, workflowID string) (*RunHandle, error) {
	var out RunHandle
	path := "/agents/workflows/" + url.PathEscape(workflowID) + "/run"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, fmt.Errorf("start run for %s: %w", workflowID, err)
	}
	return &out, nil
}

// GetRun returns the current status of a run.
func (c *Client) GetRun(ctx context.Context, workflowID, jobID string) (*RunStatus, error) {
	var out RunStatus
	path := "/agents/workflows/" + url.PathEscape(workflowID) + "/runs/" + url.PathEscape(jobID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("get run %s: %w", jobID, err)
	}
	return &out, nil
}

// ProcessCSV uploads a CSV file for asynchronous ingestion.
func (c *Client) ProcessCSV(ctx context.Context, filename string, r io.Reader) (*CSVJobHandle, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("copy csv body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/csv/process-async", &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out CSVJobHandle
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("process csv: %w", err)
	}
	return &out, nil
}

// GetCSVJob returns the status of a CSV ingestion job.
func (c *Client) GetCSVJob(ctx context.Context, jobID string) (*CSVJobStatus, error) {
	var out CSVJobStatus
	if err := c.doJSON(ctx, http.MethodGet, "/csv/job/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, fmt.Errorf("get csv job %s: %w", jobID, err)
	}
	return &out, nil
}

// ListAPIs returns the API catalog.
func (c *Client) ListAPIs(ctx context.Context) ([]APIRecord, error) {
	var out []APIRecord
	if err := c.doJSON(ctx, http.MethodGet, "/mysql/apis", nil, &out); err != nil {
		return nil, fmt.Errorf("list apis: %w", err)
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts FastAPI's {"detail": ...} or a {"message": ...} body,
// falling back to the raw text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if s, ok := body.Detail.(string); ok && s != "" {
			return s
		}
		if body.Message != "" {
			return body.Message
		}
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "no response body"
	}
	return msg
}
