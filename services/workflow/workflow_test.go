package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflow-studio/pkg/backend"
)

// stubBackend implements Backend in memory.
type stubBackend struct {
	mu sync.Mutex

	workflows   map[string]*backend.WorkflowDetail
	runs        []backend.RunStatus
	runErr      error
	jobs        []backend.CSVJobStatus
	jobErr      error
	err         error
	uploaded    string
	workflowHit int
}

func (b *stubBackend) Query(_ context.Context, prompt string) (*backend.QueryResponse, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &backend.QueryResponse{Content: "ok: " + prompt, IsFeasible: true, Score: 0.9, WorkflowID: "wf-1"}, nil
}

func (b *stubBackend) ListWorkflows(context.Context) ([]backend.WorkflowSummary, error) {
	if b.err != nil {
		return nil, b.err
	}
	var out []backend.WorkflowSummary
	for _, wf := range b.workflows {
		out = append(out, backend.WorkflowSummary{ID: wf.ID, Name: wf.Name, Status: wf.Status})
	}
	return out, nil
}

func (b *stubBackend) GetWorkflow(_ context.Context, id string) (*backend.WorkflowDetail, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.workflowHit++
	if b.err != nil {
		return nil, b.err
	}
	wf, ok := b.workflows[id]
	if !ok {
		return nil, &backend.APIError{StatusCode: http.StatusNotFound, Message: "Workflow not found"}
	}
	return wf, nil
}

func (b *stubBackend) StartRun(_ context.Context, workflowID string) (*backend.RunHandle, error) {
	if b.err != nil {
		return nil, b.err
	}
	return &backend.RunHandle{JobID: "job-" + workflowID}, nil
}

// GetRun replays runs in order and then repeats the last one.
func (b *stubBackend) GetRun(_ context.Context, _, _ string) (*backend.RunStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.runErr != nil {
		return nil, b.runErr
	}
	if len(b.runs) == 0 {
		return &backend.RunStatus{Status: backend.RunPending}, nil
	}
	run := b.runs[0]
	if len(b.runs) > 1 {
		b.runs = b.runs[1:]
	}
	return &run, nil
}

func (b *stubBackend) ProcessCSV(_ context.Context, filename string, r io.Reader) (*backend.CSVJobHandle, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	b.uploaded = filename + ":" + string(data)
	return &backend.CSVJobHandle{JobID: "csv-1", StatusURL: "/csv/job/csv-1"}, nil
}

// GetCSVJob replays jobs like GetRun, defaulting to a job in progress.
func (b *stubBackend) GetCSVJob(_ context.Context, jobID string) (*backend.CSVJobStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.jobErr != nil {
		return nil, b.jobErr
	}
	if len(b.jobs) == 0 {
		return &backend.CSVJobStatus{ID: jobID, Status: "processing", Progress: 40}, nil
	}
	job := b.jobs[0]
	if len(b.jobs) > 1 {
		b.jobs = b.jobs[1:]
	}
	return &job, nil
}

func (b *stubBackend) ListAPIs(context.Context) ([]backend.APIRecord, error) {
	if b.err != nil {
		return nil, b.err
	}
	return nil, nil
}

func newStubBackend() *stubBackend {
	return &stubBackend{workflows: map[string]*backend.WorkflowDetail{
		"wf-1": {
			ID:    "wf-1",
			Name:  "Orders",
			Steps: json.RawMessage(`{"raw_info": [{"step": 1, "action": "start"}, {"step": 2, "action": "check stock"}, {"step": 3, "action": "send email"}]}`),
		},
	}}
}

func newTestService(b Backend) *Service {
	return NewService(b, Options{PollInterval: 5 * time.Millisecond, IDs: NewSequentialIDs(100)})
}

func setupRouter(svc *Service) *mux.Router {
	router := mux.NewRouter()
	svc.LoadRoutes(router.PathPrefix("/api/v1").Subrouter())
	return router
}

func doRequest(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var result map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	return result["message"]
}

func TestHandleQuery_Success(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "POST", "/api/v1/agents/query", `{"prompt": "ship orders"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var result backend.QueryResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "ok: ship orders", result.Content)
	assert.True(t, result.IsFeasible)
}

func TestHandleQuery_MissingPrompt(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "POST", "/api/v1/agents/query", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "prompt is required", decodeMessage(t, w))
}

func TestHandleQuery_InvalidJSON(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "POST", "/api/v1/agents/query", `{bad`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid request body", decodeMessage(t, w))
}

func TestHandleQuery_BackendDown(t *testing.T) {
	b := newStubBackend()
	b.err = errors.New("connection refused")
	router := setupRouter(newTestService(b))

	w := doRequest(router, "POST", "/api/v1/agents/query", `{"prompt": "x"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "query agent failed: connection refused", decodeMessage(t, w))
}

func TestHandleListWorkflows(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "GET", "/api/v1/workflows", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var result []backend.WorkflowSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	require.Len(t, result, 1)
	assert.Equal(t, "Orders", result[0].Name)
}

func TestHandleListAPIs_EmptyIsArray(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "GET", "/api/v1/apis", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestHandleGetWorkflow_NotFound(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "GET", "/api/v1/workflows/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not found", decodeMessage(t, w))
}

func TestHandleGetWorkflowGraph_Cached(t *testing.T) {
	b := newStubBackend()
	router := setupRouter(newTestService(b))

	for i := 0; i < 2; i++ {
		w := doRequest(router, "GET", "/api/v1/workflows/wf-1/graph", "")
		require.Equal(t, http.StatusOK, w.Code)

		var g Graph
		require.NoError(t, json.NewDecoder(w.Body).Decode(&g))
		require.Len(t, g.Nodes, 3)
		require.Len(t, g.Edges, 2)
		assert.Equal(t, KindTrigger, g.Nodes[0].Type)
		assert.Equal(t, KindCondition, g.Nodes[1].Type)
		assert.Equal(t, "true", g.Edges[1].SourceHandle)
	}
	assert.Equal(t, 2, b.workflowHit)
}

func TestHandleGetWorkflowMermaid(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "GET", "/api/v1/workflows/wf-1/graph.mmd", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "graph LR\n    %% Orders\n"))
	assert.Contains(t, w.Body.String(), "step_2 -->|true| step_3")
}

func TestHandleStartRun(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "POST", "/api/v1/workflows/wf-1/run", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"job_id": "job-wf-1"}`, w.Body.String())
}

func TestHandleGetRun_Overlay(t *testing.T) {
	b := newStubBackend()
	b.runs = []backend.RunStatus{{
		Status:   backend.RunRunning,
		Progress: 50,
		Tasks:    []backend.TaskStatus{{TaskID: "a", Status: "completed"}, {TaskID: "b", Status: "running"}},
	}}
	router := setupRouter(newTestService(b))

	w := doRequest(router, "GET", "/api/v1/workflows/wf-1/runs/job-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var view RunView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	assert.Equal(t, 50, view.Run.Progress)
	assert.Equal(t, StatusSuccess, view.Graph.Nodes[0].Data.Status)
	assert.Equal(t, StatusRunning, view.Graph.Nodes[1].Data.Status)
	assert.Equal(t, StatusIdle, view.Graph.Nodes[2].Data.Status)
}

func TestHandleStepsGraph(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	tests := []struct {
		name  string
		body  string
		nodes int
		first string
	}{
		{"records", `[{"action": "a"}, {"api": "b"}]`, 2, "step-1"},
		{"wrapped", `{"raw_info": [{"action": "a"}]}`, 1, "step-1"},
		{"labels", `["one", "two", "three"]`, 3, "node-0"},
		{"garbage", `{"nothing": true}`, 0, ""},
		{"invalid json", `{`, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, "POST", "/api/v1/graphs/steps", tt.body)
			require.Equal(t, http.StatusOK, w.Code)

			var g Graph
			require.NoError(t, json.NewDecoder(w.Body).Decode(&g))
			assert.Len(t, g.Nodes, tt.nodes)
			assert.Len(t, g.Edges, max(0, tt.nodes-1))
			if tt.first != "" {
				assert.Equal(t, tt.first, g.Nodes[0].ID)
			}
		})
	}
}

func TestHandleN8nGraph(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))
	body, err := json.Marshal(testExplicitWorkflow())
	require.NoError(t, err)

	w := doRequest(router, "POST", "/api/v1/graphs/n8n", string(body))
	require.Equal(t, http.StatusOK, w.Code)

	var g Graph
	require.NoError(t, json.NewDecoder(w.Body).Decode(&g))
	assert.Len(t, g.Nodes, 4)
	assert.Len(t, g.Edges, 3)
}

func TestHandleValidateN8n(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "POST", "/api/v1/graphs/n8n/validate", `{"nodes": []}`)
	require.Equal(t, http.StatusOK, w.Code)

	var report ValidationReport
	require.NoError(t, json.NewDecoder(w.Body).Decode(&report))
	assert.False(t, report.Valid)
	assert.NotEmpty(t, report.Errors)
}

func TestHandleSequenceGraph(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "POST", "/api/v1/graphs/sequence", `{"labels": ["a", "b"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SequenceResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Generated Workflow", resp.Workflow.Name)
	assert.Len(t, resp.Graph.Nodes, 2)
	assert.Len(t, resp.Graph.Edges, 1)

	w = doRequest(router, "POST", "/api/v1/graphs/sequence", `{"labels": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "labels is invalid", decodeMessage(t, w))
}

func TestHandleApplyEdits(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	body := `{
		"graph": {"nodes": [], "edges": []},
		"operations": [
			{"op": "add", "type": "webhook", "label": "In", "position": {"x": 0, "y": 0}},
			{"op": "add", "type": "if", "label": "Ok?", "position": {"x": 300, "y": 0}},
			{"op": "add", "type": "slack", "label": "Tell", "position": {"x": 600, "y": 0}},
			{"op": "connect", "source": "node-100", "target": "node-101"},
			{"op": "connect", "source": "node-101", "target": "node-102", "handle": "true"},
			{"op": "delete", "ids": ["node-102"]}
		]
	}`
	w := doRequest(router, "POST", "/api/v1/graphs/edits", body)
	require.Equal(t, http.StatusOK, w.Code)

	var g Graph
	require.NoError(t, json.NewDecoder(w.Body).Decode(&g))
	assert.Len(t, g.Nodes, 2)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "e-node-100-node-101", g.Edges[0].ID)
}

func TestHandleApplyEdits_Errors(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing operations", `{"graph": {}}`, "operations is required"},
		{"bad op", `{"operations": [{"op": "move"}]}`, "operations[0].op is invalid"},
		{"connect without target", `{"operations": [{"op": "connect", "source": "a"}]}`, "operations[0].target is required"},
		{"unknown node", `{"operations": [{"op": "connect", "source": "a", "target": "b"}]}`, `operation 0: source "a": unknown node`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, "POST", "/api/v1/graphs/edits", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.want, decodeMessage(t, w))
		})
	}
}

func TestHandlePalette(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "GET", "/api/v1/palette", "")
	require.Equal(t, http.StatusOK, w.Code)

	var sections []PaletteSection
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sections))
	assert.Len(t, sections, 3)
}

func TestHandleProcessCSV(t *testing.T) {
	b := newStubBackend()
	router := setupRouter(newTestService(b))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "orders.csv")
	require.NoError(t, err)
	part.Write([]byte("id,qty\n1,2\n"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/v1/csv/process-async", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "orders.csv:id,qty\n1,2\n", b.uploaded)

	w = doRequest(router, "POST", "/api/v1/csv/process-async", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetCSVJob(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "GET", "/api/v1/csv/job/csv-9", "")
	require.Equal(t, http.StatusOK, w.Code)

	var job backend.CSVJobStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&job))
	assert.Equal(t, "csv-9", job.ID)
	assert.Equal(t, 40, job.Progress)
}

func TestWatchRun_UntilTerminal(t *testing.T) {
	b := newStubBackend()
	b.runs = []backend.RunStatus{
		{Status: backend.RunPending},
		{Status: backend.RunRunning, Progress: 50},
		{Status: backend.RunCompleted, Progress: 100},
	}
	svc := newTestService(b)

	var seen []string
	final, err := svc.WatchRun(context.Background(), "wf-1", "job-1", func(run backend.RunStatus) {
		seen = append(seen, run.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, backend.RunCompleted, final.Status)
	assert.Equal(t, []string{backend.RunPending, backend.RunRunning, backend.RunCompleted}, seen)
}

func TestWatchRun_BackendFailureBecomesFailedStatus(t *testing.T) {
	b := newStubBackend()
	b.runErr = errors.New("connection reset")
	svc := newTestService(b)

	var seen []backend.RunStatus
	final, err := svc.WatchRun(context.Background(), "wf-1", "job-7", func(run backend.RunStatus) {
		seen = append(seen, run)
	})
	require.NoError(t, err)
	assert.Equal(t, backend.RunFailed, final.Status)
	assert.Equal(t, "could not get status of run job-7: connection reset", final.Error)
	require.Len(t, seen, 1)
	assert.Equal(t, final, seen[0])
}

func TestWatchRun_Cancelled(t *testing.T) {
	svc := newTestService(newStubBackend())
	ctx, cancel := context.WithCancel(context.Background())

	_, err := svc.WatchRun(ctx, "wf-1", "job-1", func(backend.RunStatus) { cancel() })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleWatchRun_Websocket(t *testing.T) {
	b := newStubBackend()
	b.runs = []backend.RunStatus{
		{Status: backend.RunRunning, Tasks: []backend.TaskStatus{{TaskID: "a", Status: "running"}}},
		{Status: backend.RunCompleted, Tasks: []backend.TaskStatus{
			{TaskID: "a", Status: "completed"},
			{TaskID: "b", Status: "completed"},
			{TaskID: "c", Status: "completed"},
		}},
	}
	srv := httptest.NewServer(setupRouter(newTestService(b)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/workflows/wf-1/runs/job-1/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first, last RunView
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, backend.RunRunning, first.Run.Status)
	assert.Equal(t, StatusRunning, first.Graph.Nodes[0].Data.Status)

	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, backend.RunCompleted, last.Run.Status)
	for _, n := range last.Graph.Nodes {
		assert.Equal(t, StatusSuccess, n.Data.Status)
	}

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, backend.RunCompleted, closeErr.Text)
}

func TestHandleWatchRun_UnknownWorkflow(t *testing.T) {
	router := setupRouter(newTestService(newStubBackend()))

	w := doRequest(router, "GET", "/api/v1/workflows/missing/runs/job-1/watch", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWatchCSVJob_UntilTerminal(t *testing.T) {
	b := newStubBackend()
	b.jobs = []backend.CSVJobStatus{
		{ID: "csv-1", Status: "processing", Progress: 10},
		{ID: "csv-1", Status: "processing", Progress: 60},
		{ID: "csv-1", Status: "error", Error: "bad header"},
	}
	svc := newTestService(b)

	var progress []int
	final, err := svc.WatchCSVJob(context.Background(), "csv-1", func(job backend.CSVJobStatus) {
		progress = append(progress, job.Progress)
	})
	require.NoError(t, err)
	assert.Equal(t, "error", final.Status)
	assert.Equal(t, "bad header", final.Error)
	assert.Equal(t, []int{10, 60, 0}, progress)
}

func TestWatchCSVJob_BackendFailure(t *testing.T) {
	b := newStubBackend()
	b.jobErr = errors.New("timeout")
	svc := newTestService(b)

	var seen []backend.CSVJobStatus
	final, err := svc.WatchCSVJob(context.Background(), "csv-3", func(job backend.CSVJobStatus) {
		seen = append(seen, job)
	})
	require.NoError(t, err)
	assert.True(t, final.Terminal())
	assert.Equal(t, "csv-3", final.ID)
	assert.Equal(t, "could not get status of job csv-3: timeout", final.Error)
	assert.Equal(t, []backend.CSVJobStatus{final}, seen)
}

func TestHandleWatchCSVJob_Websocket(t *testing.T) {
	b := newStubBackend()
	b.jobs = []backend.CSVJobStatus{
		{ID: "csv-1", Status: "processing", Progress: 50},
		{ID: "csv-1", Status: "completed", Progress: 100, Result: map[string]any{"rows": float64(12)}},
	}
	srv := httptest.NewServer(setupRouter(newTestService(b)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/csv/job/csv-1/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first, last backend.CSVJobStatus
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, 50, first.Progress)
	require.NoError(t, conn.ReadJSON(&last))
	assert.Equal(t, "completed", last.Status)
	assert.Equal(t, map[string]any{"rows": float64(12)}, last.Result)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
	assert.Equal(t, "completed", closeErr.Text)
}
