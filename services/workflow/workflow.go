package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"workflow-studio/pkg/backend"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 4 << 20

// maxUploadBytes bounds CSV uploads held in memory before spilling to disk.
const maxUploadBytes = 32 << 20

// SequenceRequest asks for a fallback graph from bare step labels.
type SequenceRequest struct {
	Labels []string `json:"labels" validate:"required,min=1"`
}

// SequenceResponse carries the generated workflow document and its graph.
type SequenceResponse struct {
	Workflow N8nWorkflow `json:"workflow"`
	Graph    Graph       `json:"graph"`
}

// EditRequest applies editor operations to a graph.
type EditRequest struct {
	Graph      Graph           `json:"graph"`
	Operations []EditOperation `json:"operations" validate:"required,dive"`
}

// EditOperation is one add, connect or delete performed in the editor.
type EditOperation struct {
	Op       string   `json:"op" validate:"required,oneof=add connect delete"`
	Type     StepType `json:"type,omitempty" validate:"required_if=Op add"`
	Label    string   `json:"label,omitempty"`
	Position Position `json:"position"`
	Source   string   `json:"source,omitempty" validate:"required_if=Op connect"`
	Target   string   `json:"target,omitempty" validate:"required_if=Op connect"`
	Handle   string   `json:"handle,omitempty"`
	IDs      []string `json:"ids,omitempty" validate:"required_if=Op delete"`
}

// HandleQuery forwards a natural-language prompt to the agent.
func (s *Service) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req backend.QueryRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	slog.Debug("Querying agent", "prompt_length", len(req.Prompt))

	resp, err := s.backend.Query(r.Context(), req.Prompt)
	if err != nil {
		writeBackendError(w, "query agent", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListWorkflows lists the workflows known to the backend.
func (s *Service) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.backend.ListWorkflows(r.Context())
	if err != nil {
		writeBackendError(w, "list workflows", err)
		return
	}
	if workflows == nil {
		workflows = []backend.WorkflowSummary{}
	}
	writeJSON(w, http.StatusOK, workflows)
}

// HandleGetWorkflow returns a workflow as the backend reports it.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Getting workflow", "id", id)

	wf, err := s.backend.GetWorkflow(r.Context(), id)
	if err != nil {
		writeBackendError(w, "get workflow", err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// HandleGetWorkflowGraph returns the editor graph for a workflow.
func (s *Service) HandleGetWorkflowGraph(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Debug("Building workflow graph", "id", id)

	_, g, err := s.workflowGraph(r.Context(), id)
	if err != nil {
		writeBackendError(w, "get workflow", err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// HandleGetWorkflowMermaid renders the workflow graph as Mermaid text.
func (s *Service) HandleGetWorkflowMermaid(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	wf, g, err := s.workflowGraph(r.Context(), id)
	if err != nil {
		writeBackendError(w, "get workflow", err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, RenderMermaid(wf.Name, g))
}

// HandleStartRun starts a run and returns its job handle.
func (s *Service) HandleStartRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	slog.Info("Starting workflow run", "id", id)

	handle, err := s.backend.StartRun(r.Context(), id)
	if err != nil {
		writeBackendError(w, "start run", err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

// HandleGetRun returns one poll of a run together with the status overlay.
func (s *Service) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, job := vars["id"], vars["job"]

	run, err := s.backend.GetRun(r.Context(), id, job)
	if err != nil {
		writeBackendError(w, "get run", err)
		return
	}
	_, g, err := s.workflowGraph(r.Context(), id)
	if err != nil {
		writeBackendError(w, "get workflow", err)
		return
	}
	writeJSON(w, http.StatusOK, RunView{Run: *run, Graph: ApplyRunStatus(g, *run)})
}

// HandleWatchRun upgrades to a websocket and pushes run updates until the
// run finishes or the client goes away.
func (s *Service) HandleWatchRun(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, job := vars["id"], vars["job"]

	_, g, err := s.workflowGraph(r.Context(), id)
	if err != nil {
		writeBackendError(w, "get workflow", err)
		return
	}

	s.serveWatch(w, r, job, func(ctx context.Context, send func(any)) (string, error) {
		final, err := s.WatchRun(ctx, id, job, func(run backend.RunStatus) {
			send(RunView{Run: run, Graph: ApplyRunStatus(g, run)})
		})
		return final.Status, err
	})
}

// HandleWatchCSVJob upgrades to a websocket and pushes CSV job updates until
// the job finishes or the client goes away.
func (s *Service) HandleWatchCSVJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	s.serveWatch(w, r, id, func(ctx context.Context, send func(any)) (string, error) {
		final, err := s.WatchCSVJob(ctx, id, func(job backend.CSVJobStatus) {
			send(job)
		})
		return final.Status, err
	})
}

// serveWatch runs watch over a websocket. Every value passed to send is
// written as a JSON message; the final status closes the stream normally.
// The client never sends anything, so a read error means it disconnected
// and cancels the watch.
func (s *Service) serveWatch(w http.ResponseWriter, r *http.Request, job string, watch func(ctx context.Context, send func(any)) (string, error)) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade status watch", "job", job, "error", err)
		return
	}
	defer conn.Close()

	s.metrics.ActiveWatches.Inc()
	defer s.metrics.ActiveWatches.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	final, err := watch(ctx, func(v any) {
		if werr := conn.WriteJSON(v); werr != nil {
			slog.Debug("Status watch write failed", "job", job, "error", werr)
			cancel()
		}
	})
	if err != nil {
		slog.Debug("Status watch ended early", "job", job, "error", err)
		return
	}
	slog.Info("Watched job finished", "job", job, "status", final)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, final))
}

// HandleStepsGraph builds a graph from a steps payload in any accepted shape.
func (s *Service) HandleStepsGraph(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	g := GraphFromStepsJSON(body)
	s.metrics.observeBuild("steps", g)
	writeJSON(w, http.StatusOK, g)
}

// HandleN8nGraph builds a graph from an explicit workflow document.
func (s *Service) HandleN8nGraph(w http.ResponseWriter, r *http.Request) {
	var wf N8nWorkflow
	if !s.decodeBody(w, r, &wf) {
		return
	}
	g := FromExplicitWorkflow(wf)
	s.metrics.observeBuild("n8n", g)
	writeJSON(w, http.StatusOK, g)
}

// HandleValidateN8n reports problems in an explicit workflow document.
func (s *Service) HandleValidateN8n(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ValidateExplicitWorkflow(body))
}

// HandleSequenceGraph builds the fallback workflow for bare labels.
func (s *Service) HandleSequenceGraph(w http.ResponseWriter, r *http.Request) {
	var req SequenceRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	wf, g := SequenceGraph(req.Labels)
	s.metrics.observeBuild("sequence", g)
	writeJSON(w, http.StatusOK, SequenceResponse{Workflow: wf, Graph: g})
}

// HandleApplyEdits replays editor operations on a graph and returns the result.
func (s *Service) HandleApplyEdits(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	session := NewEditorSession(req.Graph, s.ids)
	for i, op := range req.Operations {
		switch op.Op {
		case "add":
			session.AddNode(op.Type, op.Label, op.Position)
		case "connect":
			if _, err := session.Connect(op.Source, op.Target, op.Handle); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("operation %d: %v", i, err))
				return
			}
		case "delete":
			session.DeleteNodes(op.IDs...)
		}
	}
	writeJSON(w, http.StatusOK, session.Snapshot())
}

// HandlePalette lists the node types available in the editor.
func (s *Service) HandlePalette(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Palette())
}

// HandleProcessCSV relays a CSV upload to the backend ingestion job.
func (s *Service) HandleProcessCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	slog.Info("Uploading CSV", "filename", header.Filename, "size", header.Size)

	handle, err := s.backend.ProcessCSV(r.Context(), header.Filename, file)
	if err != nil {
		writeBackendError(w, "process csv", err)
		return
	}
	writeJSON(w, http.StatusAccepted, handle)
}

// HandleGetCSVJob returns the status of a CSV ingestion job.
func (s *Service) HandleGetCSVJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := s.backend.GetCSVJob(r.Context(), id)
	if err != nil {
		writeBackendError(w, "get csv job", err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// HandleListAPIs returns the API catalog.
func (s *Service) HandleListAPIs(w http.ResponseWriter, r *http.Request) {
	apis, err := s.backend.ListAPIs(r.Context())
	if err != nil {
		writeBackendError(w, "list apis", err)
		return
	}
	if apis == nil {
		apis = []backend.APIRecord{}
	}
	writeJSON(w, http.StatusOK, apis)
}

func (s *Service) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

// validationMessage describes the first failing field, named by its JSON
// path without the root type, e.g. "operations[0].source is required".
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request body"
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	if fe.Tag() == "required" || fe.Tag() == "required_if" {
		return errMissing(field).Error()
	}
	return errInvalid(field).Error()
}

// jsonFieldName makes validator report fields by their JSON names.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeBackendError maps backend failures: a backend 404 stays a 404,
// everything else is a bad gateway with a readable reason.
func writeBackendError(w http.ResponseWriter, op string, err error) {
	if backend.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	slog.Error("Backend call failed", "op", op, "error", err)
	writeError(w, http.StatusBadGateway, fmt.Sprintf("%s failed: %v", op, err))
}

type validationError struct {
	field string
	kind  string
}

func (e *validationError) Error() string {
	if e.kind == "missing" {
		return e.field + " is required"
	}
	return e.field + " is invalid"
}

func errMissing(field string) error { return &validationError{field: field, kind: "missing"} }
func errInvalid(field string) error { return &validationError{field: field, kind: "invalid"} }
