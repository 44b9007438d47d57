package workflow

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"workflow-studio/pkg/backend"
)

// Backend abstracts the agent/workflow backend for testability.
type Backend interface {
	Query(ctx context.Context, prompt string) (*backend.QueryResponse, error)
	ListWorkflows(ctx context.Context) ([]backend.WorkflowSummary, error)
	GetWorkflow(ctx context.Context, id string) (*backend.WorkflowDetail, error)
	StartRun(ctx context.Context, workflowID string) (*backend.RunHandle, error)
	GetRun(ctx context.Context, workflowID, jobID string) (*backend.RunStatus, error)
	ProcessCSV(ctx context.Context, filename string, r io.Reader) (*backend.CSVJobHandle, error)
	GetCSVJob(ctx context.Context, jobID string) (*backend.CSVJobStatus, error)
	ListAPIs(ctx context.Context) ([]backend.APIRecord, error)
}

// Options tunes a Service. Zero values fall back to defaults.
type Options struct {
	CacheSize    int
	PollInterval time.Duration
	Registerer   prometheus.Registerer
	IDs          IDGenerator
}

// Service turns backend workflow data into editor graphs and relays the
// rest of the backend contract.
type Service struct {
	backend      Backend
	cache        *GraphCache
	metrics      *Metrics
	pollInterval time.Duration
	ids          IDGenerator
	validate     *validator.Validate
	upgrader     websocket.Upgrader
}

// NewService creates a Service on top of the given backend.
func NewService(b Backend, opts Options) *Service {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.IDs == nil {
		opts.IDs = UUIDIDs{}
	}
	validate := validator.New()
	validate.RegisterTagNameFunc(jsonFieldName)
	return &Service{
		backend:      b,
		cache:        NewGraphCache(opts.CacheSize),
		metrics:      NewMetrics(opts.Registerer),
		pollInterval: opts.PollInterval,
		ids:          opts.IDs,
		validate:     validate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origins are enforced by the CORS layer in front of the router.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers the workflow studio handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.NewRoute().Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("/agents/query", s.HandleQuery).Methods("POST")

	router.HandleFunc("/workflows", s.HandleListWorkflows).Methods("GET")
	router.HandleFunc("/workflows/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/workflows/{id}/graph", s.HandleGetWorkflowGraph).Methods("GET")
	router.HandleFunc("/workflows/{id}/graph.mmd", s.HandleGetWorkflowMermaid).Methods("GET")
	router.HandleFunc("/workflows/{id}/run", s.HandleStartRun).Methods("POST")
	router.HandleFunc("/workflows/{id}/runs/{job}", s.HandleGetRun).Methods("GET")
	router.HandleFunc("/workflows/{id}/runs/{job}/watch", s.HandleWatchRun).Methods("GET")

	router.HandleFunc("/graphs/steps", s.HandleStepsGraph).Methods("POST")
	router.HandleFunc("/graphs/n8n", s.HandleN8nGraph).Methods("POST")
	router.HandleFunc("/graphs/n8n/validate", s.HandleValidateN8n).Methods("POST")
	router.HandleFunc("/graphs/sequence", s.HandleSequenceGraph).Methods("POST")
	router.HandleFunc("/graphs/edits", s.HandleApplyEdits).Methods("POST")
	router.HandleFunc("/palette", s.HandlePalette).Methods("GET")

	router.HandleFunc("/csv/process-async", s.HandleProcessCSV).Methods("POST")
	router.HandleFunc("/csv/job/{id}", s.HandleGetCSVJob).Methods("GET")
	router.HandleFunc("/csv/job/{id}/watch", s.HandleWatchCSVJob).Methods("GET")
	router.HandleFunc("/apis", s.HandleListAPIs).Methods("GET")
}
