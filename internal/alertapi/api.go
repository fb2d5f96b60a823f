// Package alertapi serves the alert ingestion and status HTTP API.
package alertapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medic/internal/dispatch"
	"github.com/linnemanlabs/medic/internal/pipeline"
)

// Pipeline defines the business operation alertapi needs.
type Pipeline interface {
	Handle(ctx context.Context, raw map[string]any, opts pipeline.Options) *pipeline.Result
}

// Executions looks up job-runner executions started by a dispatch.
type Executions interface {
	ExecutionStatus(ctx context.Context, id string) (*dispatch.Execution, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	pipe   Pipeline
	execs  Executions
	probes []Probe
	now    func() time.Time
}

// New creates a new API handler. execs may be nil when no job runner is
// configured; probes feed the detailed health report.
func New(logger log.Logger, pipe Pipeline, execs Executions, probes ...Probe) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if pipe == nil {
		panic(xerrors.New("alert pipeline is required"))
	}
	return &API{
		logger: logger,
		pipe:   pipe,
		execs:  execs,
		probes: probes,
		now:    time.Now,
	}
}

// RegisterRoutes attaches the public endpoints to the router. Ingestion
// routes are wrapped with protect, which may be nil.
func (a *API) RegisterRoutes(r chi.Router, protect func(http.Handler) http.Handler) {
	r.Get("/", a.handleIndex)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/health/detailed", a.handleHealthDetailed)

		r.Group(func(r chi.Router) {
			if protect != nil {
				r.Use(protect)
			}
			r.Post("/zabbix/alert", a.handleAlert)
			r.Post("/zabbix/alert/debug", a.handleAlertDebug)
			r.Get("/executions/{id}", a.handleGetExecution)
		})
	})
}

// writeJSON encodes v before sending headers so an unencodable value turns
// into a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"response encoding failed"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// nothing to do with errors here
	_, _ = w.Write(append(body, '\n'))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
