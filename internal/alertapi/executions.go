package alertapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/medic/internal/dispatch"
)

func (a *API) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("medic.execution.id", id))

	if a.execs == nil {
		writeError(w, http.StatusNotFound, dispatch.ErrNoJobRunner.Error())
		return
	}

	exec, err := a.execs.ExecutionStatus(r.Context(), id)
	switch {
	case errors.Is(err, dispatch.ErrNoJobRunner), errors.Is(err, dispatch.ErrExecutionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to get execution status", "id", id)
		writeError(w, http.StatusBadGateway, "job runner unavailable")
		return
	}

	span.SetAttributes(attribute.String("medic.execution.status", exec.Status))
	writeJSON(w, http.StatusOK, exec)
}
