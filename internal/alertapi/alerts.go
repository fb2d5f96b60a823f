package alertapi

import (
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/medic/internal/action"
	"github.com/linnemanlabs/medic/internal/alert"
	"github.com/linnemanlabs/medic/internal/pipeline"
)

// maxLoggedPayload bounds the raw body copied into the ingest log line.
const maxLoggedPayload = 2048

// analysisView is the model's proposal as returned to the caller.
type analysisView struct {
	Action     string         `json:"action"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
	Arguments  map[string]any `json:"arguments"`
}

// alertResponse is the body of both ingest endpoints.
type alertResponse struct {
	ID              string           `json:"id"`
	EventID         string           `json:"event_id"`
	Host            string           `json:"host"`
	Problem         string           `json:"problem"`
	Severity        string           `json:"severity"`
	Status          string           `json:"status"`
	Alert           alert.Alert      `json:"alert"`
	Analysis        analysisView     `json:"analysis"`
	Action          action.Validated `json:"action"`
	ActionTaken     any              `json:"action_taken"`
	Stages          []pipeline.Stage `json:"stages"`
	Simulated       bool             `json:"simulated"`
	Notified        bool             `json:"notified"`
	DurationSeconds float64          `json:"duration_seconds"`
}

func newAlertResponse(res *pipeline.Result) alertResponse {
	var taken any = struct{}{}
	if res.Outcome != nil {
		taken = res.Outcome
	}
	args := res.Proposal.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return alertResponse{
		ID:       res.ID,
		EventID:  res.Alert.EventID,
		Host:     res.Alert.Host,
		Problem:  res.Alert.Problem,
		Severity: res.Alert.Severity,
		Status:   res.Alert.Status,
		Alert:    res.Alert,
		Analysis: analysisView{
			Action:     res.Proposal.Name,
			Confidence: res.Proposal.Confidence,
			Reason:     res.Proposal.Reason,
			Arguments:  args,
		},
		Action:          res.Action,
		ActionTaken:     taken,
		Stages:          res.Stages,
		Simulated:       res.Simulated,
		Notified:        res.Notified,
		DurationSeconds: res.Duration.Seconds(),
	}
}

func (a *API) handleAlert(w http.ResponseWriter, r *http.Request) {
	a.ingest(w, r, pipeline.Options{})
}

// handleAlertDebug runs the same pipeline with dispatch forced to simulated.
func (a *API) handleAlertDebug(w http.ResponseWriter, r *http.Request) {
	a.ingest(w, r, pipeline.Options{Simulate: true})
}

func (a *API) ingest(w http.ResponseWriter, r *http.Request, opts pipeline.Options) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	a.logger.Info(ctx, "raw alert payload",
		"simulate", opts.Simulate,
		"bytes", len(body),
		"body", alert.Truncate(string(body), maxLoggedPayload),
	)

	decoded, err := alert.DecodePayload(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	raw, ok := decoded.(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, "payload must be a JSON object")
		return
	}

	res := a.pipe.Handle(ctx, raw, opts)

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("medic.run_id", res.ID),
		attribute.String("medic.alert.event_id", res.Alert.EventID),
		attribute.String("medic.action", res.Action.Name),
		attribute.String("medic.outcome", res.OutcomeLabel()),
	)
	if res.Outcome != nil {
		span.SetAttributes(attribute.String("medic.dispatch.trace_id", res.Outcome.TraceID))
	}

	writeJSON(w, http.StatusOK, newAlertResponse(res))
}
