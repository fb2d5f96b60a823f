// Package dispatch resolves a validated action to its remote endpoint and
// triggers it, either as a plain JSON webhook or as a Rundeck job run.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medic/internal/action"
)

// Mode selects how actions are executed. It is fixed per deployment.
type Mode string

const (
	ModeSimulated Mode = "simulated"
	ModeWebhook   Mode = "webhook"
	ModeRundeck   Mode = "rundeck"
)

// ParseMode validates a configured mode string.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSimulated, ModeWebhook, ModeRundeck:
		return m, nil
	default:
		return "", fmt.Errorf("unknown dispatch mode %q (want simulated, webhook or rundeck)", s)
	}
}

// Status is the terminal state of one dispatch attempt.
type Status string

const (
	StatusTriggered Status = "triggered"
	StatusSimulated Status = "simulated"
	StatusFailed    Status = "failed"
)

// Keys injected into every dispatched payload.
const (
	TraceIDKey      = "trace_id"
	DispatchedAtKey = "dispatched_at"
	TraceHeader     = "X-Trace-Id"
)

const (
	DefaultTimeout = 30 * time.Second
	maxDetailBody  = 512
)

// Outcome is the result of one dispatch attempt.
type Outcome struct {
	Status         Status         `json:"status"`
	Mode           Mode           `json:"mode"`
	Action         string         `json:"action"`
	TargetEndpoint string         `json:"target_endpoint"`
	TraceID        string         `json:"trace_id"`
	Detail         string         `json:"detail"`
	StatusCode     int            `json:"status_code,omitempty"`
	ExecutionID    string         `json:"execution_id,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
}

// Hooks receives per-dispatch observations. Nil funcs are skipped.
type Hooks struct {
	OnDispatch func(action string, status Status, mode Mode, duration float64)
}

// Config is everything a Dispatcher needs, injected at construction.
type Config struct {
	Mode    Mode
	Table   Table
	Timeout time.Duration
	// Rundeck mode only.
	RundeckAPIURL string
	RundeckToken  string
}

// Dispatcher executes validated actions. It is safe for concurrent use.
type Dispatcher struct {
	cfg        Config
	httpClient *http.Client
	logger     log.Logger
	hooks      Hooks
	now        func() time.Time
	newTraceID func() string
}

// New creates a Dispatcher. The table must already be valid.
func New(cfg Config, logger log.Logger, hooks Hooks) *Dispatcher {
	if err := cfg.Table.Validate(); err != nil {
		panic(xerrors.New("dispatch table is incomplete: " + err.Error()))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.RundeckAPIURL = strings.TrimRight(cfg.RundeckAPIURL, "/")
	return &Dispatcher{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		hooks:      hooks,
		now:        time.Now,
		newTraceID: uuid.NewString,
	}
}

// Mode reports the configured execution mode.
func (d *Dispatcher) Mode() Mode { return d.cfg.Mode }

// Dispatch executes a in the configured mode. Failures are reported in the
// Outcome, never as an error, and are not retried.
func (d *Dispatcher) Dispatch(ctx context.Context, a action.Validated) Outcome {
	return d.run(ctx, a, d.cfg.Mode)
}

// Simulate resolves and records a without any network call, regardless of
// the configured mode.
func (d *Dispatcher) Simulate(ctx context.Context, a action.Validated) Outcome {
	return d.run(ctx, a, ModeSimulated)
}

func (d *Dispatcher) run(ctx context.Context, a action.Validated, mode Mode) Outcome {
	start := time.Now()
	key, target := d.cfg.Table.Resolve(a.Name)

	payload := make(map[string]any, len(a.Arguments)+2)
	maps.Copy(payload, a.Arguments)
	traceID := d.newTraceID()
	payload[TraceIDKey] = traceID
	payload[DispatchedAtKey] = d.now().Unix()

	out := Outcome{
		Mode:           mode,
		Action:         key,
		TargetEndpoint: target,
		TraceID:        traceID,
		Payload:        payload,
	}

	switch mode {
	case ModeSimulated:
		if d.cfg.Mode == ModeRundeck {
			out.TargetEndpoint = d.jobRunURL(target)
		}
		out.Status = StatusSimulated
		out.Detail = fmt.Sprintf("simulated %s dispatch to %s", key, out.TargetEndpoint)
	case ModeRundeck:
		d.runJob(ctx, target, &out)
	default:
		d.postWebhook(ctx, target, &out)
	}

	L := d.logger.With(
		"action", a.Name,
		"resolved", key,
		"mode", mode,
		"target", out.TargetEndpoint,
		"trace_id", traceID,
	)
	if out.Status == StatusFailed {
		L.Warn(ctx, "dispatch failed", "detail", out.Detail, "status_code", out.StatusCode)
	} else {
		L.Info(ctx, "dispatch complete", "status", out.Status, "execution_id", out.ExecutionID)
	}

	if d.hooks.OnDispatch != nil {
		d.hooks.OnDispatch(key, out.Status, mode, time.Since(start).Seconds())
	}
	return out
}

func (d *Dispatcher) postWebhook(ctx context.Context, target string, out *Outcome) {
	body, err := json.Marshal(out.Payload)
	if err != nil {
		out.fail(0, fmt.Sprintf("marshal payload: %v", err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		out.fail(0, fmt.Sprintf("create request: %v", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TraceHeader, out.TraceID)

	resp, err := d.httpClient.Do(req) //nolint:gosec // G704: target comes from the configured endpoint table
	if err != nil {
		out.fail(0, fmt.Sprintf("webhook request failed: %v", err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	snippet := readSnippet(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		out.fail(resp.StatusCode, fmt.Sprintf("webhook returned %d: %s", resp.StatusCode, snippet))
		return
	}

	out.Status = StatusTriggered
	out.StatusCode = resp.StatusCode
	out.Detail = fmt.Sprintf("webhook accepted with %d", resp.StatusCode)
}

func (o *Outcome) fail(code int, detail string) {
	o.Status = StatusFailed
	o.StatusCode = code
	o.Detail = detail
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxDetailBody))
	return strings.TrimSpace(string(b))
}
