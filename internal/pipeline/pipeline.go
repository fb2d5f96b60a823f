// Package pipeline runs one alert through normalization, decision,
// validation and dispatch, degrading every failure to a human notification.
package pipeline

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medic/internal/action"
	"github.com/linnemanlabs/medic/internal/alert"
	"github.com/linnemanlabs/medic/internal/dispatch"
)

const tracerName = "github.com/linnemanlabs/medic/internal/pipeline"

// Stage is one step of the run state machine.
type Stage string

const (
	StageReceived   Stage = "received"
	StageNormalized Stage = "normalized"
	StageProposed   Stage = "proposed"
	StageValidated  Stage = "validated"
	StageDispatched Stage = "dispatched"
	StageSkipped    Stage = "skipped"
	StageCompleted  Stage = "completed"
)

// OutcomeSkipped labels runs whose action was not dispatched.
const OutcomeSkipped = "skipped"

// Notification results reported through Hooks.
const (
	NotifySent   = "sent"
	NotifyFailed = "failed"
)

// Decider proposes an action for an alert. It must not fail.
type Decider interface {
	Propose(ctx context.Context, al *alert.Alert) action.Proposal
}

// Executor runs validated actions.
type Executor interface {
	Dispatch(ctx context.Context, a action.Validated) dispatch.Outcome
	Simulate(ctx context.Context, a action.Validated) dispatch.Outcome
}

// Notifier delivers a finished run to humans.
type Notifier interface {
	Send(ctx context.Context, r *Result) error
}

// Result is everything one run produced.
type Result struct {
	ID        string
	Alert     alert.Alert
	Proposal  action.Proposal
	Action    action.Validated
	Outcome   *dispatch.Outcome
	Stages    []Stage
	Simulated bool
	Notified  bool
	StartedAt time.Time
	Duration  time.Duration
}

// OutcomeLabel is the dispatch status, or "skipped" when nothing was dispatched.
func (r *Result) OutcomeLabel() string {
	if r.Outcome == nil {
		return OutcomeSkipped
	}
	return string(r.Outcome.Status)
}

// Options tunes a single run.
type Options struct {
	// Simulate forces simulated dispatch and suppresses notifications.
	Simulate bool
}

// Config holds orchestrator settings fixed at startup.
type Config struct {
	// DispatchNotify routes notify actions to the notify endpoint as well.
	DispatchNotify bool
}

// CompleteEvent describes a finished run for Hooks.OnComplete.
type CompleteEvent struct {
	Action   string
	Outcome  string
	Duration float64
}

// Hooks receives run-level observations. Nil funcs are skipped.
type Hooks struct {
	OnValidationFallback func()
	OnNotify             func(result string)
	OnComplete           func(e *CompleteEvent)
}

// Orchestrator wires the pipeline stages together. It is safe for
// concurrent use; nothing is shared between runs.
type Orchestrator struct {
	decider  Decider
	executor Executor
	notifier Notifier
	cfg      Config
	logger   log.Logger
	hooks    Hooks
	now      func() time.Time
}

// New creates an Orchestrator. notifier may be nil.
func New(decider Decider, executor Executor, notifier Notifier, cfg Config, logger log.Logger, hooks Hooks) *Orchestrator {
	if decider == nil || executor == nil {
		panic(xerrors.New("pipeline requires a decider and an executor"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Orchestrator{
		decider:  decider,
		executor: executor,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		hooks:    hooks,
		now:      time.Now,
	}
}

// Handle runs raw through every stage and always returns a completed Result.
func (o *Orchestrator) Handle(ctx context.Context, raw map[string]any, opts Options) *Result {
	start := o.now()
	res := &Result{
		ID:        ulid.Make().String(),
		StartedAt: start,
		Stages:    []Stage{StageReceived},
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "pipeline.handle", trace.WithAttributes(
		attribute.String("medic.run_id", res.ID),
		attribute.Bool("medic.simulate", opts.Simulate),
	))
	defer span.End()

	// normalize
	_, nspan := tracer.Start(ctx, "pipeline.normalize")
	res.Alert = alert.NormalizeAt(raw, start)
	nspan.SetAttributes(
		attribute.String("medic.alert.event_id", res.Alert.EventID),
		attribute.String("medic.alert.host", res.Alert.Host),
		attribute.String("medic.alert.severity", res.Alert.Severity),
	)
	nspan.End()
	res.Stages = append(res.Stages, StageNormalized)

	L := o.logger.With("run_id", res.ID, "event_id", res.Alert.EventID, "host", res.Alert.Host)
	L.Info(ctx, "alert received", "alert", res.Alert.String())

	// propose
	res.Proposal = o.decider.Propose(ctx, &res.Alert)
	res.Stages = append(res.Stages, StageProposed)

	// validate
	res.Action = o.validate(ctx, &res.Alert, res.Proposal)
	res.Stages = append(res.Stages, StageValidated)

	// dispatch
	if res.Action.RequiresDispatch || o.cfg.DispatchNotify {
		out := o.dispatch(ctx, res.Action, opts)
		res.Outcome = &out
		res.Stages = append(res.Stages, StageDispatched)
	} else {
		res.Stages = append(res.Stages, StageSkipped)
	}
	res.Simulated = opts.Simulate || (res.Outcome != nil && res.Outcome.Status == dispatch.StatusSimulated)

	if !opts.Simulate && o.needsHuman(res) {
		res.Notified = o.notify(ctx, res)
	}

	res.Duration = time.Since(start)
	res.Stages = append(res.Stages, StageCompleted)

	span.SetAttributes(
		attribute.String("medic.action", res.Action.Name),
		attribute.String("medic.outcome", res.OutcomeLabel()),
		attribute.Bool("medic.notified", res.Notified),
	)
	if res.Outcome != nil && res.Outcome.Status == dispatch.StatusFailed {
		span.SetStatus(codes.Error, "dispatch failed")
	}

	if o.hooks.OnComplete != nil {
		o.hooks.OnComplete(&CompleteEvent{
			Action:   res.Action.Name,
			Outcome:  res.OutcomeLabel(),
			Duration: res.Duration.Seconds(),
		})
	}

	L.Info(ctx, "alert processed",
		"action", res.Action.Name,
		"confidence", res.Action.Confidence,
		"outcome", res.OutcomeLabel(),
		"simulated", res.Simulated,
		"notified", res.Notified,
		"duration", res.Duration.Seconds(),
	)
	return res
}

func (o *Orchestrator) validate(ctx context.Context, al *alert.Alert, p action.Proposal) action.Validated {
	_, span := otel.Tracer(tracerName).Start(ctx, "pipeline.validate", trace.WithAttributes(
		attribute.String("medic.proposal.action", p.Name),
	))
	defer span.End()

	v := action.Validate(al, p)
	routed, known := action.Resolve(p.Name)
	fellBack := v.Name == action.Notify && (!known || routed != action.Notify)
	span.SetAttributes(
		attribute.String("medic.action", v.Name),
		attribute.Bool("medic.validation.fallback", fellBack),
	)

	if fellBack {
		o.logger.Warn(ctx, "proposal failed validation, falling back to notify",
			"proposed", p.Name,
			"reason", v.Reason,
		)
		if o.hooks.OnValidationFallback != nil {
			o.hooks.OnValidationFallback()
		}
	}
	return v
}

func (o *Orchestrator) dispatch(ctx context.Context, a action.Validated, opts Options) dispatch.Outcome {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.dispatch", trace.WithAttributes(
		attribute.String("medic.action", a.Name),
	))
	defer span.End()

	var out dispatch.Outcome
	if opts.Simulate {
		out = o.executor.Simulate(ctx, a)
	} else {
		out = o.executor.Dispatch(ctx, a)
	}

	span.SetAttributes(
		attribute.String("medic.dispatch.status", string(out.Status)),
		attribute.String("medic.dispatch.mode", string(out.Mode)),
		attribute.String("medic.dispatch.trace_id", out.TraceID),
	)
	if out.Status == dispatch.StatusFailed {
		span.SetStatus(codes.Error, out.Detail)
	}
	return out
}

// needsHuman reports whether the run ends with something a person should see.
func (o *Orchestrator) needsHuman(r *Result) bool {
	if r.Action.Name == action.Notify {
		return true
	}
	return r.Outcome != nil && r.Outcome.Status == dispatch.StatusFailed
}

func (o *Orchestrator) notify(ctx context.Context, r *Result) bool {
	if o.notifier == nil {
		return false
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.notify")
	defer span.End()

	result := NotifySent
	if err := o.notifier.Send(ctx, r); err != nil {
		result = NotifyFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, "notification failed")
		o.logger.Error(ctx, err, "failed to send notification", "run_id", r.ID)
	}
	if o.hooks.OnNotify != nil {
		o.hooks.OnNotify(result)
	}
	return result == NotifySent
}
