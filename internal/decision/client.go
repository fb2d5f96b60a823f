package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/medic/internal/action"
	"github.com/linnemanlabs/medic/internal/alert"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultTemperature = 0.1
	ResponseTokens     = 1024
)

// Call results reported through Hooks.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultNoAction = "no_action"
)

const tracerName = "github.com/linnemanlabs/medic/internal/decision"

// Hooks receives per-call observations. Nil funcs are skipped.
type Hooks struct {
	OnCall func(result string, inputTokens, outputTokens int, duration float64)
}

// Options tunes a Client.
type Options struct {
	// Timeout bounds a single model call. Zero means DefaultTimeout.
	Timeout     time.Duration
	Temperature float64
	// MaxTokens caps the reply. Zero means ResponseTokens.
	MaxTokens int
}

// Client asks a model provider which action fits an alert.
type Client struct {
	provider Provider
	logger   log.Logger
	hooks    Hooks
	opts     Options
}

// NewClient creates a decision client over provider.
func NewClient(provider Provider, logger log.Logger, hooks Hooks, opts Options) *Client {
	if provider == nil {
		panic(xerrors.New("decision provider is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = ResponseTokens
	}
	return &Client{provider: provider, logger: logger, hooks: hooks, opts: opts}
}

// Propose returns the model's proposed action for al. It never fails: any
// transport, timeout or parse problem yields action.Fallback with the cause
// as the reason.
func (c *Client) Propose(ctx context.Context, al *alert.Alert) action.Proposal {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "decision.propose", trace.WithAttributes(
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.Float64("gen_ai.request.temperature", c.opts.Temperature),
		attribute.String("medic.alert.event_id", al.EventID),
		attribute.String("medic.alert.host", al.Host),
	))
	defer span.End()

	L := c.logger.With("event_id", al.EventID, "host", al.Host)

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Send(callCtx, &LLMRequest{
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		System:      buildSystemPrompt(),
		Messages: []Message{{
			Role:    "user",
			Content: []ContentBlock{{Type: BlockText, Text: buildAlertPrompt(al)}},
		}},
		Tools: action.ToolDefs(),
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("decision service timed out after %s: %w", c.opts.Timeout, err)
		}
		c.observe(ResultError, 0, 0, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		L.Error(ctx, err, "decision call failed, falling back to notify")
		return action.Fallback(al, fmt.Sprintf("decision service error: %v", err))
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)

	parsed, err := ParseProposal(resp)
	if err != nil {
		c.observe(ResultNoAction, resp.Usage.InputTokens, resp.Usage.OutputTokens, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "no action in reply")
		L.Warn(ctx, "model reply had no usable action, falling back to notify", "error", err)
		return action.Fallback(al, fmt.Sprintf("could not interpret decision: %v", err))
	}
	c.observe(ResultOK, resp.Usage.InputTokens, resp.Usage.OutputTokens, elapsed)

	if parsed.IgnoredCalls > 0 {
		L.Warn(ctx, "model returned multiple function calls, using the first",
			"used", parsed.Name,
			"ignored", parsed.IgnoredCalls,
		)
	}

	span.SetAttributes(
		attribute.String("medic.decision.action", parsed.Name),
		attribute.Bool("medic.decision.structured", parsed.Structured),
	)

	L.Info(ctx, "decision received",
		"action", parsed.Name,
		"confidence", parsed.Confidence,
		"structured", parsed.Structured,
		"model", resp.Model,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"duration", elapsed,
	)
	return parsed.Proposal
}

func (c *Client) observe(result string, in, out int, dur float64) {
	if c.hooks.OnCall != nil {
		c.hooks.OnCall(result, in, out, dur)
	}
}

// buildSystemPrompt describes the task and the fixed action menu.
func buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString(`You are Medic, an infrastructure remediation assistant. You receive one monitoring alert from Zabbix and choose exactly one action to take.

Available actions:
`)
	for i, s := range action.Schemas() {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, s.Name, s.Description)
	}
	b.WriteString(`
Call exactly one of the provided functions with its arguments, including your confidence (0 to 1) and a short reason.
If you cannot call functions, reply with only a JSON object:
{"action": "<action name>", "arguments": {...}, "confidence": <0 to 1>, "reason": "<why>"}

Prefer notify when no automatic remediation is clearly safe.`)
	return b.String()
}

// buildAlertPrompt renders one alert for the user turn.
func buildAlertPrompt(al *alert.Alert) string {
	details, _ := json.MarshalIndent(al.Details, "", "  ")

	var tags strings.Builder
	if len(al.Tags) == 0 {
		tags.WriteString("(none)")
	}
	for i, t := range al.Tags {
		if i > 0 {
			tags.WriteString(", ")
		}
		fmt.Fprintf(&tags, "%s=%s", t.Tag, t.Value)
	}

	return fmt.Sprintf(`Alert received:
Host: %s
Problem: %s
Severity: %s
Status: %s
Time: %s

Details:
%s

Tags: %s

Choose the action to take.`,
		al.Host,
		al.Problem,
		al.Severity,
		al.Status,
		time.Unix(al.Timestamp, 0).UTC().Format(time.RFC3339),
		string(details),
		tags.String(),
	)
}
