package decision

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medic/internal/action"
	"github.com/linnemanlabs/medic/internal/alert"
)

// mockProvider returns a fixed response or error and records the request.
type mockProvider struct {
	mu   sync.Mutex
	resp *LLMResponse
	err  error
	wait bool
	got  *LLMRequest
}

func (m *mockProvider) Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error) {
	m.mu.Lock()
	m.got = req
	m.mu.Unlock()

	if m.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.resp, m.err
}

func (m *mockProvider) request() *LLMRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.got
}

func testAlert() *alert.Alert {
	return &alert.Alert{
		EventID:   "4412",
		Host:      "web-01",
		Problem:   "disk 95% full on /var",
		Severity:  "critical",
		Status:    "PROBLEM",
		Timestamp: 1709294400,
		Details:   map[string]any{"ip": "10.0.0.5"},
		Tags:      []alert.Tag{{Tag: "service", Value: "web"}},
	}
}

func TestNewClient_NilProviderPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("NewClient(nil) did not panic")
		}
	}()
	NewClient(nil, nil, Hooks{}, Options{})
}

func TestPropose_StructuredCall(t *testing.T) {
	t.Parallel()

	p := &mockProvider{resp: &LLMResponse{
		Content: []ContentBlock{{
			Type:  BlockToolUse,
			Name:  "cleanup_disk",
			Input: json.RawMessage(`{"path":"/var","confidence":0.9}`),
		}},
		StopReason: StopToolUse,
		Usage:      Usage{InputTokens: 300, OutputTokens: 40},
		Model:      "llama3",
	}}

	var gotResult string
	var gotIn, gotOut int
	c := NewClient(p, log.Nop(), Hooks{OnCall: func(result string, in, out int, _ float64) {
		gotResult, gotIn, gotOut = result, in, out
	}}, Options{Temperature: DefaultTemperature})

	prop := c.Propose(context.Background(), testAlert())

	if prop.Name != action.CleanupDisk || prop.Arguments["path"] != "/var" {
		t.Errorf("proposal = %+v", prop)
	}
	if gotResult != ResultOK || gotIn != 300 || gotOut != 40 {
		t.Errorf("hook = (%s, %d, %d), want (ok, 300, 40)", gotResult, gotIn, gotOut)
	}

	req := p.request()
	if req.Temperature != DefaultTemperature {
		t.Errorf("Temperature = %v, want %v", req.Temperature, DefaultTemperature)
	}
	if len(req.Tools) != len(action.Names) {
		t.Errorf("Tools = %d, want %d", len(req.Tools), len(action.Names))
	}
	if req.MaxTokens != ResponseTokens {
		t.Errorf("MaxTokens = %d, want %d", req.MaxTokens, ResponseTokens)
	}
	for _, name := range action.Names {
		if !strings.Contains(req.System, name) {
			t.Errorf("system prompt missing action %s", name)
		}
	}
	user := req.Messages[0].Content[0].Text
	for _, want := range []string{"web-01", "disk 95% full on /var", "critical", "PROBLEM", "10.0.0.5", "service=web"} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q:\n%s", want, user)
		}
	}
}

func TestPropose_ProviderErrorFallsBack(t *testing.T) {
	t.Parallel()

	p := &mockProvider{err: errors.New("connection refused")}
	var gotResult string
	c := NewClient(p, nil, Hooks{OnCall: func(result string, _, _ int, _ float64) { gotResult = result }}, Options{})

	prop := c.Propose(context.Background(), testAlert())

	if prop.Name != action.Notify {
		t.Fatalf("Name = %q, want notify", prop.Name)
	}
	if prop.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", prop.Confidence)
	}
	msg, _ := prop.Arguments["message"].(string)
	if !strings.Contains(msg, "web-01") || !strings.Contains(msg, "connection refused") {
		t.Errorf("message = %q, want host and cause", msg)
	}
	if prop.Arguments["priority"] != "high" {
		t.Errorf("priority = %v, want high", prop.Arguments["priority"])
	}
	if gotResult != ResultError {
		t.Errorf("hook result = %q, want %q", gotResult, ResultError)
	}
}

func TestPropose_TimeoutFallsBack(t *testing.T) {
	t.Parallel()

	p := &mockProvider{wait: true}
	c := NewClient(p, nil, Hooks{}, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	prop := c.Propose(context.Background(), testAlert())

	if time.Since(start) > 5*time.Second {
		t.Fatal("Propose did not honor timeout")
	}
	if prop.Name != action.Notify || prop.Confidence != 0 {
		t.Errorf("proposal = %+v, want fallback", prop)
	}
	if !strings.Contains(prop.Reason, "timed out") {
		t.Errorf("Reason = %q, want timeout cause", prop.Reason)
	}
}

func TestPropose_UnparsableReplyFallsBack(t *testing.T) {
	t.Parallel()

	p := &mockProvider{resp: &LLMResponse{Content: []ContentBlock{{Type: BlockText, Text: "restart it I guess"}}}}
	var gotResult string
	c := NewClient(p, nil, Hooks{OnCall: func(result string, _, _ int, _ float64) { gotResult = result }}, Options{})

	prop := c.Propose(context.Background(), testAlert())

	if prop.Name != action.Notify || prop.Confidence != 0 {
		t.Errorf("proposal = %+v, want fallback", prop)
	}
	if gotResult != ResultNoAction {
		t.Errorf("hook result = %q, want %q", gotResult, ResultNoAction)
	}
}

func TestPropose_CanceledCallerFallsBack(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prop := NewClient(&mockProvider{wait: true}, nil, Hooks{}, Options{}).Propose(ctx, testAlert())
	if prop.Name != action.Notify {
		t.Errorf("Name = %q, want notify", prop.Name)
	}
}

func TestPropose_CreatesSpan(t *testing.T) {
	// Not parallel: swaps the global OTel tracer provider.

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	p := &mockProvider{resp: &LLMResponse{
		Content: []ContentBlock{{Type: BlockToolUse, Name: "analyze_processes", Input: json.RawMessage(`{}`)}},
		Model:   "llama3",
	}}
	NewClient(p, nil, Hooks{}, Options{}).Propose(context.Background(), testAlert())

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "decision.propose" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	attrs := make(map[string]any)
	for _, a := range spans[0].Attributes {
		attrs[string(a.Key)] = a.Value.AsInterface()
	}
	if attrs["medic.decision.action"] != "analyze_processes" {
		t.Errorf("medic.decision.action = %v", attrs["medic.decision.action"])
	}
	if attrs["gen_ai.response.model"] != "llama3" {
		t.Errorf("gen_ai.response.model = %v", attrs["gen_ai.response.model"])
	}
}
