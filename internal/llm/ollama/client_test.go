package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/medic/internal/action"
	"github.com/linnemanlabs/medic/internal/decision"
)

func testRequest() *decision.LLMRequest {
	return &decision.LLMRequest{
		MaxTokens:   256,
		Temperature: 0.1,
		System:      "choose an action",
		Messages: []decision.Message{{
			Role:    "user",
			Content: []decision.ContentBlock{{Type: decision.BlockText, Text: "disk 95% full on /var"}},
		}},
		Tools: action.ToolDefs(),
	}
}

func TestSend_ToolCallResponse(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("request = %s %s, want POST /api/chat", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"model": "llama3.1",
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"function": {"name": "cleanup_disk", "arguments": {"path": "/var", "confidence": 0.85}}}]
			},
			"done": true,
			"prompt_eval_count": 412,
			"eval_count": 37
		}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", "llama3.1")
	resp, err := c.Send(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got.Model != "llama3.1" || got.Stream {
		t.Errorf("request model/stream = %q/%v", got.Model, got.Stream)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "disk 95% full on /var" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if len(got.Tools) != len(action.Names) || got.Tools[0].Type != "function" {
		t.Errorf("tools = %+v", got.Tools)
	}
	if got.Options["temperature"] != 0.1 {
		t.Errorf("temperature = %v, want 0.1", got.Options["temperature"])
	}

	if resp.StopReason != decision.StopToolUse {
		t.Errorf("stop reason = %q, want tool_use", resp.StopReason)
	}
	if resp.Usage.InputTokens != 412 || resp.Usage.OutputTokens != 37 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	parsed, err := decision.ParseProposal(resp)
	if err != nil {
		t.Fatalf("ParseProposal: %v", err)
	}
	if parsed.Name != action.CleanupDisk || parsed.Arguments["path"] != "/var" || parsed.Confidence != 0.85 {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestSend_StringArguments(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"restart_service","arguments":"{\"service_name\":\"nginx\"}"}}]},"done":true}`)
	}))
	defer srv.Close()

	resp, err := New(srv.URL, "m").Send(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	parsed, err := decision.ParseProposal(resp)
	if err != nil {
		t.Fatalf("ParseProposal: %v", err)
	}
	if parsed.Arguments["service_name"] != "nginx" {
		t.Errorf("arguments = %v", parsed.Arguments)
	}
}

func TestSend_TextResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"model":"m","message":{"role":"assistant","content":"Sure. {\"action\":\"notify\",\"confidence\":0.3,\"reason\":\"unclear\"}"},"done":true}`)
	}))
	defer srv.Close()

	resp, err := New(srv.URL, "m").Send(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.StopReason != decision.StopEnd {
		t.Errorf("stop reason = %q, want end_turn", resp.StopReason)
	}
	if len(resp.Content) != 1 || resp.Content[0].Type != decision.BlockText {
		t.Fatalf("content = %+v", resp.Content)
	}
}

func TestSend_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantSub string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"model not loaded"}`, "500"},
		{"not found", http.StatusNotFound, `{"error":"model 'x' not found"}`, "404"},
		{"invalid body", http.StatusOK, `not json`, "unmarshal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := New(srv.URL, "m").Send(context.Background(), testRequest())
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("err = %v, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestSend_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	if _, err := New(url, "m").Send(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error for closed server")
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"models":[]}`)
	}))
	defer srv.Close()

	if err := New(srv.URL, "m").Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	if err := New(down.URL, "m").Ping(context.Background()); err == nil {
		t.Error("Ping should fail on 503")
	}
}
