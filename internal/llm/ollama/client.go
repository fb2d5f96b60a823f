// Package ollama implements decision.Provider on a local Ollama server's
// chat endpoint with function calling.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/medic/internal/action"
	"github.com/linnemanlabs/medic/internal/decision"
)

const (
	httpTimeout  = 120 * time.Second
	maxErrorBody = 512
)

// Client implements decision.Provider for Ollama.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// New creates an Ollama provider for baseURL (e.g. http://localhost:11434).
func New(baseURL, model string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: httpTimeout,
		},
	}
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Tools    []tool         `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

// Send posts one non-streaming chat request.
func (c *Client) Send(ctx context.Context, req *decision.LLMRequest) (*decision.LLMResponse, error) {
	body, err := json.Marshal(toChatRequest(c.model, req))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq) //nolint:gosec // G704: baseURL is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := respBody
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, fmt.Errorf("ollama api error %d: %s", resp.StatusCode, string(snippet))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return fromChatResponse(&out), nil
}

// Ping checks the server is reachable by listing local models.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: baseURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama ping: status %d", resp.StatusCode)
	}
	return nil
}

func toChatRequest(model string, req *decision.LLMRequest) chatRequest {
	out := chatRequest{
		Model:   model,
		Stream:  false,
		Options: map[string]any{"temperature": req.Temperature},
	}
	if req.MaxTokens > 0 {
		out.Options["num_predict"] = req.MaxTokens
	}
	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		var text strings.Builder
		for _, b := range m.Content {
			if b.Type == decision.BlockText {
				text.WriteString(b.Text)
			}
		}
		out.Messages = append(out.Messages, chatMessage{Role: m.Role, Content: text.String()})
	}
	for _, d := range req.Tools {
		out.Tools = append(out.Tools, toTool(d))
	}
	return out
}

func toTool(d action.ToolDef) tool {
	return tool{
		Type: "function",
		Function: toolFunction{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		},
	}
}

func fromChatResponse(r *chatResponse) *decision.LLMResponse {
	out := &decision.LLMResponse{
		StopReason: decision.StopEnd,
		Model:      r.Model,
		Usage: decision.Usage{
			InputTokens:  r.PromptEvalCount,
			OutputTokens: r.EvalCount,
		},
	}
	if strings.TrimSpace(r.Message.Content) != "" {
		out.Content = append(out.Content, decision.ContentBlock{Type: decision.BlockText, Text: r.Message.Content})
	}
	for i, tc := range r.Message.ToolCalls {
		out.Content = append(out.Content, decision.ContentBlock{
			Type:  decision.BlockToolUse,
			ID:    fmt.Sprintf("call_%d", i),
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		})
		out.StopReason = decision.StopToolUse
	}
	return out
}
