package decision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/linnemanlabs/medic/internal/action"
)

// ErrNoAction means the model reply contained neither a function call nor a
// decodable JSON object naming an action.
var ErrNoAction = errors.New("no action proposed")

// defaultCallConfidence applies to structured calls that do not state one.
const defaultCallConfidence = 0.7

// ParsedProposal is a proposal plus what the parser had to discard.
type ParsedProposal struct {
	action.Proposal
	// Structured is true when the proposal came from a function call.
	Structured bool
	// IgnoredCalls counts function calls after the first.
	IgnoredCalls int
}

// ParseProposal extracts the model's choice from resp. A structured function
// call wins over free text; only the first call is used. Free text is scanned
// from the first '{' to the last '}'.
func ParseProposal(resp *LLMResponse) (ParsedProposal, error) {
	if resp == nil {
		return ParsedProposal{}, fmt.Errorf("empty response: %w", ErrNoAction)
	}

	var text strings.Builder
	var call *ContentBlock
	ignored := 0
	for i := range resp.Content {
		b := &resp.Content[i]
		switch b.Type {
		case BlockText:
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(b.Text)
		case BlockToolUse:
			if call == nil {
				call = b
			} else {
				ignored++
			}
		}
	}

	if call != nil && strings.TrimSpace(call.Name) != "" {
		p := fromCall(call, strings.TrimSpace(text.String()))
		return ParsedProposal{Proposal: settle(p), Structured: true, IgnoredCalls: ignored}, nil
	}

	p, err := fromText(text.String())
	if err != nil {
		return ParsedProposal{}, err
	}
	return ParsedProposal{Proposal: settle(p)}, nil
}

// settle bounds the confidence to [0,1] and makes sure a reason is given.
func settle(p action.Proposal) action.Proposal {
	p.Confidence = action.ClampConfidence(p.Confidence)
	p.Reason = strings.TrimSpace(p.Reason)
	if p.Reason == "" {
		p.Reason = "model gave no reason for " + p.Name
	}
	return p
}

func fromCall(b *ContentBlock, text string) action.Proposal {
	args := decodeArguments(b.Input)

	p := action.Proposal{
		Name:       strings.TrimSpace(b.Name),
		Arguments:  args,
		Confidence: defaultCallConfidence,
		Reason:     text,
	}
	if c, ok := asFloat(args[action.MetaConfidence]); ok {
		p.Confidence = c
	}
	if r, ok := args[action.MetaReason].(string); ok && strings.TrimSpace(r) != "" {
		p.Reason = r
	}
	delete(args, action.MetaConfidence)
	delete(args, action.MetaReason)

	if strings.TrimSpace(p.Reason) == "" {
		p.Reason = "selected " + p.Name + " via function call"
	}
	return p
}

// textReply is the shape a model uses when it answers in prose with JSON.
type textReply struct {
	Action     string          `json:"action"`
	ActionName string          `json:"action_name"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Args       json.RawMessage `json:"args"`
	Parameters json.RawMessage `json:"parameters"`
	Confidence any             `json:"confidence"`
	Reason     string          `json:"reason"`
}

func fromText(text string) (action.Proposal, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return action.Proposal{}, fmt.Errorf("no JSON object in reply: %w", ErrNoAction)
	}

	var r textReply
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return action.Proposal{}, fmt.Errorf("decode reply JSON: %v: %w", err, ErrNoAction)
	}

	name := firstNonEmpty(r.Action, r.ActionName, r.Name)
	if name == "" {
		return action.Proposal{}, fmt.Errorf("reply JSON names no action: %w", ErrNoAction)
	}

	var args map[string]any
	for _, raw := range []json.RawMessage{r.Arguments, r.Args, r.Parameters} {
		if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
			args = decodeArguments(raw)
			break
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	p := action.Proposal{Name: name, Arguments: args, Reason: r.Reason}
	if c, ok := asFloat(r.Confidence); ok {
		p.Confidence = c
	}
	return p, nil
}

// decodeArguments accepts an object or a JSON string holding an object. Any
// other shape, or a decode failure, yields an empty map.
func decodeArguments(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return map[string]any{}
		}
		raw = []byte(strings.TrimSpace(s))
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// asFloat reads a finite number from a JSON value or numeric string.
func asFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
