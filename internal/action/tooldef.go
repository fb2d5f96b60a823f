package action

import "encoding/json"

// ToolDef is an action rendered as a callable function for a model API.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Meta parameters every tool accepts so a structured call can carry the
// model's own confidence and justification.
const (
	MetaConfidence = "confidence"
	MetaReason     = "reason"
)

type property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

type inputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// ToolDefs renders the action table as the function menu offered to the model.
func ToolDefs() []ToolDef {
	zero, one := 0.0, 1.0
	out := make([]ToolDef, 0, len(schemas))
	for i := range schemas {
		s := &schemas[i]
		props := make(map[string]property, len(s.Params)+2)
		for _, p := range s.Params {
			props[p.Name] = property{Type: p.Type, Description: p.Description}
		}
		props[MetaConfidence] = property{Type: "number", Description: "Your confidence in this action, 0 to 1", Minimum: &zero, Maximum: &one}
		props[MetaReason] = property{Type: "string", Description: "Short justification for choosing this action"}

		// marshal of plain structs cannot fail
		raw, _ := json.Marshal(inputSchema{Type: "object", Properties: props, Required: s.Required()})
		out = append(out, ToolDef{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: raw,
		})
	}
	return out
}
