package action

import (
	"fmt"
	"maps"
	"strings"

	"github.com/linnemanlabs/medic/internal/alert"
)

// Validate checks p against the schema of the action it resolves to. It
// never fails: a proposal naming no known action, or missing a required
// argument, is replaced with the Fallback notify action. Names that resolve
// through a spelling variant or keyword are validated and renamed to the
// canonical action.
func Validate(al *alert.Alert, p Proposal) Validated {
	name, known := Resolve(p.Name)
	if !known {
		return finish(Fallback(al, fmt.Sprintf("unknown action %q proposed", p.Name)))
	}
	s, _ := Lookup(name)

	out := Proposal{
		Name:       s.Name,
		Arguments:  make(map[string]any, len(p.Arguments)+3),
		Confidence: ClampConfidence(p.Confidence),
		Reason:     strings.TrimSpace(p.Reason),
	}
	maps.Copy(out.Arguments, p.Arguments)
	if out.Reason == "" {
		out.Reason = noReason
	}

	for _, param := range s.Params {
		v, present := out.Arguments[param.Name]
		if present && isMissing(v) {
			present = false
			delete(out.Arguments, param.Name)
		}

		if !present {
			if param.Required {
				return finish(Fallback(al, fmt.Sprintf("%s proposed without required argument %q", s.Name, param.Name)))
			}
			if param.Default != nil {
				out.Arguments[param.Name] = param.Default
			}
			continue
		}

		if param.Coerce == nil {
			continue
		}
		if cv, ok := param.Coerce(v); ok {
			out.Arguments[param.Name] = cv
		} else if param.Default != nil {
			out.Arguments[param.Name] = param.Default
		}
	}

	return finish(out)
}

func finish(p Proposal) Validated {
	return Validated{Proposal: p, RequiresDispatch: p.Name != Notify}
}

func isMissing(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
