package action

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Param describes one argument of an action.
type Param struct {
	Name        string
	Type        string // JSON Schema type: string, integer, number, boolean
	Description string
	Required    bool
	// Default is applied when the argument is absent. Nil means no default.
	Default any
	// Coerce normalizes a present value. When it reports false the Default
	// is used instead, or the raw value kept if there is no Default.
	Coerce func(any) (any, bool)
}

// Schema describes one action offered to the model and accepted by Validate.
type Schema struct {
	Name        string
	Description string
	Params      []Param
}

// Required returns the names of the required params.
func (s *Schema) Required() []string {
	var out []string
	for _, p := range s.Params {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// schemas is the action table. Adding an action is a new entry here plus a
// dispatch endpoint.
var schemas = []Schema{
	{
		Name:        CleanupDisk,
		Description: "Remove old or large files to free disk space. Use for full or nearly full filesystems.",
		Params: []Param{
			{Name: "path", Type: "string", Description: "Directory to clean", Default: "/tmp"},
			{Name: "min_size", Type: "string", Description: "Only remove files at least this large, e.g. 100M", Default: "100M"},
			{Name: "file_age", Type: "string", Description: "Only remove files older than this, e.g. 7d", Default: "7d"},
		},
	},
	{
		Name:        RestartService,
		Description: "Restart a stopped or unhealthy system service.",
		Params: []Param{
			{Name: "service_name", Type: "string", Description: "Name of the service unit to restart", Required: true},
			{Name: "force", Type: "boolean", Description: "Kill the service if a clean stop fails", Default: false, Coerce: coerceBool},
		},
	},
	{
		Name:        AnalyzeProcesses,
		Description: "Collect the top resource consuming processes. Use for high CPU or memory utilization.",
		Params: []Param{
			{Name: "resource_type", Type: "string", Description: "Resource to rank processes by: cpu or memory", Default: "cpu"},
			{Name: "top_count", Type: "integer", Description: "Number of processes to report", Default: 10, Coerce: coerceInt},
		},
	},
	{
		Name:        RestartApplication,
		Description: "Restart an application, e.g. after a memory leak or hung worker pool.",
		Params: []Param{
			{Name: "app_name", Type: "string", Description: "Name of the application to restart", Required: true},
			{Name: "graceful", Type: "boolean", Description: "Drain in-flight work before restarting", Coerce: coerceBool},
			{Name: "timeout", Type: "integer", Description: "Seconds to wait for a graceful stop", Coerce: coerceInt},
		},
	},
	{
		Name:        Notify,
		Description: "Notify a human operator. Use when no automatic remediation is appropriate.",
		Params: []Param{
			{Name: "message", Type: "string", Description: "What the operator needs to know", Required: true},
			{Name: "team", Type: "string", Description: "Team to notify", Default: DefaultTeam},
			{Name: "priority", Type: "string", Description: "low, medium or high", Default: "medium"},
		},
	},
}

var schemaIndex = func() map[string]*Schema {
	m := make(map[string]*Schema, len(schemas))
	for i := range schemas {
		m[schemas[i].Name] = &schemas[i]
	}
	return m
}()

// Schemas returns the action table in menu order.
func Schemas() []Schema {
	out := make([]Schema, len(schemas))
	copy(out, schemas)
	return out
}

// keywordRoutes map unrecognized names onto an action by substring.
var keywordRoutes = []struct {
	keyword string
	action  string
}{
	{"disk", CleanupDisk},
	{"service", RestartService},
	{"process", AnalyzeProcesses},
}

// Resolve maps a proposed action name to the canonical action it is routed
// to: the exact name, then the hyphen and underscore spellings, then keyword
// routing. Names matching none of these resolve to Notify with ok false.
func Resolve(name string) (canonical string, ok bool) {
	if s, found := Lookup(name); found {
		return s.Name, true
	}
	lower := strings.ToLower(name)
	for _, r := range keywordRoutes {
		if strings.Contains(lower, r.keyword) {
			return r.action, true
		}
	}
	return Notify, false
}

// Lookup finds the schema for name, accepting either hyphen or underscore spelling.
func Lookup(name string) (*Schema, bool) {
	for _, candidate := range []string{
		name,
		strings.ReplaceAll(name, "-", "_"),
		strings.ReplaceAll(name, "_", "-"),
	} {
		if s, ok := schemaIndex[candidate]; ok {
			return s, true
		}
	}
	return nil, false
}

func coerceInt(v any) (any, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return nil, false
		}
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return nil, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, false
		}
		return n, true
	}
	return nil, false
}

func coerceBool(v any) (any, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, false
		}
		return b, true
	}
	return nil, false
}
