// Package alert turns loosely structured monitoring webhooks into a canonical Alert.
package alert

import "fmt"

// Defaults applied when the inbound payload does not carry a value.
const (
	DefaultHost     = "unknown-host"
	DefaultProblem  = "Unknown problem"
	DefaultSeverity = "not classified"
	DefaultStatus   = "PROBLEM"
)

// Tag is a single Zabbix-style tag/value pair.
type Tag struct {
	Tag   string `json:"tag"`
	Value string `json:"value"`
}

// Alert is the canonical representation of an inbound monitoring event.
// It is built once by Normalize and treated as read-only afterwards.
type Alert struct {
	EventID   string         `json:"event_id"`
	Host      string         `json:"host"`
	Problem   string         `json:"problem"`
	Severity  string         `json:"severity"`
	Status    string         `json:"status"`
	Timestamp int64          `json:"timestamp"`
	ItemID    string         `json:"item_id,omitempty"`
	TriggerID string         `json:"trigger_id,omitempty"`
	Details   map[string]any `json:"details"`
	Tags      []Tag          `json:"tags"`
}

// String renders a one-line summary for logs and notifications.
func (a *Alert) String() string {
	return fmt.Sprintf("[%s] %s (severity=%s, status=%s, event=%s)", a.Host, a.Problem, a.Severity, a.Status, a.EventID)
}

// Truncate shortens s to at most n bytes, appending "..." when cut.
func Truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
