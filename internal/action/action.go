// Package action defines the remediation actions medic can take, the
// declarative argument schema for each one, and the validation step that
// turns a model proposal into something safe to dispatch.
package action

import (
	"fmt"
	"math"
	"strings"

	"github.com/linnemanlabs/medic/internal/alert"
)

// Canonical action names.
const (
	CleanupDisk        = "cleanup_disk"
	RestartService     = "restart_service"
	AnalyzeProcesses   = "analyze_processes"
	RestartApplication = "restart_application"
	Notify             = "notify"
)

// Names lists every canonical action in menu order.
var Names = []string{CleanupDisk, RestartService, AnalyzeProcesses, RestartApplication, Notify}

const (
	// DefaultTeam receives every fallback notification.
	DefaultTeam = "operations"

	noReason = "no reason given"
)

// Proposal is the decision stage's suggested remediation, before validation.
type Proposal struct {
	Name       string         `json:"action"`
	Arguments  map[string]any `json:"arguments"`
	Confidence float64        `json:"confidence"`
	Reason     string         `json:"reason"`
}

// Validated is a Proposal whose arguments satisfy the action's schema.
type Validated struct {
	Proposal
	RequiresDispatch bool `json:"requires_dispatch"`
}

// Fallback builds the safe "tell a human" proposal used whenever a stage
// cannot produce a confident, valid remediation.
func Fallback(al *alert.Alert, reason string) Proposal {
	host, problem, severity := alert.DefaultHost, alert.DefaultProblem, alert.DefaultSeverity
	if al != nil {
		host, problem, severity = al.Host, al.Problem, al.Severity
	}
	if strings.TrimSpace(reason) == "" {
		reason = noReason
	}
	return Proposal{
		Name: Notify,
		Arguments: map[string]any{
			"team":     DefaultTeam,
			"priority": PriorityFor(severity),
			"message":  fmt.Sprintf("[%s] %s - %s", host, problem, reason),
		},
		Confidence: 0,
		Reason:     reason,
	}
}

// PriorityFor maps an alert severity to a notification priority.
func PriorityFor(severity string) string {
	switch strings.ToLower(strings.TrimSpace(severity)) {
	case "critical", "high", "disaster":
		return "high"
	default:
		return "medium"
	}
}

// ClampConfidence bounds c to [0,1], mapping NaN to 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c), c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
