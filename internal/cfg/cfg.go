package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"strings"

	"github.com/linnemanlabs/medic/internal/action"
	"github.com/linnemanlabs/medic/internal/dispatch"
)

// Decision providers.
const (
	ProviderOllama = "ollama"
	ProviderClaude = "claude"
)

// defaultHookBase prefixes the default per-action webhook URLs.
const defaultHookBase = "http://localhost:8081/hooks/"

// Config adds app-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	DecisionProvider       string
	OllamaURL              string
	OllamaModel            string
	ClaudeAPIKey           string
	ClaudeModel            string
	DecisionTimeoutSeconds int
	DecisionTemperature    float64

	DispatchMode               string
	DispatchTimeoutSeconds     int
	DispatchNotify             bool
	EndpointCleanupDisk        string
	EndpointRestartService     string
	EndpointAnalyzeProcesses   string
	EndpointRestartApplication string
	EndpointNotify             string
	EndpointsFile              string
	RundeckURL                 string
	RundeckToken               string

	SlackWebhookURL string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "shared token required on alert endpoints (empty = no auth)")

	fs.StringVar(&c.DecisionProvider, "decision-provider", ProviderOllama, "decision model provider (ollama|claude)")
	fs.StringVar(&c.OllamaURL, "ollama-url", "http://localhost:11434", "Ollama base URL")
	fs.StringVar(&c.OllamaModel, "ollama-model", "llama3.1", "Ollama model to use")
	fs.StringVar(&c.ClaudeAPIKey, "claude-api-key", "", "API key for the Claude provider")
	fs.StringVar(&c.ClaudeModel, "claude-model", "claude-sonnet-4-20250514", "Claude model to use")
	fs.IntVar(&c.DecisionTimeoutSeconds, "decision-timeout-seconds", 60, "timeout for a single decision call (1..600)")
	fs.Float64Var(&c.DecisionTemperature, "decision-temperature", 0.1, "decision sampling temperature (0..1)")

	fs.StringVar(&c.DispatchMode, "dispatch-mode", string(dispatch.ModeSimulated), "how actions are executed (simulated|webhook|rundeck)")
	fs.IntVar(&c.DispatchTimeoutSeconds, "dispatch-timeout-seconds", 30, "timeout for a single dispatch call (1..600)")
	fs.BoolVar(&c.DispatchNotify, "dispatch-notify", false, "also dispatch notify actions to the notify endpoint")
	fs.StringVar(&c.EndpointCleanupDisk, "endpoint-cleanup-disk", defaultHookBase+"cleanup-disk", "dispatch target for cleanup_disk (URL, or job id in rundeck mode)")
	fs.StringVar(&c.EndpointRestartService, "endpoint-restart-service", defaultHookBase+"restart-service", "dispatch target for restart_service")
	fs.StringVar(&c.EndpointAnalyzeProcesses, "endpoint-analyze-processes", defaultHookBase+"analyze-processes", "dispatch target for analyze_processes")
	fs.StringVar(&c.EndpointRestartApplication, "endpoint-restart-application", defaultHookBase+"restart-application", "dispatch target for restart_application")
	fs.StringVar(&c.EndpointNotify, "endpoint-notify", defaultHookBase+"notify", "dispatch target for notify")
	fs.StringVar(&c.EndpointsFile, "endpoints-file", "", "YAML file of dispatch targets, overrides the endpoint-* flags")
	fs.StringVar(&c.RundeckURL, "rundeck-url", "", "Rundeck API base URL including version, e.g. http://rundeck:4440/api/41")
	fs.StringVar(&c.RundeckToken, "rundeck-token", "", "Rundeck API token")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for notifications")
}

// Endpoints returns the dispatch targets set through flags, keyed by
// canonical action name.
func (c *Config) Endpoints() map[string]string {
	return map[string]string{
		action.CleanupDisk:        c.EndpointCleanupDisk,
		action.RestartService:     c.EndpointRestartService,
		action.AnalyzeProcesses:   c.EndpointAnalyzeProcesses,
		action.RestartApplication: c.EndpointRestartApplication,
		action.Notify:             c.EndpointNotify,
	}
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	errs = append(errs, c.validateDecision()...)
	errs = append(errs, c.validateDispatch()...)

	if c.SlackWebhookURL != "" && !isHTTPURL(c.SlackWebhookURL) {
		errs = append(errs, errors.New("SLACK_WEBHOOK_URL must be an http(s) URL"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) validateDecision() []error {
	var errs []error

	switch c.DecisionProvider {
	case ProviderOllama:
		if !isHTTPURL(c.OllamaURL) {
			errs = append(errs, fmt.Errorf("invalid OLLAMA_URL %q (must be an http(s) URL)", c.OllamaURL))
		}
		if c.OllamaModel == "" {
			errs = append(errs, errors.New("OLLAMA_MODEL is required"))
		}
	case ProviderClaude:
		if c.ClaudeAPIKey == "" {
			errs = append(errs, errors.New("CLAUDE_API_KEY is required for the claude provider"))
		}
		if c.ClaudeModel == "" {
			errs = append(errs, errors.New("CLAUDE_MODEL is required for the claude provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid DECISION_PROVIDER %q (must be ollama or claude)", c.DecisionProvider))
	}

	if c.DecisionTimeoutSeconds <= 0 || c.DecisionTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid DECISION_TIMEOUT_SECONDS %d (must be 1..600)", c.DecisionTimeoutSeconds))
	}
	// written as a negated range so NaN is rejected too
	if !(c.DecisionTemperature >= 0 && c.DecisionTemperature <= 1) {
		errs = append(errs, fmt.Errorf("invalid DECISION_TEMPERATURE %v (must be 0..1)", c.DecisionTemperature))
	}
	return errs
}

func (c *Config) validateDispatch() []error {
	var errs []error

	mode, err := dispatch.ParseMode(c.DispatchMode)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_MODE: %w", err))
	}
	if c.DispatchTimeoutSeconds <= 0 || c.DispatchTimeoutSeconds > 600 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_TIMEOUT_SECONDS %d (must be 1..600)", c.DispatchTimeoutSeconds))
	}

	switch mode {
	case dispatch.ModeWebhook:
		// endpoints from a file are checked after loading
		if c.EndpointsFile == "" {
			for name, target := range c.Endpoints() {
				if target != "" && !isHTTPURL(target) {
					errs = append(errs, fmt.Errorf("endpoint for %s must be an http(s) URL in webhook mode, got %q", name, target))
				}
			}
		}
	case dispatch.ModeRundeck:
		if !isHTTPURL(c.RundeckURL) {
			errs = append(errs, errors.New("RUNDECK_URL must be an http(s) URL in rundeck mode"))
		}
		if c.RundeckToken == "" {
			errs = append(errs, errors.New("RUNDECK_TOKEN is required in rundeck mode"))
		}
	}
	return errs
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
