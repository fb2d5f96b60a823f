package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

const rundeckAuthHeader = "X-Rundeck-Auth-Token"

// ErrNoJobRunner is returned by job-runner queries when the dispatcher is
// not in rundeck mode.
var ErrNoJobRunner = errors.New("dispatch mode has no job runner")

// ErrExecutionNotFound is returned when Rundeck does not know an execution id.
var ErrExecutionNotFound = errors.New("execution not found")

// Execution is the Rundeck view of one job run.
type Execution struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	JobID     string `json:"job_id,omitempty"`
	StartedAt string `json:"started_at,omitempty"`
	EndedAt   string `json:"ended_at,omitempty"`
	Permalink string `json:"permalink,omitempty"`
}

// SystemInfo is the subset of Rundeck /system/info medic reports.
type SystemInfo struct {
	Version string `json:"version"`
}

func (d *Dispatcher) jobRunURL(jobID string) string {
	return d.cfg.RundeckAPIURL + "/job/" + url.PathEscape(jobID) + "/run"
}

func (d *Dispatcher) rundeckRequest(ctx context.Context, method, u string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(rundeckAuthHeader, d.cfg.RundeckToken)
	return req, nil
}

// runJob triggers a Rundeck job with the payload as job options.
func (d *Dispatcher) runJob(ctx context.Context, jobID string, out *Outcome) {
	out.TargetEndpoint = d.jobRunURL(jobID)

	body, err := json.Marshal(map[string]string{"argString": formatArgString(out.Payload)})
	if err != nil {
		out.fail(0, fmt.Sprintf("marshal job options: %v", err))
		return
	}

	req, err := d.rundeckRequest(ctx, http.MethodPost, out.TargetEndpoint, body)
	if err != nil {
		out.fail(0, fmt.Sprintf("create request: %v", err))
		return
	}
	req.Header.Set(TraceHeader, out.TraceID)

	resp, err := d.httpClient.Do(req) //nolint:gosec // G704: URL is built from trusted config
	if err != nil {
		out.fail(0, fmt.Sprintf("rundeck request failed: %v", err))
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		out.fail(resp.StatusCode, fmt.Sprintf("rundeck returned %d: %s", resp.StatusCode, readSnippet(resp.Body)))
		return
	}

	var exec struct {
		ID        json.Number `json:"id"`
		Status    string      `json:"status"`
		Permalink string      `json:"permalink"`
	}
	out.Status = StatusTriggered
	out.StatusCode = resp.StatusCode
	if err := json.NewDecoder(resp.Body).Decode(&exec); err != nil {
		out.Detail = fmt.Sprintf("job %s started, execution id unreadable: %v", jobID, err)
		return
	}
	out.ExecutionID = exec.ID.String()
	out.Detail = fmt.Sprintf("job %s started as execution %s", jobID, out.ExecutionID)
}

// formatArgString renders job options as Rundeck's "-key value" string. Keys
// are sorted, lists are comma joined and values are URL escaped.
func formatArgString(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := optionValue(args[k])
		parts = append(parts, "-"+k+" "+strings.ReplaceAll(url.PathEscape(v), "%2F", "/"))
	}
	return strings.Join(parts, " ")
}

func optionValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case []any:
		items := make([]string, len(t))
		for i, item := range t {
			items[i] = optionValue(item)
		}
		return strings.Join(items, ",")
	case []string:
		return strings.Join(t, ",")
	default:
		return fmt.Sprint(t)
	}
}

// Ping checks the job runner is reachable. Outside rundeck mode there is
// nothing to check and it returns nil info.
func (d *Dispatcher) Ping(ctx context.Context) (*SystemInfo, error) {
	if d.cfg.Mode != ModeRundeck {
		return nil, nil
	}
	req, err := d.rundeckRequest(ctx, http.MethodGet, d.cfg.RundeckAPIURL+"/system/info", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := d.httpClient.Do(req) //nolint:gosec // G704: URL is built from trusted config
	if err != nil {
		return nil, fmt.Errorf("rundeck ping: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rundeck ping: status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var info struct {
		System struct {
			Rundeck struct {
				Version string `json:"version"`
			} `json:"rundeck"`
		} `json:"system"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode system info: %w", err)
	}
	return &SystemInfo{Version: info.System.Rundeck.Version}, nil
}

// ExecutionStatus looks up a job run by id.
func (d *Dispatcher) ExecutionStatus(ctx context.Context, id string) (*Execution, error) {
	if d.cfg.Mode != ModeRundeck {
		return nil, ErrNoJobRunner
	}
	req, err := d.rundeckRequest(ctx, http.MethodGet, d.cfg.RundeckAPIURL+"/execution/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := d.httpClient.Do(req) //nolint:gosec // G704: URL is built from trusted config
	if err != nil {
		return nil, fmt.Errorf("rundeck execution lookup: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrExecutionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rundeck execution lookup: status %d: %s", resp.StatusCode, readSnippet(resp.Body))
	}

	var raw struct {
		ID          json.Number `json:"id"`
		Status      string      `json:"status"`
		Permalink   string      `json:"permalink"`
		DateStarted struct {
			Date string `json:"date"`
		} `json:"date-started"`
		DateEnded struct {
			Date string `json:"date"`
		} `json:"date-ended"`
		Job struct {
			ID string `json:"id"`
		} `json:"job"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode execution: %w", err)
	}
	return &Execution{
		ID:        raw.ID.String(),
		Status:    raw.Status,
		JobID:     raw.Job.ID,
		StartedAt: raw.DateStarted.Date,
		EndedAt:   raw.DateEnded.Date,
		Permalink: raw.Permalink,
	}, nil
}
