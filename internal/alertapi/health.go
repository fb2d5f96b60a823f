package alertapi

import (
	"context"
	"math"
	"net/http"
	"runtime"
	"sync"
	"time"

	v "github.com/linnemanlabs/go-core/version"
)

// Component states in the detailed health report.
const (
	StatusOperational = "operational"
	StatusDegraded    = "degraded"
	StatusError       = "error"
)

// probeTimeout bounds each downstream check in the detailed report.
const probeTimeout = 5 * time.Second

// Probe checks one downstream dependency. Check returns optional detail
// fields on success.
type Probe struct {
	Name  string
	Check func(ctx context.Context) (map[string]any, error)
}

// ComponentStatus is one entry in the detailed health report.
type ComponentStatus struct {
	Name    string         `json:"name"`
	Status  string         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (a *API) handleIndex(w http.ResponseWriter, _ *http.Request) {
	vi := v.Get()
	writeJSON(w, http.StatusOK, map[string]any{
		"app":     vi.AppName,
		"version": vi.Version,
		"status":  "online",
		"docs":    "/api/v1/health/detailed",
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "online",
		"version":   v.Get().Version,
		"timestamp": a.now().Unix(),
	})
}

func (a *API) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	components := make([]ComponentStatus, 0, len(a.probes)+1)
	components = append(components, ComponentStatus{
		Name:    "api",
		Status:  StatusOperational,
		Message: "API is operating normally",
	})
	components = append(components, a.runProbes(r.Context())...)

	overall := StatusOperational
	for _, c := range components {
		if c.Status != StatusOperational {
			overall = StatusDegraded
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     overall,
		"version":    v.Get().Version,
		"components": components,
		"system_info": map[string]any{
			"go_version": runtime.Version(),
			"os":         runtime.GOOS,
			"arch":       runtime.GOARCH,
		},
		"response_time_ms": math.Round(float64(time.Since(start).Microseconds())/10) / 100,
		"timestamp":        a.now().Unix(),
	})
}

// runProbes checks every dependency concurrently, keeping probe order.
func (a *API) runProbes(ctx context.Context) []ComponentStatus {
	out := make([]ComponentStatus, len(a.probes))
	var wg sync.WaitGroup
	for i, p := range a.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out[i] = a.probe(ctx, p)
		}()
	}
	wg.Wait()
	return out
}

func (a *API) probe(ctx context.Context, p Probe) ComponentStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	details, err := p.Check(ctx)
	if err != nil {
		a.logger.Warn(ctx, "health probe failed", "component", p.Name, "error", err)
		return ComponentStatus{
			Name:    p.Name,
			Status:  StatusError,
			Message: "connection failed: " + err.Error(),
		}
	}
	return ComponentStatus{
		Name:    p.Name,
		Status:  StatusOperational,
		Message: "connected",
		Details: details,
	}
}
