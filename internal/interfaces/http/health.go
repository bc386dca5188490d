package http

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/sawpanic/phasegate/internal/persistence"
	"github.com/sawpanic/phasegate/internal/secrets"
)

// Check is a named liveness probe. Critical failures make the service
// unhealthy; the rest only degrade it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// RepositoryCheck adapts a persistence health source into a Check.
func RepositoryCheck(name string, critical bool, repo persistence.RepositoryHealth) Check {
	return Check{Name: name, Critical: critical, Probe: repo.Ping}
}

// HealthHandler provides system health status endpoint
type HealthHandler struct {
	checks    []Check
	redactor  *secrets.Redactor
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, checks ...Check) *HealthHandler {
	sorted := append([]Check(nil), checks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &HealthHandler{
		checks:    sorted,
		redactor:  secrets.NewRedactor(),
		startTime: time.Now(),
		version:   version,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.gatherHealthInfo(r.Context())

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	status := http.StatusOK
	if response.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (h *HealthHandler) gatherHealthInfo(ctx context.Context) HealthResponse {
	response := HealthResponse{
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		System:    systemInfo(),
		Checks:    make(map[string]CheckResult, len(h.checks)),
	}

	status := "healthy"
	for _, c := range h.checks {
		start := time.Now()
		err := c.Probe(ctx)
		result := CheckResult{
			Status:    "pass",
			Message:   "ok",
			Duration:  time.Since(start),
			Timestamp: time.Now().UTC(),
		}
		if err != nil {
			// driver errors can echo a connection string
			result.Message = h.redactor.RedactString(err.Error())
			if c.Critical {
				result.Status = "fail"
				status = "unhealthy"
			} else {
				result.Status = "warn"
				if status == "healthy" {
					status = "degraded"
				}
			}
		}
		response.Checks[c.Name] = result
	}
	response.Status = status
	return response
}

func systemInfo() SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      memStats.Alloc,
		NumGC:         memStats.NumGC,
	}
}
