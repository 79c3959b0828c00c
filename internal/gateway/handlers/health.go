package handlers

import (
	"net/http"
	"sync"
	"time"
)

var (
	startTime time.Time
	startOnce sync.Once
)

// InitStartTime records the server start time. Later calls are no-ops.
func InitStartTime() {
	startOnce.Do(func() {
		startTime = time.Now()
	})
}

// HealthCheck probes one component.
type HealthCheck struct {
	Name  string
	Check func() error
}

// HealthResponse is the health endpoint body.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Uptime     int64             `json:"uptime"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthHandler reports "ok" when every check passes and "degraded" with a
// 503 otherwise.
func HealthHandler(version string, checks ...HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Version: version}
		if !startTime.IsZero() {
			resp.Uptime = int64(time.Since(startTime).Seconds())
		}

		status := http.StatusOK
		if len(checks) > 0 {
			resp.Components = make(map[string]string, len(checks))
		}
		for _, c := range checks {
			if err := c.Check(); err != nil {
				resp.Components[c.Name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Components[c.Name] = "ok"
		}

		SendJSON(w, status, resp)
	}
}
