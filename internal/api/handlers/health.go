package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Version is reported by the health endpoint. cmd/server overrides it at
// build time.
var Version = "dev"

const readyTimeout = 5 * time.Second

// HealthStatus is the liveness response.
type HealthStatus struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

// ComponentStatus is the readiness of one backend.
type ComponentStatus struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// ReadyStatus is the readiness response.
type ReadyStatus struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentStatus `json:"components"`
	Timestamp  string                     `json:"timestamp"`
}

// HealthCheck always answers 200 while the process serves requests.
func HealthCheck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondJSON(w, http.StatusOK, HealthStatus{
			Status:    "healthy",
			Service:   "tender-watch",
			Version:   Version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadyCheck probes every component concurrently and answers 503 when any
// configured one fails. A nil checker is reported as not configured.
func ReadyCheck(components map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		var (
			mu  sync.Mutex
			wg  sync.WaitGroup
			out = make(map[string]ComponentStatus, len(components))
		)
		for name, checker := range components {
			if checker == nil {
				out[name] = ComponentStatus{Status: "not configured"}
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				start := time.Now()
				st := ComponentStatus{Status: "healthy"}
				if err := checker.Health(ctx); err != nil {
					st = ComponentStatus{Status: "unhealthy", Error: err.Error()}
				}
				st.LatencyMS = time.Since(start).Milliseconds()

				mu.Lock()
				out[name] = st
				mu.Unlock()
			}()
		}
		wg.Wait()

		status := ReadyStatus{
			Status:     "ready",
			Components: out,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		}
		for _, c := range out {
			if c.Status == "unhealthy" {
				status.Status = "not ready"
				RespondJSON(w, http.StatusServiceUnavailable, status)
				return
			}
		}
		RespondJSON(w, http.StatusOK, status)
	}
}
