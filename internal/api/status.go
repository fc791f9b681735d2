package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/spraycell-core/internal/broker"
	"github.com/nerrad567/spraycell-core/internal/tag"
)

// Health values reported by /health.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status  string          `json:"status"`
	Version string          `json:"version"`
	Checks  map[string]bool `json:"checks"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Timestamp     string         `json:"timestamp"`
	Site          string         `json:"site"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	State         StateSummary   `json:"state"`
	Tags          tag.Status     `json:"tags"`
	Broker        broker.Summary `json:"broker"`
	MQTT          *MQTTStatus    `json:"mqtt,omitempty"`
	WebSocket     WSStatus       `json:"websocket"`
	Runtime       RuntimeStatus  `json:"runtime"`
}

// StateSummary is the state machine section of /status.
type StateSummary struct {
	Current          string   `json:"current"`
	ValidTransitions []string `json:"valid_transitions"`
}

// MQTTStatus contains MQTT client status.
type MQTTStatus struct {
	Connected bool `json:"connected"`
}

// WSStatus contains WebSocket hub statistics.
type WSStatus struct {
	ConnectedClients int `json:"connected_clients"`
}

// RuntimeStatus contains Go runtime statistics.
type RuntimeStatus struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// handleHealth reports liveness plus the checks an operator cares about
// first. It always answers 200; "degraded" means the core runs but a
// dependency is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]bool{
		"hardware": s.tags.Status().Connected,
	}
	if s.mqtt != nil {
		checks["mqtt"] = s.mqtt.IsConnected()
	}

	status := HealthOK
	for _, ok := range checks {
		if !ok {
			status = HealthDegraded
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: s.version,
		Checks:  checks,
	})
}

// handleStatus returns a snapshot of every subsystem.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Site:          s.siteID,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		State: StateSummary{
			Current:          s.state.Current(),
			ValidTransitions: s.state.ValidTransitions(),
		},
		Tags:   s.tags.Status(),
		Broker: s.bus.Summary(),
		WebSocket: WSStatus{
			ConnectedClients: s.hub.ClientCount(),
		},
		Runtime: RuntimeStatus{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / 1024 / 1024,
			NumGC:         mem.NumGC,
		},
	}
	if s.mqtt != nil {
		resp.MQTT = &MQTTStatus{Connected: s.mqtt.IsConnected()}
	}

	writeJSON(w, http.StatusOK, resp)
}
