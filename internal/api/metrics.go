package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/sweiot-link/internal/bridges/ble"
	"github.com/nerrad567/sweiot-link/internal/security"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	Link          LinkMetrics    `json:"link"`
	Devices       DeviceMetrics  `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
	PendingTickets   int `json:"pending_tickets"`
}

// LinkMetrics summarises the coordinator state.
type LinkMetrics struct {
	Channel        string          `json:"channel"`
	Generation     uint64          `json:"generation"`
	LocalState     ble.State       `json:"local_state"`
	DeviceSelected bool            `json:"device_selected"`
	SecurityStatus security.Status `json:"security_status"`
	LoggedIn       bool            `json:"logged_in"`
}

// DeviceMetrics contains device registry statistics.
type DeviceMetrics struct {
	Total int `json:"total"`
	BLE   int `json:"ble"`
	Relay int `json:"relay"`
}

// handleMetrics returns runtime and link metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snap := s.coord.Snapshot()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			PendingTickets:   s.tickets.len(),
		},
		Link: LinkMetrics{
			Channel:        snap.Channel.String(),
			Generation:     snap.Generation,
			LocalState:     snap.LocalState,
			DeviceSelected: snap.DeviceID != "",
			SecurityStatus: snap.SecurityStatus,
			LoggedIn:       snap.LoggedIn,
		},
	}

	for _, d := range s.coord.DeviceList() {
		metrics.Devices.Total++
		if d.Relay != nil {
			metrics.Devices.Relay++
		} else {
			metrics.Devices.BLE++
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
