package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/plc-monitor/internal/bridges/s7"
	"github.com/nerrad567/plc-monitor/internal/infrastructure/influxdb"
	"github.com/nerrad567/plc-monitor/internal/infrastructure/mqtt"
	"github.com/nerrad567/plc-monitor/internal/series"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Store         series.StoreStats `json:"store"`
	Devices       []DeviceMetrics   `json:"devices"`
	MQTT          *MQTTMetrics      `json:"mqtt,omitempty"`
	InfluxDB      *InfluxMetrics    `json:"influxdb,omitempty"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
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
	ConnectedClients int    `json:"connected_clients"`
	DroppedClients   uint64 `json:"dropped_clients"`
}

// DeviceMetrics combines a manager's counters with its polling loop.
type DeviceMetrics struct {
	Name      string          `json:"name"`
	Connected bool            `json:"connected"`
	LastError string          `json:"last_error,omitempty"`
	Manager   s7.ManagerStats `json:"manager"`
	Poller    *PollerMetrics  `json:"poller,omitempty"`
}

// PollerMetrics contains polling loop statistics.
type PollerMetrics struct {
	State  string `json:"state"`
	Cycles uint64 `json:"cycles"`
	Panics uint64 `json:"panics"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool                `json:"connected"`
	Publisher mqtt.PublisherStats `json:"publisher"`
}

// InfluxMetrics contains export statistics.
type InfluxMetrics struct {
	Connected bool                `json:"connected"`
	Writes    influxdb.WriteStats `json:"writes"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

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
			DroppedClients:   s.hub.Dropped(),
		},
		Devices: s.deviceMetrics(),
	}

	if s.store != nil {
		metrics.Store = s.store.Stats()
	}

	if s.mqtt != nil || s.publisher != nil {
		m := &MQTTMetrics{}
		if s.mqtt != nil {
			m.Connected = s.mqtt.IsConnected()
		}
		if s.publisher != nil {
			m.Publisher = s.publisher.Stats()
		}
		metrics.MQTT = m
	}

	if s.influx != nil {
		metrics.InfluxDB = &InfluxMetrics{
			Connected: s.influx.IsConnected(),
			Writes:    s.influx.Stats(),
		}
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	s.respond(w, r, http.StatusOK, metrics)
}

// deviceMetrics pairs every manager with the polling loop of the same name.
func (s *Server) deviceMetrics() []DeviceMetrics {
	loops := make(map[string]PollerStatsSource, len(s.pollers))
	for _, p := range s.pollers {
		loops[p.Device()] = p
	}

	out := make([]DeviceMetrics, 0, len(s.managers))
	for _, m := range s.managers {
		st := m.State()
		dm := DeviceMetrics{
			Name:      m.Name(),
			Connected: st.Connected,
			LastError: st.LastError,
			Manager:   m.Stats(),
		}
		if p, ok := loops[m.Name()]; ok {
			dm.Poller = &PollerMetrics{
				State:  p.State().String(),
				Cycles: p.Cycles(),
				Panics: p.Panics(),
			}
		}
		out = append(out, dm)
	}
	return out
}
