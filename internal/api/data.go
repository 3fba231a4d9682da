package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/plc-monitor/internal/bridges/s7"
	"github.com/nerrad567/plc-monitor/internal/journal"
	"github.com/nerrad567/plc-monitor/internal/query"
	"github.com/nerrad567/plc-monitor/internal/series"
)

// DataResponse is the body of GET /data.
type DataResponse struct {
	Series map[string][]series.Sample `json:"series"`
	Status string                     `json:"status"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string          `json:"status"`
	Version string          `json:"version,omitempty"`
	Devices map[string]bool `json:"devices"`
}

// DeviceInfo describes one configured device in GET /api/v1/devices.
type DeviceInfo struct {
	Name    string             `json:"name"`
	State   s7.ConnectionState `json:"state"`
	Signals []string           `json:"signals"`
}

// EventsResponse is the body of GET /api/v1/events.
type EventsResponse struct {
	Events []journal.Entry `json:"events"`
	Count  int             `json:"count"`
}

// handleData returns the recent history of the requested keys.
// An absent or empty signals parameter yields an empty series object.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	keys := query.ParseKeys(r.URL.Query().Get("signals"))
	s.respond(w, r, http.StatusOK, DataResponse{
		Series: s.query.Series(keys),
		Status: s.query.StatusSummary(),
	})
}

// handleHealth reports per-device connection health. The endpoint itself
// is always "ok"; device outages are data, not server errors.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Devices: s.query.Health(),
	})
}

// handleDevices lists configured devices with their state and keys.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	states := s.query.States()
	signals := groupKeys(s.query.Signals())

	devices := make([]DeviceInfo, 0, len(states))
	for _, name := range s.query.Devices() {
		keys := signals[name]
		if keys == nil {
			keys = []string{}
		}
		devices = append(devices, DeviceInfo{Name: name, State: states[name], Signals: keys})
	}
	s.respond(w, r, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

func groupKeys(keys []string) map[string][]string {
	out := make(map[string][]string)
	for _, k := range keys {
		if dev, _, ok := series.SplitKey(k); ok {
			out[dev] = append(out[dev], k)
		}
	}
	return out
}

// handleEvents lists connection journal entries, newest first.
//
// Query parameters:
//   - device: only this device's entries
//   - limit: 1..200, default 50
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "connection journal is disabled")
		return
	}

	filter := journal.Filter{Device: r.URL.Query().Get("device")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > journal.MaxLimit {
			writeBadRequest(w, "limit must be an integer between 1 and "+strconv.Itoa(journal.MaxLimit))
			return
		}
		filter.Limit = limit
	}

	entries, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing connection events", "error", err)
		writeInternalError(w, "failed to list connection events")
		return
	}
	s.respond(w, r, http.StatusOK, EventsResponse{Events: entries, Count: len(entries)})
}
