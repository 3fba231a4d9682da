// Package query answers history and health questions over the live store
// and the device connection managers.
package query

import (
	"strings"

	"github.com/nerrad567/plc-monitor/internal/bridges/s7"
	"github.com/nerrad567/plc-monitor/internal/series"
)

// statusSeparator joins per-device entries of the status line.
const statusSeparator = " | "

// Snapshotter provides independent copies of recent history.
type Snapshotter interface {
	Snapshot(keys []string) map[string][]series.Sample
}

// Device is the read-only view of a connection manager.
type Device interface {
	Name() string
	State() s7.ConnectionState
	Signals() []s7.Signal
}

// Service is a stateless facade over the store and device health.
//
// Thread Safety: All methods are safe for concurrent use; they only read
// from the store and managers.
type Service struct {
	store   Snapshotter
	devices []Device
}

// NewService creates a service. devices are reported in the given order.
func NewService(store Snapshotter, devices ...Device) *Service {
	return &Service{store: store, devices: devices}
}

// Series returns the recent history of each key. Unknown keys map to an
// empty slice; the result is never nil.
func (s *Service) Series(keys []string) map[string][]series.Sample {
	if len(keys) == 0 {
		return map[string][]series.Sample{}
	}
	return s.store.Snapshot(keys)
}

// StatusSummary returns one human-readable line describing every device:
// "<dev>: connected", "<dev>: <last error>" or "<dev>: disconnected".
func (s *Service) StatusSummary() string {
	parts := make([]string, 0, len(s.devices))
	for _, d := range s.devices {
		parts = append(parts, d.Name()+": "+describe(d.State()))
	}
	return strings.Join(parts, statusSeparator)
}

func describe(st s7.ConnectionState) string {
	switch {
	case st.Connected:
		return "connected"
	case st.LastError != "":
		return st.LastError
	default:
		return "disconnected"
	}
}

// Health returns the connected flag of every device.
func (s *Service) Health() map[string]bool {
	out := make(map[string]bool, len(s.devices))
	for _, d := range s.devices {
		out[d.Name()] = d.State().Connected
	}
	return out
}

// States returns the full connection state of every device.
func (s *Service) States() map[string]s7.ConnectionState {
	out := make(map[string]s7.ConnectionState, len(s.devices))
	for _, d := range s.devices {
		out[d.Name()] = d.State()
	}
	return out
}

// Devices returns the device names in configuration order.
func (s *Service) Devices() []string {
	names := make([]string, 0, len(s.devices))
	for _, d := range s.devices {
		names = append(names, d.Name())
	}
	return names
}

// Signals returns every configured signal key in configuration order.
func (s *Service) Signals() []string {
	var keys []string
	for _, d := range s.devices {
		for _, sig := range d.Signals() {
			keys = append(keys, series.Key(d.Name(), sig.Name))
		}
	}
	return keys
}

// ParseKeys splits a comma-separated key list, dropping blanks and
// surrounding whitespace.
func ParseKeys(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
