package influxdb

import (
	"time"

	"github.com/nerrad567/plc-monitor/internal/poller"
	"github.com/nerrad567/plc-monitor/internal/series"
)

// SignalWriter accepts signal values without blocking. *Client implements it.
type SignalWriter interface {
	WriteSignal(device, signal string, v series.Value, at time.Time)
}

// Exporter forwards poll batches to a SignalWriter, stamping every value
// with the cycle start. It implements poller.Sink.
type Exporter struct {
	w SignalWriter
}

// NewExporter returns an exporter writing to w.
func NewExporter(w SignalWriter) *Exporter {
	return &Exporter{w: w}
}

// Record writes every value in b.
func (e *Exporter) Record(b poller.Batch) {
	for _, r := range b.Values {
		e.w.WriteSignal(b.Device, r.Name, r.Value, b.Time)
	}
}
