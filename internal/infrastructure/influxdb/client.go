package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/plc-monitor/internal/infrastructure/config"
	"github.com/nerrad567/plc-monitor/internal/series"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// Used when the configured values are not positive.
	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Point layout for exported signal values.
const (
	MeasurementSignal = "plc_signal"
	TagDevice         = "device"
	TagSignal         = "signal"
	FieldValue        = "value"
)

// WriteStats holds export counters.
type WriteStats struct {
	// Written counts points handed to the write API.
	Written uint64 `json:"written"`

	// Skipped counts NaN and infinite values, which line protocol cannot carry.
	Skipped uint64 `json:"skipped"`

	// Failed counts asynchronous batch errors.
	Failed uint64 `json:"failed"`
}

// Client exports signal values to one InfluxDB bucket.
//
// Writes go through the non-blocking batched write API, so WriteSignal
// never waits on the network. Safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	mu        sync.RWMutex
	connected bool
	onError   func(err error)

	written atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// Connect pings the server and opens the write API for cfg.Org and
// cfg.Bucket. It returns ErrDisabled when export is switched off.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := uint(defaultBatchSize)
	if cfg.BatchSize > 0 {
		batchSize = uint(cfg.BatchSize)
	}
	flushInterval := defaultFlushInterval
	if cfg.FlushInterval > 0 {
		flushInterval = time.Duration(cfg.FlushInterval) * time.Second
	}

	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(uint(flushInterval.Milliseconds())),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:    client,
		writeAPI:  client.WriteAPI(cfg.Org, cfg.Bucket),
		connected: true,
	}
	go c.handleWriteErrors(c.writeAPI.Errors())

	return c, nil
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.failed.Add(1)

		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()
		if callback != nil {
			callback(err)
		}
	}
}

// SignalPoint builds the point for one signal value.
//
// Booleans are written as boolean fields; integers and floats are written
// as float fields so every numeric signal shares one field type.
func SignalPoint(device, signal string, v series.Value, at time.Time) *write.Point {
	var field any
	if v.Kind() == series.KindBool {
		field = v.Bool()
	} else {
		field = v.Float64()
	}

	return write.NewPoint(
		MeasurementSignal,
		map[string]string{TagDevice: device, TagSignal: signal},
		map[string]any{FieldValue: field},
		at,
	)
}

// WriteSignal queues one signal value stamped with at. Values that are not
// finite are counted as skipped, and writes after Close are discarded.
//
//	client.WriteSignal("plc_1500", "thermo_1", series.Float(21.5), cycleStart)
func (c *Client) WriteSignal(device, signal string, v series.Value, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if !v.IsFinite() {
		c.skipped.Add(1)
		return
	}
	c.writeAPI.WritePoint(SignalPoint(device, signal, v, at))
	c.written.Add(1)
}

// Stats returns the export counters.
func (c *Client) Stats() WriteStats {
	return WriteStats{
		Written: c.written.Load(),
		Skipped: c.skipped.Load(),
		Failed:  c.failed.Load(),
	}
}

// Close flushes pending writes and closes the underlying client.
// Closing a nil client is not an error.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client is open. It does not ping; use
// HealthCheck for that.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets the callback for asynchronous batch write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if c.writeAPI == nil || !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}
