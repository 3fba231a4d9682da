// Package poller runs one fixed-interval sampling loop per device.
//
// Each Scheduler owns a single goroutine that reads every signal of its
// device, appends the values to the shared time-series store under
// "<device>.<signal>" with the cycle start time, forwards the batch to any
// sinks, and then sleeps for the configured interval. The interval is
// measured from the end of one cycle to the start of the next, so the loop
// drifts by the read latency.
//
// Lifecycle:
//
//	Idle ──Start──> Running ──Stop/ctx──> Stopped
//
// Stopped is terminal. A failing read never ends the loop; the device is
// retried on the next cycle.
package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/plc-monitor/internal/bridges/s7"
	"github.com/nerrad567/plc-monitor/internal/series"
)

// DefaultInterval is the polling interval used when none is configured.
const DefaultInterval = time.Second

// ErrAlreadyStarted is returned by Start on a scheduler that is not idle.
var ErrAlreadyStarted = errors.New("poller: scheduler already started")

// Reader reads one cycle from a device.
type Reader interface {
	Name() string
	ReadAll() s7.Cycle
}

// Appender receives every sampled value.
type Appender interface {
	Append(key string, at time.Time, v series.Value)
}

// Batch is the result of one cycle as delivered to sinks.
type Batch struct {
	Device string
	Time   time.Time
	Values []s7.Reading
}

// Sink is notified after each cycle that produced values. Record runs on
// the device's polling goroutine and must not block. Batches are shared
// between sinks and must not be modified.
type Sink interface {
	Record(b Batch)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Batch)

// Record calls f.
func (f SinkFunc) Record(b Batch) { f(b) }

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// State is the scheduler lifecycle state.
type State int32

// Scheduler states.
const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds scheduler settings.
type Config struct {
	// Interval between the end of one cycle and the start of the next.
	// Default: 1 second.
	Interval time.Duration

	// Sinks receive each batch after it has been stored.
	Sinks []Sink

	// Logger is optional.
	Logger Logger
}

// Scheduler polls one device at a fixed interval.
type Scheduler struct {
	reader   Reader
	store    Appender
	interval time.Duration
	sinks    []Sink
	logger   Logger

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	cycles atomic.Uint64
	panics atomic.Uint64

	now func() time.Time
}

// New creates an idle scheduler for reader that writes into store.
func New(reader Reader, store Appender, cfg Config) (*Scheduler, error) {
	if reader == nil {
		return nil, errors.New("poller: reader is required")
	}
	if store == nil {
		return nil, errors.New("poller: store is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Scheduler{
		reader:   reader,
		store:    store,
		interval: interval,
		sinks:    cfg.Sinks,
		logger:   cfg.Logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

// Device returns the polled device name.
func (s *Scheduler) Device() string {
	return s.reader.Name()
}

// Interval returns the polling interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// State returns the lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Cycles returns the number of completed cycles.
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

// Panics returns the number of cycles that ended in a recovered panic.
func (s *Scheduler) Panics() uint64 {
	return s.panics.Load()
}

// Start launches the polling goroutine. The loop ends when ctx is cancelled
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return ErrAlreadyStarted
	}
	go s.run(ctx)
	return nil
}

// RequestStop asks the loop to end without waiting. A scheduler that was
// never started moves straight to Stopped.
func (s *Scheduler) RequestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if s.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		close(s.done)
	}
}

// Wait blocks until the loop has exited or timeout elapses. It returns
// false when the loop is still running, for example inside a hung read.
func (s *Scheduler) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-s.done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

// Stop requests the loop to end and waits up to timeout for it. In-flight
// reads are not interrupted.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.RequestStop()
	return s.Wait(timeout)
}

// Done is closed when the loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer func() {
		s.state.Store(int32(StateStopped))
		close(s.done)
	}()

	s.logInfo("poller started", "device", s.reader.Name(), "interval", s.interval)

	for !s.stopping(ctx) {
		s.cycle()

		timer := time.NewTimer(s.interval)
		select {
		case <-timer.C:
		case <-s.stop:
		case <-ctx.Done():
		}
		timer.Stop()
	}

	s.logInfo("poller stopped", "device", s.reader.Name(), "cycles", s.cycles.Load())
}

func (s *Scheduler) stopping(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// cycle performs one read. A panic in the reader or a sink is logged and
// the loop continues.
func (s *Scheduler) cycle() {
	defer func() {
		if r := recover(); r != nil {
			s.panics.Add(1)
			if s.logger != nil {
				s.logger.Error("poller cycle panicked", "device", s.reader.Name(), "panic", r)
			}
		}
	}()

	start := s.now()
	cycle := s.reader.ReadAll()
	s.cycles.Add(1)

	device := s.reader.Name()
	for _, r := range cycle.Values {
		s.store.Append(series.Key(device, r.Name), start, r.Value)
	}

	if cycle.Failure != nil && s.logger != nil {
		s.logger.Debug("poll cycle incomplete",
			"device", device,
			"values", len(cycle.Values),
			"error", cycle.Failure.Message(),
		)
	}

	if len(cycle.Values) == 0 || len(s.sinks) == 0 {
		return
	}
	b := Batch{Device: device, Time: start, Values: cycle.Values}
	for _, sink := range s.sinks {
		sink.Record(b)
	}
}

func (s *Scheduler) logInfo(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Info(msg, kv...)
	}
}
