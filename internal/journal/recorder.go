package journal

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/plc-monitor/internal/bridges/s7"
)

const (
	// defaultQueueSize is the number of transitions buffered for writing.
	defaultQueueSize = 64

	// writeTimeout bounds each insert.
	writeTimeout = 5 * time.Second
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// EntryFor converts a manager transition into a journal entry.
func EntryFor(tr s7.Transition) Entry {
	e := Entry{Device: tr.Device, Message: tr.Message, CreatedAt: tr.At}
	switch {
	case tr.Connected:
		e.Event = EventConnected
	case tr.Message != "":
		e.Event = EventError
	default:
		e.Event = EventDisconnected
	}
	return e
}

// Recorder writes transitions to a repository from a background goroutine
// so polling loops never wait on SQLite. When the queue is full the
// transition is dropped and counted.
type Recorder struct {
	repo   Repository
	logger Logger

	queue    chan Entry
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex // guards queue sends against close
	closed   bool

	dropped atomic.Uint64
}

// NewRecorder starts a recorder over repo. queueSize <= 0 selects a default.
func NewRecorder(repo Repository, queueSize int, logger Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	r := &Recorder{
		repo:   repo,
		logger: logger,
		queue:  make(chan Entry, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Observe queues tr for writing. It never blocks. Its signature matches
// s7.Manager.SetOnStateChange.
func (r *Recorder) Observe(tr s7.Transition) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- EntryFor(tr):
	default:
		r.dropped.Add(1)
		if r.logger != nil {
			r.logger.Warn("journal queue full, dropping transition", "device", tr.Device)
		}
	}
}

// Dropped returns how many transitions were discarded.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting transitions and waits for queued ones to be
// written or for ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := r.repo.Record(ctx, &e)
		cancel()
		if err != nil && r.logger != nil {
			r.logger.Error("recording connection event", "device", e.Device, "event", e.Event, "error", err)
		}
	}
}
