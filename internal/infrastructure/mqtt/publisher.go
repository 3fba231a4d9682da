package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/plc-monitor/internal/bridges/s7"
	"github.com/nerrad567/plc-monitor/internal/poller"
	"github.com/nerrad567/plc-monitor/internal/series"
)

const defaultPublisherQueue = 256

// Broker is the part of Client the Publisher needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// StatePayload is published on plcmonitor/state/s7/<device>/<signal>.
type StatePayload struct {
	Value     series.Value `json:"value"`
	Timestamp string       `json:"timestamp"`
}

// HealthPayload is published retained on plcmonitor/health/s7/<device>.
type HealthPayload struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// Publisher forwards poll results and connection transitions to a broker
// from a background goroutine. Record and ObserveTransition never block:
// when the queue is full the message is dropped and counted.
type Publisher struct {
	broker Broker
	qos    byte
	logger Logger

	queue    chan message
	done     chan struct{}
	mu       sync.RWMutex // guards queue sends against close
	closed   bool
	stopOnce sync.Once

	healthMu sync.Mutex
	health   map[string]message // last health message per device

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher starts a publisher. queueSize <= 0 selects a default.
func NewPublisher(broker Broker, qos byte, queueSize int, logger Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultPublisherQueue
	}
	p := &Publisher{
		broker: broker,
		qos:    qos,
		logger: logger,
		queue:  make(chan message, queueSize),
		done:   make(chan struct{}),
		health: make(map[string]message),
	}
	go p.run()
	return p
}

// Record publishes one state message per value in b. It implements poller.Sink.
func (p *Publisher) Record(b poller.Batch) {
	ts := b.Time.UTC().Format(time.RFC3339Nano)
	for _, r := range b.Values {
		payload, err := json.Marshal(StatePayload{Value: r.Value, Timestamp: ts})
		if err != nil {
			p.failed.Add(1)
			continue
		}
		p.enqueue(message{
			topic:   Topics{}.SignalState(ProtocolS7, b.Device, r.Name),
			payload: payload,
			qos:     p.qos,
		})
	}
}

// ObserveTransition publishes the retained health of tr.Device. Its
// signature matches s7.Manager.SetOnStateChange.
func (p *Publisher) ObserveTransition(tr s7.Transition) {
	hp := HealthPayload{Status: "offline", Error: tr.Message, Timestamp: tr.At.UTC().Format(time.RFC3339Nano)}
	if tr.Connected {
		hp.Status = "online"
		hp.Error = ""
	}
	payload, err := json.Marshal(hp)
	if err != nil {
		p.failed.Add(1)
		return
	}

	msg := message{
		topic:    Topics{}.DeviceHealth(ProtocolS7, tr.Device),
		payload:  payload,
		qos:      p.qos,
		retained: true,
	}
	p.healthMu.Lock()
	p.health[tr.Device] = msg
	p.healthMu.Unlock()
	p.enqueue(msg)
}

// RepublishHealth queues the last known health of every device again,
// for use after a broker reconnect.
func (p *Publisher) RepublishHealth() {
	p.healthMu.Lock()
	devices := make([]string, 0, len(p.health))
	for d := range p.health {
		devices = append(devices, d)
	}
	sort.Strings(devices)
	msgs := make([]message, 0, len(devices))
	for _, d := range devices {
		msgs = append(msgs, p.health[d])
	}
	p.healthMu.Unlock()

	for _, m := range msgs {
		p.enqueue(m)
	}
}

// PublisherStats holds publish counters.
type PublisherStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// Stats returns the publish counters.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Failed:    p.failed.Load(),
	}
}

// Close stops accepting messages and waits for queued ones to be sent
// or for ctx to expire.
func (p *Publisher) Close(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) enqueue(m message) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.queue <- m:
	default:
		if p.dropped.Add(1) == 1 && p.logger != nil {
			p.logger.Warn("mqtt publish queue full, dropping messages", "topic", m.topic)
		}
	}
}

func (p *Publisher) run() {
	defer close(p.done)

	for m := range p.queue {
		err := p.broker.Publish(m.topic, m.payload, m.qos, m.retained)
		switch {
		case err == nil:
			p.published.Add(1)
		case errors.Is(err, ErrNotConnected):
			// Broker outages are reported by the client's own handlers.
			p.failed.Add(1)
		default:
			p.failed.Add(1)
			if p.logger != nil {
				p.logger.Warn("mqtt publish failed", "topic", m.topic, "error", err)
			}
		}
	}
}
