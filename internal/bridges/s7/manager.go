package s7

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/plc-monitor/internal/series"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Device is the static description of one PLC and the signals sampled from it.
type Device struct {
	Name    string
	Address string
	Rack    int
	Slot    int

	// PollInterval overrides the global polling interval when non-zero.
	PollInterval time.Duration

	// Signals are read in this order every cycle.
	Signals []Signal
}

// Validate checks the device and all of its signals.
func (d Device) Validate() error {
	var errs []string

	if d.Name == "" {
		errs = append(errs, "name is required")
	} else if strings.Contains(d.Name, ".") {
		errs = append(errs, fmt.Sprintf("name %q must not contain '.'", d.Name))
	}
	if d.Address == "" {
		errs = append(errs, "address is required")
	}
	if d.Rack < 0 {
		errs = append(errs, fmt.Sprintf("rack must be >= 0, got %d", d.Rack))
	}
	if d.Slot < 0 {
		errs = append(errs, fmt.Sprintf("slot must be >= 0, got %d", d.Slot))
	}
	if d.PollInterval < 0 {
		errs = append(errs, "poll_interval must not be negative")
	}

	seen := make(map[string]bool, len(d.Signals))
	for _, sig := range d.Signals {
		if problems := sig.problems(); len(problems) > 0 {
			errs = append(errs, fmt.Sprintf("signal %q: %s", sig.Name, strings.Join(problems, ", ")))
		}
		if sig.Name != "" && seen[sig.Name] {
			errs = append(errs, fmt.Sprintf("duplicate signal name %q", sig.Name))
		}
		seen[sig.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: device %q: %s", ErrInvalidConfig, d.Name, strings.Join(errs, "; "))
	}
	return nil
}

// ConnectionState is the externally visible link status of a device.
// Disconnected with a non-empty LastError is the error state.
type ConnectionState struct {
	Connected bool      `json:"connected"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

// Transition is a change of ConnectionState reported to the state change
// callback.
type Transition struct {
	Device    string
	Connected bool
	Message   string
	At        time.Time
}

// ManagerStats holds operational counters for one device.
type ManagerStats struct {
	Cycles            uint64        `json:"cycles"`
	Failures          uint64        `json:"failures"`
	ConnectAttempts   uint64        `json:"connect_attempts"`
	Connects          uint64        `json:"connects"`
	LastCycle         time.Time     `json:"last_cycle"`
	LastCycleDuration time.Duration `json:"last_cycle_duration_ns"`
}

// Reading is one decoded signal value.
type Reading struct {
	Name  string
	Value series.Value
}

// Cycle is the result of one ReadAll: the values read in declaration order
// and, when the cycle stopped early, why.
type Cycle struct {
	Values  []Reading
	Failure *Failure
}

// OK reports whether every signal was read.
func (c Cycle) OK() bool {
	return c.Failure == nil
}

// Map returns the values keyed by signal name.
func (c Cycle) Map() map[string]series.Value {
	m := make(map[string]series.Value, len(c.Values))
	for _, r := range c.Values {
		m[r.Name] = r.Value
	}
	return m
}

// Manager owns the session to one PLC and reads its signals.
//
// Reconnection is implicit: every ReadAll first ensures a live session and
// dials again when needed. There is no backoff; a failed dial is retried on
// the next cycle.
//
// Thread Safety: All methods are safe for concurrent use. I/O is serialised;
// State and Stats never wait on I/O.
type Manager struct {
	device Device
	dialer Dialer

	// ioMu serialises EnsureConnected and ReadAll.
	ioMu sync.Mutex

	sessMu  sync.Mutex
	session Session

	stateMu sync.RWMutex
	state   ConnectionState

	closed atomic.Bool

	cycles          atomic.Uint64
	failures        atomic.Uint64
	connectAttempts atomic.Uint64
	connects        atomic.Uint64
	lastCycle       atomic.Int64 // unix nanos
	lastDuration    atomic.Int64

	cbMu     sync.RWMutex
	onChange func(Transition)
	logger   Logger

	now func() time.Time
}

// NewManager creates a manager for dev. The device is validated; no
// connection is attempted until the first EnsureConnected or ReadAll.
func NewManager(dev Device, dialer Dialer) (*Manager, error) {
	if dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", ErrInvalidConfig)
	}
	if err := dev.Validate(); err != nil {
		return nil, err
	}

	signals := make([]Signal, len(dev.Signals))
	copy(signals, dev.Signals)
	dev.Signals = signals

	m := &Manager{
		device: dev,
		dialer: dialer,
		now:    time.Now,
	}
	m.state = ConnectionState{Since: m.now()}
	return m, nil
}

// SetLogger sets the logger for connection and read events.
func (m *Manager) SetLogger(logger Logger) {
	m.cbMu.Lock()
	m.logger = logger
	m.cbMu.Unlock()
}

// SetOnStateChange registers fn to be called after every transition between
// connected and disconnected. fn runs on the polling goroutine, outside the
// manager's locks, and must not block for long.
func (m *Manager) SetOnStateChange(fn func(Transition)) {
	m.cbMu.Lock()
	m.onChange = fn
	m.cbMu.Unlock()
}

// Name returns the device name.
func (m *Manager) Name() string {
	return m.device.Name
}

// Address returns the device address.
func (m *Manager) Address() string {
	return m.device.Address
}

// PollInterval returns the device's interval override (zero when unset).
func (m *Manager) PollInterval() time.Duration {
	return m.device.PollInterval
}

// Signals returns a copy of the signal list in read order.
func (m *Manager) Signals() []Signal {
	out := make([]Signal, len(m.device.Signals))
	copy(out, m.device.Signals)
	return out
}

// State returns the current connection state.
func (m *Manager) State() ConnectionState {
	m.stateMu.RLock()
	defer m.stateMu.RUnlock()
	return m.state
}

// Stats returns the manager counters.
func (m *Manager) Stats() ManagerStats {
	stats := ManagerStats{
		Cycles:            m.cycles.Load(),
		Failures:          m.failures.Load(),
		ConnectAttempts:   m.connectAttempts.Load(),
		Connects:          m.connects.Load(),
		LastCycleDuration: time.Duration(m.lastDuration.Load()),
	}
	if ns := m.lastCycle.Load(); ns != 0 {
		stats.LastCycle = time.Unix(0, ns)
	}
	return stats
}

// EnsureConnected returns true when a live session exists, dialling a new
// one if needed. A connected manager with an alive session performs no I/O.
func (m *Manager) EnsureConnected() bool {
	m.ioMu.Lock()
	f, trs := m.ensureConnected()
	m.ioMu.Unlock()

	m.fire(trs)
	return f == nil
}

// ReadAll reads every signal in declaration order. It stops at the first
// failure, drops the session, and returns the values read so far together
// with the failure.
func (m *Manager) ReadAll() Cycle {
	start := m.now()

	m.ioMu.Lock()
	cycle, trs := m.readAll()
	m.ioMu.Unlock()

	m.cycles.Add(1)
	m.lastCycle.Store(start.UnixNano())
	m.lastDuration.Store(int64(m.now().Sub(start)))
	if cycle.Failure != nil {
		m.failures.Add(1)
	}

	m.fire(trs)
	return cycle
}

// Close drops the session. Later calls to EnsureConnected and ReadAll fail
// without dialling.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	err := m.dropSession()
	m.fire(m.setState(nil, false, ""))
	return err
}

func (m *Manager) ensureConnected() (*Failure, []Transition) {
	if m.closed.Load() {
		return &Failure{Kind: ConnectionFailure, Err: ErrSessionClosed}, nil
	}

	m.sessMu.Lock()
	sess := m.session
	m.sessMu.Unlock()

	if sess != nil && sess.Alive() && m.State().Connected {
		return nil, nil
	}
	if sess != nil {
		m.discardSession("session not alive")
	}

	m.connectAttempts.Add(1)
	sess, err := m.dialer.Dial(m.device.Address, m.device.Rack, m.device.Slot)
	if err == nil && (sess == nil || !sess.Alive()) {
		if sess != nil {
			m.closeUnused(sess, "dialled session not alive")
		}
		err = ErrSessionNotAlive
	}
	if err != nil {
		f := &Failure{Kind: ConnectionFailure, Err: err}
		m.log().Warn("s7 connection failed",
			"device", m.device.Name,
			"address", m.device.Address,
			"error", err,
		)
		return f, m.setState(nil, false, f.Message())
	}

	m.sessMu.Lock()
	if m.closed.Load() {
		m.sessMu.Unlock()
		m.closeUnused(sess, "manager closed during dial")
		return &Failure{Kind: ConnectionFailure, Err: ErrSessionClosed}, nil
	}
	m.session = sess
	m.sessMu.Unlock()

	m.connects.Add(1)
	m.log().Info("s7 connected",
		"device", m.device.Name,
		"address", m.device.Address,
		"rack", m.device.Rack,
		"slot", m.device.Slot,
	)
	return nil, m.setState(nil, true, "")
}

func (m *Manager) readAll() (Cycle, []Transition) {
	f, trs := m.ensureConnected()
	if f != nil {
		return Cycle{Values: []Reading{}, Failure: f}, trs
	}

	m.sessMu.Lock()
	sess := m.session
	m.sessMu.Unlock()
	if sess == nil {
		// Closed between connect and read.
		return Cycle{Values: []Reading{}, Failure: &Failure{Kind: ConnectionFailure, Err: ErrSessionClosed}}, trs
	}

	values := make([]Reading, 0, len(m.device.Signals))
	for _, sig := range m.device.Signals {
		v, f := m.readSignal(sess, sig)
		if f != nil {
			m.log().Warn("s7 read failed",
				"device", m.device.Name,
				"signal", sig.Name,
				"kind", f.Kind.String(),
				"error", f.Err,
			)
			m.discardSession("read failure")
			return Cycle{Values: values, Failure: f}, m.setState(trs, false, f.Message())
		}
		values = append(values, Reading{Name: sig.Name, Value: v})
	}

	return Cycle{Values: values}, trs
}

func (m *Manager) readSignal(sess Session, sig Signal) (series.Value, *Failure) {
	if !sig.Type.valid() {
		return series.Value{}, &Failure{
			Kind:   ConfigurationFailure,
			Signal: sig.Name,
			Err:    fmt.Errorf("%w: %q", ErrUnsupportedType, sig.Type),
		}
	}

	raw, err := sess.ReadBlock(sig.DB, sig.Offset, sig.Length)
	if err != nil {
		return series.Value{}, &Failure{Kind: ReadFailure, Signal: sig.Name, Err: err}
	}

	v, err := sig.Decode(raw)
	if err != nil {
		kind := ReadFailure
		if errors.Is(err, ErrUnsupportedType) {
			kind = ConfigurationFailure
		}
		return series.Value{}, &Failure{Kind: kind, Signal: sig.Name, Err: err}
	}
	return v, nil
}

// discardSession drops the current session after a failure. The link is
// already unusable, so a close error is only logged.
func (m *Manager) discardSession(reason string) {
	if err := m.dropSession(); err != nil {
		m.log().Debug("s7 session close failed", "device", m.device.Name, "reason", reason, "error", err)
	}
}

// closeUnused closes a session that was never installed.
func (m *Manager) closeUnused(sess Session, reason string) {
	if err := sess.Close(); err != nil {
		m.log().Debug("s7 session close failed", "device", m.device.Name, "reason", reason, "error", err)
	}
}

func (m *Manager) dropSession() error {
	m.sessMu.Lock()
	sess := m.session
	m.session = nil
	m.sessMu.Unlock()

	if sess == nil {
		return nil
	}
	return sess.Close()
}

// setState records a new state and appends the transition to report to trs.
// A transition is reported when the connected flag flips or an error first
// appears on a disconnected device.
func (m *Manager) setState(trs []Transition, connected bool, lastError string) []Transition {
	now := m.now()

	m.stateMu.Lock()
	prev := m.state
	next := ConnectionState{Connected: connected, LastError: lastError, Since: prev.Since}
	flipped := prev.Connected != connected
	if flipped {
		next.Since = now
	}
	m.state = next
	m.stateMu.Unlock()

	if !flipped && (prev.LastError != "" || lastError == "") {
		return trs
	}
	return append(trs, Transition{
		Device:    m.device.Name,
		Connected: connected,
		Message:   lastError,
		At:        now,
	})
}

// fire delivers transitions outside every manager lock.
func (m *Manager) fire(trs []Transition) {
	if len(trs) == 0 {
		return
	}
	m.cbMu.RLock()
	fn := m.onChange
	m.cbMu.RUnlock()

	if fn == nil {
		return
	}
	for _, tr := range trs {
		fn(tr)
	}
}

func (m *Manager) log() Logger {
	m.cbMu.RLock()
	l := m.logger
	m.cbMu.RUnlock()
	if l == nil {
		return nopLogger{}
	}
	return l
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
