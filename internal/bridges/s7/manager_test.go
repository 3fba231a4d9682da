package s7

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/plc-monitor/internal/series"
)

// fakeSession serves reads from a map of DB -> block bytes.
type fakeSession struct {
	mu       sync.Mutex
	blocks   map[int][]byte
	failAt   map[int]error // keyed by read index (0-based)
	reads    int
	alive    bool
	closed   bool
	closeErr error
}

func newFakeSession(blocks map[int][]byte) *fakeSession {
	return &fakeSession{blocks: blocks, failAt: map[int]error{}, alive: true}
}

func (s *fakeSession) ReadBlock(db, offset, length int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.reads
	s.reads++
	if err, ok := s.failAt[idx]; ok {
		s.alive = false
		return nil, err
	}
	block, ok := s.blocks[db]
	if !ok || offset+length > len(block) {
		return nil, errors.New("address out of range")
	}
	out := make([]byte, length)
	copy(out, block[offset:offset+length])
	return out, nil
}

func (s *fakeSession) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive && !s.closed
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.closeErr
}

func (s *fakeSession) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// fakeDialer hands out sessions from a queue; errs take priority in order.
type fakeDialer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	errs     []error
	dials    int
}

func (d *fakeDialer) Dial(string, int, int) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(d.sessions) == 0 {
		return nil, errors.New("no route to host")
	}
	s := d.sessions[0]
	if len(d.sessions) > 1 {
		d.sessions = d.sessions[1:]
	}
	return s, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func realBytes(values ...float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.BigEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// fiveSignalDevice reads five REAL values from DB1 offsets 0..16.
func fiveSignalDevice() Device {
	dev := Device{Name: "dev1", Address: "10.0.0.1", Rack: 0, Slot: 1}
	for i, name := range []string{"a", "b", "c", "d", "e"} {
		dev.Signals = append(dev.Signals, Signal{Name: name, DB: 1, Offset: 4 * i, Length: 4, Type: Real32})
	}
	return dev
}

func newTestManager(t *testing.T, dev Device, d Dialer) *Manager {
	t.Helper()
	m, err := NewManager(dev, d)
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return m
}

func TestNewManagerValidates(t *testing.T) {
	tests := []struct {
		name   string
		dev    Device
		dialer Dialer
	}{
		{"nil dialer", fiveSignalDevice(), nil},
		{"missing address", Device{Name: "dev"}, &fakeDialer{}},
		{"zero type signal", Device{Name: "dev", Address: "x", Signals: []Signal{{Name: "s", DB: 1, Length: 4}}}, &fakeDialer{}},
		{"duplicate signals", Device{Name: "dev", Address: "x", Signals: []Signal{
			{Name: "s", DB: 1, Length: 4, Type: Real32},
			{Name: "s", DB: 1, Offset: 4, Length: 4, Type: Real32},
		}}, &fakeDialer{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.dev, tt.dialer)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("NewManager() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestEnsureConnectedIdempotent(t *testing.T) {
	sess := newFakeSession(nil)
	d := &fakeDialer{sessions: []*fakeSession{sess}}
	m := newTestManager(t, fiveSignalDevice(), d)

	if !m.EnsureConnected() {
		t.Fatal("first EnsureConnected() = false, want true")
	}
	if !m.EnsureConnected() {
		t.Fatal("second EnsureConnected() = false, want true")
	}
	if got := d.dialCount(); got != 1 {
		t.Errorf("dial count = %d, want 1", got)
	}

	st := m.State()
	if !st.Connected || st.LastError != "" {
		t.Errorf("State() = %+v, want connected without error", st)
	}
}

func TestEnsureConnectedFailure(t *testing.T) {
	d := &fakeDialer{errs: []error{errors.New("timeout")}}
	m := newTestManager(t, fiveSignalDevice(), d)

	if m.EnsureConnected() {
		t.Fatal("EnsureConnected() = true, want false")
	}
	st := m.State()
	if st.Connected {
		t.Error("State().Connected = true, want false")
	}
	if st.LastError != "Connection error: timeout" {
		t.Errorf("State().LastError = %q, want %q", st.LastError, "Connection error: timeout")
	}
}

func TestEnsureConnectedNotAlive(t *testing.T) {
	sess := newFakeSession(nil)
	sess.alive = false
	d := &fakeDialer{sessions: []*fakeSession{sess}}
	m := newTestManager(t, fiveSignalDevice(), d)

	if m.EnsureConnected() {
		t.Fatal("EnsureConnected() = true, want false")
	}
	if got := m.State().LastError; got != "Unknown connection issue" {
		t.Errorf("State().LastError = %q, want %q", got, "Unknown connection issue")
	}
	if !sess.closed {
		t.Error("dead session was not closed")
	}
}

func TestReadAll(t *testing.T) {
	sess := newFakeSession(map[int][]byte{1: realBytes(1, 2, 3, 4, 5)})
	d := &fakeDialer{sessions: []*fakeSession{sess}}
	m := newTestManager(t, fiveSignalDevice(), d)

	cycle := m.ReadAll()
	if !cycle.OK() {
		t.Fatalf("ReadAll() failure: %v", cycle.Failure)
	}
	if len(cycle.Values) != 5 {
		t.Fatalf("len(Values) = %d, want 5", len(cycle.Values))
	}
	for i, r := range cycle.Values {
		if want := float64(i + 1); r.Value.Float64() != want {
			t.Errorf("Values[%d] = %s=%v, want %v", i, r.Name, r.Value, want)
		}
	}
	if got := cycle.Map()["c"].Float64(); got != 3 {
		t.Errorf("Map()[c] = %v, want 3", got)
	}
	if st := m.Stats(); st.Cycles != 1 || st.Failures != 0 || st.Connects != 1 {
		t.Errorf("Stats() = %+v, want 1 cycle, 0 failures, 1 connect", st)
	}
}

func TestReadAllFailsFastOnThirdSignal(t *testing.T) {
	sess := newFakeSession(map[int][]byte{1: realBytes(1, 2, 3, 4, 5)})
	sess.failAt[2] = errors.New("PDU error")
	d := &fakeDialer{sessions: []*fakeSession{sess}}
	m := newTestManager(t, fiveSignalDevice(), d)

	cycle := m.ReadAll()

	if cycle.OK() {
		t.Fatal("ReadAll() succeeded, want failure")
	}
	got := cycle.Map()
	if len(got) != 2 {
		t.Fatalf("len(values) = %d, want 2 (a, b)", len(got))
	}
	if got["a"].Float64() != 1 || got["b"].Float64() != 2 {
		t.Errorf("values = %v, want a=1 b=2", got)
	}
	if sess.readCount() != 3 {
		t.Errorf("reads = %d, want 3 (no reads after failure)", sess.readCount())
	}

	f := cycle.Failure
	if f.Kind != ReadFailure || f.Signal != "c" {
		t.Errorf("Failure = %+v, want read failure on c", f)
	}
	if !errors.Is(f, ErrReadFailed) {
		t.Error("errors.Is(Failure, ErrReadFailed) = false")
	}

	st := m.State()
	if st.Connected {
		t.Error("State().Connected = true after read failure")
	}
	if st.LastError != "Read error for c: PDU error" {
		t.Errorf("State().LastError = %q", st.LastError)
	}
	if !sess.closed {
		t.Error("session not closed after read failure")
	}
}

// debugLogger records Debug messages and ignores the rest.
type debugLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *debugLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprint(append([]any{msg}, keysAndValues...)...))
}
func (l *debugLogger) Info(string, ...any)  {}
func (l *debugLogger) Warn(string, ...any)  {}
func (l *debugLogger) Error(string, ...any) {}

func TestReadAllLogsCloseError(t *testing.T) {
	sess := newFakeSession(map[int][]byte{1: realBytes(1, 2, 3, 4, 5)})
	sess.failAt[0] = errors.New("connection reset")
	sess.closeErr = errors.New("socket already closed")
	m := newTestManager(t, fiveSignalDevice(), &fakeDialer{sessions: []*fakeSession{sess}})
	logger := &debugLogger{}
	m.SetLogger(logger)

	if cycle := m.ReadAll(); cycle.OK() {
		t.Fatal("ReadAll() succeeded, want failure")
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.msgs) != 1 || !strings.Contains(logger.msgs[0], "socket already closed") {
		t.Errorf("debug messages = %q, want the close error", logger.msgs)
	}
}

func TestReadAllDecodeFailure(t *testing.T) {
	dev := Device{Name: "dev1", Address: "x", Signals: []Signal{
		{Name: "ok", DB: 1, Length: 4, Type: Real32},
		{Name: "bad", DB: 1, Offset: 4, Length: 2, Type: Custom("wide", 2, nil)},
	}}
	// Custom with a nil decoder is rejected up front.
	if _, err := NewManager(dev, &fakeDialer{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("NewManager() error = %v, want ErrInvalidConfig", err)
	}

	dev.Signals[1].Type = Custom("wide", 2, func([]byte) (series.Value, error) {
		panic("boom")
	})
	sess := newFakeSession(map[int][]byte{1: realBytes(7, 0)})
	m := newTestManager(t, dev, &fakeDialer{sessions: []*fakeSession{sess}})

	cycle := m.ReadAll()
	if cycle.OK() {
		t.Fatal("ReadAll() succeeded, want decode failure")
	}
	if len(cycle.Values) != 1 || cycle.Values[0].Name != "ok" {
		t.Errorf("Values = %+v, want only ok", cycle.Values)
	}
	if !errors.Is(cycle.Failure, ErrDecodeFailed) {
		t.Errorf("Failure = %v, want ErrDecodeFailed", cycle.Failure)
	}
	if !strings.HasPrefix(m.State().LastError, "Read error for bad: ") {
		t.Errorf("LastError = %q", m.State().LastError)
	}
}

func TestReadAllConnectionFailure(t *testing.T) {
	d := &fakeDialer{errs: []error{errors.New("connection refused")}}
	m := newTestManager(t, fiveSignalDevice(), d)

	cycle := m.ReadAll()
	if len(cycle.Values) != 0 {
		t.Errorf("len(Values) = %d, want 0", len(cycle.Values))
	}
	if cycle.Failure == nil || cycle.Failure.Kind != ConnectionFailure {
		t.Fatalf("Failure = %v, want connection failure", cycle.Failure)
	}
	if !errors.Is(cycle.Failure, ErrConnectionFailed) {
		t.Error("errors.Is(Failure, ErrConnectionFailed) = false")
	}
	if m.Stats().Failures != 1 {
		t.Errorf("Stats().Failures = %d, want 1", m.Stats().Failures)
	}
}

func TestReadAllReconnectsNextCycle(t *testing.T) {
	first := newFakeSession(map[int][]byte{1: realBytes(1, 2, 3, 4, 5)})
	first.failAt[0] = errors.New("reset by peer")
	second := newFakeSession(map[int][]byte{1: realBytes(1, 2, 3, 4, 5)})
	d := &fakeDialer{sessions: []*fakeSession{first, second}}
	m := newTestManager(t, fiveSignalDevice(), d)

	if cycle := m.ReadAll(); cycle.OK() {
		t.Fatal("first cycle succeeded, want failure")
	}
	cycle := m.ReadAll()
	if !cycle.OK() {
		t.Fatalf("second cycle failed: %v", cycle.Failure)
	}
	if d.dialCount() != 2 {
		t.Errorf("dial count = %d, want 2", d.dialCount())
	}
	if st := m.State(); !st.Connected || st.LastError != "" {
		t.Errorf("State() = %+v, want connected", st)
	}
}

func TestStateChangeNotifications(t *testing.T) {
	sess := newFakeSession(map[int][]byte{1: realBytes(1, 2, 3, 4, 5)})
	d := &fakeDialer{
		errs:     []error{errors.New("timeout"), errors.New("timeout"), nil},
		sessions: []*fakeSession{sess},
	}
	m := newTestManager(t, fiveSignalDevice(), d)

	var got []Transition
	m.SetOnStateChange(func(tr Transition) {
		// Callbacks run outside locks; State must not deadlock.
		_ = m.State()
		got = append(got, tr)
	})

	m.ReadAll() // fails: error appears
	m.ReadAll() // fails again: no new transition
	m.ReadAll() // connects
	_ = m.Close()

	if len(got) != 3 {
		t.Fatalf("transitions = %+v, want 3", got)
	}
	if got[0].Connected || got[0].Message != "Connection error: timeout" {
		t.Errorf("transition[0] = %+v", got[0])
	}
	if !got[1].Connected || got[1].Message != "" {
		t.Errorf("transition[1] = %+v", got[1])
	}
	if got[2].Connected || got[2].Device != "dev1" {
		t.Errorf("transition[2] = %+v", got[2])
	}
}

func TestCloseStopsDialling(t *testing.T) {
	sess := newFakeSession(map[int][]byte{1: realBytes(1, 2, 3, 4, 5)})
	d := &fakeDialer{sessions: []*fakeSession{sess}}
	m := newTestManager(t, fiveSignalDevice(), d)

	if !m.EnsureConnected() {
		t.Fatal("EnsureConnected() = false")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
	if !sess.closed {
		t.Error("session not closed")
	}

	cycle := m.ReadAll()
	if !errors.Is(cycle.Failure, ErrSessionClosed) {
		t.Errorf("ReadAll() after Close failure = %v, want ErrSessionClosed", cycle.Failure)
	}
	if d.dialCount() != 1 {
		t.Errorf("dial count = %d, want 1", d.dialCount())
	}
	if m.State().Connected {
		t.Error("State().Connected = true after Close")
	}
}

func TestStateDoesNotBlockOnDial(t *testing.T) {
	release := make(chan struct{})
	dialing := make(chan struct{})
	d := DialerFunc(func(string, int, int) (Session, error) {
		close(dialing)
		<-release
		return nil, errors.New("timeout")
	})
	m := newTestManager(t, fiveSignalDevice(), d)

	done := make(chan struct{})
	go func() {
		m.ReadAll()
		close(done)
	}()

	<-dialing
	stateRead := make(chan ConnectionState, 1)
	go func() { stateRead <- m.State() }()

	select {
	case <-stateRead:
	case <-time.After(time.Second):
		t.Fatal("State() blocked while dial was in flight")
	}

	close(release)
	<-done
}
