package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/plc-monitor/internal/bridges/s7"
	"github.com/nerrad567/plc-monitor/internal/series"
)

// fakeReader returns scripted cycles, repeating the last one.
type fakeReader struct {
	name string

	mu     sync.Mutex
	cycles []s7.Cycle
	calls  int
	block  chan struct{} // when set, ReadAll waits on it
	panicN int           // panic on this call (1-based), 0 = never
}

func (r *fakeReader) Name() string { return r.name }

func (r *fakeReader) ReadAll() s7.Cycle {
	r.mu.Lock()
	r.calls++
	n := r.calls
	block := r.block
	var c s7.Cycle
	if len(r.cycles) > 0 {
		idx := min(n-1, len(r.cycles)-1)
		c = r.cycles[idx]
	}
	panicN := r.panicN
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	if panicN == n {
		panic("reader exploded")
	}
	return c
}

func (r *fakeReader) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func okCycle(values ...float64) s7.Cycle {
	c := s7.Cycle{}
	names := []string{"x", "y", "z"}
	for i, v := range values {
		c.Values = append(c.Values, s7.Reading{Name: names[i], Value: series.Float(v)})
	}
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestNewValidates(t *testing.T) {
	store := series.NewStore(10)
	if _, err := New(nil, store, Config{}); err == nil {
		t.Error("New(nil reader) error = nil")
	}
	if _, err := New(&fakeReader{name: "d"}, nil, Config{}); err == nil {
		t.Error("New(nil store) error = nil")
	}

	s, err := New(&fakeReader{name: "d"}, store, Config{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.Interval() != DefaultInterval {
		t.Errorf("Interval() = %v, want %v", s.Interval(), DefaultInterval)
	}
	if s.State() != StateIdle {
		t.Errorf("State() = %v, want idle", s.State())
	}
}

func TestSchedulerAppendsWithSharedTimestamp(t *testing.T) {
	store := series.NewStore(10)
	reader := &fakeReader{name: "dev1", cycles: []s7.Cycle{okCycle(1, 2)}}

	var (
		mu      sync.Mutex
		batches []Batch
	)
	sink := SinkFunc(func(b Batch) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})

	s, err := New(reader, store, Config{Interval: time.Hour, Sinks: []Sink{sink}})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer s.Stop(time.Second)

	waitFor(t, func() bool { return s.Cycles() == 1 })

	snap := store.Snapshot([]string{"dev1.x", "dev1.y"})
	if len(snap["dev1.x"]) != 1 || len(snap["dev1.y"]) != 1 {
		t.Fatalf("Snapshot() = %v, want one sample per key", snap)
	}
	if !snap["dev1.x"][0].Time.Equal(snap["dev1.y"][0].Time) {
		t.Error("values of one cycle have different timestamps")
	}
	if snap["dev1.y"][0].Value.Float64() != 2 {
		t.Errorf("dev1.y = %v, want 2", snap["dev1.y"][0].Value)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 || batches[0].Device != "dev1" || len(batches[0].Values) != 2 {
		t.Errorf("batches = %+v, want one batch of 2 values from dev1", batches)
	}
	if !batches[0].Time.Equal(snap["dev1.x"][0].Time) {
		t.Error("batch time differs from stored sample time")
	}
}

func TestSchedulerKeepsRunningAfterFailures(t *testing.T) {
	store := series.NewStore(10)
	failed := s7.Cycle{
		Values:  []s7.Reading{},
		Failure: &s7.Failure{Kind: s7.ConnectionFailure, Err: errors.New("timeout")},
	}
	partial := s7.Cycle{
		Values:  []s7.Reading{{Name: "x", Value: series.Float(5)}},
		Failure: &s7.Failure{Kind: s7.ReadFailure, Signal: "y", Err: errors.New("PDU error")},
	}
	reader := &fakeReader{name: "dev1", cycles: []s7.Cycle{failed, partial, okCycle(6, 7)}}

	s, err := New(reader, store, Config{Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, func() bool { return reader.callCount() >= 3 })
	if !s.Stop(time.Second) {
		t.Fatal("Stop() = false, want true")
	}

	x := store.Snapshot([]string{"dev1.x"})["dev1.x"]
	if len(x) < 2 || x[0].Value.Float64() != 5 || x[1].Value.Float64() != 6 {
		t.Errorf("dev1.x history = %v, want [5, 6, ...]", x)
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	store := series.NewStore(10)
	reader := &fakeReader{name: "dev1", cycles: []s7.Cycle{okCycle(1)}, panicN: 1}

	s, err := New(reader, store, Config{Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, func() bool { return reader.callCount() >= 2 })
	s.Stop(time.Second)

	if s.Panics() != 1 {
		t.Errorf("Panics() = %d, want 1", s.Panics())
	}
	if len(store.Snapshot([]string{"dev1.x"})["dev1.x"]) == 0 {
		t.Error("no samples after recovered panic")
	}
}

func TestSchedulerStopInterruptsWait(t *testing.T) {
	reader := &fakeReader{name: "dev1", cycles: []s7.Cycle{okCycle(1)}}
	s, err := New(reader, series.NewStore(10), Config{Interval: time.Hour})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, func() bool { return s.Cycles() == 1 })

	if !s.Stop(time.Second) {
		t.Fatal("Stop() = false while waiting out the interval")
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start() after stop error = %v, want ErrAlreadyStarted", err)
	}
}

func TestSchedulerContextCancel(t *testing.T) {
	reader := &fakeReader{name: "dev1", cycles: []s7.Cycle{okCycle(1)}}
	s, err := New(reader, series.NewStore(10), Config{Interval: time.Hour})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	cancel()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after context cancel")
	}
}

func TestSchedulerStopTimesOutOnHungRead(t *testing.T) {
	block := make(chan struct{})
	reader := &fakeReader{name: "dev1", block: block}
	s, err := New(reader, series.NewStore(10), Config{Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	waitFor(t, func() bool { return reader.callCount() == 1 })

	if s.Stop(20 * time.Millisecond) {
		t.Fatal("Stop() = true while read is hung")
	}

	close(block)
	if !s.Wait(time.Second) {
		t.Fatal("loop did not exit once the read returned")
	}
	if reader.callCount() != 1 {
		t.Errorf("calls = %d, want 1 (no cycle after stop)", reader.callCount())
	}
}

func TestStopBeforeStart(t *testing.T) {
	s, err := New(&fakeReader{name: "dev1"}, series.NewStore(10), Config{})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if !s.Stop(0) {
		t.Error("Stop() on idle scheduler = false")
	}
	if s.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", s.State())
	}
}

func TestGroupStopAll(t *testing.T) {
	store := series.NewStore(10)
	block := make(chan struct{})
	defer close(block)

	fast := &fakeReader{name: "fast", cycles: []s7.Cycle{okCycle(1)}}
	hung := &fakeReader{name: "hung", block: block}

	g := NewGroup()
	for _, r := range []*fakeReader{fast, hung} {
		s, err := New(r, store, Config{Interval: time.Millisecond})
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		g.Add(s)
	}

	if err := g.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error: %v", err)
	}
	waitFor(t, func() bool { return fast.callCount() >= 1 && hung.callCount() == 1 })

	stuck := g.StopAll(50 * time.Millisecond)
	if len(stuck) != 1 || stuck[0] != "hung" {
		t.Errorf("StopAll() stuck = %v, want [hung]", stuck)
	}
	if g.Schedulers()[0].State() != StateStopped {
		t.Error("fast scheduler not stopped")
	}
}
