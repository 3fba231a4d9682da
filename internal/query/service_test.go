package query

import (
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/plc-monitor/internal/bridges/s7"
	"github.com/nerrad567/plc-monitor/internal/series"
)

type fakeDevice struct {
	name    string
	state   s7.ConnectionState
	signals []string
}

func (d fakeDevice) Name() string              { return d.name }
func (d fakeDevice) State() s7.ConnectionState { return d.state }

func (d fakeDevice) Signals() []s7.Signal {
	out := make([]s7.Signal, 0, len(d.signals))
	for _, n := range d.signals {
		out = append(out, s7.Signal{Name: n, DB: 1, Length: 4, Type: s7.Real32})
	}
	return out
}

func TestStatusSummary(t *testing.T) {
	tests := []struct {
		name    string
		devices []Device
		want    string
	}{
		{
			name: "connected and error",
			devices: []Device{
				fakeDevice{name: "dev1", state: s7.ConnectionState{Connected: true}},
				fakeDevice{name: "dev2", state: s7.ConnectionState{LastError: "timeout"}},
			},
			want: "dev1: connected | dev2: timeout",
		},
		{
			name:    "never connected",
			devices: []Device{fakeDevice{name: "plc"}},
			want:    "plc: disconnected",
		},
		{
			name:    "no devices",
			devices: nil,
			want:    "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(series.NewStore(10), tt.devices...)
			if got := svc.StatusSummary(); got != tt.want {
				t.Errorf("StatusSummary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSeries(t *testing.T) {
	store := series.NewStore(10)
	now := time.Unix(1700000000, 0)
	store.Append("A.x", now, series.Float(1))
	store.Append("A.x", now.Add(time.Second), series.Float(2))

	svc := NewService(store)
	got := svc.Series([]string{"A.x", "B.y"})

	if len(got) != 2 {
		t.Fatalf("Series() returned %d keys, want 2", len(got))
	}
	if len(got["A.x"]) != 2 || got["A.x"][1].Value.Float64() != 2 {
		t.Errorf("A.x = %v, want two samples ending in 2", got["A.x"])
	}
	if by, ok := got["B.y"]; !ok || by == nil || len(by) != 0 {
		t.Errorf("B.y = %#v, want empty non-nil slice", by)
	}

	empty := svc.Series(nil)
	if empty == nil || len(empty) != 0 {
		t.Errorf("Series(nil) = %#v, want empty map", empty)
	}
}

func TestHealthAndSignals(t *testing.T) {
	svc := NewService(series.NewStore(10),
		fakeDevice{name: "plc_1500", state: s7.ConnectionState{Connected: true}, signals: []string{"thermo_1", "thermo_2"}},
		fakeDevice{name: "plc_et200sp", signals: []string{"pid_kp"}},
	)

	wantHealth := map[string]bool{"plc_1500": true, "plc_et200sp": false}
	if got := svc.Health(); !reflect.DeepEqual(got, wantHealth) {
		t.Errorf("Health() = %v, want %v", got, wantHealth)
	}

	wantKeys := []string{"plc_1500.thermo_1", "plc_1500.thermo_2", "plc_et200sp.pid_kp"}
	if got := svc.Signals(); !reflect.DeepEqual(got, wantKeys) {
		t.Errorf("Signals() = %v, want %v", got, wantKeys)
	}

	if got := svc.Devices(); !reflect.DeepEqual(got, []string{"plc_1500", "plc_et200sp"}) {
		t.Errorf("Devices() = %v", got)
	}
}

func TestParseKeys(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"A.x", []string{"A.x"}},
		{"A.x,B.y", []string{"A.x", "B.y"}},
		{" A.x , ,B.y,", []string{"A.x", "B.y"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ParseKeys(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseKeys(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
