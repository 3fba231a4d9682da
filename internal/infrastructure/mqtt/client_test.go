package mqtt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nerrad567/plc-monitor/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "plcmonitor-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"SignalState", Topics{}.SignalState(ProtocolS7, "plc_1500", "thermo_1"), "plcmonitor/state/s7/plc_1500/thermo_1"},
		{"DeviceHealth", Topics{}.DeviceHealth(ProtocolS7, "plc_et200sp"), "plcmonitor/health/s7/plc_et200sp"},
		{"SystemStatus", Topics{}.SystemStatus(), "plcmonitor/system/status"},
		{"AllSignalStates", Topics{}.AllSignalStates(), "plcmonitor/state/#"},
		{"AllDeviceHealth", Topics{}.AllDeviceHealth(), "plcmonitor/health/+/+"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "monitor"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want tcp://127.0.0.1:1883", opts.Servers)
	}
	if opts.ClientID != "plcmonitor-test" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "monitor" || opts.Password != "secret" {
		t.Errorf("credentials not applied: %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}
	if opts.TLSConfig != nil {
		t.Error("TLSConfig set without broker.tls")
	}

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	opts = buildClientOptions(cfg)
	if opts.Servers[0].String() != "ssl://127.0.0.1:8883" {
		t.Errorf("TLS server = %v", opts.Servers[0])
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config missing or below minimum version")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "plcmonitor-test")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("LWT should be enabled and retained")
	}
	if opts.WillTopic != "plcmonitor/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	payload := string(opts.WillPayload)
	if !strings.Contains(payload, `"status":"offline"`) || !strings.Contains(payload, reasonUnexpected) {
		t.Errorf("WillPayload = %s", payload)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	online := buildStatusPayload("online", "c1", "")
	if strings.Contains(online, "reason") || !strings.Contains(online, `"client_id":"c1"`) {
		t.Errorf("online payload = %s", online)
	}
	offline := buildStatusPayload("offline", "c1", reasonShutdown)
	if !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload = %s", offline)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig()}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "plcmonitor/x", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "plcmonitor/x", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"not connected", "plcmonitor/x", []byte("x"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCloseNil(t *testing.T) {
	var c *Client
	if err := c.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("unconnected Close() error = %v", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := &Client{cfg: testConfig()}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestQoS(t *testing.T) {
	cfg := testConfig()
	cfg.QoS = 2
	if got := (&Client{cfg: cfg}).QoS(); got != 2 {
		t.Errorf("QoS() = %d, want 2", got)
	}
}
