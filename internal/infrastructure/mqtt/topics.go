package mqtt

import "fmt"

// Topic prefixes for the monitor's MQTT hierarchy.
//
// Per-signal and per-device topics use the flat scheme
// plcmonitor/{category}/{protocol}/{device}[/{signal}].
const (
	// TopicPrefix is the base for all monitor topics.
	TopicPrefix = "plcmonitor"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "plcmonitor/system"

	// ProtocolS7 is the protocol segment for S7 devices.
	ProtocolS7 = "s7"
)

// Topics provides builders for monitor MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.SignalState("s7", "plc_1500", "thermo_1")
//	// Returns: "plcmonitor/state/s7/plc_1500/thermo_1"
type Topics struct{}

// SignalState returns the topic carrying every new value of one signal.
//
// Example: plcmonitor/state/s7/plc_1500/thermo_1
func (Topics) SignalState(protocol, device, signal string) string {
	return fmt.Sprintf("%s/state/%s/%s/%s", TopicPrefix, protocol, device, signal)
}

// DeviceHealth returns the retained topic holding a device's connection state.
//
// Example: plcmonitor/health/s7/plc_1500
func (Topics) DeviceHealth(protocol, device string) string {
	return fmt.Sprintf("%s/health/%s/%s", TopicPrefix, protocol, device)
}

// SystemStatus returns the topic for the monitor's own online status (LWT).
//
// Example: plcmonitor/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllSignalStates returns a wildcard matching every signal state topic.
func (Topics) AllSignalStates() string {
	return TopicPrefix + "/state/#"
}

// AllDeviceHealth returns a wildcard matching every device health topic.
func (Topics) AllDeviceHealth() string {
	return TopicPrefix + "/health/+/+"
}
