package series

import (
	"encoding/json"
	"strings"
	"time"
)

// keySeparator joins device and signal names into a SignalKey.
const keySeparator = "."

// Key builds the store key for a device signal: "<device>.<signal>".
func Key(device, signal string) string {
	return device + keySeparator + signal
}

// SplitKey splits a key into device and signal at the first separator.
// ok is false when the key has no separator.
func SplitKey(key string) (device, signal string, ok bool) {
	return strings.Cut(key, keySeparator)
}

// Sample is one timestamped value in a history stream.
type Sample struct {
	Time  time.Time
	Value Value
}

// Seconds returns the sample time as fractional seconds since the Unix epoch.
func (s Sample) Seconds() float64 {
	return float64(s.Time.UnixNano()) / float64(time.Second)
}

// MarshalJSON encodes the sample as a [timestampSeconds, value] pair,
// the point format the dashboard chart consumes.
func (s Sample) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{s.Seconds(), s.Value})
}
