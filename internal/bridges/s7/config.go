package s7

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// File is the root of a devices configuration file.
//
//	devices:
//	  - name: plc_1500
//	    address: 192.168.0.10
//	    rack: 0
//	    slot: 1
//	    signals:
//	      - {name: thermo_1, db: 1, offset: 0, length: 4, type: real}
type File struct {
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig defines one PLC in the devices file.
type DeviceConfig struct {
	// Name identifies the device in signal keys and status output.
	Name string `yaml:"name"`

	// Address is the PLC host (IP or hostname, optional :port).
	Address string `yaml:"address"`

	// Rack and Slot locate the CPU. S7-1500 CPUs are rack 0, slot 1.
	Rack int `yaml:"rack"`
	Slot int `yaml:"slot"`

	// PollInterval overrides the global interval (e.g. "500ms").
	PollInterval time.Duration `yaml:"poll_interval"`

	Signals []SignalConfig `yaml:"signals"`
}

// SignalConfig defines a single signal mapping.
type SignalConfig struct {
	Name   string `yaml:"name"`
	DB     int    `yaml:"db"`
	Offset int    `yaml:"offset"`

	// Length defaults to the width of the type when omitted.
	Length int `yaml:"length"`

	// Type is one of real, int, dint, bool or custom.
	Type string `yaml:"type"`

	// Bit selects the bit of a bool signal (0-7).
	Bit int `yaml:"bit"`

	// Decoder names the registered decoder for type custom.
	Decoder string `yaml:"decoder"`
}

// LoadConfig reads and validates a devices file.
//
// decoders supplies the custom decoders that signals of type custom may
// name; nil selects DefaultDecoders.
func LoadConfig(path string, decoders Decoders) ([]Device, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading devices file: %w", err)
	}
	return ParseConfig(data, decoders)
}

// ParseConfig parses and validates devices YAML.
func ParseConfig(data []byte, decoders Decoders) ([]Device, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing devices file: %w", err)
	}
	return f.Build(decoders)
}

// Build converts the file into validated devices. All problems are
// collected and reported together.
func (f *File) Build(decoders Decoders) ([]Device, error) {
	if decoders == nil {
		decoders = DefaultDecoders()
	}

	var errs []string
	if len(f.Devices) == 0 {
		errs = append(errs, "at least one device is required")
	}

	devices := make([]Device, 0, len(f.Devices))
	names := make(map[string]bool, len(f.Devices))

	for i, dc := range f.Devices {
		if dc.Name != "" {
			if names[dc.Name] {
				errs = append(errs, fmt.Sprintf("devices[%d]: duplicate device name %q", i, dc.Name))
			}
			names[dc.Name] = true
		}

		dev := Device{
			Name:         dc.Name,
			Address:      strings.TrimSpace(dc.Address),
			Rack:         dc.Rack,
			Slot:         dc.Slot,
			PollInterval: dc.PollInterval,
			Signals:      make([]Signal, 0, len(dc.Signals)),
		}

		typesOK := true
		for j, sc := range dc.Signals {
			dt, err := ParseDataType(sc.Type, sc.Decoder, decoders)
			if err != nil {
				errs = append(errs, fmt.Sprintf("devices[%d].signals[%d] (%s): %v", i, j, sc.Name, err))
				typesOK = false
				continue
			}
			length := sc.Length
			if length == 0 {
				length = dt.Width()
			}
			dev.Signals = append(dev.Signals, Signal{
				Name:   sc.Name,
				DB:     sc.DB,
				Offset: sc.Offset,
				Length: length,
				Type:   dt,
				Bit:    sc.Bit,
			})
		}

		if err := dev.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("devices[%d]: %s", i,
				strings.TrimPrefix(err.Error(), ErrInvalidConfig.Error()+": ")))
			continue
		}
		if typesOK {
			devices = append(devices, dev)
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return devices, nil
}
