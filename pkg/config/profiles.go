package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"vitalsync/pkg/protocol"
)

// DeviceProfile describes one known capture device. Profiles let the
// operator pre-declare the rig: expected device types, frame rates,
// and whether a device participates in hardware-triggered capture.
type DeviceProfile struct {
	Type         protocol.DeviceType `yaml:"type"`
	Priority     string              `yaml:"priority,omitempty"`
	ExpectedFPS  float64             `yaml:"expected_fps,omitempty"`
	HardwareSync bool                `yaml:"hardware_sync,omitempty"`
	Notes        string              `yaml:"notes,omitempty"`
}

// Profiles maps device IDs to their profiles.
type Profiles struct {
	Devices map[string]DeviceProfile `yaml:"devices"`
}

// LoadProfiles reads a YAML device-profile file. A missing file yields
// an empty profile set without error.
func LoadProfiles(path string) (Profiles, error) {
	var p Profiles
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Profiles{Devices: map[string]DeviceProfile{}}, nil
		}
		return p, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if p.Devices == nil {
		p.Devices = map[string]DeviceProfile{}
	}
	for id, prof := range p.Devices {
		if prof.Type != "" && !validDeviceType(prof.Type) {
			return p, fmt.Errorf("config: device %q has unknown type %q", id, prof.Type)
		}
	}
	return p, nil
}

func validDeviceType(t protocol.DeviceType) bool {
	switch t {
	case protocol.DeviceAndroid, protocol.DeviceWebcam, protocol.DeviceShimmer:
		return true
	default:
		return false
	}
}

// PriorityFor maps a profile's priority name to a queue priority,
// defaulting to normal.
func (p Profiles) PriorityFor(deviceID string) protocol.Priority {
	prof, ok := p.Devices[deviceID]
	if !ok {
		return protocol.PriorityNormal
	}
	switch prof.Priority {
	case "low":
		return protocol.PriorityLow
	case "high":
		return protocol.PriorityHigh
	case "critical":
		return protocol.PriorityCritical
	default:
		return protocol.PriorityNormal
	}
}
