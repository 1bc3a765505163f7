package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v2"

	"github.com/F6/labctrl-toolbox/internal/engine/quantity"
)

// DeviceProfile is the static, version-controlled shape of a device type's
// default parameter set, yaml-loaded the way the teacher's
// devicemanagement.NewConfig loads its DeviceManagementConfig. Unlike
// HardwareConfig (which is per-installation, JSON, and mutated at
// runtime), a DeviceProfile ships with the binary and only ever seeds a
// fresh HardwareConfig the first time a device type is configured.
type DeviceProfile struct {
	Kind       string                             `yaml:"kind"`
	Parameters map[string]quantity.ParameterSpec `yaml:"parameters"`
}

// ProfileSet is the top-level yaml document: one profile per device kind.
type ProfileSet struct {
	Profiles []DeviceProfile `yaml:"profiles"`
}

// LoadProfileSet mirrors the teacher's NewConfig(io.ReadCloser): read the
// whole stream, then yaml.Unmarshal into the target type.
func LoadProfileSet(r io.ReadCloser) (*ProfileSet, error) {
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read device profiles: %w", err)
	}
	var set ProfileSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("config: parse device profiles: %w", err)
	}
	return &set, nil
}

// Find returns the profile for kind, if one was loaded.
func (s *ProfileSet) Find(kind string) (DeviceProfile, bool) {
	for _, p := range s.Profiles {
		if p.Kind == kind {
			return p, true
		}
	}
	return DeviceProfile{}, false
}
