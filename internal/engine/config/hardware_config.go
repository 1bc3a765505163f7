package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/F6/labctrl-toolbox/internal/engine/quantity"
)

// SerialPortConfig is the serial port settings portion of the hardware
// configuration file (spec.md §6: "hardware configuration (parameters +
// serial port settings)").
type SerialPortConfig struct {
	Device   string `json:"device"`
	BaudRate int    `json:"baud_rate"`
}

// HardwareConfig is one device's persisted parameter set plus its serial
// port settings, grounded on
// original_source/linear_stage/generic/hardware_config.py and
// original_source/spectrometer/FX2000/hardware_config.py.
type HardwareConfig struct {
	Port       SerialPortConfig                   `json:"port"`
	Parameters map[string]quantity.ParameterSpec `json:"parameters"`
}

// LoadHardwareConfig reads and parses a HardwareConfig from path.
func LoadHardwareConfig(path string) (*HardwareConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read hardware config: %w", err)
	}
	var cfg HardwareConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse hardware config: %w", err)
	}
	for name, spec := range cfg.Parameters {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("config: parameter %q: %w", name, err)
		}
	}
	return &cfg, nil
}

// SaveHardwareConfig persists the current ParameterSpec set so the next
// startup restores user-visible settings (spec.md §4.4 State Store: "On
// shutdown, the current state is serialized to the hardware configuration
// file"). Written atomically, like SaveServerConfig.
func SaveHardwareConfig(path string, cfg *HardwareConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal hardware config: %w", err)
	}
	return writeFileAtomic(path, data)
}
