package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// LoadConfig parses a JSON configuration and returns a BoardConfig
func LoadConfig(jsonData []byte) (*BoardConfig, error) {
	var config BoardConfig

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	// Apply defaults
	applyDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadFile reads and parses a JSON configuration file
func LoadFile(path string) (*BoardConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	config, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return config, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *BoardConfig) {
	if config.Backend == "" {
		config.Backend = BackendSim
	}
	if config.MaxDevices == 0 {
		config.MaxDevices = 16
	}

	// Bridge link
	if config.Serial.Baud == 0 {
		config.Serial.Baud = 250000
	}
	if config.Serial.TimeoutMs == 0 {
		config.Serial.TimeoutMs = 500
	}

	for i := range config.Devices {
		dev := &config.Devices[i]
		if dev.Name == "" {
			dev.Name = fmt.Sprintf("dev%d", i)
		}
		if dev.PointerMask == 0 {
			dev.PointerMask = 0xFF
		}
	}
}

// Validate checks the configuration for values no backend can use
func (c *BoardConfig) Validate() error {
	switch c.Backend {
	case BackendSim, BackendPeriph:
	case BackendBridge:
		if c.Serial.Device == "" {
			return fmt.Errorf("bridge backend needs a serial device")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.MaxDevices < len(c.Devices) {
		return fmt.Errorf("%d devices configured, max is %d", len(c.Devices), c.MaxDevices)
	}

	names := make(map[string]bool, len(c.Devices))
	for _, dev := range c.Devices {
		if names[dev.Name] {
			return fmt.Errorf("duplicate device name %q", dev.Name)
		}
		names[dev.Name] = true

		if dev.Address > 0x7F {
			return fmt.Errorf("device %s: address 0x%02x is not 7-bit", dev.Name, dev.Address)
		}
		if _, err := dev.Presets(); err != nil {
			return fmt.Errorf("device %s: %w", dev.Name, err)
		}
	}
	return nil
}

// Device returns the named device
func (c *BoardConfig) Device(name string) (DeviceConfig, bool) {
	for _, dev := range c.Devices {
		if dev.Name == name {
			return dev, true
		}
	}
	return DeviceConfig{}, false
}

// Presets decodes the register presets into start register -> bytes
func (d DeviceConfig) Presets() (map[uint8][]byte, error) {
	out := make(map[uint8][]byte, len(d.Registers))
	for key, vals := range d.Registers {
		reg, err := strconv.ParseUint(key, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("bad register %q", key)
		}
		data := make([]byte, len(vals))
		for i, v := range vals {
			if v < 0 || v > 0xFF {
				return nil, fmt.Errorf("register %s: value %d out of range", key, v)
			}
			data[i] = byte(v)
		}
		out[uint8(reg)] = data
	}
	return out, nil
}

// DefaultBoardConfig returns a simulated bus carrying an LSM303DLHC
func DefaultBoardConfig() *BoardConfig {
	return &BoardConfig{
		Backend:    BackendSim,
		MaxDevices: 16,
		Serial: SerialConfig{
			Baud:      250000,
			TimeoutMs: 500,
		},
		Devices: []DeviceConfig{
			{
				Name:        "accel",
				Address:     0x5C,
				PointerMask: 0x7F, // top bit of the sub-address is auto-increment
				Registers: map[string][]int{
					"0x28": {0x00, 0x40, 0x00, 0x00, 0x00, 0xC0},
				},
			},
			{
				Name:        "mag",
				Address:     0x1E,
				PointerMask: 0xFF,
				Registers: map[string][]int{
					"0x03": {0x01, 0x2C, 0x00, 0x32, 0xFF, 0x9C},
					"0x0f": {0x3C},
					"0x31": {0x01, 0x40},
				},
			},
		},
	}
}
