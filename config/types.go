package config

// Backend names
const (
	BackendSim    = "sim"
	BackendPeriph = "periph"
	BackendBridge = "bridge"
)

// BoardConfig describes one physical bus and the devices sharing it
type BoardConfig struct {
	Backend    string       // "sim", "periph" or "bridge"
	Bus        string       // periph bus name, "" for the first one
	SpeedHz    int64        // periph bus clock, 0 to leave as is
	Serial     SerialConfig // bridge link
	MaxDevices int          // mux device table size
	Debug      bool         // route debug output to stderr
	Devices    []DeviceConfig
}

// SerialConfig describes the link to a bridge adapter
type SerialConfig struct {
	Device    string // e.g. "/dev/ttyACM0"
	Baud      int
	TimeoutMs int // per transaction response timeout
}

// DeviceConfig is one virtual device on the mux
type DeviceConfig struct {
	Name    string
	Address uint8

	// Simulated backend only
	PointerMask uint8            // register pointer mask, 0 means 0xFF
	Registers   map[string][]int // start register ("0x28") -> preset bytes
}
