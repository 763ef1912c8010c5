package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"periph.io/x/conn/v3/physic"

	"i2cmux/blocking"
	"i2cmux/config"
	"i2cmux/core"
	"i2cmux/drivers/lsm303dlhc"
	"i2cmux/host/bridge"
	"i2cmux/host/periphbus"
	"i2cmux/host/serial"
	"i2cmux/sim"
)

var (
	configPath = flag.String("config", "", "Board configuration file (JSON)")
	backend    = flag.String("backend", "", "Override the configured backend: sim, periph or bridge")
	device     = flag.String("device", "", "Override the bridge serial device")
	verbose    = flag.Bool("verbose", false, "Enable debug output")
)

func main() {
	flag.Parse()

	fmt.Println("i2cmux host - virtual I2C devices over one bus")
	fmt.Println("==============================================")
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if cfg.Debug || *verbose {
		core.SetDebugWriter(func(msg string) { fmt.Fprintln(os.Stderr, msg) })
		core.SetDebugEnabled(true)
	}

	master, closer, err := openBackend(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	fmt.Printf("Backend: %s\n", cfg.Backend)

	console, err := buildConsole(cfg, master, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	console.Exec("devices")

	// Interactive command loop
	fmt.Println("Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if err := console.Exec(line); err != nil {
			if errors.Is(err, errQuit) {
				fmt.Println("Goodbye!")
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.BoardConfig, error) {
	cfg := config.DefaultBoardConfig()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openBackend builds the physical master named by the configuration
func openBackend(cfg *config.BoardConfig) (core.I2CMaster, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendSim:
		return buildSim(cfg), nil, nil

	case config.BackendPeriph:
		m, err := periphbus.Open(cfg.Bus, physic.Frequency(cfg.SpeedHz)*physic.Hertz)
		if err != nil {
			return nil, nil, err
		}
		return m, m, nil

	case config.BackendBridge:
		fmt.Printf("Connecting to bridge on %s...\n", cfg.Serial.Device)
		sc := serial.DefaultConfig(cfg.Serial.Device)
		sc.Baud = cfg.Serial.Baud
		port, err := serial.Open(sc)
		if err != nil {
			return nil, nil, err
		}
		if err := port.Flush(); err != nil {
			port.Close()
			return nil, nil, fmt.Errorf("flush %s: %w", cfg.Serial.Device, err)
		}
		m := bridge.New(port, time.Duration(cfg.Serial.TimeoutMs)*time.Millisecond)
		return m, m, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// buildSim attaches a register device for every configured device
func buildSim(cfg *config.BoardConfig) *sim.Bus {
	bus := sim.NewBus(nil)
	for _, dc := range cfg.Devices {
		regs := sim.NewRegisters()
		regs.PointerMask = dc.PointerMask
		presets, _ := dc.Presets() // checked by Validate
		for reg, vals := range presets {
			regs.Set(reg, vals...)
		}
		bus.Attach(core.I2CAddress(dc.Address), regs)
	}
	return bus
}

// buildConsole creates the mux, one blocking handle per configured device and,
// when both halves are configured, an LSM303DLHC sensor on its own devices.
func buildConsole(cfg *config.BoardConfig, master core.I2CMaster, out io.Writer) (*Console, error) {
	mux := core.NewI2CMuxComponent(master, cfg.MaxDevices+2).Finalize()
	console := NewConsole(mux, out, bridge.MaxTransfer)

	for _, dc := range cfg.Devices {
		dev, err := core.NewI2CComponent(mux, core.I2CAddress(dc.Address)).Finalize()
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.Name, err)
		}
		console.AddDevice(dc.Name, blocking.New(dev, bridge.MaxTransfer))
	}

	accel, hasAccel := cfg.Device("accel")
	mag, hasMag := cfg.Device("mag")
	if hasAccel && hasMag {
		a, err := core.NewI2CComponent(mux, core.I2CAddress(accel.Address)).Finalize()
		if err != nil {
			return nil, fmt.Errorf("sensor accel: %w", err)
		}
		m, err := core.NewI2CComponent(mux, core.I2CAddress(mag.Address)).Finalize()
		if err != nil {
			return nil, fmt.Errorf("sensor mag: %w", err)
		}
		console.SetSensor(lsm303dlhc.New(a, m))
	}
	return console, nil
}
