package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/shlex"

	"i2cmux/blocking"
	"i2cmux/core"
	"i2cmux/drivers/lsm303dlhc"
)

var errQuit = errors.New("quit")

// sensorTimeout bounds each step of the sensor command
const sensorTimeout = 2 * time.Second

// Console runs text commands against the devices on one mux
type Console struct {
	mux     *core.MuxI2C
	handles map[string]*blocking.I2C
	sensor  *lsm303dlhc.Sensor
	out     io.Writer
	size    int
}

// NewConsole builds a console. size bounds one transfer.
func NewConsole(mux *core.MuxI2C, out io.Writer, size int) *Console {
	return &Console{
		mux:     mux,
		handles: make(map[string]*blocking.I2C),
		out:     out,
		size:    size,
	}
}

// AddDevice registers a named device handle
func (c *Console) AddDevice(name string, h *blocking.I2C) {
	c.handles[name] = h
}

// SetSensor enables the sensor command
func (c *Console) SetSensor(s *lsm303dlhc.Sensor) {
	c.sensor = s
}

// Exec runs one command line. It returns errQuit when the session should end.
func (c *Console) Exec(line string) error {
	parts, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if len(parts) == 0 {
		return nil
	}

	cmd, args := parts[0], parts[1:]
	switch cmd {
	case "quit", "exit", "q":
		return errQuit

	case "help", "?":
		c.printHelp()
		return nil

	case "devices":
		c.listDevices()
		return nil

	case "write":
		if len(args) < 2 {
			return fmt.Errorf("usage: write <dev> <byte>...")
		}
		w, err := parseBytes(args[1:])
		if err != nil {
			return err
		}
		return c.tx(args[0], w, 0)

	case "read":
		if len(args) != 2 {
			return fmt.Errorf("usage: read <dev> <n>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad length %q", args[1])
		}
		return c.tx(args[0], nil, n)

	case "wr":
		if len(args) < 3 {
			return fmt.Errorf("usage: wr <dev> <n> <byte>...")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad length %q", args[1])
		}
		w, err := parseBytes(args[2:])
		if err != nil {
			return err
		}
		return c.tx(args[0], w, n)

	case "stats":
		spew.Fdump(c.out, c.mux.Stats())
		return nil

	case "events":
		for _, evt := range c.mux.Events() {
			fmt.Fprintln(c.out, core.FormatBusEvent(evt))
		}
		if len(args) == 1 && args[0] == "clear" {
			c.mux.ClearEvents()
		}
		return nil

	case "sensor":
		return c.readSensor()

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  devices               - List devices on the mux")
	fmt.Fprintln(c.out, "  write <dev> <b>...    - Write bytes")
	fmt.Fprintln(c.out, "  read <dev> <n>        - Read n bytes")
	fmt.Fprintln(c.out, "  wr <dev> <n> <b>...   - Write bytes, then read n bytes")
	fmt.Fprintln(c.out, "  stats                 - Dump mux statistics")
	fmt.Fprintln(c.out, "  events [clear]        - Print the bus event trace")
	fmt.Fprintln(c.out, "  sensor                - Read the LSM303DLHC (needs accel and mag)")
	fmt.Fprintln(c.out, "  quit/exit/q           - Exit the program")
	fmt.Fprintln(c.out)
}

func (c *Console) listDevices() {
	names := make([]string, 0, len(c.handles))
	for name := range c.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		dev := c.handles[name].Device()
		fmt.Fprintf(c.out, "  %-8s %s pending=%t attached=%t\n", name, dev, dev.Pending(), dev.Attached())
	}
}

func (c *Console) tx(name string, w []byte, n int) error {
	h, ok := c.handles[name]
	if !ok {
		return fmt.Errorf("no device %q", name)
	}
	if len(w) > c.size || n > c.size {
		return fmt.Errorf("transfer larger than %d bytes", c.size)
	}

	r := make([]byte, n)
	if err := h.Tx(uint16(h.Device().Address()), w, r); err != nil {
		return fmt.Errorf("%s: %w", h.Device(), err)
	}
	if n > 0 {
		fmt.Fprintf(c.out, "%s: % x\n", name, r)
	} else {
		fmt.Fprintf(c.out, "%s: ok\n", name)
	}
	return nil
}

// readSensor runs presence, acceleration, field and temperature reads in turn
func (c *Console) readSensor() error {
	if c.sensor == nil {
		return fmt.Errorf("no sensor configured")
	}

	results := make(chan lsm303dlhc.Reading, 1)
	c.sensor.SetCallback(func(r lsm303dlhc.Reading) { results <- r })
	defer c.sensor.SetCallback(nil)

	steps := []func() error{
		c.sensor.IsPresent,
		c.sensor.ReadAcceleration,
		c.sensor.ReadMagnetometer,
		c.sensor.ReadTemperature,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
		var r lsm303dlhc.Reading
		select {
		case r = <-results:
		case <-time.After(sensorTimeout):
			return fmt.Errorf("sensor: no completion")
		}
		if r.Err != nil {
			return fmt.Errorf("sensor %s: %w", r.Op, r.Err)
		}

		switch r.Op {
		case lsm303dlhc.OpIsPresent:
			fmt.Fprintf(c.out, "present:     %t\n", r.OK)
		case lsm303dlhc.OpReadAcceleration:
			fmt.Fprintf(c.out, "accel:       x=%d y=%d z=%d\n", r.X, r.Y, r.Z)
		case lsm303dlhc.OpReadMagnetometer:
			fmt.Fprintf(c.out, "mag:         x=%d y=%d z=%d\n", r.X, r.Y, r.Z)
		case lsm303dlhc.OpReadTemperature:
			fmt.Fprintf(c.out, "temperature: %d\n", r.Temp)
		}
	}
	return nil
}

// parseBytes parses hex byte arguments, with or without a 0x prefix
func parseBytes(args []string) ([]byte, error) {
	out := make([]byte, 0, len(args))
	for _, a := range args {
		s := strings.TrimPrefix(strings.ToLower(a), "0x")
		v, err := strconv.ParseUint(s, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("bad byte %q", a)
		}
		out = append(out, byte(v))
	}
	return out, nil
}
