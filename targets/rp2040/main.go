//go:build rp2040 || rp2350

// Command rp2040 is the bridge adapter firmware. It serves bridge requests
// received over USB CDC on the I2C0 controller, sharing it between every
// address the host talks to.
package main

import (
	"io"
	"machine"
	"time"

	"i2cmux/adapter"
	"i2cmux/core"
	"i2cmux/protocol"
)

const (
	busFrequency = 400 * machine.KHz
	maxEndpoints = 16
)

var (
	deferred core.DeferredQueue

	// Debug counters
	feeds      uint32
	usbErrors  uint32
	mainPanics uint32
)

func main() {
	// Disable watchdog on boot to clear any previous state
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	// machine.Serial is USB CDC on the RP2040
	if err := machine.Serial.Configure(machine.UARTConfig{}); err != nil {
		return
	}

	master, err := NewRPI2CMaster(machine.I2C0, busFrequency, &deferred)
	if err != nil {
		return
	}
	mux := core.NewI2CMuxComponent(master, maxEndpoints).Finalize()
	a := adapter.New(mux, usbWriter{})

	buf := make([]byte, protocol.FrameLengthMax)
	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					mainPanics++
				}
			}()

			if n := readUSB(buf); n > 0 {
				a.Feed(buf[:n])
				feeds++
			}
			deferred.Service()
		}()

		// Yield to other goroutines
		time.Sleep(10 * time.Microsecond)
	}
}

// readUSB drains up to len(buf) buffered bytes
func readUSB(buf []byte) int {
	n := 0
	for n < len(buf) && machine.Serial.Buffered() > 0 {
		b, err := machine.Serial.ReadByte()
		if err != nil {
			usbErrors++
			break
		}
		buf[n] = b
		n++
	}
	return n
}

// usbWriter writes response frames to USB, retrying partial writes
type usbWriter struct{}

func (usbWriter) Write(p []byte) (int, error) {
	written := 0
	for failures := 0; written < len(p); {
		n, err := machine.Serial.Write(p[written:])
		if err != nil || n == 0 {
			// Likely a disconnect; drop the frame after a few tries
			failures++
			usbErrors++
			if failures > 10 {
				if err == nil {
					err = io.ErrShortWrite
				}
				return written, err
			}
			continue
		}
		written += n
	}
	return written, nil
}
