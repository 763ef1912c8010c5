//go:build rp2040 || rp2350

package main

import (
	"errors"
	"machine"

	"i2cmux/core"
)

var (
	errI2CBusy     = errors.New("rp2040 i2c: transaction in flight")
	errI2CDisabled = errors.New("rp2040 i2c: controller disabled")
)

// RPI2CMaster implements core.I2CMaster on one machine.I2C controller.
//
// machine.I2C.Tx blocks until the bus is done, so the transfer runs inside
// the start call and only the completion is deferred. The main loop services
// the queue, which keeps the client callback out of the start call.
type RPI2CMaster struct {
	bus      *machine.I2C
	deferred *core.DeferredQueue
	call     core.DeferredCall

	client  core.I2CMasterClient
	enabled bool
	busy    bool
	doneBuf []byte
	doneErr error
}

// NewRPI2CMaster configures bus at frequencyHz on its default pins.
// For I2C0 that is SDA=GP4, SCL=GP5.
func NewRPI2CMaster(bus *machine.I2C, frequencyHz uint32, deferred *core.DeferredQueue) (*RPI2CMaster, error) {
	if err := bus.Configure(machine.I2CConfig{Frequency: frequencyHz}); err != nil {
		return nil, err
	}
	m := &RPI2CMaster{bus: bus, deferred: deferred}
	m.call.Handler = m.complete
	return m, nil
}

// SetMasterClient implements core.I2CMaster.
func (m *RPI2CMaster) SetMasterClient(client core.I2CMasterClient) {
	m.client = client
}

// Enable implements core.I2CMaster.
func (m *RPI2CMaster) Enable() {
	m.enabled = true
}

// Disable implements core.I2CMaster.
func (m *RPI2CMaster) Disable() {
	m.enabled = false
}

// Write implements core.I2CMaster.
func (m *RPI2CMaster) Write(addr core.I2CAddress, buf []byte, n int) error {
	return m.start(addr, buf, buf[:n], nil)
}

// Read implements core.I2CMaster.
func (m *RPI2CMaster) Read(addr core.I2CAddress, buf []byte, n int) error {
	return m.start(addr, buf, nil, buf[:n])
}

// WriteRead implements core.I2CMaster. The read lands at the start of buf,
// so the write bytes are moved aside first.
func (m *RPI2CMaster) WriteRead(addr core.I2CAddress, buf []byte, wlen, rlen int) error {
	var w [64]byte
	if wlen > len(w) {
		return core.ErrInvalidLength
	}
	n := copy(w[:], buf[:wlen])
	return m.start(addr, buf, w[:n], buf[:rlen])
}

func (m *RPI2CMaster) start(addr core.I2CAddress, buf, w, r []byte) error {
	if m.busy {
		return errI2CBusy
	}
	if !m.enabled {
		return errI2CDisabled
	}

	m.busy = true
	m.doneBuf = buf
	m.doneErr = nil
	if err := m.bus.Tx(uint16(addr), w, r); err != nil {
		// The controller does not say which phase failed.
		core.DebugPrintln("[I2C] tx: " + err.Error())
		m.doneErr = core.ErrBusError
	}
	m.deferred.Schedule(&m.call)
	return nil
}

func (m *RPI2CMaster) complete(*core.DeferredCall) {
	buf, err := m.doneBuf, m.doneErr
	m.doneBuf, m.doneErr = nil, nil
	m.busy = false
	if m.client != nil {
		m.client.CommandComplete(buf, err)
	}
}
