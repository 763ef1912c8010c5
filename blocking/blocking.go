// Package blocking turns a virtual I2C device into a synchronous bus handle
// for drivers written against tinygo.org/x/drivers or periph.io/x/conn.
//
// Tx issues the request on the device and waits for its completion. The
// master underneath must complete either inline or from another goroutine;
// a master that completes only when the calling goroutine services a
// deferred queue will block forever.
package blocking

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"tinygo.org/x/drivers"

	"i2cmux/core"
)

// DefaultBufferSize is the scratch size used when New is given zero.
const DefaultBufferSize = 32

// ErrAddressMismatch is returned when Tx addresses a different device than
// the one the handle is bound to.
var ErrAddressMismatch = errors.New("blocking: address does not match device")

// I2C is a drivers.I2C bound to one virtual device.
type I2C struct {
	dev *core.I2CDevice

	mu   sync.Mutex // one Tx at a time
	buf  []byte
	done chan error
}

var _ drivers.I2C = (*I2C)(nil)

// New binds dev and registers the handle as its client. size bounds the
// larger of the write and read lengths of one Tx.
func New(dev *core.I2CDevice, size int) *I2C {
	if size <= 0 {
		size = DefaultBufferSize
	}
	b := &I2C{
		dev:  dev,
		buf:  make([]byte, size),
		done: make(chan error, 1),
	}
	dev.SetClient(b)
	return b
}

// Device returns the bound virtual device.
func (b *I2C) Device() *core.I2CDevice {
	return b.dev
}

// CommandComplete implements core.I2CClient.
func (b *I2C) CommandComplete(buf []byte, err error) {
	b.done <- err
}

// Tx writes w and then reads len(r) bytes with a repeated start.
func (b *I2C) Tx(addr uint16, w, r []byte) error {
	if addr != uint16(b.dev.Address()) {
		return fmt.Errorf("%w: 0x%02x, bound to %s", ErrAddressMismatch, addr, b.dev)
	}
	if len(w) > len(b.buf) || len(r) > len(b.buf) {
		return core.ErrInvalidLength
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	n := copy(b.buf, w)
	var err error
	switch {
	case len(w) > 0 && len(r) > 0:
		err = b.dev.WriteRead(b.buf, n, len(r))
	case len(w) > 0:
		err = b.dev.Write(b.buf, n)
	case len(r) > 0:
		err = b.dev.Read(b.buf, len(r))
	default:
		return nil
	}
	if err != nil {
		return err
	}

	if err := <-b.done; err != nil {
		return err
	}
	copy(r, b.buf)
	return nil
}

// Bus routes Tx by address to bound handles. Drivers that talk to more than
// one address, such as a combined accelerometer and magnetometer, take a Bus.
type Bus struct {
	handles map[uint16]*I2C
}

var _ drivers.I2C = (*Bus)(nil)

// NewBus returns a bus over handles. A later handle for the same address
// replaces an earlier one.
func NewBus(handles ...*I2C) *Bus {
	b := &Bus{handles: make(map[uint16]*I2C, len(handles))}
	for _, h := range handles {
		b.handles[uint16(h.dev.Address())] = h
	}
	return b
}

// Tx forwards to the handle bound to addr.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	h, ok := b.handles[addr]
	if !ok {
		return fmt.Errorf("%w: no device at 0x%02x", ErrAddressMismatch, addr)
	}
	return h.Tx(addr, w, r)
}

// Conn is a periph conn.Conn bound to one virtual device.
type Conn struct {
	bus *I2C
}

var _ conn.Conn = (*Conn)(nil)

// NewConn binds dev as a periph connection.
func NewConn(dev *core.I2CDevice, size int) *Conn {
	return &Conn{bus: New(dev, size)}
}

func (c *Conn) String() string {
	return c.bus.dev.String()
}

// Tx implements conn.Conn.
func (c *Conn) Tx(w, r []byte) error {
	return c.bus.Tx(uint16(c.bus.dev.Address()), w, r)
}

// Duplex implements conn.Conn. I2C is half duplex.
func (c *Conn) Duplex() conn.Duplex {
	return conn.Half
}

// Write implements io.Writer.
func (c *Conn) Write(p []byte) (int, error) {
	if err := c.Tx(p, nil); err != nil {
		return 0, err
	}
	return len(p), nil
}
