// Package periphbus exposes a periph.io I2C bus as a core.I2CMaster.
//
// periph buses are blocking, so transactions run on a worker goroutine and
// complete asynchronously through the master client.
package periphbus

import (
	"errors"
	"fmt"
	"sync"

	"gopkg.in/tomb.v2"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"i2cmux/core"
)

var (
	// ErrInFlight is returned when a transaction is started before the
	// previous one has completed.
	ErrInFlight = errors.New("periphbus: transaction already in flight")

	// ErrDisabled is returned when the master has not been enabled.
	ErrDisabled = errors.New("periphbus: master disabled")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("periphbus: bus closed")
)

type job struct {
	addr core.I2CAddress
	buf  []byte
	wlen int
	rlen int
}

// Master runs transactions on an i2c.Bus.
type Master struct {
	bus    i2c.Bus
	closer func() error

	mu      sync.Mutex
	client  core.I2CMasterClient
	enabled bool
	busy    bool
	closed  bool

	jobs    chan job
	scratch []byte
	t       tomb.Tomb
}

// Open initializes the periph host drivers and opens the named bus. An empty
// name selects the first bus found. A zero speed leaves the bus clock alone.
func Open(name string, speed physic.Frequency) (*Master, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periphbus: host init: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("periphbus: open %q: %w", name, err)
	}
	if speed > 0 {
		if err := bus.SetSpeed(speed); err != nil {
			bus.Close()
			return nil, fmt.Errorf("periphbus: set speed %s: %w", speed, err)
		}
	}
	m := New(bus)
	m.closer = bus.Close
	return m, nil
}

// New wraps an already opened bus. Closing the master does not close bus.
func New(bus i2c.Bus) *Master {
	m := &Master{
		bus:  bus,
		jobs: make(chan job, 1),
	}
	m.t.Go(m.worker)
	return m
}

// String returns the underlying bus name.
func (m *Master) String() string {
	return m.bus.String()
}

// Close stops the worker and releases a bus opened with Open. A transaction
// the worker never picked up completes with ErrClosed.
func (m *Master) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.t.Kill(nil)
	err := m.t.Wait()
	m.abandon()
	if m.closer != nil {
		if cerr := m.closer(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// SetMasterClient implements core.I2CMaster.
func (m *Master) SetMasterClient(client core.I2CMasterClient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client = client
}

// Enable implements core.I2CMaster.
func (m *Master) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

// Disable implements core.I2CMaster.
func (m *Master) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

// Write implements core.I2CMaster.
func (m *Master) Write(addr core.I2CAddress, buf []byte, n int) error {
	return m.start(job{addr: addr, buf: buf, wlen: n})
}

// Read implements core.I2CMaster.
func (m *Master) Read(addr core.I2CAddress, buf []byte, n int) error {
	return m.start(job{addr: addr, buf: buf, rlen: n})
}

// WriteRead implements core.I2CMaster.
func (m *Master) WriteRead(addr core.I2CAddress, buf []byte, wlen, rlen int) error {
	return m.start(job{addr: addr, buf: buf, wlen: wlen, rlen: rlen})
}

func (m *Master) start(j job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.closed:
		return ErrClosed
	case !m.enabled:
		return ErrDisabled
	case m.busy:
		return ErrInFlight
	}
	m.busy = true
	m.jobs <- j
	return nil
}

func (m *Master) worker() error {
	for {
		select {
		case <-m.t.Dying():
			return nil
		case j := <-m.jobs:
			err := m.tx(j)

			m.mu.Lock()
			m.busy = false
			client := m.client
			m.mu.Unlock()

			if client != nil {
				client.CommandComplete(j.buf, err)
			}
		}
	}
}

// abandon completes a job left in the queue after the worker exited.
func (m *Master) abandon() {
	select {
	case j := <-m.jobs:
		m.mu.Lock()
		m.busy = false
		client := m.client
		m.mu.Unlock()

		if client != nil {
			client.CommandComplete(j.buf, fmt.Errorf("%w: %w", core.ErrBusError, ErrClosed))
		}
	default:
	}
}

// tx runs one transaction. The write bytes are copied out first because the
// read phase lands in the same buffer.
func (m *Master) tx(j job) error {
	m.scratch = append(m.scratch[:0], j.buf[:j.wlen]...)
	var w, r []byte
	if j.wlen > 0 {
		w = m.scratch
	}
	if j.rlen > 0 {
		r = j.buf[:j.rlen]
	}
	if err := m.bus.Tx(uint16(j.addr), w, r); err != nil {
		return fmt.Errorf("%w: %v", core.ErrBusError, err)
	}
	return nil
}
