// Package sim provides a simulated I2C master with register-mapped slaves.
// It stands in for the hardware controller in tests and in the host CLI.
package sim

import (
	"errors"
	"sync"

	"i2cmux/core"
)

var (
	// ErrInFlight is returned when a transaction is started while another
	// one has not completed. The bus counts these as violations.
	ErrInFlight = errors.New("sim: transaction already in flight")

	// ErrDisabled is returned when a transaction is started on a disabled bus.
	ErrDisabled = errors.New("sim: bus disabled")
)

// Transaction records one transaction seen by the bus.
type Transaction struct {
	Addr    core.I2CAddress
	Op      core.I2COperation
	Write   []byte // copy of the bytes written
	ReadLen int
	Err     error
}

// Bus is a simulated core.I2CMaster.
//
// Without a deferred queue every transaction completes inline, before the
// starting call returns. With one, the completion is scheduled on the queue
// and the bus stays busy until the queue is serviced, which lets tests step
// completions one at a time.
type Bus struct {
	mu sync.Mutex

	client   core.I2CMasterClient
	devices  map[core.I2CAddress]Device
	faults   map[core.I2CAddress][]error
	refusals []error

	deferred *core.DeferredQueue
	call     core.DeferredCall
	doneBuf  []byte
	doneErr  error

	enabled    bool
	busy       bool
	enables    int
	violations int
	log        []Transaction
}

// NewBus returns an empty simulated bus. deferred may be nil.
func NewBus(deferred *core.DeferredQueue) *Bus {
	b := &Bus{
		devices:  make(map[core.I2CAddress]Device),
		faults:   make(map[core.I2CAddress][]error),
		deferred: deferred,
	}
	b.call.Handler = b.deferredComplete
	return b
}

// Attach places dev on the bus at addr.
func (b *Bus) Attach(addr core.I2CAddress, dev Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.devices[addr] = dev
}

// InjectFault makes the next transaction addressed to addr complete with err.
// Faults queue per address.
func (b *Bus) InjectFault(addr core.I2CAddress, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.faults[addr] = append(b.faults[addr], err)
}

// RefuseNext makes the next start return err without starting.
func (b *Bus) RefuseNext(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refusals = append(b.refusals, err)
}

// Log returns a copy of the transaction log.
func (b *Bus) Log() []Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Transaction, len(b.log))
	copy(out, b.log)
	return out
}

// Busy reports whether a transaction has started and not completed.
func (b *Bus) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busy
}

// Enabled reports whether the controller is enabled.
func (b *Bus) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// EnableCount returns how many times Enable has been called.
func (b *Bus) EnableCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enables
}

// Violations returns how many starts were attempted while busy.
func (b *Bus) Violations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.violations
}

// SetMasterClient implements core.I2CMaster.
func (b *Bus) SetMasterClient(client core.I2CMasterClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = client
}

// Enable implements core.I2CMaster.
func (b *Bus) Enable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = true
	b.enables++
}

// Disable implements core.I2CMaster.
func (b *Bus) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = false
}

// Write implements core.I2CMaster.
func (b *Bus) Write(addr core.I2CAddress, buf []byte, n int) error {
	return b.start(addr, core.OpWrite, buf, n, 0)
}

// Read implements core.I2CMaster.
func (b *Bus) Read(addr core.I2CAddress, buf []byte, n int) error {
	return b.start(addr, core.OpRead, buf, 0, n)
}

// WriteRead implements core.I2CMaster.
func (b *Bus) WriteRead(addr core.I2CAddress, buf []byte, wlen, rlen int) error {
	return b.start(addr, core.OpWriteRead, buf, wlen, rlen)
}

func (b *Bus) start(addr core.I2CAddress, op core.I2COperation, buf []byte, wlen, rlen int) error {
	b.mu.Lock()

	if b.busy {
		b.violations++
		b.mu.Unlock()
		return ErrInFlight
	}
	if !b.enabled {
		b.mu.Unlock()
		return ErrDisabled
	}
	if len(b.refusals) > 0 {
		err := b.refusals[0]
		b.refusals = b.refusals[1:]
		b.mu.Unlock()
		return err
	}

	tx := Transaction{Addr: addr, Op: op, ReadLen: rlen}
	tx.Write = append([]byte(nil), buf[:wlen]...)
	tx.Err = b.transfer(addr, buf, wlen, rlen)
	b.log = append(b.log, tx)
	b.busy = true
	client := b.client

	if b.deferred != nil {
		b.doneBuf = buf
		b.doneErr = tx.Err
		b.mu.Unlock()
		b.deferred.Schedule(&b.call)
		return nil
	}

	b.busy = false
	b.mu.Unlock()
	if client != nil {
		client.CommandComplete(buf, tx.Err)
	}
	return nil
}

// transfer runs the data phases against the addressed device. Called with
// b.mu held.
func (b *Bus) transfer(addr core.I2CAddress, buf []byte, wlen, rlen int) error {
	if faults := b.faults[addr]; len(faults) > 0 {
		b.faults[addr] = faults[1:]
		return faults[0]
	}

	dev, ok := b.devices[addr]
	if !ok {
		return core.ErrAddressNak
	}
	if wlen > 0 {
		if err := dev.Write(buf[:wlen]); err != nil {
			return err
		}
	}
	if rlen > 0 {
		if err := dev.Read(buf[:rlen]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) deferredComplete(*core.DeferredCall) {
	b.mu.Lock()
	buf, err := b.doneBuf, b.doneErr
	b.doneBuf, b.doneErr = nil, nil
	b.busy = false
	client := b.client
	b.mu.Unlock()

	if client != nil {
		client.CommandComplete(buf, err)
	}
}
