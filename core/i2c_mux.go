// Virtualized I2C bus.
// MuxI2C lets any number of I2CDevice handles share one physical I2CMaster:
// one transaction in flight, FIFO dispatch of the rest, and every completion
// routed back to the device that issued it.
package core

// DefaultMaxDevices is used when a mux is built with a non-positive capacity
const DefaultMaxDevices = 16

// MaxMuxDevices bounds the device table (one slot per 7-bit address)
const MaxMuxDevices = 128

// MuxStats counts mux activity since construction
type MuxStats struct {
	Enqueued   uint32 // Requests accepted from devices
	Queued     uint32 // Requests that had to wait for the bus
	Dispatched uint32 // Requests handed to the master
	Completed  uint32 // Completions routed to devices
	Failed     uint32 // Completions carrying a hardware error
	Rejected   uint32 // Requests the master refused to start
	Dropped    uint32 // Completions for devices without a client
	MaxPending int    // Pending queue high-water mark
}

// MuxI2C serialises access to an I2CMaster.
//
// State is touched only by enqueue and CommandComplete (and the attach and
// detach bookkeeping), always inside the critical section. The master and the
// device clients are called with the critical section released, so a master
// may complete inline and a client may issue its next request from inside its
// completion callback.
type MuxI2C struct {
	cs     criticalSection
	master I2CMaster

	devices  []*I2CDevice // registration table, nil entries are free
	inflight *I2CDevice   // nil when the bus is idle
	pending  slotQueue    // device slots waiting for the bus

	// handoff is set while the slot is empty but the bus is being passed on
	// (completion delivery or a refused dispatch). New requests queue behind
	// the pending ones during that window.
	handoff bool
	enabled bool

	stats  MuxStats
	events eventRing
}

// NewMuxI2C builds a mux for master with room for maxDevices devices.
// The caller must register the mux as the master's client; I2CMuxComponent
// does both.
func NewMuxI2C(master I2CMaster, maxDevices int) *MuxI2C {
	if maxDevices <= 0 {
		maxDevices = DefaultMaxDevices
	}
	if maxDevices > MaxMuxDevices {
		maxDevices = MaxMuxDevices
	}
	return &MuxI2C{
		master:  master,
		devices: make([]*I2CDevice, maxDevices),
		pending: newSlotQueue(maxDevices),
	}
}

// NewDevice attaches a new virtual device at addr.
func (m *MuxI2C) NewDevice(addr I2CAddress) (*I2CDevice, error) {
	if addr > MaxI2CAddress {
		return nil, ErrInvalidAddress
	}

	state := m.cs.disableInterrupts()
	defer m.cs.restoreInterrupts(state)

	for i, d := range m.devices {
		if d == nil {
			dev := &I2CDevice{
				mux:      m,
				address:  addr,
				slot:     uint8(i),
				attached: true,
			}
			m.devices[i] = dev
			return dev, nil
		}
	}
	return nil, ErrMuxFull
}

// Devices returns the attached devices in table order.
func (m *MuxI2C) Devices() []*I2CDevice {
	state := m.cs.disableInterrupts()
	defer m.cs.restoreInterrupts(state)

	out := make([]*I2CDevice, 0, len(m.devices))
	for _, d := range m.devices {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

// Busy reports whether a transaction is in flight.
func (m *MuxI2C) Busy() bool {
	state := m.cs.disableInterrupts()
	defer m.cs.restoreInterrupts(state)
	return m.inflight != nil
}

// Pending returns the number of requests waiting for the bus.
func (m *MuxI2C) Pending() int {
	state := m.cs.disableInterrupts()
	defer m.cs.restoreInterrupts(state)
	return m.pending.Used()
}

// Stats returns a copy of the mux counters.
func (m *MuxI2C) Stats() MuxStats {
	state := m.cs.disableInterrupts()
	defer m.cs.restoreInterrupts(state)
	return m.stats
}

// Events returns the recent bus events, oldest first.
func (m *MuxI2C) Events() []BusEvent {
	state := m.cs.disableInterrupts()
	defer m.cs.restoreInterrupts(state)
	return m.events.snapshot()
}

// ClearEvents empties the event ring.
func (m *MuxI2C) ClearEvents() {
	state := m.cs.disableInterrupts()
	defer m.cs.restoreInterrupts(state)
	m.events.clear()
}

// DumpBusEvents outputs the event ring through the debug writer
func (m *MuxI2C) DumpBusEvents() {
	if debugPrintln == nil {
		return
	}
	debugPrintln("[I2C] === Bus Event Dump ===")
	for _, evt := range m.Events() {
		debugPrintln(FormatBusEvent(evt))
	}
	debugPrintln("[I2C] === End Dump ===")
}

// enqueue accepts req from dev. It dispatches immediately when the bus is
// idle and queues otherwise. The only error returned for an accepted request
// is the master refusing an immediate dispatch.
func (m *MuxI2C) enqueue(dev *I2CDevice, req request) error {
	state := m.cs.disableInterrupts()

	if !dev.attached {
		m.cs.restoreInterrupts(state)
		return ErrDetached
	}
	if int(dev.slot) >= len(m.devices) || m.devices[dev.slot] != dev {
		m.cs.restoreInterrupts(state)
		panic("i2c: enqueue from unregistered device")
	}
	if dev.pending {
		m.cs.restoreInterrupts(state)
		return ErrBusy
	}

	dev.pending = true
	dev.req = req
	m.stats.Enqueued++
	m.events.record(EvtEnqueue, dev.address, uint32(req.op), 0)

	if m.inflight != nil || m.handoff {
		if !m.pending.Put(dev.slot) {
			m.cs.restoreInterrupts(state)
			panic("i2c: pending queue overflow")
		}
		m.stats.Queued++
		if used := m.pending.Used(); used > m.stats.MaxPending {
			m.stats.MaxPending = used
		}
		m.events.record(EvtQueued, dev.address, uint32(m.pending.Used()), 0)
		m.cs.restoreInterrupts(state)
		return nil
	}

	if !m.enabled {
		m.enabled = true
		m.master.Enable()
	}
	m.occupy(dev)
	m.cs.restoreInterrupts(state)

	err := m.dispatch(dev)
	if err == nil {
		return nil
	}

	// Not started: hand the buffer back to the caller and move the bus on.
	state = m.cs.disableInterrupts()
	m.withdraw(dev, err)
	m.cs.restoreInterrupts(state)
	m.advance()
	return err
}

// CommandComplete is the single I2CMasterClient entry point. It routes the
// completion to the in-flight device and then starts the next pending request.
func (m *MuxI2C) CommandComplete(buf []byte, err error) {
	state := m.cs.disableInterrupts()

	dev := m.inflight
	if dev == nil {
		m.cs.restoreInterrupts(state)
		panic("i2c: completion with no request in flight")
	}

	m.inflight = nil
	m.handoff = true
	dev.pending = false
	dev.req = request{}
	client := dev.client

	m.stats.Completed++
	var failed uint32
	if err != nil {
		m.stats.Failed++
		failed = 1
	}
	m.events.record(EvtComplete, dev.address, failed, uint32(len(buf)))
	if client == nil {
		m.stats.Dropped++
		m.events.record(EvtDrop, dev.address, 0, 0)
	}
	m.cs.restoreInterrupts(state)

	if client != nil {
		client.CommandComplete(buf, err)
	}
	m.advance()
}

// advance dispatches the oldest pending request, or returns the bus to idle.
// Requests the master refuses are completed with the refusal error and the
// next one is tried.
func (m *MuxI2C) advance() {
	for {
		state := m.cs.disableInterrupts()
		m.handoff = false

		slot, ok := m.pending.Get()
		if !ok {
			if m.inflight == nil && m.enabled {
				m.enabled = false
				m.master.Disable()
			}
			m.cs.restoreInterrupts(state)
			return
		}

		dev := m.devices[slot]
		if dev == nil || !dev.pending {
			m.cs.restoreInterrupts(state)
			panic("i2c: pending queue references idle device")
		}
		m.occupy(dev)
		m.cs.restoreInterrupts(state)

		err := m.dispatch(dev)
		if err == nil {
			return
		}

		state = m.cs.disableInterrupts()
		buf := dev.req.buf
		client := m.withdraw(dev, err)
		m.cs.restoreInterrupts(state)

		if client != nil {
			client.CommandComplete(buf, err)
		}
	}
}

// occupy marks dev as in flight. Called inside the critical section.
func (m *MuxI2C) occupy(dev *I2CDevice) {
	m.inflight = dev
	m.stats.Dispatched++
	m.events.record(EvtDispatch, dev.address, uint32(dev.req.op), uint32(dev.req.wlen+dev.req.rlen))
}

// withdraw undoes occupy after the master refused to start. The bus stays in
// handoff until advance runs. Called inside the critical section.
func (m *MuxI2C) withdraw(dev *I2CDevice, err error) I2CClient {
	m.events.record(EvtReject, dev.address, uint32(dev.req.op), 0)
	m.stats.Rejected++
	if m.inflight == dev {
		m.inflight = nil
	}
	m.handoff = true
	dev.pending = false
	dev.req = request{}
	return dev.client
}

// dispatch issues dev's request on the master, addressed to dev.
func (m *MuxI2C) dispatch(dev *I2CDevice) error {
	req := dev.req
	switch req.op {
	case OpWrite:
		return m.master.Write(dev.address, req.buf, req.wlen)
	case OpRead:
		return m.master.Read(dev.address, req.buf, req.rlen)
	case OpWriteRead:
		return m.master.WriteRead(dev.address, req.buf, req.wlen, req.rlen)
	default:
		panic("i2c: dispatch of idle request")
	}
}
