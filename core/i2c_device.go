package core

// I2CDevice is a virtual I2C device: a handle bound to one 7-bit address on a
// MuxI2C. To its driver it looks like exclusive ownership of the bus; requests
// are forwarded to the mux and completions come back through the registered
// I2CClient.
//
// A device holds at most one outstanding request. The buffer passed to Write,
// Read or WriteRead belongs to the mux until CommandComplete hands it back. On
// a synchronous error the buffer was never taken.
type I2CDevice struct {
	mux     *MuxI2C
	address I2CAddress
	slot    uint8

	// guarded by the mux critical section
	attached bool
	pending  bool
	req      request
	client   I2CClient
}

// Address returns the device's 7-bit bus address.
func (d *I2CDevice) Address() I2CAddress {
	return d.address
}

// Mux returns the mux this device is attached to.
func (d *I2CDevice) Mux() *MuxI2C {
	return d.mux
}

func (d *I2CDevice) String() string {
	return "i2c@" + hex8(uint8(d.address))
}

// SetClient registers the completion target. A nil client drops completions.
func (d *I2CDevice) SetClient(client I2CClient) {
	state := d.mux.cs.disableInterrupts()
	d.client = client
	d.mux.cs.restoreInterrupts(state)
}

// Pending reports whether a request from this device has not completed yet.
func (d *I2CDevice) Pending() bool {
	state := d.mux.cs.disableInterrupts()
	defer d.mux.cs.restoreInterrupts(state)
	return d.pending
}

// Attached reports whether the device is still registered with its mux.
func (d *I2CDevice) Attached() bool {
	state := d.mux.cs.disableInterrupts()
	defer d.mux.cs.restoreInterrupts(state)
	return d.attached
}

// Write sends buf[:n] to the device.
func (d *I2CDevice) Write(buf []byte, n int) error {
	if n < 0 || n > len(buf) {
		return ErrInvalidLength
	}
	return d.submit(request{op: OpWrite, buf: buf, wlen: n})
}

// Read fills buf[:n] from the device.
func (d *I2CDevice) Read(buf []byte, n int) error {
	if n < 0 || n > len(buf) {
		return ErrInvalidLength
	}
	return d.submit(request{op: OpRead, buf: buf, rlen: n})
}

// WriteRead sends buf[:wlen], then reads rlen bytes into buf[:rlen] after a
// repeated start. wlen+rlen must fit in buf.
func (d *I2CDevice) WriteRead(buf []byte, wlen, rlen int) error {
	if wlen < 0 || rlen < 0 || wlen+rlen > len(buf) {
		return ErrInvalidLength
	}
	return d.submit(request{op: OpWriteRead, buf: buf, wlen: wlen, rlen: rlen})
}

// Detach unregisters the device from its mux, freeing its table slot.
// It fails with ErrBusy while a request is outstanding.
func (d *I2CDevice) Detach() error {
	m := d.mux
	state := m.cs.disableInterrupts()
	defer m.cs.restoreInterrupts(state)

	if !d.attached {
		return ErrDetached
	}
	if d.pending {
		return ErrBusy
	}
	m.devices[d.slot] = nil
	d.attached = false
	return nil
}

func (d *I2CDevice) submit(req request) error {
	if d.mux == nil {
		panic("i2c: device was not created by a mux")
	}
	return d.mux.enqueue(d, req)
}
