package sim

import "sync"

// Device is a slave on the simulated bus. Write receives the bytes after the
// address phase; Read fills p. Returning core.ErrDataNak models a slave that
// stops acknowledging.
type Device interface {
	Write(p []byte) error
	Read(p []byte) error
}

// Registers is a 256-byte register-mapped device. The first byte of a write
// selects the register pointer, the rest are stored from there. Reads start at
// the pointer. Both auto-increment.
type Registers struct {
	mu sync.Mutex

	mem [256]byte
	ptr uint8

	// PointerMask is applied to the register byte. Devices that use the
	// top bit as an auto-increment flag (LSM303 accelerometer) set 0x7F.
	PointerMask uint8

	writes int
	reads  int
}

// NewRegisters returns a register device with a full pointer mask.
func NewRegisters() *Registers {
	return &Registers{PointerMask: 0xFF}
}

// Write implements Device.
func (r *Registers) Write(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writes++
	if len(p) == 0 {
		return nil
	}
	r.ptr = p[0] & r.PointerMask
	for _, b := range p[1:] {
		r.mem[r.ptr] = b
		r.ptr++
	}
	return nil
}

// Read implements Device.
func (r *Registers) Read(p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reads++
	for i := range p {
		p[i] = r.mem[r.ptr]
		r.ptr++
	}
	return nil
}

// Set stores vals starting at reg.
func (r *Registers) Set(reg uint8, vals ...byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range vals {
		r.mem[reg] = v
		reg++
	}
}

// Get returns the register value at reg.
func (r *Registers) Get(reg uint8) byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mem[reg]
}

// Counts returns how many write and read phases the device has seen.
func (r *Registers) Counts() (writes, reads int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes, r.reads
}
