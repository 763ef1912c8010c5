package core

// Components for I2C.
//
// Bring-up is two-stage: the mux is built over the physical master, then each
// device is built over the mux with its fixed address.
//
//	mux := core.NewI2CMuxComponent(master, 8).Finalize()
//	accel, err := core.NewI2CComponent(mux, 0x5C).Finalize()

// I2CMuxComponent builds a MuxI2C and claims the master's client slot for it.
type I2CMuxComponent struct {
	master     I2CMaster
	maxDevices int
}

// NewI2CMuxComponent prepares a mux over master with room for maxDevices
// devices (DefaultMaxDevices when non-positive).
func NewI2CMuxComponent(master I2CMaster, maxDevices int) *I2CMuxComponent {
	return &I2CMuxComponent{master: master, maxDevices: maxDevices}
}

// Finalize builds the mux and registers it as the master's client.
func (c *I2CMuxComponent) Finalize() *MuxI2C {
	mux := NewMuxI2C(c.master, c.maxDevices)
	c.master.SetMasterClient(mux)
	return mux
}

// I2CComponent builds a virtual device on a mux.
type I2CComponent struct {
	mux     *MuxI2C
	address I2CAddress
	client  I2CClient
}

// NewI2CComponent prepares a device at address on mux.
func NewI2CComponent(mux *MuxI2C, address I2CAddress) *I2CComponent {
	return &I2CComponent{mux: mux, address: address}
}

// WithClient sets the client registered on the device at Finalize.
func (c *I2CComponent) WithClient(client I2CClient) *I2CComponent {
	c.client = client
	return c
}

// Finalize attaches the device to the mux.
func (c *I2CComponent) Finalize() (*I2CDevice, error) {
	dev, err := c.mux.NewDevice(c.address)
	if err != nil {
		return nil, err
	}
	if c.client != nil {
		dev.SetClient(c.client)
	}
	return dev, nil
}
