package blocking

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"periph.io/x/conn/v3"
	"tinygo.org/x/drivers/adxl345"
	"tinygo.org/x/drivers/lsm303dlhc"

	"i2cmux/core"
	"i2cmux/sim"
)

func newMux(t *testing.T) (*sim.Bus, *core.MuxI2C) {
	t.Helper()
	bus := sim.NewBus(nil)
	return bus, core.NewI2CMuxComponent(bus, 8).Finalize()
}

func newDevice(t *testing.T, mux *core.MuxI2C, addr core.I2CAddress) *core.I2CDevice {
	t.Helper()
	dev, err := core.NewI2CComponent(mux, addr).Finalize()
	if err != nil {
		t.Fatalf("NewI2CComponent(0x%02x) failed: %v", addr, err)
	}
	return dev
}

func TestTxWriteRead(t *testing.T) {
	bus, mux := newMux(t)
	regs := sim.NewRegisters()
	regs.Set(0x10, 0xDE, 0xAD)
	bus.Attach(0x40, regs)

	h := New(newDevice(t, mux, 0x40), 0)

	r := make([]byte, 2)
	if err := h.Tx(0x40, []byte{0x10}, r); err != nil {
		t.Fatalf("Tx failed: %v", err)
	}
	if !bytes.Equal(r, []byte{0xDE, 0xAD}) {
		t.Errorf("Expected de ad, got % x", r)
	}

	if err := h.Tx(0x40, []byte{0x20, 0x01, 0x02}, nil); err != nil {
		t.Fatalf("Tx write failed: %v", err)
	}
	if regs.Get(0x20) != 0x01 || regs.Get(0x21) != 0x02 {
		t.Errorf("Registers not written")
	}

	log := bus.Log()
	if len(log) != 2 || log[0].Op != core.OpWriteRead || log[1].Op != core.OpWrite {
		t.Errorf("Unexpected transaction log %+v", log)
	}

	// Nothing to do
	if err := h.Tx(0x40, nil, nil); err != nil {
		t.Errorf("Empty Tx failed: %v", err)
	}
	if len(bus.Log()) != 2 {
		t.Error("Empty Tx reached the bus")
	}
}

func TestTxErrors(t *testing.T) {
	bus, mux := newMux(t)
	h := New(newDevice(t, mux, 0x40), 4)

	if err := h.Tx(0x41, []byte{0}, nil); !errors.Is(err, ErrAddressMismatch) {
		t.Errorf("Expected ErrAddressMismatch, got %v", err)
	}
	if err := h.Tx(0x40, make([]byte, 5), nil); err != core.ErrInvalidLength {
		t.Errorf("Expected ErrInvalidLength, got %v", err)
	}

	// Nothing attached at 0x40
	if err := h.Tx(0x40, []byte{0}, make([]byte, 1)); err != core.ErrAddressNak {
		t.Errorf("Expected ErrAddressNak, got %v", err)
	}

	bus.Attach(0x40, sim.NewRegisters())
	bus.InjectFault(0x40, core.ErrDataNak)
	if err := h.Tx(0x40, []byte{0}, nil); err != core.ErrDataNak {
		t.Errorf("Expected ErrDataNak, got %v", err)
	}

	bus.RefuseNext(core.ErrArbitrationLost)
	if err := h.Tx(0x40, []byte{0}, nil); err != core.ErrArbitrationLost {
		t.Errorf("Expected refusal to surface, got %v", err)
	}
}

func TestConcurrentHandles(t *testing.T) {
	bus, mux := newMux(t)
	var handles []*I2C
	for i := 0; i < 4; i++ {
		addr := core.I2CAddress(0x10 + i)
		bus.Attach(addr, sim.NewRegisters())
		handles = append(handles, New(newDevice(t, mux, addr), 0))
	}

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(h *I2C) {
			defer wg.Done()
			addr := uint16(h.Device().Address())
			r := make([]byte, 1)
			for n := 0; n < 50; n++ {
				if err := h.Tx(addr, []byte{0x00, byte(n)}, nil); err != nil {
					t.Errorf("write: %v", err)
					return
				}
				if err := h.Tx(addr, []byte{0x00}, r); err != nil {
					t.Errorf("read: %v", err)
					return
				}
				if r[0] != byte(n) {
					t.Errorf("0x%02x: expected %d, got %d", addr, n, r[0])
					return
				}
			}
		}(h)
	}
	wg.Wait()

	if bus.Violations() != 0 {
		t.Errorf("Bus saw %d overlapping transactions", bus.Violations())
	}
	if st := mux.Stats(); st.Completed != 400 {
		t.Errorf("Expected 400 completions, got %d", st.Completed)
	}
}

func TestConn(t *testing.T) {
	bus, mux := newMux(t)
	regs := sim.NewRegisters()
	bus.Attach(0x1E, regs)

	var c conn.Conn = NewConn(newDevice(t, mux, 0x1E), 0)
	if c.Duplex() != conn.Half {
		t.Errorf("Expected half duplex")
	}
	if c.String() != "i2c@0x1e" {
		t.Errorf("Unexpected name %q", c.String())
	}

	if _, err := c.(*Conn).Write([]byte{0x02, 0x03}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	r := make([]byte, 1)
	if err := c.Tx([]byte{0x02}, r); err != nil {
		t.Fatalf("Tx failed: %v", err)
	}
	if r[0] != 0x03 {
		t.Errorf("Expected 0x03, got 0x%02x", r[0])
	}
}

func TestBusRouting(t *testing.T) {
	_, mux := newMux(t)
	b := NewBus(New(newDevice(t, mux, 0x19), 0))
	if err := b.Tx(0x1E, []byte{0}, nil); !errors.Is(err, ErrAddressMismatch) {
		t.Errorf("Expected ErrAddressMismatch, got %v", err)
	}
}

// The accelerometer and magnetometer halves of an LSM303DLHC share the bus
// through the mux while the stock TinyGo driver believes it owns it.
func TestLSM303DLHCDriver(t *testing.T) {
	bus, mux := newMux(t)

	accel := sim.NewRegisters()
	accel.PointerMask = 0x7F
	accel.Set(lsm303dlhc.ACCEL_OUT_X_L_A, 0x00, 0x40, 0x00, 0x00, 0x00, 0xC0)
	mag := sim.NewRegisters()
	mag.PointerMask = 0x7F
	mag.Set(lsm303dlhc.MAG_OUT_X_L_M, 0x2C, 0x01, 0x9C, 0xFF, 0x32, 0x00)
	mag.Set(lsm303dlhc.TEMP_OUT_L_M, 0x80, 0x00)
	bus.Attach(lsm303dlhc.ACCEL_ADDRESS, accel)
	bus.Attach(lsm303dlhc.MAG_ADDRESS, mag)

	drv := lsm303dlhc.New(NewBus(
		New(newDevice(t, mux, lsm303dlhc.ACCEL_ADDRESS), 0),
		New(newDevice(t, mux, lsm303dlhc.MAG_ADDRESS), 0),
	))
	if err := drv.Configure(lsm303dlhc.Configuration{}); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if got := accel.Get(lsm303dlhc.ACCEL_CTRL_REG1_A); got != 0x57 {
		t.Errorf("Expected CTRL_REG1_A 0x57, got 0x%02x", got)
	}
	if got := mag.Get(lsm303dlhc.MAG_MR_REG_M); got != 0x80 {
		t.Errorf("Expected MR_REG_M 0x80, got 0x%02x", got)
	}

	x, y, z, err := drv.ReadAcceleration()
	if err != nil {
		t.Fatalf("ReadAcceleration failed: %v", err)
	}
	if x != 1000000 || y != 0 || z != -1000000 {
		t.Errorf("Unexpected acceleration %d %d %d", x, y, z)
	}

	mx, my, mz, err := drv.ReadMagneticField()
	if err != nil {
		t.Fatalf("ReadMagneticField failed: %v", err)
	}
	if mx != 300 || my != -100 || mz != 50 {
		t.Errorf("Unexpected field %d %d %d", mx, my, mz)
	}

	temp, err := drv.ReadTemperature()
	if err != nil {
		t.Fatalf("ReadTemperature failed: %v", err)
	}
	if temp != 26000 {
		t.Errorf("Expected 26000, got %d", temp)
	}

	if bus.Violations() != 0 {
		t.Errorf("Bus saw %d overlapping transactions", bus.Violations())
	}
}

func TestADXL345Driver(t *testing.T) {
	bus, mux := newMux(t)
	regs := sim.NewRegisters()
	regs.Set(adxl345.REG_DATAX0, 0x10, 0x00, 0xF0, 0xFF, 0xFA, 0x00)
	bus.Attach(adxl345.AddressLow, regs)

	drv := adxl345.New(New(newDevice(t, mux, adxl345.AddressLow), 0))
	drv.Configure()
	if got := regs.Get(adxl345.REG_POWER_CTL); got != 0x08 {
		t.Errorf("Expected POWER_CTL 0x08, got 0x%02x", got)
	}

	x, y, z, err := drv.ReadAcceleration()
	if err != nil {
		t.Fatalf("ReadAcceleration failed: %v", err)
	}
	if x != 64 || y != -64 || z != 1000 {
		t.Errorf("Unexpected acceleration %d %d %d", x, y, z)
	}

	var reads int
	for _, tx := range bus.Log() {
		if tx.Op == core.OpWriteRead && tx.Write[0] == adxl345.REG_DATAX0 {
			reads++
		}
	}
	if reads != 1 {
		t.Errorf("Expected one data read, got %d", reads)
	}
}
