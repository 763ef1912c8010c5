package periphbus

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"i2cmux/core"
)

// fakeBus is an i2c.Bus backed by per-address byte slices
type fakeBus struct {
	mu   sync.Mutex
	regs map[uint16][]byte
	gate chan struct{} // when set, Tx blocks until it receives
}

func (b *fakeBus) String() string { return "fake-i2c" }

func (b *fakeBus) SetSpeed(physic.Frequency) error { return nil }

func (b *fakeBus) Tx(addr uint16, w, r []byte) error {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	mem, ok := b.regs[addr]
	if !ok {
		return errors.New("remote I/O error")
	}
	reg := 0
	if len(w) > 0 {
		reg = int(w[0])
		copy(mem[reg:], w[1:])
	}
	copy(r, mem[reg:])
	return nil
}

func newFake() *fakeBus {
	return &fakeBus{regs: map[uint16][]byte{0x5C: make([]byte, 64)}}
}

type result struct {
	buf []byte
	err error
}

type completions chan result

func (c completions) CommandComplete(buf []byte, err error) { c <- result{buf, err} }

func (c completions) wait(t *testing.T) result {
	t.Helper()
	select {
	case r := <-c:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for completion")
		return result{}
	}
}

func TestPeriphWriteRead(t *testing.T) {
	bus := newFake()
	copy(bus.regs[0x5C][0x28:], []byte{6, 5, 4, 3, 2, 1})

	m := New(bus)
	defer m.Close()
	done := make(completions, 1)
	m.SetMasterClient(done)
	m.Enable()

	buf := []byte{0x28, 0, 0, 0, 0, 0}
	if err := m.WriteRead(0x5C, buf, 1, 6); err != nil {
		t.Fatalf("WriteRead failed: %v", err)
	}
	res := done.wait(t)
	if res.err != nil {
		t.Fatalf("Expected success, got %v", res.err)
	}
	if !bytes.Equal(res.buf, []byte{6, 5, 4, 3, 2, 1}) {
		t.Errorf("Unexpected data % x", res.buf)
	}

	if err := m.Write(0x5C, []byte{0x10, 0xAA}, 2); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	done.wait(t)
	if bus.regs[0x5C][0x10] != 0xAA {
		t.Errorf("Register not written")
	}
}

func TestPeriphPlaybackSequence(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x1E, W: []byte{0x02, 0x00}},
			{Addr: 0x1E, W: []byte{0x03}, R: []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}},
			{Addr: 0x1E, R: []byte{0x48}},
		},
		DontPanic: true,
	}
	m := New(bus)
	defer m.Close()
	done := make(completions, 1)
	m.SetMasterClient(done)
	m.Enable()

	buf := make([]byte, 6)
	buf[0], buf[1] = 0x02, 0x00
	if err := m.Write(0x1E, buf, 2); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if res := done.wait(t); res.err != nil {
		t.Fatalf("Write completed with %v", res.err)
	}

	buf[0] = 0x03
	if err := m.WriteRead(0x1E, buf, 1, 6); err != nil {
		t.Fatalf("WriteRead failed: %v", err)
	}
	if res := done.wait(t); res.err != nil || !bytes.Equal(res.buf, []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("WriteRead completed with % x, %v", res.buf, res.err)
	}

	if err := m.Read(0x1E, buf, 1); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if res := done.wait(t); res.err != nil || res.buf[0] != 0x48 {
		t.Fatalf("Read completed with % x, %v", res.buf, res.err)
	}

	if err := bus.Close(); err != nil {
		t.Errorf("Playback not drained: %v", err)
	}
}

func TestPeriphErrorWrapsBusError(t *testing.T) {
	m := New(newFake())
	defer m.Close()
	done := make(completions, 1)
	m.SetMasterClient(done)
	m.Enable()

	if err := m.Read(0x33, make([]byte, 2), 2); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if res := done.wait(t); !errors.Is(res.err, core.ErrBusError) {
		t.Errorf("Expected ErrBusError, got %v", res.err)
	}
}

func TestPeriphStartGuards(t *testing.T) {
	bus := newFake()
	bus.gate = make(chan struct{})
	m := New(bus)
	done := make(completions, 1)
	m.SetMasterClient(done)

	if err := m.Write(0x5C, []byte{0}, 1); err != ErrDisabled {
		t.Errorf("Expected ErrDisabled, got %v", err)
	}
	m.Enable()
	if err := m.Write(0x5C, []byte{0}, 1); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := m.Write(0x5C, []byte{0}, 1); err != ErrInFlight {
		t.Errorf("Expected ErrInFlight, got %v", err)
	}
	bus.gate <- struct{}{}
	done.wait(t)

	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := m.Write(0x5C, []byte{0}, 1); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestPeriphCloseCompletesQueuedJob(t *testing.T) {
	// A worker that exits without taking the queued job
	m := &Master{bus: newFake(), jobs: make(chan job, 1)}
	m.t.Go(func() error {
		<-m.t.Dying()
		return nil
	})
	done := make(completions, 1)
	m.SetMasterClient(done)
	m.Enable()

	if err := m.Write(0x5C, []byte{0, 1}, 2); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	res := done.wait(t)
	if !errors.Is(res.err, ErrClosed) || !errors.Is(res.err, core.ErrBusError) {
		t.Errorf("Expected closed bus error, got %v", res.err)
	}
	if err := m.Write(0x5C, []byte{0}, 1); err != ErrClosed {
		t.Errorf("Expected ErrClosed after Close, got %v", err)
	}
}

func TestPeriphUnderMux(t *testing.T) {
	bus := newFake()
	bus.regs[0x1E] = make([]byte, 64)
	m := New(bus)
	defer m.Close()

	mux := core.NewI2CMuxComponent(m, 4).Finalize()
	a, _ := core.NewI2CComponent(mux, 0x5C).Finalize()
	g, _ := core.NewI2CComponent(mux, 0x1E).Finalize()

	var wg sync.WaitGroup
	wg.Add(20)
	next := func(dev *core.I2CDevice, reg byte) core.I2CClient {
		n := 0
		return core.I2CClientFunc(func(buf []byte, err error) {
			if err != nil {
				t.Errorf("%s: %v", dev, err)
			}
			wg.Done()
			n++
			if n < 10 {
				buf[0], buf[1] = reg, byte(n)
				if err := dev.Write(buf, 2); err != nil {
					t.Errorf("%s reissue: %v", dev, err)
				}
			}
		})
	}
	a.SetClient(next(a, 0x20))
	g.SetClient(next(g, 0x02))

	if err := a.Write([]byte{0x20, 0}, 2); err != nil {
		t.Fatalf("accel Write failed: %v", err)
	}
	if err := g.Write([]byte{0x02, 0}, 2); err != nil {
		t.Fatalf("mag Write failed: %v", err)
	}

	ch := make(chan struct{})
	go func() { wg.Wait(); close(ch) }()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for transactions")
	}

	if got := bus.regs[0x5C][0x20]; got != 9 {
		t.Errorf("Expected accel reg 0x20 = 9, got %d", got)
	}
	if got := bus.regs[0x1E][0x02]; got != 9 {
		t.Errorf("Expected mag reg 0x02 = 9, got %d", got)
	}
}
