// Package bridge implements core.I2CMaster on top of a remote I2C adapter
// reached over a serial link. Each transaction is one request frame answered
// by one response frame carrying the same sequence byte.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gopkg.in/tomb.v2"

	"i2cmux/core"
	"i2cmux/protocol"
)

// MaxTransfer is the largest write or read length that fits one frame.
const MaxTransfer = protocol.I2CTransferMax

// DefaultTimeout bounds how long a transaction waits for its response.
const DefaultTimeout = 500 * time.Millisecond

var (
	// ErrInFlight is returned when a transaction is started before the
	// previous one has completed.
	ErrInFlight = errors.New("bridge: transaction already in flight")

	// ErrDisabled is returned when the master has not been enabled.
	ErrDisabled = errors.New("bridge: master disabled")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bridge: link closed")
)

// transfer is the single outstanding transaction
type transfer struct {
	seq   uint8
	buf   []byte
	rlen  int
	timer *time.Timer
}

// Master drives a remote adapter over port.
type Master struct {
	port    io.ReadWriteCloser
	timeout time.Duration

	mu      sync.Mutex
	client  core.I2CMasterClient
	enabled bool
	closed  bool
	seq     uint8
	pending *transfer
	stale   int
	out     []byte

	decoder protocol.FrameDecoder
	t       tomb.Tomb
}

// New starts a master on port. A zero timeout selects DefaultTimeout.
func New(port io.ReadWriteCloser, timeout time.Duration) *Master {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Master{
		port:    port,
		timeout: timeout,
		seq:     protocol.SeqDest,
		out:     make([]byte, 0, protocol.FrameLengthMax),
	}
	m.t.Go(m.readLoop)
	return m
}

// Close stops the read loop and closes the port. An outstanding transaction
// completes with core.ErrBusError.
func (m *Master) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.t.Kill(nil)
	err := m.port.Close()
	if werr := m.t.Wait(); werr != nil && err == nil {
		err = werr
	}
	return err
}

// Stale returns how many responses arrived with no matching transaction.
func (m *Master) Stale() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stale
}

// Dropped returns how many corrupt frames the decoder discarded.
func (m *Master) Dropped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decoder.Dropped()
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
	return m.start(protocol.OpI2CWrite, addr, buf, n, 0)
}

// Read implements core.I2CMaster.
func (m *Master) Read(addr core.I2CAddress, buf []byte, n int) error {
	return m.start(protocol.OpI2CRead, addr, buf, 0, n)
}

// WriteRead implements core.I2CMaster.
func (m *Master) WriteRead(addr core.I2CAddress, buf []byte, wlen, rlen int) error {
	return m.start(protocol.OpI2CWriteRead, addr, buf, wlen, rlen)
}

func (m *Master) start(op uint8, addr core.I2CAddress, buf []byte, wlen, rlen int) error {
	if wlen > MaxTransfer || rlen > MaxTransfer {
		return core.ErrInvalidLength
	}

	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return ErrClosed
	case !m.enabled:
		m.mu.Unlock()
		return ErrDisabled
	case m.pending != nil:
		m.mu.Unlock()
		return ErrInFlight
	}

	m.seq = protocol.NextSeq(m.seq)
	payload := protocol.AppendI2CRequest(nil, protocol.I2CRequest{
		Op:      op,
		Addr:    uint8(addr),
		Write:   buf[:wlen],
		ReadLen: uint32(rlen),
	})
	frame, err := protocol.AppendFrame(m.out[:0], m.seq, payload)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("bridge: encode request: %w", err)
	}
	m.out = frame

	tr := &transfer{seq: m.seq, buf: buf, rlen: rlen}
	m.pending = tr
	tr.timer = time.AfterFunc(m.timeout, func() { m.expire(tr) })

	// The frame is written under the lock so a fast response cannot be
	// matched before the write has been accounted for.
	if _, err := m.port.Write(frame); err != nil {
		tr.timer.Stop()
		m.pending = nil
		m.mu.Unlock()
		return fmt.Errorf("bridge: write request: %w", err)
	}
	m.mu.Unlock()
	return nil
}

// expire completes tr with core.ErrTimeout if it is still the outstanding
// transaction. Sequence numbers repeat, so the match is on tr itself.
func (m *Master) expire(tr *transfer) {
	m.mu.Lock()
	if m.pending != tr {
		m.mu.Unlock()
		return
	}
	m.pending = nil
	client := m.client
	m.mu.Unlock()

	core.DebugPrintln("[BRIDGE] timeout seq=" + fmt.Sprint(tr.seq&protocol.SeqMask))
	if client != nil {
		client.CommandComplete(tr.buf, core.ErrTimeout)
	}
}

func (m *Master) readLoop() error {
	buf := make([]byte, protocol.FrameLengthMax)
	for {
		n, err := m.port.Read(buf)
		if err != nil {
			m.fail(core.ErrBusError)
			select {
			case <-m.t.Dying():
				return nil
			default:
			}
			return fmt.Errorf("bridge: read: %w", err)
		}
		if n > 0 {
			m.receive(buf[:n])
		}

		select {
		case <-m.t.Dying():
			m.fail(core.ErrBusError)
			return nil
		default:
		}
	}
}

// receive feeds bytes to the decoder and completes matched transactions.
func (m *Master) receive(p []byte) {
	m.mu.Lock()
	m.decoder.Feed(p)
	for {
		f, ok := m.decoder.Next()
		if !ok {
			break
		}
		tr := m.pending
		if tr == nil || f.Seq != tr.seq {
			m.stale++
			continue
		}
		tr.timer.Stop()
		m.pending = nil
		err := m.finish(tr, f.Payload)
		client := m.client

		m.mu.Unlock()
		if client != nil {
			client.CommandComplete(tr.buf, err)
		}
		m.mu.Lock()
	}
	m.mu.Unlock()
}

// finish decodes a response payload into tr.buf.
func (m *Master) finish(tr *transfer, payload []byte) error {
	resp, err := protocol.DecodeI2CResponse(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrBusError, err)
	}
	if err := protocol.StatusError(resp.Status); err != nil {
		return err
	}
	if len(resp.Data) != tr.rlen {
		return fmt.Errorf("%w: short read %d of %d", core.ErrBusError, len(resp.Data), tr.rlen)
	}
	copy(tr.buf, resp.Data)
	return nil
}

// fail completes any outstanding transaction with err.
func (m *Master) fail(err error) {
	m.mu.Lock()
	tr := m.pending
	m.pending = nil
	client := m.client
	m.mu.Unlock()

	if tr == nil {
		return
	}
	tr.timer.Stop()
	if client != nil {
		client.CommandComplete(tr.buf, err)
	}
}
