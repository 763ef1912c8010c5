// Package adapter serves bridge requests against a local mux. It is the
// device side of host/bridge: request frames come in through Feed, each one
// runs on a virtual device bound to the requested address, and the response
// frame is written out when the device completes.
package adapter

import (
	"errors"
	"io"
	"sync"

	"i2cmux/core"
	"i2cmux/protocol"
)

// ErrTableFull is recorded when a request names more addresses than the mux
// has device slots for.
var ErrTableFull = errors.New("adapter: no device slot for address")

// Stats counts adapter activity
type Stats struct {
	Requests  uint32 // well formed requests received
	Responses uint32 // response frames written
	Malformed uint32 // frames whose payload did not decode
	Refused   uint32 // requests answered without reaching the bus
	WriteErrs uint32 // response frames the writer rejected
}

// endpoint is the virtual device serving one address
type endpoint struct {
	a    *Adapter
	dev  *core.I2CDevice
	busy bool // set from request start until its response is written
	seq  uint8
	rlen int
	buf  [2 * protocol.I2CTransferMax]byte // write then read room for WriteRead
}

// CommandComplete implements core.I2CClient.
func (e *endpoint) CommandComplete(buf []byte, err error) {
	a := e.a
	a.mu.Lock()
	defer a.mu.Unlock()

	var data []byte
	if err == nil {
		data = buf[:e.rlen]
	}
	a.respondLocked(e.seq, protocol.Status(err), data)
	e.busy = false
}

// Adapter decodes request frames and answers them.
type Adapter struct {
	mux *core.MuxI2C

	// Feed side, single caller
	decoder   protocol.FrameDecoder
	endpoints map[uint8]*endpoint

	// Response side, reached from Feed and from completions
	mu      sync.Mutex
	out     io.Writer
	payload []byte
	frame   []byte
	stats   Stats
}

// New returns an adapter serving requests on mux and writing responses to out.
func New(mux *core.MuxI2C, out io.Writer) *Adapter {
	return &Adapter{
		mux:       mux,
		out:       out,
		endpoints: make(map[uint8]*endpoint),
		payload:   make([]byte, 0, protocol.FramePayloadMax),
		frame:     make([]byte, 0, protocol.FrameLengthMax),
	}
}

// Stats returns a snapshot of the counters.
func (a *Adapter) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Dropped returns how many corrupt frames were discarded.
func (a *Adapter) Dropped() int {
	return a.decoder.Dropped()
}

// Feed consumes received bytes and starts every complete request.
func (a *Adapter) Feed(p []byte) {
	a.decoder.Feed(p)
	for {
		f, ok := a.decoder.Next()
		if !ok {
			return
		}
		a.serve(f)
	}
}

func (a *Adapter) serve(f protocol.Frame) {
	req, err := protocol.DecodeI2CRequest(f.Payload)
	if err != nil {
		a.count(func(s *Stats) { s.Malformed++ })
		a.respond(f.Seq, protocol.StatusBusError, nil)
		return
	}
	a.count(func(s *Stats) { s.Requests++ })

	if req.Addr > uint8(core.MaxI2CAddress) || len(req.Write) > protocol.I2CTransferMax || req.ReadLen > protocol.I2CTransferMax {
		a.refuse(f.Seq, core.ErrInvalidLength)
		return
	}

	ep, err := a.endpoint(req.Addr)
	if err != nil {
		a.refuse(f.Seq, err)
		return
	}

	a.mu.Lock()
	if ep.busy {
		a.mu.Unlock()
		a.refuse(f.Seq, core.ErrBusy)
		return
	}
	ep.busy = true
	ep.seq = f.Seq
	ep.rlen = int(req.ReadLen)
	if req.Op == protocol.OpI2CWrite {
		ep.rlen = 0
	}
	a.mu.Unlock()

	wlen := copy(ep.buf[:], req.Write)

	switch req.Op {
	case protocol.OpI2CWriteRead:
		err = ep.dev.WriteRead(ep.buf[:], wlen, ep.rlen)
	case protocol.OpI2CRead:
		err = ep.dev.Read(ep.buf[:], ep.rlen)
	default:
		// A zero length write is an address probe
		err = ep.dev.Write(ep.buf[:], wlen)
	}
	if err != nil {
		a.mu.Lock()
		ep.busy = false
		a.mu.Unlock()
		a.refuse(f.Seq, err)
	}
}

// endpoint returns the device for addr, creating it on first use.
func (a *Adapter) endpoint(addr uint8) (*endpoint, error) {
	if ep, ok := a.endpoints[addr]; ok {
		return ep, nil
	}
	dev, err := a.mux.NewDevice(core.I2CAddress(addr))
	if err != nil {
		if errors.Is(err, core.ErrMuxFull) {
			return nil, ErrTableFull
		}
		return nil, err
	}
	ep := &endpoint{a: a, dev: dev}
	dev.SetClient(ep)
	a.endpoints[addr] = ep
	return ep, nil
}

func (a *Adapter) refuse(seq uint8, err error) {
	a.count(func(s *Stats) { s.Refused++ })
	core.DebugPrintln("[ADAPTER] refused: " + err.Error())
	a.respond(seq, protocol.Status(err), nil)
}

func (a *Adapter) respond(seq uint8, status uint8, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.respondLocked(seq, status, data)
}

func (a *Adapter) respondLocked(seq uint8, status uint8, data []byte) {
	a.payload = protocol.AppendI2CResponse(a.payload[:0], protocol.I2CResponse{Status: status, Data: data})
	frame, err := protocol.AppendFrame(a.frame[:0], seq, a.payload)
	if err != nil {
		a.stats.WriteErrs++
		return
	}
	a.frame = frame
	if _, err := a.out.Write(frame); err != nil {
		a.stats.WriteErrs++
		return
	}
	a.stats.Responses++
}

func (a *Adapter) count(f func(*Stats)) {
	a.mu.Lock()
	f(&a.stats)
	a.mu.Unlock()
}
