package protocol

import "errors"

var (
	ErrFrameTooLong = errors.New("frame payload too long")
)

// Frame is one decoded message block
type Frame struct {
	Seq     uint8
	Payload []byte
}

// AppendFrame appends a complete frame carrying payload with sequence seq
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > FramePayloadMax {
		return dst, ErrFrameTooLong
	}

	start := len(dst)
	dst = append(dst, uint8(len(payload)+FrameLengthMin), seq)
	dst = append(dst, payload...)

	crc := CRC16(dst[start:])
	return append(dst, uint8(crc>>8), uint8(crc), SyncByte), nil
}

// FrameDecoder reassembles frames from a byte stream. Corrupt input drops the
// decoder out of sync until the next sync byte.
type FrameDecoder struct {
	buf      []byte
	unsynced bool
	dropped  int
}

// Feed appends received bytes
func (d *FrameDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Dropped returns how many frames were discarded as corrupt
func (d *FrameDecoder) Dropped() int {
	return d.dropped
}

// Next returns the next complete frame. The payload is only valid until the
// next call to Feed.
func (d *FrameDecoder) Next() (Frame, bool) {
	for len(d.buf) > 0 {
		if d.unsynced {
			i := indexSync(d.buf)
			if i < 0 {
				d.buf = d.buf[:0]
				return Frame{}, false
			}
			d.buf = d.buf[i+1:]
			d.unsynced = false
			continue
		}

		// Skip leading sync bytes
		if d.buf[0] == SyncByte {
			d.buf = d.buf[1:]
			continue
		}

		msgLen := int(d.buf[FramePositionLen])
		if msgLen < FrameLengthMin || msgLen > FrameLengthMax {
			d.desync()
			continue
		}
		if len(d.buf) < FrameHeaderSize {
			break
		}
		seq := d.buf[FramePositionSeq]
		if seq&^SeqMask != SeqDest {
			d.desync()
			continue
		}

		// Wait for full message
		if len(d.buf) < msgLen {
			break
		}

		if d.buf[msgLen-FrameTrailerSync] != SyncByte {
			d.desync()
			continue
		}
		frameCRC := uint16(d.buf[msgLen-FrameTrailerCRC])<<8 | uint16(d.buf[msgLen-FrameTrailerCRC+1])
		if frameCRC != CRC16(d.buf[:msgLen-FrameTrailerSize]) {
			d.desync()
			continue
		}

		f := Frame{
			Seq:     seq,
			Payload: d.buf[FrameHeaderSize : msgLen-FrameTrailerSize],
		}
		d.buf = d.buf[msgLen:]
		return f, true
	}

	return Frame{}, false
}

func (d *FrameDecoder) desync() {
	d.unsynced = true
	d.dropped++
	d.buf = d.buf[1:]
}

func indexSync(p []byte) int {
	for i, b := range p {
		if b == SyncByte {
			return i
		}
	}
	return -1
}
