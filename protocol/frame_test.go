package protocol

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := AppendI2CRequest(nil, I2CRequest{Op: OpI2CWriteRead, Addr: 0x5C, Write: []byte{0xA8}, ReadLen: 6})

	frame, err := AppendFrame(nil, SeqDest|3, payload)
	if err != nil {
		t.Fatalf("AppendFrame failed: %v", err)
	}
	if int(frame[FramePositionLen]) != len(frame) {
		t.Errorf("Length byte %d does not match frame size %d", frame[0], len(frame))
	}
	if frame[len(frame)-1] != SyncByte {
		t.Errorf("Frame does not end with sync byte")
	}

	var d FrameDecoder
	d.Feed(frame)
	f, ok := d.Next()
	if !ok {
		t.Fatal("Decoder returned no frame")
	}
	if f.Seq != SeqDest|3 {
		t.Errorf("Expected seq 0x13, got 0x%02x", f.Seq)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Errorf("Payload mismatch: expected % x, got % x", payload, f.Payload)
	}
	if _, ok := d.Next(); ok {
		t.Error("Decoder returned a second frame")
	}
}

func TestFrameDecoderPartialInput(t *testing.T) {
	frame, _ := AppendFrame(nil, SeqDest, []byte{1, 2, 3})

	var d FrameDecoder
	for i := 0; i < len(frame)-1; i++ {
		d.Feed(frame[i : i+1])
		if _, ok := d.Next(); ok {
			t.Fatalf("Frame returned after %d of %d bytes", i+1, len(frame))
		}
	}
	d.Feed(frame[len(frame)-1:])
	if _, ok := d.Next(); !ok {
		t.Error("Frame not returned once complete")
	}
}

func TestFrameDecoderResyncAfterCorruption(t *testing.T) {
	bad, _ := AppendFrame(nil, SeqDest|1, []byte{9, 9, 9})
	bad[3] ^= 0xFF // break the CRC
	good, _ := AppendFrame(nil, SeqDest|2, []byte{7})

	var d FrameDecoder
	d.Feed([]byte{0x00, 0x42}) // line noise
	d.Feed(bad)
	d.Feed(good)

	f, ok := d.Next()
	if !ok {
		t.Fatal("Decoder did not recover")
	}
	if f.Seq != SeqDest|2 || !bytes.Equal(f.Payload, []byte{7}) {
		t.Errorf("Expected the good frame, got seq 0x%02x payload % x", f.Seq, f.Payload)
	}
	if d.Dropped() == 0 {
		t.Error("Expected dropped frames to be counted")
	}
}

func TestFrameTooLong(t *testing.T) {
	if _, err := AppendFrame(nil, SeqDest, make([]byte, FramePayloadMax+1)); err != ErrFrameTooLong {
		t.Errorf("Expected ErrFrameTooLong, got %v", err)
	}
	if _, err := AppendFrame(nil, SeqDest, make([]byte, FramePayloadMax)); err != nil {
		t.Errorf("Max payload rejected: %v", err)
	}
}

func TestNextSeqWraps(t *testing.T) {
	if NextSeq(0x1F) != 0x10 {
		t.Errorf("Expected wrap to 0x10, got 0x%02x", NextSeq(0x1F))
	}
	if NextSeq(0x10) != 0x11 {
		t.Errorf("Expected 0x11, got 0x%02x", NextSeq(0x10))
	}
}

func TestI2CRequestResponse(t *testing.T) {
	req := I2CRequest{Op: OpI2CWrite, Addr: 0x1E, Write: []byte{0x00, 0x10}}
	got, err := DecodeI2CRequest(AppendI2CRequest(nil, req))
	if err != nil {
		t.Fatalf("DecodeI2CRequest failed: %v", err)
	}
	if got.Op != req.Op || got.Addr != req.Addr || !bytes.Equal(got.Write, req.Write) || got.ReadLen != 0 {
		t.Errorf("Request mismatch: %+v", got)
	}

	resp := I2CResponse{Status: StatusDataNak, Data: []byte{1, 2}}
	gotResp, err := DecodeI2CResponse(AppendI2CResponse(nil, resp))
	if err != nil {
		t.Fatalf("DecodeI2CResponse failed: %v", err)
	}
	if gotResp.Status != StatusDataNak || !bytes.Equal(gotResp.Data, resp.Data) {
		t.Errorf("Response mismatch: %+v", gotResp)
	}

	if _, err := DecodeI2CRequest([]byte{0x09}); err != ErrUnknownOpcode {
		t.Errorf("Expected ErrUnknownOpcode, got %v", err)
	}
	if _, err := DecodeI2CResponse(AppendVLQUint(nil, OpI2CWrite)); err != ErrUnknownOpcode {
		t.Errorf("Expected ErrUnknownOpcode for request opcode in response, got %v", err)
	}
}

func TestI2CRequestAddressRange(t *testing.T) {
	for _, addr := range []uint32{0x80, 0x105, 0xFFFFFFFF} {
		payload := AppendVLQUint(nil, OpI2CWrite)
		payload = AppendVLQUint(payload, addr)
		payload = AppendVLQBytes(payload, []byte{0x10, 0xAA})
		payload = AppendVLQUint(payload, 0)

		if _, err := DecodeI2CRequest(payload); err != ErrAddressRange {
			t.Errorf("Address 0x%x: expected ErrAddressRange, got %v", addr, err)
		}
	}

	req := I2CRequest{Op: OpI2CRead, Addr: 0x7F, ReadLen: 1}
	if got, err := DecodeI2CRequest(AppendI2CRequest(nil, req)); err != nil || got.Addr != 0x7F {
		t.Errorf("Address 0x7F: got %+v, %v", got, err)
	}
}
