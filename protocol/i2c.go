package protocol

import (
	"errors"

	"i2cmux/core"
)

// Bridge opcodes
const (
	OpI2CWrite     = 1
	OpI2CRead      = 2
	OpI2CWriteRead = 3
	OpI2CResponse  = 0x80
)

// Bridge status codes carried in responses
const (
	StatusOK              = 0
	StatusAddressNak      = 1
	StatusDataNak         = 2
	StatusArbitrationLost = 3
	StatusOverrun         = 4
)

// StatusBusError is sent for failures with no specific status
const StatusBusError = 0xFF

// I2CTransferMax is the largest write or read length carried by one frame
const I2CTransferMax = 48

var (
	ErrUnknownOpcode = errors.New("unknown bridge opcode")
	ErrAddressRange  = errors.New("bridge address out of 7-bit range")
)

// I2CRequest is the payload of a host to adapter frame
type I2CRequest struct {
	Op      uint8
	Addr    uint8
	Write   []byte
	ReadLen uint32
}

// I2CResponse is the payload of an adapter to host frame
type I2CResponse struct {
	Status uint8
	Data   []byte
}

// AppendI2CRequest appends the encoded request payload
func AppendI2CRequest(dst []byte, req I2CRequest) []byte {
	dst = AppendVLQUint(dst, uint32(req.Op))
	dst = AppendVLQUint(dst, uint32(req.Addr))
	dst = AppendVLQBytes(dst, req.Write)
	return AppendVLQUint(dst, req.ReadLen)
}

// DecodeI2CRequest parses a request payload
func DecodeI2CRequest(payload []byte) (I2CRequest, error) {
	var req I2CRequest

	op, err := DecodeVLQUint(&payload)
	if err != nil {
		return req, err
	}
	if op != OpI2CWrite && op != OpI2CRead && op != OpI2CWriteRead {
		return req, ErrUnknownOpcode
	}
	req.Op = uint8(op)

	addr, err := DecodeVLQUint(&payload)
	if err != nil {
		return req, err
	}
	if addr > uint32(core.MaxI2CAddress) {
		return req, ErrAddressRange
	}
	req.Addr = uint8(addr)

	if req.Write, err = DecodeVLQBytes(&payload); err != nil {
		return req, err
	}
	if req.ReadLen, err = DecodeVLQUint(&payload); err != nil {
		return req, err
	}
	return req, nil
}

// AppendI2CResponse appends the encoded response payload
func AppendI2CResponse(dst []byte, resp I2CResponse) []byte {
	dst = AppendVLQUint(dst, OpI2CResponse)
	dst = AppendVLQUint(dst, uint32(resp.Status))
	return AppendVLQBytes(dst, resp.Data)
}

// DecodeI2CResponse parses a response payload
func DecodeI2CResponse(payload []byte) (I2CResponse, error) {
	var resp I2CResponse

	op, err := DecodeVLQUint(&payload)
	if err != nil {
		return resp, err
	}
	if op != OpI2CResponse {
		return resp, ErrUnknownOpcode
	}

	status, err := DecodeVLQUint(&payload)
	if err != nil {
		return resp, err
	}
	resp.Status = uint8(status)

	if resp.Data, err = DecodeVLQBytes(&payload); err != nil {
		return resp, err
	}
	return resp, nil
}

// StatusError maps a response status to a core hardware error
func StatusError(status uint8) error {
	switch status {
	case StatusOK:
		return nil
	case StatusAddressNak:
		return core.ErrAddressNak
	case StatusDataNak:
		return core.ErrDataNak
	case StatusArbitrationLost:
		return core.ErrArbitrationLost
	case StatusOverrun:
		return core.ErrOverrun
	default:
		return core.ErrBusError
	}
}

// Status maps a core hardware error to its response status
func Status(err error) uint8 {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, core.ErrAddressNak):
		return StatusAddressNak
	case errors.Is(err, core.ErrDataNak):
		return StatusDataNak
	case errors.Is(err, core.ErrArbitrationLost):
		return StatusArbitrationLost
	case errors.Is(err, core.ErrOverrun):
		return StatusOverrun
	default:
		return StatusBusError
	}
}
