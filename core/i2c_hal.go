package core

import "errors"

// I2CAddress is a 7-bit I2C device address.
type I2CAddress uint8

// MaxI2CAddress is the highest valid 7-bit address.
const MaxI2CAddress I2CAddress = 0x7F

// Synchronous request errors. The caller keeps ownership of the buffer.
var (
	ErrInvalidLength  = errors.New("i2c: length exceeds buffer")
	ErrBusy           = errors.New("i2c: request already outstanding")
	ErrDetached       = errors.New("i2c: device detached from mux")
	ErrInvalidAddress = errors.New("i2c: address is not 7-bit")
	ErrMuxFull        = errors.New("i2c: mux device table full")
)

// Hardware status errors, delivered through CommandComplete.
// A nil error means the full byte count was transferred.
var (
	ErrAddressNak      = errors.New("i2c: address not acknowledged")
	ErrDataNak         = errors.New("i2c: data not acknowledged")
	ErrArbitrationLost = errors.New("i2c: arbitration lost")
	ErrOverrun         = errors.New("i2c: overrun")
	ErrBusError        = errors.New("i2c: bus error")
	ErrTimeout         = errors.New("i2c: timeout")
)

// I2CMasterClient receives completions from an I2CMaster.
type I2CMasterClient interface {
	CommandComplete(buf []byte, err error)
}

// I2CMaster is the physical, non-reentrant bus controller.
//
// Write, Read and WriteRead begin a transaction addressed to addr. A non-nil
// return means the transaction was not started. Otherwise the registered
// client's CommandComplete is called exactly once, possibly before the call
// returns, with the same buffer.
//
// WriteRead transmits buf[:wlen], issues a repeated start and reads rlen bytes
// into buf[:rlen].
//
// Enable and Disable gate the peripheral. The mux calls them with its critical
// section held, so they must not call back into the mux.
type I2CMaster interface {
	SetMasterClient(client I2CMasterClient)
	Enable()
	Disable()
	Write(addr I2CAddress, buf []byte, n int) error
	Read(addr I2CAddress, buf []byte, n int) error
	WriteRead(addr I2CAddress, buf []byte, wlen, rlen int) error
}

// I2CClient is the per-device completion target, normally the driver.
type I2CClient interface {
	CommandComplete(buf []byte, err error)
}

// I2CClientFunc adapts a function to I2CClient.
type I2CClientFunc func(buf []byte, err error)

// CommandComplete calls f(buf, err).
func (f I2CClientFunc) CommandComplete(buf []byte, err error) {
	f(buf, err)
}

// I2COperation is the kind of transaction a device has requested.
type I2COperation uint8

const (
	OpIdle I2COperation = iota
	OpWrite
	OpRead
	OpWriteRead
)

func (op I2COperation) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpWriteRead:
		return "write_read"
	default:
		return "idle"
	}
}

// request is the in-flight descriptor carried in each device record.
type request struct {
	op   I2COperation
	buf  []byte
	wlen int
	rlen int
}

// IsStatusError reports whether err is one of the hardware status errors.
func IsStatusError(err error) bool {
	return errors.Is(err, ErrAddressNak) ||
		errors.Is(err, ErrDataNak) ||
		errors.Is(err, ErrArbitrationLost) ||
		errors.Is(err, ErrOverrun) ||
		errors.Is(err, ErrBusError) ||
		errors.Is(err, ErrTimeout)
}
