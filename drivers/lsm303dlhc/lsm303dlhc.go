// Package lsm303dlhc is an asynchronous driver for the LSM303DLHC
// accelerometer and magnetometer. The two halves of the chip answer at
// different addresses, so the driver holds one virtual device for each and
// runs a single state machine across both: one operation at a time, results
// delivered through a callback.
package lsm303dlhc

import (
	"sync"

	"i2cmux/core"
)

// Default bus addresses
const (
	AccelAddress core.I2CAddress = 0x19
	MagAddress   core.I2CAddress = 0x1E
)

// Setting the top bit of the accelerometer sub-address auto-increments it
const regAutoIncrement = 0x80

// Accelerometer registers
const (
	regCtrl1A  = 0x20
	regCtrl4A  = 0x23
	regOutXLA  = 0x28
	regWhoAmIM = 0x0F
)

// Magnetometer registers
const (
	regCRAM     = 0x00
	regCRBM     = 0x01
	regOutXHM   = 0x03
	regTempOutH = 0x31
)

// presentID is what the identification register reads back
const presentID = 0x3C

// Operation identifies what the driver is doing
type Operation uint8

const (
	OpIdle Operation = iota
	OpIsPresent
	OpSetPowerMode
	OpSetScaleAndResolution
	OpReadAcceleration
	OpSetTemperatureAndMagDataRate
	OpSetRange
	OpReadTemperature
	OpReadMagnetometer
)

var opNames = [...]string{
	OpIdle:                         "idle",
	OpIsPresent:                    "is_present",
	OpSetPowerMode:                 "set_power_mode",
	OpSetScaleAndResolution:        "set_scale_and_resolution",
	OpReadAcceleration:             "read_acceleration",
	OpSetTemperatureAndMagDataRate: "set_temperature_and_mag_data_rate",
	OpSetRange:                     "set_range",
	OpReadTemperature:              "read_temperature",
	OpReadMagnetometer:             "read_magnetometer",
}

func (op Operation) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "unknown"
}

// AccelDataRate selects the accelerometer output data rate
type AccelDataRate uint8

const (
	AccelOff AccelDataRate = iota
	AccelRate1Hz
	AccelRate10Hz
	AccelRate25Hz
	AccelRate50Hz
	AccelRate100Hz
	AccelRate200Hz
	AccelRate400Hz
	AccelRateLowPower1620Hz
	AccelRate1344Hz // 5376 Hz in low power mode
)

// MagDataRate selects the magnetometer output data rate
type MagDataRate uint8

const (
	MagRate0_75Hz MagDataRate = iota
	MagRate1_5Hz
	MagRate3Hz
	MagRate7_5Hz
	MagRate15Hz
	MagRate30Hz
	MagRate75Hz
	MagRate220Hz
)

// Scale is the accelerometer full scale
type Scale uint8

const (
	Scale2G Scale = iota
	Scale4G
	Scale8G
	Scale16G
)

// Range is the magnetometer full scale, in gauss
type Range uint8

const (
	Range1_3G Range = iota + 1
	Range1_9G
	Range2_5G
	Range4_0G
	Range4_7G
	Range5_6G
	Range8_1G
)

// Reading is the outcome of one operation. For set operations and the
// presence check only OK is meaningful; raw axis and temperature values are
// filled by the read operations.
type Reading struct {
	Op      Operation
	OK      bool
	X, Y, Z int16
	Temp    int16
	Err     error
}

// Callback receives each completed operation. It runs on the completion
// path and may start the next operation.
type Callback func(Reading)

// Sensor drives one LSM303DLHC.
type Sensor struct {
	accel *core.I2CDevice
	mag   *core.I2CDevice

	mu       sync.Mutex
	state    Operation
	scale    Scale
	rng      Range
	highRes  bool
	callback Callback

	buf [8]byte
}

// New binds the sensor to its two devices and registers as their client.
func New(accel, mag *core.I2CDevice) *Sensor {
	s := &Sensor{
		accel: accel,
		mag:   mag,
		scale: Scale2G,
		rng:   Range1_3G,
	}
	accel.SetClient(core.I2CClientFunc(s.commandComplete))
	mag.SetClient(core.I2CClientFunc(s.commandComplete))
	return s
}

// SetCallback registers the result callback.
func (s *Sensor) SetCallback(cb Callback) {
	s.mu.Lock()
	s.callback = cb
	s.mu.Unlock()
}

// State returns the operation in progress.
func (s *Sensor) State() Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Scale returns the last accelerometer scale that was set.
func (s *Sensor) Scale() Scale {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scale
}

// Range returns the last magnetometer range that was set.
func (s *Sensor) Range() Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng
}

// IsPresent reads the magnetometer identification register.
func (s *Sensor) IsPresent() error {
	return s.start(OpIsPresent, s.mag, func(b []byte) (int, int) {
		b[0] = regWhoAmIM
		return 1, 1
	})
}

// SetPowerMode enables all three accelerometer axes at rate.
func (s *Sensor) SetPowerMode(rate AccelDataRate, lowPower bool) error {
	return s.start(OpSetPowerMode, s.accel, func(b []byte) (int, int) {
		b[0] = regCtrl1A
		b[1] = uint8(rate)<<4 | 0x07
		if lowPower {
			b[1] |= 1 << 3
		}
		return 2, 0
	})
}

// SetScaleAndResolution sets the accelerometer full scale.
func (s *Sensor) SetScaleAndResolution(scale Scale, highRes bool) error {
	return s.start(OpSetScaleAndResolution, s.accel, func(b []byte) (int, int) {
		s.scale, s.highRes = scale, highRes
		b[0] = regCtrl4A
		b[1] = uint8(scale&0x03) << 4
		if highRes {
			b[1] |= 1 << 3
		}
		return 2, 0
	})
}

// ReadAcceleration reads the raw X, Y and Z accelerometer outputs.
func (s *Sensor) ReadAcceleration() error {
	return s.start(OpReadAcceleration, s.accel, func(b []byte) (int, int) {
		b[0] = regOutXLA | regAutoIncrement
		return 1, 6
	})
}

// SetTemperatureAndMagDataRate enables the temperature sensor and sets the
// magnetometer output rate.
func (s *Sensor) SetTemperatureAndMagDataRate(temperature bool, rate MagDataRate) error {
	return s.start(OpSetTemperatureAndMagDataRate, s.mag, func(b []byte) (int, int) {
		b[0] = regCRAM
		b[1] = uint8(rate&0x07) << 2
		if temperature {
			b[1] |= 1 << 7
		}
		return 2, 0
	})
}

// SetRange sets the magnetometer gain and selects continuous conversion.
func (s *Sensor) SetRange(r Range) error {
	return s.start(OpSetRange, s.mag, func(b []byte) (int, int) {
		s.rng = r
		b[0] = regCRBM
		b[1] = uint8(r) << 5
		b[2] = 0 // MR_REG_M: continuous conversion
		return 3, 0
	})
}

// ReadTemperature reads the raw temperature output.
func (s *Sensor) ReadTemperature() error {
	return s.start(OpReadTemperature, s.mag, func(b []byte) (int, int) {
		b[0] = regTempOutH
		return 1, 2
	})
}

// ReadMagnetometer reads the raw X, Y and Z magnetometer outputs.
func (s *Sensor) ReadMagnetometer() error {
	return s.start(OpReadMagnetometer, s.mag, func(b []byte) (int, int) {
		b[0] = regOutXHM
		return 1, 6
	})
}

// start claims the state machine, fills the buffer and issues the request.
// fill returns the write and read lengths.
func (s *Sensor) start(op Operation, dev *core.I2CDevice, fill func([]byte) (int, int)) error {
	s.mu.Lock()
	if s.state != OpIdle {
		s.mu.Unlock()
		return core.ErrBusy
	}
	s.state = op
	buf := s.buf[:]
	wlen, rlen := fill(buf)
	s.mu.Unlock()

	var err error
	if rlen > 0 {
		err = dev.WriteRead(buf, wlen, rlen)
	} else {
		err = dev.Write(buf, wlen)
	}
	if err != nil {
		s.mu.Lock()
		s.state = OpIdle
		s.mu.Unlock()
	}
	return err
}

func (s *Sensor) commandComplete(buf []byte, err error) {
	s.mu.Lock()
	r := Reading{Op: s.state, OK: err == nil, Err: err}
	if err == nil {
		decode(&r, buf)
	}
	s.state = OpIdle
	cb := s.callback
	s.mu.Unlock()

	if r.Op == OpIdle {
		core.DebugPrintln("[LSM303] completion while idle")
		return
	}
	if cb != nil {
		cb(r)
	}
}

// decode fills r from a successful transfer.
func decode(r *Reading, buf []byte) {
	switch r.Op {
	case OpIsPresent:
		r.OK = buf[0] == presentID
	case OpReadAcceleration:
		// little endian, X Y Z
		r.X = int16(uint16(buf[0]) | uint16(buf[1])<<8)
		r.Y = int16(uint16(buf[2]) | uint16(buf[3])<<8)
		r.Z = int16(uint16(buf[4]) | uint16(buf[5])<<8)
	case OpReadTemperature:
		r.Temp = int16(uint16(buf[1])|uint16(buf[0])<<8) >> 4
	case OpReadMagnetometer:
		// big endian, X Z Y
		r.X = int16(uint16(buf[1]) | uint16(buf[0])<<8)
		r.Z = int16(uint16(buf[3]) | uint16(buf[2])<<8)
		r.Y = int16(uint16(buf[5]) | uint16(buf[4])<<8)
	}
}
