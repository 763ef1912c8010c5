// Package protocol implements the framing used by the serial I2C bridge.
//
// Frames reuse the Klipper message block layout:
//
//	[len][seq][payload...][crc16 hi][crc16 lo][0x7E]
//
// len counts the whole frame, seq carries 0x10 in its high bits and a 4-bit
// counter in its low bits, and the CRC covers len, seq and payload.
package protocol

// Frame layout constants
const (
	FrameHeaderSize  = 2
	FrameTrailerSize = 3
	FrameLengthMin   = FrameHeaderSize + FrameTrailerSize
	FrameLengthMax   = 64
	FramePayloadMax  = FrameLengthMax - FrameLengthMin

	FramePositionLen = 0
	FramePositionSeq = 1
	FrameTrailerCRC  = 3
	FrameTrailerSync = 1

	SyncByte = 0x7E

	// Sequence byte masks
	SeqDest = 0x10
	SeqMask = 0x0F
)

// NextSeq advances a sequence byte, wrapping within 0x10-0x1F.
func NextSeq(seq uint8) uint8 {
	return ((seq + 1) & SeqMask) | SeqDest
}
