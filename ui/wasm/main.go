//go:build js && wasm
// +build js,wasm

package main

import (
	"bytes"
	"encoding/hex"
	"syscall/js"

	"i2cmux/adapter"
	"i2cmux/config"
	"i2cmux/core"
	"i2cmux/protocol"
	"i2cmux/sim"
)

// Simulated adapter answering frames typed into the UI
var (
	simOut     bytes.Buffer
	simAdapter *adapter.Adapter
)

func main() {
	simAdapter = newSimAdapter()

	// Export functions to JavaScript
	js.Global().Set("i2cmuxWasm", js.ValueOf(map[string]interface{}{
		"encodeVLQ":     js.FuncOf(encodeVLQWrapper),
		"decodeVLQ":     js.FuncOf(decodeVLQWrapper),
		"crc16":         js.FuncOf(crc16Wrapper),
		"encodeRequest": js.FuncOf(encodeRequestWrapper),
		"decodeFrames":  js.FuncOf(decodeFramesWrapper),
		"adapterFeed":   js.FuncOf(adapterFeedWrapper),
	}))

	// Keep the program running
	select {}
}

// newSimAdapter serves the default board's register devices
func newSimAdapter() *adapter.Adapter {
	cfg := config.DefaultBoardConfig()
	bus := sim.NewBus(nil)
	for _, dc := range cfg.Devices {
		regs := sim.NewRegisters()
		regs.PointerMask = dc.PointerMask
		presets, _ := dc.Presets()
		for reg, vals := range presets {
			regs.Set(reg, vals...)
		}
		bus.Attach(core.I2CAddress(dc.Address), regs)
	}
	mux := core.NewI2CMuxComponent(bus, cfg.MaxDevices).Finalize()
	return adapter.New(mux, &simOut)
}

// encodeVLQWrapper encodes a signed integer to VLQ format
// Args: value (int32)
// Returns: hex string
func encodeVLQWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf("error: missing value argument")
	}
	return js.ValueOf(hex.EncodeToString(protocol.AppendVLQInt(nil, int32(args[0].Int()))))
}

// decodeVLQWrapper decodes a VLQ from hex string
// Args: hexString (string)
// Returns: {value: number, consumed: number, error: string}
func decodeVLQWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeResult(0, 0, "missing hex string argument")
	}

	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return makeResult(0, 0, "invalid hex string: "+err.Error())
	}

	rest := data
	value, err := protocol.DecodeVLQInt(&rest)
	if err != nil {
		return makeResult(0, 0, err.Error())
	}
	return makeResult(int(value), len(data)-len(rest), "")
}

// crc16Wrapper calculates CRC16 checksum
// Args: hexString (string)
// Returns: number (uint16)
func crc16Wrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return js.ValueOf(0)
	}

	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return js.ValueOf(0)
	}
	return js.ValueOf(int(protocol.CRC16(data)))
}

// encodeRequestWrapper frames one bridge request
// Args: seq, op, addr (numbers), writeHex (string), readLen (number)
// Returns: hex string of the complete frame
func encodeRequestWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 5 {
		return js.ValueOf("error: missing arguments")
	}

	w, err := hex.DecodeString(args[3].String())
	if err != nil {
		return js.ValueOf("error: invalid write hex: " + err.Error())
	}
	payload := protocol.AppendI2CRequest(nil, protocol.I2CRequest{
		Op:      uint8(args[1].Int()),
		Addr:    uint8(args[2].Int()),
		Write:   w,
		ReadLen: uint32(args[4].Int()),
	})
	frame, err := protocol.AppendFrame(nil, uint8(args[0].Int()), payload)
	if err != nil {
		return js.ValueOf("error: " + err.Error())
	}
	return js.ValueOf(hex.EncodeToString(frame))
}

// decodeFramesWrapper decodes every frame in a byte stream
// Args: hexString (string)
// Returns: {frames: [{seq, kind, op, addr, status, data, readLen, error}], dropped}
func decodeFramesWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeFramesResult(nil, 0, "missing hex string argument")
	}

	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return makeFramesResult(nil, 0, "invalid hex string: "+err.Error())
	}
	return describeFrames(data)
}

// adapterFeedWrapper sends request frames to the simulated adapter
// Args: hexString (string)
// Returns: the decoded response frames, as decodeFrames
func adapterFeedWrapper(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return makeFramesResult(nil, 0, "missing hex string argument")
	}

	data, err := hex.DecodeString(args[0].String())
	if err != nil {
		return makeFramesResult(nil, 0, "invalid hex string: "+err.Error())
	}
	simAdapter.Feed(data)
	out := append([]byte(nil), simOut.Bytes()...)
	simOut.Reset()
	return describeFrames(out)
}

func describeFrames(data []byte) js.Value {
	var d protocol.FrameDecoder
	d.Feed(data)

	var frames []interface{}
	for {
		f, ok := d.Next()
		if !ok {
			break
		}
		frames = append(frames, describeFrame(f))
	}
	return makeFramesResult(frames, d.Dropped(), "")
}

func describeFrame(f protocol.Frame) map[string]interface{} {
	result := map[string]interface{}{
		"seq": int(f.Seq & protocol.SeqMask),
	}
	if resp, err := protocol.DecodeI2CResponse(f.Payload); err != protocol.ErrUnknownOpcode {
		result["kind"] = "response"
		if err != nil {
			result["error"] = err.Error()
			return result
		}
		result["status"] = int(resp.Status)
		result["data"] = hex.EncodeToString(resp.Data)
		if err := protocol.StatusError(resp.Status); err != nil {
			result["error"] = err.Error()
		}
		return result
	}

	req, err := protocol.DecodeI2CRequest(f.Payload)
	result["kind"] = "request"
	if err != nil {
		result["error"] = err.Error()
		return result
	}
	result["op"] = int(req.Op)
	result["addr"] = int(req.Addr)
	result["data"] = hex.EncodeToString(req.Write)
	result["readLen"] = int(req.ReadLen)
	return result
}

// Helper to create result objects
func makeResult(value int, consumed int, errMsg string) js.Value {
	result := make(map[string]interface{})
	result["value"] = value
	result["consumed"] = consumed
	if errMsg != "" {
		result["error"] = errMsg
	}
	return js.ValueOf(result)
}

func makeFramesResult(frames []interface{}, dropped int, errMsg string) js.Value {
	result := make(map[string]interface{})
	if frames == nil {
		frames = []interface{}{}
	}
	result["frames"] = frames
	result["dropped"] = dropped
	if errMsg != "" {
		result["error"] = errMsg
	}
	return js.ValueOf(result)
}
