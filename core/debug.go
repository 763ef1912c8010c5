package core

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// BusEvent captures one mux transition for post-mortem analysis
type BusEvent struct {
	EventType uint8      // Event type code
	Address   I2CAddress // Device address involved
	Seq       uint32     // Mux event sequence number
	Value1    uint32     // Context-dependent value
	Value2    uint32     // Context-dependent value
}

// Event type codes
const (
	EvtEnqueue  = 1 // device issued a request
	EvtQueued   = 2 // request parked behind the in-flight one (v1 = queue depth)
	EvtDispatch = 3 // request handed to the master (v1 = op, v2 = byte count)
	EvtComplete = 4 // master completion routed (v1 = 1 on error)
	EvtDrop     = 5 // completion for a device without client
	EvtReject   = 6 // master refused to start (v1 = op)
)

const (
	EventRingSize = 32 // Keep last 32 events
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, stderr etc.
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// eventRing is a fixed ring of the most recent bus events. Recording never
// allocates, so it is safe on the completion path.
type eventRing struct {
	events [EventRingSize]BusEvent
	head   uint8
	seq    uint32
}

func (r *eventRing) record(eventType uint8, addr I2CAddress, value1, value2 uint32) {
	r.seq++
	r.events[r.head] = BusEvent{
		EventType: eventType,
		Address:   addr,
		Seq:       r.seq,
		Value1:    value1,
		Value2:    value2,
	}
	r.head = (r.head + 1) % EventRingSize
}

// snapshot returns the recorded events from oldest to newest
func (r *eventRing) snapshot() []BusEvent {
	out := make([]BusEvent, 0, EventRingSize)
	for i := uint8(0); i < EventRingSize; i++ {
		evt := r.events[(r.head+i)%EventRingSize]
		if evt.EventType == 0 {
			continue // Empty slot
		}
		out = append(out, evt)
	}
	return out
}

func (r *eventRing) clear() {
	for i := range r.events {
		r.events[i] = BusEvent{}
	}
	r.head = 0
}

// EventName returns the short name used in dumps
func EventName(eventType uint8) string {
	switch eventType {
	case EvtEnqueue:
		return "ENQUEUE"
	case EvtQueued:
		return "QUEUED"
	case EvtDispatch:
		return "DISPATCH"
	case EvtComplete:
		return "COMPLETE"
	case EvtDrop:
		return "DROP"
	case EvtReject:
		return "REJECT!"
	default:
		return "UNKNOWN"
	}
}

// FormatBusEvent renders an event in the dump format
func FormatBusEvent(evt BusEvent) string {
	return "[I2C] " + EventName(evt.EventType) +
		" seq=" + utoa(evt.Seq) +
		" addr=" + hex8(uint8(evt.Address)) +
		" v1=" + utoa(evt.Value1) +
		" v2=" + utoa(evt.Value2)
}
