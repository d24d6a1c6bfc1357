package xsig

import "time"

// JoinKind identifies the three join namespaces of the XSIG symbol.
// Digital, analog and serial joins are independent: digital join 5 and
// analog join 5 are different signals.
type JoinKind uint8

const (
	// JoinDigital is a boolean join (button press, LED, relay state).
	JoinDigital JoinKind = iota

	// JoinAnalog is an unsigned 16-bit join (dimmer level, setpoint).
	JoinAnalog

	// JoinSerial is a UTF-8 text join (display labels, status text).
	JoinSerial

	// JoinSyncRequest is not a join at all: the control processor sent
	// the sync-all byte asking for a full resend of every outbound join.
	JoinSyncRequest
)

// String returns the lowercase kind name used in topics and logs.
func (k JoinKind) String() string {
	switch k {
	case JoinDigital:
		return "digital"
	case JoinAnalog:
		return "analog"
	case JoinSerial:
		return "serial"
	case JoinSyncRequest:
		return "sync_request"
	default:
		return "unknown"
	}
}

// Join number limits imposed by the wire format.
//
// Digital headers carry 12 bits of join number, analog and serial
// headers carry 10. Joins are 1-based on both sides of the link.
// Untyped so the limits compare cleanly against both uint16 join
// numbers and int configuration values.
const (
	MaxDigitalJoin = 4096
	MaxAnalogJoin  = 1024
	MaxSerialJoin  = 1024
)

// MaxAnalogValue is the largest value an analog join can carry.
const MaxAnalogValue = 65535

// Update is a single decoded join event from the control processor, or
// a sync-all request (Kind == JoinSyncRequest, all other fields zero).
//
// Only the value field matching Kind is meaningful.
type Update struct {
	Kind    JoinKind
	Join    uint16
	Digital bool
	Analog  uint16
	Serial  string

	// Timestamp records when the frame was decoded.
	Timestamp time.Time
}
