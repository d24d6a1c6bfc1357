package xsig

import (
	"fmt"
	"time"
)

// Wire format constants for the XSIG symbol.
//
// Every frame starts with a header byte whose top bits identify the
// join kind. Join numbers are carried 1-based minus one, split across
// the header byte and a second byte whose top bit is always clear.
const (
	// cmdSyncAll is sent by the control processor to request a full
	// resend of every outbound join.
	cmdSyncAll byte = 0xFB

	// cmdRequestUpdate is sent by the bridge to request the current
	// value of every inbound join. Issued once per new session.
	cmdRequestUpdate byte = 0xFD

	// serialTerminator ends a serial frame's UTF-8 payload.
	serialTerminator byte = 0xFF

	// digitalFrameSize and analogFrameSize are the fixed frame lengths.
	digitalFrameSize = 2
	analogFrameSize  = 4

	// maxOutboundSerial caps outbound serial payloads in bytes.
	// The XSIG symbol truncates anything longer, so refuse to send it.
	maxOutboundSerial = 252

	// defaultMaxInboundSerial caps inbound serial payloads when the
	// decoder is constructed with a non-positive limit.
	defaultMaxInboundSerial = 1024
)

// EncodeDigital encodes a digital join frame.
//
// Layout (2 bytes):
//
//	b0: 1 0 !v j11 j10 j9 j8 j7   (value bit is inverted on the wire)
//	b1: 0 j6 j5 j4 j3 j2 j1 j0
//
// where j = join-1.
func EncodeDigital(join uint16, value bool) ([]byte, error) {
	if join < 1 || join > MaxDigitalJoin {
		return nil, fmt.Errorf("%w: digital join %d (valid 1-%d)", ErrInvalidJoin, join, MaxDigitalJoin)
	}

	j := join - 1
	b0 := 0x80 | byte(j>>7)
	if !value {
		b0 |= 0x20
	}
	return []byte{b0, byte(j & 0x7F)}, nil
}

// EncodeAnalog encodes an analog join frame.
//
// Layout (4 bytes):
//
//	b0: 1 1 v15 v14 0 j9 j8 j7
//	b1: 0 j6 j5 j4 j3 j2 j1 j0
//	b2: 0 v13 v12 v11 v10 v9 v8 v7
//	b3: 0 v6 v5 v4 v3 v2 v1 v0
func EncodeAnalog(join uint16, value uint16) ([]byte, error) {
	if join < 1 || join > MaxAnalogJoin {
		return nil, fmt.Errorf("%w: analog join %d (valid 1-%d)", ErrInvalidJoin, join, MaxAnalogJoin)
	}

	j := join - 1
	return []byte{
		0xC0 | byte((value>>10)&0x30) | byte(j>>7),
		byte(j & 0x7F),
		byte((value >> 7) & 0x7F),
		byte(value & 0x7F),
	}, nil
}

// EncodeSerial encodes a serial join frame.
//
// Layout: header (2 bytes) + UTF-8 payload + 0xFF terminator.
//
//	b0: 1 1 0 0 1 j9 j8 j7
//	b1: 0 j6 j5 j4 j3 j2 j1 j0
//
// The payload must not exceed 252 bytes and must not contain the
// terminator byte (impossible in valid UTF-8).
func EncodeSerial(join uint16, payload string) ([]byte, error) {
	if join < 1 || join > MaxSerialJoin {
		return nil, fmt.Errorf("%w: serial join %d (valid 1-%d)", ErrInvalidJoin, join, MaxSerialJoin)
	}
	if len(payload) > maxOutboundSerial {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrSerialTooLong, len(payload), maxOutboundSerial)
	}

	j := join - 1
	buf := make([]byte, 0, 2+len(payload)+1)
	buf = append(buf, 0xC8|byte(j>>7), byte(j&0x7F))
	buf = append(buf, payload...)
	buf = append(buf, serialTerminator)
	return buf, nil
}

// EncodeUpdateRequest encodes the request-full-update command byte.
func EncodeUpdateRequest() []byte {
	return []byte{cmdRequestUpdate}
}

// Decoder turns a byte stream from the control processor into Updates.
//
// It is a push parser: feed it whatever arrived on the socket and it
// reports how many bytes it consumed. Unconsumed bytes belong to an
// unfinished frame and must be offered again with more data appended.
//
// Not safe for concurrent use; the read loop owns it.
type Decoder struct {
	maxSerialLength int

	// discarding is set when an inbound serial payload exceeded the
	// limit: bytes are dropped until the terminator so the rest of
	// the stream stays in sync.
	discarding   bool
	discardJoin  uint16
	discardTotal int

	logger Logger
}

// NewDecoder creates a decoder with the given inbound serial limit.
// A non-positive limit selects the default (1024 bytes).
func NewDecoder(maxSerialLength int) *Decoder {
	if maxSerialLength <= 0 {
		maxSerialLength = defaultMaxInboundSerial
	}
	return &Decoder{maxSerialLength: maxSerialLength}
}

// SetLogger sets an optional logger for resync and oversize warnings.
func (d *Decoder) SetLogger(logger Logger) {
	d.logger = logger
}

// Decode parses as many complete frames as buf holds.
//
// Returns the decoded updates (sync-all requests appear as
// JoinSyncRequest entries, in wire order) and the number of bytes
// consumed. A partial frame at the tail is left unconsumed.
//
// Unrecognised bytes are skipped one at a time to regain framing;
// a contiguous run of skipped bytes is logged once, not per byte.
func (d *Decoder) Decode(buf []byte) ([]Update, int) {
	var updates []Update
	i := 0
	skipped := 0

	flushSkipped := func() {
		if skipped > 0 {
			d.logWarn("skipped unrecognised bytes", "count", skipped)
			skipped = 0
		}
	}

	for i < len(buf) {
		// Finish dropping an oversized serial payload first.
		if d.discarding {
			n, done := d.discard(buf[i:])
			i += n
			if !done {
				flushSkipped()
				return updates, i
			}
			continue
		}

		b0 := buf[i]

		switch {
		case b0 == cmdSyncAll:
			flushSkipped()
			updates = append(updates, Update{Kind: JoinSyncRequest, Timestamp: time.Now()})
			i++

		case b0&0xF8 == 0xC8: // serial header
			if i+1 >= len(buf) {
				flushSkipped()
				return updates, i // partial
			}
			b1 := buf[i+1]
			if b1&0x80 != 0 {
				skipped++
				i++
				continue
			}
			u, n, ok := d.decodeSerial(buf[i:], b0, b1)
			if n == 0 {
				flushSkipped()
				return updates, i // partial
			}
			flushSkipped()
			if ok {
				updates = append(updates, u)
			}
			i += n

		case b0&0xC8 == 0xC0: // analog header
			if i+analogFrameSize > len(buf) {
				flushSkipped()
				return updates, i // partial
			}
			b1, b2, b3 := buf[i+1], buf[i+2], buf[i+3]
			if b1&0x80 != 0 || b2&0x80 != 0 || b3&0x80 != 0 {
				skipped++
				i++
				continue
			}
			flushSkipped()
			updates = append(updates, Update{
				Kind:      JoinAnalog,
				Join:      (uint16(b0&0x07)<<7 | uint16(b1)) + 1,
				Analog:    uint16(b0&0x30)<<10 | uint16(b2)<<7 | uint16(b3),
				Timestamp: time.Now(),
			})
			i += analogFrameSize

		case b0&0xC0 == 0x80: // digital header
			if i+digitalFrameSize > len(buf) {
				flushSkipped()
				return updates, i // partial
			}
			b1 := buf[i+1]
			if b1&0x80 != 0 {
				skipped++
				i++
				continue
			}
			flushSkipped()
			updates = append(updates, Update{
				Kind:      JoinDigital,
				Join:      (uint16(b0&0x1F)<<7 | uint16(b1)) + 1,
				Digital:   b0&0x20 == 0, // value bit is inverted on the wire
				Timestamp: time.Now(),
			})
			i += digitalFrameSize

		default:
			skipped++
			i++
		}
	}

	flushSkipped()
	return updates, i
}

// decodeSerial parses one serial frame starting at frame[0].
//
// Returns the update, bytes consumed, and whether the update is valid.
// consumed == 0 means the frame is incomplete and within the size
// limit; wait for more data. An oversized payload flips the decoder
// into discard mode and consumes everything offered.
func (d *Decoder) decodeSerial(frame []byte, b0, b1 byte) (Update, int, bool) {
	join := (uint16(b0&0x07)<<7 | uint16(b1)) + 1

	for j := 2; j < len(frame); j++ {
		if frame[j] == serialTerminator {
			payload := frame[2:j]
			if len(payload) > d.maxSerialLength {
				d.logWarn("dropped oversized serial frame",
					"join", join,
					"bytes", len(payload),
					"limit", d.maxSerialLength)
				return Update{}, j + 1, false
			}
			return Update{
				Kind:      JoinSerial,
				Join:      join,
				Serial:    string(payload),
				Timestamp: time.Now(),
			}, j + 1, true
		}
	}

	if len(frame)-2 > d.maxSerialLength {
		// No terminator in sight and already over the limit: drop
		// bytes until the terminator shows up.
		d.discarding = true
		d.discardJoin = join
		d.discardTotal = len(frame) - 2
		d.logWarn("dropping oversized serial frame",
			"join", join,
			"limit", d.maxSerialLength)
		return Update{}, len(frame), false
	}

	return Update{}, 0, false // partial
}

// discard consumes bytes up to and including the serial terminator.
// Returns bytes consumed and whether the terminator was found.
func (d *Decoder) discard(buf []byte) (int, bool) {
	for i, b := range buf {
		if b == serialTerminator {
			d.discarding = false
			d.logWarn("oversized serial frame ended",
				"join", d.discardJoin,
				"dropped_bytes", d.discardTotal+i)
			return i + 1, true
		}
	}
	d.discardTotal += len(buf)
	return len(buf), false
}

func (d *Decoder) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}
