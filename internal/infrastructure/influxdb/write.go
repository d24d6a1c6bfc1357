package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteJoinValue records a numeric join value change.
//
// Digital joins are recorded as 0/1, analog joins as their raw 16-bit
// value. The write is non-blocking; data is batched and sent
// asynchronously.
//
// Parameters:
//   - kind: Join kind ("digital" or "analog")
//   - join: Join number (1-based)
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteJoinValue("analog", 12, 32768)
//	client.WriteJoinValue("digital", 3, 1)
func (c *Client) WriteJoinValue(kind string, join uint16, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"join_values",
		map[string]string{
			"kind": kind,
			"join": joinTag(join),
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSerialJoin records a serial join payload.
//
// Stored as a string field rather than a numeric value; useful for
// auditing what text the control processor sent or was shown.
func (c *Client) WriteSerialJoin(join uint16, payload string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"join_values",
		map[string]string{
			"kind": "serial",
			"join": joinTag(join),
		},
		map[string]interface{}{
			"text": payload,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnectionEvent records a control processor connect or disconnect.
//
// Parameters:
//   - event: "connected", "disconnected" or "preempted"
//   - remoteAddr: The processor's address
func (c *Client) WriteConnectionEvent(event string, remoteAddr string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"connection_events",
		map[string]string{
			"event": event,
		},
		map[string]interface{}{
			"remote_addr": remoteAddr,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// joinTag formats a join number as a tag value.
// Tags are strings in the line protocol.
func joinTag(join uint16) string {
	return strconv.Itoa(int(join))
}
