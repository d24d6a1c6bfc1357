package bridge

import (
	"time"

	"github.com/google/uuid"

	"github.com/adamjs83/creston-xsig-hassio/internal/xsig"
)

// MQTT message types published by the sync engine and health reporter.

// ActionMessage invokes a home-automation action.
// Topic: xsig/action/{domain}/{service}
// QoS: 1, Retained: No
type ActionMessage struct {
	// ID uniquely identifies this invocation for correlation in logs.
	ID string `json:"id"`

	// Timestamp is when the action was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Domain and Service name the action, e.g. "light" / "turn_on".
	Domain  string `json:"domain"`
	Service string `json:"service"`

	// Data is the rendered action payload.
	Data map[string]string `json:"data,omitempty"`

	// Join is the join reference that fired the rule, e.g. "d5".
	Join string `json:"join"`
}

// NewActionMessage creates an action invocation with a fresh ID.
func NewActionMessage(rule *FromJoinRule, data map[string]string) ActionMessage {
	return ActionMessage{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Domain:    rule.Domain,
		Service:   rule.Service,
		Data:      data,
		Join:      rule.Ref.String(),
	}
}

// JoinStateMessage mirrors one join's current value.
// Topic: xsig/join/{kind}/{number}
// QoS: 1, Retained: Yes
type JoinStateMessage struct {
	// Kind is "digital", "analog" or "serial".
	Kind string `json:"kind"`

	// Join is the 1-based join number.
	Join uint16 `json:"join"`

	// Value is a bool, number or string depending on Kind.
	Value any `json:"value"`

	// Timestamp is when the value was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`
}

// NewJoinStateMessage builds the mirror message for a join update.
func NewJoinStateMessage(u xsig.Update) JoinStateMessage {
	var value any
	switch u.Kind {
	case xsig.JoinDigital:
		value = u.Digital
	case xsig.JoinAnalog:
		value = u.Analog
	case xsig.JoinSerial:
		value = u.Serial
	}
	return JoinStateMessage{
		Kind:      u.Kind.String(),
		Join:      u.Join,
		Value:     value,
		Timestamp: time.Now().UTC(),
	}
}

// HealthStatus is the bridge's overall health state.
type HealthStatus string

const (
	// HealthStarting indicates the bridge is initialising.
	HealthStarting HealthStatus = "starting"

	// HealthHealthy indicates full operation: broker and processor connected.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates partial operation, see Reason.
	HealthDegraded HealthStatus = "degraded"

	// HealthStopping indicates graceful shutdown in progress.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the periodic bridge health report.
// Topic: xsig/health/bridge
// QoS: 1, Retained: Yes
type HealthMessage struct {
	ID            string       `json:"id"`
	Timestamp     time.Time    `json:"timestamp"`
	Version       string       `json:"version"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	Processor ProcessorHealth `json:"processor"`
	Joins     JoinCounts      `json:"joins"`
}

// ProcessorHealth summarises the control processor link.
type ProcessorHealth struct {
	Connected        bool   `json:"connected"`
	FramesRx         uint64 `json:"frames_rx"`
	FramesTx         uint64 `json:"frames_tx"`
	FramesDropped    uint64 `json:"frames_dropped"`
	SessionsTotal    uint64 `json:"sessions_total"`
	PreemptionsTotal uint64 `json:"preemptions_total"`
}

// JoinCounts reports how many joins of each kind carry values.
type JoinCounts struct {
	Digital int `json:"digital"`
	Analog  int `json:"analog"`
	Serial  int `json:"serial"`
}

// NewHealthMessage builds a health report from current stats.
func NewHealthMessage(version string, status HealthStatus, stats xsig.Stats, joins JoinCounts, startTime time.Time) HealthMessage {
	return HealthMessage{
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		Version:       version,
		Status:        status,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Processor: ProcessorHealth{
			Connected:        stats.Connected,
			FramesRx:         stats.FramesRx,
			FramesTx:         stats.FramesTx,
			FramesDropped:    stats.FramesDropped,
			SessionsTotal:    stats.SessionsTotal,
			PreemptionsTotal: stats.PreemptionsTotal,
		},
		Joins: joins,
	}
}
