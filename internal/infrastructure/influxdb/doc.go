// Package influxdb provides optional time-series telemetry for join traffic.
//
// This package manages:
//   - Connection to InfluxDB v2 with token authentication
//   - Non-blocking batched writes of join value changes
//   - Connection event recording (connect, disconnect, preemption)
//   - Health monitoring
//
// Telemetry is entirely optional; the bridge runs without it when
// influxdb.enabled is false in config.yaml, and Connect returns
// ErrDisabled so callers can skip wiring cleanly.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // Run without telemetry
//	}
//
//	client.WriteJoinValue("analog", 12, 32768)
//	client.WriteConnectionEvent("connected", "10.0.0.5:51234")
package influxdb
