// Package influxdb provides InfluxDB connectivity for X10 bridge telemetry.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched point writing and health monitoring.
//
// # Measurements
//
//   - x10_events: one point per addressed unit for every decoded powerline
//     event, tagged by address, house and function (dims on dim/bright)
//   - cm11_gateway: periodic snapshots of the serial gateway counters
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteX10Event(ev)
//	client.WriteGatewayStats("x10-bridge-01", gw.Stats())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Writes are non-blocking; batch errors are delivered via SetOnError.
package influxdb
