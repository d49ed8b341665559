package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-x10/internal/cm11"
	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// Measurement names written by the bridge.
const (
	MeasurementX10Event     = "x10_events"
	MeasurementGatewayStats = "cm11_gateway"
)

// WriteX10Event records one decoded powerline event per addressed unit.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Nothing is written while disconnected.
func (c *Client) WriteX10Event(ev x10.Event) {
	if !c.IsConnected() {
		return
	}
	for _, p := range x10EventPoints(ev) {
		c.writeAPI.WritePoint(p)
	}
}

// WriteGatewayStats records a snapshot of the serial gateway counters.
//
// Parameters:
//   - gatewayID: Tag identifying the bridge instance (e.g., "x10-bridge-01")
//   - stats: Counters from cm11.Gateway.Stats
func (c *Client) WriteGatewayStats(gatewayID string, stats cm11.Stats) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(gatewayStatsPoint(gatewayID, stats, time.Now()))
}

func x10EventPoints(ev x10.Event) []*write.Point {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	points := make([]*write.Point, 0, len(ev.Addresses))
	for _, addr := range ev.Addresses {
		fields := map[string]any{"count": 1}
		if ev.Function.TakesDims() {
			fields["dims"] = ev.Dims
		}
		points = append(points, write.NewPoint(
			MeasurementX10Event,
			map[string]string{
				"address":  addr.String(),
				"house":    string(addr.House),
				"function": ev.Function.String(),
			},
			fields,
			ts,
		))
	}
	return points
}

func gatewayStatsPoint(gatewayID string, s cm11.Stats, ts time.Time) *write.Point {
	connected := 0
	if s.Connected {
		connected = 1
	}

	// #nosec G115 -- counters stay far below int64 range
	return write.NewPoint(
		MeasurementGatewayStats,
		map[string]string{"gateway_id": gatewayID},
		map[string]any{
			"commands_tx":      int64(s.CommandsTx),
			"transmissions_tx": int64(s.TransmissionsTx),
			"checksum_retries": int64(s.ChecksumRetries),
			"events_rx":        int64(s.EventsRx),
			"events_dropped":   int64(s.EventsDropped),
			"uploads_rx":       int64(s.UploadsRx),
			"clock_sets":       int64(s.ClockSets),
			"filter_fails":     int64(s.FilterFails),
			"errors_total":     int64(s.ErrorsTotal),
			"reconnects_total": int64(s.ReconnectsTotal),
			"queue_depth":      s.QueueDepth,
			"queue_dropped":    int64(s.QueueDropped),
			"connected":        connected,
		},
		ts,
	)
}
