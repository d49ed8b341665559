package cm11

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-x10/internal/x10"
)

// ScheduleHardwareUpdate queues d for the worker. A queued entry for the
// same device ID is replaced and d moves to the tail. The call never
// blocks; when the queue is full the request is dropped with a warning.
//
// Returns:
//   - error: ErrQueueFull if dropped, ErrClosed after Disconnect
func (g *Gateway) ScheduleHardwareUpdate(d Device) error {
	if g.isClosed() {
		return ErrClosed
	}
	if err := g.queue.Schedule(d); err != nil {
		g.queueDropped.Add(1)
		g.logWarn("command queue full, dropping hardware update", "device_id", d.ID(),
			"capacity", g.queue.capacity)
		return err
	}
	return nil
}

// workerLoop pushes queued device updates to the hardware, one at a time.
func (g *Gateway) workerLoop(ctx context.Context) {
	defer g.wg.Done()

	for {
		d, err := g.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		if !g.update(ctx, d) {
			return
		}
	}
}

// update retries d until it succeeds, fails terminally, or the gateway
// stops. It reports false when the worker should exit.
func (g *Gateway) update(ctx context.Context, d Device) bool {
	for {
		if ctx.Err() != nil || g.isClosed() {
			return false
		}

		if !g.Connect() {
			if !g.sleep(ctx, g.timing.reconnectInterval) {
				return false
			}
			continue
		}

		var err error
		g.callback(func() { err = d.UpdateHardware(g) })
		switch {
		case err == nil:
			return true

		case isInvalidRequest(err):
			g.logWarn("dropping hardware update with invalid request",
				"device_id", d.ID(), "error", err)
			return true

		case errors.Is(err, ErrClosed), g.isClosed():
			return false

		default:
			g.errorsTotal.Add(1)
			g.logError("hardware update failed, will retry", err,
				"device_id", d.ID(),
				"retry_in", g.timing.reconnectInterval.String(),
			)
			g.markDisconnected(nil, err.Error())
			if !g.sleep(ctx, g.timing.reconnectInterval) {
				return false
			}
		}
	}
}

// isInvalidRequest reports errors that no amount of retrying will fix.
func isInvalidRequest(err error) bool {
	return errors.Is(err, x10.ErrInvalidAddress) ||
		errors.Is(err, x10.ErrInvalidHouse) ||
		errors.Is(err, x10.ErrInvalidFunction) ||
		errors.Is(err, x10.ErrInvalidDims)
}
