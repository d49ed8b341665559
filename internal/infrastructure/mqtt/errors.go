package mqtt

import "errors"

// Sentinel errors returned by Client; match them with errors.Is.
var (
	// ErrNotConnected means the broker connection is down.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrConnectionFailed wraps a failed or timed-out initial connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps a rejected, oversized or timed-out publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a rejected or timed-out subscription.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned for a QoS above 2.
	ErrInvalidQoS = errors.New("mqtt: QoS must be 0, 1 or 2")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: empty topic")
)
