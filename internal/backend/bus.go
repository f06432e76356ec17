package backend

import "context"

// Bus is the asynchronous transport between the gateway and backend
// processing. Each device gets two logical topics: {deviceId}/in for frames the
// device produced and {deviceId}/out for frames destined to it. Payloads are
// raw OCPP wire frames.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription delivers published payloads until closed.
type Subscription interface {
	C() <-chan []byte
	Close() error
}

// InTopic names the device→backend channel.
func InTopic(deviceID string) string {
	return deviceID + "/in"
}

// OutTopic names the backend→device channel.
func OutTopic(deviceID string) string {
	return deviceID + "/out"
}

// queueDepth bounds per-subscriber buffering; publishers drop rather than
// block when a subscriber falls this far behind.
const queueDepth = 16
