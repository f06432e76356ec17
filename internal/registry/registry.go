package registry

import (
	"context"
	"sync"

	"github.com/cenkalti/backoff/v4"
)

// DeviceRegistry answers whether a device id is known to the platform. A
// negative answer means the connection must be rejected before the session
// ever becomes active.
type DeviceRegistry interface {
	Exists(ctx context.Context, deviceID string) (bool, error)
}

// Static is an in-memory registry for development and tests.
type Static struct {
	mu      sync.RWMutex
	devices map[string]struct{}
}

// NewStatic returns a registry preloaded with the given device ids.
func NewStatic(deviceIDs ...string) *Static {
	s := &Static{devices: make(map[string]struct{}, len(deviceIDs))}
	for _, id := range deviceIDs {
		s.devices[id] = struct{}{}
	}
	return s
}

// Add registers a device id.
func (s *Static) Add(deviceID string) {
	s.mu.Lock()
	s.devices[deviceID] = struct{}{}
	s.mu.Unlock()
}

// Exists reports whether the device id was registered.
func (s *Static) Exists(_ context.Context, deviceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.devices[deviceID]
	return ok, nil
}

type retryRegistry struct {
	inner      DeviceRegistry
	maxRetries uint64
}

// WithRetry wraps a registry with bounded exponential backoff for transient
// lookup failures.
func WithRetry(inner DeviceRegistry, maxRetries uint64) DeviceRegistry {
	return &retryRegistry{inner: inner, maxRetries: maxRetries}
}

func (r *retryRegistry) Exists(ctx context.Context, deviceID string) (bool, error) {
	var exists bool
	op := func() error {
		var err error
		exists, err = r.inner.Exists(ctx, deviceID)
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.maxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return false, err
	}
	return exists, nil
}
